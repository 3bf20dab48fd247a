package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kalambet/pdfqa/internal/query"
	"github.com/kalambet/pdfqa/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var reuse string

	cmd := &cobra.Command{
		Use:   "watch [directory]",
		Short: "Keep the vector store in sync while PDFs change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := remoteApp(0)
			if err != nil {
				return err
			}
			defer a.close()

			dir := a.cfg.Corpus.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			return runWatch(cmd.Context(), a, dir, reuse)
		},
	}
	cmd.Flags().StringVar(&reuse, "reuse", "", "vector store ID to try before the cached one")
	return cmd
}

func runWatch(ctx context.Context, a *app, dir, reuse string) error {
	sync := func(ctx context.Context) error {
		res, err := a.orch.Sync(ctx, query.SyncRequest{Directory: dir, Reuse: reuse, Source: "watch"})
		if err != nil {
			return err
		}
		if res.Attached > 0 {
			printSuccess("Attached %d documents to %s", res.Attached, res.IndexID)
		}
		return nil
	}

	printStep("Initial sync of %s", dir)
	if err := sync(ctx); err != nil {
		return err
	}

	w := watch.New(watch.Config{
		Dir:      dir,
		Debounce: a.cfg.Watch.Debounce,
		Match:    a.reader.Match,
		Logger:   a.logger,
	}, func(ctx context.Context, changed []string) error {
		printStep("Changed: %v", changed)
		return sync(ctx)
	})

	printStep("Watching %s (Ctrl-C to stop)", dir)
	err := w.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
