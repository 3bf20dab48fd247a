package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/pdfqa/internal/config"
	"github.com/kalambet/pdfqa/internal/corpus"
	"github.com/kalambet/pdfqa/internal/query"
	"github.com/kalambet/pdfqa/internal/registry"
	"github.com/kalambet/pdfqa/internal/storage"
)

const noAnswerText = "No answer found."

// loadConfig is replaced in tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var reuse string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "pdfqa [flags] <prompt> [directory]",
		Short: "Ask questions about a folder of PDF documents",
		Long: `Ask questions about a folder of PDF documents.

The documents are uploaded to an OpenAI vector store (created on first use
and cached in .pdfqa/vector_store.json), then a file_search assistant answers
the prompt from them.

Examples:
  pdfqa "What does the warranty cover?"
  pdfqa "Summarize chapter 2" ./manuals
  pdfqa --reuse vs_abc123 "Who signed the contract?" ./contracts`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("no-color"); v {
				noColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			prompt := args[0]
			var dir string
			if len(args) == 2 {
				dir = args[1]
			}
			return runAsk(cmd, prompt, dir, reuse, timeout)
		},
	}
	root.PersistentFlags().Bool("no-color", false, "disable colored output")
	root.Flags().StringVar(&reuse, "reuse", "", "vector store ID to try before the cached one")
	root.Flags().DurationVar(&timeout, "timeout", 0, "maximum wait for remote jobs (default from poll.timeout)")

	root.AddCommand(
		newSyncCmd(),
		newDocsCmd(),
		newIndexCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newWatchCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

// remoteApp loads config, requires the API key and builds the app.
func remoteApp(timeout time.Duration) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	if timeout > 0 {
		cfg.Poll.Timeout = timeout
	}
	return newApp(cfg), nil
}

// --- ask ---

func runAsk(cmd *cobra.Command, prompt, dir, reuse string, timeout time.Duration) error {
	a, err := remoteApp(timeout)
	if err != nil {
		return err
	}
	defer a.close()

	ans, err := a.orch.Answer(cmd.Context(), query.Request{Prompt: prompt, Directory: dir, Reuse: reuse})
	if ans.Created {
		printStep("Created vector store %s with %d documents", ans.IndexID, ans.Attached)
	} else if ans.Attached > 0 {
		printStep("Attached %d new documents to %s", ans.Attached, ans.IndexID)
	}
	if errors.Is(err, query.ErrNoAnswer) {
		fmt.Fprintln(cmd.OutOrStdout(), noAnswerText)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
	return nil
}

// --- sync ---

func newSyncCmd() *cobra.Command {
	var reuse string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync [directory]",
		Short: "Upload documents missing from the vector store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := remoteApp(timeout)
			if err != nil {
				return err
			}
			defer a.close()

			var dir string
			if len(args) == 1 {
				dir = args[0]
			}
			res, err := a.orch.Sync(cmd.Context(), query.SyncRequest{Directory: dir, Reuse: reuse, Source: "cli"})
			if err != nil {
				return err
			}

			if res.Created {
				printSuccess("Created vector store with %d of %d documents", res.Attached, res.Documents)
			} else {
				printSuccess("Vector store up to date: %d new of %d documents", res.Attached, res.Documents)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.IndexID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reuse, "reuse", "", "vector store ID to try before the cached one")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "maximum wait for the upload batch (default from poll.timeout)")
	return cmd
}

// --- docs ---

func newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs [directory]",
		Short: "List the documents that would be indexed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir := cfg.Corpus.Dir
			if len(args) == 1 {
				dir = args[0]
			}

			docs, err := corpus.NewReader(cfg.Corpus.MaxDocuments).List(dir)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents found.")
				return nil
			}
			return writeDocs(cmd.OutOrStdout(), docs)
		},
	}
}

func writeDocs(w io.Writer, docs []corpus.Document) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tPAGES")
	for _, d := range docs {
		pages := "?"
		if info, err := corpus.Inspect(d); err == nil {
			pages = fmt.Sprintf("%d", info.Pages)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, formatSize(d.Size), pages)
	}
	return tw.Flush()
}

// --- index ---

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Show or forget the cached vector store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the cached vector store ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := registry.New(nil, nil, cfg.Index.CacheFile, nil)
			id := reg.Cached()
			if id == "" {
				printWarning("No cached vector store (%s)", reg.CachePath())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forget",
		Short: "Delete the cache file so the next run creates a new store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := cfg.Index.CacheFile
			if path == "" {
				path = registry.DefaultCacheFile
			}
			if err := registry.ClearCache(path); err != nil {
				return err
			}
			printSuccess("Forgot cached vector store")
			return nil
		},
	})
	return cmd
}

// --- history ---

func openHistory() (*storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return store, nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past questions and syncs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			interactions, err := store.GetRecentInteractions(limit)
			if err != nil {
				return err
			}
			if len(interactions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No interactions found.")
				return nil
			}
			for _, ix := range interactions {
				prompt := ix.Prompt
				if r := []rune(prompt); len(r) > 80 {
					prompt = string(r[:80]) + "..."
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %-9s  %s\n",
					render(stepStyle, ix.ID[:8]),
					render(dimStyle, ix.CreatedAt.Local().Format(time.DateTime)),
					ix.Status,
					prompt,
				)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of interactions to list")

	var output string
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single interaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			ix, err := store.GetInteraction(args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("interaction %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return encode(cmd.OutOrStdout(), output, ix)
		},
	}
	show.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")

	var syncLimit int
	syncs := &cobra.Command{
		Use:   "syncs",
		Short: "List recent standalone syncs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.GetRecentSyncRuns(syncLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No syncs found.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tSOURCE\tVECTOR STORE\tATTACHED\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n",
					r.CreatedAt.Local().Format(time.DateTime), r.Source, r.VectorStoreID, r.Attached, r.Created)
			}
			return tw.Flush()
		},
	}
	syncs.Flags().IntVar(&syncLimit, "limit", 20, "maximum number of syncs to list")

	cmd.AddCommand(list, show, syncs)
	return cmd
}

func encode(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

// --- config ---

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", config.ConfigFile())
			for _, k := range config.ShowAll(cfg) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n",
					render(labelStyle, k.Key), k.Value, render(dimStyle, "$"+k.EnvVar))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value.\n\nValid keys: " + strings.Join(config.ValidKeys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			if err := config.SetKey(key, value); err != nil {
				return err
			}

			printSuccess("Set %s = %s", key, value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value so its default applies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.UnsetKey(args[0]); err != nil {
				return err
			}
			printSuccess("Unset %s", args[0])
			return nil
		},
	})
	return cmd
}

// --- version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pdfqa version %s\n", version)
		},
	}
}
