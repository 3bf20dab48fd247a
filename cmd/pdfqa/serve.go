package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/pdfqa/internal/api"
	"github.com/kalambet/pdfqa/internal/config"
)

func newServeCmd() *cobra.Command {
	var withMCP bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := remoteApp(0)
			if err != nil {
				return err
			}
			defer a.close()
			return runServer(cmd.Context(), a, withMCP)
		},
	}
	cmd.Flags().BoolVar(&withMCP, "mcp", true, "also serve MCP over stdin/stdout")
	return cmd
}

// ensureToken returns the configured server token, generating and storing
// one on first use.
func ensureToken(cfg *config.Config) error {
	if cfg.Server.Token != "" {
		return nil
	}
	cfg.Server.Token = uuid.NewString()
	if err := config.StoreServerToken(cfg.Server.Token); err != nil {
		return fmt.Errorf("storing server token: %w", err)
	}
	printSuccess("Generated API token: %s", cfg.Server.Token)
	return nil
}

func runServer(ctx context.Context, a *app, withMCP bool) error {
	if err := ensureToken(&a.cfg); err != nil {
		return err
	}

	svc := api.NewSerialized(a.orch)
	var history api.History
	if a.store != nil {
		history = a.store
	}

	handler := api.NewHandler(api.Deps{
		Service: svc,
		Index:   a.registry,
		History: history,
		Metrics: a.metrics,
		Token:   a.cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Service: svc,
			Index:   a.registry,
			History: history,
			Version: version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("MCP stdio server error", "error", err)
			}
		}()
		a.logger.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("pdfqa listening", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
