package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenthands/droneguard/internal/server"
	"github.com/agenthands/droneguard/internal/watch"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr     string
	serveWatchDir string
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inspection dashboard",
		Long: `Start the HTTP dashboard and API. Uploaded photos are analysed on demand
or in a sequential batch; progress is streamed to the browser.

Examples:
  droneguard serve
  droneguard serve --addr :9000 --watch ./incoming`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr and PORT)")
	cmd.Flags().StringVar(&serveWatchDir, "watch", "", "also ingest photos dropped into this folder")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveWatchDir != "" {
		cfg.Watch.Dir = serveWatchDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	srv.ShutdownTimeout = shutdownTimeout
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Warn("failed to close server resources", "error", err)
		}
	}()

	if cfg.Watch.Dir != "" {
		w, err := watch.New(cfg.Watch.Dir, srv.Inspector, watch.Options{
			Settle:      cfg.Watch.Settle.Duration,
			AutoAnalyze: cfg.Watch.AutoAnalyze,
		})
		if err != nil {
			return err
		}
		srv.Go(func(ctx context.Context) {
			if err := w.Run(ctx); err != nil {
				slog.Error("folder watcher stopped", "error", err)
			}
		})
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
