package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agenthands/droneguard/internal/server"
	"github.com/agenthands/droneguard/internal/watch"
)

var watchNoAnalyze bool

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest and analyse photos dropped into a folder",
		Long: `Watch a folder for new photos. Each image is added to the configured store
and, unless --no-analyze is given, analysed as soon as the file settles.
Press Ctrl+C to stop.

Examples:
  droneguard watch ./incoming
  droneguard watch --no-analyze /mnt/sdcard/DCIM`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().BoolVar(&watchNoAnalyze, "no-analyze", false, "only ingest, leave items pending")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	w, err := watch.New(args[0], srv.Inspector, watch.Options{
		Settle:      cfg.Watch.Settle.Duration,
		AutoAnalyze: cfg.Watch.AutoAnalyze && !watchNoAnalyze,
	})
	if err != nil {
		return err
	}
	if err := w.Run(ctx); err != nil {
		return err
	}

	stats, err := srv.Inspector.Stats(context.Background())
	if err != nil {
		slog.Warn("failed to read stats", "error", err)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d photos, %d analysed, %d errors, %d anomalies (%d critical)\n",
		stats.Total, stats.Processed, stats.Errors, stats.Anomalies, stats.Critical)
	return nil
}
