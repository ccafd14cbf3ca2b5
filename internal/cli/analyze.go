package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agenthands/droneguard/internal/core"
	"github.com/agenthands/droneguard/internal/core/model"
	"github.com/agenthands/droneguard/internal/core/report"
	"github.com/agenthands/droneguard/internal/server"
)

var (
	analyzeOut   string
	analyzeTitle string
)

func newAnalyzeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <files...>",
		Short: "Analyse photos once and write the HTML report",
		Long: `Analyse the given photos sequentially, with the same pacing, retry and
quota handling as the dashboard batch, then write the inspection report.

Examples:
  droneguard analyze flight-0412/*.jpg
  droneguard analyze --out report.html tower-1.jpg tower-2.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "report path (default Relatorio_DroneGuard_<ms>.html)")
	cmd.Flags().StringVar(&analyzeTitle, "title", "", "report title")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// One-shot runs never touch the dashboard's persistent store.
	cfg.Storage.Driver = "memory"
	if analyzeTitle != "" {
		cfg.Report.Title = analyzeTitle
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	out := cmd.OutOrStdout()
	in := srv.Inspector
	if n := addFiles(ctx, in, args, out); n == 0 {
		return errors.New("no images to analyse")
	}

	res, err := in.AnalyzeAll(ctx)
	if err != nil {
		return err
	}
	if err := printItems(ctx, in, out); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nattempted %d, succeeded %d, failed %d, skipped %d\n", res.Attempted, res.Succeeded, res.Failed, res.Skipped)
	if res.Halted {
		fmt.Fprintln(out, "batch halted: API quota exhausted")
	}

	now := time.Now()
	html, err := in.Report(ctx, now)
	if err != nil {
		return err
	}
	path := analyzeOut
	if path == "" {
		path = report.FileName(now)
	}
	if err := os.WriteFile(path, []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(out, "report written to %s (%s)\n", path, humanize.Bytes(uint64(len(html))))
	return nil
}

func addFiles(ctx context.Context, in *core.Inspector, paths []string, out io.Writer) int {
	n := 0
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintf(out, "skip %s: %v\n", p, err)
			continue
		}
		_, created, err := in.Add(ctx, filepath.Base(p), data)
		if err != nil {
			fmt.Fprintf(out, "skip %s: %v\n", p, err)
			continue
		}
		if !created {
			slog.Info("duplicate photo ignored", "path", p)
			continue
		}
		n++
	}
	return n
}

func printItems(ctx context.Context, in *core.Inspector, out io.Writer) error {
	items, err := in.List(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		switch {
		case it.Status == model.StatusCompleted && it.Result != nil:
			status := "safe"
			if !it.Result.SafeToOperate {
				status = "RISK"
			}
			fmt.Fprintf(out, "%-32s %-5s %d anomalies (%d critical)\n", it.FileName, status, len(it.Result.FoundAnomalies), it.Result.CriticalCount())
		case it.Status == model.StatusError:
			fmt.Fprintf(out, "%-32s error %s\n", it.FileName, it.Error)
		default:
			fmt.Fprintf(out, "%-32s %s\n", it.FileName, it.Status)
		}
	}
	return nil
}
