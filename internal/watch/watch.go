// Package watch ingests drone photos dropped into a folder.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agenthands/droneguard/internal/core"
	"github.com/agenthands/droneguard/internal/core/model"
)

// Ingestor is the part of core.Inspector the watcher drives.
type Ingestor interface {
	Add(ctx context.Context, fileName string, data []byte) (model.InspectionItem, bool, error)
	Analyze(ctx context.Context, id string) (model.InspectionItem, error)
}

type Options struct {
	// Settle is how long a file must stay quiet before it is read.
	Settle      time.Duration
	AutoAnalyze bool
}

type Watcher struct {
	Dir  string
	in   Ingestor
	opts Options

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	timers  map[string]*time.Timer
	settled chan string
}

func New(dir string, in Ingestor, opts Options) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		Dir:     dir,
		in:      in,
		opts:    opts,
		fsw:     fsw,
		timers:  map[string]*time.Timer{},
		settled: make(chan string, 64),
	}, nil
}

// Run ingests files already in the folder, then every file that appears or
// changes, until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	slog.Info("watching folder", "dir", w.Dir, "auto_analyze", w.opts.AutoAnalyze)
	if err := w.scan(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.schedule(ctx, ev.Name)
			}
		case path := <-w.settled:
			w.ingest(ctx, path)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "dir", w.Dir, "error", err)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.Dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !candidate(e.Name()) {
			continue
		}
		w.ingest(ctx, filepath.Join(w.Dir, e.Name()))
	}
	return nil
}

// schedule (re)arms the settle timer for path so a file still being copied
// is read once.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !candidate(filepath.Base(path)) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.settled <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to read dropped file", "path", path, "error", err)
		return
	}

	item, created, err := w.in.Add(ctx, filepath.Base(path), data)
	if err != nil {
		if errors.Is(err, core.ErrNotImage) {
			slog.Debug("skipping non-image file", "path", path)
			return
		}
		slog.Error("failed to ingest file", "path", path, "error", err)
		return
	}
	if !created || !w.opts.AutoAnalyze {
		return
	}

	if _, err := w.in.Analyze(ctx, item.ID); err != nil {
		slog.Warn("analysis failed", "id", item.ID, "file", item.FileName, "error", err)
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	if err := w.fsw.Close(); err != nil {
		slog.Warn("failed to close watcher", "error", err)
	}
}

// candidate filters out hidden files and partial downloads.
func candidate(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".part", ".tmp", ".crdownload":
		return false
	}
	return true
}
