package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/agenthands/droneguard/internal/core/dedupe"
	"github.com/agenthands/droneguard/internal/core/model"
	"github.com/agenthands/droneguard/internal/core/report"
	"github.com/agenthands/droneguard/internal/llm"
	"github.com/agenthands/droneguard/internal/store"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBatchRunning      = errors.New("a batch is already running")
	ErrNotImage          = errors.New("file is not an image")
	ErrInvalidFeedback   = errors.New("invalid feedback")
)

// Notifier receives every state change, e.g. to push it to dashboards.
type Notifier interface {
	Publish(ev model.Event)
}

// Recorder mirrors inspections into an external sink. Failures are logged only.
type Recorder interface {
	RecordInspection(ctx context.Context, item model.InspectionItem) error
	RecordFeedback(ctx context.Context, id string, fb model.UserFeedback) error
	RemoveInspection(ctx context.Context, id string) error
	ClearInspections(ctx context.Context) error
}

type Options struct {
	BatchDelay  time.Duration
	StopOnQuota bool
	ReportTitle string

	Now   func() time.Time
	NewID func() string
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultOptions() Options {
	return Options{
		BatchDelay:  1500 * time.Millisecond,
		StopOnQuota: true,
		ReportTitle: report.DefaultTitle,
	}
}

// Inspector owns the inspection collection and drives analysis.
type Inspector struct {
	Store        store.Store
	Analyzer     llm.Analyzer
	Notifier     Notifier
	Recorder     Recorder
	Deduplicator *dedupe.Deduplicator

	opts    Options
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewInspector(s store.Store, analyzer llm.Analyzer, opts Options) *Inspector {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Inspector{
		Store:        s,
		Analyzer:     analyzer,
		Deduplicator: dedupe.NewDeduplicator(s),
		opts:         opts,
	}
}

func (in *Inspector) publish(ev model.Event) {
	if in.Notifier != nil {
		in.Notifier.Publish(ev)
	}
}

func (in *Inspector) itemUpdated(item model.InspectionItem) {
	in.publish(model.Event{Type: model.EventItemUpdated, Item: &item})
}

// Add stores a new pending item. created is false when an item with the
// same content already exists; that item is returned instead.
func (in *Inspector) Add(ctx context.Context, fileName string, data []byte) (item model.InspectionItem, created bool, err error) {
	if len(data) == 0 {
		return model.InspectionItem{}, false, fmt.Errorf("%w: %s is empty", ErrNotImage, fileName)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return model.InspectionItem{}, false, fmt.Errorf("%w: %s detected as %s", ErrNotImage, fileName, mt.String())
	}

	now := in.opts.Now()
	item = model.InspectionItem{
		ID:        in.opts.NewID(),
		FileName:  filepath.Base(fileName),
		MimeType:  mt.String(),
		Size:      int64(len(data)),
		Hash:      dedupe.Hash(data),
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, created, err := in.Deduplicator.Insert(ctx, item, data)
	if err != nil {
		return model.InspectionItem{}, false, fmt.Errorf("failed to store %s: %w", fileName, err)
	}
	if !created {
		slog.Info("duplicate upload", "file", fileName, "existing_id", stored.ID)
		return stored, false, nil
	}
	item = stored

	slog.Info("image added", "id", item.ID, "file", item.FileName, "mime", item.MimeType, "size", item.Size)
	in.itemUpdated(item)
	return item, true, nil
}

func (in *Inspector) List(ctx context.Context) ([]model.InspectionItem, error) {
	return in.Store.List(ctx)
}

func (in *Inspector) Get(ctx context.Context, id string) (model.InspectionItem, error) {
	return in.Store.Get(ctx, id)
}

func (in *Inspector) Image(ctx context.Context, id string) ([]byte, model.InspectionItem, error) {
	item, err := in.Store.Get(ctx, id)
	if err != nil {
		return nil, model.InspectionItem{}, err
	}
	data, err := in.Store.Image(ctx, id)
	if err != nil {
		return nil, item, err
	}
	return data, item, nil
}

// Analyze runs one item through the analyzer. Analysis failures are
// recorded on the returned item; the error is reserved for lookups and
// invalid transitions.
func (in *Inspector) Analyze(ctx context.Context, id string) (model.InspectionItem, error) {
	item, err := in.Store.Update(ctx, id, func(it *model.InspectionItem) error {
		if !it.Status.CanStartAnalysis() {
			return fmt.Errorf("%w: item %s is %s", ErrInvalidTransition, it.ID, it.Status)
		}
		it.Status = model.StatusProcessing
		it.Attempts++
		it.Error = ""
		it.ErrorKind = ""
		it.UpdatedAt = in.opts.Now()
		return nil
	})
	if err != nil {
		return item, err
	}
	in.itemUpdated(item)

	// The outcome must be written even if ctx is cancelled mid-call.
	wctx := context.WithoutCancel(ctx)

	data, err := in.Store.Image(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = llm.NewError(llm.KindMissingSource, "", "image bytes not found", err)
		}
		return in.fail(wctx, id, err, ctx.Err() != nil)
	}

	start := time.Now()
	res, err := in.Analyzer.AnalyzeImage(ctx, llm.ImageInput{Data: data, MimeType: item.MimeType})
	if err != nil {
		return in.fail(wctx, id, err, ctx.Err() != nil)
	}

	item, err = in.Store.Update(wctx, id, func(it *model.InspectionItem) error {
		it.Status = model.StatusCompleted
		it.Result = res
		it.UpdatedAt = in.opts.Now()
		return nil
	})
	if err != nil {
		return item, err
	}

	slog.Info("analysis completed",
		"id", id,
		"anomalies", len(res.FoundAnomalies),
		"critical", res.CriticalCount(),
		"duration", time.Since(start))
	in.itemUpdated(item)

	if in.Recorder != nil {
		if err := in.Recorder.RecordInspection(wctx, item); err != nil {
			slog.Warn("failed to record inspection", "id", id, "error", err)
		}
	}
	return item, nil
}

const interruptedMessage = "Analysis was interrupted before completion."

// fail records cause on the item. interrupted is set when the caller's
// context ended; a classified timeout from the analyzer keeps its own message.
func (in *Inspector) fail(ctx context.Context, id string, cause error, interrupted bool) (model.InspectionItem, error) {
	msg := llm.UserMessage(cause)
	kind := llm.KindOf(cause)
	var le *llm.Error
	if interrupted || (!errors.As(cause, &le) &&
		(errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded))) {
		msg = interruptedMessage
		kind = llm.KindUnavailable
	}

	item, err := in.Store.Update(ctx, id, func(it *model.InspectionItem) error {
		it.Status = model.StatusError
		it.Error = msg
		it.ErrorKind = string(kind)
		it.UpdatedAt = in.opts.Now()
		return nil
	})
	if err != nil {
		return item, err
	}

	slog.Warn("analysis failed", "id", id, "kind", kind, "error", cause)
	in.itemUpdated(item)
	return item, nil
}

// AnalyzeAll processes every pending or failed item sequentially in
// insertion order, waiting BatchDelay between requests.
func (in *Inspector) AnalyzeAll(ctx context.Context) (model.BatchResult, error) {
	if !in.running.CompareAndSwap(false, true) {
		return model.BatchResult{}, ErrBatchRunning
	}
	defer in.running.Store(false)
	return in.runBatch(ctx)
}

// StartBatch runs AnalyzeAll in the background. It fails fast when a batch
// is already running.
func (in *Inspector) StartBatch(ctx context.Context) error {
	if !in.running.CompareAndSwap(false, true) {
		return ErrBatchRunning
	}
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer in.running.Store(false)
		if _, err := in.runBatch(ctx); err != nil {
			slog.Error("batch failed", "error", err)
		}
	}()
	return nil
}

func (in *Inspector) runBatch(ctx context.Context) (model.BatchResult, error) {
	items, err := in.Store.List(ctx)
	if err != nil {
		return model.BatchResult{}, err
	}
	var queue []string
	for _, it := range items {
		if it.Status.CanStartAnalysis() {
			queue = append(queue, it.ID)
		}
	}

	res := model.BatchResult{Queued: len(queue)}
	slog.Info("batch started", "queued", len(queue), "delay", in.opts.BatchDelay)
	in.publish(model.Event{Type: model.EventBatchStarted, Batch: &model.BatchResult{Queued: len(queue)}})

	for i, id := range queue {
		if ctx.Err() != nil {
			res.Skipped += len(queue) - i
			break
		}

		item, err := in.Analyze(ctx, id)
		if err != nil {
			// Removed or picked up elsewhere since the snapshot.
			slog.Debug("batch skipped item", "id", id, "error", err)
			res.Skipped++
			continue
		}
		res.Attempted++
		if item.Status == model.StatusCompleted {
			res.Succeeded++
		} else {
			res.Failed++
		}

		if item.ErrorKind == string(llm.KindQuota) && in.opts.StopOnQuota {
			slog.Warn("batch halted on quota", "id", id, "remaining", len(queue)-i-1)
			res.Halted = true
			res.Skipped += len(queue) - i - 1
			break
		}

		if i < len(queue)-1 && in.opts.BatchDelay > 0 {
			if err := in.opts.Sleep(ctx, in.opts.BatchDelay); err != nil {
				res.Skipped += len(queue) - i - 1
				break
			}
		}
	}

	slog.Info("batch finished",
		"attempted", res.Attempted,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"halted", res.Halted)
	out := res
	in.publish(model.Event{Type: model.EventBatchFinished, Batch: &out})
	return res, nil
}

func (in *Inspector) BatchRunning() bool {
	return in.running.Load()
}

// Wait blocks until background batches started by StartBatch have returned
// or ctx is done.
func (in *Inspector) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover marks items left in processing by an earlier run as failed so
// they can be analyzed again. It must run before any analysis starts.
func (in *Inspector) Recover(ctx context.Context) (int, error) {
	items, err := in.Store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		if it.Status != model.StatusProcessing {
			continue
		}
		item, err := in.Store.Update(ctx, it.ID, func(it *model.InspectionItem) error {
			if it.Status != model.StatusProcessing {
				return fmt.Errorf("%w: item %s is %s", ErrInvalidTransition, it.ID, it.Status)
			}
			it.Status = model.StatusError
			it.Error = interruptedMessage
			it.ErrorKind = string(llm.KindUnavailable)
			it.UpdatedAt = in.opts.Now()
			return nil
		})
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return n, err
		}
		slog.Warn("recovered interrupted analysis", "id", item.ID, "file", item.FileName)
		in.itemUpdated(item)
		n++
	}
	return n, nil
}

func (in *Inspector) SetFeedback(ctx context.Context, id string, fb model.UserFeedback) (model.InspectionItem, error) {
	if !fb.Status.Valid() {
		return model.InspectionItem{}, fmt.Errorf("%w: unknown status %q", ErrInvalidFeedback, fb.Status)
	}
	item, err := in.Store.Update(ctx, id, func(it *model.InspectionItem) error {
		if it.Status != model.StatusCompleted {
			return fmt.Errorf("%w: feedback requires a completed item, %s is %s", ErrInvalidTransition, it.ID, it.Status)
		}
		f := fb
		it.Feedback = &f
		it.UpdatedAt = in.opts.Now()
		return nil
	})
	if err != nil {
		return item, err
	}
	in.itemUpdated(item)

	if in.Recorder != nil {
		if err := in.Recorder.RecordFeedback(ctx, id, fb); err != nil {
			slog.Warn("failed to record feedback", "id", id, "error", err)
		}
	}
	return item, nil
}

func (in *Inspector) Remove(ctx context.Context, id string) error {
	if err := in.Store.Delete(ctx, id); err != nil {
		return err
	}
	in.publish(model.Event{Type: model.EventItemRemoved, ID: id})
	if in.Recorder != nil {
		if err := in.Recorder.RemoveInspection(ctx, id); err != nil {
			slog.Warn("failed to remove recorded inspection", "id", id, "error", err)
		}
	}
	return nil
}

func (in *Inspector) Clear(ctx context.Context) error {
	if err := in.Store.Clear(ctx); err != nil {
		return err
	}
	in.publish(model.Event{Type: model.EventItemsCleared})
	if in.Recorder != nil {
		if err := in.Recorder.ClearInspections(ctx); err != nil {
			slog.Warn("failed to clear recorded inspections", "error", err)
		}
	}
	return nil
}

func (in *Inspector) Stats(ctx context.Context) (model.Stats, error) {
	items, err := in.Store.List(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	return model.ComputeStats(items), nil
}

// ReportInput collects reportable items with their images, in collection order.
func (in *Inspector) ReportInput(ctx context.Context, now time.Time) (report.Input, error) {
	items, err := in.Store.List(ctx)
	if err != nil {
		return report.Input{}, err
	}
	input := report.Input{Title: in.opts.ReportTitle, GeneratedAt: now}
	for _, it := range items {
		if !it.Reportable() {
			continue
		}
		data, err := in.Store.Image(ctx, it.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return report.Input{}, err
		}
		input.Entries = append(input.Entries, report.Entry{Item: it, Image: data})
	}
	return input, nil
}

// Report renders the HTML report for the current collection.
func (in *Inspector) Report(ctx context.Context, now time.Time) (string, error) {
	input, err := in.ReportInput(ctx, now)
	if err != nil {
		return "", err
	}
	return report.Generate(input)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
