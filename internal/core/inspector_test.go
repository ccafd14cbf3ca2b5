package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/droneguard/internal/core/model"
	"github.com/agenthands/droneguard/internal/llm"
	"github.com/agenthands/droneguard/internal/store"
)

func jpeg(n int) []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte(fmt.Sprintf("photo-%d", n))...)
}

type harness struct {
	in       *Inspector
	analyzer *llm.MockAnalyzer
	notifier *MockNotifier
	recorder *MockRecorder
	sleeps   []time.Duration
}

func newHarness(t *testing.T, analyzer *llm.MockAnalyzer) *harness {
	t.Helper()
	h := &harness{analyzer: analyzer, notifier: &MockNotifier{}, recorder: &MockRecorder{}}

	ids := 0
	opts := DefaultOptions()
	opts.Now = func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) }
	opts.NewID = func() string {
		ids++
		return fmt.Sprintf("item-%d", ids)
	}
	opts.Sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}

	h.in = NewInspector(store.NewMemoryStore(), analyzer, opts)
	h.in.Notifier = h.notifier
	h.in.Recorder = h.recorder
	return h
}

func (h *harness) add(t *testing.T, n int) model.InspectionItem {
	t.Helper()
	item, created, err := h.in.Add(context.Background(), fmt.Sprintf("dir/tower-%d.jpg", n), jpeg(n))
	require.NoError(t, err)
	require.True(t, created)
	return item
}

func quotaErr() error {
	return llm.NewError(llm.KindQuota, "test", "429", nil)
}

func TestAdd(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{})
	ctx := context.Background()

	item := h.add(t, 1)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, "tower-1.jpg", item.FileName)
	assert.Equal(t, "image/jpeg", item.MimeType)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.Equal(t, int64(len(jpeg(1))), item.Size)
	assert.Len(t, item.Hash, 64)

	dup, created, err := h.in.Add(ctx, "copy.jpg", jpeg(1))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, item.ID, dup.ID)

	_, _, err = h.in.Add(ctx, "notes.txt", []byte("just some text"))
	assert.ErrorIs(t, err, ErrNotImage)
	_, _, err = h.in.Add(ctx, "empty.jpg", nil)
	assert.ErrorIs(t, err, ErrNotImage)

	items, _ := h.in.List(ctx)
	assert.Len(t, items, 1)
	assert.Equal(t, []model.EventType{model.EventItemUpdated}, h.notifier.Types())
}

func TestAnalyze_Success(t *testing.T) {
	result := &model.AnalysisResult{
		Summary:        "Corrosion on crossarm",
		FoundAnomalies: []model.Anomaly{{Type: "Corrosion", Severity: model.SeverityCritical}},
	}
	h := newHarness(t, &llm.MockAnalyzer{Result: result})
	item := h.add(t, 1)

	got, err := h.in.Analyze(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Corrosion on crossarm", got.Result.Summary)
	assert.Equal(t, 1, got.Attempts)

	assert.Equal(t,
		[]model.Status{model.StatusPending, model.StatusProcessing, model.StatusCompleted},
		h.notifier.StatusesOf(item.ID))
	assert.Equal(t, []string{item.ID}, h.recorder.Recorded)

	calls := h.analyzer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "image/jpeg", calls[0].MimeType)
	assert.Equal(t, jpeg(1), calls[0].Data)

	report, err := h.in.Report(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Contains(t, report, "Corrosion on crossarm")
}

func TestAnalyze_CompletedIsTerminal(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{})
	item := h.add(t, 1)

	_, err := h.in.Analyze(context.Background(), item.ID)
	require.NoError(t, err)

	_, err = h.in.Analyze(context.Background(), item.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, h.analyzer.Calls(), 1)

	_, err = h.in.Analyze(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnalyze_ErrorThenRetry(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{Steps: []llm.MockStep{
		{Err: llm.NewError(llm.KindAuth, "gemini", "401", nil)},
		{Result: &model.AnalysisResult{Summary: "fine"}},
	}})
	item := h.add(t, 1)

	got, err := h.in.Analyze(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, string(llm.KindAuth), got.ErrorKind)
	assert.Contains(t, got.Error, "API key")
	assert.Empty(t, h.recorder.Recorded)

	got, err = h.in.Analyze(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, 1, got.Attempts)
}

func TestAnalyze_QuotaAfterRetries(t *testing.T) {
	var sleeps []time.Duration
	mock := &llm.MockAnalyzer{Err: quotaErr()}
	analyzer := llm.NewRetrying(mock, llm.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	})
	h := newHarness(t, mock)
	h.in.Analyzer = analyzer
	item := h.add(t, 1)

	got, err := h.in.Analyze(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, string(llm.KindQuota), got.ErrorKind)
	assert.Contains(t, got.Error, "429")
	assert.Len(t, mock.Calls(), 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
}

func TestAnalyze_MissingSource(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{})
	ctx := context.Background()
	require.NoError(t, h.in.Store.Add(ctx, model.InspectionItem{ID: "orphan", Status: model.StatusPending}, nil))

	got, err := h.in.Analyze(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, string(llm.KindMissingSource), got.ErrorKind)
	assert.Empty(t, h.analyzer.Calls())
}

func TestAnalyze_ConcurrentCallersProcessOnce(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{})
	item := h.add(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.in.Analyze(context.Background(), item.ID)
		}()
	}
	wg.Wait()
	assert.Len(t, h.analyzer.Calls(), 1)
}

func TestAnalyzeAll_SequentialWithDelay(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{})
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		h.add(t, n)
	}
	// Completed items are not re-queued.
	_, err := h.in.Analyze(ctx, "item-2")
	require.NoError(t, err)

	res, err := h.in.AnalyzeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{Queued: 2, Attempted: 2, Succeeded: 2}, res)

	calls := h.analyzer.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, jpeg(1), calls[1].Data)
	assert.Equal(t, jpeg(3), calls[2].Data)
	// Delay between requests only, not after the last.
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, h.sleeps)

	types := h.notifier.Types()
	assert.Equal(t, model.EventBatchStarted, types[len(types)-6])
	assert.Equal(t, model.EventBatchFinished, types[len(types)-1])
}

func TestAnalyzeAll_HaltsOnQuota(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{Steps: []llm.MockStep{
		{Result: &model.AnalysisResult{Summary: "ok"}},
		{Err: quotaErr()},
	}})
	for n := 1; n <= 4; n++ {
		h.add(t, n)
	}

	res, err := h.in.AnalyzeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Halted)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, h.sleeps, 1)

	items, _ := h.in.List(context.Background())
	assert.Equal(t, model.StatusCompleted, items[0].Status)
	assert.Equal(t, model.StatusError, items[1].Status)
	assert.Equal(t, model.StatusPending, items[2].Status)
	assert.Equal(t, model.StatusPending, items[3].Status)
}

func TestAnalyzeAll_ContinuesOnQuotaWhenConfigured(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{Steps: []llm.MockStep{{Err: quotaErr()}}})
	h.in.opts.StopOnQuota = false
	for n := 1; n <= 3; n++ {
		h.add(t, n)
	}

	res, err := h.in.AnalyzeAll(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Halted)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 1, res.Failed)
}

func TestAnalyzeAll_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := &llm.MockAnalyzer{}
	h := newHarness(t, mock)
	for n := 1; n <= 3; n++ {
		h.add(t, n)
	}
	h.in.opts.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := h.in.AnalyzeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, mock.Calls(), 1)
}

func TestBatch_OnlyOneAtATime(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	mock := &llm.MockAnalyzer{Hook: func(call int, img llm.ImageInput) {
		if call == 1 {
			entered <- struct{}{}
			<-release
		}
	}}
	h := newHarness(t, mock)
	h.add(t, 1)

	require.NoError(t, h.in.StartBatch(context.Background()))
	<-entered
	assert.True(t, h.in.BatchRunning())
	assert.ErrorIs(t, h.in.StartBatch(context.Background()), ErrBatchRunning)
	_, err := h.in.AnalyzeAll(context.Background())
	assert.ErrorIs(t, err, ErrBatchRunning)

	close(release)
	assert.Eventually(t, func() bool { return !h.in.BatchRunning() }, time.Second, 5*time.Millisecond)
}

func TestSetFeedback(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{})
	ctx := context.Background()
	item := h.add(t, 1)

	_, err := h.in.SetFeedback(ctx, item.ID, model.UserFeedback{Status: model.FeedbackApproved})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.in.Analyze(ctx, item.ID)
	require.NoError(t, err)

	_, err = h.in.SetFeedback(ctx, item.ID, model.UserFeedback{Status: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidFeedback)

	got, err := h.in.SetFeedback(ctx, item.ID, model.UserFeedback{Status: model.FeedbackRejected, Comments: "wrong tower"})
	require.NoError(t, err)
	require.NotNil(t, got.Feedback)
	assert.Equal(t, model.FeedbackRejected, got.Feedback.Status)
	assert.Equal(t, "wrong tower", h.recorder.Feedback[item.ID].Comments)

	report, err := h.in.Report(ctx, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, report, item.ID)
}

func TestRemoveClearStats(t *testing.T) {
	h := newHarness(t, &llm.MockAnalyzer{Steps: []llm.MockStep{
		{Result: &model.AnalysisResult{FoundAnomalies: []model.Anomaly{
			{Severity: model.SeverityHigh}, {Severity: model.SeverityLow},
		}}},
		{Err: quotaErr()},
	}})
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		h.add(t, n)
	}
	h.in.Analyze(ctx, "item-1")
	h.in.Analyze(ctx, "item-2")

	stats, err := h.in.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{Total: 3, Pending: 1, Processed: 1, Errors: 1, Anomalies: 2, Critical: 1}, stats)

	require.NoError(t, h.in.Remove(ctx, "item-3"))
	assert.ErrorIs(t, h.in.Remove(ctx, "item-3"), store.ErrNotFound)
	assert.Equal(t, []string{"item-3"}, h.recorder.Removed)

	require.NoError(t, h.in.Clear(ctx))
	items, _ := h.in.List(ctx)
	assert.Empty(t, items)
	assert.Equal(t, 1, h.recorder.Cleared)
	assert.Equal(t, model.EventItemsCleared, h.notifier.Types()[len(h.notifier.Types())-1])
}

func TestAnalyzeAll_AttemptTimeoutFailsItemAndContinues(t *testing.T) {
	mock := &llm.MockAnalyzer{Hook: func(call int, img llm.ImageInput) {
		if call == 1 {
			time.Sleep(100 * time.Millisecond)
		}
	}}
	analyzer := llm.NewRetrying(mock, llm.RetryPolicy{MaxAttempts: 1, AttemptTimeout: 20 * time.Millisecond})
	h := newHarness(t, mock)
	h.in.Analyzer = analyzer
	h.add(t, 1)
	h.add(t, 2)

	res, err := h.in.AnalyzeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BatchResult{Queued: 2, Attempted: 2, Succeeded: 1, Failed: 1}, res)

	first, err := h.in.Get(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, first.Status)
	assert.Equal(t, string(llm.KindUnavailable), first.ErrorKind)
	assert.NotEqual(t, interruptedMessage, first.Error)

	second, err := h.in.Get(context.Background(), "item-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, second.Status)
}

func TestAnalyze_CancelledCallerIsInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, &llm.MockAnalyzer{Hook: func(int, llm.ImageInput) { cancel() }})
	item := h.add(t, 1)

	got, err := h.in.Analyze(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, interruptedMessage, got.Error)
	assert.Equal(t, string(llm.KindUnavailable), got.ErrorKind)
}

func TestAdd_ConcurrentSamePhotoStoredOnce(t *testing.T) {
	in := NewInspector(store.NewMemoryStore(), &llm.MockAnalyzer{}, DefaultOptions())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	ids := map[string]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, ok, err := in.Add(ctx, fmt.Sprintf("copy-%d.jpg", i), jpeg(1))
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			ids[item.ID] = true
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
	items, err := in.List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRecover_ProcessingItemsFromEarlierRun(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inspections.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	first := NewInspector(s, &llm.MockAnalyzer{}, DefaultOptions())
	stuck, _, err := first.Add(ctx, "tower-1.jpg", jpeg(1))
	require.NoError(t, err)
	done, _, err := first.Add(ctx, "tower-2.jpg", jpeg(2))
	require.NoError(t, err)
	_, err = first.Analyze(ctx, done.ID)
	require.NoError(t, err)
	// Simulate a crash between the processing write and the outcome write.
	_, err = s.Update(ctx, stuck.ID, func(it *model.InspectionItem) error {
		it.Status = model.StatusProcessing
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	notifier := &MockNotifier{}
	in := NewInspector(s, &llm.MockAnalyzer{}, DefaultOptions())
	in.Notifier = notifier

	n, err := in.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []model.Status{model.StatusError}, notifier.StatusesOf(stuck.ID))

	got, err := in.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, interruptedMessage, got.Error)
	assert.Equal(t, string(llm.KindUnavailable), got.ErrorKind)

	kept, err := in.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, kept.Status)

	// The recovered item can be analyzed again.
	got, err = in.Analyze(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestStartBatch_WaitOutlivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	mock := &llm.MockAnalyzer{Hook: func(call int, img llm.ImageInput) {
		close(entered)
		<-ctx.Done()
	}}
	h := newHarness(t, mock)
	item := h.add(t, 1)

	require.NoError(t, h.in.StartBatch(ctx))
	<-entered
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
	defer wcancel()
	require.NoError(t, h.in.Wait(wctx))
	assert.False(t, h.in.BatchRunning())

	got, err := h.in.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, interruptedMessage, got.Error)
}

func TestWait_BoundedByContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})
	h := newHarness(t, &llm.MockAnalyzer{Hook: func(int, llm.ImageInput) {
		close(entered)
		<-release
	}})
	h.add(t, 1)

	require.NoError(t, h.in.StartBatch(context.Background()))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.in.Wait(ctx), context.DeadlineExceeded)
}
