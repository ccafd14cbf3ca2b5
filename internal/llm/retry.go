package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agenthands/droneguard/internal/core/model"
)

// RetryPolicy controls WithRetry. Only quota errors are retried.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration

	// AttemptTimeout bounds each provider call; zero means no bound.
	AttemptTimeout time.Duration

	// Sleep is replaced in tests; nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: 2 * time.Second}
}

// Backoff returns the delay before attempt i+1 (i is zero based).
func (p RetryPolicy) Backoff(i int) time.Duration {
	return p.InitialDelay * time.Duration(1<<uint(i))
}

// WithRetry calls fn until it succeeds, fails with a non-quota error, or
// MaxAttempts is reached. The last error is returned unchanged.
func WithRetry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsQuota(err) || i == attempts-1 {
			break
		}

		delay := p.Backoff(i)
		slog.Warn("quota exceeded, retrying",
			"delay", delay,
			"attempt", i+1,
			"max_attempts", attempts)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retrying decorates an Analyzer with WithRetry.
type retrying struct {
	next   Analyzer
	policy RetryPolicy
}

func NewRetrying(next Analyzer, p RetryPolicy) Analyzer {
	return &retrying{next: next, policy: p}
}

func (r *retrying) AnalyzeImage(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
	return WithRetry(ctx, r.policy, func(ctx context.Context) (*model.AnalysisResult, error) {
		return r.attempt(ctx, img)
	})
}

// attempt runs one call under AttemptTimeout. A call that outlives it is
// reported as unavailable; cancellation of ctx itself passes through.
func (r *retrying) attempt(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
	if r.policy.AttemptTimeout <= 0 {
		return r.next.AnalyzeImage(ctx, img)
	}
	actx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()

	res, err := r.next.AnalyzeImage(actx, img)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, NewError(KindUnavailable, "", fmt.Sprintf("no reply within %s", r.policy.AttemptTimeout), err)
	}
	return res, err
}

func (r *retrying) Close() error {
	if c, ok := r.next.(Closer); ok {
		return c.Close()
	}
	return nil
}
