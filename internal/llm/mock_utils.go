package llm

import (
	"context"
	"sync"

	"github.com/agenthands/droneguard/internal/core/model"
)

// MockAnalyzer returns scripted results. Steps are consumed in order; once
// exhausted, Result/Err are returned.
type MockAnalyzer struct {
	Result *model.AnalysisResult
	Err    error
	Steps  []MockStep

	// Hook runs before each call, e.g. to cancel a context mid-batch.
	Hook func(call int, img ImageInput)

	mu    sync.Mutex
	calls []ImageInput
}

type MockStep struct {
	Result *model.AnalysisResult
	Err    error
}

func (m *MockAnalyzer) AnalyzeImage(ctx context.Context, img ImageInput) (*model.AnalysisResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, img)
	n := len(m.calls)
	var step *MockStep
	if n <= len(m.Steps) {
		step = &m.Steps[n-1]
	}
	hook := m.Hook
	m.mu.Unlock()

	if hook != nil {
		hook(n, img)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := m.Result, m.Err
	if step != nil {
		res, err = step.Result, step.Err
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &model.AnalysisResult{FoundAnomalies: []model.Anomaly{}}, nil
	}
	c := res.Clone()
	return &c, nil
}

func (m *MockAnalyzer) Calls() []ImageInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ImageInput, len(m.calls))
	copy(out, m.calls)
	return out
}
