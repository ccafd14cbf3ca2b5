package core

import (
	"context"
	"sync"

	"github.com/agenthands/droneguard/internal/core/model"
)

type MockNotifier struct {
	mu     sync.Mutex
	Events []model.Event
}

func (m *MockNotifier) Publish(ev model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
}

func (m *MockNotifier) Types() []model.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.EventType, len(m.Events))
	for i, ev := range m.Events {
		out[i] = ev.Type
	}
	return out
}

// StatusesOf returns the item statuses published for id, in order.
func (m *MockNotifier) StatusesOf(id string) []model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Status
	for _, ev := range m.Events {
		if ev.Item != nil && ev.Item.ID == id {
			out = append(out, ev.Item.Status)
		}
	}
	return out
}

type MockRecorder struct {
	Recorded []string
	Removed  []string
	Cleared  int
	Feedback map[string]model.UserFeedback
	Err      error
}

func (m *MockRecorder) RecordInspection(ctx context.Context, item model.InspectionItem) error {
	m.Recorded = append(m.Recorded, item.ID)
	return m.Err
}

func (m *MockRecorder) RecordFeedback(ctx context.Context, id string, fb model.UserFeedback) error {
	if m.Feedback == nil {
		m.Feedback = make(map[string]model.UserFeedback)
	}
	m.Feedback[id] = fb
	return m.Err
}

func (m *MockRecorder) RemoveInspection(ctx context.Context, id string) error {
	m.Removed = append(m.Removed, id)
	return m.Err
}

func (m *MockRecorder) ClearInspections(ctx context.Context) error {
	m.Cleared++
	return m.Err
}
