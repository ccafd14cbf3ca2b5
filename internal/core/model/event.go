package model

type EventType string

const (
	EventItemUpdated   EventType = "item_updated"
	EventItemRemoved   EventType = "item_removed"
	EventItemsCleared  EventType = "items_cleared"
	EventBatchStarted  EventType = "batch_started"
	EventBatchFinished EventType = "batch_finished"
)

type BatchResult struct {
	Queued    int  `json:"queued"`
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Halted    bool `json:"halted"`
}

// Event is pushed to dashboard clients on every state change.
type Event struct {
	Type  EventType       `json:"type"`
	Item  *InspectionItem `json:"item,omitempty"`
	ID    string          `json:"id,omitempty"`
	Batch *BatchResult    `json:"batch,omitempty"`
}
