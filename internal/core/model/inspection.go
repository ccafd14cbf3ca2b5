package model

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// CanStartAnalysis reports whether an item in this status may move to processing.
func (s Status) CanStartAnalysis() bool {
	return s == StatusPending || s == StatusError
}

type FeedbackStatus string

const (
	FeedbackNone     FeedbackStatus = ""
	FeedbackApproved FeedbackStatus = "approved"
	FeedbackRejected FeedbackStatus = "rejected"
)

func (f FeedbackStatus) Valid() bool {
	switch f {
	case FeedbackNone, FeedbackApproved, FeedbackRejected:
		return true
	}
	return false
}

type UserFeedback struct {
	Status   FeedbackStatus `json:"status,omitempty"`
	Comments string         `json:"comments,omitempty"`
}

// InspectionItem is one uploaded photo and its analysis state.
// The image bytes live in the store next to the item.
type InspectionItem struct {
	ID        string          `json:"id"`
	FileName  string          `json:"file_name"`
	MimeType  string          `json:"mime_type"`
	Size      int64           `json:"size"`
	Hash      string          `json:"hash"`
	Status    Status          `json:"status"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Feedback  *UserFeedback   `json:"user_feedback,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with the receiver.
func (i InspectionItem) Clone() InspectionItem {
	c := i
	if i.Result != nil {
		r := i.Result.Clone()
		c.Result = &r
	}
	if i.Feedback != nil {
		fb := *i.Feedback
		c.Feedback = &fb
	}
	return c
}

// Reportable reports whether the item belongs in the exported report.
func (i InspectionItem) Reportable() bool {
	if i.Status != StatusCompleted || i.Result == nil {
		return false
	}
	return i.Feedback == nil || i.Feedback.Status != FeedbackRejected
}

// PreviewURL is the dashboard handle for the source image.
func (i InspectionItem) PreviewURL() string {
	return "/api/images/" + i.ID + "/source"
}
