package eventbus

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Event types published by formflow.
const (
	TypeJobCreated     = "job.created"
	TypeJobCompleted   = "job.completed"
	TypeJobFailed      = "job.failed"
	TypeQuestionAnswer = "question.answered"
	TypeQuestionMissed = "question.missed"
)

// Event is the envelope every formflow event travels in.
type Event struct {
	EventID   string                 `json:"event_id"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	JobID     string                 `json:"job_id,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent stamps a new event of type typ from source.
func NewEvent(source, typ string, now time.Time) Event {
	return Event{
		EventID:   NewEventID("evt_", now),
		Source:    source,
		Type:      typ,
		Timestamp: now.UTC(),
	}
}

// NewEventID generates a compact unique event id with a date prefix.
func NewEventID(prefix string, t time.Time) string {
	// 8 random bytes -> 16 hex chars
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + t.UTC().Format("20060102") + "_" + hex.EncodeToString(b)
}

// MinimalValidate checks required fields.
func (e *Event) MinimalValidate() bool {
	return e.EventID != "" && e.Source != "" && e.Type != "" && !e.Timestamp.IsZero()
}
