package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Job is the transport-safe envelope handed to the queue collaborator. It
// carries the command's registered name plus its arguments; record arguments
// are stored as generic maps so the payload survives serialization.
type Job struct {
	ID         uuid.UUID  `json:"id"`
	Command    string     `json:"command"`
	Queue      string     `json:"queue"`
	Args       []Argument `json:"args,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// Argument is one positional Handle argument in flight. Record arguments set
// Record to the registered type name and Fields to the marshaled payload;
// everything else rides in Value untouched.
type Argument struct {
	Record string         `json:"record,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Value  any            `json:"value,omitempty"`
}

// IsRecord reports whether the argument carries a marshaled record.
func (a Argument) IsRecord() bool {
	return a.Record != ""
}
