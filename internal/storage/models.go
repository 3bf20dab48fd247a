package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered (or failed) prompt.
type Interaction struct {
	ID            string    `json:"id" yaml:"id"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	Prompt        string    `json:"prompt" yaml:"prompt"`
	Directory     string    `json:"directory" yaml:"directory"`
	VectorStoreID string    `json:"vector_store_id" yaml:"vector_store_id"`
	RunID         string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Answer        string    `json:"answer" yaml:"answer"`
	Status        string    `json:"status" yaml:"status"` // "completed", "no_answer", "failed"
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// SyncRun records a sync that was not part of an ask.
type SyncRun struct {
	ID            string    `json:"id" yaml:"id"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	Directory     string    `json:"directory" yaml:"directory"`
	VectorStoreID string    `json:"vector_store_id" yaml:"vector_store_id"`
	Created       bool      `json:"created" yaml:"created"`
	Attached      int       `json:"attached" yaml:"attached"`
	Source        string    `json:"source" yaml:"source"` // "cli", "watch", "api", "mcp"
}
