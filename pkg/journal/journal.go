// Package journal records staged and committed delta batches as JSON Lines
// for crash recovery and audit.
package journal

import (
	"context"
	"time"
)

// Writer appends journal entries. Implementations must be safe for
// concurrent use.
type Writer interface {
	// Append writes one journal entry to the configured destination.
	Append(ctx context.Context, entry *Entry) error

	// Close flushes any buffered entries and releases resources.
	Close() error
}

// Entry is one journaled operation.
type Entry struct {
	// Timestamp is when the operation happened.
	Timestamp time.Time `json:"timestamp"`

	// Op is the operation type: "stage", "commit", "flush", "clear".
	Op string `json:"op"`

	// Key is the batch's idempotency key, when it has one.
	Key string `json:"key,omitempty"`

	// Batch is the full delta batch for stage entries, nil otherwise.
	Batch interface{} `json:"batch,omitempty"`

	// Written holds per-family write counts for commit entries.
	Written map[string]int `json:"written,omitempty"`

	// DurationMs is the operation duration in milliseconds.
	DurationMs int64 `json:"durationMs,omitempty"`
}
