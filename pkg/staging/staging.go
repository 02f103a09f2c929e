// Package staging buffers delta batches in memory until the caller commits
// or discards them. Dry-run sessions stage everything; nothing touches the
// graph until an explicit flush.
package staging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dan-solli/fabula/pkg/journal"
	"github.com/dan-solli/fabula/pkg/recorder"
)

// Committer applies one delta batch to the graph.
type Committer interface {
	Commit(ctx context.Context, batch *recorder.DeltaBatch) *recorder.CommitResult
}

// Store is an in-memory FIFO buffer of staged delta batches. Staged batches
// are journaled best-effort so a crashed dry-run session can be replayed.
type Store struct {
	mu      sync.Mutex
	buf     []*recorder.DeltaBatch
	journal journal.Writer
	logger  *slog.Logger
}

// NewStore creates an empty staging store.
func NewStore() *Store {
	return &Store{journal: &journal.NoopWriter{}}
}

// WithJournal sets the journal writer for staged batches.
func (s *Store) WithJournal(w journal.Writer) *Store {
	if w != nil {
		s.journal = w
	}
	return s
}

// WithLogger sets an optional structured logger.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// Stage appends a batch to the buffer. The journal write is best-effort:
// a journal failure is logged, never surfaced.
func (s *Store) Stage(ctx context.Context, batch *recorder.DeltaBatch) {
	if batch == nil {
		return
	}
	s.mu.Lock()
	s.buf = append(s.buf, batch)
	s.mu.Unlock()

	entry := &journal.Entry{
		Timestamp: time.Now().UTC(),
		Op:        "stage",
		Key:       batch.IdempotencyKey,
		Batch:     batch,
	}
	if err := s.journal.Append(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("journal append failed", "op", "stage", "error", err)
	}
}

// Pending returns the number of staged batches.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// DrainAll atomically claims and removes every staged batch, in staging
// order. Batches staged after the claim belong to the next drain.
func (s *Store) DrainAll() []*recorder.DeltaBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.buf
	s.buf = nil
	return drained
}

// Clear discards all staged batches without committing them.
func (s *Store) Clear(ctx context.Context) int {
	s.mu.Lock()
	n := len(s.buf)
	s.buf = nil
	s.mu.Unlock()

	if n > 0 {
		entry := &journal.Entry{Timestamp: time.Now().UTC(), Op: "clear"}
		if err := s.journal.Append(ctx, entry); err != nil && s.logger != nil {
			s.logger.Warn("journal append failed", "op", "clear", "error", err)
		}
	}
	return n
}

// Flush drains all staged batches and commits each in order, returning the
// aggregate result. A failed batch does not stop the remaining ones. An
// empty buffer flushes to a successful result with no writes.
func (s *Store) Flush(ctx context.Context, committer Committer) *recorder.CommitResult {
	result := recorder.NewCommitResult()

	batches := s.DrainAll()
	start := time.Now()
	for _, batch := range batches {
		result.Merge(committer.Commit(ctx, batch))
	}

	if len(batches) > 0 {
		entry := &journal.Entry{
			Timestamp:  time.Now().UTC(),
			Op:         "flush",
			Written:    result.Written,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err := s.journal.Append(ctx, entry); err != nil && s.logger != nil {
			s.logger.Warn("journal append failed", "op", "flush", "error", err)
		}
	}
	return result
}
