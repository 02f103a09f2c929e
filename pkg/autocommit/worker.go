package autocommit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dan-solli/fabula/pkg/cache"
	"github.com/dan-solli/fabula/pkg/recorder"
)

// Committer applies one delta batch to the graph.
type Committer interface {
	Commit(ctx context.Context, batch *recorder.DeltaBatch) *recorder.CommitResult
}

// IdempotencySet remembers the keys of already-committed batches so a
// re-enqueued batch is not applied twice.
type IdempotencySet struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewIdempotencySet creates an empty set.
func NewIdempotencySet() *IdempotencySet {
	return &IdempotencySet{seen: map[string]bool{}}
}

// Contains reports whether the key has been committed.
func (s *IdempotencySet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[key]
}

// Add marks the key as committed. Reports false when it was already present,
// so exactly one caller wins a concurrent race on the same key.
func (s *IdempotencySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	return true
}

// Stats is a snapshot of worker counters for status panels.
type Stats struct {
	QueueDepth      int       `json:"queue_depth"`
	Committed       int       `json:"committed"`
	Skipped         int       `json:"skipped"`
	LastReason      string    `json:"last_reason,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	LastKey         string    `json:"last_key,omitempty"`
	LastCommittedAt time.Time `json:"last_committed_at,omitzero"`
}

// Worker drains a queue of candidate batches, commits the significant ones
// and clears the read cache after each commit. One batch key commits at most
// once across the worker's lifetime.
type Worker struct {
	queue     chan *Item
	committer Committer
	cache     cache.ReadCache
	idem      *IdempotencySet
	decider   DeciderFunc
	logger    *slog.Logger

	mu      sync.Mutex
	stats   Stats
	running bool
	stopped bool
	done    chan struct{}
}

// NewWorker creates a worker with the given queue capacity.
func NewWorker(committer Committer, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 128
	}
	return &Worker{
		queue:     make(chan *Item, queueSize),
		committer: committer,
		cache:     cache.Noop{},
		idem:      NewIdempotencySet(),
		decider:   DefaultDecider,
	}
}

// WithCache sets the read cache to clear after each successful commit.
func (w *Worker) WithCache(c cache.ReadCache) *Worker {
	if c != nil {
		w.cache = c
	}
	return w
}

// WithDecider overrides the significance decider.
func (w *Worker) WithDecider(d DeciderFunc) *Worker {
	if d != nil {
		w.decider = d
	}
	return w
}

// WithLogger sets an optional structured logger.
func (w *Worker) WithLogger(logger *slog.Logger) *Worker {
	w.logger = logger
	return w
}

// Start launches the drain loop. Starting a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.stopped {
		return
	}
	w.running = true
	w.done = make(chan struct{})
	go w.run(ctx)
}

// Stop closes the queue and waits for already-enqueued items to drain. The
// queue is closed under the mutex that guards Enqueue's send.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.queue)
	done := w.done
	w.mu.Unlock()

	<-done
}

// Active reports whether the worker accepts new items.
func (w *Worker) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running && !w.stopped
}

// Enqueue offers an item to the worker. Reports false when the worker is
// not accepting or the queue is full; the caller decides whether to block,
// drop, or commit synchronously instead. The stopped check and the send
// happen under the same lock Stop holds while closing the queue.
func (w *Worker) Enqueue(item *Item) bool {
	if item == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.stopped {
		return false
	}
	select {
	case w.queue <- item:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.stats
	out.QueueDepth = len(w.queue)
	return out
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for item := range w.queue {
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item *Item) {
	if item.Key != "" && w.idem.Contains(item.Key) {
		w.record(func(s *Stats) {
			s.Skipped++
			s.LastReason = "idempotent_skip"
		})
		return
	}

	ok, reason := w.decider(item)
	if !ok {
		w.record(func(s *Stats) {
			s.Skipped++
			s.LastReason = reason
		})
		return
	}

	result := w.committer.Commit(ctx, item.Batch)
	if !result.OK {
		if w.logger != nil {
			w.logger.Warn("auto-commit failed", "key", item.Key, "errors", result.Errors)
		}
		w.record(func(s *Stats) {
			s.LastError = strings.Join(result.Errors, "; ")
			s.LastReason = reason
		})
		return
	}

	if item.Key != "" {
		w.idem.Add(item.Key)
	}
	w.cache.Clear()
	w.record(func(s *Stats) {
		s.Committed++
		s.LastReason = reason
		s.LastKey = item.Key
		s.LastCommittedAt = time.Now()
	})
	if w.logger != nil {
		w.logger.Info("auto-commit applied", "key", item.Key, "reason", reason, "written", result.Written)
	}
}

func (w *Worker) record(update func(*Stats)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	update(&w.stats)
}
