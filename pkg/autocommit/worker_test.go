package autocommit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dan-solli/fabula/pkg/recorder"
)

type fakeCommitter struct {
	mu      sync.Mutex
	commits int
	fail    bool
}

func (c *fakeCommitter) Commit(ctx context.Context, batch *recorder.DeltaBatch) *recorder.CommitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++

	result := recorder.NewCommitResult()
	if c.fail {
		result.OK = false
		result.Errors = append(result.Errors, "store unavailable")
		return result
	}
	result.Written[recorder.FamilyFacts] = 1
	return result
}

func (c *fakeCommitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

type clearCounter struct {
	mu     sync.Mutex
	clears int
}

func (c *clearCounter) Get(key string) (interface{}, bool) { return nil, false }
func (c *clearCounter) Set(key string, value interface{})  {}
func (c *clearCounter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
}

func structuralBatch() *recorder.DeltaBatch {
	return &recorder.DeltaBatch{
		NewEntities: []recorder.EntityDelta{{ID: "e1", Name: "Rogue", UniverseID: "u1"}},
	}
}

func TestDefaultDecider(t *testing.T) {
	tests := []struct {
		name   string
		item   *Item
		want   bool
		reason string
	}{
		{
			name:   "nil batch",
			item:   &Item{},
			want:   false,
			reason: "low_significance",
		},
		{
			name:   "structural change",
			item:   &Item{Batch: structuralBatch()},
			want:   true,
			reason: "structural_change",
		},
		{
			name: "two facts",
			item: &Item{Batch: &recorder.DeltaBatch{
				Facts: []recorder.FactDelta{{ID: "f1"}, {ID: "f2"}},
			}},
			want:   true,
			reason: "batch_facts",
		},
		{
			name: "keyword in fact description",
			item: &Item{Batch: &recorder.DeltaBatch{
				Facts: []recorder.FactDelta{{Description: "The duke was killed at dawn"}},
			}},
			want:   true,
			reason: "strong_change_keyword",
		},
		{
			name: "keyword in draft",
			item: &Item{
				Batch: &recorder.DeltaBatch{Facts: []recorder.FactDelta{{Description: "A quiet walk"}}},
				Draft: "They were married in secret.",
			},
			want:   true,
			reason: "strong_change_keyword",
		},
		{
			name: "keyword inside a word does not match",
			item: &Item{Batch: &recorder.DeltaBatch{
				Facts: []recorder.FactDelta{{Description: "She practiced her skill quietly"}},
			}},
			want:   false,
			reason: "low_significance",
		},
		{
			name: "single mundane fact",
			item: &Item{Batch: &recorder.DeltaBatch{
				Facts: []recorder.FactDelta{{Description: "They shared a meal"}},
			}},
			want:   false,
			reason: "low_significance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := DefaultDecider(tt.item)
			if got != tt.want || reason != tt.reason {
				t.Errorf("got (%v, %q), want (%v, %q)", got, reason, tt.want, tt.reason)
			}
		})
	}
}

func TestIdempotencySet(t *testing.T) {
	s := NewIdempotencySet()

	if s.Contains("k1") {
		t.Error("empty set must not contain k1")
	}
	if !s.Add("k1") {
		t.Error("first add must win")
	}
	if s.Add("k1") {
		t.Error("second add must lose")
	}
	if !s.Contains("k1") {
		t.Error("set must contain k1 after add")
	}
}

func TestWorker_CommitsSignificantBatch(t *testing.T) {
	committer := &fakeCommitter{}
	cache := &clearCounter{}
	w := NewWorker(committer, 8).WithCache(cache)
	w.Start(context.Background())

	if !w.Enqueue(&Item{Key: "batch-1", Batch: structuralBatch()}) {
		t.Fatal("enqueue refused")
	}
	w.Stop()

	if got := committer.count(); got != 1 {
		t.Errorf("expected 1 commit, got %d", got)
	}
	stats := w.Stats()
	if stats.Committed != 1 || stats.LastReason != "structural_change" || stats.LastKey != "batch-1" {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.LastCommittedAt.IsZero() {
		t.Error("LastCommittedAt not set")
	}
	if cache.clears != 1 {
		t.Errorf("expected 1 cache clear, got %d", cache.clears)
	}
}

func TestWorker_SameKeyCommitsOnce(t *testing.T) {
	committer := &fakeCommitter{}
	w := NewWorker(committer, 8)
	w.Start(context.Background())

	w.Enqueue(&Item{Key: "dup", Batch: structuralBatch()})
	w.Enqueue(&Item{Key: "dup", Batch: structuralBatch()})
	w.Stop()

	if got := committer.count(); got != 1 {
		t.Errorf("expected exactly 1 commit for duplicate key, got %d", got)
	}
	stats := w.Stats()
	if stats.Committed != 1 || stats.Skipped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.LastReason != "idempotent_skip" {
		t.Errorf("expected idempotent_skip, got %q", stats.LastReason)
	}
}

func TestWorker_FailedCommitStaysRetryable(t *testing.T) {
	committer := &fakeCommitter{fail: true}
	w := NewWorker(committer, 8)
	w.Start(context.Background())

	w.Enqueue(&Item{Key: "flaky", Batch: structuralBatch()})

	// Wait for the failure to land, then retry with the same key after the
	// store recovers; the failed attempt must not have consumed the key.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Stats().LastError != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := w.Stats().LastError; got != "store unavailable" {
		t.Fatalf("expected commit error, got %q", got)
	}

	committer.mu.Lock()
	committer.fail = false
	committer.mu.Unlock()

	w.Enqueue(&Item{Key: "flaky", Batch: structuralBatch()})
	w.Stop()

	if got := committer.count(); got != 2 {
		t.Errorf("expected retry to commit, got %d attempts", got)
	}
	if stats := w.Stats(); stats.Committed != 1 {
		t.Errorf("expected 1 successful commit, got %+v", stats)
	}
}

func TestWorker_SkipsLowSignificance(t *testing.T) {
	committer := &fakeCommitter{}
	w := NewWorker(committer, 8)
	w.Start(context.Background())

	w.Enqueue(&Item{Key: "minor", Batch: &recorder.DeltaBatch{
		Facts: []recorder.FactDelta{{Description: "They shared a meal"}},
	}})
	w.Stop()

	if got := committer.count(); got != 0 {
		t.Errorf("expected 0 commits, got %d", got)
	}
	stats := w.Stats()
	if stats.Skipped != 1 || stats.LastReason != "low_significance" {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestWorker_CustomDecider(t *testing.T) {
	committer := &fakeCommitter{}
	w := NewWorker(committer, 8).WithDecider(func(item *Item) (bool, string) {
		return true, "always"
	})
	w.Start(context.Background())

	w.Enqueue(&Item{Batch: &recorder.DeltaBatch{}})
	w.Stop()

	if got := committer.count(); got != 1 {
		t.Errorf("expected custom decider to commit, got %d", got)
	}
	if got := w.Stats().LastReason; got != "always" {
		t.Errorf("expected reason always, got %q", got)
	}
}

func TestWorker_EnqueueAfterStop(t *testing.T) {
	w := NewWorker(&fakeCommitter{}, 8)
	w.Start(context.Background())
	w.Stop()

	if w.Active() {
		t.Error("stopped worker must not be active")
	}
	if w.Enqueue(&Item{Batch: structuralBatch()}) {
		t.Error("stopped worker must refuse items")
	}
}

func TestWorker_EnqueueRacesStop(t *testing.T) {
	// Enqueuers racing a shutdown must either land in the queue or be
	// refused; a send on the closed queue would panic.
	for i := 0; i < 50; i++ {
		w := NewWorker(&fakeCommitter{}, 4)
		w.Start(context.Background())

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					w.Enqueue(&Item{Batch: structuralBatch()})
				}
			}()
		}
		w.Stop()
		wg.Wait()

		if w.Enqueue(&Item{Batch: structuralBatch()}) {
			t.Fatal("stopped worker accepted an item")
		}
	}
}

func TestWorker_EnqueueBeforeStart(t *testing.T) {
	w := NewWorker(&fakeCommitter{}, 8)

	if w.Enqueue(&Item{Batch: structuralBatch()}) {
		t.Error("unstarted worker must refuse items")
	}
}
