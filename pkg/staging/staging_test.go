package staging

import (
	"context"
	"sync"
	"testing"

	"github.com/dan-solli/fabula/pkg/recorder"
)

// countingCommitter records committed batches and reports one write each.
type countingCommitter struct {
	mu      sync.Mutex
	batches []*recorder.DeltaBatch
	fail    bool
}

func (c *countingCommitter) Commit(ctx context.Context, batch *recorder.DeltaBatch) *recorder.CommitResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, batch)

	result := recorder.NewCommitResult()
	if c.fail {
		result.OK = false
		result.Errors = append(result.Errors, "forced failure")
		return result
	}
	result.Written[recorder.FamilyEntities] = 1
	return result
}

func TestStore_StageAndPending(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if got := s.Pending(); got != 0 {
		t.Fatalf("expected 0 pending, got %d", got)
	}

	s.Stage(ctx, &recorder.DeltaBatch{UniverseID: "u1"})
	s.Stage(ctx, &recorder.DeltaBatch{UniverseID: "u2"})

	if got := s.Pending(); got != 2 {
		t.Errorf("expected 2 pending, got %d", got)
	}
}

func TestStore_DrainAllClaimsAtomically(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	s.Stage(ctx, &recorder.DeltaBatch{UniverseID: "u1"})
	s.Stage(ctx, &recorder.DeltaBatch{UniverseID: "u2"})

	first := s.DrainAll()
	if len(first) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(first))
	}
	if first[0].UniverseID != "u1" || first[1].UniverseID != "u2" {
		t.Errorf("staging order not preserved: %v", first)
	}

	if second := s.DrainAll(); len(second) != 0 {
		t.Errorf("second drain should be empty, got %d", len(second))
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("expected 0 pending after drain, got %d", got)
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	s.Stage(ctx, &recorder.DeltaBatch{})
	s.Stage(ctx, &recorder.DeltaBatch{})

	if got := s.Clear(ctx); got != 2 {
		t.Errorf("expected 2 cleared, got %d", got)
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("expected 0 pending after clear, got %d", got)
	}
	if got := s.Clear(ctx); got != 0 {
		t.Errorf("expected 0 on empty clear, got %d", got)
	}
}

func TestStore_FlushCommitsInOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	committer := &countingCommitter{}

	s.Stage(ctx, &recorder.DeltaBatch{UniverseID: "u1"})
	s.Stage(ctx, &recorder.DeltaBatch{UniverseID: "u2"})
	s.Stage(ctx, &recorder.DeltaBatch{UniverseID: "u3"})

	result := s.Flush(ctx, committer)
	if !result.OK {
		t.Fatalf("flush failed: %v", result.Errors)
	}
	if result.Written[recorder.FamilyEntities] != 3 {
		t.Errorf("expected 3 aggregate writes, got %v", result.Written)
	}
	if len(committer.batches) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(committer.batches))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if committer.batches[i].UniverseID != want {
			t.Errorf("commit %d: expected %s, got %s", i, want, committer.batches[i].UniverseID)
		}
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("expected 0 pending after flush, got %d", got)
	}
}

func TestStore_FlushAggregatesFailure(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	committer := &countingCommitter{fail: true}

	s.Stage(ctx, &recorder.DeltaBatch{})

	result := s.Flush(ctx, committer)
	if result.OK {
		t.Error("expected aggregate failure")
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error, got %v", result.Errors)
	}
}

func TestStore_FlushEmptyIsNoop(t *testing.T) {
	s := NewStore()
	committer := &countingCommitter{}

	result := s.Flush(context.Background(), committer)
	if !result.OK {
		t.Error("empty flush must succeed")
	}
	if len(result.Written) != 0 {
		t.Errorf("empty flush must write nothing, got %v", result.Written)
	}
	if len(committer.batches) != 0 {
		t.Errorf("empty flush must not commit, got %d", len(committer.batches))
	}
}
