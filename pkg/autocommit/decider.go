// Package autocommit runs the background worker that promotes significant
// delta batches to persisted state without an explicit caller commit.
package autocommit

import (
	"strings"

	"github.com/dan-solli/fabula/pkg/recorder"
)

// Item is one queued auto-commit candidate: the batch plus the draft prose
// it was extracted from, keyed for exactly-once commits.
type Item struct {
	Key   string
	Batch *recorder.DeltaBatch
	Draft string
}

// DeciderFunc reports whether an item is significant enough to commit, and
// the reason either way.
type DeciderFunc func(item *Item) (bool, string)

// strongKeywords mark narrative changes that always warrant a commit.
// Leading spaces avoid matching inside words ("skill" is not " kill ").
var strongKeywords = []string{
	" kill ",
	" killed",
	" dies",
	" dead",
	" death",
	" marry",
	" married",
	" divorce",
	" betray",
	" broke up",
	" break up",
	" destroyed",
	" birth",
	" born",
}

// DefaultDecider commits on structural writes (new_* families, relations or
// relation states), on two or more facts, or on strong-change keywords in
// the fact descriptions or the draft. Everything else is skipped as low
// significance.
func DefaultDecider(item *Item) (bool, string) {
	batch := item.Batch
	if batch == nil {
		return false, "low_significance"
	}

	structural := batch.NewMultiverse != nil ||
		batch.NewUniverse != nil ||
		batch.NewArc != nil ||
		batch.NewStory != nil ||
		batch.NewScene != nil ||
		len(batch.NewEntities) > 0 ||
		len(batch.Relations) > 0 ||
		len(batch.RelationStates) > 0
	if structural {
		return true, "structural_change"
	}

	if len(batch.Facts) >= 2 {
		return true, "batch_facts"
	}

	var blobs []string
	for _, f := range batch.Facts {
		if f.Description != "" {
			blobs = append(blobs, strings.ToLower(f.Description))
		}
	}
	blobs = append(blobs, strings.ToLower(item.Draft))
	text := strings.Join(blobs, "\n")
	for _, kw := range strongKeywords {
		if strings.Contains(text, kw) {
			return true, "strong_change_keyword"
		}
	}

	return false, "low_significance"
}
