package fabula

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/fabula/pkg/graph"
	"github.com/dan-solli/fabula/pkg/metrics"
	"github.com/dan-solli/fabula/pkg/recorder"
	"github.com/dan-solli/fabula/pkg/rules"
)

func newTestFabula(t *testing.T, cfg Config) *Fabula {
	t.Helper()
	if cfg.DBPath == "" {
		cfg.DBPath = ":memory:"
	}
	f, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func worldBatch() *DeltaBatch {
	return &DeltaBatch{
		NewUniverse: &recorder.UniverseDelta{ID: "u1", Name: "Aerth"},
		NewEntities: []recorder.EntityDelta{
			{ID: "e1", Name: "Rogue", UniverseID: "u1"},
		},
	}
}

func TestCommitDeltaBatch_Persisted(t *testing.T) {
	f := newTestFabula(t, Config{})
	ctx := context.Background()

	result, err := f.CommitDeltaBatch(ctx, worldBatch(), ModePersisted)
	require.NoError(t, err)
	require.True(t, result.OK, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Written[recorder.FamilyUniverses])
	assert.Equal(t, 1, result.Written[recorder.FamilyEntities])

	out, err := f.Query(ctx, "entities_in_universe", map[string]interface{}{"universe_id": "u1"})
	require.NoError(t, err)
	rows := out.([]graph.Row)
	require.Len(t, rows, 1)
	assert.Equal(t, "e1", rows[0]["id"])
}

func TestCommitDeltaBatch_DryRunStagesOnly(t *testing.T) {
	f := newTestFabula(t, Config{})
	ctx := context.Background()

	result, err := f.CommitDeltaBatch(ctx, worldBatch(), ModeDryRun)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Empty(t, result.Written)
	assert.Equal(t, 1, f.StagedCount())

	// Nothing visible until the flush.
	out, err := f.Query(ctx, "entities_in_universe", map[string]interface{}{"universe_id": "u1"})
	require.NoError(t, err)
	assert.Empty(t, out.([]graph.Row))

	flushed := f.FlushStaged(ctx)
	require.True(t, flushed.OK, "errors: %v", flushed.Errors)
	assert.Equal(t, 1, flushed.Written[recorder.FamilyEntities])
	assert.Equal(t, 0, f.StagedCount())

	out, err = f.Query(ctx, "entities_in_universe", map[string]interface{}{"universe_id": "u1"})
	require.NoError(t, err)
	assert.Len(t, out.([]graph.Row), 1)
}

func TestCommitDeltaBatch_UnknownMode(t *testing.T) {
	f := newTestFabula(t, Config{})

	_, err := f.CommitDeltaBatch(context.Background(), worldBatch(), Mode("speculative"))
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestClearStaged(t *testing.T) {
	f := newTestFabula(t, Config{})
	ctx := context.Background()

	_, err := f.CommitDeltaBatch(ctx, worldBatch(), ModeDryRun)
	require.NoError(t, err)
	_, err = f.CommitDeltaBatch(ctx, worldBatch(), ModeDryRun)
	require.NoError(t, err)

	assert.Equal(t, 2, f.ClearStaged(ctx))
	assert.Equal(t, 0, f.StagedCount())

	flushed := f.FlushStaged(ctx)
	assert.True(t, flushed.OK)
	assert.Empty(t, flushed.Written)
}

func TestQuery_ErrorsSurface(t *testing.T) {
	f := newTestFabula(t, Config{})
	ctx := context.Background()

	_, err := f.Query(ctx, "drop_everything", nil)
	assert.Error(t, err)

	_, err = f.Query(ctx, "entities_in_scene", map[string]interface{}{})
	assert.Error(t, err)
}

func TestQuery_CacheInvalidatedByCommit(t *testing.T) {
	f := newTestFabula(t, Config{CacheEnabled: true, CacheTTL: 0})
	ctx := context.Background()

	_, err := f.CommitDeltaBatch(ctx, worldBatch(), ModePersisted)
	require.NoError(t, err)

	args := map[string]interface{}{"universe_id": "u1"}
	out, err := f.Query(ctx, "entities_in_universe", args)
	require.NoError(t, err)
	require.Len(t, out.([]graph.Row), 1)

	// A commit that writes clears the cache, so the new entity is visible.
	_, err = f.CommitDeltaBatch(ctx, &DeltaBatch{
		NewEntities: []recorder.EntityDelta{{ID: "e2", Name: "Bard", UniverseID: "u1"}},
	}, ModePersisted)
	require.NoError(t, err)

	out, err = f.Query(ctx, "entities_in_universe", args)
	require.NoError(t, err)
	assert.Len(t, out.([]graph.Row), 2)
}

func TestEvaluateRule(t *testing.T) {
	f := newTestFabula(t, Config{})
	ctx := context.Background()

	_, err := f.CommitDeltaBatch(ctx, &DeltaBatch{
		NewUniverse: &recorder.UniverseDelta{ID: "u1", Name: "Aerth"},
		NewEntities: []recorder.EntityDelta{
			{ID: "e1", Name: "Rogue", UniverseID: "u1"},
			{ID: "e2", Name: "Bard", UniverseID: "u1"},
		},
	}, ModePersisted)
	require.NoError(t, err)
	_, err = f.CommitDeltaBatch(ctx, &DeltaBatch{
		UniverseID: "u1",
		NewScene:   &recorder.SceneDelta{ID: "sc1", Participants: []string{"e1", "e2"}},
	}, ModePersisted)
	require.NoError(t, err)

	res := f.EvaluateRule(ctx, "max_participants", map[string]interface{}{
		"scene_id": "sc1", "limit": 1,
	})
	assert.Equal(t, rules.ResultViolations, res.Result)

	res = f.EvaluateRule(ctx, "max_participants", map[string]interface{}{
		"scene_id": "sc1", "limit": 5,
	})
	assert.Equal(t, rules.ResultOK, res.Result)
}

func TestAutoCommit_Disabled(t *testing.T) {
	f := newTestFabula(t, Config{})

	assert.False(t, f.EnqueueAutoCommit("k", worldBatch(), ""))
	_, ok := f.AutoCommitStats()
	assert.False(t, ok)
}

func TestAutoCommit_EndToEnd(t *testing.T) {
	f := newTestFabula(t, Config{AutoCommitEnabled: true, AutoCommitQueue: 8})
	ctx := context.Background()

	require.True(t, f.EnqueueAutoCommit("k1", worldBatch(), ""))
	require.True(t, f.EnqueueAutoCommit("k1", worldBatch(), ""))

	// Stop drains the queue; the duplicate key must not commit twice.
	f.worker.Stop()

	stats, ok := f.AutoCommitStats()
	require.True(t, ok)
	assert.Equal(t, 1, stats.Committed)
	assert.Equal(t, 1, stats.Skipped)

	out, err := f.Query(ctx, "entities_in_universe", map[string]interface{}{"universe_id": "u1"})
	require.NoError(t, err)
	assert.Len(t, out.([]graph.Row), 1)
}

func TestFlushStaged_JournalWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	f := newTestFabula(t, Config{JournalPath: path})
	ctx := context.Background()

	_, err := f.CommitDeltaBatch(ctx, worldBatch(), ModeDryRun)
	require.NoError(t, err)
	flushed := f.FlushStaged(ctx)
	require.True(t, flushed.OK)
	require.NoError(t, f.Close())

	assert.FileExists(t, path)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("FABULA_DB_PATH", "/tmp/fabula-test.db")
	t.Setenv("FABULA_CACHE_ENABLED", "true")
	t.Setenv("FABULA_CACHE_TTL", "90s")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/fabula-test.db", cfg.DBPath)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, "1m30s", cfg.CacheTTL.String())
	assert.Equal(t, 128, cfg.AutoCommitQueue)
}

type errorSpy struct {
	*metrics.NoopCollector
	recorded []string
}

func (s *errorSpy) RecordError(ctx context.Context, operation, errorType string) {
	s.recorded = append(s.recorded, operation+":"+errorType)
}

func TestCommit_FailureErrorTypeClassified(t *testing.T) {
	f := newTestFabula(t, Config{})
	spy := &errorSpy{NoopCollector: metrics.NewNoopCollector()}
	f.WithMetrics(spy)
	ctx := context.Background()

	// A fact with no resolvable scene is a validation failure, not a
	// blanket error type.
	result, err := f.CommitDeltaBatch(ctx, &DeltaBatch{
		Facts: []recorder.FactDelta{{Description: "orphan fact"}},
	}, ModePersisted)
	require.NoError(t, err)
	require.False(t, result.OK)
	assert.Equal(t, []string{"commit:" + ErrTypeValidation}, spy.recorded)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, ErrTypeTimeout},
		{recorder.ErrValidation, ErrTypeValidation},
		{graph.ErrTemplateNotFound, ErrTypeTemplate},
		{errors.New("database is locked"), ErrTypeDatabase},
		{errors.New("something odd"), ErrTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "err: %v", tt.err)
	}
}
