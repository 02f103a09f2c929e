// Package fabula provides the persistence and consistency core for
// interactive storytelling: a graph world model written through delta
// batches, a whitelisted read facade, staging for dry-run sessions, and a
// background auto-commit worker.
package fabula

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dan-solli/fabula/pkg/autocommit"
	"github.com/dan-solli/fabula/pkg/cache"
	"github.com/dan-solli/fabula/pkg/graph"
	"github.com/dan-solli/fabula/pkg/journal"
	"github.com/dan-solli/fabula/pkg/metrics"
	"github.com/dan-solli/fabula/pkg/query"
	"github.com/dan-solli/fabula/pkg/recorder"
	"github.com/dan-solli/fabula/pkg/rules"
	"github.com/dan-solli/fabula/pkg/staging"
)

// Mode selects how a delta batch is handled.
type Mode string

const (
	// ModeDryRun stages the batch without touching the graph; an explicit
	// flush applies it later.
	ModeDryRun Mode = "dry-run"

	// ModePersisted commits the batch to the graph immediately.
	ModePersisted Mode = "persisted"
)

// ErrUnknownMode indicates a mode outside dry-run/persisted.
var ErrUnknownMode = errors.New("unknown mode")

// Fabula is the main entry point for the persistence core.
type Fabula struct {
	config    Config
	store     *graph.SQLiteStore
	templates *graph.TemplateSource
	cache     cache.ReadCache
	recorder  *recorder.Service
	staged    *staging.Store
	queries   *query.Service
	rules     *rules.Evaluator
	worker    *autocommit.Worker
	journal   journal.Writer
	metrics   metrics.Collector
	logger    *slog.Logger
}

// New creates a Fabula instance from configuration.
func New(cfg Config) (*Fabula, error) {
	store, err := graph.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	if cfg.StoreTimeout > 0 {
		store.WithTimeout(cfg.StoreTimeout)
	}

	templates := graph.NewTemplateSource()
	if cfg.TemplatesPath != "" {
		if err := templates.LoadFile(cfg.TemplatesPath); err != nil {
			store.Close()
			return nil, fmt.Errorf("load query templates: %w", err)
		}
		if cfg.TemplatesWatch {
			if err := templates.Watch(); err != nil {
				store.Close()
				return nil, fmt.Errorf("watch query templates: %w", err)
			}
		}
	}

	var readCache cache.ReadCache = cache.Noop{}
	if cfg.CacheEnabled {
		rc, err := cache.NewRistrettoCache(cfg.CacheTTL)
		if err != nil {
			templates.Close()
			store.Close()
			return nil, err
		}
		readCache = rc
	}

	var jw journal.Writer = &journal.NoopWriter{}
	if cfg.JournalPath != "" {
		fw, err := journal.NewFileWriter(cfg.JournalPath)
		if err != nil {
			templates.Close()
			store.Close()
			return nil, err
		}
		jw = fw
	}

	queries, err := query.NewService(store, templates)
	if err != nil {
		jw.Close()
		templates.Close()
		store.Close()
		return nil, err
	}
	queries.WithCache(readCache)
	collector := metrics.NewNoopCollector()
	queries.WithCacheObserver(collector)

	rec := recorder.NewService(store)

	f := &Fabula{
		config:    cfg,
		store:     store,
		templates: templates,
		cache:     readCache,
		recorder:  rec,
		staged:    staging.NewStore().WithJournal(jw),
		queries:   queries,
		rules:     rules.NewEvaluator(queries),
		journal:   jw,
		metrics:   collector,
	}

	if cfg.AutoCommitEnabled {
		f.worker = autocommit.NewWorker(rec, cfg.AutoCommitQueue).WithCache(readCache)
		f.worker.Start(context.Background())
	}

	return f, nil
}

// WithLogger sets a structured logger on the facade and its components.
func (f *Fabula) WithLogger(logger *slog.Logger) *Fabula {
	f.logger = logger
	f.templates.WithLogger(logger)
	f.recorder.WithLogger(logger)
	f.staged.WithLogger(logger)
	f.queries.WithLogger(logger)
	f.rules.WithLogger(logger)
	if f.worker != nil {
		f.worker.WithLogger(logger)
	}
	return f
}

// WithMetrics sets the metrics collector and points the query dispatcher's
// cache accounting at it.
func (f *Fabula) WithMetrics(collector metrics.Collector) *Fabula {
	if collector != nil {
		f.metrics = collector
		f.queries.WithCacheObserver(collector)
	}
	return f
}

// CommitDeltaBatch handles one batch according to mode: dry-run stages it
// for a later flush, persisted commits it immediately. The returned result
// for a staged batch is successful with zero writes.
func (f *Fabula) CommitDeltaBatch(ctx context.Context, batch *recorder.DeltaBatch, mode Mode) (*recorder.CommitResult, error) {
	switch mode {
	case ModeDryRun:
		f.staged.Stage(ctx, batch)
		return recorder.NewCommitResult(), nil
	case ModePersisted:
		return f.commit(ctx, batch), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// FlushStaged commits every staged batch in staging order and returns the
// aggregate result. The read cache is cleared after a flush that wrote
// anything.
func (f *Fabula) FlushStaged(ctx context.Context) *recorder.CommitResult {
	start := time.Now()
	result := f.staged.Flush(ctx, f)
	if len(result.Written) > 0 {
		f.cache.Clear()
	}
	f.observe(ctx, "flush", result, time.Since(start))
	return result
}

// StagedCount returns the number of staged, uncommitted batches.
func (f *Fabula) StagedCount() int {
	return f.staged.Pending()
}

// ClearStaged discards all staged batches and returns how many were dropped.
func (f *Fabula) ClearStaged(ctx context.Context) int {
	return f.staged.Clear(ctx)
}

// Commit applies one batch directly, bypassing mode dispatch. It satisfies
// the committer contract used by staging and auto-commit.
func (f *Fabula) Commit(ctx context.Context, batch *recorder.DeltaBatch) *recorder.CommitResult {
	return f.recorder.Commit(ctx, batch)
}

func (f *Fabula) commit(ctx context.Context, batch *recorder.DeltaBatch) *recorder.CommitResult {
	start := time.Now()
	result := f.recorder.Commit(ctx, batch)
	if result.OK && len(result.Written) > 0 {
		f.cache.Clear()
	}
	f.observe(ctx, "commit", result, time.Since(start))
	return result
}

func (f *Fabula) observe(ctx context.Context, op string, result *recorder.CommitResult, elapsed time.Duration) {
	status := "success"
	if !result.OK {
		status = "error"
		for _, msg := range result.Errors {
			f.metrics.RecordError(ctx, op, ClassifyError(errors.New(msg)))
		}
	}
	f.metrics.RecordOperation(ctx, op, status, elapsed.Milliseconds())
	for family, count := range result.Written {
		f.metrics.RecordWrites(ctx, family, count)
	}
}

// Query dispatches one allow-listed read by method name.
func (f *Fabula) Query(ctx context.Context, method string, args map[string]interface{}) (interface{}, error) {
	start := time.Now()
	out, err := f.queries.Query(ctx, method, args)
	if err != nil {
		f.metrics.RecordError(ctx, "query", ClassifyError(err))
		f.metrics.RecordOperation(ctx, "query", "error", time.Since(start).Milliseconds())
		return nil, err
	}
	f.metrics.RecordOperation(ctx, "query", "success", time.Since(start).Milliseconds())
	return out, nil
}

// Queries exposes the typed query facade.
func (f *Fabula) Queries() *query.Service {
	return f.queries
}

// EvaluateRule runs one policy check. It never returns an error; failures
// degrade to violations in the result.
func (f *Fabula) EvaluateRule(ctx context.Context, action string, args map[string]interface{}) *rules.Result {
	return f.rules.Evaluate(ctx, action, args)
}

// EnqueueAutoCommit offers a batch to the auto-commit worker. Reports false
// when the worker is disabled, stopped, or its queue is full.
func (f *Fabula) EnqueueAutoCommit(key string, batch *recorder.DeltaBatch, draft string) bool {
	if f.worker == nil {
		return false
	}
	return f.worker.Enqueue(&autocommit.Item{Key: key, Batch: batch, Draft: draft})
}

// AutoCommitStats returns worker counters; ok is false when the worker is
// disabled.
func (f *Fabula) AutoCommitStats() (autocommit.Stats, bool) {
	if f.worker == nil {
		return autocommit.Stats{}, false
	}
	return f.worker.Stats(), true
}

// Store exposes the underlying graph store.
func (f *Fabula) Store() graph.Store {
	return f.store
}

// Close stops the worker, flushes the journal and releases all resources.
func (f *Fabula) Close() error {
	if f.worker != nil {
		f.worker.Stop()
	}
	var firstErr error
	if err := f.journal.Close(); err != nil {
		firstErr = err
	}
	if err := f.templates.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if rc, ok := f.cache.(*cache.RistrettoCache); ok {
		rc.Close()
	}
	if err := f.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
