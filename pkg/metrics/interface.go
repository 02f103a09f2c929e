package metrics

import "context"

// Collector is the interface for metrics collection.
// Implementations include the Prometheus-backed collector and the no-op
// collector used when metrics are not wired up.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordWrites(ctx context.Context, family string, count int)
	RecordError(ctx context.Context, operation string, errorType string)
	RecordCacheAccess(ctx context.Context, hit bool)
	SetStorageCount(ctx context.Context, storageType string, count int64)
}
