package metrics

import "context"

// NoopCollector is a no-op implementation used when metrics are not wired up.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordOperation does nothing
func (n *NoopCollector) RecordOperation(ctx context.Context, operation string, status string, durationMs int64) {
}

// RecordWrites does nothing
func (n *NoopCollector) RecordWrites(ctx context.Context, family string, count int) {
}

// RecordError does nothing
func (n *NoopCollector) RecordError(ctx context.Context, operation string, errorType string) {
}

// RecordCacheAccess does nothing
func (n *NoopCollector) RecordCacheAccess(ctx context.Context, hit bool) {
}

// SetStorageCount does nothing
func (n *NoopCollector) SetStorageCount(ctx context.Context, storageType string, count int64) {
}
