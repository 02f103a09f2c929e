package journal

import "context"

// NoopWriter is a zero-overhead writer that does nothing. Used when no
// journal path is configured.
type NoopWriter struct{}

// Append does nothing.
func (n *NoopWriter) Append(ctx context.Context, entry *Entry) error {
	return nil
}

// Close does nothing.
func (n *NoopWriter) Close() error {
	return nil
}
