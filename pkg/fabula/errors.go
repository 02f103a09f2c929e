package fabula

import (
	"context"
	"errors"
	"strings"

	"github.com/dan-solli/fabula/pkg/graph"
	"github.com/dan-solli/fabula/pkg/query"
	"github.com/dan-solli/fabula/pkg/recorder"
)

// Error type constants for classification
const (
	ErrTypeTimeout     = "timeout"
	ErrTypeValidation  = "validation"
	ErrTypeTemplate    = "template"
	ErrTypeUnsupported = "unsupported"
	ErrTypeDatabase    = "database"
	ErrTypeUnknown     = "unknown"
)

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics and logs.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeTimeout
	}
	if errors.Is(err, recorder.ErrValidation) {
		return ErrTypeValidation
	}
	if errors.Is(err, graph.ErrTemplateNotFound) {
		return ErrTypeTemplate
	}
	if errors.Is(err, query.ErrUnsupportedQuery) ||
		errors.Is(err, query.ErrQueryNotImplemented) ||
		errors.Is(err, query.ErrMissingArgument) {
		return ErrTypeUnsupported
	}

	errStrLower := strings.ToLower(err.Error())
	if strings.Contains(errStrLower, "timeout") || strings.Contains(errStrLower, "deadline exceeded") {
		return ErrTypeTimeout
	}
	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "constraint") {
		return ErrTypeDatabase
	}
	if strings.Contains(errStrLower, "validation") ||
		strings.Contains(errStrLower, "required") ||
		strings.Contains(errStrLower, "invalid") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
