package common

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks caller errors such as an empty doc_id.
var ErrInvalidInput = errors.New("invalid input")

// InvalidInput wraps ErrInvalidInput with a message.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Ingestion phases reported by IngestionError.
const (
	PhaseChunking  = "CHUNKING"
	PhaseEmbedding = "EMBEDDING"
)

// IngestionError is fatal for a single document.
type IngestionError struct {
	DocID string
	Phase string
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion of %q failed during %s: %v", e.DocID, e.Phase, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// ExtractionError is recoverable: the document is kept in vector-only mode.
type ExtractionError struct {
	DocID string
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction for %q failed: %v", e.DocID, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// GraphMergeError describes a single entity or relationship that was skipped.
type GraphMergeError struct {
	Entity string
	Reason string
}

func (e *GraphMergeError) Error() string {
	return fmt.Sprintf("graph merge skipped %q: %s", e.Entity, e.Reason)
}

// SearchUnavailableError is returned alongside an empty result when the
// embedding or query backend cannot serve a search.
type SearchUnavailableError struct {
	Err error
}

func (e *SearchUnavailableError) Error() string {
	return fmt.Sprintf("search unavailable: %v", e.Err)
}

func (e *SearchUnavailableError) Unwrap() error { return e.Err }

// ConsistencyCheckError means entities could not be identified in the
// statement under test.
type ConsistencyCheckError struct {
	Err error
}

func (e *ConsistencyCheckError) Error() string {
	return fmt.Sprintf("consistency check degraded: %v", e.Err)
}

func (e *ConsistencyCheckError) Unwrap() error { return e.Err }

// IsSearchUnavailable reports whether err carries a SearchUnavailableError.
func IsSearchUnavailable(err error) bool {
	var target *SearchUnavailableError
	return errors.As(err, &target)
}
