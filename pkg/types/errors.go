package types

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInsufficientData   = errors.New("insufficient data")
	ErrEmbeddingFailed    = errors.New("embedding failed")
	ErrAllocationConflict = errors.New("allocation collision")
	ErrMalformedInput     = errors.New("malformed input")
	ErrInvalidRecord      = errors.New("invalid record")
)

// InsufficientDataError is returned when more clusters are requested than
// there are vectors to assign.
type InsufficientDataError struct {
	Requested int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d clusters requested for %d vectors", e.Requested, e.Available)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// EmbeddingError reports a batch whose embeddings could not be computed.
// No leaf partition is written from such a batch.
type EmbeddingError struct {
	BatchSize int
	RecordIDs []int64
	Err       error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed for batch of %d records: %v", e.BatchSize, e.Err)
}

// Unwrap exposes both the sentinel and the provider error.
func (e *EmbeddingError) Unwrap() []error { return []error{ErrEmbeddingFailed, e.Err} }

// AllocationCollisionError is returned when a partition file would replace
// an existing file.
type AllocationCollisionError struct {
	Path string
}

func (e *AllocationCollisionError) Error() string {
	return fmt.Sprintf("allocation collision: %s already exists", e.Path)
}

func (e *AllocationCollisionError) Unwrap() error { return ErrAllocationConflict }

// MalformedInputError describes an input file, or an element of an input
// array, that was skipped. Index is -1 when the whole file was rejected.
type MalformedInputError struct {
	Path   string
	Index  int
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("malformed input %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("malformed input %s[%d]: %s", e.Path, e.Index, e.Reason)
}

func (e *MalformedInputError) Unwrap() error { return ErrMalformedInput }
