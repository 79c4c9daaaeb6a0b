// Package storage provides the bounded sample history used by the collector.
//
// A History keeps a single, global, insertion-ordered buffer of samples shared
// by every source identifier. Once the configured capacity is reached, each new
// sample evicts the oldest one regardless of its identifier, so a chatty source
// can push another source's history out entirely.
//
// Two backends are provided:
//   - MemoryHistory: fixed-capacity in-process ring. Infallible, not safe for
//     concurrent use; it is meant to be owned by a single goroutine.
//   - RedisHistory:  the same FIFO law on a Redis list. Fallible.
package storage

import (
	"context"
	"errors"
	"fmt"
	"unicode"
)

// MaxIdentifierLength bounds source identifiers accepted from the outside.
const MaxIdentifierLength = 256

// ErrInvalidIdentifier is returned by ValidateIdentifier.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Sample is one timestamped scalar reading tagged with its source identifier.
// Timestamp is expressed in Unix epoch milliseconds.
type Sample struct {
	Identifier string  `json:"identifier"`
	Timestamp  uint64  `json:"timestamp"`
	Value      float32 `json:"value"`
}

// ValidateIdentifier rejects identifiers that are empty, too long, or contain
// whitespace or control characters.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentifier, MaxIdentifierLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidIdentifier, id)
		}
	}
	return nil
}

// History is the store/fetch capability the storage actor drives.
//
// Store appends s as the newest entry, evicting the oldest entry first when the
// history is full. Fetch returns every buffered sample whose identifier matches,
// oldest first. An identifier with no samples yields an empty slice and a nil
// error.
//
// All errors returned by implementations are *StorageError.
type History interface {
	Store(ctx context.Context, s Sample) error
	Fetch(ctx context.Context, identifier string) ([]Sample, error)
}

// StorageError reports a failed history operation.
type StorageError struct {
	Op      string // "store" or "fetch"
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storeError(backend string, err error) error {
	return &StorageError{Op: "store", Backend: backend, Err: err}
}

func fetchError(backend string, err error) error {
	return &StorageError{Op: "fetch", Backend: backend, Err: err}
}
