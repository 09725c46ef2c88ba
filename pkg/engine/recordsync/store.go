// Package recordsync upserts attributed occurrences into an external record store.
// Existing records are only read, never changed: the sync inserts what the store lacks.
package recordsync

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrUnprocessedItems is returned when a store accepted only part of a batch.
var ErrUnprocessedItems = errors.New("store left items unprocessed")

// Record is a row held by a Store. Fields are store-native values.
type Record struct {
	ID     string
	Fields map[string]any
}

// Store is a paginated, append-only record backend.
type Store interface {
	// Records lazily yields every record, requesting only the named fields.
	// Iteration stops at the first error or when the caller stops ranging.
	Records(ctx context.Context, fields []string) iter.Seq2[Record, error]
	// BatchCreate inserts at most MaxBatchSize records and returns how many were created.
	BatchCreate(ctx context.Context, records []map[string]any) (int, error)
	MaxBatchSize() int
}

// StoreError wraps a backend failure. Code carries the backend's error code when it has one.
type StoreError struct {
	Store string
	Op    string
	Code  string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Store, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
