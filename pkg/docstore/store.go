// Package docstore defines the hierarchical byte store boundary used for all
// durable artifacts: the human-editable alias master document, the compressed
// binary index caches, and any future downloaded datasets.
//
// The store addresses blobs by (dir, name). Implementations must provide
// atomic replace semantics on Write: readers never observe a half-written
// blob, and a crash mid-write leaves the previous blob intact.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Read] when the named blob does not exist.
// Callers that implement tiered fallback should treat it as "try the next
// source", not as a failure.
var ErrNotFound = errors.New("docstore: blob not found")

// Store is a hierarchical byte-addressable blob store.
//
// All methods are safe for concurrent use.
type Store interface {
	// Read returns the full content of the blob at dir/name.
	// Returns [ErrNotFound] when the blob does not exist.
	Read(ctx context.Context, dir, name string) ([]byte, error)

	// Write atomically replaces the blob at dir/name with data, creating
	// dir if needed. The replacement is all-or-nothing: concurrent readers
	// see either the previous content or data, never a mix.
	Write(ctx context.Context, dir, name string, data []byte) error

	// Exists reports whether a blob is present at dir/name.
	Exists(ctx context.Context, dir, name string) (bool, error)
}
