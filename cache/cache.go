// Package cache defines the projection snapshot cache contract consumed by
// the projection group, plus in-memory and SQLite-backed implementations.
package cache

import "context"

// ProjectionCache stores opaque projection snapshots keyed by the
// projection's full name (which embeds a version suffix, so bumping a
// projection's version naturally invalidates any prior snapshot under the
// old key). Implementations must be safe under concurrent writers with
// last-writer-wins semantics; a snapshot cache may be shared across
// multiple stream wrappers.
type ProjectionCache interface {
	// Load returns the bytes stored under key, or ok=false if no snapshot
	// exists for that key. A non-nil error indicates a storage failure,
	// distinct from "not found".
	Load(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Store writes data under key, overwriting any prior value.
	Store(ctx context.Context, key string, data []byte) error
}
