// Package kvstore is the narrow key/value abstraction the journal and
// dataset packages persist through. The concrete backend is left
// pluggable behind this interface, in the shape of a generic interface
// fronting a concrete SQL engine plus key-prefixed get/put/scan helpers.
package kvstore

import "context"

// Store is a durable, ordered key/value namespace. Keys sort
// lexicographically, since callers rely on prefix and range scans to
// return entries in tick order.
type Store interface {
	// Get returns the value for key, or ok=false if absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Put writes key/value, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPrefix calls fn for every key with the given prefix, in
	// lexicographic order, until fn returns false or all matches are
	// exhausted.
	ScanPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error

	// ScanRange calls fn for every key in [start, end), in lexicographic
	// order, until fn returns false or the range is exhausted.
	ScanRange(ctx context.Context, start, end string, fn func(key string, value []byte) bool) error

	// Batch atomically applies a set of writes.
	Batch(ctx context.Context, fn func(b Batch) error) error

	// Close releases underlying resources.
	Close() error
}

// Batch accumulates writes for atomic commit.
type Batch interface {
	Put(key string, value []byte)
	Delete(key string)
}
