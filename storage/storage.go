// Package storage defines the key-value abstraction behind the client's two
// persistence tiers. The persistent tier survives restarts (the remember-me
// tier); the ephemeral tier lives only as long as the process.
package storage

import "errors"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

// KV is a minimal string-keyed blob store. Implementations must be safe for
// concurrent use.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Close releases any underlying resources.
	Close() error
}
