package ports

import "context"

// SessionBackend persists opaque session values grouped by scope.
// A scope is a session ID or the reserved global scope.
type SessionBackend interface {
	// Get returns the value stored under key.
	// Returns domain.ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, scope, key string) ([]byte, error)

	// Set stores value under key.
	Set(ctx context.Context, scope, key string, value []byte) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, scope string, keys ...string) error

	// Keys lists the keys present in scope.
	Keys(ctx context.Context, scope string) ([]string, error)

	// DeleteAll removes every key of scope.
	DeleteAll(ctx context.Context, scope string) error
}
