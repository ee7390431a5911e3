package repository

import "context"

// KeyValueStore is the persisted store used for the job list.
// Values are JSON-serialised by the implementation.
type KeyValueStore interface {
	// Get decodes the value at key into dst. It reports false, leaving dst untouched,
	// when the key does not exist.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}
