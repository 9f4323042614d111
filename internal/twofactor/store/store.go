// Package store defines the persistence contracts for per-user second
// factor state. Everything a provider keeps about a user lives in a
// namespaced attribute row; single-use consumption and counter updates
// go through CompareAndSwap rather than transactions.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrConflict reports a CompareAndSwap whose expected value no
	// longer matches, meaning another writer got there first.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// memory) implement this.
type Store interface {
	Attributes() Attributes
	AllowList() AllowList

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing storage is still reachable.
	Ping(ctx context.Context) error
}

// Attributes is a per-user key/value store with atomic swap semantics.
// Keys are provider-namespaced, e.g. "totp:secret" or "login:nonce".
type Attributes interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, userID, key string) ([]byte, error)

	// Set writes the value unconditionally, replacing any prior value
	// and clearing any expiry.
	Set(ctx context.Context, userID, key string, value []byte) error

	// SetWithExpiry writes the value with a purge deadline. The row
	// stays readable until housekeeping removes it; readers that care
	// about precise cutoffs check the expiry embedded in the value.
	SetWithExpiry(ctx context.Context, userID, key string, value []byte, expiresAt time.Time) error

	// Delete removes the value. Deleting an absent key is not an error.
	Delete(ctx context.Context, userID, key string) error

	// CompareAndSwap atomically replaces old with new. A nil old
	// requires the key to be absent; a nil new deletes the key. The
	// stored expiry is preserved on replace. Returns ErrConflict when
	// the current value differs from old.
	CompareAndSwap(ctx context.Context, userID, key string, old, new []byte) error

	// PurgeExpired deletes every row whose deadline passed, returning
	// how many went.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// AllowList is the site-wide set of enabled provider keys.
type AllowList interface {
	// Get returns the enabled provider keys, or ErrNotFound when the
	// list was never seeded.
	Get(ctx context.Context) ([]string, error)

	// SetIfAbsent seeds the list on first run and returns the effective
	// list, which is the existing one when already present.
	SetIfAbsent(ctx context.Context, providers []string) ([]string, error)

	// Set replaces the list outright.
	Set(ctx context.Context, providers []string) error
}
