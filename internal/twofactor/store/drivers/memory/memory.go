// Package memory provides an in-memory Store for tests and throwaway
// environments. All operations are guarded by a single mutex, which
// keeps CompareAndSwap trivially atomic.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/store"
)

type Driver struct {
	mu        sync.Mutex
	rows      map[attrKey]row
	allowList []string
	seeded    bool
}

type attrKey struct {
	userID string
	key    string
}

type row struct {
	value     []byte
	expiresAt *time.Time
}

func New() *Driver {
	return &Driver{rows: make(map[attrKey]row)}
}

func (d *Driver) Attributes() store.Attributes { return (*attributes)(d) }
func (d *Driver) AllowList() store.AllowList   { return (*allowList)(d) }

func (d *Driver) ApplyMigrations() error         { return nil }
func (d *Driver) Close() error                   { return nil }
func (d *Driver) Ping(ctx context.Context) error { return ctx.Err() }

type attributes Driver

func (a *attributes) Get(ctx context.Context, userID, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.rows[attrKey{userID, key}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(r.value), nil
}

func (a *attributes) Set(ctx context.Context, userID, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rows[attrKey{userID, key}] = row{value: slices.Clone(value)}
	return nil
}

func (a *attributes) SetWithExpiry(ctx context.Context, userID, key string, value []byte, expiresAt time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rows[attrKey{userID, key}] = row{value: slices.Clone(value), expiresAt: &expiresAt}
	return nil
}

func (a *attributes) Delete(ctx context.Context, userID, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.rows, attrKey{userID, key})
	return nil
}

func (a *attributes) CompareAndSwap(ctx context.Context, userID, key string, old, new []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := attrKey{userID, key}
	cur, ok := a.rows[k]

	if old == nil {
		if ok {
			return store.ErrConflict
		}
		if new == nil {
			return nil
		}
		a.rows[k] = row{value: slices.Clone(new)}
		return nil
	}

	if !ok || !bytes.Equal(cur.value, old) {
		return store.ErrConflict
	}
	if new == nil {
		delete(a.rows, k)
		return nil
	}
	a.rows[k] = row{value: slices.Clone(new), expiresAt: cur.expiresAt}
	return nil
}

func (a *attributes) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var n int64
	for k, r := range a.rows {
		if r.expiresAt != nil && now.After(*r.expiresAt) {
			delete(a.rows, k)
			n++
		}
	}
	return n, nil
}

type allowList Driver

func (l *allowList) Get(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.seeded {
		return nil, store.ErrNotFound
	}
	return slices.Clone(l.allowList), nil
}

func (l *allowList) SetIfAbsent(ctx context.Context, providers []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seeded {
		return slices.Clone(l.allowList), nil
	}
	l.allowList = slices.Clone(providers)
	l.seeded = true
	return slices.Clone(providers), nil
}

func (l *allowList) Set(ctx context.Context, providers []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.allowList = slices.Clone(providers)
	l.seeded = true
	return nil
}
