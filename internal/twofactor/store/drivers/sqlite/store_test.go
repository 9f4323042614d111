package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authkit-dev/twostep/internal/twofactor/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "twostep.db"))
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Ping(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Ping(t.Context()))
}

func TestAttributes_RoundTrip(t *testing.T) {
	ctx := t.Context()
	attrs := newTestStore(t).Attributes()

	_, err := attrs.Get(ctx, "u1", "totp:secret")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, attrs.Set(ctx, "u1", "totp:secret", []byte("s1")))
	got, err := attrs.Get(ctx, "u1", "totp:secret")
	require.NoError(t, err)
	require.Equal(t, []byte("s1"), got)

	// Overwrite replaces the value in place.
	require.NoError(t, attrs.Set(ctx, "u1", "totp:secret", []byte("s2")))
	got, err = attrs.Get(ctx, "u1", "totp:secret")
	require.NoError(t, err)
	require.Equal(t, []byte("s2"), got)

	require.NoError(t, attrs.Delete(ctx, "u1", "totp:secret"))
	_, err = attrs.Get(ctx, "u1", "totp:secret")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAttributes_CompareAndSwap(t *testing.T) {
	ctx := t.Context()
	attrs := newTestStore(t).Attributes()

	require.NoError(t, attrs.CompareAndSwap(ctx, "u1", "k", nil, []byte("v1")))
	require.ErrorIs(t, attrs.CompareAndSwap(ctx, "u1", "k", nil, []byte("v2")), store.ErrConflict)

	require.NoError(t, attrs.CompareAndSwap(ctx, "u1", "k", []byte("v1"), []byte("v2")))
	require.ErrorIs(t, attrs.CompareAndSwap(ctx, "u1", "k", []byte("v1"), []byte("v3")), store.ErrConflict)

	// Compare-and-delete consumes the row exactly once.
	require.NoError(t, attrs.CompareAndSwap(ctx, "u1", "k", []byte("v2"), nil))
	require.ErrorIs(t, attrs.CompareAndSwap(ctx, "u1", "k", []byte("v2"), nil), store.ErrConflict)
}

func TestAttributes_PurgeExpired(t *testing.T) {
	ctx := t.Context()
	attrs := newTestStore(t).Attributes()
	now := time.Now()

	require.NoError(t, attrs.SetWithExpiry(ctx, "u1", "login:nonce", []byte("n"), now.Add(-time.Minute)))
	require.NoError(t, attrs.SetWithExpiry(ctx, "u2", "email:token", []byte("t"), now.Add(time.Hour)))
	require.NoError(t, attrs.Set(ctx, "u1", "totp:secret", []byte("s")))

	n, err := attrs.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = attrs.Get(ctx, "u1", "login:nonce")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = attrs.Get(ctx, "u2", "email:token")
	require.NoError(t, err)
}

func TestAttributes_SetClearsExpiry(t *testing.T) {
	ctx := t.Context()
	attrs := newTestStore(t).Attributes()
	now := time.Now()

	require.NoError(t, attrs.SetWithExpiry(ctx, "u1", "k", []byte("v"), now.Add(-time.Minute)))
	require.NoError(t, attrs.Set(ctx, "u1", "k", []byte("v2")))

	n, err := attrs.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestAllowList(t *testing.T) {
	ctx := t.Context()
	list := newTestStore(t).AllowList()

	_, err := list.Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := list.SetIfAbsent(ctx, []string{"security_key", "totp"})
	require.NoError(t, err)
	require.Equal(t, []string{"security_key", "totp"}, got)

	got, err = list.SetIfAbsent(ctx, []string{"email"})
	require.NoError(t, err)
	require.Equal(t, []string{"security_key", "totp"}, got, "first seed wins")

	require.NoError(t, list.Set(ctx, []string{"email"}))
	got, err = list.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"email"}, got)
}
