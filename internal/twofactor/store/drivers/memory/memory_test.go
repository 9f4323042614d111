package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authkit-dev/twostep/internal/twofactor/store"
)

func TestAttributes_GetSetDelete(t *testing.T) {
	ctx := t.Context()
	attrs := New().Attributes()

	_, err := attrs.Get(ctx, "u1", "totp:secret")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, attrs.Set(ctx, "u1", "totp:secret", []byte("s1")))

	got, err := attrs.Get(ctx, "u1", "totp:secret")
	require.NoError(t, err)
	require.Equal(t, []byte("s1"), got)

	// Same key for a different user is independent.
	_, err = attrs.Get(ctx, "u2", "totp:secret")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, attrs.Delete(ctx, "u1", "totp:secret"))
	_, err = attrs.Get(ctx, "u1", "totp:secret")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Deleting an absent key is fine.
	require.NoError(t, attrs.Delete(ctx, "u1", "totp:secret"))
}

func TestAttributes_CompareAndSwap(t *testing.T) {
	ctx := t.Context()
	attrs := New().Attributes()

	// old == nil inserts only when absent.
	require.NoError(t, attrs.CompareAndSwap(ctx, "u1", "k", nil, []byte("v1")))
	require.ErrorIs(t, attrs.CompareAndSwap(ctx, "u1", "k", nil, []byte("v2")), store.ErrConflict)

	// Replace with matching old succeeds exactly once.
	require.NoError(t, attrs.CompareAndSwap(ctx, "u1", "k", []byte("v1"), []byte("v2")))
	require.ErrorIs(t, attrs.CompareAndSwap(ctx, "u1", "k", []byte("v1"), []byte("v3")), store.ErrConflict)

	// new == nil is compare-and-delete.
	require.NoError(t, attrs.CompareAndSwap(ctx, "u1", "k", []byte("v2"), nil))
	_, err := attrs.Get(ctx, "u1", "k")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Deleting again conflicts since the row is gone.
	require.ErrorIs(t, attrs.CompareAndSwap(ctx, "u1", "k", []byte("v2"), nil), store.ErrConflict)
}

func TestAttributes_PurgeExpired(t *testing.T) {
	ctx := t.Context()
	attrs := New().Attributes()
	now := time.Now()

	require.NoError(t, attrs.SetWithExpiry(ctx, "u1", "login:nonce", []byte("n"), now.Add(-time.Minute)))
	require.NoError(t, attrs.SetWithExpiry(ctx, "u1", "email:token", []byte("t"), now.Add(time.Minute)))
	require.NoError(t, attrs.Set(ctx, "u1", "totp:secret", []byte("s")))

	n, err := attrs.PurgeExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = attrs.Get(ctx, "u1", "login:nonce")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = attrs.Get(ctx, "u1", "email:token")
	require.NoError(t, err)
	_, err = attrs.Get(ctx, "u1", "totp:secret")
	require.NoError(t, err)
}

func TestAllowList_SetIfAbsent(t *testing.T) {
	ctx := t.Context()
	list := New().AllowList()

	_, err := list.Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := list.SetIfAbsent(ctx, []string{"totp", "email"})
	require.NoError(t, err)
	require.Equal(t, []string{"totp", "email"}, got)

	// Second seed keeps the first list.
	got, err = list.SetIfAbsent(ctx, []string{"backup_codes"})
	require.NoError(t, err)
	require.Equal(t, []string{"totp", "email"}, got)

	require.NoError(t, list.Set(ctx, []string{"totp"}))
	got, err = list.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"totp"}, got)
}
