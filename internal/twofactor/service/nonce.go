// Package service orchestrates the second-factor login flow: nonce
// lifecycle, provider selection, verification, and the background
// cleanup of expired state.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
	"github.com/authkit-dev/twostep/pkg/cryptox"
)

const (
	attrLoginNonce = "login:nonce"

	// DefaultNonceWindow is how long a login nonce stays valid.
	DefaultNonceWindow = 5 * time.Minute

	nonceRandomBytes = 16
)

var (
	// ErrNonceExpired reports a nonce submitted after its window.
	ErrNonceExpired = errors.New("service: login nonce expired")

	// ErrNonceMismatch reports a nonce that is absent, already used, or
	// simply wrong.
	ErrNonceMismatch = errors.New("service: login nonce mismatch")

	// ErrProviderUnavailable reports an explicit selection of a
	// provider the user cannot use.
	ErrProviderUnavailable = errors.New("service: provider unavailable")
)

// NonceManager issues and checks the single-use nonce that ties the two
// halves of a login together. A nonce is consumed by ANY verification
// attempt, successful or not.
type NonceManager struct {
	attrs  store.Attributes
	secret []byte
	window time.Duration
	clock  func() time.Time
	rand   io.Reader
}

type NonceOption func(*NonceManager)

// WithNonceWindow overrides the validity window.
func WithNonceWindow(d time.Duration) NonceOption {
	return func(m *NonceManager) { m.window = d }
}

// WithNonceClock injects a clock for tests.
func WithNonceClock(clock func() time.Time) NonceOption {
	return func(m *NonceManager) { m.clock = clock }
}

// WithNonceRandom injects the entropy source for tests.
func WithNonceRandom(r io.Reader) NonceOption {
	return func(m *NonceManager) { m.rand = r }
}

func NewNonceManager(attrs store.Attributes, secret []byte, opts ...NonceOption) *NonceManager {
	m := &NonceManager{
		attrs:  attrs,
		secret: secret,
		window: DefaultNonceWindow,
		clock:  time.Now,
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue mints a fresh nonce for the user, replacing any outstanding one.
// The key is an HMAC over the user, fresh randomness, and the clock, so
// it cannot be forged without the manager secret.
func (m *NonceManager) Issue(ctx context.Context, userID string) (domain.LoginNonce, error) {
	random := make([]byte, nonceRandomBytes)
	if _, err := io.ReadFull(m.rand, random); err != nil {
		return domain.LoginNonce{}, fmt.Errorf("nonce entropy: %w", err)
	}

	now := m.clock()
	msg := make([]byte, 0, len(userID)+nonceRandomBytes+8)
	msg = append(msg, userID...)
	msg = append(msg, random...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(now.UnixNano()))

	nonce := domain.LoginNonce{
		UserID:    userID,
		Key:       hex.EncodeToString(cryptox.HMAC(sha256.New, m.secret, msg)),
		ExpiresAt: now.Add(m.window).UTC(),
	}

	raw, err := json.Marshal(nonce)
	if err != nil {
		return domain.LoginNonce{}, err
	}
	if err := m.attrs.SetWithExpiry(ctx, userID, attrLoginNonce, raw, nonce.ExpiresAt); err != nil {
		return domain.LoginNonce{}, err
	}
	return nonce, nil
}

// Verify checks and consumes the user's outstanding nonce. Consumption
// is unconditional: absence, mismatch, and expiry all still burn the
// stored value, so a leaked nonce cannot be probed.
func (m *NonceManager) Verify(ctx context.Context, userID, key string) error {
	raw, err := m.attrs.Get(ctx, userID, attrLoginNonce)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNonceMismatch
	}
	if err != nil {
		return err
	}

	// Consume first. Losing the swap means a parallel attempt already
	// burned it.
	if err := m.attrs.CompareAndSwap(ctx, userID, attrLoginNonce, raw, nil); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrNonceMismatch
		}
		return err
	}

	var nonce domain.LoginNonce
	if err := json.Unmarshal(raw, &nonce); err != nil {
		return err
	}
	if nonce.Expired(m.clock()) {
		return ErrNonceExpired
	}
	if !cryptox.ConstantTimeEqualsString(nonce.Key, key) {
		return ErrNonceMismatch
	}
	return nil
}

// Invalidate discards any outstanding nonce for the user.
func (m *NonceManager) Invalidate(ctx context.Context, userID string) error {
	return m.attrs.Delete(ctx, userID, attrLoginNonce)
}
