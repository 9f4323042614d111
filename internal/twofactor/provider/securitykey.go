package provider

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
	"github.com/authkit-dev/twostep/pkg/idx"
)

const (
	KeySecurityKey = "security_key"

	securityKeyPriority = 20

	attrKeyRecords     = "seckey:keys"
	attrRegChallenge   = "seckey:challenge:register"
	attrAuthChallenge  = "seckey:challenge:auth"
	keyChallengeBytes  = 32
	keyChallengeWindow = 5 * time.Minute
)

// SecurityKey implements the U2F challenge/response flow for hardware
// tokens. Challenges are single use and counters must strictly advance,
// which is what catches cloned keys.
type SecurityKey struct {
	attrs           store.Attributes
	appID           string
	secureTransport bool
	clientSupport   func(ctx context.Context) bool
	deps
}

type SecurityKeyOption func(*SecurityKey)

// WithKeyClientSupport injects the predicate reporting whether the
// calling client can talk to a token at all.
func WithKeyClientSupport(fn func(ctx context.Context) bool) SecurityKeyOption {
	return func(p *SecurityKey) { p.clientSupport = fn }
}

// WithKeyClock injects a clock for tests.
func WithKeyClock(clock func() time.Time) SecurityKeyOption {
	return func(p *SecurityKey) { p.clock = clock }
}

// WithKeyRandom injects the challenge entropy source for tests.
func WithKeyRandom(r io.Reader) SecurityKeyOption {
	return func(p *SecurityKey) { p.rand = r }
}

func NewSecurityKey(attrs store.Attributes, appID string, secureTransport bool, opts ...SecurityKeyOption) *SecurityKey {
	p := &SecurityKey{
		attrs:           attrs,
		appID:           appID,
		secureTransport: secureTransport,
		clientSupport:   func(context.Context) bool { return true },
	}
	p.rand = rand.Reader
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *SecurityKey) Key() string   { return KeySecurityKey }
func (p *SecurityKey) Label() string { return "Security Key" }
func (p *SecurityKey) Description() string {
	return "A hardware key that signs a per-login challenge."
}
func (p *SecurityKey) Priority() int { return securityKeyPriority }

func (p *SecurityKey) Capabilities() domain.Capability {
	return domain.CapIssuesChallenge | domain.CapHardware | domain.CapPublicKey
}

// IsAvailable wants a registered key, a secure transport, and a client
// that can reach the token.
func (p *SecurityKey) IsAvailable(ctx context.Context, userID string) (bool, error) {
	if !p.secureTransport || !p.clientSupport(ctx) {
		return false, nil
	}
	keys, _, err := p.loadKeys(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// IssueChallenge starts an authentication round: fresh single-use
// challenge bound to the registered handles.
func (p *SecurityKey) IssueChallenge(ctx context.Context, userID string) (domain.ChallengePayload, error) {
	keys, _, err := p.loadKeys(ctx, userID)
	if err != nil {
		return domain.ChallengePayload{}, err
	}
	if len(keys) == 0 {
		return domain.ChallengePayload{}, ErrNotEnrolled
	}

	challenge, expiry, err := p.storeChallenge(ctx, userID, attrAuthChallenge)
	if err != nil {
		return domain.ChallengePayload{}, err
	}

	handles := make([]string, len(keys))
	for i, k := range keys {
		handles[i] = k.Handle
	}

	return domain.ChallengePayload{
		Provider:   KeySecurityKey,
		Prompt:     "Touch your security key.",
		Challenge:  challenge,
		KeyHandles: handles,
		AppID:      p.appID,
		ExpiresAt:  &expiry,
	}, nil
}

// Verify checks a signed authentication response. The pending challenge
// is consumed whatever happens; a counter that fails to advance surfaces
// as ErrSignatureReplay.
func (p *SecurityKey) Verify(ctx context.Context, userID, proof string) (bool, error) {
	challenge, err := p.consumeChallenge(ctx, userID, attrAuthChallenge)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	if challenge.Expired(p.now()) {
		return false, ErrChallengeExpired
	}

	var resp signResponse
	if err := json.Unmarshal([]byte(proof), &resp); err != nil {
		return false, nil
	}

	clientDataRaw, err := decodeClientData(resp.ClientData, clientDataTypeSign, challenge.Challenge)
	if err != nil {
		return false, nil
	}

	sigData, err := base64.RawURLEncoding.DecodeString(resp.SignatureData)
	if err != nil {
		return false, nil
	}
	sig, err := parseSignatureData(sigData)
	if err != nil {
		return false, nil
	}

	appParam := sha256.Sum256([]byte(p.appID))
	challengeParam := sha256.Sum256(clientDataRaw)

	// Counter acceptance loops on CAS so a concurrent update to another
	// key's record cannot lose this one's advance.
	for {
		keys, raw, err := p.loadKeys(ctx, userID)
		if err != nil {
			return false, err
		}

		match := -1
		for i, k := range keys {
			if k.Handle == resp.KeyHandle {
				match = i
				break
			}
		}
		if match < 0 {
			return false, nil
		}

		pubRaw, err := base64.RawURLEncoding.DecodeString(keys[match].PublicKey)
		if err != nil {
			return false, fmt.Errorf("security key: stored public key: %w", err)
		}
		pub, err := decodePublicPoint(pubRaw)
		if err != nil {
			return false, fmt.Errorf("security key: stored public key: %w", err)
		}

		if err := verifyAuthenticationSignature(pub, sig, appParam, challengeParam); err != nil {
			return false, nil
		}

		if sig.Counter <= keys[match].Counter {
			return false, ErrSignatureReplay
		}

		keys[match].Counter = sig.Counter
		keys[match].LastUsedAt = p.now().UTC()

		next, err := json.Marshal(keys)
		if err != nil {
			return false, err
		}
		err = p.attrs.CompareAndSwap(ctx, userID, attrKeyRecords, raw, next)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

func (p *SecurityKey) UserSummary(ctx context.Context, userID string) (string, error) {
	keys, _, err := p.loadKeys(ctx, userID)
	if err != nil {
		return "", err
	}
	switch len(keys) {
	case 0:
		return "No security keys registered.", nil
	case 1:
		return "1 security key registered.", nil
	default:
		return fmt.Sprintf("%d security keys registered.", len(keys)), nil
	}
}

// StartRegistration mints a registration challenge. Existing handles
// ride along so the client can refuse to re-register a known token.
func (p *SecurityKey) StartRegistration(ctx context.Context, userID string) (domain.ChallengePayload, error) {
	keys, _, err := p.loadKeys(ctx, userID)
	if err != nil {
		return domain.ChallengePayload{}, err
	}

	challenge, expiry, err := p.storeChallenge(ctx, userID, attrRegChallenge)
	if err != nil {
		return domain.ChallengePayload{}, err
	}

	handles := make([]string, len(keys))
	for i, k := range keys {
		handles[i] = k.Handle
	}

	return domain.ChallengePayload{
		Provider:   KeySecurityKey,
		Prompt:     "Touch your security key to register it.",
		Challenge:  challenge,
		KeyHandles: handles,
		AppID:      p.appID,
		ExpiresAt:  &expiry,
	}, nil
}

// CompleteRegistration validates the attestation response and appends a
// key record. Every validation failure comes back as
// ErrRegistrationFailed with the cause attached.
func (p *SecurityKey) CompleteRegistration(ctx context.Context, userID, response string) (domain.KeyRecord, error) {
	challenge, err := p.consumeChallenge(ctx, userID, attrRegChallenge)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return domain.KeyRecord{}, fmt.Errorf("%w: no pending registration", ErrRegistrationFailed)
		}
		return domain.KeyRecord{}, err
	}
	if challenge.Expired(p.now()) {
		return domain.KeyRecord{}, ErrChallengeExpired
	}

	var resp registerResponse
	if err := json.Unmarshal([]byte(response), &resp); err != nil {
		return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	if resp.Version != u2fVersion {
		return domain.KeyRecord{}, fmt.Errorf("%w: unsupported version %q", ErrRegistrationFailed, resp.Version)
	}

	clientDataRaw, err := decodeClientData(resp.ClientData, clientDataTypeRegister, challenge.Challenge)
	if err != nil {
		return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	regData, err := base64.RawURLEncoding.DecodeString(resp.RegistrationData)
	if err != nil {
		return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	reg, err := parseRegistrationData(regData)
	if err != nil {
		return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	if _, err := decodePublicPoint(reg.PubKey); err != nil {
		return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	appParam := sha256.Sum256([]byte(p.appID))
	challengeParam := sha256.Sum256(clientDataRaw)
	if err := verifyRegistrationSignature(reg, appParam, challengeParam); err != nil {
		return domain.KeyRecord{}, fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	record := domain.KeyRecord{
		ID:          idx.New().String(),
		Handle:      base64.RawURLEncoding.EncodeToString(reg.KeyHandle),
		PublicKey:   base64.RawURLEncoding.EncodeToString(reg.PubKey),
		Certificate: base64.RawURLEncoding.EncodeToString(reg.CertDER),
		Counter:     0,
		CreatedAt:   p.now().UTC(),
	}

	err = p.mutateKeys(ctx, userID, func(keys []domain.KeyRecord) ([]domain.KeyRecord, error) {
		for _, k := range keys {
			if k.Handle == record.Handle {
				return nil, fmt.Errorf("%w: key already registered", ErrRegistrationFailed)
			}
		}
		record.Label = fmt.Sprintf("Security Key %d", len(keys)+1)
		return append(keys, record), nil
	})
	if err != nil {
		return domain.KeyRecord{}, err
	}
	return record, nil
}

// Keys lists the user's registered keys.
func (p *SecurityKey) Keys(ctx context.Context, userID string) ([]domain.KeyRecord, error) {
	keys, _, err := p.loadKeys(ctx, userID)
	return keys, err
}

// Rename sets the label on one key.
func (p *SecurityKey) Rename(ctx context.Context, userID, keyID, label string) error {
	return p.mutateKeys(ctx, userID, func(keys []domain.KeyRecord) ([]domain.KeyRecord, error) {
		for i := range keys {
			if keys[i].ID == keyID {
				keys[i].Label = label
				return keys, nil
			}
		}
		return nil, store.ErrNotFound
	})
}

// Remove deletes one key by ID.
func (p *SecurityKey) Remove(ctx context.Context, userID, keyID string) error {
	return p.mutateKeys(ctx, userID, func(keys []domain.KeyRecord) ([]domain.KeyRecord, error) {
		for i := range keys {
			if keys[i].ID == keyID {
				return append(keys[:i], keys[i+1:]...), nil
			}
		}
		return nil, store.ErrNotFound
	})
}

func (p *SecurityKey) loadKeys(ctx context.Context, userID string) ([]domain.KeyRecord, []byte, error) {
	raw, err := p.attrs.Get(ctx, userID, attrKeyRecords)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var keys []domain.KeyRecord
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, nil, err
	}
	return keys, raw, nil
}

// mutateKeys applies fn to the key list under a CAS retry loop.
func (p *SecurityKey) mutateKeys(ctx context.Context, userID string, fn func([]domain.KeyRecord) ([]domain.KeyRecord, error)) error {
	for {
		keys, raw, err := p.loadKeys(ctx, userID)
		if err != nil {
			return err
		}

		next, err := fn(keys)
		if err != nil {
			return err
		}

		var nextRaw []byte
		if len(next) > 0 {
			nextRaw, err = json.Marshal(next)
			if err != nil {
				return err
			}
		}

		err = p.attrs.CompareAndSwap(ctx, userID, attrKeyRecords, raw, nextRaw)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return err
	}
}

// storeChallenge mints and persists a fresh challenge under key,
// replacing any previous one.
func (p *SecurityKey) storeChallenge(ctx context.Context, userID, key string) (string, time.Time, error) {
	buf := make([]byte, keyChallengeBytes)
	if _, err := io.ReadFull(p.rand, buf); err != nil {
		return "", time.Time{}, fmt.Errorf("security key: challenge entropy: %w", err)
	}
	challenge := base64.RawURLEncoding.EncodeToString(buf)

	expiry := p.now().Add(keyChallengeWindow)
	raw, err := json.Marshal(domain.KeyChallenge{Challenge: challenge, ExpiresAt: expiry})
	if err != nil {
		return "", time.Time{}, err
	}
	if err := p.attrs.SetWithExpiry(ctx, userID, key, raw, expiry); err != nil {
		return "", time.Time{}, err
	}
	return challenge, expiry, nil
}

// consumeChallenge removes the pending challenge under key and returns
// it. Absence or losing the removal race comes back as the store error.
func (p *SecurityKey) consumeChallenge(ctx context.Context, userID, key string) (domain.KeyChallenge, error) {
	raw, err := p.attrs.Get(ctx, userID, key)
	if err != nil {
		return domain.KeyChallenge{}, err
	}
	if err := p.attrs.CompareAndSwap(ctx, userID, key, raw, nil); err != nil {
		return domain.KeyChallenge{}, err
	}

	var challenge domain.KeyChallenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return domain.KeyChallenge{}, err
	}
	return challenge, nil
}
