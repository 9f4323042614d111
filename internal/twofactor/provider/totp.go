package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
	"github.com/authkit-dev/twostep/pkg/cryptox"
)

const (
	KeyTOTP = "totp"

	totpPriority = 40

	totpDigits   = 6
	totpStep     = 30 * time.Second
	totpSecretSz = 20 // 160 bits, RFC 4226 recommended minimum

	// attribute keys
	attrTOTPSecret  = "totp:secret"
	attrTOTPPending = "totp:pending"

	// pendingWindow bounds how long an unconfirmed secret stays around.
	totpPendingWindow = 15 * time.Minute
)

// pendingSecret is the stored shape of an enrollment awaiting its first
// valid code.
type pendingSecret struct {
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TOTP verifies codes from authenticator apps. Enrollment is two-phase:
// a generated secret only becomes active once the user proves they
// captured it by submitting one valid code.
type TOTP struct {
	attrs     store.Attributes
	issuer    string
	tolerance int // accepted drift in steps either side of now
	deps
}

type TOTPOption func(*TOTP)

// WithTOTPTolerance overrides the accepted step drift.
func WithTOTPTolerance(steps int) TOTPOption {
	return func(p *TOTP) { p.tolerance = steps }
}

// WithTOTPClock injects a clock for tests.
func WithTOTPClock(clock func() time.Time) TOTPOption {
	return func(p *TOTP) { p.clock = clock }
}

func NewTOTP(attrs store.Attributes, issuer string, opts ...TOTPOption) *TOTP {
	p := &TOTP{attrs: attrs, issuer: issuer, tolerance: 4}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TOTP) Key() string         { return KeyTOTP }
func (p *TOTP) Label() string       { return "Authenticator App" }
func (p *TOTP) Description() string { return "Time-based one-time codes from an authenticator app." }
func (p *TOTP) Priority() int       { return totpPriority }

func (p *TOTP) Capabilities() domain.Capability {
	return domain.CapOneTimeCode | domain.CapTimeBased
}

func (p *TOTP) IsAvailable(ctx context.Context, userID string) (bool, error) {
	_, err := p.attrs.Get(ctx, userID, attrTOTPSecret)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IssueChallenge has nothing to send; the user's device already holds
// the secret.
func (p *TOTP) IssueChallenge(ctx context.Context, userID string) (domain.ChallengePayload, error) {
	return domain.ChallengePayload{
		Provider: KeyTOTP,
		Prompt:   "Enter the code from your authenticator app.",
	}, nil
}

// Verify checks the submitted code against the confirmed secret within
// the drift tolerance.
func (p *TOTP) Verify(ctx context.Context, userID, proof string) (bool, error) {
	raw, err := p.attrs.Get(ctx, userID, attrTOTPSecret)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrNotEnrolled
	}
	if err != nil {
		return false, err
	}
	return p.codeMatches(string(raw), proof)
}

func (p *TOTP) UserSummary(ctx context.Context, userID string) (string, error) {
	ok, err := p.IsAvailable(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "Not set up.", nil
	}
	return "Authenticator app configured.", nil
}

// StartEnrollment mints a fresh secret and provisioning URL. Any prior
// pending secret is replaced; a confirmed secret is untouched until
// ConfirmEnrollment succeeds.
func (p *TOTP) StartEnrollment(ctx context.Context, userID, account string) (domain.TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: account,
		SecretSize:  totpSecretSz,
	})
	if err != nil {
		return domain.TOTPEnrollment{}, fmt.Errorf("totp: generate secret: %w", err)
	}

	expiry := p.now().Add(totpPendingWindow)
	raw, err := json.Marshal(pendingSecret{Secret: key.Secret(), ExpiresAt: expiry})
	if err != nil {
		return domain.TOTPEnrollment{}, err
	}
	if err := p.attrs.SetWithExpiry(ctx, userID, attrTOTPPending, raw, expiry); err != nil {
		return domain.TOTPEnrollment{}, err
	}

	return domain.TOTPEnrollment{
		Secret:  key.Secret(),
		URL:     key.URL(),
		Issuer:  p.issuer,
		Account: account,
	}, nil
}

// ConfirmEnrollment activates the pending secret once the user submits
// a valid code for it. A wrong code leaves the pending secret in place
// for another try.
func (p *TOTP) ConfirmEnrollment(ctx context.Context, userID, code string) (bool, error) {
	raw, err := p.attrs.Get(ctx, userID, attrTOTPPending)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrNotEnrolled
	}
	if err != nil {
		return false, err
	}

	var pending pendingSecret
	if err := json.Unmarshal(raw, &pending); err != nil {
		return false, err
	}
	if p.now().After(pending.ExpiresAt) {
		return false, ErrChallengeExpired
	}

	ok, err := p.codeMatches(pending.Secret, code)
	if err != nil || !ok {
		return false, err
	}

	if err := p.attrs.Set(ctx, userID, attrTOTPSecret, []byte(pending.Secret)); err != nil {
		return false, err
	}
	if err := p.attrs.Delete(ctx, userID, attrTOTPPending); err != nil {
		return false, err
	}
	return true, nil
}

// Disable removes the confirmed secret and any pending enrollment.
func (p *TOTP) Disable(ctx context.Context, userID string) error {
	if err := p.attrs.Delete(ctx, userID, attrTOTPSecret); err != nil {
		return err
	}
	return p.attrs.Delete(ctx, userID, attrTOTPPending)
}

// codeMatches walks candidate steps ordered by increasing distance from
// now, comparing each expected code in constant time.
func (p *TOTP) codeMatches(secret, code string) (bool, error) {
	key, err := cryptox.DecodeBase32(secret)
	if err != nil {
		return false, fmt.Errorf("totp: stored secret: %w", err)
	}

	step := uint64(p.now().Unix() / int64(totpStep/time.Second))
	for _, off := range driftOffsets(p.tolerance) {
		candidate := int64(step) + int64(off)
		if candidate < 0 {
			continue
		}
		expected := cryptox.HOTPCode(key, uint64(candidate), totpDigits)
		if cryptox.ConstantTimeEqualsString(expected, code) {
			return true, nil
		}
	}
	return false, nil
}

// driftOffsets yields 0, -1, +1, -2, +2, ... out to the tolerance, so
// the closest steps are tried first.
func driftOffsets(tolerance int) []int {
	offs := make([]int, 0, 2*tolerance+1)
	offs = append(offs, 0)
	for i := 1; i <= tolerance; i++ {
		offs = append(offs, -i, i)
	}
	return offs
}
