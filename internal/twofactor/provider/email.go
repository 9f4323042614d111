package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
	"github.com/authkit-dev/twostep/internal/twofactor/mail"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
	"github.com/authkit-dev/twostep/pkg/cryptox"
)

const (
	KeyEmail = "email"

	emailPriority = 60
	emailDigits   = 8

	attrEmailToken = "email:token"

	emailTokenWindow = 15 * time.Minute
)

// Email sends a one-time code to the user's address on file. Only the
// code's fingerprint is stored, and a stored code is consumed by any
// verification attempt, right or wrong.
type Email struct {
	attrs     store.Attributes
	directory UserDirectory
	mailer    mail.Mailer
	issuer    string
	window    time.Duration
	deps
}

type EmailOption func(*Email)

// WithEmailWindow overrides how long a sent code stays valid.
func WithEmailWindow(d time.Duration) EmailOption {
	return func(p *Email) { p.window = d }
}

// WithEmailClock injects a clock for tests.
func WithEmailClock(clock func() time.Time) EmailOption {
	return func(p *Email) { p.clock = clock }
}

func NewEmail(attrs store.Attributes, directory UserDirectory, mailer mail.Mailer, issuer string, opts ...EmailOption) *Email {
	p := &Email{
		attrs:     attrs,
		directory: directory,
		mailer:    mailer,
		issuer:    issuer,
		window:    emailTokenWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Email) Key() string         { return KeyEmail }
func (p *Email) Label() string       { return "Email Code" }
func (p *Email) Description() string { return "A one-time code sent to your email address." }
func (p *Email) Priority() int       { return emailPriority }

func (p *Email) Capabilities() domain.Capability {
	return domain.CapIssuesChallenge | domain.CapBackup | domain.CapOneTimeCode
}

// IsAvailable requires a syntactically valid address on file.
func (p *Email) IsAvailable(ctx context.Context, userID string) (bool, error) {
	addr, err := p.directory.Email(ctx, userID)
	if err != nil {
		return false, err
	}
	if addr == "" {
		return false, nil
	}
	_, err = netmail.ParseAddress(addr)
	return err == nil, nil
}

// IssueChallenge generates a fresh code, replaces any pending one, and
// mails the plaintext. Only the fingerprint is persisted.
func (p *Email) IssueChallenge(ctx context.Context, userID string) (domain.ChallengePayload, error) {
	addr, err := p.directory.Email(ctx, userID)
	if err != nil {
		return domain.ChallengePayload{}, err
	}
	if _, err := netmail.ParseAddress(addr); err != nil {
		return domain.ChallengePayload{}, fmt.Errorf("email: no valid address on file: %w", err)
	}

	code, err := cryptox.GenerateNumericCode(emailDigits)
	if err != nil {
		return domain.ChallengePayload{}, err
	}

	expiry := p.now().Add(p.window)
	raw, err := json.Marshal(domain.EmailToken{
		Fingerprint: cryptox.FingerprintToken(code),
		ExpiresAt:   expiry,
	})
	if err != nil {
		return domain.ChallengePayload{}, err
	}
	if err := p.attrs.SetWithExpiry(ctx, userID, attrEmailToken, raw, expiry); err != nil {
		return domain.ChallengePayload{}, err
	}

	subject := fmt.Sprintf("%s verification code", p.issuer)
	body := fmt.Sprintf("Your verification code is: %s\n\nIt expires in %d minutes. If you did not request it, ignore this message.",
		code, int(p.window.Minutes()))
	if err := p.mailer.Send(ctx, addr, subject, body); err != nil {
		return domain.ChallengePayload{}, fmt.Errorf("email: send code: %w", err)
	}

	return domain.ChallengePayload{
		Provider:  KeyEmail,
		Prompt:    fmt.Sprintf("Enter the code sent to %s.", maskAddress(addr)),
		ExpiresAt: &expiry,
	}, nil
}

// Verify consumes the stored token no matter the outcome, then compares
// fingerprints in constant time.
func (p *Email) Verify(ctx context.Context, userID, proof string) (bool, error) {
	raw, err := p.attrs.Get(ctx, userID, attrEmailToken)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Consume first. A racing attempt that loses the swap gets nothing
	// to verify against.
	if err := p.attrs.CompareAndSwap(ctx, userID, attrEmailToken, raw, nil); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	var token domain.EmailToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return false, err
	}
	if token.Expired(p.now()) {
		return false, ErrChallengeExpired
	}

	return cryptox.ConstantTimeEqualsString(token.Fingerprint, cryptox.FingerprintToken(proof)), nil
}

func (p *Email) UserSummary(ctx context.Context, userID string) (string, error) {
	addr, err := p.directory.Email(ctx, userID)
	if err != nil {
		return "", err
	}
	if addr == "" {
		return "No email address on file.", nil
	}
	return fmt.Sprintf("Codes are sent to %s.", maskAddress(addr)), nil
}

// maskAddress hides most of the local part, keeping enough for the user
// to recognize their own address.
func maskAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		return addr
	}
	local, domainPart := addr[:at], addr[at:]
	if len(local) <= 2 {
		return local[:1] + "***" + domainPart
	}
	return local[:2] + "***" + domainPart
}
