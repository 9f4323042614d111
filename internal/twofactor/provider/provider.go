// Package provider implements the pluggable second-factor methods and
// the registry that decides which of them a user may complete a login
// with.
package provider

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
)

var (
	// ErrChallengeExpired reports a verification attempt against
	// challenge material that is past its window.
	ErrChallengeExpired = errors.New("provider: challenge expired")

	// ErrSignatureReplay reports a security key response whose counter
	// did not advance. A cloned token is a possible cause, so callers
	// should surface this distinctly.
	ErrSignatureReplay = errors.New("provider: signature counter replay")

	// ErrRegistrationFailed reports an attestation response that did
	// not validate.
	ErrRegistrationFailed = errors.New("provider: registration failed")

	// ErrNotEnrolled reports an operation against a provider the user
	// has no enrollment for.
	ErrNotEnrolled = errors.New("provider: not enrolled")
)

// Provider is one way a user can complete the second step of a login.
//
// Verify must be free of side effects on failure, except that providers
// with single-use challenge material consume it on any attempt.
type Provider interface {
	// Key is the stable identifier, e.g. "totp".
	Key() string

	Label() string
	Description() string

	// Priority orders providers; lower is tried first.
	Priority() int

	Capabilities() domain.Capability

	// IsAvailable reports whether the user can complete a login with
	// this provider right now.
	IsAvailable(ctx context.Context, userID string) (bool, error)

	// IssueChallenge prepares whatever the user needs to produce a
	// proof, sending codes or minting signing material as required.
	IssueChallenge(ctx context.Context, userID string) (domain.ChallengePayload, error)

	// Verify checks a submitted proof. A wrong proof is (false, nil);
	// errors are structural.
	Verify(ctx context.Context, userID, proof string) (bool, error)

	// UserSummary is a short user-facing description of the user's
	// enrollment state, e.g. how many backup codes remain.
	UserSummary(ctx context.Context, userID string) (string, error)
}

// UserDirectory resolves user contact details owned by the host
// application.
type UserDirectory interface {
	// Email returns the user's address or an empty string when the
	// user has none on file.
	Email(ctx context.Context, userID string) (string, error)
}

// Descriptor builds the catalog entry for a provider.
func Descriptor(p Provider) domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		Key:          p.Key(),
		Label:        p.Label(),
		Description:  p.Description(),
		Priority:     p.Priority(),
		Method:       p.Capabilities().Method(),
		Capabilities: p.Capabilities(),
	}
}

// deps are the injectable collaborators shared by every provider, with
// real defaults for production use.
type deps struct {
	clock func() time.Time
	rand  io.Reader
}

func (d *deps) now() time.Time {
	if d.clock == nil {
		return time.Now()
	}
	return d.clock()
}
