package service

import (
	"context"
	"fmt"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
	"github.com/authkit-dev/twostep/internal/twofactor/provider"
	"github.com/authkit-dev/twostep/pkg/jwtx"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

// LoginService drives the second-factor step: the host application has
// already checked the first factor and hands us a user ID; we hand back
// nonces, challenges, and finally a signed assertion.
type LoginService struct {
	Registry *provider.Registry
	Nonces   *NonceManager
	Signer   *jwtx.Signer
	Issuer   string
	Audience []string

	// AssertionTTL bounds the signed result; zero means the jwtx
	// default.
	AssertionTTL time.Duration

	// Clock overrides the wall clock for assertion timestamps; nil
	// means time.Now.
	Clock func() time.Time
}

func (s *LoginService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Start opens the second-factor step for a user. When the user has no
// available providers the step is not required and the host may finish
// the login on the first factor alone.
func (s *LoginService) Start(ctx context.Context, userID string) (domain.LoginStart, error) {
	available, err := s.Registry.AvailableForUser(ctx, userID)
	if err != nil {
		return domain.LoginStart{}, err
	}
	if len(available) == 0 {
		return domain.LoginStart{Required: false}, nil
	}

	primary, err := s.Registry.PrimaryForUser(ctx, userID)
	if err != nil {
		return domain.LoginStart{}, err
	}
	return s.startWith(ctx, userID, primary, available)
}

// SwitchProvider restarts the step with an explicitly chosen provider,
// the backup-method path. The submitted nonce is consumed and a fresh
// one issued with the new provider's challenge.
func (s *LoginService) SwitchProvider(ctx context.Context, userID, nonceKey, providerKey string) (domain.LoginStart, error) {
	if err := s.Nonces.Verify(ctx, userID, nonceKey); err != nil {
		return domain.LoginStart{}, err
	}

	chosen, available, err := s.selectProvider(ctx, userID, providerKey)
	if err != nil {
		return domain.LoginStart{}, err
	}
	return s.startWith(ctx, userID, chosen, available)
}

// Verify consumes the nonce and checks the submitted proof. A wrong
// proof is not an error: the result carries a fresh nonce and a
// re-issued challenge for the retry.
func (s *LoginService) Verify(ctx context.Context, userID, nonceKey, providerKey, proof string) (domain.VerifyResult, error) {
	log := slogx.FromContext(ctx)

	if err := s.Nonces.Verify(ctx, userID, nonceKey); err != nil {
		return domain.VerifyResult{}, err
	}

	chosen, available, err := s.selectProvider(ctx, userID, providerKey)
	if err != nil {
		return domain.VerifyResult{}, err
	}

	ok, err := chosen.Verify(ctx, userID, proof)
	if err != nil {
		return domain.VerifyResult{}, fmt.Errorf("verify with %q: %w", providerKey, err)
	}

	if !ok {
		log.Info("second factor rejected", "user_id", userID, "provider", providerKey)

		retry, err := s.startWith(ctx, userID, chosen, available)
		if err != nil {
			return domain.VerifyResult{}, err
		}
		return domain.VerifyResult{Verified: false, Retry: &retry}, nil
	}

	assertion, err := s.sign(userID, chosen)
	if err != nil {
		return domain.VerifyResult{}, err
	}

	log.Info("second factor verified", "user_id", userID, "provider", providerKey)
	return domain.VerifyResult{Verified: true, Assertion: assertion}, nil
}

// selectProvider resolves an explicit provider choice against what the
// user can actually use.
func (s *LoginService) selectProvider(ctx context.Context, userID, providerKey string) (provider.Provider, []provider.Provider, error) {
	available, err := s.Registry.AvailableForUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range available {
		if p.Key() == providerKey {
			return p, available, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrProviderUnavailable, providerKey)
}

// startWith issues a nonce and the chosen provider's challenge.
func (s *LoginService) startWith(ctx context.Context, userID string, chosen provider.Provider, available []provider.Provider) (domain.LoginStart, error) {
	nonce, err := s.Nonces.Issue(ctx, userID)
	if err != nil {
		return domain.LoginStart{}, err
	}

	challenge, err := chosen.IssueChallenge(ctx, userID)
	if err != nil {
		return domain.LoginStart{}, fmt.Errorf("issue challenge for %q: %w", chosen.Key(), err)
	}

	descriptors := make([]domain.ProviderDescriptor, len(available))
	for i, p := range available {
		descriptors[i] = provider.Descriptor(p)
	}

	return domain.LoginStart{
		Required:  true,
		Nonce:     nonce.Key,
		ExpiresAt: nonce.ExpiresAt,
		Providers: descriptors,
		Challenge: &challenge,
	}, nil
}

func (s *LoginService) sign(userID string, p provider.Provider) (string, error) {
	claims := jwtx.NewAssertionClaims(
		s.Issuer, userID, p.Key(), amrFor(p),
		s.Audience, s.now(), s.AssertionTTL,
	)
	assertion, err := s.Signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return assertion, nil
}

// amrFor maps a provider to RFC 8176 authentication method references.
func amrFor(p provider.Provider) []string {
	if p.Capabilities().Has(domain.CapHardware) {
		return []string{"hwk", "mfa"}
	}
	return []string{"otp", "mfa"}
}
