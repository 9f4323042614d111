// Package jwtx signs and verifies the short-lived Ed25519 assertions
// handed back to the host application once a second factor is confirmed.
package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAssertionTTL is how long a completed-verification assertion
// stays valid. The host exchanges it for its own session promptly, so
// this stays short.
const DefaultAssertionTTL = 2 * time.Minute

var (
	ErrIssuer   = errors.New("jwtx: issuer mismatch")
	ErrAudience = errors.New("jwtx: audience mismatch")
	ErrExpired  = errors.New("jwtx: token expired")
)

// AssertionClaims state that a specific user completed a second-factor
// check with a specific provider at a specific time.
type AssertionClaims struct {
	jwt.RegisteredClaims

	// Provider key that satisfied the check, e.g. "totp".
	Provider string `json:"provider"`

	// Authentication Methods Reference, e.g. ["otp"] or ["hwk"].
	AMR []string `json:"amr,omitempty"`
}

// NewAssertionClaims builds claims for a completed verification.
func NewAssertionClaims(issuer, userID, provider string, amr []string, audience []string, now time.Time, ttl time.Duration) AssertionClaims {
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}
	return AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Provider: provider,
		AMR:      amr,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks the issuer when an expected value is configured.
func (c *AssertionClaims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience checks that at least one expected audience is present.
func (c *AssertionClaims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateExpiry checks the exp claim against the current time.
func (c *AssertionClaims) ValidateExpiry() error {
	if c.ExpiresAt == nil || time.Now().After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	return nil
}
