package jwtx

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates EdDSA assertion tokens against a set of known
// public keys, looked up by kid.
type Verifier struct {
	keys   map[string]ed25519.PublicKey
	issuer string
	aud    []string
}

// NewVerifier builds a Verifier from one or more published JWKs.
func NewVerifier(jwks JWKS, issuer string, aud []string) (*Verifier, error) {
	keys := make(map[string]ed25519.PublicKey, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		pub, err := jwk.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("jwtx: key %q: %w", jwk.Kid, err)
		}
		keys[jwk.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwtx: empty key set")
	}
	return &Verifier{keys: keys, issuer: issuer, aud: aud}, nil
}

// Verify validates the compact JWT and returns its parsed claims.
func (v *Verifier) Verify(tokenStr string) (*AssertionClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))

	token, err := parser.ParseWithClaims(tokenStr, &AssertionClaims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("jwtx: missing kid")
		}
		pub, ok := v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("jwtx: unknown kid %q", kid)
		}
		return pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse or verify: %w", err)
	}

	claims, ok := token.Claims.(*AssertionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("jwtx: invalid token claims")
	}

	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return nil, err
	}
	if err := claims.ValidateAudience(v.aud); err != nil {
		return nil, err
	}
	if err := claims.ValidateExpiry(); err != nil {
		return nil, err
	}

	return claims, nil
}
