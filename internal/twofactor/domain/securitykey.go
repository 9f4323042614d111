package domain

import "time"

// KeyRecord is one registered hardware security key.
type KeyRecord struct {
	ID          string    `json:"id"`          // ULID
	Handle      string    `json:"handle"`      // base64url key handle from the token
	PublicKey   string    `json:"public_key"`  // base64url 65-byte uncompressed P-256 point
	Certificate string    `json:"certificate"` // base64url DER attestation cert
	Counter     uint32    `json:"counter"`     // last accepted signature counter
	Label       string    `json:"label"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

// KeyChallenge is pending signing material for registration or
// authentication, persisted until used or expired.
type KeyChallenge struct {
	Challenge string    `json:"challenge"` // base64url 32 random bytes
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge is past its window.
func (c KeyChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
