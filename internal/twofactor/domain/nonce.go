package domain

import "time"

// LoginNonce ties a pending second-factor attempt to a user. It is
// single use: any verification attempt consumes it, whatever the outcome.
type LoginNonce struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"` // hex HMAC-SHA256 digest
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the nonce is past its window at the given time.
func (n LoginNonce) Expired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}
