package domain

import "time"

// LoginStart is handed to the host application when a second-factor
// step begins or restarts.
type LoginStart struct {
	// Required is false when the user has no available providers, in
	// which case everything else is zero and the host may log in directly.
	Required bool `json:"required"`

	Nonce     string    `json:"nonce,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	// Providers the user can complete the step with, ascending priority.
	Providers []ProviderDescriptor `json:"providers,omitempty"`

	// Challenge from the selected provider (the primary on Start).
	Challenge *ChallengePayload `json:"challenge,omitempty"`
}

// VerifyResult reports the outcome of a proof submission. A wrong proof
// is a result, not an error: Rejected carries a fresh nonce and challenge
// so the user can retry.
type VerifyResult struct {
	Verified bool `json:"verified"`

	// Assertion is a signed statement of the completed check, set only
	// when Verified.
	Assertion string `json:"assertion,omitempty"`

	// Retry is the restarted step state, set only when not Verified.
	Retry *LoginStart `json:"retry,omitempty"`
}
