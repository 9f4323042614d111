package domain

import "time"

// ProviderDescriptor is the catalog entry for a registered provider.
type ProviderDescriptor struct {
	Key          string     `json:"key"`
	Label        string     `json:"label"`
	Description  string     `json:"description"`
	Priority     int        `json:"priority"` // lower is tried first
	Method       string     `json:"method"`   // otp, time_based_otp, single_use_code, public_key_challenge
	Capabilities Capability `json:"-"`
}

// ProviderStatus is a descriptor enriched with one user's state, used
// by the settings surface.
type ProviderStatus struct {
	ProviderDescriptor

	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	Summary   string `json:"summary"`
}

// ChallengePayload is what a provider hands the login flow when a
// challenge is issued. TOTP needs nothing beyond a prompt; email reports
// where the code went; security keys carry signing material.
type ChallengePayload struct {
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`

	// Challenge is base64url random material for signing providers.
	Challenge string `json:"challenge,omitempty"`

	// KeyHandles lists the registered key handles a signing client may
	// try, base64url encoded.
	KeyHandles []string `json:"key_handles,omitempty"`

	// AppID is the application identity the signing client must bind to.
	AppID string `json:"app_id,omitempty"`

	// ExpiresAt bounds challenge material that is persisted server-side.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
