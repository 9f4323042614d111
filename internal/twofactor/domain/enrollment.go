package domain

import "time"

// TOTPEnrollment is returned when a new authenticator secret is issued.
// The secret only becomes active once the user confirms it with a valid
// code.
type TOTPEnrollment struct {
	Secret  string `json:"secret"`   // base32, shown once
	URL     string `json:"url"`      // otpauth:// provisioning URL
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}

// EmailToken is the stored shape of a pending emailed code. Only the
// fingerprint is kept; the plaintext goes out in the mail and nowhere else.
type EmailToken struct {
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its window.
func (t EmailToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// UserSettings holds a user's own provider configuration.
type UserSettings struct {
	// EnabledProviders are the provider keys the user turned on,
	// intersected with the site allow-list at read time.
	EnabledProviders []string `json:"enabled_providers"`

	// Primary is the user's preferred provider key, empty for the
	// priority-ordered default.
	Primary string `json:"primary,omitempty"`
}
