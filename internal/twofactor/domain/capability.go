package domain

// Capability is a bitmask describing what a second-factor provider can do.
type Capability uint8

const (
	// CapIssuesChallenge means the provider produces per-login challenge
	// material (an emailed code, a signing challenge). Providers without
	// it verify against long-lived state only.
	CapIssuesChallenge Capability = 1 << iota

	// CapBackup marks providers acceptable as a fallback method when the
	// primary is unavailable.
	CapBackup

	// CapHardware marks providers backed by a physical token.
	CapHardware

	// CapOneTimeCode marks providers whose proof is a short code the
	// user types in.
	CapOneTimeCode

	// CapTimeBased marks codes derived from the clock rather than
	// stored per user.
	CapTimeBased

	// CapSingleUse marks codes drawn from a pre-generated list, gone
	// after one successful use.
	CapSingleUse

	// CapPublicKey marks providers that verify an asymmetric signature
	// over a server challenge.
	CapPublicKey
)

// Has reports whether all bits in want are set.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Method names the authentication method family for catalog output.
func (c Capability) Method() string {
	switch {
	case c.Has(CapPublicKey):
		return "public_key_challenge"
	case c.Has(CapOneTimeCode | CapTimeBased):
		return "time_based_otp"
	case c.Has(CapOneTimeCode | CapSingleUse):
		return "single_use_code"
	case c.Has(CapOneTimeCode):
		return "otp"
	default:
		return ""
	}
}
