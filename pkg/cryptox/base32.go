package cryptox

import (
	"encoding/base32"
	"errors"
	"strings"
)

// ErrInvalidEncoding reports input that is not valid unpadded RFC 4648
// base32 (alphabet A-Z2-7).
var ErrInvalidEncoding = errors.New("cryptox: invalid base32 encoding")

// Authenticator apps exchange TOTP secrets as unpadded base32, so that is
// the only variant we speak.
var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeBase32 encodes raw bytes as unpadded RFC 4648 base32.
func EncodeBase32(b []byte) string {
	return base32NoPad.EncodeToString(b)
}

// DecodeBase32 decodes an unpadded base32 string. Lowercase input is
// accepted and normalized, matching what users paste from authenticator
// apps. Any character outside A-Z2-7 yields ErrInvalidEncoding.
func DecodeBase32(s string) ([]byte, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	b, err := base32NoPad.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	return b, nil
}
