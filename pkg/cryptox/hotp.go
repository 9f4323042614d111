package cryptox

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 - SHA-1 is what RFC 4226 HOTP specifies
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"hash"
)

// HMAC computes an HMAC digest of msg with the given hash constructor.
func HMAC(h func() hash.Hash, key, msg []byte) []byte {
	mac := hmac.New(h, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// ConstantTimeEquals compares two byte slices without short-circuiting on
// the first mismatch. Use this for every secret or token comparison; a
// plain == on secret material leaks match length through timing.
func ConstantTimeEquals(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqualsString is ConstantTimeEquals for strings.
func ConstantTimeEqualsString(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HOTPCode computes an RFC 4226 HMAC-based one-time password for the
// given counter value, returned as a zero-padded decimal string.
//
// The truncation follows RFC 4226 section 5.3: the low nibble of the last
// digest byte selects a 4-byte window, the high bit is masked off, and
// the result is reduced mod 10^digits.
func HOTPCode(secret []byte, counter uint64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	sum := HMAC(sha1.New, secret, msg[:])

	offset := sum[len(sum)-1] & 0x0f
	value := (uint32(sum[offset]&0x7f) << 24) |
		(uint32(sum[offset+1]) << 16) |
		(uint32(sum[offset+2]) << 8) |
		uint32(sum[offset+3])

	mod := uint32(1)
	for range digits {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, value%mod)
}
