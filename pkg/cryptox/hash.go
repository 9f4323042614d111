package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Backup codes are high-entropy and single-use, so
// these stay at the moderate RFC 9106 profile rather than the interactive
// password profile.
const (
	argonIterations  uint32 = 3
	argonMemory      uint32 = 64 * 1024
	argonParallelism uint8  = 2
	argonSaltLength         = 16
	argonKeyLength   uint32 = 32
)

// ErrHashMismatch reports that a value does not match its stored hash.
var ErrHashMismatch = errors.New("cryptox: hash mismatch")

// HashCode generates a PHC-format Argon2id hash string, including salt
// and parameters, for a single-use code.
func HashCode(code string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	sum := argon2.IDKey([]byte(code), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Sum := base64.RawStdEncoding.EncodeToString(sum)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonIterations, argonParallelism, b64Salt, b64Sum,
	), nil
}

// VerifyCode compares a plaintext code against a PHC-style Argon2id hash.
// Returns ErrHashMismatch when the code does not match; any other error
// means the stored hash is malformed.
func VerifyCode(code, encodedHash string) error {
	params, salt, expected, err := parsePHC(encodedHash)
	if err != nil {
		return err
	}

	computed := argon2.IDKey(
		[]byte(code),
		salt,
		params.iterations,
		params.memory,
		params.parallelism,
		uint32(len(expected)), // #nosec G115 - key length comes from our own encoding
	)

	if subtle.ConstantTimeCompare(computed, expected) == 1 {
		return nil
	}
	return ErrHashMismatch
}

type argonParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

// parsePHC splits $argon2id$v=19$m=X,t=Y,p=Z$salt$hash into its pieces.
func parsePHC(encodedHash string) (argonParams, []byte, []byte, error) {
	parts := make([]string, 0, 6)
	start := 0
	for i := range len(encodedHash) {
		if encodedHash[i] == '$' {
			parts = append(parts, encodedHash[start:i])
			start = i + 1
		}
	}
	parts = append(parts, encodedHash[start:])

	if len(parts) != 6 {
		return argonParams{}, nil, nil, errors.New("invalid hash format: expected 6 parts")
	}
	if parts[1] != "argon2id" {
		return argonParams{}, nil, nil, errors.New("invalid hash format: not argon2id")
	}
	if parts[2] != "v=19" {
		return argonParams{}, nil, nil, errors.New("invalid hash format: wrong version")
	}

	var p argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("invalid hash format: failed to parse parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("invalid hash format: failed to decode salt: %w", err)
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argonParams{}, nil, nil, fmt.Errorf("invalid hash format: failed to decode hash: %w", err)
	}

	return p, salt, sum, nil
}
