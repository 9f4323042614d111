package app

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/authkit-dev/twostep/pkg/jwtx"
)

// initSigner loads the assertion signing key, generating one when none
// exists yet. Without a key file the key is ephemeral: assertions stay
// verifiable only as long as the process lives.
func initSigner(cfg Config, logger *slog.Logger) (*jwtx.Signer, error) {
	if cfg.AssertionKeyFile == "" {
		logger.Warn("no assertion key file configured, using an ephemeral signing key")
		return jwtx.GenerateSigner(cfg.AssertionKID)
	}

	pemKey, err := os.ReadFile(cfg.AssertionKeyFile)
	if err == nil {
		return jwtx.NewSigner(cfg.AssertionKID, pemKey)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read assertion key: %w", err)
	}

	signer, err := jwtx.GenerateSigner(cfg.AssertionKID)
	if err != nil {
		return nil, err
	}
	pemKey, err = signer.MarshalPrivatePEM()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(cfg.AssertionKeyFile, pemKey, 0o600); err != nil {
		return nil, fmt.Errorf("write assertion key: %w", err)
	}

	logger.Info("generated new assertion signing key", "path", cfg.AssertionKeyFile)
	return signer, nil
}

// initNonceSecret resolves the HMAC secret for login nonces. A random
// per-process secret is fine for a single node: a restart only
// invalidates steps already in flight.
func initNonceSecret(cfg Config, logger *slog.Logger) ([]byte, error) {
	if cfg.NonceSecret != "" {
		return []byte(cfg.NonceSecret), nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate nonce secret: %w", err)
	}
	logger.Info("using a per-process login nonce secret")
	return secret, nil
}
