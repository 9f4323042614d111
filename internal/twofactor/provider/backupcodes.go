package provider

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
	"github.com/authkit-dev/twostep/pkg/cryptox"
)

const (
	KeyBackupCodes = "backup_codes"

	backupPriority = 80

	// DefaultBackupCodeCount is how many codes a generation run mints
	// unless the caller asks otherwise.
	DefaultBackupCodeCount = 10

	backupCodeLength = 8

	attrBackupCodes = "backup:codes"
)

// GenerateMode controls what happens to existing codes when new ones
// are minted.
type GenerateMode int

const (
	// ModeReplace discards all existing codes.
	ModeReplace GenerateMode = iota
	// ModeAppend keeps existing codes alongside the new batch.
	ModeAppend
)

// BackupCodes issues single-use recovery codes, stored argon2-hashed.
// A code that verifies is removed atomically, so two racing submissions
// of the same code cannot both succeed.
type BackupCodes struct {
	attrs store.Attributes
}

func NewBackupCodes(attrs store.Attributes) *BackupCodes {
	return &BackupCodes{attrs: attrs}
}

func (p *BackupCodes) Key() string   { return KeyBackupCodes }
func (p *BackupCodes) Label() string { return "Backup Codes" }
func (p *BackupCodes) Description() string {
	return "Single-use codes for when other methods are out of reach."
}
func (p *BackupCodes) Priority() int { return backupPriority }

func (p *BackupCodes) Capabilities() domain.Capability {
	return domain.CapBackup | domain.CapOneTimeCode | domain.CapSingleUse
}

func (p *BackupCodes) IsAvailable(ctx context.Context, userID string) (bool, error) {
	n, err := p.Remaining(ctx, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *BackupCodes) IssueChallenge(ctx context.Context, userID string) (domain.ChallengePayload, error) {
	return domain.ChallengePayload{
		Provider: KeyBackupCodes,
		Prompt:   "Enter one of your unused backup codes.",
	}, nil
}

// Verify scans the stored hashes for a match and removes exactly that
// entry. The removal goes through compare-and-swap; losing the swap
// means another submission consumed the list first, so we re-read and
// scan again.
func (p *BackupCodes) Verify(ctx context.Context, userID, proof string) (bool, error) {
	for {
		raw, err := p.attrs.Get(ctx, userID, attrBackupCodes)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		var hashes []string
		if err := json.Unmarshal(raw, &hashes); err != nil {
			return false, err
		}

		match := -1
		for i, h := range hashes {
			if err := cryptox.VerifyCode(proof, h); err == nil {
				match = i
				break
			} else if !errors.Is(err, cryptox.ErrHashMismatch) {
				return false, err
			}
		}
		if match < 0 {
			return false, nil
		}

		remaining := slices.Delete(slices.Clone(hashes), match, match+1)
		var next []byte
		if len(remaining) > 0 {
			next, err = json.Marshal(remaining)
			if err != nil {
				return false, err
			}
		}

		err = p.attrs.CompareAndSwap(ctx, userID, attrBackupCodes, raw, next)
		if errors.Is(err, store.ErrConflict) {
			continue // list changed under us, start over
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

func (p *BackupCodes) UserSummary(ctx context.Context, userID string) (string, error) {
	n, err := p.Remaining(ctx, userID)
	if err != nil {
		return "", err
	}
	switch n {
	case 0:
		return "No backup codes remaining.", nil
	case 1:
		return "1 backup code remaining.", nil
	default:
		return fmt.Sprintf("%d backup codes remaining.", n), nil
	}
}

// Remaining reports how many unused codes the user holds.
func (p *BackupCodes) Remaining(ctx context.Context, userID string) (int, error) {
	raw, err := p.attrs.Get(ctx, userID, attrBackupCodes)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var hashes []string
	if err := json.Unmarshal(raw, &hashes); err != nil {
		return 0, err
	}
	return len(hashes), nil
}

// Generate mints count fresh codes and returns the plaintexts, the only
// time they are ever visible. Zero count means the default batch size.
func (p *BackupCodes) Generate(ctx context.Context, userID string, count int, mode GenerateMode) ([]string, error) {
	if count <= 0 {
		count = DefaultBackupCodeCount
	}

	codes := make([]string, count)
	hashes := make([]string, count)
	for i := range codes {
		code, err := generateBackupCode()
		if err != nil {
			return nil, err
		}
		hash, err := cryptox.HashCode(code)
		if err != nil {
			return nil, err
		}
		codes[i] = code
		hashes[i] = hash
	}

	if mode == ModeReplace {
		raw, err := json.Marshal(hashes)
		if err != nil {
			return nil, err
		}
		if err := p.attrs.Set(ctx, userID, attrBackupCodes, raw); err != nil {
			return nil, err
		}
		return codes, nil
	}

	// Append keeps racing in mind the same way Verify does.
	for {
		existing := []string{}
		old, err := p.attrs.Get(ctx, userID, attrBackupCodes)
		switch {
		case errors.Is(err, store.ErrNotFound):
			old = nil
		case err != nil:
			return nil, err
		default:
			if err := json.Unmarshal(old, &existing); err != nil {
				return nil, err
			}
		}

		raw, err := json.Marshal(append(existing, hashes...))
		if err != nil {
			return nil, err
		}

		err = p.attrs.CompareAndSwap(ctx, userID, attrBackupCodes, old, raw)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return codes, nil
	}
}

// Clear removes every stored code.
func (p *BackupCodes) Clear(ctx context.Context, userID string) error {
	return p.attrs.Delete(ctx, userID, attrBackupCodes)
}

const backupCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func generateBackupCode() (string, error) {
	code := make([]byte, backupCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("backup codes: generate: %w", err)
		}
		code[i] = backupCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
