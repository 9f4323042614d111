package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/authkit-dev/twostep/internal/twofactor/domain"
	"github.com/authkit-dev/twostep/internal/twofactor/provider"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

// EnrollmentService covers everything a signed-in user does to manage
// their own second factors: enrolling methods, minting backup codes,
// registering keys, and choosing which providers are active.
type EnrollmentService struct {
	Registry     *provider.Registry
	TOTP         *provider.TOTP
	BackupCodes  *provider.BackupCodes
	SecurityKeys *provider.SecurityKey
	Directory    provider.UserDirectory
}

// Overview reports every registered provider with the user's state on
// each, for the settings screen.
func (s *EnrollmentService) Overview(ctx context.Context, userID string) ([]domain.ProviderStatus, error) {
	enabled, err := s.Registry.EnabledForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	enabledKeys := make([]string, len(enabled))
	for i, p := range enabled {
		enabledKeys[i] = p.Key()
	}

	all := s.Registry.All()
	statuses := make([]domain.ProviderStatus, 0, len(all))
	for _, p := range all {
		available, err := p.IsAvailable(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("provider %q availability: %w", p.Key(), err)
		}
		summary, err := p.UserSummary(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("provider %q summary: %w", p.Key(), err)
		}
		statuses = append(statuses, domain.ProviderStatus{
			ProviderDescriptor: provider.Descriptor(p),
			Enabled:            slices.Contains(enabledKeys, p.Key()),
			Available:          available,
			Summary:            summary,
		})
	}
	return statuses, nil
}

// SetEnabledProviders stores which providers the user wants active.
func (s *EnrollmentService) SetEnabledProviders(ctx context.Context, userID string, keys []string) error {
	if err := s.Registry.SetEnabledProviders(ctx, userID, keys); err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("enabled providers updated", "user_id", userID, "providers", keys)
	return nil
}

// SetPrimaryPreference stores the user's preferred provider.
func (s *EnrollmentService) SetPrimaryPreference(ctx context.Context, userID, key string) error {
	return s.Registry.SetPrimaryPreference(ctx, userID, key)
}

// StartTOTPEnrollment mints a pending authenticator secret. The account
// label on the provisioning URL is the user's email when one exists.
func (s *EnrollmentService) StartTOTPEnrollment(ctx context.Context, userID string) (domain.TOTPEnrollment, error) {
	account := userID
	if addr, err := s.Directory.Email(ctx, userID); err == nil && addr != "" {
		account = addr
	}
	return s.TOTP.StartEnrollment(ctx, userID, account)
}

// ConfirmTOTPEnrollment activates the pending secret on a valid code.
func (s *EnrollmentService) ConfirmTOTPEnrollment(ctx context.Context, userID, code string) (bool, error) {
	ok, err := s.TOTP.ConfirmEnrollment(ctx, userID, code)
	if err != nil {
		return false, err
	}
	if ok {
		slogx.FromContext(ctx).Info("totp enrollment confirmed", "user_id", userID)
	}
	return ok, nil
}

// DisableTOTP removes the user's authenticator secret.
func (s *EnrollmentService) DisableTOTP(ctx context.Context, userID string) error {
	return s.TOTP.Disable(ctx, userID)
}

// GenerateBackupCodes mints a batch of codes, returning the plaintexts
// for their single appearance.
func (s *EnrollmentService) GenerateBackupCodes(ctx context.Context, userID string, count int, mode provider.GenerateMode) ([]string, error) {
	codes, err := s.BackupCodes.Generate(ctx, userID, count, mode)
	if err != nil {
		return nil, err
	}
	slogx.FromContext(ctx).Info("backup codes generated", "user_id", userID, "count", len(codes))
	return codes, nil
}

// StartKeyRegistration opens the security key registration ceremony.
func (s *EnrollmentService) StartKeyRegistration(ctx context.Context, userID string) (domain.ChallengePayload, error) {
	return s.SecurityKeys.StartRegistration(ctx, userID)
}

// CompleteKeyRegistration validates the attestation and stores the key.
func (s *EnrollmentService) CompleteKeyRegistration(ctx context.Context, userID, response string) (domain.KeyRecord, error) {
	record, err := s.SecurityKeys.CompleteRegistration(ctx, userID, response)
	if err != nil {
		return domain.KeyRecord{}, err
	}
	slogx.FromContext(ctx).Info("security key registered",
		"user_id", userID, "key_id", record.ID, "label", record.Label)
	return record, nil
}

// ListKeys returns the user's registered security keys.
func (s *EnrollmentService) ListKeys(ctx context.Context, userID string) ([]domain.KeyRecord, error) {
	return s.SecurityKeys.Keys(ctx, userID)
}

// RenameKey relabels one security key.
func (s *EnrollmentService) RenameKey(ctx context.Context, userID, keyID, label string) error {
	return s.SecurityKeys.Rename(ctx, userID, keyID, label)
}

// RemoveKey deletes one security key.
func (s *EnrollmentService) RemoveKey(ctx context.Context, userID, keyID string) error {
	return s.SecurityKeys.Remove(ctx, userID, keyID)
}
