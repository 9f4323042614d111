package service

import (
	"context"
	"errors"

	"github.com/authkit-dev/twostep/internal/twofactor/store"
)

const attrEmailAddress = "email:address"

// StoredDirectory keeps user email addresses in the attribute store.
// The host application owns the accounts and pushes addresses here so
// the email provider can reach users without calling back out.
type StoredDirectory struct {
	Attrs store.Attributes
}

// Email returns the address on file, or empty when there is none.
func (d *StoredDirectory) Email(ctx context.Context, userID string) (string, error) {
	raw, err := d.Attrs.Get(ctx, userID, attrEmailAddress)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetEmail stores or clears the address on file.
func (d *StoredDirectory) SetEmail(ctx context.Context, userID, addr string) error {
	if addr == "" {
		return d.Attrs.Delete(ctx, userID, attrEmailAddress)
	}
	return d.Attrs.Set(ctx, userID, attrEmailAddress, []byte(addr))
}
