package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/authkit-dev/twostep/internal/twofactor/store"
)

const allowListKey = "enabled_providers"

type allowListRepo struct {
	db *sql.DB
}

func (r *allowListRepo) Get(ctx context.Context) ([]string, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM site_settings WHERE key = ?`, allowListKey,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var providers []string
	if err := json.Unmarshal(raw, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *allowListRepo) SetIfAbsent(ctx context.Context, providers []string) ([]string, error) {
	raw, err := json.Marshal(providers)
	if err != nil {
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO site_settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO NOTHING`,
		allowListKey, raw,
	); err != nil {
		return nil, err
	}

	// Re-read so a concurrent seeder's list wins consistently.
	return r.Get(ctx)
}

func (r *allowListRepo) Set(ctx context.Context, providers []string) error {
	raw, err := json.Marshal(providers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO site_settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		allowListKey, raw,
	)
	return err
}
