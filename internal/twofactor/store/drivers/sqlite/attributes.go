package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/store"
)

type attributesRepo struct {
	db *sql.DB
}

func (r *attributesRepo) Get(ctx context.Context, userID, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM user_attributes WHERE user_id = ? AND key = ?`,
		userID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (r *attributesRepo) Set(ctx context.Context, userID, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_attributes (user_id, key, value, expires_at, updated_at)
		VALUES (?, ?, ?, NULL, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, key) DO UPDATE SET
			value = excluded.value,
			expires_at = NULL,
			updated_at = CURRENT_TIMESTAMP`,
		userID, key, value,
	)
	return err
}

func (r *attributesRepo) SetWithExpiry(ctx context.Context, userID, key string, value []byte, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_attributes (user_id, key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		userID, key, value, expiresAt.UTC(),
	)
	return err
}

func (r *attributesRepo) Delete(ctx context.Context, userID, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_attributes WHERE user_id = ? AND key = ?`,
		userID, key,
	)
	return err
}

// CompareAndSwap relies on a single guarded statement per case, so the
// check and the write are one atomic sqlite operation.
func (r *attributesRepo) CompareAndSwap(ctx context.Context, userID, key string, old, new []byte) error {
	var (
		res sql.Result
		err error
	)

	switch {
	case old == nil && new == nil:
		return nil

	case old == nil:
		// Insert only when absent.
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO user_attributes (user_id, key, value, expires_at, updated_at)
			VALUES (?, ?, ?, NULL, CURRENT_TIMESTAMP)
			ON CONFLICT (user_id, key) DO NOTHING`,
			userID, key, new,
		)

	case new == nil:
		// Compare-and-delete.
		res, err = r.db.ExecContext(ctx,
			`DELETE FROM user_attributes WHERE user_id = ? AND key = ? AND value = ?`,
			userID, key, old,
		)

	default:
		res, err = r.db.ExecContext(ctx, `
			UPDATE user_attributes
			SET value = ?, updated_at = CURRENT_TIMESTAMP
			WHERE user_id = ? AND key = ? AND value = ?`,
			new, userID, key, old,
		)
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *attributesRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_attributes WHERE expires_at IS NOT NULL AND expires_at < ?`,
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
