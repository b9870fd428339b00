package repository

import (
	"context"
	"database/sql"
	"errors"
)

// PreferenceRepo handles synced preferences.
type PreferenceRepo struct {
	db *sql.DB
}

func NewPreferenceRepo(db *sql.DB) *PreferenceRepo { return &PreferenceRepo{db: db} }

const upsertPreference = `
	INSERT INTO preferences(key, value, updated_at, deleted_at) VALUES(?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
	 value=excluded.value,
	 updated_at=excluded.updated_at,
	 deleted_at=excluded.deleted_at;`

// Set writes a local edit and stamps it.
func (r *PreferenceRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, upsertPreference, key, value, stamp(), nil)
	return err
}

// Get returns the live value of key.
func (r *PreferenceRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ? AND deleted_at IS NULL`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Delete tombstones the preference.
func (r *PreferenceRepo) Delete(ctx context.Context, key string) error {
	now := stamp()
	_, err := r.db.ExecContext(ctx, `UPDATE preferences SET deleted_at = ?, updated_at = ? WHERE key = ?`, now, now, key)
	return err
}

// List returns live preferences.
func (r *PreferenceRepo) List(ctx context.Context) ([]Preference, error) {
	return r.query(ctx, `SELECT key, value, updated_at, deleted_at FROM preferences WHERE deleted_at IS NULL ORDER BY key`)
}

// ListAll includes tombstones.
func (r *PreferenceRepo) ListAll(ctx context.Context) ([]Preference, error) {
	return r.query(ctx, `SELECT key, value, updated_at, deleted_at FROM preferences ORDER BY key`)
}

// PutAll stores rows verbatim, keeping their stamps. With replace, rows not
// in the set are removed.
func (r *PreferenceRepo) PutAll(ctx context.Context, rows []Preference, replace bool) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM preferences`); err != nil {
				return err
			}
		}
		for _, p := range rows {
			if _, err := tx.ExecContext(ctx, upsertPreference, p.Key, p.Value,
				nullTime(p.UpdatedAt), nullTime(p.DeletedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PreferenceRepo) query(ctx context.Context, q string) ([]Preference, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Preference
	for rows.Next() {
		var p Preference
		var updated, deleted sql.NullTime
		if err := rows.Scan(&p.Key, &p.Value, &updated, &deleted); err != nil {
			return nil, err
		}
		p.UpdatedAt, p.DeletedAt = timePtr(updated), timePtr(deleted)
		out = append(out, p)
	}
	return out, rows.Err()
}
