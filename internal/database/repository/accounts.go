package repository

import (
	"context"
	"database/sql"
	"errors"
)

// AccountRepo handles accounts.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `id, name, institution, account_type, currency, opening_balance, updated_at, deleted_at`

const upsertAccount = `
	INSERT INTO accounts(` + accountColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 name=excluded.name,
	 institution=excluded.institution,
	 account_type=excluded.account_type,
	 currency=excluded.currency,
	 opening_balance=excluded.opening_balance,
	 updated_at=excluded.updated_at,
	 deleted_at=excluded.deleted_at;`

func accountArgs(a Account) []interface{} {
	return []interface{}{a.ID, a.Name, a.Institution, a.AccountType, a.Currency,
		a.OpeningBalance, nullTime(a.UpdatedAt), nullTime(a.DeletedAt)}
}

// Upsert writes a local edit and stamps it.
func (r *AccountRepo) Upsert(ctx context.Context, a Account) error {
	if a.Currency == "" {
		a.Currency = "USD"
	}
	if a.AccountType == "" {
		a.AccountType = "checking"
	}
	now := stamp()
	a.UpdatedAt, a.DeletedAt = &now, nil
	_, err := r.db.ExecContext(ctx, upsertAccount, accountArgs(a)...)
	return err
}

// Delete tombstones the account.
func (r *AccountRepo) Delete(ctx context.Context, id string) error {
	now := stamp()
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	return err
}

func (r *AccountRepo) Get(ctx context.Context, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// List returns live accounts ordered by name.
func (r *AccountRepo) List(ctx context.Context) ([]Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE deleted_at IS NULL ORDER BY name`)
}

// ListAll includes tombstones.
func (r *AccountRepo) ListAll(ctx context.Context) ([]Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
}

// PutAll stores rows verbatim, keeping their stamps. With replace, rows not
// in the set are removed.
func (r *AccountRepo) PutAll(ctx context.Context, rows []Account, replace bool) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
				return err
			}
		}
		for _, a := range rows {
			if _, err := tx.ExecContext(ctx, upsertAccount, accountArgs(a)...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *AccountRepo) query(ctx context.Context, q string, args ...interface{}) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var updated, deleted sql.NullTime
	if err := row.Scan(&a.ID, &a.Name, &a.Institution, &a.AccountType, &a.Currency,
		&a.OpeningBalance, &updated, &deleted); err != nil {
		return Account{}, err
	}
	a.UpdatedAt, a.DeletedAt = timePtr(updated), timePtr(deleted)
	return a, nil
}
