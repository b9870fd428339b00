package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jask/moneysync/internal/schedule"
)

// TransactionFilters defines list filters.
type TransactionFilters struct {
	AccountID string
	RuleID    string
	Range     DateRange
	Search    string
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, account_id, to_account_id, rule_id, type, amount, category, description, date, updated_at, deleted_at`

const insertTransaction = `
	INSERT INTO transactions(` + transactionColumns + `)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const upsertTransaction = insertTransaction + `
	ON CONFLICT(id) DO UPDATE SET
	 account_id=excluded.account_id,
	 to_account_id=excluded.to_account_id,
	 rule_id=excluded.rule_id,
	 type=excluded.type,
	 amount=excluded.amount,
	 category=excluded.category,
	 description=excluded.description,
	 date=excluded.date,
	 updated_at=excluded.updated_at,
	 deleted_at=excluded.deleted_at;`

func transactionArgs(t Transaction) []interface{} {
	return []interface{}{t.ID, t.AccountID, nullString(t.ToAccountID), nullString(t.RuleID),
		string(t.Type), t.Amount, nullString(t.Category), t.Description, dateOnly(t.Date),
		nullTime(t.UpdatedAt), nullTime(t.DeletedAt)}
}

// Upsert writes a local edit and stamps it.
func (r *TransactionRepo) Upsert(ctx context.Context, t Transaction) error {
	now := stamp()
	t.UpdatedAt, t.DeletedAt = &now, nil
	_, err := r.db.ExecContext(ctx, upsertTransaction, transactionArgs(t)...)
	return err
}

// InsertIfAbsent inserts t unless a row (live or tombstoned) with the same id
// exists. A preset UpdatedAt is kept, otherwise the row is stamped now. It
// reports whether a row was written.
func (r *TransactionRepo) InsertIfAbsent(ctx context.Context, t Transaction) (bool, error) {
	if t.UpdatedAt == nil {
		now := stamp()
		t.UpdatedAt = &now
	}
	t.DeletedAt = nil
	res, err := r.db.ExecContext(ctx, insertTransaction+` ON CONFLICT(id) DO NOTHING`, transactionArgs(t)...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete tombstones the transaction.
func (r *TransactionRepo) Delete(ctx context.Context, id string) error {
	now := stamp()
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	return err
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (f TransactionFilters) clause() (string, []interface{}) {
	where := []string{"deleted_at IS NULL"}
	var args []interface{}

	if f.AccountID != "" {
		where = append(where, "(account_id = ? OR to_account_id = ?)")
		args = append(args, f.AccountID, f.AccountID)
	}
	if f.RuleID != "" {
		where = append(where, "rule_id = ?")
		args = append(args, f.RuleID)
	}
	if !f.Range.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, dateOnly(f.Range.From))
	}
	if !f.Range.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, dateOnly(f.Range.To))
	}
	if f.Search != "" {
		where = append(where, "description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// List returns live transactions, newest first.
func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	where, args := f.clause()
	return r.query(ctx, "SELECT "+transactionColumns+" FROM transactions"+where+" ORDER BY date DESC, id", args...)
}

// ByDateRange returns live transactions dated within rng, oldest first.
func (r *TransactionRepo) ByDateRange(ctx context.Context, rng DateRange) ([]Transaction, error) {
	where, args := TransactionFilters{Range: rng}.clause()
	return r.query(ctx, "SELECT "+transactionColumns+" FROM transactions"+where+" ORDER BY date, id", args...)
}

// ListAll includes tombstones.
func (r *TransactionRepo) ListAll(ctx context.Context) ([]Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY id`)
}

// PutAll stores rows verbatim, keeping their stamps. With replace, rows not
// in the set are removed.
func (r *TransactionRepo) PutAll(ctx context.Context, rows []Transaction, replace bool) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
				return err
			}
		}
		for _, t := range rows {
			if _, err := tx.ExecContext(ctx, upsertTransaction, transactionArgs(t)...); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TransactionRepo) query(ctx context.Context, q string, args ...interface{}) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var typ string
	var to, rule, category sql.NullString
	var updated, deleted sql.NullTime
	if err := row.Scan(&t.ID, &t.AccountID, &to, &rule, &typ, &t.Amount, &category,
		&t.Description, &t.Date, &updated, &deleted); err != nil {
		return Transaction{}, err
	}
	t.Type = schedule.Type(typ)
	t.ToAccountID, t.RuleID, t.Category = stringPtr(to), stringPtr(rule), stringPtr(category)
	t.Date = dateOnly(t.Date)
	t.UpdatedAt, t.DeletedAt = timePtr(updated), timePtr(deleted)
	return t, nil
}
