package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jask/moneysync/internal/schedule"
)

// RecurringRepo handles recurring rules.
type RecurringRepo struct {
	db *sql.DB
}

func NewRecurringRepo(db *sql.DB) *RecurringRepo { return &RecurringRepo{db: db} }

const ruleColumns = `id, account_id, to_account_id, type, amount, category, description, frequency,
 next_execution, anchor_day, is_disabled, updated_at, deleted_at`

const upsertRule = `
	INSERT INTO recurring_rules(` + ruleColumns + `)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 account_id=excluded.account_id,
	 to_account_id=excluded.to_account_id,
	 type=excluded.type,
	 amount=excluded.amount,
	 category=excluded.category,
	 description=excluded.description,
	 frequency=excluded.frequency,
	 next_execution=excluded.next_execution,
	 anchor_day=excluded.anchor_day,
	 is_disabled=excluded.is_disabled,
	 updated_at=excluded.updated_at,
	 deleted_at=excluded.deleted_at;`

func ruleArgs(r RecurringRule) []interface{} {
	to, cat := r.ToAccountID, r.Category
	return []interface{}{r.ID, r.AccountID, nullString(&to), string(r.Type), r.Amount, nullString(&cat),
		r.Description, string(r.Frequency), dateOnly(r.NextExecution), r.AnchorDay, r.IsDisabled,
		nullTime(r.UpdatedAt), nullTime(r.DeletedAt)}
}

// Upsert writes a local edit and stamps it. A missing anchor day is taken
// from NextExecution.
func (r *RecurringRepo) Upsert(ctx context.Context, rule RecurringRule) error {
	if rule.AnchorDay == 0 && !rule.NextExecution.IsZero() {
		rule.AnchorDay = rule.NextExecution.Day()
	}
	now := stamp()
	rule.UpdatedAt, rule.DeletedAt = &now, nil
	_, err := r.db.ExecContext(ctx, upsertRule, ruleArgs(rule)...)
	return err
}

// Advance moves the rule's next execution date forward. Earlier dates are
// ignored so the schedule never moves backwards.
func (r *RecurringRepo) Advance(ctx context.Context, id string, next time.Time) (bool, error) {
	next = dateOnly(next)
	res, err := r.db.ExecContext(ctx, `UPDATE recurring_rules SET next_execution = ?, updated_at = ?
	 WHERE id = ? AND next_execution < ?`, next, stamp(), id, next)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetDisabled toggles a rule.
func (r *RecurringRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_rules SET is_disabled = ?, updated_at = ? WHERE id = ?`,
		disabled, stamp(), id)
	return err
}

// Delete tombstones the rule.
func (r *RecurringRepo) Delete(ctx context.Context, id string) error {
	now := stamp()
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_rules SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	return err
}

func (r *RecurringRepo) Get(ctx context.Context, id string) (*RecurringRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurring_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// List returns live rules, disabled ones included.
func (r *RecurringRepo) List(ctx context.Context) ([]RecurringRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM recurring_rules WHERE deleted_at IS NULL ORDER BY next_execution, id`)
}

// ListAll includes tombstones.
func (r *RecurringRepo) ListAll(ctx context.Context) ([]RecurringRule, error) {
	return r.query(ctx, `SELECT `+ruleColumns+` FROM recurring_rules ORDER BY id`)
}

// PutAll stores rows verbatim, keeping their stamps. With replace, rows not
// in the set are removed. A missing anchor day is pinned to NextExecution as
// in Upsert, so later advances clamp against a fixed day.
func (r *RecurringRepo) PutAll(ctx context.Context, rows []RecurringRule, replace bool) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM recurring_rules`); err != nil {
				return err
			}
		}
		for _, rule := range rows {
			if rule.AnchorDay == 0 && !rule.NextExecution.IsZero() {
				rule.AnchorDay = rule.NextExecution.Day()
			}
			if _, err := tx.ExecContext(ctx, upsertRule, ruleArgs(rule)...); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rules returns the live rules as schedule values.
func Rules(rows []RecurringRule) []schedule.Rule {
	out := make([]schedule.Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Rule)
	}
	return out
}

func (r *RecurringRepo) query(ctx context.Context, q string, args ...interface{}) ([]RecurringRule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(row scanner) (RecurringRule, error) {
	var r RecurringRule
	var typ, freq string
	var to, category sql.NullString
	var updated, deleted sql.NullTime
	if err := row.Scan(&r.ID, &r.AccountID, &to, &typ, &r.Amount, &category, &r.Description, &freq,
		&r.NextExecution, &r.AnchorDay, &r.IsDisabled, &updated, &deleted); err != nil {
		return RecurringRule{}, err
	}
	r.Type, r.Frequency = schedule.Type(typ), schedule.Frequency(freq)
	r.ToAccountID, r.Category = to.String, category.String
	r.NextExecution = dateOnly(r.NextExecution)
	r.UpdatedAt, r.DeletedAt = timePtr(updated), timePtr(deleted)
	return r, nil
}
