package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/schedule"
)

// Meta is the sync bookkeeping shared by every synced row. It travels in the
// sync envelope rather than in the row's JSON body.
type Meta struct {
	UpdatedAt *time.Time `json:"-"`
	DeletedAt *time.Time `json:"-"`
}

// Deleted reports whether the row is a tombstone.
func (m Meta) Deleted() bool { return m.DeletedAt != nil }

// Account represents an account row.
type Account struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Institution    string          `json:"institution,omitempty"`
	AccountType    string          `json:"accountType"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Meta
}

// Transaction represents a posted transaction row. RuleID is set for
// confirmed occurrences of a recurring rule.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"accountId"`
	ToAccountID *string         `json:"toAccountId,omitempty"`
	RuleID      *string         `json:"ruleId,omitempty"`
	Type        schedule.Type   `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Category    *string         `json:"category,omitempty"`
	Description string          `json:"description,omitempty"`
	Date        time.Time       `json:"date"`
	Meta
}

// RecurringRule is a stored schedule rule.
type RecurringRule struct {
	schedule.Rule
	Meta
}

// Preference is a synced key/value setting.
type Preference struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Meta
}

// DateRange bounds by-date queries; both ends inclusive, zero means open.
type DateRange struct {
	From time.Time
	To   time.Time
}
