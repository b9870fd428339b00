package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidRule is returned by Rule.Validate.
var ErrInvalidRule = errors.New("invalid schedule rule")

// Frequency is the cadence of a recurring rule.
type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// Frequencies lists the supported cadences in display order.
var Frequencies = []Frequency{Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly}

// Valid reports whether f is one of the known cadences.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// ParseFrequency normalises s. Unknown values resolve to Monthly and ok=false
// so callers can log the fallback.
func ParseFrequency(s string) (f Frequency, ok bool) {
	f = Frequency(strings.ToLower(strings.TrimSpace(s)))
	if f.Valid() {
		return f, true
	}
	return Monthly, false
}

// Type decides the sign of a rule's amount.
type Type string

const (
	Income   Type = "income"
	Expense  Type = "expense"
	Transfer Type = "transfer"
)

// Rule is a recurring transaction template.
type Rule struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"accountId"`
	ToAccountID   string          `json:"toAccountId,omitempty"`
	Type          Type            `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category,omitempty"`
	Description   string          `json:"description,omitempty"`
	Frequency     Frequency       `json:"frequency"`
	NextExecution time.Time       `json:"nextExecution"`
	// AnchorDay is the day of month the rule was created on. Month based
	// cadences clamp against it rather than against the previous occurrence.
	AnchorDay  int  `json:"anchorDay,omitempty"`
	IsDisabled bool `json:"isDisabled,omitempty"`
}

// Validate checks the fields a projection depends on.
func (r Rule) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	case strings.TrimSpace(r.AccountID) == "":
		return fmt.Errorf("%w: missing account", ErrInvalidRule)
	case r.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidRule)
	case r.NextExecution.IsZero():
		return fmt.Errorf("%w: missing next execution date", ErrInvalidRule)
	case r.AnchorDay < 0 || r.AnchorDay > 31:
		return fmt.Errorf("%w: anchor day %d out of range", ErrInvalidRule, r.AnchorDay)
	}
	switch r.Type {
	case Income, Expense:
	case Transfer:
		if strings.TrimSpace(r.ToAccountID) == "" {
			return fmt.Errorf("%w: transfer without target account", ErrInvalidRule)
		}
		if r.ToAccountID == r.AccountID {
			return fmt.Errorf("%w: transfer to the same account", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, r.Type)
	}
	if _, months := period(r.Frequency); months > 0 && r.AnchorDay != 0 && !r.clampsTo(r.NextExecution) {
		return fmt.Errorf("%w: anchor day %d cannot fall on %s", ErrInvalidRule, r.AnchorDay, r.NextExecution.Format(time.DateOnly))
	}
	return nil
}

// clampsTo reports whether the anchor day lands on d, either exactly or
// clamped to the end of a shorter month.
func (r Rule) clampsTo(d time.Time) bool {
	day := d.Day()
	if r.AnchorDay == day {
		return true
	}
	return r.AnchorDay > day && day == daysIn(d.Year(), d.Month())
}

// Anchor returns the day of month used for clamping.
func (r Rule) Anchor() int {
	if r.AnchorDay >= 1 && r.AnchorDay <= 31 {
		return r.AnchorDay
	}
	return r.NextExecution.Day()
}

// Occurrence is one dated instance of a Rule.
type Occurrence struct {
	RuleID      string          `json:"ruleId" yaml:"ruleId"`
	AccountID   string          `json:"accountId" yaml:"accountId"`
	ToAccountID string          `json:"toAccountId,omitempty" yaml:"toAccountId,omitempty"`
	Type        Type            `json:"type" yaml:"type"`
	Amount      decimal.Decimal `json:"amount" yaml:"amount"`
	Category    string          `json:"category,omitempty" yaml:"category,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Frequency   Frequency       `json:"frequency" yaml:"frequency"`
	Date        time.Time       `json:"date" yaml:"date"`
}

// SignedAmount is the amount as seen from AccountID: income adds, expenses
// and outgoing transfers subtract.
func (o Occurrence) SignedAmount() decimal.Decimal {
	if o.Type == Income {
		return o.Amount.Abs()
	}
	return o.Amount.Abs().Neg()
}

// Key identifies a virtual occurrence.
func (o Occurrence) Key() string {
	return o.RuleID + "|" + o.Date.Format(time.DateOnly)
}

func (r Rule) occurrence(date time.Time) Occurrence {
	return Occurrence{
		RuleID:      r.ID,
		AccountID:   r.AccountID,
		ToAccountID: r.ToAccountID,
		Type:        r.Type,
		Amount:      r.Amount,
		Category:    r.Category,
		Description: r.Description,
		Frequency:   r.Frequency,
		Date:        date,
	}
}
