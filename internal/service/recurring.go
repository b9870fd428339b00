package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/schedule"
)

// RecurringService manages recurring rules and their occurrences.
type RecurringService struct {
	Rules        *repository.RecurringRepo
	Transactions *repository.TransactionRepo
	Logger       *slog.Logger
}

func (s *RecurringService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return s.Logger
}

// OccurrenceID is the id a posted occurrence gets on every device.
func OccurrenceID(ruleID string, date time.Time) string {
	key := "occurrence:" + ruleID + ":" + schedule.Day(date).Format(time.DateOnly)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// active returns enabled rules, warning about frequencies that fall back to
// monthly.
func (s *RecurringService) active(ctx context.Context) ([]schedule.Rule, error) {
	rows, err := s.Rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	var out []schedule.Rule
	for _, r := range repository.Rules(rows) {
		if r.IsDisabled {
			continue
		}
		if !r.Frequency.Valid() {
			s.logger().Warn("unknown frequency, using monthly", "rule", r.ID, "frequency", r.Frequency)
		}
		out = append(out, r)
	}
	return out, nil
}

// Upcoming returns the virtual occurrences of enabled rules dated within
// [from, until]. Nothing is persisted.
func (s *RecurringService) Upcoming(ctx context.Context, from, until time.Time) ([]schedule.Occurrence, error) {
	rules, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return schedule.ProjectAll(rules, from, until), nil
}

// PostDue turns every occurrence dated on or before asOf into a transaction
// and advances each rule past what it posted. Occurrence ids are
// deterministic, so posting twice, or on two devices, yields one record.
func (s *RecurringService) PostDue(ctx context.Context, asOf time.Time) (int, error) {
	rules, err := s.active(ctx)
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			s.logger().Warn("skip invalid rule", "rule", r.ID, "error", err)
			continue
		}
		due := schedule.Project(r, r.NextExecution, asOf)
		if len(due) == 0 {
			continue
		}
		for _, o := range due {
			ok, err := s.Transactions.InsertIfAbsent(ctx, transactionFor(o))
			if err != nil {
				return posted, fmt.Errorf("post %s: %w", o.Key(), err)
			}
			if ok {
				posted++
			}
		}
		next := schedule.NextAfter(r, due[len(due)-1].Date)
		if _, err := s.Rules.Advance(ctx, r.ID, next); err != nil {
			return posted, fmt.Errorf("advance rule %s: %w", r.ID, err)
		}
	}
	if posted > 0 {
		s.logger().Info("posted due occurrences", "count", posted, "as_of", asOf.Format(time.DateOnly))
	}
	return posted, nil
}

// transactionFor is stamped with the occurrence date. Posting happens on or
// after that date, so any real edit or delete of the row is newer than a
// re-post of it by another device.
func transactionFor(o schedule.Occurrence) repository.Transaction {
	stamped := schedule.Day(o.Date)
	t := repository.Transaction{
		ID:          OccurrenceID(o.RuleID, o.Date),
		AccountID:   o.AccountID,
		RuleID:      &o.RuleID,
		Type:        o.Type,
		Amount:      o.Amount,
		Description: o.Description,
		Date:        o.Date,
		Meta:        repository.Meta{UpdatedAt: &stamped},
	}
	if o.ToAccountID != "" {
		t.ToAccountID = &o.ToAccountID
	}
	if o.Category != "" {
		t.Category = &o.Category
	}
	return t
}

// AddRule validates and stores a new rule, assigning an id when missing.
func (s *RecurringService) AddRule(ctx context.Context, r schedule.Rule) (schedule.Rule, error) {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	r.NextExecution = schedule.Day(r.NextExecution)
	if r.AnchorDay == 0 {
		r.AnchorDay = r.NextExecution.Day()
	}
	if err := r.Validate(); err != nil {
		return schedule.Rule{}, err
	}
	if !r.Frequency.Valid() {
		return schedule.Rule{}, fmt.Errorf("%w: unknown frequency %q", schedule.ErrInvalidRule, r.Frequency)
	}
	if err := s.Rules.Upsert(ctx, repository.RecurringRule{Rule: r}); err != nil {
		return schedule.Rule{}, fmt.Errorf("store rule: %w", err)
	}
	return r, nil
}

// SetEnabled toggles whether a rule projects occurrences.
func (s *RecurringService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	rule, err := s.Rules.Get(ctx, id)
	if err != nil {
		return err
	}
	if rule == nil || rule.Deleted() {
		return fmt.Errorf("rule %s not found", id)
	}
	return s.Rules.SetDisabled(ctx, id, !enabled)
}

// RemoveRule tombstones a rule. Posted transactions are kept.
func (s *RecurringService) RemoveRule(ctx context.Context, id string) error {
	return s.Rules.Delete(ctx, id)
}

// ListRules returns live rules.
func (s *RecurringService) ListRules(ctx context.Context) ([]schedule.Rule, error) {
	rows, err := s.Rules.List(ctx)
	if err != nil {
		return nil, err
	}
	return repository.Rules(rows), nil
}
