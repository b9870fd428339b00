package service

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/schedule"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rent() schedule.Rule {
	return schedule.Rule{
		ID: "rent", AccountID: "a1", Type: schedule.Expense, Amount: decimal.RequireFromString("1200"),
		Description: "Rent", Category: "housing", Frequency: schedule.Monthly, NextExecution: day("2024-01-31"),
	}
}

func setupRecurring(t *testing.T) *RecurringService {
	db, _ := setupDB(t)
	return &RecurringService{
		Rules:        repository.NewRecurringRepo(db),
		Transactions: repository.NewTransactionRepo(db),
	}
}

func TestUpcomingProjectsEnabledRules(t *testing.T) {
	t.Parallel()
	svc := setupRecurring(t)
	ctx := t.Context()

	_, err := svc.AddRule(ctx, rent())
	require.NoError(t, err)
	gym := schedule.Rule{ID: "gym", AccountID: "a1", Type: schedule.Expense, Amount: decimal.RequireFromString("15"),
		Frequency: schedule.Weekly, NextExecution: day("2024-02-01")}
	_, err = svc.AddRule(ctx, gym)
	require.NoError(t, err)
	require.NoError(t, svc.SetEnabled(ctx, "gym", false))

	occ, err := svc.Upcoming(ctx, day("2024-01-01"), day("2024-04-30"))
	require.NoError(t, err)
	var dates []string
	for _, o := range occ {
		require.Equal(t, "rent", o.RuleID)
		dates = append(dates, o.Date.Format(time.DateOnly))
	}
	require.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}, dates)

	require.NoError(t, svc.SetEnabled(ctx, "gym", true))
	occ, err = svc.Upcoming(ctx, day("2024-02-01"), day("2024-02-08"))
	require.NoError(t, err)
	require.Len(t, occ, 2)
}

func TestPostDueIsIdempotent(t *testing.T) {
	t.Parallel()
	svc := setupRecurring(t)
	ctx := t.Context()
	_, err := svc.AddRule(ctx, rent())
	require.NoError(t, err)

	n, err := svc.PostDue(ctx, day("2024-03-15"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rule, err := svc.Rules.Get(ctx, "rent")
	require.NoError(t, err)
	require.Equal(t, "2024-03-31", rule.NextExecution.Format(time.DateOnly))
	require.Equal(t, 31, rule.AnchorDay)

	n, err = svc.PostDue(ctx, day("2024-03-15"))
	require.NoError(t, err)
	require.Zero(t, n)

	txs, err := svc.Transactions.List(ctx, repository.TransactionFilters{RuleID: "rent"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	ids := map[string]bool{}
	for _, tx := range txs {
		ids[tx.ID] = true
		require.Equal(t, "housing", *tx.Category)
		require.Equal(t, schedule.Expense, tx.Type)
		require.NotNil(t, tx.UpdatedAt)
		require.True(t, tx.UpdatedAt.Equal(tx.Date), "posted rows carry the occurrence date as their stamp")
	}
	require.True(t, ids[OccurrenceID("rent", day("2024-01-31"))])
	require.True(t, ids[OccurrenceID("rent", day("2024-02-29"))])
}

func TestPostDueSkipsDeletedOccurrence(t *testing.T) {
	t.Parallel()
	svc := setupRecurring(t)
	ctx := t.Context()
	r := rent()
	_, err := svc.AddRule(ctx, r)
	require.NoError(t, err)

	_, err = svc.PostDue(ctx, day("2024-01-31"))
	require.NoError(t, err)
	id := OccurrenceID("rent", day("2024-01-31"))
	require.NoError(t, svc.Transactions.Delete(ctx, id))

	// A rule pulled from a device that had not advanced it yet.
	require.NoError(t, svc.Rules.Upsert(ctx, repository.RecurringRule{Rule: r}))
	n, err := svc.PostDue(ctx, day("2024-01-31"))
	require.NoError(t, err)
	require.Zero(t, n, "a deleted occurrence is not resurrected")
}

func TestUnknownFrequencyWarns(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	svc := setupRecurring(t)
	svc.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	ctx := t.Context()

	r := rent()
	r.Frequency = "fortnightly-ish"
	r.AnchorDay = 31
	require.NoError(t, svc.Rules.Upsert(ctx, repository.RecurringRule{Rule: r}))

	occ, err := svc.Upcoming(ctx, day("2024-01-01"), day("2024-02-29"))
	require.NoError(t, err)
	require.Len(t, occ, 2)
	require.Contains(t, buf.String(), "unknown frequency")
}

func TestAddRuleValidates(t *testing.T) {
	t.Parallel()
	svc := setupRecurring(t)
	ctx := t.Context()

	bad := rent()
	bad.Type = schedule.Transfer
	_, err := svc.AddRule(ctx, bad)
	require.ErrorIs(t, err, schedule.ErrInvalidRule)

	bad = rent()
	bad.Frequency = "hourly"
	_, err = svc.AddRule(ctx, bad)
	require.ErrorIs(t, err, schedule.ErrInvalidRule)

	ok := rent()
	ok.ID = ""
	got, err := svc.AddRule(ctx, ok)
	require.NoError(t, err)
	require.NotEmpty(t, got.ID)

	require.NoError(t, svc.RemoveRule(ctx, got.ID))
	rules, err := svc.ListRules(ctx)
	require.NoError(t, err)
	require.Empty(t, rules)
	require.Error(t, svc.SetEnabled(ctx, got.ID, true))
}
