package repository_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/schedule"
)

func setupDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, ctx
}

func day(s string) time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

func ptr[T any](v T) *T { return &v }

func TestAccountLifecycle(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	repo := repository.NewAccountRepo(db)

	require.NoError(t, repo.Upsert(ctx, repository.Account{ID: "a1", Name: "Checking", OpeningBalance: decimal.RequireFromString("100.25")}))
	got, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "USD", got.Currency)
	require.Equal(t, "100.25", got.OpeningBalance.String())
	require.NotNil(t, got.UpdatedAt)
	require.False(t, got.Deleted())

	require.NoError(t, repo.Delete(ctx, "a1"))
	live, err := repo.List(ctx)
	require.NoError(t, err)
	require.Empty(t, live)
	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Deleted())
	require.False(t, all[0].UpdatedAt.Before(*got.UpdatedAt))

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestPutAllKeepsStampsAndReplaces(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	repo := repository.NewAccountRepo(db)
	stamp := time.Date(2023, 5, 6, 7, 8, 9, 123e6, time.UTC)

	require.NoError(t, repo.Upsert(ctx, repository.Account{ID: "local", Name: "Local"}))
	require.NoError(t, repo.PutAll(ctx, []repository.Account{
		{ID: "r1", Name: "Remote", AccountType: "savings", Currency: "EUR", Meta: repository.Meta{UpdatedAt: &stamp}},
		{ID: "r2", Name: "Unstamped", AccountType: "cash", Currency: "EUR"},
	}, false))

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	r1, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.True(t, stamp.Equal(*r1.UpdatedAt))
	r2, err := repo.Get(ctx, "r2")
	require.NoError(t, err)
	require.Nil(t, r2.UpdatedAt)

	require.NoError(t, repo.PutAll(ctx, []repository.Account{*r1}, true))
	all, err = repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "r1", all[0].ID)
}

func TestTransactionsByDateRange(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	repo := repository.NewTransactionRepo(db)
	for i, d := range []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"} {
		require.NoError(t, repo.Upsert(ctx, repository.Transaction{
			ID:        string(rune('a' + i)),
			AccountID: "acc",
			Type:      schedule.Expense,
			Amount:    decimal.NewFromInt(int64(10 * (i + 1))),
			Date:      day(d),
			Category:  ptr("Rent"),
		}))
	}
	got, err := repo.ByDateRange(ctx, repository.DateRange{From: day("2024-02-29"), To: day("2024-03-31")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, day("2024-02-29"), got[0].Date)
	require.Equal(t, day("2024-03-31"), got[1].Date)
	require.Equal(t, "Rent", *got[0].Category)
	require.Equal(t, "20", got[0].Amount.String())

	require.NoError(t, repo.Delete(ctx, "b"))
	got, err = repo.ByDateRange(ctx, repository.DateRange{From: day("2024-01-01")})
	require.NoError(t, err)
	require.Len(t, got, 3)

	listed, err := repo.List(ctx, repository.TransactionFilters{AccountID: "acc"})
	require.NoError(t, err)
	require.Equal(t, "d", listed[0].ID)
}

func TestInsertIfAbsentRespectsTombstones(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	repo := repository.NewTransactionRepo(db)
	tx := repository.Transaction{ID: "occ", AccountID: "acc", Type: schedule.Income, Amount: decimal.NewFromInt(5), Date: day("2024-01-01")}

	wrote, err := repo.InsertIfAbsent(ctx, tx)
	require.NoError(t, err)
	require.True(t, wrote)
	wrote, err = repo.InsertIfAbsent(ctx, tx)
	require.NoError(t, err)
	require.False(t, wrote)

	require.NoError(t, repo.Delete(ctx, "occ"))
	wrote, err = repo.InsertIfAbsent(ctx, tx)
	require.NoError(t, err)
	require.False(t, wrote)
	got, err := repo.Get(ctx, "occ")
	require.NoError(t, err)
	require.True(t, got.Deleted())
}

func TestRecurringRuleRoundTripAndAdvance(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	repo := repository.NewRecurringRepo(db)
	rule := repository.RecurringRule{Rule: schedule.Rule{
		ID:            "rent",
		AccountID:     "acc",
		Type:          schedule.Expense,
		Amount:        decimal.RequireFromString("1200.00"),
		Frequency:     schedule.Monthly,
		NextExecution: day("2024-01-31"),
	}}
	require.NoError(t, repo.Upsert(ctx, rule))

	got, err := repo.Get(ctx, "rent")
	require.NoError(t, err)
	require.Equal(t, 31, got.AnchorDay)
	require.Equal(t, "", got.ToAccountID)
	require.Equal(t, schedule.Monthly, got.Frequency)
	require.Equal(t, day("2024-01-31"), got.NextExecution)

	moved, err := repo.Advance(ctx, "rent", day("2024-02-29"))
	require.NoError(t, err)
	require.True(t, moved)
	moved, err = repo.Advance(ctx, "rent", day("2024-01-31"))
	require.NoError(t, err)
	require.False(t, moved)

	require.NoError(t, repo.SetDisabled(ctx, "rent", true))
	rules, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.True(t, rules[0].IsDisabled)
	require.Equal(t, day("2024-02-29"), rules[0].NextExecution)
	require.Len(t, repository.Rules(rules), 1)
}

func TestPutAllPinsMissingAnchorDay(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	repo := repository.NewRecurringRepo(db)
	stamped := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.PutAll(ctx, []repository.RecurringRule{{
		Rule: schedule.Rule{
			ID: "rent", AccountID: "acc", Type: schedule.Expense,
			Amount: decimal.RequireFromString("1200.00"), Frequency: schedule.Monthly,
			NextExecution: day("2024-01-30"),
		},
		Meta: repository.Meta{UpdatedAt: &stamped},
	}}, false))

	moved, err := repo.Advance(ctx, "rent", day("2024-02-29"))
	require.NoError(t, err)
	require.True(t, moved)

	got, err := repo.Get(ctx, "rent")
	require.NoError(t, err)
	require.Equal(t, 30, got.AnchorDay)
	require.True(t, got.UpdatedAt.Equal(stamped), "stamps are kept")
	next := schedule.NextAfter(got.Rule, got.NextExecution)
	require.Equal(t, day("2024-03-30"), next, "the clamped february date does not become the anchor")
}

func TestPreferences(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	repo := repository.NewPreferenceRepo(db)

	require.NoError(t, repo.Set(ctx, "currency", "EUR"))
	v, ok, err := repo.Get(ctx, "currency")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "EUR", v)

	require.NoError(t, repo.Delete(ctx, "currency"))
	_, ok, err = repo.Get(ctx, "currency")
	require.NoError(t, err)
	require.False(t, ok)
	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].Deleted())
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	require.NoError(t, database.SeedDefaults(ctx, db))
	require.NoError(t, database.SeedDefaults(ctx, db))
	accounts, err := repository.NewAccountRepo(db).List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, database.DefaultAccountID, accounts[0].ID)
}
