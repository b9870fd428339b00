// Package testdata seeds a database with sample accounts, recurring rules
// and history for demos and manual sync testing.
package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/schedule"
)

// Repos bundles repos used by Seed.
type Repos struct {
	Accounts     *repository.AccountRepo
	Rules        *repository.RecurringRepo
	Transactions *repository.TransactionRepo
	Preferences  *repository.PreferenceRepo
}

// Summary counts what Seed wrote.
type Summary struct {
	Accounts     int
	Rules        int
	Transactions int
}

func id(kind, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("seed:"+kind+":"+name)).String()
}

// Seed creates sample data. Ids are derived from names, so seeding two
// devices produces records that sync onto each other instead of duplicates.
// History amounts come from a generator seeded with seed.
func Seed(ctx context.Context, repos Repos, now time.Time, seed int64) (Summary, error) {
	var sum Summary
	rng := rand.New(rand.NewSource(seed))
	today := schedule.Day(now)

	checking := repository.Account{ID: id("account", "checking"), Name: "Sample Checking", Institution: "Sample Bank",
		AccountType: "checking", OpeningBalance: decimal.NewFromInt(2500)}
	savings := repository.Account{ID: id("account", "savings"), Name: "Sample Savings", Institution: "Sample Bank",
		AccountType: "savings", OpeningBalance: decimal.NewFromInt(10000)}
	for _, a := range []repository.Account{checking, savings} {
		if err := repos.Accounts.Upsert(ctx, a); err != nil {
			return sum, fmt.Errorf("seed account %s: %w", a.Name, err)
		}
		sum.Accounts++
	}

	rules := []schedule.Rule{
		{Description: "Salary", Type: schedule.Income, Amount: decimal.RequireFromString("4200.00"),
			Frequency: schedule.Biweekly, Category: "Income", NextExecution: today.AddDate(0, 0, 3)},
		{Description: "Rent", Type: schedule.Expense, Amount: decimal.RequireFromString("1850.00"),
			Frequency: schedule.Monthly, Category: "Fixed Costs > Rent / Mortgage", NextExecution: monthEnd(today)},
		{Description: "Phone", Type: schedule.Expense, Amount: decimal.RequireFromString("45.00"),
			Frequency: schedule.Monthly, Category: "Fixed Costs > Phone & Internet", NextExecution: today.AddDate(0, 0, 10)},
		{Description: "Car insurance", Type: schedule.Expense, Amount: decimal.RequireFromString("310.50"),
			Frequency: schedule.Quarterly, Category: "Fixed Costs > Insurance", NextExecution: today.AddDate(0, 1, 0)},
		{Description: "Savings transfer", Type: schedule.Transfer, Amount: decimal.RequireFromString("300.00"),
			Frequency: schedule.Weekly, Category: "Investments & Savings > Savings Transfer",
			NextExecution: today.AddDate(0, 0, 1), ToAccountID: savings.ID},
	}
	for _, r := range rules {
		r.ID = id("rule", r.Description)
		r.AccountID = checking.ID
		r.AnchorDay = r.NextExecution.Day()
		if err := r.Validate(); err != nil {
			return sum, err
		}
		if err := repos.Rules.Upsert(ctx, repository.RecurringRule{Rule: r}); err != nil {
			return sum, fmt.Errorf("seed rule %s: %w", r.Description, err)
		}
		sum.Rules++
	}

	merchants := []string{"WOOLWORTHS", "UBER EATS* SUSHI", "SPOTIFY", "CORNER CAFE", "PETROL STATION"}
	for i := 0; i < 20; i++ {
		desc := merchants[rng.Intn(len(merchants))]
		cents := int64(rng.Intn(20000) + 500)
		tx := repository.Transaction{
			ID:          id("transaction", fmt.Sprintf("%d", i)),
			AccountID:   checking.ID,
			Type:        schedule.Expense,
			Amount:      decimal.New(cents, -2),
			Description: desc,
			Date:        today.AddDate(0, 0, -rng.Intn(30)),
		}
		ok, err := repos.Transactions.InsertIfAbsent(ctx, tx)
		if err != nil {
			return sum, fmt.Errorf("seed transaction: %w", err)
		}
		if ok {
			sum.Transactions++
		}
	}

	if repos.Preferences != nil {
		if err := repos.Preferences.Set(ctx, "currency", "USD"); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func monthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}
