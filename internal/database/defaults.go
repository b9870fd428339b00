package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/jask/moneysync/internal/database/repository"
)

// DefaultAccountID is the deterministic id of the seeded cash account (the
// same id service.AccountID gives "Cash"), so
// two fresh devices seed the same record instead of two lookalikes.
var DefaultAccountID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("account:cash")).String()

// SeedDefaults ensures a new database has an account to post into.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	accounts := repository.NewAccountRepo(db)
	existing, err := accounts.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return accounts.PutAll(ctx, []repository.Account{{
		ID:          DefaultAccountID,
		Name:        "Cash",
		AccountType: "cash",
		Currency:    "USD",
	}}, false)
}
