package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/moneysync/internal/database"
)

// SyncResetter forgets sync progress.
type SyncResetter interface {
	Reset() error
}

// MaintenanceService houses destructive/ops actions surfaced through the CLI and TUI.
type MaintenanceService struct {
	DB        *sql.DB
	SyncState SyncResetter
}

// Reset wipes all user data and sync progress. It keeps the schema intact so
// the app can continue running; the device id survives.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTxContext(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"transactions",
			"recurring_rules",
			"preferences",
			"accounts",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	if s.SyncState != nil {
		if err := s.SyncState.Reset(); err != nil {
			return fmt.Errorf("reset sync state: %w", err)
		}
	}
	return nil
}
