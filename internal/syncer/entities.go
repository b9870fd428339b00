package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jask/moneysync/internal/conflict"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/transport"
)

// EntityStore exposes one entity type of the local record store as
// snapshots.
type EntityStore interface {
	Name() string
	Snapshot(ctx context.Context) (conflict.Snapshot, error)
	// Apply writes snap locally. With replace, local rows missing from snap
	// are removed. Records whose body cannot be decoded are skipped and
	// counted.
	Apply(ctx context.Context, snap conflict.Snapshot, replace bool) (skipped int, err error)
}

type adapter[T any] struct {
	name    string
	listAll func(context.Context) ([]T, error)
	putAll  func(context.Context, []T, bool) error
	id      func(*T) *string
	meta    func(*T) *repository.Meta
}

func (a adapter[T]) Name() string { return a.name }

func (a adapter[T]) Snapshot(ctx context.Context) (conflict.Snapshot, error) {
	rows, err := a.listAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", a.name, err)
	}
	snap := make(conflict.Snapshot, len(rows))
	for i := range rows {
		row := &rows[i]
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", a.name, err)
		}
		m := a.meta(row)
		rec := conflict.Record{ID: *a.id(row), Deleted: m.Deleted(), Data: data}
		if m.UpdatedAt != nil {
			rec.UpdatedAt = conflict.FormatTimestamp(*m.UpdatedAt)
		}
		snap[rec.ID] = rec
	}
	return snap, nil
}

func (a adapter[T]) Apply(ctx context.Context, snap conflict.Snapshot, replace bool) (int, error) {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]T, 0, len(snap))
	skipped := 0
	for _, id := range ids {
		rec := snap[id]
		var row T
		if len(rec.Data) > 0 {
			if err := json.Unmarshal(rec.Data, &row); err != nil {
				skipped++
				continue
			}
		}
		*a.id(&row) = id
		m := a.meta(&row)
		m.UpdatedAt, m.DeletedAt = nil, nil
		ts, ok := conflict.Timestamp(rec)
		if ok {
			ts = ts.UTC()
			m.UpdatedAt = &ts
		}
		if rec.Deleted {
			deleted := time.Unix(0, 0).UTC()
			if ok {
				deleted = ts
			}
			m.DeletedAt = &deleted
		}
		rows = append(rows, row)
	}
	if err := a.putAll(ctx, rows, replace); err != nil {
		return skipped, fmt.Errorf("store %s: %w", a.name, err)
	}
	return skipped, nil
}

// Entities returns the synchronized entity stores in pass order.
func Entities(accounts *repository.AccountRepo, rules *repository.RecurringRepo,
	txns *repository.TransactionRepo, prefs *repository.PreferenceRepo,
) []EntityStore {
	return []EntityStore{
		adapter[repository.Account]{
			name:    transport.Accounts,
			listAll: accounts.ListAll,
			putAll:  accounts.PutAll,
			id:      func(a *repository.Account) *string { return &a.ID },
			meta:    func(a *repository.Account) *repository.Meta { return &a.Meta },
		},
		adapter[repository.RecurringRule]{
			name:    transport.Recurring,
			listAll: rules.ListAll,
			putAll:  rules.PutAll,
			id:      func(r *repository.RecurringRule) *string { return &r.ID },
			meta:    func(r *repository.RecurringRule) *repository.Meta { return &r.Meta },
		},
		adapter[repository.Transaction]{
			name:    transport.Transactions,
			listAll: txns.ListAll,
			putAll:  txns.PutAll,
			id:      func(t *repository.Transaction) *string { return &t.ID },
			meta:    func(t *repository.Transaction) *repository.Meta { return &t.Meta },
		},
		adapter[repository.Preference]{
			name:    transport.Preferences,
			listAll: prefs.ListAll,
			putAll:  prefs.PutAll,
			id:      func(p *repository.Preference) *string { return &p.Key },
			meta:    func(p *repository.Preference) *repository.Meta { return &p.Meta },
		},
	}
}
