package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/schedule"
)

// IngestService handles CSV imports of past transactions.
type IngestService struct {
	Transactions *repository.TransactionRepo
	Accounts     *repository.AccountRepo

	accountCache map[string]repository.Account
}

type IngestResult struct {
	Imported int
	Skipped  int
	Errors   []error
}

// ImportCSV reads rows of: date, description, amount, account[, category].
// Negative amounts are expenses, positive ones income. Row ids derive from
// the row content so importing the same file twice, or on two devices,
// yields the same records.
func (s *IngestService) ImportCSV(ctx context.Context, r io.Reader, tz *time.Location) (IngestResult, error) {
	res := IngestResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if len(rec) < 4 { // date, description, amount, account
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected at least 4 columns", line))
			continue
		}
		dateStr, desc, amountStr, accountName := rec[0], strings.TrimSpace(rec[1]), rec[2], rec[3]
		date, err := parseLocalDate(dateStr, tz)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			continue
		}
		amount, err := parseAmount(amountStr)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount: %w", line, err))
			continue
		}

		acct, err := s.accountForName(ctx, accountName)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d account: %w", line, err))
			continue
		}

		t := repository.Transaction{
			ID:          sourceID(acct.ID, date.Format(time.DateOnly), amount.String(), desc),
			AccountID:   acct.ID,
			Type:        schedule.Income,
			Amount:      amount.Abs(),
			Description: desc,
			Date:        date,
		}
		if amount.IsNegative() {
			t.Type = schedule.Expense
		}
		if len(rec) > 4 {
			t.Category = nullableStr(rec[4])
		}
		inserted, err := s.Transactions.InsertIfAbsent(ctx, t)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d insert: %w", line, err))
			continue
		}
		if !inserted {
			res.Skipped++
			continue
		}
		res.Imported++
	}
	return res, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "+")
	return decimal.NewFromString(s)
}

func nullableStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func sourceID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("import:"+strings.Join(parts, "|"))).String()
}

func parseLocalDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, "2/01/2006"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return schedule.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func (s *IngestService) accountForName(ctx context.Context, name string) (repository.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repository.Account{}, errors.New("account name required")
	}
	if s.accountCache == nil {
		s.accountCache = make(map[string]repository.Account)
	}
	if acct, ok := s.accountCache[name]; ok {
		return acct, nil
	}
	id := AccountID(name)
	existing, err := s.Accounts.Get(ctx, id)
	if err != nil {
		return repository.Account{}, err
	}
	if existing != nil && !existing.Deleted() {
		s.accountCache[name] = *existing
		return *existing, nil
	}
	acct := repository.Account{ID: id, Name: name, Institution: name, AccountType: "checking"}
	if err := s.Accounts.Upsert(ctx, acct); err != nil {
		return repository.Account{}, err
	}
	s.accountCache[name] = acct
	return acct, nil
}

// AccountID is the id an account created by name gets on every device.
func AccountID(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("account:"+key)).String()
}
