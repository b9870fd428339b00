package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/config"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/schedule"
	"github.com/jask/moneysync/internal/syncer"
	"github.com/jask/moneysync/internal/syncstate"
)

type stubSyncer struct{}

func (stubSyncer) Sync(context.Context) (syncer.Result, error) { return syncer.Result{}, nil }
func (stubSyncer) Status() (syncstate.State, error)            { return syncstate.State{}, nil }
func (stubSyncer) ForceLocal() (syncstate.State, error)        { return syncstate.State{}, nil }
func (stubSyncer) ForceServer() error                          { return nil }

// forcingSyncer records which flag was raised before the pass ran.
type forcingSyncer struct {
	stubSyncer
	flag string
}

func (f *forcingSyncer) ForceLocal() (syncstate.State, error) {
	f.flag = "local"
	return syncstate.State{ForceLocalData: true}, nil
}

func (f *forcingSyncer) ForceServer() error {
	f.flag = "server"
	return nil
}

func (f *forcingSyncer) Sync(context.Context) (syncer.Result, error) {
	mode := syncer.ModeMerge
	switch f.flag {
	case "local":
		mode = syncer.ModeLocal
	case "server":
		mode = syncer.ModeRemote
	}
	return syncer.Result{Outcome: syncer.Applied, Mode: mode}, nil
}

func newApp(sync Syncer) *App {
	cfg := config.Config{UI: config.UIConfig{CurrencySymbol: "$", DateFormat: time.DateOnly, HorizonMonths: 3}}
	a := New(context.Background(), cfg, Repos{}, Services{Sync: sync})
	a.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return a
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestUpcomingRunningBalance(t *testing.T) {
	a := newApp(nil)
	a.Update(accountsMsg{{ID: "a1", Name: "Checking", OpeningBalance: decimal.NewFromInt(1000)}})
	a.Update(transactionsMsg{{ID: "t1", AccountID: "a1", Type: schedule.Expense, Amount: decimal.NewFromInt(100)}})
	a.Update(upcomingMsg{
		{RuleID: "rent", AccountID: "a1", Type: schedule.Expense, Amount: decimal.NewFromInt(500),
			Description: "Rent", Date: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)},
		{RuleID: "pay", AccountID: "a1", Type: schedule.Income, Amount: decimal.NewFromInt(2000),
			Description: "Salary", Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	})

	require.Contains(t, a.View(), "$900.00")
	a.Update(key("u"))
	view := a.View()
	require.Contains(t, view, "2024-01-31")
	require.Contains(t, view, "$400.00")
	require.Contains(t, view, "$2400.00")
	require.Less(t, strings.Index(view, "Rent"), strings.Index(view, "Salary"))
}

func TestCursorStaysInRange(t *testing.T) {
	a := newApp(nil)
	a.Update(rulesMsg{{ID: "r1", Description: "Gym"}, {ID: "r2", Description: "Rent"}})
	a.Update(key("r"))
	for i := 0; i < 5; i++ {
		a.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	require.Equal(t, 1, a.cursor)
	a.Update(rulesMsg{{ID: "r1", Description: "Gym"}})
	require.Equal(t, 0, a.cursor)
}

func TestSyncWithoutRemote(t *testing.T) {
	a := newApp(nil)
	_, cmd := a.Update(key("s"))
	require.Nil(t, cmd)
	require.Contains(t, a.View(), "not configured")
}

func TestSyncResultStatus(t *testing.T) {
	a := newApp(stubSyncer{})
	_, cmd := a.Update(key("s"))
	require.NotNil(t, cmd)
	require.Equal(t, "syncing...", a.status)

	a.Update(syncDoneMsg{Result: syncer.Result{Outcome: syncer.Applied, Mode: syncer.ModeRemote, Posted: 0}})
	require.Equal(t, "synced (remote), posted 0", a.status)

	a.Update(syncDoneMsg{Result: syncer.Result{Outcome: syncer.Failed}, Err: errors.New("relay down")})
	require.Equal(t, "sync failed: relay down", a.status)

	a.Update(syncStateMsg{DeviceID: "0123456789", ForceServerSync: true})
	require.Contains(t, a.View(), "server data wins")
}

func TestResetNeedsConfirmation(t *testing.T) {
	a := newApp(nil)
	a.Update(key("X"))
	require.Contains(t, a.View(), "Delete all local data")
	a.Update(key("n"))
	require.Equal(t, modalNone, a.modal)
	require.Equal(t, "reset cancelled", a.status)
}

func TestTransferMovesBalances(t *testing.T) {
	a := newApp(nil)
	to := "a2"
	a.Update(accountsMsg{{ID: "a1", Name: "Checking"}, {ID: "a2", Name: "Savings"}})
	a.Update(transactionsMsg{repository.Transaction{ID: "t1", AccountID: "a1", ToAccountID: &to, Type: schedule.Transfer, Amount: decimal.NewFromInt(50)}})
	bal := a.balances()
	require.Equal(t, "-50", bal["a1"].String())
	require.Equal(t, "50", bal["a2"].String())
}

func TestResetModalOverlaysView(t *testing.T) {
	a := newApp(nil)
	a.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	a.Update(key("X"))
	view := a.View()
	require.Contains(t, view, "Delete all local data")
	require.Len(t, strings.Split(view, "\n"), 20)
	require.Contains(t, view, "Dashboard")
}

func TestForceKeysRunForcedPass(t *testing.T) {
	for _, tc := range []struct {
		key, prompt string
		mode        syncer.Mode
	}{
		{"L", "Overwrite the remote", syncer.ModeLocal},
		{"S", "Replace this device's data", syncer.ModeRemote},
	} {
		t.Run(tc.key, func(t *testing.T) {
			fs := &forcingSyncer{}
			a := newApp(fs)
			_, cmd := a.Update(key(tc.key))
			require.Nil(t, cmd)
			require.Contains(t, a.View(), tc.prompt)
			require.Empty(t, fs.flag, "nothing is forced before confirmation")

			_, cmd = a.Update(key("y"))
			require.NotNil(t, cmd)
			require.Equal(t, modalNone, a.modal)

			done, ok := cmd().(syncDoneMsg)
			require.True(t, ok)
			require.Equal(t, tc.mode, done.Result.Mode)
		})
	}
}

func TestForceCanBeCancelled(t *testing.T) {
	fs := &forcingSyncer{}
	a := newApp(fs)
	a.Update(key("L"))
	_, cmd := a.Update(key("n"))
	require.Nil(t, cmd)
	require.Equal(t, "force cancelled", a.status)
	require.Empty(t, fs.flag)
}

func TestForceWithoutRemote(t *testing.T) {
	a := newApp(nil)
	a.Update(key("S"))
	require.Equal(t, modalNone, a.modal)
	require.Contains(t, a.status, "not configured")
}
