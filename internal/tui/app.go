package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/config"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/schedule"
	"github.com/jask/moneysync/internal/service"
	"github.com/jask/moneysync/internal/syncer"
	"github.com/jask/moneysync/internal/syncstate"
)

// Syncer runs a pass, reports persisted sync state and sets the force flags.
type Syncer interface {
	Sync(ctx context.Context) (syncer.Result, error)
	Status() (syncstate.State, error)
	ForceLocal() (syncstate.State, error)
	ForceServer() error
}

// App ties together views.
type App struct {
	ctx      context.Context
	repos    Repos
	services Services
	cfg      config.Config
	state    appState
	modal    modalState
	now      func() time.Time

	accounts     []repository.Account
	transactions []repository.Transaction
	upcoming     []schedule.Occurrence
	rules        []schedule.Rule
	syncState    syncstate.State
	lastSync     *syncer.Result
	cursor       int
	width        int
	height       int
	status       string
	currency     string
	dateFormat   string
}

type Repos struct {
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
}

type Services struct {
	Recurring   *service.RecurringService
	Maintenance *service.MaintenanceService
	Sync        Syncer // nil when no remote is configured
}

type appState string

const (
	viewDashboard    appState = "dashboard"
	viewUpcoming     appState = "upcoming"
	viewTransactions appState = "transactions"
	viewRules        appState = "rules"
)

type modalState string

const (
	modalNone               modalState = ""
	modalConfirmReset       modalState = "confirmReset"
	modalConfirmForceLocal  modalState = "confirmForceLocal"
	modalConfirmForceServer modalState = "confirmForceServer"
)

func New(ctx context.Context, cfg config.Config, repos Repos, services Services) *App {
	return &App{
		ctx:        ctx,
		repos:      repos,
		services:   services,
		cfg:        cfg,
		state:      viewDashboard,
		now:        time.Now,
		currency:   cfg.UI.CurrencySymbol,
		dateFormat: cfg.UI.DateFormat,
	}
}

type (
	accountsMsg     []repository.Account
	transactionsMsg []repository.Transaction
	upcomingMsg     []schedule.Occurrence
	rulesMsg        []schedule.Rule
	syncStateMsg    syncstate.State
	statusMsg       string
	errMsg          struct{ error }
	syncDoneMsg     struct {
		Result syncer.Result
		Err    error
	}
)

func (a *App) Init() tea.Cmd {
	return a.reload()
}

func (a *App) reload() tea.Cmd {
	return tea.Batch(a.loadAccounts(), a.loadTransactions(), a.loadUpcoming(), a.loadRules(), a.loadSyncState())
}

func (a *App) horizon() time.Time {
	months := a.cfg.UI.HorizonMonths
	if months <= 0 {
		months = 6
	}
	return a.now().AddDate(0, months, 0)
}

func (a *App) loadAccounts() tea.Cmd {
	return func() tea.Msg {
		list, err := a.repos.Accounts.List(a.ctx)
		if err != nil {
			return errMsg{err}
		}
		return accountsMsg(list)
	}
}

func (a *App) loadTransactions() tea.Cmd {
	return func() tea.Msg {
		list, err := a.repos.Transactions.List(a.ctx, repository.TransactionFilters{})
		if err != nil {
			return errMsg{err}
		}
		return transactionsMsg(list)
	}
}

func (a *App) loadUpcoming() tea.Cmd {
	return func() tea.Msg {
		list, err := a.services.Recurring.Upcoming(a.ctx, a.now(), a.horizon())
		if err != nil {
			return errMsg{err}
		}
		return upcomingMsg(list)
	}
}

func (a *App) loadRules() tea.Cmd {
	return func() tea.Msg {
		list, err := a.services.Recurring.ListRules(a.ctx)
		if err != nil {
			return errMsg{err}
		}
		return rulesMsg(list)
	}
}

func (a *App) loadSyncState() tea.Cmd {
	if a.services.Sync == nil {
		return nil
	}
	return func() tea.Msg {
		st, err := a.services.Sync.Status()
		if err != nil {
			return errMsg{err}
		}
		return syncStateMsg(st)
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = m.Width, m.Height
		return a, nil
	case tea.KeyMsg:
		if a.modal != modalNone {
			return a.handleModalKey(m)
		}
		switch m.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "d":
			a.state, a.cursor = viewDashboard, 0
		case "u":
			a.state, a.cursor = viewUpcoming, 0
		case "t":
			a.state, a.cursor = viewTransactions, 0
		case "r":
			a.state, a.cursor = viewRules, 0
		case "up", "k":
			if a.cursor > 0 {
				a.cursor--
			}
		case "down", "j":
			if a.cursor < a.listLen()-1 {
				a.cursor++
			}
		case "e":
			if a.state == viewRules && len(a.rules) > 0 {
				return a, a.toggleRuleCmd(a.rules[a.cursor])
			}
		case "p":
			a.status = "posting due occurrences..."
			return a, a.postDueCmd()
		case "s":
			if a.services.Sync == nil {
				a.status = "sync is not configured (set sync.remote)"
				return a, nil
			}
			a.status = "syncing..."
			return a, a.syncCmd()
		case "L", "S":
			if a.services.Sync == nil {
				a.status = "sync is not configured (set sync.remote)"
				return a, nil
			}
			a.modal = modalConfirmForceLocal
			if m.String() == "S" {
				a.modal = modalConfirmForceServer
			}
		case "X":
			a.modal = modalConfirmReset
		}
	case accountsMsg:
		a.accounts = []repository.Account(m)
	case transactionsMsg:
		a.transactions = []repository.Transaction(m)
	case upcomingMsg:
		a.upcoming = []schedule.Occurrence(m)
	case rulesMsg:
		a.rules = []schedule.Rule(m)
	case syncStateMsg:
		a.syncState = syncstate.State(m)
	case statusMsg:
		a.status = string(m)
	case errMsg:
		a.status = "error: " + m.Error()
	case syncDoneMsg:
		a.lastSync = &m.Result
		switch {
		case m.Err != nil:
			a.status = "sync failed: " + m.Err.Error()
		case m.Result.Outcome == syncer.Skipped:
			a.status = "sync already running"
		default:
			a.status = fmt.Sprintf("synced (%s), posted %d", m.Result.Mode, m.Result.Posted)
		}
		return a, a.reload()
	}
	if n := a.listLen(); a.cursor >= n {
		a.cursor = max(n-1, 0)
	}
	return a, nil
}

func (a *App) listLen() int {
	switch a.state {
	case viewUpcoming:
		return len(a.upcoming)
	case viewTransactions:
		return len(a.transactions)
	case viewRules:
		return len(a.rules)
	}
	return 0
}

func (a *App) handleModalKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.String() {
	case "y":
		modal := a.modal
		a.modal = modalNone
		switch modal {
		case modalConfirmForceLocal:
			a.status = "overwriting the remote with local data..."
			return a, a.forceCmd(modal)
		case modalConfirmForceServer:
			a.status = "replacing local data with the remote..."
			return a, a.forceCmd(modal)
		}
		return a, a.resetCmd()
	case "n", "esc":
		if a.modal == modalConfirmReset {
			a.status = "reset cancelled"
		} else {
			a.status = "force cancelled"
		}
		a.modal = modalNone
	case "ctrl+c":
		return a, tea.Quit
	}
	return a, nil
}

// commands
func (a *App) syncCmd() tea.Cmd {
	return func() tea.Msg {
		res, err := a.services.Sync.Sync(a.ctx)
		return syncDoneMsg{Result: res, Err: err}
	}
}

// forceCmd raises a force flag and runs the pass that consumes it.
func (a *App) forceCmd(modal modalState) tea.Cmd {
	return func() tea.Msg {
		var err error
		if modal == modalConfirmForceLocal {
			_, err = a.services.Sync.ForceLocal()
		} else {
			err = a.services.Sync.ForceServer()
		}
		if err != nil {
			return errMsg{err}
		}
		res, err := a.services.Sync.Sync(a.ctx)
		return syncDoneMsg{Result: res, Err: err}
	}
}

func (a *App) postDueCmd() tea.Cmd {
	return tea.Sequence(
		func() tea.Msg {
			n, err := a.services.Recurring.PostDue(a.ctx, a.now())
			if err != nil {
				return errMsg{err}
			}
			return statusMsg(fmt.Sprintf("posted %d occurrences", n))
		},
		a.reload(),
	)
}

func (a *App) toggleRuleCmd(r schedule.Rule) tea.Cmd {
	return tea.Sequence(
		func() tea.Msg {
			if err := a.services.Recurring.SetEnabled(a.ctx, r.ID, r.IsDisabled); err != nil {
				return errMsg{err}
			}
			if r.IsDisabled {
				return statusMsg("enabled " + r.Description)
			}
			return statusMsg("disabled " + r.Description)
		},
		a.loadRules(),
		a.loadUpcoming(),
	)
}

func (a *App) resetCmd() tea.Cmd {
	return tea.Sequence(
		func() tea.Msg {
			if a.services.Maintenance == nil {
				return errMsg{fmt.Errorf("maintenance not configured")}
			}
			if err := a.services.Maintenance.Reset(a.ctx); err != nil {
				return errMsg{err}
			}
			return statusMsg("local data and sync progress reset")
		},
		a.reload(),
	)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	negStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	modalStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (a *App) View() string {
	var body string
	switch a.state {
	case viewUpcoming:
		body = a.renderUpcoming()
	case viewTransactions:
		body = a.renderTransactions()
	case viewRules:
		body = a.renderRules()
	default:
		body = a.renderDashboard()
	}
	body += "\n" + dimStyle.Render("[d] Dashboard  [u] Upcoming  [t] Transactions  [r] Rules  [s] Sync  [L/S] Force local/server  [p] Post due  [X] Reset  [q] Quit")
	if a.status != "" {
		body += "\n" + a.status
	}
	switch a.modal {
	case modalConfirmReset:
		return overlay(body, "Delete all local data and sync progress? [y/n]", a.width, a.height)
	case modalConfirmForceLocal:
		return overlay(body, "Overwrite the remote with this device's data? [y/n]", a.width, a.height)
	case modalConfirmForceServer:
		return overlay(body, "Replace this device's data with the remote? [y/n]", a.width, a.height)
	}
	return body
}

func (a *App) money(d decimal.Decimal) string {
	s := a.currency + d.Abs().StringFixed(2)
	if d.IsNegative() {
		return negStyle.Render("-" + s)
	}
	return s
}

func (a *App) date(t time.Time) string {
	return t.Format(a.dateFormat)
}

// balances returns each account's balance after posted transactions.
func (a *App) balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.accounts))
	for _, acct := range a.accounts {
		out[acct.ID] = acct.OpeningBalance
	}
	for _, t := range a.transactions {
		applyTransaction(out, t)
	}
	return out
}

func applyTransaction(bal map[string]decimal.Decimal, t repository.Transaction) {
	amt := t.Amount.Abs()
	switch t.Type {
	case schedule.Income:
		bal[t.AccountID] = bal[t.AccountID].Add(amt)
	case schedule.Transfer:
		bal[t.AccountID] = bal[t.AccountID].Sub(amt)
		if t.ToAccountID != nil {
			bal[*t.ToAccountID] = bal[*t.ToAccountID].Add(amt)
		}
	default:
		bal[t.AccountID] = bal[t.AccountID].Sub(amt)
	}
}

func (a *App) accountName(id string) string {
	for _, acct := range a.accounts {
		if acct.ID == id {
			return acct.Name
		}
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *App) renderDashboard() string {
	title := titleStyle.Render("MoneySync Dashboard")
	var b strings.Builder
	b.WriteString(title + "\n")

	bal := a.balances()
	ids := make([]string, 0, len(bal))
	for id := range bal {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return a.accountName(ids[i]) < a.accountName(ids[j]) })
	for _, id := range ids {
		fmt.Fprintf(&b, "%-24s %s\n", a.accountName(id), a.money(bal[id]))
	}

	until := a.horizon()
	fmt.Fprintf(&b, "\nUpcoming until %s: %d occurrences\n", a.date(until), len(a.upcoming))
	if a.services.Sync == nil {
		b.WriteString("Sync: not configured\n")
	} else {
		st := a.syncState
		last := "never"
		if !st.LastSyncTime.IsZero() {
			last = st.LastSyncTime.Local().Format(time.DateTime)
		}
		fmt.Fprintf(&b, "Sync: last %s  device %s", last, short(st.DeviceID))
		if st.ForceLocalData {
			b.WriteString("  [next pass: local data wins]")
		} else if st.ForceServerSync {
			b.WriteString("  [next pass: server data wins]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func (a *App) renderUpcoming() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Upcoming") + "\n")
	if len(a.upcoming) == 0 {
		b.WriteString("Nothing scheduled.\n")
		return b.String()
	}
	bal := a.balances()
	for i, o := range a.upcoming {
		bal[o.AccountID] = bal[o.AccountID].Add(o.SignedAmount())
		if o.Type == schedule.Transfer && o.ToAccountID != "" {
			bal[o.ToAccountID] = bal[o.ToAccountID].Add(o.Amount.Abs())
		}
		marker := " "
		if i == a.cursor {
			marker = "▶"
		}
		fmt.Fprintf(&b, "%s %s  %-28s %12s  %-18s %s\n", marker, a.date(o.Date), o.Description,
			a.money(o.SignedAmount()), a.accountName(o.AccountID), a.money(bal[o.AccountID]))
	}
	return b.String()
}

func (a *App) renderTransactions() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Transactions") + "\n")
	for i, t := range a.transactions {
		marker := " "
		if i == a.cursor {
			marker = "▶"
		}
		amt := t.Amount.Abs()
		if t.Type != schedule.Income {
			amt = amt.Neg()
		}
		tag := ""
		if t.RuleID != nil {
			tag = dimStyle.Render(" (recurring)")
		}
		fmt.Fprintf(&b, "%s %s  %-36s %12s%s\n", marker, a.date(t.Date), t.Description, a.money(amt), tag)
	}
	return b.String()
}

func (a *App) renderRules() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recurring rules") + "\n")
	for i, r := range a.rules {
		marker := " "
		if i == a.cursor {
			marker = "▶"
		}
		state := ""
		if r.IsDisabled {
			state = dimStyle.Render(" (disabled)")
		}
		fmt.Fprintf(&b, "%s %-28s %-9s %10s  next %s%s\n", marker, r.Description, r.Frequency,
			a.currency+r.Amount.StringFixed(2), a.date(r.NextExecution), state)
	}
	b.WriteString(dimStyle.Render("[e] Enable/disable"))
	return b.String()
}
