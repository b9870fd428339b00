package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/schedule"
	"github.com/jask/moneysync/internal/service"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts YYYY-MM-DD or a phrase such as "next friday" or
// "in 3 weeks", resolved against base. The result is a calendar day.
func parseDate(s string, base time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return schedule.Day(t), nil
	}
	switch strings.ToLower(s) {
	case "today", "now":
		return schedule.Day(base), nil
	}
	r, err := dateParser.Parse(s, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("parse date %q: not a date", s)
	}
	return schedule.Day(r.Time), nil
}

func upcomingCommand() *cobra.Command {
	var (
		months      int
		from, until string
		format      string
	)
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List projected occurrences of enabled recurring rules",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			now := time.Now()
			start, err := parseDate(from, now)
			if err != nil {
				return err
			}
			if months <= 0 {
				months = a.cfg.UI.HorizonMonths
			}
			end := start.AddDate(0, months, 0)
			if until != "" {
				if end, err = parseDate(until, now); err != nil {
					return err
				}
			}
			if end.Before(start) {
				return fmt.Errorf("--until %s is before --from %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
			}
			occ, err := a.recurring.Upcoming(ctx, start, end)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, occ, func(w io.Writer) {
				printOccurrences(w, occ, a.cfg.UI.DateFormat)
			})
		}),
	}
	cmd.Flags().IntVarP(&months, "months", "m", 0, "horizon in months (defaults to ui.horizon_months)")
	cmd.Flags().StringVar(&from, "from", "today", "first day, as a date or phrase")
	cmd.Flags().StringVar(&until, "until", "", "last day, as a date or phrase (overrides --months)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json, yaml")
	return cmd
}

func printOccurrences(w io.Writer, occ []schedule.Occurrence, layout string) {
	if len(occ) == 0 {
		fmt.Fprintln(w, "nothing scheduled")
		return
	}
	if layout == "" {
		layout = time.DateOnly
	}
	t := table.New().Headers("DATE", "DESCRIPTION", "TYPE", "AMOUNT", "FREQUENCY")
	total := decimal.Zero
	for _, o := range occ {
		total = total.Add(o.SignedAmount())
		t.Row(o.Date.Format(layout), o.Description, string(o.Type), o.SignedAmount().StringFixed(2), string(o.Frequency))
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d occurrences, net %s\n", len(occ), total.StringFixed(2))
}

func postDueCommand() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "post-due",
		Short: "Record due occurrences as transactions and advance their rules",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			day, err := parseDate(asOf, time.Now())
			if err != nil {
				return err
			}
			n, err := a.recurring.PostDue(ctx, day)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted %d transactions\n", n)
			return nil
		}),
	}
	cmd.Flags().StringVar(&asOf, "as-of", "today", "post occurrences dated on or before this day")
	return cmd
}

func ruleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rule",
		Aliases: []string{"rules"},
		Short:   "Manage recurring rules",
	}
	cmd.AddCommand(ruleAddCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recurring rules",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			rules, err := a.recurring.ListRules(ctx)
			if err != nil {
				return err
			}
			t := table.New().Headers("ID", "DESCRIPTION", "TYPE", "AMOUNT", "FREQUENCY", "NEXT", "ENABLED")
			for _, r := range rules {
				t.Row(r.ID, r.Description, string(r.Type), r.Amount.StringFixed(2), string(r.Frequency),
					r.NextExecution.Format(time.DateOnly), fmt.Sprint(!r.IsDisabled))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		}),
	})
	toggle := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ID",
			Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
				return a.recurring.SetEnabled(ctx, args[0], enabled)
			}),
		}
	}
	cmd.AddCommand(toggle("enable", true))
	cmd.AddCommand(toggle("disable", false))
	cmd.AddCommand(&cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Delete a rule; transactions it posted are kept",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, args []string) error {
			return a.recurring.RemoveRule(ctx, args[0])
		}),
	})
	return cmd
}

func ruleAddCommand() *cobra.Command {
	var (
		account, to, typ, amount, frequency string
		start, description, category        string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a recurring rule",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			next, err := parseDate(start, time.Now())
			if err != nil {
				return err
			}
			r := schedule.Rule{
				AccountID:     accountRef(account),
				Type:          schedule.Type(strings.ToLower(typ)),
				Amount:        amt.Abs(),
				Category:      category,
				Description:   description,
				Frequency:     schedule.Frequency(strings.ToLower(frequency)),
				NextExecution: next,
			}
			if to != "" {
				r.ToAccountID = accountRef(to)
			}
			r, err = a.recurring.AddRule(ctx, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added rule %s, first on %s\n", r.ID, r.NextExecution.Format(time.DateOnly))
			return nil
		}),
	}
	cmd.Flags().StringVar(&account, "account", "cash", "account name or id")
	cmd.Flags().StringVar(&to, "to", "", "destination account for transfers")
	cmd.Flags().StringVar(&typ, "type", "expense", "income, expense or transfer")
	cmd.Flags().StringVar(&amount, "amount", "", "amount, always positive")
	cmd.Flags().StringVar(&frequency, "frequency", "monthly", strings.Join(frequencyNames(), ", "))
	cmd.Flags().StringVar(&start, "start", "today", "first occurrence")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func frequencyNames() []string {
	out := make([]string, 0, len(schedule.Frequencies))
	for _, f := range schedule.Frequencies {
		out = append(out, string(f))
	}
	return out
}

// accountRef maps an account name to its id. Values that already look like
// ids pass through.
func accountRef(s string) string {
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return s
	}
	return service.AccountID(s)
}

func importCommand() *cobra.Command {
	var tz string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import past transactions from a CSV file",
		Long:  "Columns: date, description, amount, account[, category]. Negative amounts are expenses.",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("timezone: %w", err)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			ingest := &service.IngestService{Transactions: a.transactions, Accounts: a.accounts}
			res, err := ingest.ImportCSV(ctx, f, loc)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				a.logger.Warn("row skipped", "error", e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", res.Imported, res.Skipped)
			return nil
		}),
	}
	cmd.Flags().StringVar(&tz, "tz", "Local", "timezone of the dates in the file")
	return cmd
}
