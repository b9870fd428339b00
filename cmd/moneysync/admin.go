package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/jask/moneysync/internal/logging"
	"github.com/jask/moneysync/internal/relay"
	"github.com/jask/moneysync/internal/secrets"
	"github.com/jask/moneysync/internal/service"
	"github.com/jask/moneysync/internal/testdata"
	"github.com/jask/moneysync/internal/tui"
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

func relayCommand() *cobra.Command {
	var listen, store string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve entity snapshots to syncing devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger, closer, err := logging.New(cfg.Log, globalFlags.debug)
			if err != nil {
				return fmt.Errorf("logging: %w", err)
			}
			defer closer.Close()
			slog.SetDefault(logger)

			// Configure max processes with our logger wrapper, toss undo func
			if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
				return err
			}

			if listen == "" {
				listen = cfg.Relay.Listen
			}
			if store == "" {
				store = cfg.Relay.Store
			}
			ctx := cmd.Context()
			st, err := relay.OpenStore(ctx, store)
			if err != nil {
				return fmt.Errorf("open relay store: %w", err)
			}
			defer st.Close()

			token := cfg.Relay.Token
			if env := os.Getenv("MONEYSYNC_RELAY_TOKEN"); env != "" {
				token = env
			}
			if token == "" {
				logger.Warn("relay running without authentication")
			}
			srv := relay.New(st,
				relay.WithToken(token),
				relay.WithLogger(logger.With("component", "relay")),
				relay.WithRegistry(prometheus.NewRegistry()),
			)
			return srv.ListenAndServe(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (defaults to relay.listen)")
	cmd.Flags().StringVar(&store, "store", "", "memory, a redis:// URL, a postgres:// DSN or a sqlite path")
	return cmd
}

func seedCommand() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sample accounts, rules and history",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			sum, err := testdata.Seed(ctx, testdata.Repos{
				Accounts:     a.accounts,
				Rules:        a.rules,
				Transactions: a.transactions,
				Preferences:  a.preferences,
			}, time.Now(), seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d accounts, %d rules, %d transactions\n",
				sum.Accounts, sum.Rules, sum.Transactions)
			return nil
		}),
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for sample history")
	return cmd
}

func resetCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all local data and sync progress",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if !yes {
				fmt.Fprint(cmd.OutOrStdout(), "Delete all local data? [y/N] ")
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if !strings.EqualFold(strings.TrimSpace(line), "y") {
					fmt.Fprintln(cmd.OutOrStdout(), "cancelled")
					return nil
				}
			}
			m := &service.MaintenanceService{DB: a.db, SyncState: a.state}
			if err := m.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "local data reset")
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func tokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Store the relay token for the configured remote",
	}
	remote := func() (*secrets.Store, string, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, "", err
		}
		if cfg.Sync.Remote == "" {
			return nil, "", errNoRemote
		}
		s, err := secrets.Default()
		return s, cfg.Sync.Remote, err
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set TOKEN",
		Short: "Save a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, r, err := remote()
			if err != nil {
				return err
			}
			return s.SetToken(r, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, r, err := remote()
			if err != nil {
				return err
			}
			if err := s.DeleteToken(r); err != nil && !errors.Is(err, secrets.ErrNotFound) {
				return err
			}
			return nil
		},
	})
	return cmd
}

func tuiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive dashboard",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			var syncSvc tui.Syncer
			t, deviceID, err := a.remote()
			switch {
			case err == nil:
				syncSvc = a.syncService(t, deviceID)
			case errors.Is(err, errNoRemote):
			default:
				return err
			}
			model := tui.New(ctx, a.cfg,
				tui.Repos{Accounts: a.accounts, Transactions: a.transactions},
				tui.Services{
					Recurring:   a.recurring,
					Maintenance: &service.MaintenanceService{DB: a.db, SyncState: a.state},
					Sync:        syncSvc,
				},
			)
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
				return nil
			}
			return err
		}),
	}
}
