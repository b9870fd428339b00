package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/moneysync/internal/config"
	"github.com/jask/moneysync/internal/control"
	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/kv"
	"github.com/jask/moneysync/internal/logging"
	"github.com/jask/moneysync/internal/secrets"
	"github.com/jask/moneysync/internal/service"
	"github.com/jask/moneysync/internal/syncer"
	"github.com/jask/moneysync/internal/syncstate"
	"github.com/jask/moneysync/internal/transport"
)

const programName = "moneysync"

var globalFlags = struct {
	debug      bool
	configFile string
}{}

// app holds the local stores every command works against.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	db        *sql.DB
	kv        *kv.Store
	state     *syncstate.Store

	accounts     *repository.AccountRepo
	rules        *repository.RecurringRepo
	transactions *repository.TransactionRepo
	preferences  *repository.PreferenceRepo
	recurring    *service.RecurringService
}

func loadConfig() (config.Config, error) {
	if globalFlags.configFile != "" {
		if err := os.Setenv("MONEYSYNC_CONFIG", globalFlags.configFile); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Log, globalFlags.debug)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	slog.SetDefault(logger)
	a := &app{cfg: cfg, logger: logger, logCloser: closer}

	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.Migrations); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if a.db, err = database.Open(cfg.Database.Path); err != nil {
		a.Close()
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.SeedDefaults(ctx, a.db); err != nil {
		a.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}
	if a.kv, err = kv.Open(kv.WithDataDir(cfg.State.Path), kv.WithLogger(logger)); err != nil {
		a.Close()
		if errors.Is(err, kv.ErrLocked) {
			return nil, fmt.Errorf("%w: stop the daemon or tui first (sync, status and force go through a running daemon)", err)
		}
		return nil, err
	}
	a.state = syncstate.New(a.kv)

	a.accounts = repository.NewAccountRepo(a.db)
	a.rules = repository.NewRecurringRepo(a.db)
	a.transactions = repository.NewTransactionRepo(a.db)
	a.preferences = repository.NewPreferenceRepo(a.db)
	a.recurring = &service.RecurringService{
		Rules:        a.rules,
		Transactions: a.transactions,
		Logger:       logger.With("component", "recurring"),
	}
	return a, nil
}

func (a *app) Close() {
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

var errNoRemote = errors.New("no remote configured: set sync.remote")

// remote opens the configured transport for this device.
func (a *app) remote() (transport.Transport, string, error) {
	if a.cfg.Sync.Remote == "" {
		return nil, "", errNoRemote
	}
	deviceID, err := a.state.GetOrCreateDeviceID()
	if err != nil {
		return nil, "", fmt.Errorf("device id: %w", err)
	}
	store, err := secrets.Default()
	if err != nil {
		return nil, "", err
	}
	token, err := store.Resolve(a.cfg.Sync.Remote, a.cfg.Sync.TokenEnv)
	if err != nil {
		return nil, "", fmt.Errorf("relay token: %w", err)
	}
	t, err := transport.Open(a.cfg.Sync.Remote, transport.Options{
		Token:    token,
		DeviceID: deviceID,
		Timeout:  a.cfg.Sync.Timeout,
	})
	if err != nil {
		return nil, "", err
	}
	return t, deviceID, nil
}

func (a *app) syncService(t transport.Transport, deviceID string, opts ...syncer.OptionFunc) *syncer.Service {
	opts = append([]syncer.OptionFunc{
		syncer.WithLogger(a.logger.With("component", "syncer")),
		syncer.WithPoster(a.recurring),
		syncer.WithDeviceID(deviceID),
	}, opts...)
	entities := syncer.Entities(a.accounts, a.rules, a.transactions, a.preferences)
	return syncer.NewService(syncer.NewCoordinator(t, entities, opts...), a.state)
}

// withApp opens the local stores for the duration of fn.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, cmd, args)
	}
}

// daemonClient returns a client when a daemon answers on the control socket.
func daemonClient(ctx context.Context) (*control.Client, config.Config, bool) {
	cfg, err := loadConfig()
	if err != nil || cfg.State.Socket == "" {
		return nil, cfg, false
	}
	c := control.NewClient(cfg.State.Socket)
	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := c.Status(pctx); err != nil {
		return nil, cfg, false
	}
	return c, cfg, true
}

// viaDaemon runs daemonFn against a running daemon, which holds the state
// store open, and falls back to localFn with the local stores.
func viaDaemon(
	daemonFn func(ctx context.Context, c *control.Client, cfg config.Config, cmd *cobra.Command) error,
	localFn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error,
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if c, cfg, ok := daemonClient(cmd.Context()); ok {
			slog.Debug("using running daemon", "socket", cfg.State.Socket)
			return daemonFn(cmd.Context(), c, cfg, cmd)
		}
		return withApp(localFn)(cmd, args)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Recurring transactions and multi-device sync for a personal finance ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.configFile, "config", "", "path to config file")

	// Subcommands
	rootCmd.AddCommand(syncCommand())
	rootCmd.AddCommand(daemonCommand())
	rootCmd.AddCommand(statusCommand())
	rootCmd.AddCommand(forceCommand())
	rootCmd.AddCommand(upcomingCommand())
	rootCmd.AddCommand(postDueCommand())
	rootCmd.AddCommand(ruleCommand())
	rootCmd.AddCommand(importCommand())
	rootCmd.AddCommand(relayCommand())
	rootCmd.AddCommand(seedCommand())
	rootCmd.AddCommand(resetCommand())
	rootCmd.AddCommand(tokenCommand())
	rootCmd.AddCommand(tuiCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
