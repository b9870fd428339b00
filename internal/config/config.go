package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	State    StateConfig
	Sync     SyncConfig
	Relay    RelayConfig
	Log      LogConfig
	UI       UIConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path       string
	Migrations string
}

// StateConfig locates the sync bookkeeping store.
type StateConfig struct {
	Path string
	// Socket is where a running daemon accepts commands from other
	// moneysync processes.
	Socket string
}

// SyncConfig holds remote settings. An empty Remote disables sync.
type SyncConfig struct {
	Remote   string
	TokenEnv string        `mapstructure:"token_env"`
	Timeout  time.Duration
	Interval time.Duration
	Debounce time.Duration
}

// RelayConfig holds settings for the relay command.
type RelayConfig struct {
	Listen string
	Store  string
	Token  string
}

// LogConfig holds logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// UIConfig holds presentation settings.
type UIConfig struct {
	DateFormat     string `mapstructure:"date_format"`
	CurrencySymbol string `mapstructure:"currency_symbol"`
	HorizonMonths  int    `mapstructure:"horizon_months"`
}

func dataDir() string {
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "moneysync")
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv("MONEYSYNC_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "moneysync", "config.toml")
}

// Load reads configuration from file and env. Env var overrides use prefix MONEYSYNC_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(dataDir(), "moneysync.db"))
	v.SetDefault("database.migrations", filepath.Join("internal", "database", "migrations"))
	v.SetDefault("state.path", filepath.Join(dataDir(), "state"))
	v.SetDefault("state.socket", filepath.Join(dataDir(), "control.sock"))
	v.SetDefault("sync.remote", "")
	v.SetDefault("sync.token_env", "MONEYSYNC_TOKEN")
	v.SetDefault("sync.timeout", 15*time.Second)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.debounce", 2*time.Second)
	v.SetDefault("relay.listen", ":8420")
	v.SetDefault("relay.store", "memory")
	v.SetDefault("relay.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("ui.date_format", time.DateOnly)
	v.SetDefault("ui.currency_symbol", "$")
	v.SetDefault("ui.horizon_months", 6)

	v.SetConfigType("toml")

	if cfgPath := os.Getenv("MONEYSYNC_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "moneysync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("MONEYSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Save writes the provided config to disk, creating the config directory if needed.
// The relay token is written as is; prefer the token env var or the secrets store.
func Save(cfg Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("database.migrations", cfg.Database.Migrations)
	v.Set("state.path", cfg.State.Path)
	v.Set("sync.remote", cfg.Sync.Remote)
	v.Set("sync.token_env", cfg.Sync.TokenEnv)
	v.Set("sync.timeout", cfg.Sync.Timeout.String())
	v.Set("sync.interval", cfg.Sync.Interval.String())
	v.Set("sync.debounce", cfg.Sync.Debounce.String())
	v.Set("relay.listen", cfg.Relay.Listen)
	v.Set("relay.store", cfg.Relay.Store)
	v.Set("relay.token", cfg.Relay.Token)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("log.file", cfg.Log.File)
	v.Set("ui.date_format", cfg.UI.DateFormat)
	v.Set("ui.currency_symbol", cfg.UI.CurrencySymbol)
	v.Set("ui.horizon_months", cfg.UI.HorizonMonths)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
