// Package daemon keeps a device in sync in the background.
//
// The daemon:
// 1. Runs a sync pass on start
// 2. Runs a pass every Interval
// 3. Runs a pass shortly after the remote reports a change, batching bursts
// 4. Runs a pass when Trigger is called
//
// A dropped change feed is reopened with exponential backoff.
package daemon

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jask/moneysync/internal/syncer"
	"github.com/jask/moneysync/internal/transport"
)

// Syncer runs one pass.
type Syncer interface {
	Sync(ctx context.Context) (syncer.Result, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval between periodic passes. Zero disables the timer.
	Interval time.Duration

	// Debounce is how long to wait after a remote change before syncing.
	Debounce time.Duration

	// Resubscribe is the first wait before reopening a dropped change feed.
	// It doubles per failed attempt up to maxResubscribe.
	Resubscribe time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Debounce:    2 * time.Second,
		Resubscribe: time.Second,
	}
}

const maxResubscribe = time.Minute

// Daemon schedules sync passes.
type Daemon struct {
	syncer   Syncer
	notifier transport.Notifier
	config   Config
	trigger  chan struct{}

	mu   sync.Mutex
	last syncer.Result
	err  error
}

// New creates a daemon. notifier may be nil, in which case only the timer
// and Trigger start passes.
func New(s Syncer, notifier transport.Notifier, config Config) *Daemon {
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	if config.Resubscribe <= 0 {
		config.Resubscribe = DefaultConfig().Resubscribe
	}
	return &Daemon{
		syncer:   s,
		notifier: notifier,
		config:   config,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a pass as soon as the current one, if any, finishes.
func (d *Daemon) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Last returns the result of the most recent pass.
func (d *Daemon) Last() (syncer.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.err
}

// Run blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	logger := d.config.Logger
	logger.Info("daemon started", "interval", d.config.Interval, "debounce", d.config.Debounce)
	defer logger.Info("daemon stopped")

	var (
		events  <-chan transport.Event
		resub   <-chan time.Time
		backoff = d.config.Resubscribe
	)
	// subscribe opens the change feed or schedules another attempt.
	// Notifications are optional; the timer keeps running meanwhile.
	subscribe := func() bool {
		ch, err := d.notifier.Subscribe(ctx)
		if err != nil {
			logger.Warn("subscribe to remote changes", "error", err, "retry_in", backoff)
			resub = time.After(backoff)
			backoff = min(2*backoff, maxResubscribe)
			return false
		}
		events, resub, backoff = ch, nil, d.config.Resubscribe
		return true
	}
	if d.notifier != nil {
		subscribe()
	}

	var tick <-chan time.Time
	if d.config.Interval > 0 {
		ticker := time.NewTicker(d.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(d.config.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	d.pass(ctx, "start")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			d.pass(ctx, "interval")
		case <-d.trigger:
			d.pass(ctx, "trigger")
		case ev, ok := <-events:
			if !ok {
				events = nil
				if ctx.Err() == nil {
					logger.Warn("remote change feed closed", "retry_in", backoff)
					resub = time.After(backoff)
				}
				continue
			}
			logger.Debug("remote change", "entity", ev.Entity, "device", ev.DeviceID)
			debounce.Reset(d.config.Debounce)
		case <-resub:
			// Changes made while the feed was down are picked up by one pass.
			if subscribe() {
				debounce.Reset(d.config.Debounce)
			}
		case <-debounce.C:
			d.pass(ctx, "remote")
		}
	}
}

func (d *Daemon) pass(ctx context.Context, reason string) {
	res, err := d.syncer.Sync(ctx)
	d.mu.Lock()
	d.last, d.err = res, err
	d.mu.Unlock()
	if err != nil {
		if ctx.Err() == nil {
			d.config.Logger.Warn("sync pass", "reason", reason, "error", err)
		}
		return
	}
	d.config.Logger.Info("sync pass", "reason", reason, "outcome", res.Outcome, "mode", res.Mode, "posted", res.Posted)
}
