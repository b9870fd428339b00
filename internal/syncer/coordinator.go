// Package syncer runs sync passes between the local record store and the
// shared remote copy.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jask/moneysync/internal/conflict"
	"github.com/jask/moneysync/internal/syncstate"
	"github.com/jask/moneysync/internal/transport"
)

// Mode decides which side wins a pass.
type Mode string

const (
	ModeMerge  Mode = "merge"
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// ModeFor applies the force flag precedence: local, then remote, then a
// timestamp merge.
func ModeFor(st syncstate.State) Mode {
	switch {
	case st.ForceLocalData:
		return ModeLocal
	case st.ForceServerSync:
		return ModeRemote
	}
	return ModeMerge
}

type Outcome string

const (
	Applied Outcome = "applied"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

// EntityResult describes one entity type of a pass.
type EntityResult struct {
	Entity  string
	Records int
	Stats   conflict.Stats
	Skipped int
	Pushed  bool
	Err     error `json:"-"`
}

// Result summarises a pass.
type Result struct {
	Outcome  Outcome
	Mode     Mode
	Entities []EntityResult
	Posted   int
	Started  time.Time
	Finished time.Time
}

// Poster materialises recurring occurrences that fell due.
type Poster interface {
	PostDue(ctx context.Context, asOf time.Time) (int, error)
}

// Coordinator runs sync passes. One pass runs at a time; overlapping calls
// return Skipped.
type Coordinator struct {
	transport transport.Transport
	entities  []EntityStore
	poster    Poster
	deviceID  string
	logger    *slog.Logger
	metrics   syncMetrics
	now       func() time.Time
	inFlight  atomic.Bool
}

type OptionFunc func(*Coordinator)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(c *Coordinator) { c.logger = logger }
}

// WithPromRegistry specifies the prometheus registry to use for metrics
func WithPromRegistry(registry prometheus.Registerer) OptionFunc {
	return func(c *Coordinator) { c.metrics.init(registry) }
}

// WithPoster posts due occurrences after recurring rules are merged.
func WithPoster(p Poster) OptionFunc {
	return func(c *Coordinator) { c.poster = p }
}

// WithDeviceID fills State.DeviceID when the caller left it empty.
func WithDeviceID(id string) OptionFunc {
	return func(c *Coordinator) { c.deviceID = id }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) OptionFunc {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(t transport.Transport, entities []EntityStore, opts ...OptionFunc) *Coordinator {
	c := &Coordinator{transport: t, entities: entities, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.metrics.passes == nil {
		c.metrics.init(nil)
	}
	return c
}

// RunSyncPass performs one pass and returns the state to persist. On any
// error the input state is returned unchanged so a retry repeats the same
// intended action.
func (c *Coordinator) RunSyncPass(ctx context.Context, st syncstate.State) (Result, syncstate.State, error) {
	mode := ModeFor(st)
	res := Result{Mode: mode, Started: c.now()}
	if !c.inFlight.CompareAndSwap(false, true) {
		res.Outcome = Skipped
		c.metrics.passes.WithLabelValues(string(Skipped), string(mode)).Inc()
		return res, st, nil
	}
	defer c.inFlight.Store(false)

	logger := c.logger.With("mode", mode)
	err := c.run(ctx, mode, &res, logger)
	res.Finished = c.now()
	if err != nil {
		res.Outcome = Failed
		c.metrics.passes.WithLabelValues(string(Failed), string(mode)).Inc()
		logger.Warn("sync pass failed", "error", err)
		return res, st, err
	}

	next := st
	next.ForceLocalData = false
	// A forced pass clears the server flag too: local priority drops a pending
	// server request.
	if mode != ModeMerge {
		next.ForceServerSync = false
	}
	next.LastSyncTime = res.Finished.UTC()
	if next.SyncID == "" {
		next.SyncID = uuid.NewString()
	}
	if next.DeviceID == "" {
		next.DeviceID = c.deviceID
	}
	res.Outcome = Applied
	c.metrics.passes.WithLabelValues(string(Applied), string(mode)).Inc()
	c.metrics.duration.Observe(res.Finished.Sub(res.Started).Seconds())
	c.metrics.lastSync.Set(float64(next.LastSyncTime.Unix()))
	logger.Info("sync pass applied", "entities", len(res.Entities), "posted", res.Posted,
		"duration", res.Finished.Sub(res.Started))
	return res, next, nil
}

func (c *Coordinator) pullAll(ctx context.Context) (map[string]conflict.Snapshot, error) {
	var mu sync.Mutex
	remote := make(map[string]conflict.Snapshot, len(c.entities))
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range c.entities {
		name := e.Name()
		g.Go(func() error {
			snap, err := c.transport.Pull(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			remote[name] = snap
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return remote, nil
}

func (c *Coordinator) run(ctx context.Context, mode Mode, res *Result, logger *slog.Logger) error {
	var remote map[string]conflict.Snapshot
	if mode != ModeLocal {
		var err error
		if remote, err = c.pullAll(ctx); err != nil {
			return err
		}
	}

	var failures []error
	pushed := make(map[string]conflict.Snapshot, len(c.entities))
	for _, e := range c.entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		er := EntityResult{Entity: e.Name()}
		local, err := e.Snapshot(ctx)
		if err != nil {
			er.Err = err
			res.Entities = append(res.Entities, er)
			failures = append(failures, err)
			continue
		}

		// Persistence of a type always completes once started.
		persistCtx := context.WithoutCancel(ctx)
		var out conflict.Snapshot
		push := true
		switch mode {
		case ModeLocal:
			out = local
		case ModeRemote:
			out = remote[e.Name()]
			push = false
			er.Skipped, er.Err = e.Apply(persistCtx, out, true)
		default:
			out, er.Stats = conflict.Merge(local, remote[e.Name()])
			if er.Stats.Malformed > 0 {
				logger.Debug("malformed updatedAt treated as oldest", "entity", e.Name(), "count", er.Stats.Malformed)
			}
			c.metrics.observeMerge(e.Name(), mergeCounts{
				local:  er.Stats.LocalWins + er.Stats.LocalOnly,
				remote: er.Stats.RemoteWins + er.Stats.RemoteOnly,
			})
			er.Skipped, er.Err = e.Apply(persistCtx, out, false)
		}
		er.Records = len(out)
		if er.Skipped > 0 {
			logger.Warn("skipped undecodable records", "entity", e.Name(), "count", er.Skipped)
		}
		if er.Err != nil {
			res.Entities = append(res.Entities, er)
			failures = append(failures, er.Err)
			continue
		}
		if push {
			if err := c.transport.Push(ctx, e.Name(), out); err != nil {
				er.Err = err
				res.Entities = append(res.Entities, er)
				return err
			}
			er.Pushed = true
			pushed[e.Name()] = out
		}
		res.Entities = append(res.Entities, er)
	}
	if len(failures) > 0 {
		return fmt.Errorf("sync pass incomplete: %w", errors.Join(failures...))
	}

	// Posting waits until every type is merged so remote tombstones and rule
	// advances are already local.
	if mode == ModeRemote || c.poster == nil {
		return nil
	}
	n, err := c.poster.PostDue(context.WithoutCancel(ctx), c.now())
	res.Posted = n
	if err != nil {
		return fmt.Errorf("post due occurrences: %w", err)
	}
	return c.republish(ctx, pushed)
}

// republish pushes recurring and transactions again when posting changed
// them after the first push.
func (c *Coordinator) republish(ctx context.Context, pushed map[string]conflict.Snapshot) error {
	for _, e := range c.entities {
		prev, ok := pushed[e.Name()]
		if !ok || (e.Name() != transport.Recurring && e.Name() != transport.Transactions) {
			continue
		}
		fresh, err := e.Snapshot(ctx)
		if err != nil {
			return err
		}
		if sameSnapshot(prev, fresh) {
			continue
		}
		if err := c.transport.Push(ctx, e.Name(), fresh); err != nil {
			return err
		}
	}
	return nil
}

func sameSnapshot(a, b conflict.Snapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for id, ra := range a {
		rb, ok := b[id]
		if !ok || ra.UpdatedAt != rb.UpdatedAt || ra.Deleted != rb.Deleted || !bytes.Equal(ra.Data, rb.Data) {
			return false
		}
	}
	return true
}
