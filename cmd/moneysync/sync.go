package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jask/moneysync/internal/config"
	"github.com/jask/moneysync/internal/control"
	"github.com/jask/moneysync/internal/daemon"
	"github.com/jask/moneysync/internal/syncer"
	"github.com/jask/moneysync/internal/syncstate"
	"github.com/jask/moneysync/internal/transport"
)

func syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the configured remote",
		Args:  cobra.NoArgs,
		RunE: viaDaemon(
			func(ctx context.Context, c *control.Client, _ config.Config, cmd *cobra.Command) error {
				res, err := c.Sync(ctx)
				printResult(cmd.OutOrStdout(), res)
				return err
			},
			func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
				t, deviceID, err := a.remote()
				if err != nil {
					return err
				}
				res, err := a.syncService(t, deviceID).Sync(ctx)
				printResult(cmd.OutOrStdout(), res)
				return err
			},
		),
	}
}

func printResult(w io.Writer, res syncer.Result) {
	if res.Outcome == syncer.Skipped {
		fmt.Fprintln(w, "sync skipped: another pass is running")
		return
	}
	t := table.New().Headers("ENTITY", "RECORDS", "LOCAL", "REMOTE", "LOCAL WINS", "REMOTE WINS", "SKIPPED", "PUSHED")
	for _, e := range res.Entities {
		t.Row(e.Entity,
			strconv.Itoa(e.Records),
			strconv.Itoa(e.Stats.LocalOnly),
			strconv.Itoa(e.Stats.RemoteOnly),
			strconv.Itoa(e.Stats.LocalWins),
			strconv.Itoa(e.Stats.RemoteWins),
			strconv.Itoa(e.Skipped+e.Stats.Malformed),
			strconv.FormatBool(e.Pushed),
		)
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%s (%s) in %s, posted %d\n",
		res.Outcome, res.Mode, res.Finished.Sub(res.Started).Round(time.Millisecond), res.Posted)
}

func daemonCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Sync on an interval and whenever the remote reports a change",
		Long: "Sync on an interval and whenever the remote reports a change.\n\n" +
			"While it runs, sync, status and force are served over the control socket\n" +
			"(state.socket). SIGUSR1 starts a pass right away.",
		Args: cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ *cobra.Command, _ []string) error {
			t, deviceID, err := a.remote()
			if err != nil {
				return err
			}
			registry := prometheus.NewRegistry()
			svc := a.syncService(t, deviceID, syncer.WithPromRegistry(registry))

			var notifier transport.Notifier
			if n, ok := t.(transport.Notifier); ok {
				notifier = n
			}
			d := daemon.New(svc, notifier, daemon.Config{
				Interval: a.cfg.Sync.Interval,
				Debounce: a.cfg.Sync.Debounce,
				Logger:   a.logger.With("component", "daemon"),
			})

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 10 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics listener failed", "error", err)
					}
				}()
				defer srv.Close()
				a.logger.Info("serving metrics", "addr", metricsAddr)
			}

			ctl := control.New(svc,
				control.WithTrigger(d.Trigger),
				control.WithLast(d.Last),
				control.WithLogger(a.logger.With("component", "control")),
			)
			ctlDone := make(chan struct{})
			go func() {
				defer close(ctlDone)
				if err := ctl.Serve(ctx, a.cfg.State.Socket); err != nil {
					a.logger.Error("control socket failed", "socket", a.cfg.State.Socket, "error", err)
				}
			}()
			stop := notifyTrigger(a.logger, d.Trigger)
			defer stop()

			a.logger.Info("daemon started",
				"remote", a.cfg.Sync.Remote,
				"interval", a.cfg.Sync.Interval,
				"device_id", deviceID,
			)
			err = d.Run(ctx)
			<-ctlDone
			return err
		}),
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

type statusView struct {
	syncstate.State `yaml:",inline"`
	ForceServerSync bool   `json:"forceServerSync" yaml:"-"`
	NeedsFullSync   bool   `json:"needsFullSync" yaml:"needsFullSync"`
	Remote          string `json:"remote" yaml:"remote"`
	Daemon          bool   `json:"daemon" yaml:"daemon"`
}

func statusCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync bookkeeping for this device",
		Args:  cobra.NoArgs,
		RunE: viaDaemon(
			func(ctx context.Context, c *control.Client, cfg config.Config, cmd *cobra.Command) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), format, statusView{
					State:           st.State,
					ForceServerSync: st.ForceServerSync,
					NeedsFullSync:   st.NeedsFullSync,
					Remote:          cfg.Sync.Remote,
					Daemon:          true,
				})
			},
			func(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
				st, _, err := a.state.Load()
				if err != nil {
					return err
				}
				full, err := a.state.NeedsFullSync()
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), format, statusView{
					State:           st,
					ForceServerSync: st.ForceServerSync,
					NeedsFullSync:   full,
					Remote:          a.cfg.Sync.Remote,
				})
			},
		),
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json, yaml")
	return cmd
}

func printStatus(w io.Writer, format string, view statusView) error {
	return render(w, format, view, func(w io.Writer) {
		last := "never"
		if !view.LastSyncTime.IsZero() {
			last = view.LastSyncTime.Local().Format(time.RFC3339)
		}
		t := table.New().Rows(
			[]string{"remote", view.Remote},
			[]string{"device", view.DeviceID},
			[]string{"sync id", view.SyncID},
			[]string{"last sync", last},
			[]string{"full sync", strconv.FormatBool(view.NeedsFullSync)},
			[]string{"force local", strconv.FormatBool(view.ForceLocalData)},
			[]string{"force server", strconv.FormatBool(view.ForceServerSync)},
			[]string{"daemon", strconv.FormatBool(view.Daemon)},
		)
		fmt.Fprintln(w, t.Render())
	})
}

// render writes v as json or yaml, or calls tableFn for the default format.
func render(w io.Writer, format string, v any, tableFn func(io.Writer)) error {
	switch format {
	case "", "table":
		tableFn(w)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func forceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "force",
		Short: "Override conflict resolution for the next sync pass",
		Long: "Override conflict resolution for the next sync pass.\n\n" +
			"With a daemon running the flag is set through it and a pass starts right away.",
	}
	// forceVia sets the flag through a running daemon or directly in the
	// local state store.
	forceVia := func(action, done string, local func(a *app) error) func(*cobra.Command, []string) error {
		return viaDaemon(
			func(ctx context.Context, c *control.Client, _ config.Config, cmd *cobra.Command) error {
				if _, err := c.Force(ctx, action); err != nil {
					return err
				}
				if done != "" {
					fmt.Fprintln(cmd.OutOrStdout(), done+" (daemon is syncing now)")
				}
				return nil
			},
			func(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
				if err := local(a); err != nil {
					return err
				}
				if done != "" {
					fmt.Fprintln(cmd.OutOrStdout(), done+" on the next sync")
				}
				return nil
			},
		)
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "local",
		Short: "Overwrite the remote with this device's data on the next pass",
		Args:  cobra.NoArgs,
		RunE: forceVia(control.ForceLocal, "the remote will be overwritten with local data", func(a *app) error {
			st, err := a.state.ForceFullSync()
			if err != nil {
				return err
			}
			slog.Debug("forced local data", "sync_id", st.SyncID)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "server",
		Short: "Replace this device's data with the remote on the next pass",
		Args:  cobra.NoArgs,
		RunE: forceVia(control.ForceServer, "local data will be replaced with the remote", func(a *app) error {
			return a.state.ForceServerSync()
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear-server",
		Short: "Cancel a pending server override",
		Args:  cobra.NoArgs,
		RunE: forceVia(control.ClearServer, "", func(a *app) error {
			return a.state.ResetServerSync()
		}),
	})
	return cmd
}
