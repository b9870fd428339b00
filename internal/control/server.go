// Package control lets other moneysync processes reach a running daemon.
//
// The daemon holds the sync state store open, so commands such as sync,
// status and force talk to it over a unix socket instead of opening the
// store themselves.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jask/moneysync/internal/syncer"
	"github.com/jask/moneysync/internal/syncstate"
)

// Force actions accepted by POST /force/:action.
const (
	ForceLocal  = "local"
	ForceServer = "server"
	ClearServer = "clear-server"
)

// ErrRunning means another process already answers on the socket.
var ErrRunning = errors.New("control socket is served by another process")

// Controller is the sync service a daemon exposes.
type Controller interface {
	Sync(ctx context.Context) (syncer.Result, error)
	Status() (syncstate.State, error)
	NeedsFullSync() (bool, error)
	ForceLocal() (syncstate.State, error)
	ForceServer() error
	ClearServer() error
}

// Status is the sync bookkeeping as seen by the daemon.
type Status struct {
	syncstate.State
	ForceServerSync bool           `json:"forceServerSync"`
	NeedsFullSync   bool           `json:"needsFullSync"`
	Last            *syncer.Result `json:"last,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
}

// Reply is the body of every control response.
type Reply struct {
	Status *Status        `json:"status,omitempty"`
	Result *syncer.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Server answers control requests for one Controller.
type Server struct {
	ctl     Controller
	logger  *slog.Logger
	trigger func()
	last    func() (syncer.Result, error)
}

type OptionFunc func(*Server)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(s *Server) { s.logger = logger }
}

// WithTrigger is called after a force so the next pass starts right away.
func WithTrigger(fn func()) OptionFunc {
	return func(s *Server) { s.trigger = fn }
}

// WithLast reports the most recent background pass in status replies.
func WithLast(fn func() (syncer.Result, error)) OptionFunc {
	return func(s *Server) { s.last = fn }
}

func New(ctl Controller, opts ...OptionFunc) *Server {
	s := &Server{ctl: ctl}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return s
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/status", s.status)
	r.POST("/sync", s.sync)
	r.POST("/force/:action", s.force)
	return r
}

// Serve listens on the unix socket at path until ctx is cancelled. A socket
// file left behind by a dead process is replaced.
func (s *Server) Serve(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := clearStale(ctx, path); err != nil {
		return err
	}
	listenConfig := net.ListenConfig{}
	ln, err := listenConfig.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("failed to open control socket: %w", err)
	}
	defer os.Remove(path)
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return err
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control listening", "socket", path)
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func clearStale(ctx context.Context, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := NewClient(path).Status(pctx); err == nil {
		return ErrRunning
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) status(c *gin.Context) {
	st, err := s.ctl.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Reply{Error: err.Error()})
		return
	}
	full, err := s.ctl.NeedsFullSync()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Reply{Error: err.Error()})
		return
	}
	out := &Status{State: st, ForceServerSync: st.ForceServerSync, NeedsFullSync: full}
	if s.last != nil {
		if res, err := s.last(); !res.Started.IsZero() {
			out.Last = &res
			if err != nil {
				out.LastError = err.Error()
			}
		}
	}
	c.JSON(http.StatusOK, Reply{Status: out})
}

func (s *Server) sync(c *gin.Context) {
	res, err := s.ctl.Sync(c.Request.Context())
	reply := Reply{Result: &res}
	if err != nil {
		reply.Error = err.Error()
	}
	s.logger.Info("sync requested", "outcome", res.Outcome, "mode", res.Mode)
	c.JSON(http.StatusOK, reply)
}

func (s *Server) force(c *gin.Context) {
	action := c.Param("action")
	var err error
	switch action {
	case ForceLocal:
		_, err = s.ctl.ForceLocal()
	case ForceServer:
		err = s.ctl.ForceServer()
	case ClearServer:
		err = s.ctl.ClearServer()
	default:
		c.JSON(http.StatusBadRequest, Reply{Error: fmt.Sprintf("unknown force action %q", action)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, Reply{Error: err.Error()})
		return
	}
	s.logger.Info("force requested", "action", action)
	if action != ClearServer && s.trigger != nil {
		s.trigger()
	}
	s.status(c)
}
