// Package relay serves the shared snapshot copy that devices sync against.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jask/moneysync/internal/conflict"
	"github.com/jask/moneysync/internal/transport"
)

// Server is the relay HTTP service.
type Server struct {
	store    Store
	token    string
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  relayMetrics
	now      func() time.Time

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

type OptionFunc func(*Server)

// WithToken requires "Authorization: Bearer <token>" on API calls.
func WithToken(token string) OptionFunc {
	return func(s *Server) { s.token = token }
}

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(s *Server) { s.logger = logger }
}

// WithRegistry exposes metrics on the given registry.
func WithRegistry(registry *prometheus.Registry) OptionFunc {
	return func(s *Server) { s.registry = registry }
}

func New(store Store, opts ...OptionFunc) *Server {
	s := &Server{
		store:   store,
		now:     time.Now,
		clients: map[*websocket.Conn]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics.init(s.registry)
	return s
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1", s.auth)
	api.GET("/snapshots/:entity", s.getSnapshot)
	api.PUT("/snapshots/:entity", s.putSnapshot)
	api.GET("/events", s.events)
	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.closeClients()
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

func (s *Server) auth(c *gin.Context) {
	if s.token == "" {
		c.Next()
		return
	}
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if got == "" {
		got = c.Query("token")
	}
	if got != s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) observe(c *gin.Context, entity string, code int) {
	s.metrics.requests.WithLabelValues(c.Request.Method, entity, strconv.Itoa(code)).Inc()
}

func (s *Server) getSnapshot(c *gin.Context) {
	entity := c.Param("entity")
	if !transport.ValidEntity(entity) {
		s.observe(c, "unknown", http.StatusBadRequest)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity"})
		return
	}
	env, err := s.store.Get(c.Request.Context(), entity)
	if errors.Is(err, transport.ErrNotFound) {
		s.observe(c, entity, http.StatusNotFound)
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot"})
		return
	}
	if err != nil {
		s.logger.Error("load snapshot", "entity", entity, "error", err)
		s.observe(c, entity, http.StatusInternalServerError)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	s.observe(c, entity, http.StatusOK)
	c.JSON(http.StatusOK, env)
}

func (s *Server) putSnapshot(c *gin.Context) {
	entity := c.Param("entity")
	if !transport.ValidEntity(entity) {
		s.observe(c, "unknown", http.StatusBadRequest)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity"})
		return
	}
	var env transport.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		s.observe(c, entity, http.StatusBadRequest)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if env.Records == nil {
		env.Records = conflict.Snapshot{}
	}
	env.Entity = entity
	env.UpdatedAt = s.now().UTC()
	if env.DeviceID == "" {
		env.DeviceID = c.GetHeader("X-Device-ID")
	}
	if err := s.store.Put(c.Request.Context(), env); err != nil {
		s.logger.Error("store snapshot", "entity", entity, "error", err)
		s.observe(c, entity, http.StatusInternalServerError)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	s.metrics.records.WithLabelValues(entity).Set(float64(len(env.Records)))
	s.observe(c, entity, http.StatusNoContent)
	s.broadcast(transport.Event{Entity: entity, DeviceID: env.DeviceID})
	c.Status(http.StatusNoContent)
}

func (s *Server) events(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept", "error", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.metrics.subscribers.Set(float64(len(s.clients)))
	s.mu.Unlock()

	// Clients only listen; CloseRead ends ctx when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())
	<-ctx.Done()

	s.mu.Lock()
	delete(s.clients, conn)
	s.metrics.subscribers.Set(float64(len(s.clients)))
	s.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) subscribers() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) broadcast(ev transport.Event) {
	for _, conn := range s.subscribers() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			s.logger.Debug("drop subscriber", "error", err)
			conn.Close(websocket.StatusGoingAway, "write failed")
		}
		cancel()
	}
}

func (s *Server) closeClients() {
	for _, conn := range s.subscribers() {
		conn.Close(websocket.StatusGoingAway, "relay shutting down")
	}
}
