package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/kv"
	"github.com/jask/moneysync/internal/syncer"
	"github.com/jask/moneysync/internal/syncstate"
	"github.com/jask/moneysync/internal/transport"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func setupService(t *testing.T) (*syncer.Service, *syncstate.Store) {
	t.Helper()
	store, err := kv.Open()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	state := syncstate.New(store)
	return syncer.NewService(syncer.NewCoordinator(transport.NewMemory(), nil), state), state
}

// serve runs s on a socket in a temp dir and returns a client for it.
func serve(t *testing.T, s *Server) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctl.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, path) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	c := NewClient(path)
	require.Eventually(t, func() bool {
		_, err := c.Status(ctx)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

func TestSyncThroughSocket(t *testing.T) {
	svc, state := setupService(t)
	c := serve(t, New(svc))
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.NeedsFullSync)

	res, err := c.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, syncer.Applied, res.Outcome)
	require.Equal(t, syncer.ModeMerge, res.Mode)

	saved, ok, err := state.Load()
	require.NoError(t, err)
	require.True(t, ok)

	st, err = c.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.NeedsFullSync)
	require.Equal(t, saved.SyncID, st.SyncID)
}

func TestForceTriggersPass(t *testing.T) {
	svc, state := setupService(t)
	var triggered atomic.Int32
	c := serve(t, New(svc, WithTrigger(func() { triggered.Add(1) })))
	ctx := context.Background()

	st, err := c.Force(ctx, ForceLocal)
	require.NoError(t, err)
	require.True(t, st.ForceLocalData)
	require.EqualValues(t, 1, triggered.Load())

	st, err = c.Force(ctx, ForceServer)
	require.NoError(t, err)
	require.True(t, st.ForceServerSync)
	require.True(t, st.State.ForceServerSync)
	require.EqualValues(t, 2, triggered.Load())

	st, err = c.Force(ctx, ClearServer)
	require.NoError(t, err)
	require.False(t, st.ForceServerSync)
	require.EqualValues(t, 2, triggered.Load(), "clearing does not start a pass")

	forced, err := state.ServerSyncForced()
	require.NoError(t, err)
	require.False(t, forced)
}

func TestStatusReportsLastPass(t *testing.T) {
	svc, _ := setupService(t)
	last := syncer.Result{Outcome: syncer.Failed, Started: time.Now()}
	c := serve(t, New(svc, WithLast(func() (syncer.Result, error) {
		return last, context.DeadlineExceeded
	})))

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.Last)
	require.Equal(t, syncer.Failed, st.Last.Outcome)
	require.Equal(t, context.DeadlineExceeded.Error(), st.LastError)
}

func TestUnknownForceAction(t *testing.T) {
	t.Parallel()
	svc, _ := setupService(t)
	srv := httptest.NewServer(New(svc).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/force/everything", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStaleSocketIsReplaced(t *testing.T) {
	svc, _ := setupService(t)
	path := filepath.Join(t.TempDir(), "ctl.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(svc).Serve(ctx, path) }()

	c := NewClient(path)
	require.Eventually(t, func() bool {
		_, err := c.Status(ctx)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, New(svc).Serve(ctx, path), ErrRunning)

	cancel()
	require.NoError(t, <-done)
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestClientWithoutDaemon(t *testing.T) {
	t.Parallel()
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.Status(context.Background())
	require.Error(t, err)
}
