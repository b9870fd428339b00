package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/conflict"
)

func sample() conflict.Snapshot {
	return conflict.Snapshot{
		"a1": {ID: "a1", UpdatedAt: "2024-01-01T00:00:00Z", Data: json.RawMessage(`{"name":"Checking"}`)},
	}
}

func TestHTTPPullPush(t *testing.T) {
	t.Parallel()
	stored := map[string]Envelope{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		entity := filepath.Base(r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			env, ok := stored[entity]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(env)
		case http.MethodPut:
			var env Envelope
			if err := json.NewDecoder(r.Body).Decode(&env); err != nil || r.Header.Get("X-Device-ID") != "dev-1" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			stored[entity] = env
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := NewHTTP(srv.URL, WithToken("secret"), WithDeviceID("dev-1"))
	require.NoError(t, err)

	empty, err := h.Pull(ctx, Accounts)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, h.Push(ctx, Accounts, sample()))
	got, err := h.Pull(ctx, Accounts)
	require.NoError(t, err)
	require.Equal(t, sample()["a1"].UpdatedAt, got["a1"].UpdatedAt)

	bad, err := NewHTTP(srv.URL, WithToken("wrong"))
	require.NoError(t, err)
	_, err = bad.Pull(ctx, Accounts)
	require.Error(t, err)
	require.True(t, IsTransport(err))
	require.Contains(t, err.Error(), "401")
}

func TestHTTPTimeoutIsTransportError(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	h, err := NewHTTP(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = h.Pull(context.Background(), Transactions)
	var te *Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, "pull", te.Op)
	require.Equal(t, Transactions, te.Entity)
}

func TestDirRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := t.TempDir()
	d, err := NewDir(root, "dev-1")
	require.NoError(t, err)

	empty, err := d.Pull(ctx, Recurring)
	require.NoError(t, err)
	require.Empty(t, empty)

	require.NoError(t, d.Push(ctx, Recurring, sample()))
	got, err := d.Pull(ctx, Recurring)
	require.NoError(t, err)
	require.Equal(t, sample(), got)

	require.NoError(t, os.WriteFile(filepath.Join(root, Preferences+".json"), []byte("{not json"), 0o600))
	_, err = d.Pull(ctx, Preferences)
	require.True(t, IsTransport(err))
}

func TestDirSubscribeSeesOtherDevices(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	mine, err := NewDir(root, "dev-1")
	require.NoError(t, err)
	theirs, err := NewDir(root, "dev-2")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := mine.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, theirs.Push(ctx, Accounts, sample()))
	select {
	case ev := <-events:
		require.Equal(t, Accounts, ev.Entity)
	case <-ctx.Done():
		t.Fatal("no event for a snapshot written by another device")
	}
}

func TestMemorySharedBetweenDevices(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	events, err := m.Subscribe(ctx)
	require.NoError(t, err)

	snap := sample()
	require.NoError(t, m.Push(ctx, Accounts, snap))
	snap["a2"] = conflict.Record{ID: "a2"}
	got, err := m.Pull(ctx, Accounts)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, Event{Entity: Accounts}, <-events)

	cancel()
	for range events {
	}
	_, err = m.Pull(ctx, Accounts)
	require.True(t, IsTransport(err))
}

func TestOpenPicksTransport(t *testing.T) {
	t.Parallel()
	tr, err := Open("https://relay.example.com", Options{Token: "x"})
	require.NoError(t, err)
	require.IsType(t, &HTTP{}, tr)

	tr, err = Open(t.TempDir(), Options{})
	require.NoError(t, err)
	require.IsType(t, &Dir{}, tr)

	_, err = Open("  ", Options{})
	require.Error(t, err)
	require.True(t, ValidEntity(Accounts))
	require.False(t, ValidEntity("categories"))
}
