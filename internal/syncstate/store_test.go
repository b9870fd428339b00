package syncstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/kv"
)

func setupStore(t *testing.T) (*Store, *kv.Store) {
	t.Helper()
	backend, err := kv.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return New(backend, WithClock(func() time.Time { return fixed })), backend
}

func TestNeedsFullSyncUntilSaved(t *testing.T) {
	s, _ := setupStore(t)

	need, err := s.NeedsFullSync()
	require.NoError(t, err)
	require.True(t, need)

	_, ok, err := s.Load()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Save(State{SyncID: "epoch-1", DeviceID: "dev"}))
	need, err = s.NeedsFullSync()
	require.NoError(t, err)
	require.False(t, need)

	st, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "epoch-1", st.SyncID)
}

func TestDeviceIDIsStable(t *testing.T) {
	s, backend := setupStore(t)
	first, err := s.GetOrCreateDeviceID()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.GetOrCreateDeviceID()
	require.NoError(t, err)
	require.Equal(t, first, second)

	again := New(backend)
	third, err := again.GetOrCreateDeviceID()
	require.NoError(t, err)
	require.Equal(t, first, third)

	require.NoError(t, s.Reset())
	after, err := s.GetOrCreateDeviceID()
	require.NoError(t, err)
	require.Equal(t, first, after)
}

func TestForceFullSyncStartsNewEpoch(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.Save(State{SyncID: "old", DeviceID: "dev"}))

	st, err := s.ForceFullSync()
	require.NoError(t, err)
	require.NotEqual(t, "old", st.SyncID)
	require.True(t, st.ForceLocalData)
	require.Equal(t, "dev", st.DeviceID)
	require.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), st.LastSyncTime)

	loaded, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, st.SyncID, loaded.SyncID)
	require.True(t, loaded.ForceLocalData)
}

func TestForceFullSyncOnFreshDevice(t *testing.T) {
	s, _ := setupStore(t)
	st, err := s.ForceFullSync()
	require.NoError(t, err)
	require.NotEmpty(t, st.DeviceID)
	need, err := s.NeedsFullSync()
	require.NoError(t, err)
	require.False(t, need)
}

func TestServerFlagIsIndependent(t *testing.T) {
	s, backend := setupStore(t)
	require.NoError(t, s.ForceServerSync())

	st, ok, err := s.Load()
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, st.ForceServerSync)

	_, err = s.ForceFullSync()
	require.NoError(t, err)
	st, _, err = s.Load()
	require.NoError(t, err)
	require.True(t, st.ForceLocalData)
	require.True(t, st.ForceServerSync)

	require.NoError(t, s.ResetServerSync())
	forced, err := s.ServerSyncForced()
	require.NoError(t, err)
	require.False(t, forced)
	_, present, err := backend.Get(KeyForceServerSync)
	require.NoError(t, err)
	require.False(t, present)
}

func TestSaveWritesServerFlag(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.Save(State{SyncID: "a", ForceServerSync: true}))
	forced, err := s.ServerSyncForced()
	require.NoError(t, err)
	require.True(t, forced)

	require.NoError(t, s.Save(State{SyncID: "a"}))
	forced, err = s.ServerSyncForced()
	require.NoError(t, err)
	require.False(t, forced)
}

func TestResetClearsState(t *testing.T) {
	s, _ := setupStore(t)
	require.NoError(t, s.Save(State{SyncID: "a", ForceServerSync: true}))
	require.NoError(t, s.Reset())
	need, err := s.NeedsFullSync()
	require.NoError(t, err)
	require.True(t, need)
	forced, err := s.ServerSyncForced()
	require.NoError(t, err)
	require.False(t, forced)
}
