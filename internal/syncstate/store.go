// Package syncstate persists this device's synchronization bookkeeping.
package syncstate

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Keys in the local key/value store.
const (
	KeyDeviceID        = "deviceId"
	KeyState           = "syncState"
	KeyForceServerSync = "forceServerSync"
)

// KV is the local key/value collaborator.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, val []byte) error
	Delete(key string) error
}

// State is the sync bookkeeping passed into and returned from a sync pass.
// ForceServerSync lives under its own key and is merged in by Load.
type State struct {
	SyncID          string    `json:"syncId" yaml:"syncId"`
	LastSyncTime    time.Time `json:"lastSyncTime" yaml:"lastSyncTime"`
	DeviceID        string    `json:"deviceId" yaml:"deviceId"`
	ForceLocalData  bool      `json:"forceLocalData" yaml:"forceLocalData"`
	ForceServerSync bool      `json:"-" yaml:"forceServerSync"`
}

// Store reads and writes State.
type Store struct {
	kv  KV
	now func() time.Time
	mu  sync.Mutex
}

type OptionFunc func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) OptionFunc {
	return func(s *Store) {
		s.now = now
	}
}

func New(kv KV, opts ...OptionFunc) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted state and whether one exists. The server flag
// is reported even when no state has been saved yet.
func (s *Store) Load() (State, bool, error) {
	var st State
	raw, ok, err := s.kv.Get(KeyState)
	if err != nil {
		return State{}, false, err
	}
	if ok {
		if err := json.Unmarshal(raw, &st); err != nil {
			return State{}, false, fmt.Errorf("decode sync state: %w", err)
		}
	}
	forced, err := s.ServerSyncForced()
	if err != nil {
		return State{}, false, err
	}
	st.ForceServerSync = forced
	return st, ok, nil
}

// Save persists st including its server flag.
func (s *Store) Save(st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.kv.Set(KeyState, raw); err != nil {
		return err
	}
	if st.ForceServerSync {
		return s.ForceServerSync()
	}
	return s.ResetServerSync()
}

// NeedsFullSync reports whether no state was ever saved on this device.
func (s *Store) NeedsFullSync() (bool, error) {
	_, ok, err := s.kv.Get(KeyState)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// GetOrCreateDeviceID returns the stable id of this device, generating it
// on first use.
func (s *Store) GetOrCreateDeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.kv.Get(KeyDeviceID)
	if err != nil {
		return "", err
	}
	if ok && len(raw) > 0 {
		return string(raw), nil
	}
	id := uuid.NewString()
	if err := s.kv.Set(KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// ForceFullSync starts a new sync epoch in which this device's data is
// authoritative for the next pass.
func (s *Store) ForceFullSync() (State, error) {
	st, _, err := s.Load()
	if err != nil {
		return State{}, err
	}
	if st.DeviceID == "" {
		if st.DeviceID, err = s.GetOrCreateDeviceID(); err != nil {
			return State{}, err
		}
	}
	st.SyncID = uuid.NewString()
	st.LastSyncTime = s.now().UTC()
	st.ForceLocalData = true
	raw, err := json.Marshal(st)
	if err != nil {
		return State{}, err
	}
	if err := s.kv.Set(KeyState, raw); err != nil {
		return State{}, err
	}
	return st, nil
}

// ForceServerSync makes the remote snapshot authoritative for the next pass.
func (s *Store) ForceServerSync() error {
	return s.kv.Set(KeyForceServerSync, []byte("true"))
}

// ResetServerSync clears the remote priority flag.
func (s *Store) ResetServerSync() error {
	return s.kv.Delete(KeyForceServerSync)
}

func (s *Store) ServerSyncForced() (bool, error) {
	raw, ok, err := s.kv.Get(KeyForceServerSync)
	if err != nil || !ok {
		return false, err
	}
	return string(raw) == "true", nil
}

// Reset forgets sync progress. The device id is kept.
func (s *Store) Reset() error {
	if err := s.kv.Delete(KeyState); err != nil {
		return err
	}
	return s.ResetServerSync()
}
