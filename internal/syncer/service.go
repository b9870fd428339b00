package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/jask/moneysync/internal/syncstate"
)

// Service runs passes against the persisted sync state.
type Service struct {
	coordinator *Coordinator
	state       *syncstate.Store
	mu          sync.Mutex
}

func NewService(c *Coordinator, state *syncstate.Store) *Service {
	return &Service{coordinator: c, state: state}
}

// Sync loads state, runs a pass and saves the resulting state when the pass
// applied. A pass already running in this process yields Skipped.
func (s *Service) Sync(ctx context.Context) (Result, error) {
	if !s.mu.TryLock() {
		return Result{Outcome: Skipped}, nil
	}
	defer s.mu.Unlock()

	st, _, err := s.state.Load()
	if err != nil {
		return Result{Outcome: Failed}, fmt.Errorf("load sync state: %w", err)
	}
	if st.DeviceID == "" {
		if st.DeviceID, err = s.state.GetOrCreateDeviceID(); err != nil {
			return Result{Outcome: Failed}, fmt.Errorf("device id: %w", err)
		}
	}

	res, next, err := s.coordinator.RunSyncPass(ctx, st)
	if err != nil || res.Outcome != Applied {
		return res, err
	}

	// Flags raised while the pass ran belong to the next pass.
	current, _, err := s.state.Load()
	if err != nil {
		return res, fmt.Errorf("reload sync state: %w", err)
	}
	if current.SyncID != st.SyncID && current.ForceLocalData {
		return res, nil
	}
	if !st.ForceServerSync && current.ForceServerSync {
		next.ForceServerSync = true
	}
	if err := s.state.Save(next); err != nil {
		return res, fmt.Errorf("save sync state: %w", err)
	}
	return res, nil
}

// Status returns the persisted state.
func (s *Service) Status() (syncstate.State, error) {
	st, _, err := s.state.Load()
	return st, err
}

// NeedsFullSync reports whether the next pass has no completed pass to build on.
func (s *Service) NeedsFullSync() (bool, error) {
	return s.state.NeedsFullSync()
}

// ForceLocal starts a new epoch in which this device's data overwrites the
// remote on the next pass. It may be called while a pass runs; that pass
// then leaves the new epoch in place.
func (s *Service) ForceLocal() (syncstate.State, error) {
	return s.state.ForceFullSync()
}

// ForceServer makes the remote authoritative for the next pass.
func (s *Service) ForceServer() error {
	return s.state.ForceServerSync()
}

// ClearServer cancels a pending ForceServer.
func (s *Service) ClearServer() error {
	return s.state.ResetServerSync()
}
