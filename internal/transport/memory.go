package transport

import (
	"context"
	"sync"

	"github.com/jask/moneysync/internal/conflict"
)

// Memory is an in-process remote, shared by every device holding it.
type Memory struct {
	mu    sync.Mutex
	snaps map[string]conflict.Snapshot
	subs  []chan Event
}

func NewMemory() *Memory {
	return &Memory{snaps: map[string]conflict.Snapshot{}}
}

func (m *Memory) Pull(ctx context.Context, entity string) (conflict.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "pull", Entity: entity, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[entity].Clone(), nil
}

func (m *Memory) Push(ctx context.Context, entity string, snap conflict.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "push", Entity: entity, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[entity] = snap.Clone()
	for _, ch := range m.subs {
		select {
		case ch <- Event{Entity: entity}:
		default:
		}
	}
	return nil
}

// Subscribe delivers an event per Push until ctx ends. Slow readers miss
// events rather than block writers.
func (m *Memory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}
