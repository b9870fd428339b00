package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jask/moneysync/internal/conflict"
)

// Dir shares snapshots through a directory, typically one kept in sync by a
// file sync tool. Each entity is one JSON file.
type Dir struct {
	root     string
	deviceID string
}

func NewDir(root, deviceID string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return &Dir{root: root, deviceID: deviceID}, nil
}

func (d *Dir) path(entity string) string {
	return filepath.Join(d.root, entity+".json")
}

func (d *Dir) Pull(_ context.Context, entity string) (conflict.Snapshot, error) {
	data, err := os.ReadFile(d.path(entity))
	if errors.Is(err, fs.ErrNotExist) {
		return conflict.Snapshot{}, nil
	}
	if err != nil {
		return nil, &Error{Op: "pull", Entity: entity, Err: err}
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &Error{Op: "pull", Entity: entity, Err: fmt.Errorf("decode %s: %w", d.path(entity), err)}
	}
	if env.Records == nil {
		env.Records = conflict.Snapshot{}
	}
	return env.Records, nil
}

func (d *Dir) Push(ctx context.Context, entity string, snap conflict.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "push", Entity: entity, Err: err}
	}
	data, err := json.Marshal(Envelope{
		Entity:    entity,
		Records:   snap,
		UpdatedAt: time.Now().UTC(),
		DeviceID:  d.deviceID,
	})
	if err != nil {
		return err
	}
	path := d.path(entity)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &Error{Op: "push", Entity: entity, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &Error{Op: "push", Entity: entity, Err: err}
	}
	return nil
}

// Subscribe watches the directory for snapshot files written by others.
func (d *Dir) Subscribe(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &Error{Op: "subscribe", Err: fmt.Errorf("failed to create fsnotify watcher: %w", err)}
	}
	if err := watcher.Add(d.root); err != nil {
		watcher.Close()
		return nil, &Error{Op: "subscribe", Err: err}
	}
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				entity := strings.TrimSuffix(filepath.Base(event.Name), ".json")
				if !strings.HasSuffix(event.Name, ".json") || !ValidEntity(entity) {
					continue
				}
				if d.writtenBySelf(entity) {
					continue
				}
				select {
				case ch <- Event{Entity: entity}:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return ch, nil
}

func (d *Dir) writtenBySelf(entity string) bool {
	if d.deviceID == "" {
		return false
	}
	data, err := os.ReadFile(d.path(entity))
	if err != nil {
		return false
	}
	var env struct {
		DeviceID string `json:"deviceId"`
	}
	return json.Unmarshal(data, &env) == nil && env.DeviceID == d.deviceID
}
