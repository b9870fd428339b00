// Package transport moves entity snapshots between a device and the shared
// remote copy.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jask/moneysync/internal/conflict"
)

// Synchronized entity types, in the order a sync pass handles them.
const (
	Accounts     = "accounts"
	Recurring    = "recurring"
	Transactions = "transactions"
	Preferences  = "preferences"
)

var Entities = []string{Accounts, Recurring, Transactions, Preferences}

// ValidEntity reports whether name is a synchronized entity type.
func ValidEntity(name string) bool {
	for _, e := range Entities {
		if e == name {
			return true
		}
	}
	return false
}

// ErrNotFound means the remote holds no snapshot for an entity yet.
var ErrNotFound = errors.New("snapshot not found")

// Transport is the remote collaborator of a sync pass. A missing remote
// snapshot is returned as an empty one.
type Transport interface {
	Pull(ctx context.Context, entity string) (conflict.Snapshot, error)
	Push(ctx context.Context, entity string, snap conflict.Snapshot) error
}

// Notifier delivers change events from the remote side.
type Notifier interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Event announces that a remote snapshot changed.
type Event struct {
	Entity   string `json:"entity"`
	DeviceID string `json:"deviceId,omitempty"`
}

// Envelope is the stored and transmitted form of one entity snapshot.
type Envelope struct {
	Entity    string            `json:"entity"`
	Records   conflict.Snapshot `json:"records"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
	DeviceID  string            `json:"deviceId,omitempty"`
}

// Error is a failure talking to the remote side.
type Error struct {
	Op     string
	Entity string
	Err    error
}

func (e *Error) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransport reports whether err came from a transport.
func IsTransport(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// Options configures Open.
type Options struct {
	Token    string
	DeviceID string
	Timeout  time.Duration
}

// Open picks a transport for remote: http(s) URLs reach a relay, anything
// else is a shared directory.
func Open(remote string, opts Options) (Transport, error) {
	remote = strings.TrimSpace(remote)
	switch {
	case remote == "":
		return nil, errors.New("no remote configured")
	case strings.HasPrefix(remote, "http://"), strings.HasPrefix(remote, "https://"):
		return NewHTTP(remote,
			WithToken(opts.Token),
			WithDeviceID(opts.DeviceID),
			WithTimeout(opts.Timeout),
		)
	default:
		return NewDir(remote, opts.DeviceID)
	}
}
