// Package kv is the device-local key/value store backing sync bookkeeping.
package kv

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store wraps a badger database.
type Store struct {
	db      *badger.DB
	logger  *slog.Logger
	dataDir string
}

type OptionFunc func(*Store)

// WithLogger specifies the logger object to use for logging messages
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithDataDir specifies the data directory. Without one the store is kept in
// memory.
func WithDataDir(dataDir string) OptionFunc {
	return func(s *Store) {
		s.dataDir = dataDir
	}
}

// ErrLocked means another process holds the store open.
var ErrLocked = errors.New("state store is in use by another moneysync process")

// Open opens (or creates) the store.
func Open(opts ...OptionFunc) (*Store, error) {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	badgerOpts := badger.DefaultOptions(s.dataDir).
		WithLogger(newBadgerLogger(s.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)
	if s.dataDir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	} else if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil && strings.Contains(err.Error(), "Cannot acquire directory lock") {
		return nil, fmt.Errorf("%w: %w", ErrLocked, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	s.db = db
	return s, nil
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores val under key.
func (s *Store) Set(key string, val []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
