package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jask/moneysync/internal/transport"
)

// Store keeps the latest snapshot of each entity. Get returns
// transport.ErrNotFound when nothing was stored yet.
type Store interface {
	Get(ctx context.Context, entity string) (transport.Envelope, error)
	Put(ctx context.Context, env transport.Envelope) error
	Close() error
}

// OpenStore selects a store from target: "memory", a redis:// URL, a
// postgres:// DSN, or a sqlite file path.
func OpenStore(ctx context.Context, target string) (Store, error) {
	target = strings.TrimSpace(target)
	switch {
	case target == "" || target == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(target, "redis://"), strings.HasPrefix(target, "rediss://"):
		return NewRedisStore(ctx, target)
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		return NewGormStore(postgres.Open(target))
	default:
		return NewGormStore(sqlite.Open(target))
	}
}

// MemoryStore is a process-local store.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]transport.Envelope
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: map[string]transport.Envelope{}}
}

func (m *MemoryStore) Get(_ context.Context, entity string) (transport.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.snaps[entity]
	if !ok {
		return transport.Envelope{}, transport.ErrNotFound
	}
	env.Records = env.Records.Clone()
	return env, nil
}

func (m *MemoryStore) Put(_ context.Context, env transport.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env.Records = env.Records.Clone()
	m.snaps[env.Entity] = env
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// RedisStore keeps one JSON value per entity.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: "moneysync:snapshot:"}, nil
}

func (r *RedisStore) Get(ctx context.Context, entity string) (transport.Envelope, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+entity).Bytes()
	if errors.Is(err, redis.Nil) {
		return transport.Envelope{}, transport.ErrNotFound
	}
	if err != nil {
		return transport.Envelope{}, err
	}
	var env transport.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return transport.Envelope{}, fmt.Errorf("decode %s: %w", entity, err)
	}
	return env, nil
}

func (r *RedisStore) Put(ctx context.Context, env transport.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.prefix+env.Entity, raw, 0).Err()
}

func (r *RedisStore) Close() error { return r.rdb.Close() }

// snapshotRow is the gorm model behind GormStore.
type snapshotRow struct {
	Entity    string `gorm:"primaryKey"`
	Body      string
	DeviceID  string
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "snapshots" }

// GormStore keeps snapshots in a SQL table through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate snapshot db: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Get(ctx context.Context, entity string) (transport.Envelope, error) {
	var row snapshotRow
	err := g.db.WithContext(ctx).First(&row, "entity = ?", entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return transport.Envelope{}, transport.ErrNotFound
	}
	if err != nil {
		return transport.Envelope{}, err
	}
	env := transport.Envelope{Entity: row.Entity, UpdatedAt: row.UpdatedAt.UTC(), DeviceID: row.DeviceID}
	if err := json.Unmarshal([]byte(row.Body), &env.Records); err != nil {
		return transport.Envelope{}, fmt.Errorf("decode %s: %w", entity, err)
	}
	return env, nil
}

func (g *GormStore) Put(ctx context.Context, env transport.Envelope) error {
	body, err := json.Marshal(env.Records)
	if err != nil {
		return err
	}
	row := snapshotRow{Entity: env.Entity, Body: string(body), DeviceID: env.DeviceID, UpdatedAt: env.UpdatedAt}
	return g.db.WithContext(ctx).Save(&row).Error
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
