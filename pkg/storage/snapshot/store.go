// Package snapshot provides a badger-backed key/value store whose readers
// work from point-in-time snapshots tied to the Global lock.
//
// A RecoveryUnit opens a read snapshot lazily and keeps it for as long as
// its locker holds Global. When the outermost Global lock is released the
// locker calls OnGlobalLockReleased and the snapshot is abandoned, so the
// next read observes every write committed in between.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittolock/internal/bytesize"
	"github.com/marmos91/dittolock/internal/logger"
)

// ErrNotFound is returned by reads of a key that does not exist.
var ErrNotFound = errors.New("snapshot: key not found")

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("snapshot: store closed")

// Config configures the badger store.
type Config struct {
	// InMemory keeps all data in memory. Dir is ignored.
	// Default: true
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`

	// Dir is the badger data directory when InMemory is false.
	Dir string `mapstructure:"dir" yaml:"dir" validate:"required_if=InMemory false"`

	// SyncWrites makes every commit fsync before returning.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes"`

	// MemTableSize is the size of each badger memtable, e.g. "64Mi".
	// Default: 0 (badger's default)
	MemTableSize bytesize.ByteSize `mapstructure:"memtable_size" yaml:"memtable_size,omitempty"`

	// BlockCacheSize bounds badger's block cache, e.g. "256Mi".
	// Default: 0 (badger's default)
	BlockCacheSize bytesize.ByteSize `mapstructure:"block_cache_size" yaml:"block_cache_size,omitempty"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{InMemory: true}
}

// Metrics receives store observations. A nil Metrics disables them.
type Metrics interface {
	ObserveSnapshotOpened()
	ObserveSnapshotAbandoned()
	ObserveRead(hit bool, d time.Duration)
	ObserveWrite(d time.Duration, err error)
}

// Store wraps a badger database.
//
// Thread Safety: Safe for concurrent use. RecoveryUnits created from it are
// not; each belongs to one locker.
type Store struct {
	db      *badgerdb.DB
	metrics Metrics
}

// Open opens the badger database described by cfg.
func Open(cfg Config, m Metrics) (*Store, error) {
	opts := badgerdb.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}
	if cfg.MemTableSize > 0 {
		opts = opts.WithMemTableSize(cfg.MemTableSize.Int64())
	}
	if cfg.BlockCacheSize > 0 {
		opts = opts.WithBlockCacheSize(cfg.BlockCacheSize.Int64())
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	logger.Debug("Snapshot store opened",
		logger.Path(cfg.Dir),
		"in_memory", cfg.InMemory,
		"memtable_size", opts.MemTableSize)

	return &Store{db: db, metrics: m}, nil
}

// Close closes the database. Open recovery units must not be used afterwards.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close snapshot store: %w", err)
	}
	return nil
}

// Healthcheck verifies the database can serve a read transaction.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	if err := s.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Put commits key=value in its own transaction.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if s.metrics != nil {
		s.metrics.ObserveWrite(time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get reads the latest committed value of key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		v, err := s.read(txn, key)
		value = v
		return err
	})
	return value, err
}

func (s *Store) read(txn *badgerdb.Txn, key string) ([]byte, error) {
	start := time.Now()
	item, err := txn.Get([]byte(key))
	if s.metrics != nil {
		s.metrics.ObserveRead(err == nil, time.Since(start))
	}
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return item.ValueCopy(nil)
}

// NewRecoveryUnit returns a recovery unit reading from this store.
func (s *Store) NewRecoveryUnit() *RecoveryUnit {
	return &RecoveryUnit{store: s}
}

// badgerLogger routes badger's logging through the structured logger.
// Badger's info output is chatty, so it is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Errorf("badger: "+trimNewline(format), args...)
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warnf("badger: "+trimNewline(format), args...)
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debugf("badger: "+trimNewline(format), args...)
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debugf("badger: "+trimNewline(format), args...)
}

func trimNewline(s string) string {
	return strings.TrimRight(s, "\n")
}
