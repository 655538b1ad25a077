package tokens

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotCached is returned by Store.Get for absent keys.
var ErrNotCached = errors.New("token not cached")

const (
	tokenPrefix     = "token/"
	partitionPrefix = "partition/"
)

// Store persists sealed tokens and the set of partition names that have
// tokens, which is what RemoveAll walks on sign-out.
type Store interface {
	Get(partition string) ([]byte, error)
	Put(partition string, sealed []byte) error
	Delete(partition string) error
	Partitions() ([]string, error)
	RemovePartition(partition string) error
	Close() error
}

// PebbleConfig configures the PebbleStore.
type PebbleConfig struct {
	// Path is the directory to store the database.
	Path string

	// BlockCacheSize is the size of the block cache in bytes.
	BlockCacheSize int64

	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS vfs.FS

	// Logger for store operations.
	Logger *slog.Logger
}

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger
}

// NewPebbleStore opens (or creates) the token database.
func NewPebbleStore(cfg PebbleConfig) (*PebbleStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("token store path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "token-store")

	opts := &pebble.Options{FS: cfg.FS}
	if cfg.FS == nil {
		if err := os.MkdirAll(cfg.Path, 0700); err != nil {
			return nil, fmt.Errorf("failed to create token store directory: %w", err)
		}
	}
	if cfg.BlockCacheSize > 0 {
		cache := pebble.NewCache(cfg.BlockCacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &PebbleStore{db: db, logger: logger}, nil
}

func (s *PebbleStore) Get(partition string) ([]byte, error) {
	value, closer, err := s.db.Get([]byte(tokenPrefix + partition))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token for %s: %w", partition, err)
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores the token and records the partition name in one batch.
func (s *PebbleStore) Put(partition string, sealed []byte) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(tokenPrefix+partition), sealed, nil); err != nil {
		return err
	}
	if err := b.Set([]byte(partitionPrefix+partition), nil, nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to write token for %s: %w", partition, err)
	}
	return nil
}

func (s *PebbleStore) Delete(partition string) error {
	if err := s.db.Delete([]byte(tokenPrefix+partition), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete token for %s: %w", partition, err)
	}
	return nil
}

func (s *PebbleStore) Partitions() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(partitionPrefix),
		UpperBound: prefixEnd([]byte(partitionPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for iter.First(); iter.Valid(); iter.Next() {
		names = append(names, string(iter.Key()[len(partitionPrefix):]))
	}
	return names, iter.Error()
}

func (s *PebbleStore) RemovePartition(partition string) error {
	return s.db.Delete([]byte(partitionPrefix+partition), pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
