package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/metrics"
	"github.com/syntrixbase/docsync/pkg/model"
	"golang.org/x/sync/singleflight"
)

// Manager resolves partitions to tokens, serving from cache when possible.
type Manager struct {
	store     Store
	cipher    *Cipher
	exchanger Exchanger
	mem       *memCache
	group     singleflight.Group
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager wires a token manager.
func NewManager(store Store, cipher *Cipher, exchanger Exchanger, memoryEntries int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		cipher:    cipher,
		exchanger: exchanger,
		mem:       newMemCache(memoryEntries),
		logger:    logger.With("component", "token-manager"),
		now:       time.Now,
	}
}

// GetToken returns a usable token for partition on behalf of id. A cached,
// unexpired and valid token for the same qualified partition is returned
// without any network call; otherwise one exchange is performed and its
// result cached under the unqualified partition name.
func (m *Manager) GetToken(ctx context.Context, partition string, id identity.Snapshot) (*model.TokenResult, error) {
	qualified, err := model.ResolvePartition(partition, id.AccountID)
	if err != nil {
		return nil, err
	}
	if token := m.CachedToken(qualified); token != nil {
		return token, nil
	}

	for {
		ch := m.group.DoChan(qualified, func() (interface{}, error) {
			return m.exchange(ctx, qualified, id.Token)
		})
		select {
		case <-ctx.Done():
			return nil, model.WrapError(ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				// The shared call was canceled by another caller; retry with ours.
				if model.IsCanceled(res.Err) && ctx.Err() == nil && res.Shared {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*model.TokenResult), nil
		}
	}
}

func (m *Manager) exchange(ctx context.Context, qualified, userToken string) (*model.TokenResult, error) {
	m.logger.Debug("Exchanging token", "partition", qualified)
	token, err := m.exchanger.Exchange(ctx, qualified, userToken)
	if err != nil {
		return nil, model.NewDataError("failed to retrieve token", model.WrapError(err))
	}
	if err := m.Save(token); err != nil {
		// The token is still usable for this call.
		m.logger.Warn("Failed to cache token", "partition", qualified, "error", err)
	}
	return token, nil
}

// CachedToken returns a valid, unexpired cached token for the qualified
// partition, or nil. It never performs network calls.
func (m *Manager) CachedToken(qualified string) *model.TokenResult {
	now := m.now()
	key := model.StripAccountID(qualified)

	if token := m.mem.get(key, now); token != nil && token.Partition == qualified {
		metrics.TokenCacheLookups.WithLabelValues(metrics.LookupHit).Inc()
		return token
	}

	token, err := m.load(key)
	switch {
	case errors.Is(err, ErrNotCached):
		metrics.TokenCacheLookups.WithLabelValues(metrics.LookupMiss).Inc()
		return nil
	case err != nil:
		metrics.TokenCacheLookups.WithLabelValues(metrics.LookupCorrupt).Inc()
		m.logger.Warn("Cached token cannot be read, discarding", "partition", key, "error", err)
		if derr := m.store.Delete(key); derr != nil {
			m.logger.Warn("Failed to discard cached token", "partition", key, "error", derr)
		}
		return nil
	}

	if token.Partition != qualified || token.IsExpired(now) || !token.IsValid() {
		metrics.TokenCacheLookups.WithLabelValues(metrics.LookupMiss).Inc()
		m.logger.Debug("Cached token is not usable", "partition", key)
		return nil
	}
	m.mem.put(key, token, now)
	metrics.TokenCacheLookups.WithLabelValues(metrics.LookupHit).Inc()
	return token
}

func (m *Manager) load(key string) (*model.TokenResult, error) {
	sealed, err := m.store.Get(key)
	if err != nil {
		return nil, err
	}
	plain, err := m.cipher.Open(sealed, []byte(key))
	if err != nil {
		return nil, err
	}
	var token model.TokenResult
	if err := json.Unmarshal(plain, &token); err != nil {
		return nil, fmt.Errorf("cached token cannot be parsed: %w", err)
	}
	return &token, nil
}

// Save persists a token under its unqualified partition name.
func (m *Manager) Save(token *model.TokenResult) error {
	key := model.StripAccountID(token.Partition)
	plain, err := json.Marshal(token)
	if err != nil {
		return err
	}
	sealed, err := m.cipher.Seal(plain, []byte(key))
	if err != nil {
		return err
	}
	if err := m.store.Put(key, sealed); err != nil {
		return err
	}
	m.mem.put(key, token, m.now())
	return nil
}

// RemoveAll drops every cached token except the readonly partition's.
func (m *Manager) RemoveAll(ctx context.Context) error {
	names, err := m.store.Partitions()
	if err != nil {
		return fmt.Errorf("failed to list cached partitions: %w", err)
	}
	var errs []error
	for _, name := range names {
		if name == model.ReadonlyPartition {
			continue
		}
		if err := m.store.Delete(name); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.store.RemovePartition(name); err != nil {
			errs = append(errs, err)
		}
	}
	m.mem.clear()
	m.logger.Info("Removed cached tokens", "partitions", len(names))
	return errors.Join(errs...)
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
