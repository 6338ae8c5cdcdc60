package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// ErrNotCacheable is returned by Put for non-GET requests and non-2xx responses.
var ErrNotCacheable = errors.New("response not cacheable")

// Manager owns the cache partitions and their lifecycle.
//
// Storage failures never escape as page-visible errors: Match degrades to a
// miss and Put failures are logged for the caller to ignore.
type Manager struct {
	store       Store
	logger      zerolog.Logger
	seedWorkers int
}

// NewManager creates a cache manager over store.
func NewManager(store Store, logger zerolog.Logger) *Manager {
	if store == nil {
		panic("cache store cannot be nil")
	}
	return &Manager{
		store:       store,
		logger:      logger,
		seedWorkers: DefaultSeedWorkers,
	}
}

// SetSeedWorkers sets the number of concurrent manifest fetches used by Seed.
func (m *Manager) SetSeedWorkers(n int) {
	if n > 0 {
		m.seedWorkers = n
	}
}

// Store returns the underlying storage backend.
func (m *Manager) Store() Store {
	return m.store
}

// Partition is a handle to one named partition.
type Partition struct {
	name    string
	manager *Manager
}

// Name returns the partition name.
func (p *Partition) Name() string {
	return p.name
}

// Match looks up req in this partition.
func (p *Partition) Match(ctx context.Context, req *http.Request) (*http.Response, bool) {
	return p.manager.Match(ctx, p.name, req)
}

// Put stores resp for req in this partition.
func (p *Partition) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	return p.manager.Put(ctx, p.name, req, resp)
}

// Len returns the number of entries in the partition.
func (p *Partition) Len(ctx context.Context) (int, error) {
	return p.manager.store.Len(ctx, p.name)
}

// Open returns a handle to the named partition, creating it if absent.
// Opening the same name twice refers to the same underlying partition.
func (m *Manager) Open(ctx context.Context, name string) (*Partition, error) {
	if name == "" {
		return nil, fmt.Errorf("partition name is required")
	}
	if err := m.store.EnsurePartition(ctx, name); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		m.logger.Warn().Err(err).Str("partition", name).Msg("Failed to open cache partition")
		return nil, fmt.Errorf("open partition %s: %w", name, err)
	}
	return &Partition{name: name, manager: m}, nil
}

// Partitions lists the existing partition names.
func (m *Manager) Partitions(ctx context.Context) ([]string, error) {
	return m.store.Partitions(ctx)
}

// Match returns a fresh response for req from the partition.
// Absence and storage errors both report false.
func (m *Manager) Match(ctx context.Context, partition string, req *http.Request) (*http.Response, bool) {
	key := KeyFor(req)
	if key.Method != http.MethodGet {
		return nil, false
	}

	entry, err := m.store.Get(ctx, partition, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.WithLabelValues(partition).Inc()
			m.logger.Debug().Str("partition", partition).Str("url", key.URL).Msg("Cache miss")
			return nil, false
		}
		CacheErrors.WithLabelValues("get").Inc()
		m.logger.Warn().Err(err).Str("partition", partition).Str("url", key.URL).Msg("Cache get error")
		return nil, false
	}

	CacheHits.WithLabelValues(partition).Inc()
	m.logger.Debug().Str("partition", partition).Str("url", key.URL).Msg("Cache hit")
	return entry.Response(req), true
}

// Put snapshots resp into the partition under req's key.
// Only GET requests with 2xx responses are stored; resp.Body stays readable.
func (m *Manager) Put(ctx context.Context, partition string, req *http.Request, resp *http.Response) error {
	key := KeyFor(req)
	if key.Method != http.MethodGet || resp == nil || !IsOK(resp.StatusCode) {
		return ErrNotCacheable
	}

	entry, err := Snapshot(resp)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("url", key.URL).Msg("Failed to snapshot response")
		return err
	}
	entry.URL = key.URL

	if err := m.store.Set(ctx, partition, key, entry); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("partition", partition).Str("url", key.URL).Msg("Failed to cache response")
		return err
	}

	CacheWrites.WithLabelValues(partition).Inc()
	m.logger.Debug().
		Str("partition", partition).
		Str("url", key.URL).
		Int("bytes", len(entry.Body)).
		Msg("Cached response")
	return nil
}

// Prune deletes every partition whose name is not in keep.
// It returns the deleted names.
func (m *Manager) Prune(ctx context.Context, keep []string) ([]string, error) {
	names, err := m.store.Partitions(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("prune").Inc()
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	retained := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		retained[name] = struct{}{}
	}

	var deleted []string
	var errs []error
	for _, name := range names {
		if _, ok := retained[name]; ok {
			continue
		}
		m.logger.Info().Str("partition", name).Msg("Deleting old cache partition")
		if _, err := m.store.DeletePartition(ctx, name); err != nil {
			CacheErrors.WithLabelValues("prune").Inc()
			errs = append(errs, fmt.Errorf("delete partition %s: %w", name, err))
			continue
		}
		PartitionsPruned.Inc()
		deleted = append(deleted, name)
	}

	return deleted, errors.Join(errs...)
}
