package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps partitions in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]*Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{partitions: make(map[string]map[string]*Entry)}
}

func (s *MemoryStore) EnsurePartition(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		s.partitions[name] = make(map[string]*Entry)
	}
	return nil
}

func (s *MemoryStore) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) DeletePartition(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.partitions[name]
	delete(s.partitions, name)
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, partition string, key Key) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.partitions[partition][key.String()]
	if !ok {
		return nil, ErrCacheMiss
	}
	return entry.clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, partition string, key Key, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[partition]
	if !ok {
		p = make(map[string]*Entry)
		s.partitions[partition] = p
	}
	p[key.String()] = entry.clone()
	return nil
}

func (s *MemoryStore) Len(_ context.Context, partition string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[partition]), nil
}
