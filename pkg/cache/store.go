package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the partition
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the storage backend for cache partitions.
type Store interface {
	// EnsurePartition registers the partition if it does not exist yet.
	EnsurePartition(ctx context.Context, name string) error

	// Partitions lists all known partition names.
	Partitions(ctx context.Context) ([]string, error)

	// DeletePartition removes a partition and every entry in it.
	// It reports whether the partition existed.
	DeletePartition(ctx context.Context, name string) (bool, error)

	// Get returns the entry stored under key, or ErrCacheMiss.
	Get(ctx context.Context, partition string, key Key) (*Entry, error)

	// Set stores entry under key, overwriting any previous snapshot.
	// The partition is created if needed.
	Set(ctx context.Context, partition string, key Key, entry *Entry) error

	// Len returns the number of entries in the partition.
	Len(ctx context.Context, partition string) (int, error)
}
