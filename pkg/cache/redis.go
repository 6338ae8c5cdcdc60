package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	// RedisKeyPartitions is the set of known partition names.
	RedisKeyPartitions = "sw:partitions"

	// redisPartitionPrefix prefixes the hash holding a partition's entries.
	redisPartitionPrefix = "sw:partition:"
)

// RedisStore keeps each partition in a Redis hash of key -> JSON entry.
// A single HSET writes an entry, so entries are never partially written.
type RedisStore struct {
	redis *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

func partitionKey(name string) string {
	return redisPartitionPrefix + name
}

// EnsurePartition adds the name to the partition set.
func (s *RedisStore) EnsurePartition(ctx context.Context, name string) error {
	if err := s.redis.SAdd(ctx, RedisKeyPartitions, name).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Partitions returns the sorted partition names.
func (s *RedisStore) Partitions(ctx context.Context) ([]string, error) {
	names, err := s.redis.SMembers(ctx, RedisKeyPartitions).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// DeletePartition drops the entry hash and the set membership in one transaction.
func (s *RedisStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, partitionKey(name))
		removed = pipe.SRem(ctx, RedisKeyPartitions, name)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete partition: %w", err)
	}
	return removed.Val() > 0, nil
}

// Get retrieves and decodes one entry.
func (s *RedisStore) Get(ctx context.Context, partition string, key Key) (*Entry, error) {
	data, err := s.redis.HGet(ctx, partitionKey(partition), key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Set encodes and stores one entry, registering the partition alongside it.
func (s *RedisStore) Set(ctx context.Context, partition string, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.SAdd(ctx, RedisKeyPartitions, partition)
	pipe.HSet(ctx, partitionKey(partition), key.String(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Len returns the number of fields in the partition hash.
func (s *RedisStore) Len(ctx context.Context, partition string) (int, error) {
	n, err := s.redis.HLen(ctx, partitionKey(partition)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return int(n), nil
}
