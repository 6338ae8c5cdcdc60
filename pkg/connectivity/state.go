// Package connectivity tracks whether the upstream network is reachable.
// It derives online/offline state from the outcome of network requests,
// shares it across instances via Redis, and fires callbacks when
// connectivity comes back.
package connectivity

import (
	"time"
)

// Redis keys for connectivity state storage.
const (
	RedisKeyOnline              = "sw:connectivity:online"
	RedisKeyConsecutiveFailures = "sw:connectivity:consecutive_failures"
	RedisKeyLastChange          = "sw:connectivity:last_change"
	RedisKeyLastUpdate          = "sw:connectivity:last_update"
)

// DefaultOfflineThreshold is the number of consecutive network failures
// after which the upstream is considered offline.
const DefaultOfflineThreshold = 1

// State represents the current connectivity state.
// This state is shared across all worker instances via Redis.
type State struct {
	// Online reports whether the last observed requests reached the network.
	Online bool `json:"online"`

	// ConsecutiveFailures counts network failures since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastChange is when Online last flipped.
	LastChange time.Time `json:"last_change"`

	// LastUpdate is when any outcome was last recorded.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// OfflineFor returns how long the upstream has been offline.
// Returns 0 when online.
func (s *State) OfflineFor() time.Duration {
	if s.Online || s.LastChange.IsZero() {
		return 0
	}
	return time.Since(s.LastChange)
}
