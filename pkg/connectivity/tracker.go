package connectivity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Sternrassler/movietracker-sw/pkg/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for connectivity tracking.
var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sw_online",
		Help: "1 when the upstream network is reachable, 0 when offline",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sw_connectivity_transitions_total",
		Help: "Total number of connectivity changes by new state",
	}, []string{"to"})
)

// Tracker records network outcomes and notifies when connectivity is restored.
type Tracker struct {
	redis     *redis.Client
	logger    zerolog.Logger
	threshold int

	mu        sync.Mutex
	onRestore []func(context.Context)
	wg        sync.WaitGroup
}

var _ fetch.Observer = (*Tracker)(nil)

// NewTracker creates a connectivity tracker.
// threshold is the number of consecutive failures that mark the upstream
// offline; values below 1 use DefaultOfflineThreshold.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger, threshold int) *Tracker {
	if threshold < 1 {
		threshold = DefaultOfflineThreshold
	}
	onlineGauge.Set(1)
	return &Tracker{
		redis:     redisClient,
		logger:    logger,
		threshold: threshold,
	}
}

// OnRestore registers fn to run when the upstream goes from offline to online.
// Callbacks run on their own goroutine, detached from the request that
// observed the restore.
func (t *Tracker) OnRestore(fn func(context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRestore = append(t.onRestore, fn)
}

// GetState retrieves the current connectivity state from Redis.
// An unset online flag means the threshold was never reached: online.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	online, err := t.redis.Get(ctx, RedisKeyOnline).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get online: %w", err)
	}

	failures, err := t.redis.Get(ctx, RedisKeyConsecutiveFailures).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get consecutive failures: %w", err)
	}

	state := &State{
		Online:              online != "0",
		ConsecutiveFailures: failures,
	}
	if state.LastChange, err = t.getTime(ctx, RedisKeyLastChange); err != nil {
		return nil, err
	}
	if state.LastUpdate, err = t.getTime(ctx, RedisKeyLastUpdate); err != nil {
		return nil, err
	}
	if state.LastUpdate.IsZero() {
		state.LastUpdate = time.Now()
	}
	return state, nil
}

func (t *Tracker) getTime(ctx context.Context, key string) (time.Time, error) {
	ms, err := t.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get %s: %w", key, err)
	}
	return time.UnixMilli(ms), nil
}

// IsOnline reports the shared state. Redis errors report online so that
// a storage outage never hides the network.
func (t *Tracker) IsOnline(ctx context.Context) bool {
	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to read connectivity state")
		return true
	}
	return state.Online
}

// Observe records the outcome of one network request. A nil err is a
// success; network-class errors count as failures. Cancelled requests say
// nothing about the network and are ignored.
func (t *Tracker) Observe(ctx context.Context, err error) {
	if err != nil && (errors.Is(err, context.Canceled) || fetch.ClassOf(err) != fetch.ErrorClassNetwork) {
		return
	}

	// The request context may end right after the response.
	ctx = context.WithoutCancel(ctx)

	var recErr error
	if err == nil {
		recErr = t.RecordSuccess(ctx)
	} else {
		recErr = t.RecordFailure(ctx)
	}
	if recErr != nil {
		t.logger.Warn().Err(recErr).Msg("Failed to record connectivity")
	}
}

// RecordSuccess marks the upstream online.
func (t *Tracker) RecordSuccess(ctx context.Context) error {
	now := time.Now()

	pipe := t.redis.TxPipeline()
	prev := pipe.GetSet(ctx, RedisKeyOnline, "1")
	pipe.Set(ctx, RedisKeyConsecutiveFailures, 0, 0)
	pipe.Set(ctx, RedisKeyLastUpdate, now.UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("store connectivity state in redis: %w", err)
	}

	onlineGauge.Set(1)
	if prev.Val() != "0" {
		return nil
	}

	if err := t.redis.Set(ctx, RedisKeyLastChange, now.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("store last change: %w", err)
	}
	transitionsTotal.WithLabelValues("online").Inc()
	t.logger.Info().Msg("Network connectivity restored")
	t.fireRestore(ctx)
	return nil
}

// RecordFailure counts a network failure and marks the upstream offline once
// the threshold is reached.
func (t *Tracker) RecordFailure(ctx context.Context) error {
	now := time.Now()

	pipe := t.redis.TxPipeline()
	failures := pipe.Incr(ctx, RedisKeyConsecutiveFailures)
	pipe.Set(ctx, RedisKeyLastUpdate, now.UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store connectivity state in redis: %w", err)
	}

	if failures.Val() < int64(t.threshold) {
		t.logger.Debug().Int64("consecutive_failures", failures.Val()).Msg("Network failure recorded")
		return nil
	}

	prev, err := t.redis.GetSet(ctx, RedisKeyOnline, "0").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("store offline state: %w", err)
	}
	onlineGauge.Set(0)
	if prev == "0" {
		return nil
	}

	if err := t.redis.Set(ctx, RedisKeyLastChange, now.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("store last change: %w", err)
	}
	transitionsTotal.WithLabelValues("offline").Inc()
	t.logger.Warn().
		Int64("consecutive_failures", failures.Val()).
		Msg("Network unreachable, serving from cache")
	return nil
}

func (t *Tracker) fireRestore(ctx context.Context) {
	t.mu.Lock()
	callbacks := slices.Clone(t.onRestore)
	t.mu.Unlock()

	for _, fn := range callbacks {
		t.wg.Add(1)
		go func(fn func(context.Context)) {
			defer t.wg.Done()
			fn(ctx)
		}(fn)
	}
}

// Wait blocks until every restore callback has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Monitor pings the upstream every interval while the tracked state is
// offline, so that restoration is noticed without client traffic.
// ping must not report to the tracker itself. It returns when ctx is done.
func (t *Tracker) Monitor(ctx context.Context, interval time.Duration, ping func(context.Context) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.IsOnline(ctx) {
				continue
			}
			t.Observe(ctx, ping(ctx))
		}
	}
}
