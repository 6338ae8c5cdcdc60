package strategy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/movietracker-sw/pkg/cache"
	"github.com/Sternrassler/movietracker-sw/pkg/fetch"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RefreshConfig controls background revalidation of cache-first hits.
type RefreshConfig struct {
	// Timeout bounds a single background refresh.
	Timeout time.Duration

	// Rate is the sustained number of refreshes per second.
	// Zero disables throttling.
	Rate float64

	// Burst is the number of refreshes allowed at once when Rate is set.
	Burst int

	// Conditional sends If-None-Match / If-Modified-Since when the cached
	// snapshot carries a validator.
	Conditional bool
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Timeout:     30 * time.Second,
		Rate:        10,
		Burst:       20,
		Conditional: true,
	}
}

// Refresher runs detached background refreshes.
// A refresh never delays the response it was started from; its failures are
// counted and dropped.
type Refresher struct {
	cache   *cache.Manager
	network fetch.Fetcher
	config  RefreshConfig
	limiter *rate.Limiter
	logger  zerolog.Logger

	wg sync.WaitGroup
}

// NewRefresher creates a background refresher.
func NewRefresher(manager *cache.Manager, network fetch.Fetcher, cfg RefreshConfig, logger zerolog.Logger) *Refresher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRefreshConfig().Timeout
	}

	r := &Refresher{
		cache:   manager,
		network: network,
		config:  cfg,
		logger:  logger,
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return r
}

// Refresh starts a background refetch of req into partition.
// cached carries the headers of the snapshot being served, used for
// conditional revalidation. It reports whether a refresh was started;
// refreshes over the rate budget are skipped, not queued.
func (r *Refresher) Refresh(req *http.Request, partition string, cached http.Header) bool {
	if r.limiter != nil && !r.limiter.Allow() {
		Refreshes.WithLabelValues("skipped").Inc()
		r.logger.Debug().Str("url", req.URL.String()).Msg("Background refresh skipped by rate limit")
		return false
	}

	// Detached from the request: the foreground response may finish first.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), r.config.Timeout)
	bg := req.Clone(ctx)
	if r.config.Conditional && cache.ShouldRevalidateConditionally(cached) {
		cache.AddConditionalHeaders(bg, cached)
	}

	r.wg.Add(1)
	RefreshesInFlight.Inc()
	go func() {
		defer r.wg.Done()
		defer RefreshesInFlight.Dec()
		defer cancel()
		r.run(ctx, bg, partition)
	}()
	return true
}

func (r *Refresher) run(ctx context.Context, req *http.Request, partition string) {
	start := time.Now()
	url := req.URL.String()

	resp, err := r.network.Do(req)
	if err != nil {
		Refreshes.WithLabelValues("failed").Inc()
		r.logger.Debug().Err(err).Str("url", url).Msg("Background refresh failed")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		cache.NotModified.Inc()
		Refreshes.WithLabelValues("not_modified").Inc()
		r.logger.Debug().Str("url", url).Msg("Cached response still valid")
	case cache.IsOK(resp.StatusCode):
		if err := r.cache.Put(ctx, partition, req, resp); err != nil {
			Refreshes.WithLabelValues("failed").Inc()
			return
		}
		Refreshes.WithLabelValues("updated").Inc()
		r.logger.Debug().
			Str("url", url).
			Str("partition", partition).
			Dur("duration", time.Since(start)).
			Msg("Background refresh updated cache")
	default:
		Refreshes.WithLabelValues("rejected").Inc()
		r.logger.Debug().Str("url", url).Int("status_code", resp.StatusCode).Msg("Background refresh not cacheable")
	}
}

// Wait blocks until every started refresh has finished.
func (r *Refresher) Wait() {
	r.wg.Wait()
}
