package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Sternrassler/movietracker-sw/pkg/cache"
	"github.com/Sternrassler/movietracker-sw/pkg/config"
	"github.com/Sternrassler/movietracker-sw/pkg/connectivity"
	"github.com/Sternrassler/movietracker-sw/pkg/fetch"
	"github.com/Sternrassler/movietracker-sw/pkg/notify"
	"github.com/Sternrassler/movietracker-sw/pkg/outbox"
	"github.com/Sternrassler/movietracker-sw/pkg/router"
	"github.com/Sternrassler/movietracker-sw/pkg/strategy"
	"github.com/Sternrassler/movietracker-sw/pkg/worker"
)

// notificationHistory bounds what GET /_sw/notifications returns.
const notificationHistory = 50

// stack is the wired worker with everything it depends on.
type stack struct {
	config config.Config
	origin *url.URL
	rules  router.Rules
	logger zerolog.Logger

	redis     *redis.Client
	manager   *cache.Manager
	client    *fetch.Client
	refresher *strategy.Refresher
	center    *notify.Center
	host      *worker.LocalHost
	worker    *worker.ServiceWorker
	tracker   *connectivity.Tracker
	outbox    *outbox.Outbox
}

// stackOptions overrides parts of the wiring in tests.
type stackOptions struct {
	// Redis is used instead of dialing cfg.Redis.
	Redis *redis.Client
	// Transport is the base transport of the network client.
	Transport http.RoundTripper
}

func newStack(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts stackOptions) (_ *stack, err error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}

	s := &stack{config: cfg, origin: origin, logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.redis = opts.Redis
	if s.redis == nil && cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var store cache.Store = cache.NewMemoryStore()
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store = cache.NewRedisStore(s.redis)
	}
	s.manager = cache.NewManager(store, logger.With().Str("component", "cache").Logger())
	s.manager.SetSeedWorkers(cfg.Cache.SeedWorkers)

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	clientCfg := cfg.FetchClient()
	clientCfg.Transport = otelhttp.NewTransport(base)
	s.client, err = fetch.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create network client: %w", err)
	}

	partitions := cfg.Partitions()
	strategyLogger := logger.With().Str("component", "strategy").Logger()
	s.refresher = strategy.NewRefresher(s.manager, s.client, cfg.RefreshConfig(), strategyLogger)
	executor := strategy.New(s.manager, s.client, partitions, s.refresher, strategyLogger)
	routerCfg := cfg.RouterConfig()
	s.rules = routerCfg.Rules
	rt := router.New(routerCfg, executor, s.client, logger.With().Str("component", "router").Logger())

	s.center = notify.NewCenter(notificationHistory, logger.With().Str("component", "notify").Logger())
	s.host = worker.NewLocalHost(s.center)

	workerCfg := worker.DefaultConfig(origin)
	workerCfg.Partitions = partitions
	workerCfg.Manifest = cfg.Cache.Manifest
	workerCfg.OutboxRetry = cfg.OutboxRetry()
	workerCfg.Seeder = s.client.Retrying(cfg.FetchRetry())
	s.worker = worker.New(workerCfg, s.manager, rt, s.client, s.host, logger.With().Str("component", "worker").Logger())

	if cfg.Outbox.Enabled {
		s.outbox, err = outbox.Open(cfg.Outbox.Path, logger.With().Str("component", "outbox").Logger())
		if err != nil {
			return nil, err
		}
		s.worker.SetOutbox(s.outbox)
	}

	if s.redis != nil {
		s.tracker = connectivity.NewTracker(s.redis, logger.With().Str("component", "connectivity").Logger(), cfg.Connectivity.OfflineThreshold)
		s.tracker.OnRestore(s.worker.SyncAll)
		s.client.SetObserver(s.tracker)
	}

	return s, nil
}

// ping checks whether the origin answers at all. It bypasses the network
// client so the result is not observed twice.
func (s *stack) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.origin.String(), nil)
	if err != nil {
		return err
	}
	pingClient := &http.Client{Timeout: s.config.Fetch.Timeout}
	resp, err := pingClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Close waits for background work and releases connections.
func (s *stack) Close() error {
	if s.refresher != nil {
		s.refresher.Wait()
	}
	if s.tracker != nil {
		s.tracker.Wait()
	}
	var firstErr error
	if s.outbox != nil {
		if err := s.outbox.Close(); err != nil {
			firstErr = err
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
