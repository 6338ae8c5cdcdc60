// Package worker ties the cache, the strategies and the auxiliary handlers
// into one service worker with an install/activate lifecycle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync/atomic"

	"github.com/Sternrassler/movietracker-sw/pkg/cache"
	"github.com/Sternrassler/movietracker-sw/pkg/fetch"
	"github.com/Sternrassler/movietracker-sw/pkg/notify"
	"github.com/Sternrassler/movietracker-sw/pkg/outbox"
	"github.com/Sternrassler/movietracker-sw/pkg/router"
	"github.com/rs/zerolog"
)

// Background sync tags.
const (
	SyncWatchlist = "sync-watchlist"
	SyncRating    = "sync-rating"
)

// ErrUnknownSyncTag is returned by Sync for tags the worker does not handle.
var ErrUnknownSyncTag = errors.New("unknown sync tag")

// DefaultManifest lists the app assets pre-cached at install.
var DefaultManifest = []string{
	"/",
	"/static/js/bundle.js",
	"/static/css/main.css",
	"/manifest.json",
	"/favicon.ico",
}

// Worker handles the events a service worker receives.
type Worker interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	Fetch(req *http.Request) (*http.Response, error)
	Sync(ctx context.Context, tag string) error
	Push(ctx context.Context, payload []byte) error
	NotificationClick(ctx context.Context, click notify.Click) error
}

// Host is the runtime the worker runs in.
type Host interface {
	// SkipWaiting lets the installed worker activate without waiting for
	// older workers to release their clients.
	SkipWaiting(ctx context.Context) error

	// Claim takes control of all clients.
	Claim(ctx context.Context) error

	ShowNotification(ctx context.Context, n notify.Notification) error
	OpenWindow(ctx context.Context, url string) error
}

// Config holds the worker configuration.
type Config struct {
	Partitions cache.Partitions

	// Origin is the app origin manifest paths are resolved against.
	Origin *url.URL

	// Manifest lists the paths (or absolute URLs) seeded at install.
	Manifest []string

	// SyncTags are the background sync tags Sync accepts.
	SyncTags []string

	// OutboxRetry is the retry policy for replaying queued writes.
	OutboxRetry fetch.RetryConfig

	// Seeder fetches the manifest at install. Nil uses the worker's network.
	Seeder fetch.Fetcher
}

// DefaultConfig returns the worker configuration for origin.
func DefaultConfig(origin *url.URL) Config {
	return Config{
		Partitions:  cache.NewPartitions(cache.DefaultPrefix, cache.DefaultVersion),
		Origin:      origin,
		Manifest:    DefaultManifest,
		SyncTags:    []string{SyncWatchlist, SyncRating},
		OutboxRetry: fetch.DefaultRetryConfig(),
	}
}

// ServiceWorker is the Worker implementation.
type ServiceWorker struct {
	config  Config
	cache   *cache.Manager
	router  *router.Router
	network fetch.Fetcher
	host    Host
	outbox  *outbox.Outbox
	logger  zerolog.Logger

	state atomic.Int32
}

var _ Worker = (*ServiceWorker)(nil)

// New creates a service worker. network is used for install-time seeding and
// outbox replay; request handling goes through rt.
func New(cfg Config, manager *cache.Manager, rt *router.Router, network fetch.Fetcher, host Host, logger zerolog.Logger) *ServiceWorker {
	if manager == nil || rt == nil || network == nil || host == nil {
		panic("worker dependencies cannot be nil")
	}
	if len(cfg.SyncTags) == 0 {
		cfg.SyncTags = []string{SyncWatchlist, SyncRating}
	}
	return &ServiceWorker{
		config:  cfg,
		cache:   manager,
		router:  rt,
		network: network,
		host:    host,
		logger:  logger,
	}
}

// SetOutbox enables replay of queued writes on Sync.
func (w *ServiceWorker) SetOutbox(o *outbox.Outbox) {
	w.outbox = o
}

// State returns the lifecycle state.
func (w *ServiceWorker) State() State {
	return State(w.state.Load())
}

func (w *ServiceWorker) setState(s State) {
	w.state.Store(int32(s))
	w.logger.Info().Str("state", s.String()).Msg("Worker state changed")
}

// SyncTags returns the accepted background sync tags.
func (w *ServiceWorker) SyncTags() []string {
	return slices.Clone(w.config.SyncTags)
}

// Install opens the static partition, seeds the manifest into it and skips
// waiting. Seeding is best effort: failed entries are logged and install
// still completes.
func (w *ServiceWorker) Install(ctx context.Context) error {
	w.setState(StateInstalling)

	static := w.config.Partitions.Static
	if _, err := w.cache.Open(ctx, static); err != nil {
		w.logger.Warn().Err(err).Str("partition", static).Msg("Failed to open static cache, skipping pre-cache")
	} else {
		urls := w.manifestURLs()
		seeder := w.config.Seeder
		if seeder == nil {
			seeder = w.network
		}
		report := w.cache.Seed(ctx, static, urls, seeder)
		w.logger.Info().
			Str("partition", static).
			Int("stored", len(report.Stored)).
			Int("failed", len(report.Failed)).
			Msg("Static assets cached")
	}

	if err := w.host.SkipWaiting(ctx); err != nil {
		return fmt.Errorf("skip waiting: %w", err)
	}
	w.setState(StateInstalled)
	return nil
}

// manifestURLs resolves the manifest against the app origin.
func (w *ServiceWorker) manifestURLs() []string {
	urls := make([]string, 0, len(w.config.Manifest))
	for _, entry := range w.config.Manifest {
		ref, err := url.Parse(entry)
		if err != nil {
			w.logger.Warn().Err(err).Str("entry", entry).Msg("Invalid manifest entry")
			continue
		}
		if w.config.Origin != nil {
			ref = w.config.Origin.ResolveReference(ref)
		}
		urls = append(urls, ref.String())
	}
	return urls
}

// Activate deletes every partition that is not current, then claims the
// clients. A failed deletion is logged and activation continues.
func (w *ServiceWorker) Activate(ctx context.Context) error {
	w.setState(StateActivating)

	deleted, err := w.cache.Prune(ctx, w.config.Partitions.Current())
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to delete old cache partitions")
	}
	for _, name := range deleted {
		w.logger.Info().Str("partition", name).Msg("Deleted old cache")
	}

	if err := w.host.Claim(ctx); err != nil {
		return fmt.Errorf("claim clients: %w", err)
	}
	w.setState(StateActivated)
	return nil
}

// Fetch answers req through the strategy selector.
func (w *ServiceWorker) Fetch(req *http.Request) (*http.Response, error) {
	return w.router.Handle(req)
}

// Sync replays the writes queued under tag. Without an outbox it only logs.
func (w *ServiceWorker) Sync(ctx context.Context, tag string) error {
	if !slices.Contains(w.config.SyncTags, tag) {
		return fmt.Errorf("%w: %q", ErrUnknownSyncTag, tag)
	}
	w.logger.Info().Str("tag", tag).Msg("Background sync triggered")

	if w.outbox == nil {
		w.logger.Info().Str("tag", tag).Msg("No outbox configured, nothing to replay")
		return nil
	}

	report, err := w.outbox.Flush(ctx, tag, w.network, w.config.OutboxRetry)
	if err != nil {
		return fmt.Errorf("sync %s: %w", tag, err)
	}
	w.logger.Info().
		Str("tag", tag).
		Int("sent", len(report.Sent)).
		Int("rejected", len(report.Rejected)).
		Msg("Background sync complete")
	return nil
}

// SyncAll runs Sync for every tag. Failures are logged, never returned;
// it is the callback for restored connectivity.
func (w *ServiceWorker) SyncAll(ctx context.Context) {
	for _, tag := range w.config.SyncTags {
		if err := w.Sync(ctx, tag); err != nil {
			w.logger.Warn().Err(err).Str("tag", tag).Msg("Background sync failed")
		}
	}
}

// Push shows a notification for payload.
func (w *ServiceWorker) Push(ctx context.Context, payload []byte) error {
	n := notify.Build(notify.ParsePayload(payload))
	w.logger.Info().Str("title", n.Title).Msg("Push notification received")

	if err := w.host.ShowNotification(ctx, n); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	return nil
}

// NotificationClick closes the notification and opens the page the click
// asks for.
func (w *ServiceWorker) NotificationClick(ctx context.Context, click notify.Click) error {
	w.logger.Info().Str("action", click.Action).Msg("Notification clicked")

	target, ok := click.Target()
	if !ok {
		return nil
	}
	if err := w.host.OpenWindow(ctx, target); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	return nil
}
