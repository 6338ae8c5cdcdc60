// Package router selects the strategy and partition for each request.
//
// Requests are checked in this order:
//
//  1. share-target URLs are answered with a redirect to the app root
//  2. non-http(s) and non-GET requests go to the network untouched
//  3. static assets: cache-first on the static partition
//  4. API calls: network-first on the dynamic partition
//  5. images: cache-first on the dynamic partition
//  6. navigations (Accept: text/html): network-first with offline page
//  7. everything else: network-first on the dynamic partition
package router

import (
	"net/http"

	"github.com/Sternrassler/movietracker-sw/pkg/cache"
	"github.com/Sternrassler/movietracker-sw/pkg/fetch"
	"github.com/Sternrassler/movietracker-sw/pkg/strategy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Requests tracks routed requests by category
var Requests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sw_router_requests_total",
		Help: "Total number of requests by routing category",
	},
	[]string{"category"}, // static, api, image, navigation, default, passthrough, share
)

// Config holds the router configuration.
type Config struct {
	Rules      Rules
	Partitions cache.Partitions

	// SharePath is matched anywhere in the URL. Empty disables the share target.
	SharePath string

	// ShareRedirect is the Location of the share-target redirect.
	ShareRedirect string
}

// DefaultConfig returns the router configuration for the default partitions.
func DefaultConfig() Config {
	return Config{
		Rules:         DefaultRules(),
		Partitions:    cache.NewPartitions(cache.DefaultPrefix, cache.DefaultVersion),
		SharePath:     DefaultSharePath,
		ShareRedirect: "/",
	}
}

// Router dispatches requests to strategies.
type Router struct {
	config     Config
	strategies *strategy.Executor
	network    fetch.Fetcher
	logger     zerolog.Logger
}

// New creates a router. network serves passthrough requests.
func New(cfg Config, strategies *strategy.Executor, network fetch.Fetcher, logger zerolog.Logger) *Router {
	if cfg.ShareRedirect == "" {
		cfg.ShareRedirect = "/"
	}
	return &Router{
		config:     cfg,
		strategies: strategies,
		network:    network,
		logger:     logger,
	}
}

// Classify returns the category of req under the router's rules.
func (r *Router) Classify(req *http.Request) Category {
	return r.config.Rules.Classify(req)
}

// Handle answers req.
func (r *Router) Handle(req *http.Request) (*http.Response, error) {
	if IsShare(req, r.config.SharePath) {
		Requests.WithLabelValues("share").Inc()
		item := ParseShare(req)
		r.logger.Info().
			Str("title", item.Title).
			Str("text", item.Text).
			Str("shared_url", item.URL).
			Msg("Received shared content")
		return RedirectResponse(req, r.config.ShareRedirect), nil
	}

	if !isHTTP(req) || req.Method != http.MethodGet {
		Requests.WithLabelValues("passthrough").Inc()
		r.logger.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("Passthrough")
		return r.network.Do(req)
	}

	category := r.Classify(req)
	Requests.WithLabelValues(string(category)).Inc()
	r.logger.Debug().Str("category", string(category)).Str("url", req.URL.String()).Msg("Routing request")

	p := r.config.Partitions
	switch category {
	case CategoryStatic:
		return r.strategies.CacheFirst(req, p.Static)
	case CategoryAPI:
		return r.strategies.NetworkFirst(req, p.Dynamic)
	case CategoryImage:
		return r.strategies.CacheFirst(req, p.Dynamic)
	case CategoryNavigation:
		return r.strategies.NetworkFirstOffline(req)
	default:
		return r.strategies.NetworkFirst(req, p.Dynamic)
	}
}

func isHTTP(req *http.Request) bool {
	return req.URL.Scheme == "http" || req.URL.Scheme == "https"
}
