// Package strategy implements the request strategies that decide between the
// network and the cache: cache-first with background revalidation,
// network-first, and network-first with an offline document fallback.
//
// Strategies never store non-2xx responses and never surface storage
// failures; only a network failure with nothing cached is returned as an
// error.
package strategy

import (
	"net/http"

	"github.com/Sternrassler/movietracker-sw/pkg/cache"
	"github.com/Sternrassler/movietracker-sw/pkg/fetch"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Name identifies a strategy.
type Name string

const (
	CacheFirstName          Name = "cache-first"
	NetworkFirstName        Name = "network-first"
	NetworkFirstOfflineName Name = "network-first-offline"
)

// Source says where a response came from.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
)

var tracer = otel.Tracer("github.com/Sternrassler/movietracker-sw/pkg/strategy")

// Executor runs strategies against one cache manager and one network.
type Executor struct {
	cache     *cache.Manager
	network   fetch.Fetcher
	refresher *Refresher
	dynamic   string
	logger    zerolog.Logger
}

// New creates a strategy executor.
// NetworkFirstOffline uses the dynamic partition of partitions.
// A nil refresher gets one with DefaultRefreshConfig.
func New(manager *cache.Manager, network fetch.Fetcher, partitions cache.Partitions, refresher *Refresher, logger zerolog.Logger) *Executor {
	if manager == nil {
		panic("cache manager cannot be nil")
	}
	if network == nil {
		panic("network fetcher cannot be nil")
	}
	if refresher == nil {
		refresher = NewRefresher(manager, network, DefaultRefreshConfig(), logger)
	}
	return &Executor{
		cache:     manager,
		network:   network,
		refresher: refresher,
		dynamic:   partitions.Dynamic,
		logger:    logger,
	}
}

// Refresher returns the background refresher.
func (e *Executor) Refresher() *Refresher {
	return e.refresher
}

// CacheFirst answers from partition when possible and revalidates the entry
// in the background. On a miss it goes to the network and stores a 2xx
// response before returning it. If the network fails it looks in the cache
// once more and otherwise returns the network error.
func (e *Executor) CacheFirst(req *http.Request, partition string) (*http.Response, error) {
	req, span := e.start(req, CacheFirstName, partition)
	defer span.End()
	ctx := req.Context()

	if cached, ok := e.cache.Match(ctx, partition, req); ok {
		e.refresher.Refresh(req, partition, cached.Header)
		return e.served(span, CacheFirstName, SourceCache, req, cached), nil
	}

	resp, err := e.network.Do(req)
	if err != nil {
		// A concurrent request may have filled the entry meanwhile
		if cached, ok := e.cache.Match(ctx, partition, req); ok {
			return e.served(span, CacheFirstName, SourceCache, req, cached), nil
		}
		return nil, e.failed(span, CacheFirstName, req, err)
	}

	if cache.IsOK(resp.StatusCode) {
		_ = e.cache.Put(ctx, partition, req, resp)
	}
	return e.served(span, CacheFirstName, SourceNetwork, req, resp), nil
}

// NetworkFirst answers from the network and stores 2xx responses in
// partition. It falls back to the cache only when the network fails.
func (e *Executor) NetworkFirst(req *http.Request, partition string) (*http.Response, error) {
	req, span := e.start(req, NetworkFirstName, partition)
	defer span.End()

	resp, source, err := e.networkFirst(req, partition)
	if err != nil {
		return nil, e.failed(span, NetworkFirstName, req, err)
	}
	return e.served(span, NetworkFirstName, source, req, resp), nil
}

// NetworkFirstOffline behaves like NetworkFirst on the dynamic partition but
// never fails: with neither network nor cache it returns the offline document.
func (e *Executor) NetworkFirstOffline(req *http.Request) (*http.Response, error) {
	req, span := e.start(req, NetworkFirstOfflineName, e.dynamic)
	defer span.End()

	resp, source, err := e.networkFirst(req, e.dynamic)
	if err != nil {
		e.logger.Info().Err(err).Str("url", req.URL.String()).Msg("Serving offline page")
		span.RecordError(err)
		return e.served(span, NetworkFirstOfflineName, SourceOffline, req, OfflineResponse(req)), nil
	}
	return e.served(span, NetworkFirstOfflineName, source, req, resp), nil
}

func (e *Executor) networkFirst(req *http.Request, partition string) (*http.Response, Source, error) {
	ctx := req.Context()

	resp, err := e.network.Do(req)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Network failed, trying cache")
		if cached, ok := e.cache.Match(ctx, partition, req); ok {
			return cached, SourceCache, nil
		}
		return nil, "", err
	}

	if cache.IsOK(resp.StatusCode) {
		_ = e.cache.Put(ctx, partition, req, resp)
	}
	return resp, SourceNetwork, nil
}

func (e *Executor) start(req *http.Request, name Name, partition string) (*http.Request, trace.Span) {
	ctx, span := tracer.Start(req.Context(), "strategy."+string(name),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("cache.partition", partition),
		),
	)
	return req.WithContext(ctx), span
}

func (e *Executor) served(span trace.Span, name Name, source Source, req *http.Request, resp *http.Response) *http.Response {
	Responses.WithLabelValues(string(name), string(source)).Inc()
	span.SetAttributes(
		attribute.String("sw.source", string(source)),
		attribute.Int("http.response.status_code", resp.StatusCode),
	)

	e.logger.Debug().
		Str("strategy", string(name)).
		Str("source", string(source)).
		Str("url", req.URL.String()).
		Int("status_code", resp.StatusCode).
		Msg("Request served")
	return resp
}

func (e *Executor) failed(span trace.Span, name Name, req *http.Request, err error) error {
	Failures.WithLabelValues(string(name)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, "network and cache unavailable")

	e.logger.Debug().
		Err(err).
		Str("strategy", string(name)).
		Str("url", req.URL.String()).
		Str("error_class", string(fetch.ClassOf(err))).
		Msg("Request failed")
	return err
}
