// Package fetch provides the network side of the worker: an HTTP client with
// error classification, request metrics and retry with backoff.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for network operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sw_fetch_requests_total",
		Help: "Total network requests by host and status",
	}, []string{"host", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sw_fetch_request_duration_seconds",
		Help:    "Network request duration in seconds by host",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sw_fetch_errors_total",
		Help: "Total network errors by class",
	}, []string{"class"})
)

// Fetcher performs a single network request.
// An HTTP error status is a response, not an error.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer is notified of every network outcome.
type Observer interface {
	Observe(ctx context.Context, err error)
}

// Config holds the client configuration.
type Config struct {
	// UserAgent is set on requests that do not carry one.
	UserAgent string

	// Timeout bounds a single request.
	Timeout time.Duration

	// Transport overrides the HTTP transport (tests, proxies).
	Transport http.RoundTripper
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "movietracker-sw/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// Client is the network client used by strategies, seeding and outbox replay.
type Client struct {
	httpClient *http.Client
	config     Config
	observer   Observer
	logger     zerolog.Logger
}

var _ Fetcher = (*Client)(nil)

// New creates a new network client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			// Redirects are handed back to the caller untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
		logger: log.With().Str("component", "fetch").Logger(),
	}, nil
}

// SetObserver registers the observer of network outcomes.
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Do performs one network request. Only transport failures are returned as
// errors; they are wrapped in a *FetchError of class network.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	}()

	if c.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(host, "network_error").Inc()
		c.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Network request failed")

		fetchErr := &FetchError{
			URL:     req.URL.String(),
			Class:   ErrorClassNetwork,
			Message: "network request failed",
			Err:     err,
		}
		c.observe(req.Context(), fetchErr)
		return nil, fetchErr
	}

	requestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
	if class := ClassifyStatus(resp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
	}
	c.observe(req.Context(), nil)

	c.logger.Debug().
		Str("url", req.URL.String()).
		Str("method", req.Method).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Network request complete")

	return resp, nil
}

func (c *Client) observe(ctx context.Context, err error) {
	if c.observer != nil {
		c.observer.Observe(ctx, err)
	}
}

// DoWithRetry performs a request built by newRequest, retrying network
// failures, 429 and 5xx responses. newRequest is called once per attempt so
// request bodies can be replayed. 4xx responses are returned without retry.
func (c *Client) DoWithRetry(ctx context.Context, config RetryConfig, newRequest func(context.Context) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response

	err := Retry(ctx, config, func() error {
		req, err := newRequest(ctx)
		if err != nil {
			return &FetchError{Class: ErrorClassClient, Message: "build request", Err: err}
		}

		r, err := c.Do(req)
		if err != nil {
			return err
		}

		if class := ClassifyStatus(r.StatusCode); shouldRetry(class) {
			r.Body.Close()
			return &FetchError{
				URL:        req.URL.String(),
				StatusCode: r.StatusCode,
				Class:      class,
				Message:    r.Status,
			}
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Retrying returns a Fetcher that retries each request according to config.
// Like Client.Do it only fails on transport errors: when 429 or 5xx persist,
// the last response is returned. Requests whose body cannot be replayed
// (no GetBody) are sent once.
func (c *Client) Retrying(config RetryConfig) Fetcher {
	return &retryingFetcher{client: c, config: config}
}

type retryingFetcher struct {
	client *Client
	config RetryConfig
}

func (f *retryingFetcher) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return f.client.Do(req)
	}

	var last *http.Response
	err := Retry(req.Context(), f.config, func() error {
		if last != nil {
			last.Body.Close()
			last = nil
		}

		attempt := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return &FetchError{URL: req.URL.String(), Class: ErrorClassClient, Message: "replay body", Err: err}
			}
			attempt.Body = body
		}

		resp, err := f.client.Do(attempt)
		if err != nil {
			return err
		}
		last = resp
		if class := ClassifyStatus(resp.StatusCode); shouldRetry(class) {
			return &FetchError{
				URL:        req.URL.String(),
				StatusCode: resp.StatusCode,
				Class:      class,
				Message:    resp.Status,
			}
		}
		return nil
	})
	if last != nil {
		return last, nil
	}
	return nil, err
}
