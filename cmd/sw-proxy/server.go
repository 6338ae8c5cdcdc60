package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"

	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Sternrassler/movietracker-sw/pkg/logging"
	"github.com/Sternrassler/movietracker-sw/pkg/metrics"
	"github.com/Sternrassler/movietracker-sw/pkg/notify"
	"github.com/Sternrassler/movietracker-sw/pkg/outbox"
	"github.com/Sternrassler/movietracker-sw/pkg/worker"
)

const (
	healthPath = "/_sw/health"
	maxPayload = 1 << 20
)

// errForeignTarget rejects absolute-URI requests to hosts the proxy does not
// front: only the app origin and URLs matching the API patterns are forwarded.
var errForeignTarget = errors.New("target is neither the app origin nor a known API")

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handler returns the proxy's HTTP surface.
func (s *stack) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, s.handleHealth)
	mux.HandleFunc("GET /_sw/ready", s.handleReady)
	mux.Handle("GET /_sw/metrics", metrics.Handler())
	mux.HandleFunc("POST /_sw/outbox/{tag}", s.handleEnqueue)
	mux.HandleFunc("POST /_sw/sync/{tag}", s.handleSync)
	mux.HandleFunc("POST /_sw/push", s.handlePush)
	mux.HandleFunc("POST /_sw/notificationclick", s.handleNotificationClick)
	mux.HandleFunc("GET /_sw/notifications", s.handleNotifications)
	mux.HandleFunc("/", s.handleProxy)

	traced := otelhttp.NewHandler(mux, "sw-proxy", otelhttp.WithFilter(func(r *http.Request) bool {
		return r.URL.Path != healthPath && r.URL.Path != "/_sw/metrics"
	}))
	return logging.Middleware(s.logger, healthPath, traced)
}

func (s *stack) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *stack) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	if s.outbox != nil {
		if err := s.outbox.Ping(ctx); err != nil {
			http.Error(w, "Outbox unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	if state := s.worker.State(); state != worker.StateActivated {
		http.Error(w, "Worker "+state.String(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleProxy answers every non-control request through the worker.
func (s *stack) handleProxy(w http.ResponseWriter, r *http.Request) {
	out, err := s.outboundRequest(r)
	if errors.Is(err, errForeignTarget) {
		hlog.FromRequest(r).Warn().Str("url", r.URL.String()).Msg("Refused to forward to foreign host")
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.worker.Fetch(out)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("url", out.URL.String()).Msg("Request failed without fallback")
		http.Error(w, "Upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("Client went away while copying body")
	}
}

// outboundRequest converts an incoming request into the request the page
// would have made. Relative targets resolve against the app origin.
func (s *stack) outboundRequest(r *http.Request) (*http.Request, error) {
	target := r.URL
	if !target.IsAbs() {
		target = s.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	} else if target.Host != s.origin.Host && !s.rules.IsAPI(target.String()) {
		return nil, errForeignTarget
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.ContentLength = r.ContentLength
	if r.Body == http.NoBody || r.ContentLength == 0 {
		out.Body = http.NoBody
	}
	return out, nil
}

// enqueueRequest is the body of POST /_sw/outbox/{tag}. Body is the JSON
// document replayed to URL.
type enqueueRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

func (s *stack) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	if !slices.Contains(s.worker.SyncTags(), tag) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown sync tag %q", tag))
		return
	}
	if s.outbox == nil {
		writeError(w, http.StatusServiceUnavailable, "outbox is disabled")
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayload)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}
	header := http.Header{}
	for key, value := range req.Headers {
		header.Set(key, value)
	}
	item := outbox.Item{
		Tag:    tag,
		Method: req.Method,
		URL:    s.origin.ResolveReference(target).String(),
		Header: header,
		Body:   []byte(req.Body),
	}

	id, err := s.outbox.Enqueue(r.Context(), item)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "tag": tag})
}

func (s *stack) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	err := s.worker.Sync(r.Context(), tag)
	switch {
	case errors.Is(err, worker.ErrUnknownSyncTag):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *stack) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.worker.Push(r.Context(), payload); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *stack) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var click notify.Click
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayload)).Decode(&click); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.worker.NotificationClick(r.Context(), click); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *stack) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": s.center.Notifications(),
		"windows":       s.center.Windows(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
