package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/movietracker-sw/internal/testutil"
	"github.com/Sternrassler/movietracker-sw/pkg/config"
)

func testConfig(origin *testutil.MockOrigin) config.Config {
	cfg := config.DefaultConfig()
	cfg.Origin.URL = origin.URL()
	cfg.Fetch.Timeout = 2 * time.Second
	cfg.Fetch.MaxAttempts = 1
	cfg.Outbox.MaxAttempts = 1
	cfg.Refresh.Timeout = time.Second
	return cfg
}

func newTestStack(t *testing.T, origin *testutil.MockOrigin, cfg config.Config, opts stackOptions) *stack {
	t.Helper()
	s, err := newStack(context.Background(), cfg, zerolog.Nop(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newOrigin(t *testing.T) *testutil.MockOrigin {
	t.Helper()
	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)
	return origin
}

func activate(t *testing.T, s *stack) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.worker.Install(ctx))
	require.NoError(t, s.worker.Activate(ctx))
}

func serve(t *testing.T, h http.Handler, method, target, accept, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := rec.Result()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealthEndpoint(t *testing.T) {
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})

	resp, body := serve(t, s.handler(), http.MethodGet, "/_sw/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
}

func TestReadyEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})})
	h := s.handler()

	resp, body := serve(t, h, http.MethodGet, "/_sw/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, "parsed")

	activate(t, s)
	resp, body = serve(t, h, http.MethodGet, "/_sw/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	resp, _ = serve(t, h, http.MethodGet, "/_sw/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProxy_ServesOfflineFromCache(t *testing.T) {
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})
	activate(t, s)
	h := s.handler()

	resp, body := serve(t, h, http.MethodGet, "/static/js/bundle.js", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log('movietracker')", body)

	s.refresher.Wait()
	origin.SetOffline(true)

	resp, body = serve(t, h, http.MethodGet, "/static/js/bundle.js", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log('movietracker')", body)

	resp, body = serve(t, h, http.MethodGet, "/movies/550", "text/html", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "You're Offline")

	resp, _ = serve(t, h, http.MethodGet, "/rest/v1/movies?id=eq.550", "application/json", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestProxy_ForwardsWrites(t *testing.T) {
	origin := newOrigin(t)
	var got string
	origin.SetHandler("/rest/v1/ratings", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		got = r.Method + " " + string(data)
		w.WriteHeader(http.StatusCreated)
	})
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})

	resp, _ := serve(t, s.handler(), http.MethodPost, "/rest/v1/ratings", "", `{"movie_id":550,"rating":9}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `POST {"movie_id":550,"rating":9}`, got)
}

func TestProxy_PagesAndRevalidation(t *testing.T) {
	origin := newOrigin(t)
	origin.SetResponse("/watchlist", testutil.NewHTMLResponse("<h1>Watchlist</h1>"))
	origin.SetResponse("/rest/v1/movies", testutil.NewNotFoundResponse())
	origin.SetHandler("/static/js/chunk.js", testutil.NewConditionalHandler(`"chunk-1"`, "chunk"))
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})
	h := s.handler()

	resp, body := serve(t, h, http.MethodGet, "/static/js/chunk.js", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chunk", body)

	origin.Reset()
	resp, body = serve(t, h, http.MethodGet, "/static/js/chunk.js", "", "")
	s.refresher.Wait()
	assert.Equal(t, "chunk", body)
	assert.Equal(t, 1, origin.GetRequestCount(), "only the background refresh reaches the origin")
	assert.Equal(t, 1, origin.GetConditionalCount())

	resp, body = serve(t, h, http.MethodGet, "/watchlist", "text/html", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>Watchlist</h1>", body)

	resp, body = serve(t, h, http.MethodGet, "/rest/v1/movies", "application/json", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "could not be found")

	origin.SetOffline(true)

	resp, body = serve(t, h, http.MethodGet, "/watchlist", "text/html", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>Watchlist</h1>", body)

	resp, _ = serve(t, h, http.MethodGet, "/rest/v1/movies", "application/json", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode, "error responses are never cached")
}

func TestProxy_ServerErrorsPassThrough(t *testing.T) {
	origin := newOrigin(t)
	origin.SetResponse("/watchlist", testutil.MockResponse{StatusCode: http.StatusInternalServerError, Body: "boom"})
	origin.SetResponse("/rest/v1/movies", testutil.NewServerErrorResponse())
	origin.SetResponse("/rest/v1/ratings", testutil.MockResponse{StatusCode: http.StatusServiceUnavailable, Body: "busy"})

	cfg := testConfig(origin)
	cfg.Fetch.MaxAttempts = 3
	cfg.Fetch.InitialBackoff = time.Millisecond
	cfg.Fetch.MaxBackoff = time.Millisecond
	s := newTestStack(t, origin, cfg, stackOptions{})
	h := s.handler()

	resp, body := serve(t, h, http.MethodGet, "/watchlist", "text/html", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", body)
	assert.NotContains(t, body, "You're Offline")

	resp, _ = serve(t, h, http.MethodGet, "/rest/v1/movies", "application/json", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, body = serve(t, h, http.MethodPost, "/rest/v1/ratings", "", `{"rating":8}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "busy", body)

	assert.Equal(t, 1, origin.GetPathCount("/watchlist"), "foreground requests are not retried")
	assert.Equal(t, 1, origin.GetPathCount("/rest/v1/ratings"))
}

func TestProxy_AbsoluteTargets(t *testing.T) {
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})
	h := s.handler()

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"foreign host", "http://internal.example/admin", http.StatusForbidden},
		{"lookalike BaaS host", "https://evil.example/x.supabase.co/rest/v1/users", http.StatusForbidden},
		{"app origin", origin.URL() + "/manifest.json", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := serve(t, h, http.MethodGet, tt.target, "", "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Equal(t, 1, origin.GetRequestCount(), "only the origin request is forwarded")
}

func TestProxy_ShareTargetRedirects(t *testing.T) {
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})

	resp, _ := serve(t, s.handler(), http.MethodGet, "/share-movie?title=Heat&url=https://www.themoviedb.org/movie/949", "text/html", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Zero(t, origin.GetRequestCount())
}

func TestMetricsEndpoint(t *testing.T) {
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})
	h := s.handler()

	serve(t, h, http.MethodGet, "/manifest.json", "", "")

	resp, body := serve(t, h, http.MethodGet, "/_sw/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "# TYPE")
	assert.Contains(t, body, "sw_router_requests_total")
	assert.Contains(t, body, "sw_fetch_requests_total")
}

func TestOutboxEndpoints(t *testing.T) {
	origin := newOrigin(t)
	origin.SetResponse("/rest/v1/watchlist", testutil.MockResponse{StatusCode: http.StatusCreated})

	cfg := testConfig(origin)
	cfg.Outbox.Enabled = true
	cfg.Outbox.Path = filepath.Join(t.TempDir(), "outbox.db")
	s := newTestStack(t, origin, cfg, stackOptions{})
	h := s.handler()

	resp, body := serve(t, h, http.MethodPost, "/_sw/outbox/sync-watchlist", "",
		`{"method":"POST","url":"/rest/v1/watchlist","headers":{"Content-Type":"application/json"},"body":{"movie_id":550}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.NotEmpty(t, created["id"])

	pending, err := s.outbox.Pending(context.Background(), "sync-watchlist")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, origin.URL()+"/rest/v1/watchlist", pending[0].URL)
	assert.Equal(t, `{"movie_id":550}`, string(pending[0].Body))

	resp, _ = serve(t, h, http.MethodPost, "/_sw/sync/sync-watchlist", "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, origin.GetPathCount("/rest/v1/watchlist"))

	pending, err = s.outbox.Pending(context.Background(), "sync-watchlist")
	require.NoError(t, err)
	assert.Empty(t, pending)

	resp, _ = serve(t, h, http.MethodPost, "/_sw/sync/sync-everything", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = serve(t, h, http.MethodPost, "/_sw/outbox/sync-everything", "", `{"url":"/x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = serve(t, h, http.MethodPost, "/_sw/outbox/sync-rating", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOutboxEndpoints_Disabled(t *testing.T) {
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})
	h := s.handler()

	resp, _ := serve(t, h, http.MethodPost, "/_sw/outbox/sync-rating", "", `{"url":"/rest/v1/ratings"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = serve(t, h, http.MethodPost, "/_sw/sync/sync-rating", "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPushEndpoints(t *testing.T) {
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{})
	h := s.handler()

	resp, _ := serve(t, h, http.MethodPost, "/_sw/push", "", `{"title":"New on your watchlist","body":"Heat is streaming"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = serve(t, h, http.MethodPost, "/_sw/notificationclick", "", `{"action":"view","data":{"url":"/movie/949"}}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = serve(t, h, http.MethodPost, "/_sw/notificationclick", "", `{"action":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := serve(t, h, http.MethodGet, "/_sw/notifications", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Notifications []struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"notifications"`
		Windows []string `json:"windows"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listed))
	require.Len(t, listed.Notifications, 1)
	assert.Equal(t, "New on your watchlist", listed.Notifications[0].Title)
	assert.Equal(t, "Heat is streaming", listed.Notifications[0].Body)
	assert.Equal(t, []string{"/movie/949"}, listed.Windows)
}

func TestConnectivity_TracksNetworkFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	origin := newOrigin(t)
	s := newTestStack(t, origin, testConfig(origin), stackOptions{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})})
	require.NotNil(t, s.tracker)
	ctx := context.Background()
	h := s.handler()

	origin.SetOffline(true)
	resp, _ := serve(t, h, http.MethodGet, "/rest/v1/movies", "application/json", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.False(t, s.tracker.IsOnline(ctx))
	assert.Error(t, s.ping(ctx))

	origin.SetOffline(false)
	require.NoError(t, s.ping(ctx))
	serve(t, h, http.MethodGet, "/rest/v1/movies", "application/json", "")
	assert.True(t, s.tracker.IsOnline(ctx))
}
