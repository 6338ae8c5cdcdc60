package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis starts an in-memory Redis (miniredis) for unit tests.
// Integration tests use testcontainers-go with a real Redis instance.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return client
}

// stores returns every backend so each test runs against both.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(setupTestRedis(t)),
	}
}

func newTestManager(store Store) *Manager {
	return NewManager(store, zerolog.Nop())
}

func okResponse(req *http.Request, body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil store")
		}
	}()
	NewManager(nil, zerolog.Nop())
}

func TestManager_OpenIsIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			manager := newTestManager(store)
			ctx := context.Background()

			first, err := manager.Open(ctx, "movietracker-web-static-v1")
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			second, err := manager.Open(ctx, "movietracker-web-static-v1")
			if err != nil {
				t.Fatalf("second Open failed: %v", err)
			}

			if first.Name() != second.Name() {
				t.Errorf("handles refer to different partitions: %s vs %s", first.Name(), second.Name())
			}

			names, err := manager.Partitions(ctx)
			if err != nil {
				t.Fatalf("Partitions failed: %v", err)
			}
			if len(names) != 1 {
				t.Errorf("Partitions() = %v, want exactly one", names)
			}

			// Writes through one handle are visible through the other
			req := httptest.NewRequest(http.MethodGet, "http://localhost/static/js/bundle.js", nil)
			if err := first.Put(ctx, req, okResponse(req, "console.log(1)")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if _, ok := second.Match(ctx, req); !ok {
				t.Error("entry written via first handle not visible via second")
			}
		})
	}
}

func TestManager_PutAndMatch(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			manager := newTestManager(store)
			ctx := context.Background()
			req := httptest.NewRequest(http.MethodGet, "https://api.themoviedb.org/3/movie/550", nil)

			resp := okResponse(req, `{"id":550}`)
			if err := manager.Put(ctx, "dynamic", req, resp); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			// Caller can still read the original body
			body, _ := io.ReadAll(resp.Body)
			if string(body) != `{"id":550}` {
				t.Errorf("original body = %q after Put", body)
			}

			cached, ok := manager.Match(ctx, "dynamic", req)
			if !ok {
				t.Fatal("Match returned miss after Put")
			}
			cachedBody, _ := io.ReadAll(cached.Body)
			if string(cachedBody) != `{"id":550}` {
				t.Errorf("cached body = %q", cachedBody)
			}
			if cached.Header.Get("Content-Type") != "application/json" {
				t.Errorf("cached Content-Type = %q", cached.Header.Get("Content-Type"))
			}

			// Dynamic partition was created lazily by the write
			names, _ := manager.Partitions(ctx)
			if len(names) != 1 || names[0] != "dynamic" {
				t.Errorf("Partitions() = %v, want [dynamic]", names)
			}
		})
	}
}

func TestManager_MatchMiss(t *testing.T) {
	manager := newTestManager(NewMemoryStore())
	req := httptest.NewRequest(http.MethodGet, "https://api.themoviedb.org/3/movie/1", nil)

	if resp, ok := manager.Match(context.Background(), "dynamic", req); ok || resp != nil {
		t.Errorf("Match() = %v, %v; want nil, false", resp, ok)
	}
}

func TestManager_PutRejectsUncacheable(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
	}{
		{name: "not found", method: http.MethodGet, status: http.StatusNotFound},
		{name: "server error", method: http.MethodGet, status: http.StatusInternalServerError},
		{name: "not modified", method: http.MethodGet, status: http.StatusNotModified},
		{name: "post request", method: http.MethodPost, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			manager := newTestManager(store)
			ctx := context.Background()
			req := httptest.NewRequest(tt.method, "https://abc.supabase.co/rest/v1/ratings", nil)
			resp := okResponse(req, "{}")
			resp.StatusCode = tt.status

			err := manager.Put(ctx, "dynamic", req, resp)
			if !errors.Is(err, ErrNotCacheable) {
				t.Errorf("Put() error = %v, want ErrNotCacheable", err)
			}
			if n, _ := store.Len(ctx, "dynamic"); n != 0 {
				t.Errorf("partition has %d entries, want 0", n)
			}
		})
	}
}

func TestManager_Prune(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			manager := newTestManager(store)
			ctx := context.Background()
			parts := NewPartitions("movietracker-web", "v1")

			for _, p := range []string{"old-version-cache", parts.Static, parts.Dynamic} {
				if _, err := manager.Open(ctx, p); err != nil {
					t.Fatalf("Open(%s) failed: %v", p, err)
				}
			}
			req := httptest.NewRequest(http.MethodGet, "http://localhost/old.js", nil)
			if err := manager.Put(ctx, "old-version-cache", req, okResponse(req, "old")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			deleted, err := manager.Prune(ctx, parts.Current())
			if err != nil {
				t.Fatalf("Prune failed: %v", err)
			}
			if len(deleted) != 1 || deleted[0] != "old-version-cache" {
				t.Errorf("deleted = %v, want [old-version-cache]", deleted)
			}

			names, _ := manager.Partitions(ctx)
			want := []string{parts.Dynamic, parts.Static}
			if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
				t.Errorf("Partitions() after prune = %v, want %v", names, want)
			}
			if _, ok := manager.Match(ctx, "old-version-cache", req); ok {
				t.Error("entry from pruned partition still matched")
			}
		})
	}
}

type fetcherFunc func(*http.Request) (*http.Response, error)

func (f fetcherFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestManager_SeedIsolatesFailures(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			manager := newTestManager(store)
			ctx := context.Background()

			fetcher := fetcherFunc(func(req *http.Request) (*http.Response, error) {
				if req.URL.Path == "/" {
					return nil, errors.New("connection refused")
				}
				return okResponse(req, "bundle"), nil
			})

			manifest := []string{"http://localhost:3000/", "http://localhost:3000/static/js/bundle.js"}
			report := manager.Seed(ctx, "static", manifest, fetcher)

			if len(report.Stored) != 1 || report.Stored[0] != manifest[1] {
				t.Errorf("Stored = %v, want only the bundle", report.Stored)
			}
			if _, failed := report.Failed[manifest[0]]; !failed {
				t.Errorf("Failed = %v, want root document listed", report.Failed)
			}

			n, err := store.Len(ctx, "static")
			if err != nil {
				t.Fatalf("Len failed: %v", err)
			}
			if n != 1 {
				t.Errorf("static partition has %d entries, want 1", n)
			}

			bundle := httptest.NewRequest(http.MethodGet, manifest[1], nil)
			if _, ok := manager.Match(ctx, "static", bundle); !ok {
				t.Error("bundle not found in static partition")
			}
		})
	}
}

func TestManager_SeedSkipsErrorStatus(t *testing.T) {
	manager := newTestManager(NewMemoryStore())
	fetcher := fetcherFunc(func(req *http.Request) (*http.Response, error) {
		resp := okResponse(req, "missing")
		resp.StatusCode = http.StatusNotFound
		return resp, nil
	})

	report := manager.Seed(context.Background(), "static", []string{"http://localhost/manifest.json"}, fetcher)
	if len(report.Stored) != 0 || len(report.Failed) != 1 {
		t.Errorf("report = %+v, want one failure", report)
	}
}

// failingStore simulates an unavailable backend (quota, connection loss).
type failingStore struct{ *MemoryStore }

func (failingStore) Get(context.Context, string, Key) (*Entry, error) {
	return nil, errors.New("backend unavailable")
}

func (failingStore) Set(context.Context, string, Key, *Entry) error {
	return errors.New("quota exceeded")
}

func TestManager_StorageFailuresDegrade(t *testing.T) {
	manager := newTestManager(failingStore{NewMemoryStore()})
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "https://api.themoviedb.org/3/trending/all/day", nil)

	if _, ok := manager.Match(ctx, "dynamic", req); ok {
		t.Error("Match on failing store should report a miss")
	}

	resp := okResponse(req, "trending")
	if err := manager.Put(ctx, "dynamic", req, resp); err == nil {
		t.Error("Put on failing store should return the storage error")
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, []byte("trending")) {
		t.Errorf("body after failed Put = %q, want intact", body)
	}
}

func TestRedisStore_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := Key{Method: http.MethodGet, URL: "https://api.themoviedb.org/3/movie/550"}

	if err := client.HSet(ctx, partitionKey("dynamic"), key.String(), "not-json").Err(); err != nil {
		t.Fatalf("HSet failed: %v", err)
	}

	if _, err := store.Get(ctx, "dynamic", key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
	}
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}
