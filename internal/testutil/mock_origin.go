// Package testutil provides testing utilities for the worker packages.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable upstream for testing: it plays the web app
// origin by default and any API through SetResponse/SetHandler.
// While offline it drops every connection without answering.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	offline  bool

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	PathCounts        map[string]int
}

// NewMockOrigin creates a new mock origin serving a small app shell.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		offline := mock.offline
		if !offline {
			mock.RequestCount++
			mock.PathCounts[r.URL.Path]++
			mock.LastRequestHeader = r.Header.Clone()
			if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
				mock.ConditionalCount++
			}
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if offline {
			dropConnection(w)
			return
		}
		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("mock origin: response writer cannot be hijacked")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// URL returns the mock server URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// SetOffline makes the origin drop (true) or serve (false) requests.
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.PathCounts = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockOrigin) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made for path.
func (m *MockOrigin) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockOrigin) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// appShell is what the default handler serves.
var appShell = map[string]MockResponse{
	"/":                    NewHTMLResponse("<!DOCTYPE html><html><body><div id=\"root\"></div></body></html>"),
	"/static/js/bundle.js": {StatusCode: http.StatusOK, Body: "console.log('movietracker')", Headers: map[string]string{"Content-Type": "application/javascript", "ETag": `"bundle-1"`}},
	"/static/css/main.css": {StatusCode: http.StatusOK, Body: "body{margin:0}", Headers: map[string]string{"Content-Type": "text/css", "ETag": `"css-1"`}},
	"/manifest.json":       NewJSONResponse(`{"name":"MovieTracker","short_name":"MovieTracker","start_url":"/"}`),
	"/favicon.ico":         {StatusCode: http.StatusOK, Body: "ico", Headers: map[string]string{"Content-Type": "image/x-icon"}},
}

// defaultHandler serves the app shell, honoring If-None-Match, and 404 elsewhere.
func (m *MockOrigin) defaultHandler(w http.ResponseWriter, r *http.Request) {
	resp, ok := appShell[r.URL.Path]
	if !ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found"))
		return
	}

	etag := resp.Headers["ETag"]
	if etag != "" && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(resp.Body))
}

// NewHTMLResponse creates a 200 OK text/html response.
func NewHTMLResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
	}
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"ETag":         `"test-etag-123"`,
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"status_message":"The resource you requested could not be found."}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewConditionalHandler creates a handler that responds with 304 for conditional requests.
func NewConditionalHandler(etag string, data string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(data))
	}
}
