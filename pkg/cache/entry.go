package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Entry is an immutable snapshot of a successful HTTP response.
type Entry struct {
	// URL is the request URL the response was captured for
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Status is the status line text (e.g. "200 OK")
	Status string `json:"status"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Body is the response body
	Body []byte `json:"body"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// Ok reports whether the snapshot carries a 2xx status.
func (e *Entry) Ok() bool {
	return IsOK(e.StatusCode)
}

// IsOK reports whether status is in the 2xx class.
func IsOK(status int) bool {
	return status >= 200 && status < 300
}

// Snapshot copies an HTTP response into an Entry.
// The response body is read fully and restored so the caller can still
// consume it.
func Snapshot(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = data
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header.Clone(),
		Body:       body,
		CachedAt:   time.Now(),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		entry.URL = resp.Request.URL.String()
	}

	return entry, nil
}

// Response builds a fresh *http.Response from the snapshot.
// Every call returns an independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}

	header := e.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}

	body := make([]byte, len(e.Body))
	copy(body, e.Body)

	return &http.Response{
		Status:        status,
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// clone returns a deep copy so stored snapshots never share memory with callers.
func (e *Entry) clone() *Entry {
	out := *e
	out.Headers = e.Headers.Clone()
	out.Body = append([]byte(nil), e.Body...)
	return &out
}
