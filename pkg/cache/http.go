package cache

import (
	"net/http"
)

// ShouldRevalidateConditionally reports whether a cached response carries a
// validator (ETag or Last-Modified) usable for a conditional request.
func ShouldRevalidateConditionally(cached http.Header) bool {
	if cached == nil {
		return false
	}
	return cached.Get("ETag") != "" || cached.Get("Last-Modified") != ""
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request based on the cached response headers.
func AddConditionalHeaders(req *http.Request, cached http.Header) {
	if req == nil || cached == nil {
		return
	}

	// Prefer ETag over Last-Modified (more accurate)
	if etag := cached.Get("ETag"); etag != "" {
		req.Header.Set("If-None-Match", etag)
	} else if lastMod := cached.Get("Last-Modified"); lastMod != "" {
		if t, err := http.ParseTime(lastMod); err == nil {
			req.Header.Set("If-Modified-Since", t.UTC().Format(http.TimeFormat))
		}
	}
}
