package cache

import (
	"net/http"
	"strings"
)

// Key identifies a cache entry within a partition.
type Key struct {
	// Method is the HTTP method. Only GET is ever stored.
	Method string

	// URL is the full request URL including the query string.
	URL string
}

// KeyFor builds the cache key for a request.
func KeyFor(req *http.Request) Key {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return Key{
		Method: strings.ToUpper(method),
		URL:    req.URL.String(),
	}
}

// String generates the storage field for the key.
// Format: METHOD url
//
// Example:
//
//	GET https://api.themoviedb.org/3/movie/550?language=en-US
func (k Key) String() string {
	return k.Method + " " + k.URL
}
