package router

import (
	"net/http"
	"strings"
)

// DefaultSharePath is the share-target path registered by the app manifest.
const DefaultSharePath = "/share-movie"

// SharedItem is what another app shared to us.
type SharedItem struct {
	Title string
	Text  string
	URL   string
}

// ParseShare reads the share-target query parameters of req.
func ParseShare(req *http.Request) SharedItem {
	q := req.URL.Query()
	return SharedItem{
		Title: q.Get("title"),
		Text:  q.Get("text"),
		URL:   q.Get("url"),
	}
}

// IsShare reports whether req targets the share path.
func IsShare(req *http.Request, path string) bool {
	return path != "" && strings.Contains(req.URL.String(), path)
}

// RedirectResponse synthesizes a 302 Found to location.
func RedirectResponse(req *http.Request, location string) *http.Response {
	header := make(http.Header)
	header.Set("Location", location)
	header.Set("Content-Length", "0")

	return &http.Response{
		Status:     "302 Found",
		StatusCode: http.StatusFound,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Body:       http.NoBody,
		Request:    req,
	}
}
