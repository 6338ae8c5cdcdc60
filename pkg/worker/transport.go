package worker

import (
	"net/http"
)

// Transport routes requests of an http.Client through a Worker.
//
// The worker's own network fetcher must not use this Transport.
type Transport struct {
	Worker Worker
}

var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Worker.Fetch(req)
}
