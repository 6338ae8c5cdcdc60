package worker

import (
	"context"
	"sync/atomic"

	"github.com/Sternrassler/movietracker-sw/pkg/notify"
)

// LocalHost is the Host of a worker running in-process.
// Notifications and opened windows go to a notify.Center.
type LocalHost struct {
	*notify.Center

	skipped atomic.Bool
	claimed atomic.Bool
}

var _ Host = (*LocalHost)(nil)

// NewLocalHost creates a host that records notifications in center.
func NewLocalHost(center *notify.Center) *LocalHost {
	return &LocalHost{Center: center}
}

// SkipWaiting implements Host.
func (h *LocalHost) SkipWaiting(context.Context) error {
	h.skipped.Store(true)
	return nil
}

// Claim implements Host.
func (h *LocalHost) Claim(context.Context) error {
	h.claimed.Store(true)
	return nil
}

// Claimed reports whether the worker has claimed its clients.
func (h *LocalHost) Claimed() bool {
	return h.claimed.Load()
}

// SkippedWaiting reports whether the worker asked to skip waiting.
func (h *LocalHost) SkippedWaiting() bool {
	return h.skipped.Load()
}
