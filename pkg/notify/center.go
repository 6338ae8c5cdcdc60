package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHistory is the number of notifications and opened windows kept.
const DefaultHistory = 50

// Center records shown notifications and opened windows for clients that
// poll for them. Notifications sharing a tag replace each other.
type Center struct {
	mu            sync.Mutex
	notifications []Notification
	windows       []string
	limit         int
	logger        zerolog.Logger
	now           func() time.Time
}

// NewCenter creates a notification center keeping up to limit entries.
func NewCenter(limit int, logger zerolog.Logger) *Center {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Center{limit: limit, logger: logger, now: time.Now}
}

// ShowNotification records n.
func (c *Center) ShowNotification(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n.ShownAt = c.now()
	kept := c.notifications[:0]
	for _, existing := range c.notifications {
		if n.Tag == "" || existing.Tag != n.Tag {
			kept = append(kept, existing)
		}
	}
	c.notifications = append(kept, n)
	if over := len(c.notifications) - c.limit; over > 0 {
		c.notifications = c.notifications[over:]
	}

	c.logger.Info().Str("title", n.Title).Str("tag", n.Tag).Msg("Notification shown")
	return nil
}

// OpenWindow records a request to open url.
func (c *Center) OpenWindow(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.windows = append(c.windows, url)
	if over := len(c.windows) - c.limit; over > 0 {
		c.windows = c.windows[over:]
	}

	c.logger.Info().Str("url", url).Msg("Window opened")
	return nil
}

// Notifications returns the shown notifications, oldest first.
func (c *Center) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.notifications...)
}

// Windows returns the opened URLs, oldest first.
func (c *Center) Windows() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.windows...)
}
