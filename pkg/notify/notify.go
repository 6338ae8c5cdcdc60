// Package notify turns push payloads into notifications and decides what a
// notification click opens.
package notify

import (
	"encoding/json"
	"strings"
	"time"
)

// Notification defaults.
const (
	DefaultTitle = "MovieTracker"
	DefaultBody  = "New content available!"
	DefaultIcon  = "/icon-192x192.png"
	DefaultBadge = "/badge-72x72.png"
	DefaultTag   = "movietracker-notification"

	ActionView    = "view"
	ActionDismiss = "dismiss"
)

// Payload is the decoded content of a push message.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what gets displayed to the user.
type Notification struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	Tag                string         `json:"tag"`
	RequireInteraction bool           `json:"require_interaction"`
	Actions            []Action       `json:"actions"`
	Data               map[string]any `json:"data"`
	ShownAt            time.Time      `json:"shown_at,omitempty"`
}

// ParsePayload decodes a push message.
// An empty message yields the default title and body. A message that is not
// a JSON object becomes the body under the default title. Fields missing from
// a JSON object keep their defaults.
func ParsePayload(raw []byte) Payload {
	p := Payload{Title: DefaultTitle, Body: DefaultBody}
	if len(raw) == 0 {
		return p
	}

	var decoded Payload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		p.Body = string(raw)
		return p
	}

	if decoded.Title != "" {
		p.Title = decoded.Title
	}
	if decoded.Body != "" {
		p.Body = decoded.Body
	}
	p.Data = decoded.Data
	return p
}

// Build returns the notification for a payload.
func Build(p Payload) Notification {
	data := p.Data
	if data == nil {
		data = map[string]any{}
	}
	return Notification{
		Title:              p.Title,
		Body:               p.Body,
		Icon:               DefaultIcon,
		Badge:              DefaultBadge,
		Tag:                DefaultTag,
		RequireInteraction: true,
		Actions: []Action{
			{Action: ActionView, Title: "View Details"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
		Data: data,
	}
}

// Click is a user interaction with a shown notification.
type Click struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

// Target returns the URL the click opens. ok is false when nothing opens.
func (c Click) Target() (url string, ok bool) {
	switch c.Action {
	case ActionView:
		if u, _ := c.Data["url"].(string); strings.TrimSpace(u) != "" {
			return u, true
		}
		return "/", true
	case ActionDismiss:
		return "", false
	default:
		return "/", true
	}
}
