package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantTitle string
		wantBody  string
		wantURL   any
	}{
		{
			name:      "empty payload uses defaults",
			raw:       "",
			wantTitle: DefaultTitle,
			wantBody:  DefaultBody,
		},
		{
			name:      "json payload",
			raw:       `{"title":"New episode","body":"Severance S02E03","data":{"url":"/tv/95396"}}`,
			wantTitle: "New episode",
			wantBody:  "Severance S02E03",
			wantURL:   "/tv/95396",
		},
		{
			name:      "plain text becomes body",
			raw:       "Your watchlist has 3 new releases",
			wantTitle: DefaultTitle,
			wantBody:  "Your watchlist has 3 new releases",
		},
		{
			name:      "json without title keeps default title",
			raw:       `{"body":"Recommended for you"}`,
			wantTitle: DefaultTitle,
			wantBody:  "Recommended for you",
		},
		{
			name:      "json array is not a payload object",
			raw:       `["a","b"]`,
			wantTitle: DefaultTitle,
			wantBody:  `["a","b"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParsePayload([]byte(tt.raw))
			assert.Equal(t, tt.wantTitle, p.Title)
			assert.Equal(t, tt.wantBody, p.Body)
			if tt.wantURL != nil {
				assert.Equal(t, tt.wantURL, p.Data["url"])
			}
		})
	}
}

func TestBuild(t *testing.T) {
	n := Build(ParsePayload(nil))

	assert.Equal(t, DefaultTitle, n.Title)
	assert.Equal(t, "/icon-192x192.png", n.Icon)
	assert.Equal(t, "/badge-72x72.png", n.Badge)
	assert.Equal(t, "movietracker-notification", n.Tag)
	assert.True(t, n.RequireInteraction)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, Action{Action: "view", Title: "View Details"}, n.Actions[0])
	assert.Equal(t, Action{Action: "dismiss", Title: "Dismiss"}, n.Actions[1])
	assert.NotNil(t, n.Data)
}

func TestClick_Target(t *testing.T) {
	tests := []struct {
		name     string
		click    Click
		wantURL  string
		wantOpen bool
	}{
		{"view with url", Click{Action: "view", Data: map[string]any{"url": "/movie/550"}}, "/movie/550", true},
		{"view without url", Click{Action: "view"}, "/", true},
		{"view with non-string url", Click{Action: "view", Data: map[string]any{"url": 42}}, "/", true},
		{"dismiss", Click{Action: "dismiss", Data: map[string]any{"url": "/movie/550"}}, "", false},
		{"body click", Click{}, "/", true},
		{"unknown action", Click{Action: "snooze"}, "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, ok := tt.click.Target()
			assert.Equal(t, tt.wantOpen, ok)
			assert.Equal(t, tt.wantURL, url)
		})
	}
}

func TestCenter_TagReplacesAndHistoryBounded(t *testing.T) {
	c := NewCenter(2, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.ShowNotification(ctx, Notification{Title: "a", Tag: "movietracker-notification"}))
	require.NoError(t, c.ShowNotification(ctx, Notification{Title: "b", Tag: "movietracker-notification"}))

	got := c.Notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Title)
	assert.False(t, got[0].ShownAt.IsZero())

	for _, url := range []string{"/", "/a", "/b"} {
		require.NoError(t, c.OpenWindow(ctx, url))
	}
	assert.Equal(t, []string{"/a", "/b"}, c.Windows())
}
