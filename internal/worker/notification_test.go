package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swelljoe/wthr-offline/internal/platform"
)

func TestBuildNotification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		title   string
		body    string
		icon    string
		url     string
		alertID string
	}{
		{"empty object", `{}`, DefaultTitle, DefaultBody, DefaultIcon, DefaultURL, ""},
		{"no payload", ``, DefaultTitle, DefaultBody, DefaultIcon, DefaultURL, ""},
		{"json null", `null`, DefaultTitle, DefaultBody, DefaultIcon, DefaultURL, ""},
		{
			name:    "full payload",
			payload: `{"title":"Tornado Warning","body":"Take shelter","icon":"/images/thunderstorm.svg","url":"/alerts/42","alertId":42}`,
			title:   "Tornado Warning",
			body:    "Take shelter",
			icon:    "/images/thunderstorm.svg",
			url:     "/alerts/42",
			alertID: "42",
		},
		{"partial payload", `{"body":"Frost tonight"}`, DefaultTitle, "Frost tonight", DefaultIcon, DefaultURL, ""},
		{"plain text", `Heat advisory until 8 PM`, DefaultTitle, "Heat advisory until 8 PM", DefaultIcon, DefaultURL, ""},
		{"wrong field type", `{"title":5}`, DefaultTitle, DefaultBody, DefaultIcon, DefaultURL, ""},
		{
			name:    "mistyped fields keep the rest",
			payload: `{"title":"Storm","body":"Hail","alertId":7,"badge":3}`,
			title:   "Storm",
			body:    "Hail",
			icon:    DefaultIcon,
			url:     DefaultURL,
			alertID: "7",
		},
		{"json string", `"hello"`, DefaultTitle, DefaultBody, DefaultIcon, DefaultURL, ""},
		{"json array", `[1,2]`, DefaultTitle, DefaultBody, DefaultIcon, DefaultURL, ""},
		{"string alert id", `{"alertId":"nws-118"}`, DefaultTitle, DefaultBody, DefaultIcon, DefaultURL, `"nws-118"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := BuildNotification([]byte(tt.payload))

			assert.Equal(t, tt.title, n.Title)
			assert.Equal(t, tt.body, n.Body)
			assert.Equal(t, tt.icon, n.Icon)
			assert.Equal(t, DefaultBadge, n.Badge)
			assert.Equal(t, tt.url, n.Data.URL)
			assert.Equal(t, tt.alertID, string(n.Data.AlertID))

			assert.Equal(t, NotificationTag, n.Tag)
			assert.True(t, n.RequireInteraction)
			assert.Equal(t, []int{200, 100, 200}, n.Vibrate)
			require.Len(t, n.Actions, 2)
			assert.Equal(t, ActionView, n.Actions[0].Action)
			assert.Equal(t, ActionClose, n.Actions[1].Action)
		})
	}
}

func TestPushShowsNotification(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.d.Push(context.Background(), []byte(`{"title":"Flood Watch"}`)))
	require.Len(t, h.notifier.shown, 1)
	assert.Equal(t, "Flood Watch", h.notifier.shown[0].Title)
	assert.NotEmpty(t, h.notifier.shown[0].Body)

	h.notifier.err = errors.New("notifications denied")
	assert.Error(t, h.d.Push(context.Background(), nil))
}

func TestNotificationClick(t *testing.T) {
	alert := BuildNotification([]byte(`{"url":"/alerts/7"}`))

	tests := []struct {
		name        string
		action      string
		clients     []*fakeClient
		wantOpened  []string
		wantFocused string
	}{
		{"view opens target", ActionView, nil, []string{"/alerts/7"}, ""},
		{
			name:        "view focuses open target",
			action:      ActionView,
			clients:     []*fakeClient{{id: "a", url: "http://wthr.test/alerts/7"}},
			wantFocused: "a",
		},
		{"close does nothing", ActionClose, []*fakeClient{{id: "a", url: "/"}}, nil, ""},
		{
			name:        "body click focuses root page",
			action:      "",
			clients:     []*fakeClient{{id: "a", url: "http://wthr.test/radar"}, {id: "b", url: "http://wthr.test/"}},
			wantFocused: "b",
		},
		{"body click opens root when none open", "", []*fakeClient{{id: "a", url: "/radar"}}, []string{"/"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.clients.clients = tt.clients

			err := h.d.NotificationClick(context.Background(), platform.NotificationClick{
				Action:       tt.action,
				Notification: alert,
			})
			require.NoError(t, err)

			assert.Equal(t, []string{NotificationTag}, h.notifier.closed, "notification is always closed first")
			assert.Equal(t, tt.wantOpened, h.clients.opened)
			for _, opener := range h.clients.openers {
				assert.Nil(t, opener)
			}
			for _, c := range tt.clients {
				if c.id == tt.wantFocused {
					assert.Equal(t, 1, c.focused, c.id)
				} else {
					assert.Zero(t, c.focused, c.id)
				}
			}
		})
	}
}

// TestNotificationClickFromSource verifies a click answered by a known page
// never touches another visitor's page.
func TestNotificationClickFromSource(t *testing.T) {
	alert := BuildNotification([]byte(`{"url":"/alerts/7"}`))

	tests := []struct {
		name       string
		action     string
		sourceURL  string
		wantOpened []string
		wantFocus  bool
	}{
		{"view opens on clicking page", ActionView, "http://wthr.test/radar", []string{"/alerts/7"}, false},
		{"view focuses clicking page", ActionView, "http://wthr.test/alerts/7", nil, true},
		{"body click opens root on clicking page", "", "http://wthr.test/radar", []string{"/"}, false},
		{"close ignores clicking page", ActionClose, "http://wthr.test/radar", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			other := &fakeClient{id: "other", url: "http://wthr.test/alerts/7"}
			source := &fakeClient{id: "source", url: tt.sourceURL}
			h.clients.clients = []*fakeClient{source, other}

			err := h.d.NotificationClick(context.Background(), platform.NotificationClick{
				Action:       tt.action,
				Notification: alert,
				Source:       source,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantOpened, h.clients.opened)
			for _, opener := range h.clients.openers {
				assert.Same(t, source, opener)
			}
			if tt.wantFocus {
				assert.Equal(t, 1, source.focused)
			} else {
				assert.Zero(t, source.focused)
			}
			assert.Zero(t, other.focused, "another page showing the target is left alone")
		})
	}
}

func TestSameLocation(t *testing.T) {
	tests := []struct {
		client   string
		target   string
		expected bool
	}{
		{"http://wthr.test/", "/", true},
		{"http://wthr.test", "/", true},
		{"http://wthr.test/radar", "/", false},
		{"http://wthr.test/?city=Austin", "/?city=Austin", true},
		{"http://wthr.test/", "http://other.test/", false},
		{"http://wthr.test/alerts/1", "http://wthr.test/alerts/1", true},
	}

	for _, tt := range tests {
		t.Run(tt.client+" "+tt.target, func(t *testing.T) {
			assert.Equal(t, tt.expected, sameLocation(tt.client, tt.target))
		})
	}
}
