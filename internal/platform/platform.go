// Package platform describes the host the offline worker runs in: the page
// instances it controls, how notifications are shown and how background
// syncs are scheduled. The worker depends only on these interfaces.
package platform

import (
	"context"
	"encoding/json"
)

// Message types exchanged with page instances
const (
	MessageSkipWaiting       = "SKIP_WAITING"
	MessageRequestSync       = "REQUEST_SYNC"
	MessageDataSynced        = "WEATHER_DATA_SYNCED"
	MessageNotificationClick = "NOTIFICATION_CLICK"
	MessageNotification      = "NOTIFICATION"
	MessageNotificationClose = "NOTIFICATION_CLOSE"
	MessageClaimed           = "CLAIMED"
	MessageFocus             = "FOCUS"
	MessageOpenWindow        = "OPEN_WINDOW"
)

// Message is the envelope posted between the worker and page instances
type Message struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp,omitempty"`
	URL       string          `json:"url,omitempty"`
	Action    string          `json:"action,omitempty"`
	Tag       string          `json:"tag,omitempty"`
	Version   string          `json:"version,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client is one open page instance
type Client interface {
	ID() string
	URL() string
	PostMessage(ctx context.Context, msg Message) error
	Focus(ctx context.Context) error
}

// Clients enumerates and controls page instances
type Clients interface {
	MatchAll(ctx context.Context) ([]Client, error)
	// OpenWindow asks opener to open url. A nil opener leaves the choice
	// of page to the implementation.
	OpenWindow(ctx context.Context, url string, opener Client) error
	// Claim makes the given worker version the controller of every open page.
	Claim(ctx context.Context, version string) error
}

// Action is a button attached to a notification
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// NotificationData is carried with a notification and returned on click
type NotificationData struct {
	URL     string          `json:"url"`
	AlertID json.RawMessage `json:"alertId,omitempty"`
}

// Notification is the descriptor for one displayed notification
type Notification struct {
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	Icon               string           `json:"icon"`
	Badge              string           `json:"badge"`
	Vibrate            []int            `json:"vibrate,omitempty"`
	Tag                string           `json:"tag,omitempty"`
	RequireInteraction bool             `json:"requireInteraction"`
	Actions            []Action         `json:"actions"`
	Data               NotificationData `json:"data"`
}

// NotificationClick is delivered when the user activates a notification.
// Action is empty when the notification body itself was clicked. Source is
// the page the click came from, nil when it is not known.
type NotificationClick struct {
	Action       string
	Notification Notification
	Source       Client
}

// Notifier displays and dismisses notifications
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context, tag string) error
}

// SyncRegistry schedules a deferred sync for when connectivity is available
type SyncRegistry interface {
	Register(ctx context.Context, tag string) error
}
