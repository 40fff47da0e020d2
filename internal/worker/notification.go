package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/swelljoe/wthr-offline/internal/platform"
)

// Notification defaults
const (
	DefaultTitle = "Weather Alert"
	DefaultBody  = "Weather conditions have changed"
	DefaultIcon  = "/images/cloudy.svg"
	DefaultBadge = "/images/weather-badge.png"
	DefaultURL   = "/"

	NotificationTag = "weather-alert"

	ActionView  = "view"
	ActionClose = "close"
)

// BuildNotification turns a raw push payload into a notification. A JSON
// object contributes whichever string fields it carries; any other valid
// JSON is ignored, and a payload that is not JSON at all becomes the body.
func BuildNotification(payload []byte) platform.Notification {
	var (
		fields map[string]json.RawMessage
		body   string
	)
	switch trimmed := bytes.TrimSpace(payload); {
	case len(trimmed) == 0:
	case !json.Valid(trimmed):
		body = string(payload)
	default:
		// Arrays and scalars leave fields empty
		_ = json.Unmarshal(trimmed, &fields)
		body = stringField(fields, "body")
	}

	return platform.Notification{
		Title:              orDefault(stringField(fields, "title"), DefaultTitle),
		Body:               orDefault(body, DefaultBody),
		Icon:               orDefault(stringField(fields, "icon"), DefaultIcon),
		Badge:              orDefault(stringField(fields, "badge"), DefaultBadge),
		Vibrate:            []int{200, 100, 200},
		Tag:                NotificationTag,
		RequireInteraction: true,
		Actions: []platform.Action{
			{Action: ActionView, Title: "View Details", Icon: "/images/view-icon.png"},
			{Action: ActionClose, Title: "Dismiss", Icon: "/images/close-icon.png"},
		},
		Data: platform.NotificationData{
			URL:     orDefault(stringField(fields, "url"), DefaultURL),
			AlertID: alertID(fields["alertId"]),
		},
	}
}

// stringField returns fields[name] when it holds a JSON string
func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// alertID keeps the alert identifier verbatim, whatever its JSON type
func alertID(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Push shows a notification for an inbound push payload
func (d *Dispatcher) Push(ctx context.Context, payload []byte) error {
	d.log.Info("Push notification received", zap.Int("bytes", len(payload)))

	n := BuildNotification(payload)
	if err := d.notifier.ShowNotification(ctx, n); err != nil {
		d.log.Error("Failed to show notification", zap.Error(err))
		return fmt.Errorf("failed to show notification: %w", err)
	}
	d.metrics.Notification()
	return nil
}

// NotificationClick closes the clicked notification and then, depending on
// the action, focuses or opens a page.
func (d *Dispatcher) NotificationClick(ctx context.Context, click platform.NotificationClick) error {
	d.log.Info("Notification clicked", zap.String("action", click.Action), zap.String("tag", click.Notification.Tag))

	if err := d.notifier.CloseNotification(ctx, click.Notification.Tag); err != nil {
		d.log.Warn("Failed to close notification", zap.Error(err))
	}

	switch click.Action {
	case ActionView:
		return d.focusOrOpen(ctx, orDefault(click.Notification.Data.URL, DefaultURL), click.Source)
	case ActionClose:
		return nil
	default:
		return d.focusOrOpen(ctx, DefaultURL, click.Source)
	}
}

// focusOrOpen focuses an open page showing target, or opens a new one.
// When the clicking page is known only that page is focused or asked to
// open target, since other pages may belong to other visitors.
func (d *Dispatcher) focusOrOpen(ctx context.Context, target string, source platform.Client) error {
	if source != nil {
		if sameLocation(source.URL(), target) {
			return source.Focus(ctx)
		}
		return d.clients.OpenWindow(ctx, target, source)
	}

	clients, err := d.clients.MatchAll(ctx)
	if err != nil {
		d.log.Warn("Failed to list clients", zap.Error(err))
	}
	for _, c := range clients {
		if sameLocation(c.URL(), target) {
			return c.Focus(ctx)
		}
	}
	return d.clients.OpenWindow(ctx, target, nil)
}

// sameLocation compares a client URL with a target that may be relative.
// Host is only compared when the target names one.
func sameLocation(clientURL, target string) bool {
	c, err := url.Parse(clientURL)
	if err != nil {
		return false
	}
	t, err := url.Parse(target)
	if err != nil {
		return false
	}
	if t.Host != "" && c.Host != t.Host {
		return false
	}
	return orDefault(c.Path, "/") == orDefault(t.Path, "/") && c.RawQuery == t.RawQuery
}
