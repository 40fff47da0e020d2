// Package clients tracks the page instances connected over WebSocket and
// implements the platform surface the worker uses to reach them: client
// enumeration, focus, open-window, claim and notification display.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/swelljoe/wthr-offline/internal/platform"
)

const (
	writeTimeout = 10 * time.Second

	// maxMessageSize bounds one inbound frame from a page
	maxMessageSize = 64 << 10
)

// ErrNoClient is returned when an operation needs a connected page and none is
var ErrNoClient = errors.New("clients: no page is connected")

// MessageHandler receives messages posted by pages
type MessageHandler func(ctx context.Context, from platform.Client, msg platform.Message)

// ClickHandler receives notification clicks reported by pages
type ClickHandler func(ctx context.Context, click platform.NotificationClick) error

// Hub holds every connected page
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu            sync.RWMutex
	conns         map[string]*Conn
	controller    string
	notifications map[string]platform.Notification
	onMessage     MessageHandler
	onClick       ClickHandler
}

// NewHub creates an empty hub
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log: log.With(zap.String("component", "clients")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns:         make(map[string]*Conn),
		notifications: make(map[string]platform.Notification),
	}
}

// SetHandlers wires inbound page messages and notification clicks
func (h *Hub) SetHandlers(onMessage MessageHandler, onClick ClickHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = onMessage
	h.onClick = onClick
}

// ServeHTTP upgrades a page connection and reads its messages until it
// disconnects. The page reports its location in the "url" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxMessageSize)

	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		pageURL = "/"
	}
	c := &Conn{
		id:          uuid.NewString(),
		url:         pageURL,
		connectedAt: time.Now(),
		ws:          ws,
	}

	h.mu.Lock()
	h.conns[c.id] = c
	controller := h.controller
	pending := make([]platform.Notification, 0, len(h.notifications))
	for _, n := range h.notifications {
		pending = append(pending, n)
	}
	h.mu.Unlock()

	h.log.Debug("Client connected", zap.String("client", c.id), zap.String("url", c.url))
	defer h.remove(c)

	ctx := r.Context()
	if controller != "" {
		c.PostMessage(ctx, platform.Message{Type: platform.MessageClaimed, Version: controller})
	}
	for _, n := range pending {
		if err := c.post(ctx, notificationMessage(n)); err != nil {
			h.log.Warn("Failed to replay notification", zap.String("client", c.id), zap.Error(err))
		}
	}

	for {
		var msg platform.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("WebSocket read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		h.dispatch(ctx, c, msg)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, msg platform.Message) {
	h.mu.RLock()
	onMessage, onClick := h.onMessage, h.onClick
	n, known := h.notifications[msg.Tag]
	h.mu.RUnlock()

	if msg.Type != platform.MessageNotificationClick {
		if onMessage != nil {
			onMessage(ctx, c, msg)
		}
		return
	}

	if !known {
		h.log.Warn("Click for unknown notification", zap.String("tag", msg.Tag))
		return
	}
	if onClick == nil {
		return
	}
	if err := onClick(ctx, platform.NotificationClick{Action: msg.Action, Notification: n, Source: c}); err != nil {
		h.log.Error("Notification click failed", zap.String("tag", msg.Tag), zap.Error(err))
	}
}

func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.ws.Close()
	h.log.Debug("Client disconnected", zap.String("client", c.id))
}

// MatchAll returns every connected page, oldest connection first
func (h *Hub) MatchAll(ctx context.Context) ([]platform.Client, error) {
	conns := h.snapshot()
	out := make([]platform.Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out, nil
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].connectedAt.Before(conns[j].connectedAt) })
	return conns
}

// OpenWindow asks opener to open url. Without an opener the most recently
// connected page is asked.
func (h *Hub) OpenWindow(ctx context.Context, url string, opener platform.Client) error {
	msg := platform.Message{Type: platform.MessageOpenWindow, URL: url}
	if opener != nil {
		return opener.PostMessage(ctx, msg)
	}

	conns := h.snapshot()
	if len(conns) == 0 {
		return ErrNoClient
	}
	return conns[len(conns)-1].post(ctx, msg)
}

// Claim records version as the controller and tells every page
func (h *Hub) Claim(ctx context.Context, version string) error {
	h.mu.Lock()
	h.controller = version
	h.mu.Unlock()

	h.broadcast(ctx, platform.Message{Type: platform.MessageClaimed, Version: version})
	return nil
}

// Controller returns the version that last claimed the pages
func (h *Hub) Controller() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.controller
}

// ShowNotification displays n on every connected page. Pages connecting
// later receive it until it is closed.
func (h *Hub) ShowNotification(ctx context.Context, n platform.Notification) error {
	h.mu.Lock()
	h.notifications[n.Tag] = n
	h.mu.Unlock()

	h.broadcast(ctx, notificationMessage(n))
	return nil
}

// CloseNotification dismisses the notification with the given tag
func (h *Hub) CloseNotification(ctx context.Context, tag string) error {
	h.mu.Lock()
	delete(h.notifications, tag)
	h.mu.Unlock()

	h.broadcast(ctx, platform.Message{Type: platform.MessageNotificationClose, Tag: tag})
	return nil
}

// Notifications returns the notifications currently displayed
func (h *Hub) Notifications() []platform.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]platform.Notification, 0, len(h.notifications))
	for _, n := range h.notifications {
		out = append(out, n)
	}
	return out
}

func (h *Hub) broadcast(ctx context.Context, msg platform.Message) {
	for _, c := range h.snapshot() {
		if err := c.post(ctx, msg); err != nil {
			h.log.Warn("Failed to post message", zap.String("client", c.id), zap.String("type", msg.Type), zap.Error(err))
		}
	}
}

// Close disconnects every page
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	}
}

func notificationMessage(n platform.Notification) platform.Message {
	payload, _ := json.Marshal(n)
	return platform.Message{Type: platform.MessageNotification, Tag: n.Tag, Payload: payload}
}

// Conn is one connected page
type Conn struct {
	id          string
	url         string
	connectedAt time.Time
	ws          *websocket.Conn
	writeMu     sync.Mutex
}

func (c *Conn) ID() string  { return c.id }
func (c *Conn) URL() string { return c.url }

// PostMessage sends msg to the page
func (c *Conn) PostMessage(ctx context.Context, msg platform.Message) error {
	return c.post(ctx, msg)
}

// Focus asks the page to bring itself to the foreground
func (c *Conn) Focus(ctx context.Context) error {
	return c.post(ctx, platform.Message{Type: platform.MessageFocus})
}

func (c *Conn) post(ctx context.Context, msg platform.Message) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteJSON(msg)
}
