package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/swelljoe/wthr-offline/internal/fetch"
	"github.com/swelljoe/wthr-offline/internal/search"
	"github.com/swelljoe/wthr-offline/internal/worker"
)

// maxPushBody caps the push payload read from the request
const maxPushBody = 64 << 10

// Worker is the part of the dispatcher the HTTP surface drives
type Worker interface {
	Fetch(req *http.Request) (*http.Response, error)
	Push(ctx context.Context, payload []byte) error
	State() worker.State
	CacheName() string
}

// Pinger reports cache store health
type Pinger interface {
	Ping() error
}

// hopHeaders are connection-scoped and never forwarded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handlers holds dependencies for HTTP handlers
type Handlers struct {
	worker  Worker
	network *fetch.Client
	store   Pinger
	log     *zap.Logger
}

// New creates a new Handlers instance. store may be nil when the cache
// backend has no health check.
func New(w Worker, network *fetch.Client, store Pinger, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		worker:  w,
		network: network,
		store:   store,
		log:     log.With(zap.String("component", "http")),
	}
}

// HandleHealth handles health check endpoint
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			h.log.Warn("Cache store unhealthy", zap.Error(err))
			status = "degraded"
		}
	}

	state := h.worker.State()
	if state == worker.StateRedundant {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": status,
		"state":  state.String(),
		"cache":  h.worker.CacheName(),
	})
}

// HandleFetch forwards a page request to the origin through the worker
func (h *Handlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, h.network.Resolve(r.URL.RequestURI()), r.Body)
	if err != nil {
		h.log.Error("Failed to build upstream request", zap.Error(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	req.Header = r.Header.Clone()
	for _, k := range hopHeaders {
		req.Header.Del(k)
	}
	req.ContentLength = r.ContentLength

	resp, err := h.worker.Fetch(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.log.Warn("Fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	for _, k := range hopHeaders {
		w.Header().Del(k)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.log.Debug("Response copy interrupted", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// HandlePush delivers a push payload to the worker
func (h *Handlers) HandlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if err := h.worker.Push(r.Context(), payload); err != nil {
		h.log.Error("Push failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleSearchHeader renders the results heading for ?city=
func (h *Handlers) HandleSearchHeader(w http.ResponseWriter, r *http.Request) {
	h.writeFragment(w, "header", func() (string, error) {
		return search.Header(r.URL.Query().Get("city"))
	})
}

// HandleSearchDetails renders the details panel for ?text=
func (h *Handlers) HandleSearchDetails(w http.ResponseWriter, r *http.Request) {
	h.writeFragment(w, "details", func() (string, error) {
		return search.Details(r.URL.Query().Get("text"))
	})
}

// HandleShareLink returns a link that reopens the page on ?city= with
// ?summary= in the details panel
func (h *Handlers) HandleShareLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := q.Get("city")
	if city == "" {
		http.Error(w, "city is required", http.StatusBadRequest)
		return
	}

	link, err := search.ShareLink(h.network.Resolve("/"), city, q.Get("summary"))
	if err != nil {
		h.log.Error("Share link failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (h *Handlers) writeFragment(w http.ResponseWriter, name string, render func() (string, error)) {
	out, err := render()
	if err != nil {
		h.log.Error("Template error", zap.String("fragment", name), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
