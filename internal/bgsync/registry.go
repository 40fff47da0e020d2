// Package bgsync schedules the background work a browser would otherwise
// drive: deferred syncs that wait for connectivity, periodic syncs on a
// fixed interval and the online/offline transitions between them.
package bgsync

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrEmptyTag is returned when registering a sync without a tag
	ErrEmptyTag = errors.New("bgsync: empty tag")
	// ErrClosed is returned by Register after Close
	ErrClosed = errors.New("bgsync: registry closed")
)

// SyncFunc handles a deferred sync for tag
type SyncFunc func(ctx context.Context, tag string)

// Registry holds deferred sync registrations. A tag is dispatched once,
// either immediately when the network is reachable or on the next Flush.
// Registering a tag that is already pending is a no-op.
type Registry struct {
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	online  bool
	closed  bool
	handler SyncFunc

	wg sync.WaitGroup
}

// NewRegistry returns a registry that assumes the network is reachable
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:     log.With(zap.String("component", "bgsync")),
		pending: make(map[string]struct{}),
		online:  true,
	}
}

// Bind sets the function deferred syncs are dispatched to. Tags registered
// before Bind stay pending until the next Flush.
func (r *Registry) Bind(fn SyncFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

// Register records tag and dispatches it in the background if the network
// is reachable
func (r *Registry) Register(ctx context.Context, tag string) error {
	if tag == "" {
		return ErrEmptyTag
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.pending[tag]; ok {
		r.mu.Unlock()
		r.log.Debug("Sync already pending", zap.String("tag", tag))
		return nil
	}
	r.pending[tag] = struct{}{}
	ready := r.online && r.handler != nil
	if ready {
		// Add under mu so Close cannot start waiting in between
		r.wg.Add(1)
	}
	r.mu.Unlock()

	r.log.Debug("Sync registered", zap.String("tag", tag), zap.Bool("online", ready))
	if ready {
		go func() {
			defer r.wg.Done()
			r.Flush(context.WithoutCancel(ctx))
		}()
	}
	return nil
}

// SetOnline records whether the network is reachable
func (r *Registry) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = online
}

// Flush dispatches every pending tag and clears them
func (r *Registry) Flush(ctx context.Context) {
	r.mu.Lock()
	handler := r.handler
	if handler == nil || len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	tags := make([]string, 0, len(r.pending))
	for tag := range r.pending {
		tags = append(tags, tag)
	}
	clear(r.pending)
	r.mu.Unlock()

	sort.Strings(tags)
	for _, tag := range tags {
		r.log.Debug("Dispatching sync", zap.String("tag", tag))
		handler(ctx, tag)
	}
}

// Pending returns the registered tags not yet dispatched
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.pending))
	for tag := range r.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Wait blocks until background dispatches started by Register finish
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Close refuses further registrations and waits for background dispatches
// to finish
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
}
