package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/swelljoe/wthr-offline/internal/cache"
	"github.com/swelljoe/wthr-offline/internal/fetch"
)

// Fetch answers a request from the controlled page: cache first, then the
// network, then (for navigations only) the cached root document.
func (d *Dispatcher) Fetch(req *http.Request) (*http.Response, error) {
	// Until activation completes the page is not controlled
	if d.State() != StateActive || req.Method != http.MethodGet {
		resp, err := d.network.Do(req)
		d.metrics.NetworkFetch(err)
		return resp, err
	}

	ctx := req.Context()
	key := cache.RequestKey(req)

	// 1. Any bucket may answer
	entry, err := d.storage.Match(ctx, key)
	if err != nil {
		d.log.Warn("Cache lookup failed", zap.String("url", req.URL.String()), zap.Error(err))
	}
	if entry != nil {
		d.metrics.CacheLookup(true)
		d.log.Debug("Serving from cache", zap.String("url", req.URL.String()))
		return entry.Response(req), nil
	}
	d.metrics.CacheLookup(false)

	// 2. Network
	d.log.Debug("Fetching from network", zap.String("url", req.URL.String()))
	resp, err := d.network.Do(req)
	d.metrics.NetworkFetch(err)
	if err != nil {
		return d.fallback(req, err)
	}

	// Only same-origin 200s that carry nothing personal are shared with
	// later visitors
	if resp.StatusCode != http.StatusOK || d.network.TypeOf(resp) != fetch.TypeBasic || !cache.Shareable(req, resp) {
		d.metrics.WriteBack("skipped")
		return resp, nil
	}

	// 3. The body can only be read once: buffer it so the caller and the
	// cache each get their own copy.
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return d.fallback(req, fmt.Errorf("failed to read response body: %w", err))
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	d.writeBack(ctx, key, cache.NewEntry(resp, body))
	return resp, nil
}

// writeBack stores entry in the live bucket without blocking the caller
func (d *Dispatcher) writeBack(ctx context.Context, key string, entry *cache.Entry) {
	ctx = context.WithoutCancel(ctx)

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				d.metrics.WriteBack("error")
				d.log.Error("Cache write panicked", zap.String("key", key), zap.Any("panic", r))
			}
		}()

		bucket, err := d.storage.Open(ctx, d.cacheName)
		if err == nil {
			err = bucket.Put(ctx, key, entry)
		}
		if err != nil {
			d.metrics.WriteBack("error")
			d.log.Error("Cache write failed", zap.String("key", key), zap.Error(err))
			return
		}
		d.metrics.WriteBack("stored")
	}()
}

// fallback serves the cached root document for navigations that failed to
// reach the network. Other requests fail with err.
func (d *Dispatcher) fallback(req *http.Request, err error) (*http.Response, error) {
	if !fetch.IsNavigation(req) {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}

	for _, p := range offlinePages {
		key := cache.Key(http.MethodGet, d.network.Resolve(p))
		entry, lookupErr := d.storage.Match(context.WithoutCancel(req.Context()), key)
		if lookupErr != nil {
			d.log.Warn("Offline page lookup failed", zap.String("page", p), zap.Error(lookupErr))
			continue
		}
		if entry != nil {
			d.metrics.OfflineFallback()
			d.log.Info("Serving offline page", zap.String("url", req.URL.String()), zap.Error(err))
			return entry.Response(req), nil
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
}
