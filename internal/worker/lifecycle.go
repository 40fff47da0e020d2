package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/swelljoe/wthr-offline/internal/cache"
	"github.com/swelljoe/wthr-offline/internal/platform"
)

// Install opens the live bucket and stores every manifest asset in it. A
// single failed asset fails the whole install and leaves the dispatcher
// redundant. On success the dispatcher moves on to activation unless manual
// skip-waiting is configured.
func (d *Dispatcher) Install(ctx context.Context) error {
	d.log.Info("Installing")
	d.setState(StateInstalling)

	bucket, err := d.storage.Open(ctx, d.cacheName)
	if err != nil {
		return d.failInstall(err)
	}

	urls := make([]string, len(Manifest))
	for i, p := range Manifest {
		urls[i] = d.network.Resolve(p)
	}

	d.log.Info("Caching files", zap.Int("count", len(urls)))
	if err := cache.AddAll(ctx, bucket, d.network.Following(), urls); err != nil {
		return d.failInstall(err)
	}

	d.log.Info("Installation complete")
	d.setState(StateWaiting)

	d.mu.Lock()
	skip := d.autoSkip || d.skipRequested
	d.mu.Unlock()
	if skip {
		return d.SkipWaiting(ctx)
	}
	return nil
}

func (d *Dispatcher) failInstall(err error) error {
	d.log.Error("Installation failed", zap.Error(err))
	d.setState(StateRedundant)
	return fmt.Errorf("%w: %w", ErrInstallFailed, err)
}

// SkipWaiting promotes a waiting dispatcher straight to activation. Called
// before install finishes, it takes effect as soon as install succeeds.
func (d *Dispatcher) SkipWaiting(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateWaiting:
		d.mu.Unlock()
		return d.Activate(ctx)
	case StateParsed, StateInstalling:
		d.skipRequested = true
	}
	d.mu.Unlock()
	return nil
}

// Activate deletes every bucket other than the live one and claims all open
// pages. Cleanup errors are logged and do not prevent the claim.
func (d *Dispatcher) Activate(ctx context.Context) error {
	switch d.State() {
	case StateParsed, StateInstalling, StateRedundant:
		return ErrNotInstalled
	}

	d.log.Info("Activating")
	d.setState(StateActivating)

	names, err := d.storage.Keys(ctx)
	if err != nil {
		d.log.Error("Failed to list caches", zap.Error(err))
	}
	for _, name := range names {
		if name == d.cacheName {
			continue
		}
		d.log.Info("Deleting old cache", zap.String("name", name))
		if _, err := d.storage.Delete(ctx, name); err != nil {
			d.log.Error("Failed to delete old cache", zap.String("name", name), zap.Error(err))
		}
	}

	d.setState(StateActive)
	d.log.Info("Activation complete")

	if err := d.clients.Claim(ctx, d.cacheName); err != nil {
		d.log.Error("Failed to claim clients", zap.Error(err))
		return fmt.Errorf("failed to claim clients: %w", err)
	}
	return nil
}

// Message handles a message posted by a page instance
func (d *Dispatcher) Message(ctx context.Context, from platform.Client, msg platform.Message) {
	fields := []zap.Field{zap.String("type", msg.Type)}
	if from != nil {
		fields = append(fields, zap.String("client", from.ID()))
	}
	d.log.Debug("Message received", fields...)

	switch msg.Type {
	case platform.MessageSkipWaiting:
		if err := d.SkipWaiting(ctx); err != nil {
			d.log.Error("Skip waiting failed", zap.Error(err))
		}
	case platform.MessageRequestSync:
		if err := d.syncs.Register(ctx, SyncTag); err != nil {
			d.log.Error("Failed to register sync", zap.String("tag", SyncTag), zap.Error(err))
		}
	}
}

// Online handles the network becoming available
func (d *Dispatcher) Online(ctx context.Context) {
	d.log.Info("Online")
	d.syncAndLog(ctx, "online")
}

// Offline handles the network going away
func (d *Dispatcher) Offline(ctx context.Context) {
	d.log.Info("Offline")
}
