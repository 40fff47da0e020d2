package bgsync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Periodic fires a periodic sync for one tag on a fixed interval
type Periodic struct {
	log      *zap.Logger
	tag      string
	interval time.Duration
	fire     SyncFunc
}

func NewPeriodic(log *zap.Logger, tag string, interval time.Duration, fire SyncFunc) *Periodic {
	if log == nil {
		log = zap.NewNop()
	}
	return &Periodic{
		log:      log.With(zap.String("component", "periodic"), zap.String("tag", tag)),
		tag:      tag,
		interval: interval,
		fire:     fire,
	}
}

// Run fires on every tick until ctx is cancelled. The first sync happens
// one interval after Run starts.
func (p *Periodic) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.log.Info("Periodic sync disabled")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.log.Debug("Periodic sync")
			p.fire(ctx, p.tag)
		}
	}
}
