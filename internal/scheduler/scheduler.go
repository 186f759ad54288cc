// Package scheduler drives the collector's periodic tick on a fixed
// interval, leaving debounce/coalescing to the collector itself.
package scheduler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cliproxy-dash/usage-collector/internal/collector"
)

// Scheduler ticks a Collector on a fixed interval until its context is
// cancelled.
type Scheduler struct {
	collector *collector.Collector
	interval  time.Duration
}

// New builds a Scheduler. interval must be positive.
func New(c *collector.Collector, interval time.Duration) *Scheduler {
	return &Scheduler{collector: c, interval: interval}
}

// Run blocks, firing RequestTick every interval, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	log.WithField("interval", s.interval).Info("scheduler: started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler: stopped")
			return
		case <-ticker.C:
			s.collector.RequestTick(ctx)
		}
	}
}
