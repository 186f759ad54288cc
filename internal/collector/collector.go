// Package collector wires the fetch -> delta -> credential ->
// rate-limit pipeline into a single orchestrated tick, serialised
// within one process via an explicit debounce (§5, §9).
package collector

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cliproxy-dash/usage-collector/internal/attribution"
	"github.com/cliproxy-dash/usage-collector/internal/delta"
	"github.com/cliproxy-dash/usage-collector/internal/fetcher"
	"github.com/cliproxy-dash/usage-collector/internal/model"
	"github.com/cliproxy-dash/usage-collector/internal/pricing"
	"github.com/cliproxy-dash/usage-collector/internal/ratelimit"
	"github.com/cliproxy-dash/usage-collector/internal/store"
	"github.com/cliproxy-dash/usage-collector/internal/telemetry"
)

// Collector is the explicit, constructed-at-startup object holding
// every component as a field, replacing the source's module-level
// globals (§9 process-wide caches note).
type Collector struct {
	fetcher  *fetcher.Fetcher
	pricing  *pricing.Resolver
	delta    *delta.Engine
	rlEngine *ratelimit.Engine
	attrib   *attribution.Aggregator
	store    store.Store
	location *time.Location

	mu      sync.Mutex
	running bool
	pending bool
}

// New builds a Collector from its components.
func New(f *fetcher.Fetcher, resolver *pricing.Resolver, deltaEngine *delta.Engine, rlEngine *ratelimit.Engine, attrib *attribution.Aggregator, st store.Store, location *time.Location) *Collector {
	return &Collector{
		fetcher:  f,
		pricing:  resolver,
		delta:    deltaEngine,
		rlEngine: rlEngine,
		attrib:   attrib,
		store:    st,
		location: location,
	}
}

// RequestTick asks for one full tick to run. If a tick is already in
// flight, it sets the pending flag and returns immediately; exactly one
// more tick runs once the in-flight one finishes (§5 serialisation,
// §9 thread-per-trigger replacement).
func (c *Collector) RequestTick(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.pending = true
		c.mu.Unlock()
		log.Info("collector: tick already in flight, coalescing trigger")
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.runLoop(ctx)
}

func (c *Collector) runLoop(ctx context.Context) {
	for {
		c.runTick(ctx)

		c.mu.Lock()
		if !c.pending {
			c.running = false
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()
	}
}

func (c *Collector) runTick(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "collector", "tick")
	defer span.End()

	start := time.Now()
	now := time.Now()

	c.pricing.Refresh(ctx)

	doc, err := c.fetcher.FetchUsage(ctx)
	if err != nil {
		log.WithError(err).Error("collector: usage fetch failed, aborting tick")
		return
	}

	rawDoc, err := marshalDoc(doc)
	if err != nil {
		log.WithError(err).Warn("collector: failed to marshal raw usage doc for snapshot storage")
	}

	if err := c.delta.Tick(ctx, doc, rawDoc, now); err != nil {
		log.WithError(err).Error("collector: delta engine tick failed")
		return
	}

	authFiles, err := c.fetcher.FetchAuthFiles(ctx)
	if err != nil {
		log.WithError(err).Warn("collector: auth-files fetch failed, degrading to inferred attribution")
		authFiles = nil
	}

	summary := c.attrib.Aggregate(doc, authFiles, now)
	if err := c.store.UpsertCredentialSummary(ctx, summary); err != nil {
		log.WithError(err).Error("collector: credential summary upsert failed")
	}

	if err := c.rlEngine.Sync(ctx, now); err != nil {
		log.WithError(err).Error("collector: rate limit sync failed")
	}

	log.WithFields(log.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
		"credentials": summary.TotalCredential,
		"api_keys":    summary.TotalAPIKeys,
	}).Info("collector: tick complete")
}

func marshalDoc(doc *model.UsageDoc) ([]byte, error) {
	return json.Marshal(doc)
}

// SyncCredentialsOnly runs only the credential aggregation step,
// backing the /credential-stats/sync trigger (§6).
func (c *Collector) SyncCredentialsOnly(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "collector", "credential_sync")
	defer span.End()

	now := time.Now()
	doc, err := c.fetcher.FetchUsage(ctx)
	if err != nil {
		return err
	}
	authFiles, err := c.fetcher.FetchAuthFiles(ctx)
	if err != nil {
		log.WithError(err).Warn("collector: auth-files fetch failed, degrading to inferred attribution")
		authFiles = nil
	}
	summary := c.attrib.Aggregate(doc, authFiles, now)
	return c.store.UpsertCredentialSummary(ctx, summary)
}
