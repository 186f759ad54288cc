// Package ratelimit computes the current window's usage and status for
// each configured rate limit (§4.3), robust against data gaps and
// manual reset anchors via baseline interpolation.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cliproxy-dash/usage-collector/internal/model"
	"github.com/cliproxy-dash/usage-collector/internal/store"
)

// gapThreshold is the literal 1800-second bound past which a data gap
// between the baseline and the first in-window sample is treated as
// crossing the window boundary, requiring interpolation rather than a
// direct subtraction (§4.3 step 4).
const gapThreshold = 1800 * time.Second

// Engine computes RateLimitStatus rows for every configured
// RateLimitConfig.
type Engine struct {
	store    store.Store
	location *time.Location
}

// New builds an Engine. location determines daily/weekly window
// boundaries (TIMEZONE_OFFSET_HOURS).
func New(st store.Store, location *time.Location) *Engine {
	if location == nil {
		location = time.UTC
	}
	return &Engine{store: st, location: location}
}

// Sync recomputes and upserts status for every active config. Per-config
// failures are isolated and logged so one bad config cannot prevent the
// rest from updating.
func (e *Engine) Sync(ctx context.Context, now time.Time) error {
	configs, err := e.store.RateLimitConfigs(ctx)
	if err != nil {
		return fmt.Errorf("ratelimit: fetch configs: %w", err)
	}
	if len(configs) == 0 {
		return nil
	}

	for _, cfg := range configs {
		if err := e.processConfig(ctx, cfg, now); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"config_id":     cfg.ID,
				"model_pattern": cfg.ModelPattern,
			}).Error("ratelimit: failed to process config")
		}
	}
	return nil
}

func (e *Engine) processConfig(ctx context.Context, cfg model.RateLimitConfig, now time.Time) error {
	nowLocal := now.In(e.location)

	var windowStart, nextReset time.Time
	switch cfg.ResetStrategy {
	case model.ResetDaily:
		windowStart = truncateToDay(nowLocal)
		nextReset = windowStart.AddDate(0, 0, 1)
	case model.ResetWeekly:
		startOfToday := truncateToDay(nowLocal)
		daysSinceMonday := int(startOfToday.Weekday()+6) % 7 // Monday = 0
		windowStart = startOfToday.AddDate(0, 0, -daysSinceMonday)
		nextReset = windowStart.AddDate(0, 0, 7)
	case model.ResetRolling:
		windowStart = nowLocal.Add(-time.Duration(cfg.WindowMinutes) * time.Minute)
		nextReset = nowLocal.Add(time.Minute)
	default:
		return fmt.Errorf("unsupported reset strategy %q", cfg.ResetStrategy)
	}

	calculatedWindowStart := windowStart
	if cfg.ResetAnchorTimestamp != nil && cfg.ResetAnchorTimestamp.After(calculatedWindowStart) {
		windowStart = *cfg.ResetAnchorTimestamp
	}

	usedTokens, usedRequests, err := e.calculateUsage(ctx, cfg.ModelPattern, windowStart)
	if err != nil {
		return fmt.Errorf("calculate usage: %w", err)
	}

	status := buildStatus(cfg, usedTokens, usedRequests, windowStart, nextReset, now)
	if err := e.store.UpsertRateLimitStatus(ctx, status); err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func buildStatus(cfg model.RateLimitConfig, usedTokens, usedRequests int64, windowStart, nextReset, now time.Time) model.RateLimitStatus {
	var label string
	percentage := 100.0
	var remTokens, remRequests int64

	switch {
	case cfg.TokenLimit > 0:
		remTokens = cfg.TokenLimit - usedTokens
		if remTokens < 0 {
			remTokens = 0
		}
		percentage = float64(remTokens) / float64(cfg.TokenLimit) * 100
		label = fmt.Sprintf("%s/%s Tokens", formatThousands(usedTokens), formatThousands(cfg.TokenLimit))
	case cfg.RequestLimit > 0:
		remRequests = cfg.RequestLimit - usedRequests
		if remRequests < 0 {
			remRequests = 0
		}
		percentage = float64(remRequests) / float64(cfg.RequestLimit) * 100
		label = fmt.Sprintf("%s/%s Requests", formatThousands(usedRequests), formatThousands(cfg.RequestLimit))
	default:
		label = fmt.Sprintf("Used: %sT / %sR", formatThousands(usedTokens), formatThousands(usedRequests))
	}

	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	return model.RateLimitStatus{
		ConfigID:          cfg.ID,
		WindowStart:       windowStart,
		NextReset:         nextReset,
		UsedTokens:        usedTokens,
		UsedRequests:      usedRequests,
		RemainingTokens:   remTokens,
		RemainingRequests: remRequests,
		StatusLabel:       label,
		Percentage:        percentage,
		LastUpdated:       now,
	}
}

func formatThousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
