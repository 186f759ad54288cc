package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cliproxy-dash/usage-collector/internal/model"
)

type counterPair struct {
	tokens   int64
	requests int64
}

// snapshotMap aggregates, per model name, the rows whose CreatedAt
// equals exactly t (one model_usage insert batch can carry multiple
// models at the same timestamp).
func snapshotMap(rows []model.ModelUsageRow, t time.Time) map[string]counterPair {
	out := make(map[string]counterPair)
	for _, r := range rows {
		if !r.CreatedAt.Equal(t) {
			continue
		}
		c := out[r.ModelName]
		c.tokens += r.TotalTokens
		c.requests += r.RequestCount
		out[r.ModelName] = c
	}
	return out
}

func interpolate(baseline, firstInner map[string]counterPair, ratio float64) map[string]counterPair {
	names := make(map[string]struct{}, len(baseline)+len(firstInner))
	for name := range baseline {
		names[name] = struct{}{}
	}
	for name := range firstInner {
		names[name] = struct{}{}
	}

	out := make(map[string]counterPair, len(names))
	for name := range names {
		b, hasB := baseline[name]
		inner, hasInner := firstInner[name]
		if !hasInner {
			inner = b
		}
		_ = hasB
		out[name] = counterPair{
			tokens:   b.tokens + int64(ratio*float64(inner.tokens-b.tokens)+0.5),
			requests: b.requests + int64(ratio*float64(inner.requests-b.requests)+0.5),
		}
	}
	return out
}

func deltaFromMaps(current, baseline map[string]counterPair) (tokens int64, requests int64) {
	for name, cur := range current {
		base := baseline[name]
		if d := cur.tokens - base.tokens; d > 0 {
			tokens += d
		}
		if d := cur.requests - base.requests; d > 0 {
			requests += d
		}
	}
	return tokens, requests
}

// calculateUsage implements §4.3's "usage in window" algorithm: find the
// latest, first-inner, and baseline samples for pattern, then decide
// between an optimistic delta (no baseline), a direct baseline delta, or
// an interpolated delta across a detected data gap.
func (e *Engine) calculateUsage(ctx context.Context, pattern string, windowStart time.Time) (usedTokens, usedRequests int64, err error) {
	rows, err := e.store.ModelUsageRowsMatching(ctx, pattern)
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}

	latest := rows[0]
	for _, r := range rows {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}

	if latest.CreatedAt.Before(windowStart) {
		return 0, 0, nil
	}

	var firstInner *model.ModelUsageRow
	var baseline *model.ModelUsageRow
	for i := range rows {
		r := rows[i]
		if !r.CreatedAt.Before(windowStart) {
			if firstInner == nil || r.CreatedAt.Before(firstInner.CreatedAt) {
				firstInner = &rows[i]
			}
		} else {
			if baseline == nil || r.CreatedAt.After(baseline.CreatedAt) {
				baseline = &rows[i]
			}
		}
	}

	currentMap := snapshotMap(rows, latest.CreatedAt)

	if baseline == nil {
		if firstInner == nil {
			return 0, 0, nil
		}
		log.Warn("ratelimit: no snapshot before window, using optimistic first-inner baseline")
		baselineMap := snapshotMap(rows, firstInner.CreatedAt)
		tokens, requests := deltaFromMaps(currentMap, baselineMap)
		return tokens, requests, nil
	}

	if firstInner != nil {
		gap := firstInner.CreatedAt.Sub(baseline.CreatedAt)
		if gap > gapThreshold {
			log.WithFields(log.Fields{
				"gap_seconds": gap.Seconds(),
				"pattern":     pattern,
			}).Info("ratelimit: data gap crosses window boundary, interpolating baseline")
			span := gap.Seconds()
			if span <= 0 {
				span = 1
			}
			ratio := windowStart.Sub(baseline.CreatedAt).Seconds() / span
			if ratio < 0 {
				ratio = 0
			}
			if ratio > 1 {
				ratio = 1
			}
			baselineMap := snapshotMap(rows, baseline.CreatedAt)
			firstInnerMap := snapshotMap(rows, firstInner.CreatedAt)
			synthetic := interpolate(baselineMap, firstInnerMap, ratio)
			tokens, requests := deltaFromMaps(currentMap, synthetic)
			return tokens, requests, nil
		}
	}

	baselineMap := snapshotMap(rows, baseline.CreatedAt)
	tokens, requests := deltaFromMaps(currentMap, baselineMap)
	return tokens, requests, nil
}
