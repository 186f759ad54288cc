// Package delta implements the snapshot-to-day reconciliation engine:
// turning monotonically increasing cumulative counters reported by the
// upstream proxy into restart-safe, false-start-safe daily increments
// and a self-healing per-day breakdown.
package delta

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/cliproxy-dash/usage-collector/internal/model"
	"github.com/cliproxy-dash/usage-collector/internal/pricing"
	"github.com/cliproxy-dash/usage-collector/internal/store"
)

// falseStartCostThreshold and falseStartMatchThreshold are the literal
// USD bounds from the source algorithm: a per-key delta above the first
// threshold whose distance from its own cumulative cost is below the
// second is judged to be a newly-visible credential surfacing its
// entire history at once, rather than a real increment.
const (
	falseStartCostThreshold  = 10 * 1_000_000  // $10 in Micros
	falseStartMatchThreshold = 0.1 * 1_000_000 // $0.10 in Micros
)

// Engine drives one tick of the delta-and-reconciliation algorithm
// (§4.2).
type Engine struct {
	store    store.Store
	pricing  *pricing.Resolver
	location *time.Location
}

// New builds an Engine. location determines which calendar day a tick's
// increments are attributed to (TIMEZONE_OFFSET_HOURS).
func New(st store.Store, resolver *pricing.Resolver, location *time.Location) *Engine {
	if location == nil {
		location = time.UTC
	}
	return &Engine{store: st, pricing: resolver, location: location}
}

type modelKeyDelta struct {
	modelName string
	endpoint  string
	dReq      int64
	dTok      int64
	dCost     model.Micros
	dIn       int64
	dOut      int64
}

func keyOf(modelName, endpoint string) string {
	return modelName + "|" + endpoint
}

// Tick runs the full §4.2 algorithm against one freshly fetched
// UsageDoc, in doc order: insert snapshot, insert model rows, compute
// global and per-key deltas, filter false starts, merge into the day's
// breakdown, self-heal totals, and upsert.
func (e *Engine) Tick(ctx context.Context, doc *model.UsageDoc, rawDoc []byte, now time.Time) error {
	if doc == nil {
		return fmt.Errorf("delta: nil usage doc")
	}

	type modelRecord struct {
		apiEndpoint string
		modelName   string
		requests    int64
		totalTokens int64
		inputTok    int64
		outputTok   int64
		cost        model.Micros
	}

	var records []modelRecord
	var totalCost model.Micros
	for apiKey, apiUsage := range doc.Apis {
		for modelName, m := range apiUsage.Models {
			var inTok, outTok int64
			for _, d := range m.Details {
				inTok += d.Tokens.InputTokens
				outTok += d.Tokens.OutputTokens
			}
			price := e.pricing.PriceOf(modelName)
			cost := model.MicrosFromUSD(pricing.Cost(inTok, outTok, price))
			totalCost += cost
			records = append(records, modelRecord{
				apiEndpoint: apiKey,
				modelName:   modelName,
				requests:    m.TotalRequests,
				totalTokens: m.TotalTokens,
				inputTok:    inTok,
				outputTok:   outTok,
				cost:        cost,
			})
		}
	}

	lastCostTotal := model.Micros(0)
	if latest, ok, err := e.store.LatestSnapshot(ctx); err != nil {
		return fmt.Errorf("read latest snapshot: %w", err)
	} else if ok {
		lastCostTotal = latest.CumulativeCostUSD
	}

	if patched, err := sjson.SetBytes(rawDoc, "collected_at", now.In(e.location).Format(time.RFC3339)); err == nil {
		rawDoc = patched
	} else {
		log.WithError(err).Warn("delta: failed to stamp collected_at on raw doc, storing unpatched")
	}

	snap := model.Snapshot{
		RawDoc:            rawDoc,
		TotalRequests:     doc.TotalRequests,
		SuccessCount:      doc.SuccessCount,
		FailureCount:      doc.FailureCount,
		TotalTokens:       doc.TotalTokens,
		CumulativeCostUSD: lastCostTotal,
	}
	snapID, err := e.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	var rows []model.ModelUsageRow
	for _, r := range records {
		rows = append(rows, model.ModelUsageRow{
			SnapshotID:      snapID,
			ModelName:       r.modelName,
			APIEndpoint:     r.apiEndpoint,
			RequestCount:    r.requests,
			InputTokens:     r.inputTok,
			OutputTokens:    r.outputTok,
			TotalTokens:     r.totalTokens,
			EstimatedCostUS: r.cost,
			CreatedAt:       now,
		})
	}
	if err := e.store.InsertModelUsageRows(ctx, rows); err != nil {
		return fmt.Errorf("insert model usage rows: %w", err)
	}

	cumulativeCost := lastCostTotal + totalCost
	if err := e.store.UpdateSnapshotCost(ctx, snapID, cumulativeCost); err != nil {
		return fmt.Errorf("update snapshot cost: %w", err)
	}

	prevSnap, hasPrev, err := e.store.PrecedingSnapshot(ctx, snapID)
	if err != nil {
		return fmt.Errorf("read preceding snapshot: %w", err)
	}

	var incRequests, incSuccess, incFailure, incTokens int64
	var incCost model.Micros

	if hasPrev {
		incRequests = doc.TotalRequests - prevSnap.TotalRequests
		incSuccess = doc.SuccessCount - prevSnap.SuccessCount
		incFailure = doc.FailureCount - prevSnap.FailureCount
		incTokens = doc.TotalTokens - prevSnap.TotalTokens
		incCost = cumulativeCost - prevSnap.CumulativeCostUSD

		if incRequests < 0 || incTokens < 0 {
			log.WithFields(log.Fields{
				"prev_requests": prevSnap.TotalRequests,
				"curr_requests": doc.TotalRequests,
			}).Warn("delta: proxy restart detected")
			incRequests = doc.TotalRequests
			incSuccess = doc.SuccessCount
			incFailure = doc.FailureCount
			incTokens = doc.TotalTokens
			incCost = totalCost
		}
	} else {
		incRequests = doc.TotalRequests
		incSuccess = doc.SuccessCount
		incFailure = doc.FailureCount
		incTokens = doc.TotalTokens
		incCost = totalCost
	}

	breakdownDeltas := model.NewBreakdown()

	if hasPrev {
		prevRows, err := e.store.ModelUsageRowsForSnapshot(ctx, prevSnap.ID)
		if err != nil {
			return fmt.Errorf("read preceding model rows: %w", err)
		}
		prevByKey := make(map[string]model.ModelUsageRow, len(prevRows))
		for _, r := range prevRows {
			ep := r.APIEndpoint
			if ep == "" {
				ep = "unknown"
			}
			prevByKey[keyOf(r.ModelName, ep)] = r
		}
		currByKey := make(map[string]model.ModelUsageRow, len(rows))
		for _, r := range rows {
			ep := r.APIEndpoint
			if ep == "" {
				ep = "unknown"
			}
			currByKey[keyOf(r.ModelName, ep)] = r
		}

		allKeys := make(map[string]struct{}, len(prevByKey)+len(currByKey))
		for k := range prevByKey {
			allKeys[k] = struct{}{}
		}
		for k := range currByKey {
			allKeys[k] = struct{}{}
		}

		for key := range allKeys {
			prev := prevByKey[key]
			curr := currByKey[key]

			dReq := curr.RequestCount - prev.RequestCount
			dTok := curr.TotalTokens - prev.TotalTokens
			dCost := curr.EstimatedCostUS - prev.EstimatedCostUS
			dIn := curr.InputTokens - prev.InputTokens
			dOut := curr.OutputTokens - prev.OutputTokens

			if dReq < 0 || dTok < 0 {
				dReq = curr.RequestCount
				dTok = curr.TotalTokens
				dCost = curr.EstimatedCostUS
				dIn = curr.InputTokens
				dOut = curr.OutputTokens
			}

			if int64(dCost) > falseStartCostThreshold {
				diff := dCost - curr.EstimatedCostUS
				if diff < 0 {
					diff = -diff
				}
				if int64(diff) < falseStartMatchThreshold {
					log.WithFields(log.Fields{
						"key":         key,
						"delta_cost":  dCost.USD(),
						"snapshot_id": snapID,
					}).Warn("delta: false start filtered out")
					incRequests -= dReq
					incTokens -= dTok
					incCost -= dCost
					continue
				}
			}

			if dReq > 0 || dCost > 0 {
				modelName := curr.ModelName
				endpoint := curr.APIEndpoint
				if modelName == "" {
					parts := strings.SplitN(key, "|", 2)
					modelName = parts[0]
					if len(parts) > 1 {
						endpoint = parts[1]
					}
				}
				if endpoint == "" {
					endpoint = "unknown"
				}
				mb := breakdownDeltas.Models[modelName]
				mb.Requests += dReq
				mb.Tokens += dTok
				mb.Cost += dCost
				mb.InputTokens += dIn
				mb.OutputTokens += dOut
				breakdownDeltas.Models[modelName] = mb

				eb, ok := breakdownDeltas.Endpoints[endpoint]
				if !ok {
					eb.Models = make(map[string]model.ModelBreakdown)
				}
				eb.Requests += dReq
				eb.Tokens += dTok
				eb.Cost += dCost
				nested := eb.Models[modelName]
				nested.Requests += dReq
				nested.Tokens += dTok
				nested.Cost += dCost
				eb.Models[modelName] = nested
				breakdownDeltas.Endpoints[endpoint] = eb
			}
		}
	} else {
		for _, r := range rows {
			modelName := r.ModelName
			endpoint := r.APIEndpoint
			if endpoint == "" {
				endpoint = "unknown"
			}
			mb := breakdownDeltas.Models[modelName]
			mb.Requests += r.RequestCount
			mb.Tokens += r.TotalTokens
			mb.Cost += r.EstimatedCostUS
			mb.InputTokens += r.InputTokens
			mb.OutputTokens += r.OutputTokens
			breakdownDeltas.Models[modelName] = mb

			eb, ok := breakdownDeltas.Endpoints[endpoint]
			if !ok {
				eb.Models = make(map[string]model.ModelBreakdown)
			}
			eb.Requests += r.RequestCount
			eb.Tokens += r.TotalTokens
			eb.Cost += r.EstimatedCostUS
			nested := eb.Models[modelName]
			nested.Requests += r.RequestCount
			nested.Tokens += r.TotalTokens
			nested.Cost += r.EstimatedCostUS
			eb.Models[modelName] = nested
			breakdownDeltas.Endpoints[endpoint] = eb
		}
	}

	var safeIncCost model.Micros
	var safeIncTokens, safeIncRequests int64
	for _, mb := range breakdownDeltas.Models {
		safeIncCost += mb.Cost
		safeIncTokens += mb.Tokens
		safeIncRequests += mb.Requests
	}

	if hasPrev {
		if incRequests > 0 {
			ratio := float64(safeIncRequests) / float64(incRequests)
			if ratio < 0 {
				ratio = 0
			}
			if ratio > 1 {
				ratio = 1
			}
			if ratio < 0.99 {
				log.WithField("ratio", ratio).Warn("delta: adjusting success/failure for breakdown mismatch")
				incSuccess = int64(float64(incSuccess) * ratio)
				incFailure = int64(float64(incFailure) * ratio)
			}
		}
		incCost = safeIncCost
		incTokens = safeIncTokens
		incRequests = safeIncRequests
	}

	today := now.In(e.location).Format("2006-01-02")
	existing, found, err := e.store.DailyStat(ctx, today)
	if err != nil {
		return fmt.Errorf("read daily stat: %w", err)
	}
	if !found {
		existing = model.DailyStat{StatDate: today, Breakdown: model.NewBreakdown()}
	}
	if existing.Breakdown.Models == nil {
		existing.Breakdown.Models = make(map[string]model.ModelBreakdown)
	}
	if existing.Breakdown.Endpoints == nil {
		existing.Breakdown.Endpoints = make(map[string]model.EndpointBreakdown)
	}

	for name, d := range breakdownDeltas.Models {
		cur := existing.Breakdown.Models[name]
		cur.Requests += d.Requests
		cur.Tokens += d.Tokens
		cur.Cost += d.Cost
		cur.InputTokens += d.InputTokens
		cur.OutputTokens += d.OutputTokens
		existing.Breakdown.Models[name] = cur
	}
	for name, d := range breakdownDeltas.Endpoints {
		cur, ok := existing.Breakdown.Endpoints[name]
		if !ok {
			cur.Models = make(map[string]model.ModelBreakdown)
		}
		cur.Requests += d.Requests
		cur.Tokens += d.Tokens
		cur.Cost += d.Cost
		for mName, mData := range d.Models {
			nested := cur.Models[mName]
			nested.Requests += mData.Requests
			nested.Tokens += mData.Tokens
			nested.Cost += mData.Cost
			cur.Models[mName] = nested
		}
		existing.Breakdown.Endpoints[name] = cur
	}

	existing.SuccessCount += incSuccess
	existing.FailureCount += incFailure

	var healedCost model.Micros
	var healedTokens, healedRequests int64
	for _, mb := range existing.Breakdown.Models {
		healedCost += mb.Cost
		healedTokens += mb.Tokens
		healedRequests += mb.Requests
	}
	existing.TotalRequests = healedRequests
	existing.TotalTokens = healedTokens
	existing.EstimatedCostUS = healedCost
	existing.StatDate = today

	if err := e.store.UpsertDailyStat(ctx, existing); err != nil {
		return fmt.Errorf("upsert daily stat: %w", err)
	}

	log.WithFields(log.Fields{
		"snapshot_id":  snapID,
		"inc_requests": incRequests,
		"daily_total":  existing.TotalRequests,
		"daily_cost":   existing.EstimatedCostUS.USD(),
	}).Info("delta: tick stored")

	return nil
}
