package delta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cliproxy-dash/usage-collector/internal/model"
	"github.com/cliproxy-dash/usage-collector/internal/pricing"
	"github.com/cliproxy-dash/usage-collector/internal/store/memstore"
)

func docWithModel(totalReq, totalTok int64, model_ string, input, output int64) *model.UsageDoc {
	details := make([]model.UsageDetail, 0)
	if input > 0 || output > 0 {
		details = append(details, model.UsageDetail{
			Tokens: model.TokenCounts{InputTokens: input, OutputTokens: output, TotalTokens: input + output},
		})
	}
	return &model.UsageDoc{
		TotalRequests: totalReq,
		SuccessCount:  totalReq,
		TotalTokens:   totalTok,
		Apis: map[string]model.ApiKeyUsage{
			"default": {
				Models: map[string]model.ModelUsage{
					model_: {TotalRequests: totalReq, TotalTokens: totalTok, Details: details},
				},
			},
		},
	}
}

func TestTick_FreshStart(t *testing.T) {
	st := memstore.New()
	resolver := pricing.NewResolver(nil)
	eng := New(st, resolver, time.UTC)

	doc := docWithModel(1000, 50_000, "gemini-2.5-flash", 40_000, 10_000)
	now := time.Date(2023, 10, 23, 10, 0, 0, 0, time.UTC)
	require.NoError(t, eng.Tick(context.Background(), doc, nil, now))

	stat, ok, err := st.DailyStat(context.Background(), "2023-10-23")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1000, stat.TotalRequests)
	require.EqualValues(t, 50_000, stat.TotalTokens)
	require.InDelta(t, 0.006, stat.EstimatedCostUS.USD(), 1e-6)
	require.Len(t, stat.Breakdown.Models, 1)
}

func TestTick_TwoSnapshotsSameDay(t *testing.T) {
	st := memstore.New()
	resolver := pricing.NewResolver(nil)
	eng := New(st, resolver, time.UTC)

	now := time.Date(2023, 10, 23, 10, 0, 0, 0, time.UTC)
	doc1 := docWithModel(1000, 50_000, "gemini-2.5-flash", 40_000, 10_000)
	require.NoError(t, eng.Tick(context.Background(), doc1, nil, now))

	now2 := now.Add(time.Minute)
	doc2 := docWithModel(1500, 70_000, "gemini-2.5-flash", 48_000, 12_000)
	require.NoError(t, eng.Tick(context.Background(), doc2, nil, now2))

	stat, ok, err := st.DailyStat(context.Background(), "2023-10-23")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1500, stat.TotalRequests)
	require.EqualValues(t, 70_000, stat.TotalTokens)
}

func TestTick_RestartDetected(t *testing.T) {
	st := memstore.New()
	resolver := pricing.NewResolver(nil)
	eng := New(st, resolver, time.UTC)

	now := time.Date(2023, 10, 23, 10, 0, 0, 0, time.UTC)
	doc1 := docWithModel(1000, 50_000, "gemini-2.5-flash", 40_000, 10_000)
	require.NoError(t, eng.Tick(context.Background(), doc1, nil, now))

	now2 := now.Add(time.Minute)
	doc2 := docWithModel(200, 10_000, "gemini-2.5-flash", 8_000, 2_000)
	require.NoError(t, eng.Tick(context.Background(), doc2, nil, now2))

	stat, ok, err := st.DailyStat(context.Background(), "2023-10-23")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1200, stat.TotalRequests)
}
