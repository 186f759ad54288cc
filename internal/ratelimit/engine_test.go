package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cliproxy-dash/usage-collector/internal/model"
	"github.com/cliproxy-dash/usage-collector/internal/store/memstore"
)

func TestProcessConfig_WeeklyExpiredAnchor(t *testing.T) {
	st := memstore.New()
	eng := New(st, time.UTC)

	anchor := time.Date(2023, 10, 22, 12, 0, 0, 0, time.UTC)
	cfg := model.RateLimitConfig{
		ID:                   1,
		ModelPattern:         "gemini",
		ResetStrategy:        model.ResetWeekly,
		ResetAnchorTimestamp: &anchor,
	}
	now := time.Date(2023, 10, 25, 10, 0, 0, 0, time.UTC) // Wednesday

	require.NoError(t, eng.processConfig(context.Background(), cfg, now))

	status, ok := st.RateLimitStatusFor(1)
	require.True(t, ok)
	require.Equal(t, time.Date(2023, 10, 23, 0, 0, 0, 0, time.UTC), status.WindowStart)
}

func TestCalculateUsage_DataGapInterpolation(t *testing.T) {
	st := memstore.New()
	eng := New(st, time.UTC)

	rows := []model.ModelUsageRow{
		{ModelName: "gemini-2.5-flash", TotalTokens: 1000, CreatedAt: time.Date(2023, 10, 21, 23, 0, 0, 0, time.UTC)},
		{ModelName: "gemini-2.5-flash", TotalTokens: 5000, CreatedAt: time.Date(2023, 10, 23, 3, 0, 0, 0, time.UTC)},
		{ModelName: "gemini-2.5-flash", TotalTokens: 6000, CreatedAt: time.Date(2023, 10, 23, 5, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, st.InsertModelUsageRows(context.Background(), rows))

	// gap = first_inner(Mon 03:00) - baseline(Sat 23:00) = 28h.
	// ratio = (window_start(Mon 00:00) - baseline) / gap = 25h / 28h ≈ 0.8929.
	// synth baseline ≈ 1000 + 0.8929*(5000-1000) ≈ 4571; usage = latest(6000) - synth ≈ 1429.
	windowStart := time.Date(2023, 10, 23, 0, 0, 0, 0, time.UTC)
	tokens, _, err := eng.calculateUsage(context.Background(), "gemini", windowStart)
	require.NoError(t, err)
	require.InDelta(t, 1429, tokens, 1)
}

func TestCalculateUsage_NoData(t *testing.T) {
	st := memstore.New()
	eng := New(st, time.UTC)

	tokens, requests, err := eng.calculateUsage(context.Background(), "nonexistent", time.Now())
	require.NoError(t, err)
	require.Zero(t, tokens)
	require.Zero(t, requests)
}
