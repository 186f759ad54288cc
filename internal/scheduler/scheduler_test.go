package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cliproxy-dash/usage-collector/internal/attribution"
	"github.com/cliproxy-dash/usage-collector/internal/collector"
	"github.com/cliproxy-dash/usage-collector/internal/delta"
	"github.com/cliproxy-dash/usage-collector/internal/fetcher"
	"github.com/cliproxy-dash/usage-collector/internal/model"
	"github.com/cliproxy-dash/usage-collector/internal/pricing"
	"github.com/cliproxy-dash/usage-collector/internal/ratelimit"
	"github.com/cliproxy-dash/usage-collector/internal/store/memstore"
)

func TestRun_TicksUntilCancelled(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v0/management/usage" {
			atomic.AddInt64(&calls, 1)
		}
		_ = json.NewEncoder(w).Encode(model.UsageDoc{})
	}))
	defer srv.Close()

	st := memstore.New()
	f := fetcher.New(srv.URL, "test-key")
	resolver := pricing.NewResolver(nil)
	c := collector.New(f, resolver, delta.New(st, resolver, time.UTC), ratelimit.New(st, time.UTC), attribution.New(), st, time.UTC)

	s := New(c, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.Greater(t, atomic.LoadInt64(&calls), int64(0))
}
