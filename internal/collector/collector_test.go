package collector

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
	"github.com/cliproxy-dash/usage-collector/internal/delta"
	"github.com/cliproxy-dash/usage-collector/internal/fetcher"
	"github.com/cliproxy-dash/usage-collector/internal/model"
	"github.com/cliproxy-dash/usage-collector/internal/pricing"
	"github.com/cliproxy-dash/usage-collector/internal/ratelimit"
	"github.com/cliproxy-dash/usage-collector/internal/store/memstore"
)

func newTestCollector(t *testing.T, usageCalls *int64) (*Collector, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/management/usage":
			atomic.AddInt64(usageCalls, 1)
			doc := model.UsageDoc{
				Apis: map[string]model.ApiKeyUsage{
					"key1": {
						Models: map[string]model.ModelUsage{
							"gemini-2.5-flash": {
								Details: []model.UsageDetail{
									{Tokens: model.TokenCounts{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
								},
							},
						},
					},
				},
			}
			_ = json.NewEncoder(w).Encode(doc)
		case "/v0/management/auth-files":
			_ = json.NewEncoder(w).Encode(model.AuthFilesResponse{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	st := memstore.New()
	f := fetcher.New(srv.URL, "test-key")
	resolver := pricing.NewResolver(nil)
	deltaEngine := delta.New(st, resolver, time.UTC)
	rlEngine := ratelimit.New(st, time.UTC)
	attrib := attribution.New()

	return New(f, resolver, deltaEngine, rlEngine, attrib, st, time.UTC), srv
}

func TestRequestTick_CoalescesWhileRunning(t *testing.T) {
	var usageCalls int64
	c, srv := newTestCollector(t, &usageCalls)
	defer srv.Close()

	ctx := context.Background()
	c.RequestTick(ctx)
	c.RequestTick(ctx)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.running
	}, 5*time.Second, 10*time.Millisecond)

	require.GreaterOrEqual(t, atomic.LoadInt64(&usageCalls), int64(2))
}

func TestSyncCredentialsOnly(t *testing.T) {
	var usageCalls int64
	c, srv := newTestCollector(t, &usageCalls)
	defer srv.Close()

	err := c.SyncCredentialsOnly(context.Background())
	require.NoError(t, err)
}
