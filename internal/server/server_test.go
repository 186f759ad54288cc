package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cliproxy-dash/usage-collector/internal/attribution"
	"github.com/cliproxy-dash/usage-collector/internal/collector"
	"github.com/cliproxy-dash/usage-collector/internal/delta"
	"github.com/cliproxy-dash/usage-collector/internal/fetcher"
	"github.com/cliproxy-dash/usage-collector/internal/pricing"
	"github.com/cliproxy-dash/usage-collector/internal/ratelimit"
	"github.com/cliproxy-dash/usage-collector/internal/store/memstore"
)

func newTestDeps() Dependencies {
	st := memstore.New()
	f := fetcher.New("http://example.invalid", "test-key")
	resolver := pricing.NewResolver(nil)
	c := collector.New(f, resolver, delta.New(st, resolver, time.UTC), ratelimit.New(st, time.UTC), attribution.New(), st, time.UTC)
	return Dependencies{Collector: c, ManagementKey: "secret"}
}

func TestHealthz(t *testing.T) {
	r := New(newTestDeps())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTrigger_RequiresManagementKey(t *testing.T) {
	r := New(newTestDeps())

	req := httptest.NewRequest(http.MethodPost, "/api/collector/trigger", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTrigger_AcceptsValidKey(t *testing.T) {
	r := New(newTestDeps())

	req := httptest.NewRequest(http.MethodPost, "/api/collector/trigger", nil)
	req.Header.Set("X-Management-Key", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}
