package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const llmPricesURL = "https://www.llm-prices.com/current-v1.json"

const remoteTTL = time.Hour

// l2Cache is the narrow surface the resolver needs from an optional
// Redis-backed overlay cache; see RedisCache for the concrete
// implementation.
type l2Cache interface {
	Load(ctx context.Context) (map[string]Price, bool)
	Store(ctx context.Context, prices map[string]Price)
}

// Resolver merges a built-in price table with a cached remote overlay
// fetched from llm-prices.com, resolving per-model prices with exact,
// substring, then default fallback. Fetch failures are silently
// tolerated since the built-in table is always usable.
type Resolver struct {
	httpClient *http.Client

	mu         sync.Mutex
	remote     map[string]Price
	fetchedAt  time.Time
	l2         l2Cache
}

// NewResolver builds a Resolver. l2 may be nil to disable the optional
// Redis-backed overlay cache.
func NewResolver(l2 l2Cache) *Resolver {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Resolver{
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		l2:         l2,
	}
}

// remotePriceEntry mirrors one element of llm-prices.com's response.
type remotePriceEntry struct {
	ID     string   `json:"id"`
	Input  *float64 `json:"input"`
	Output *float64 `json:"output"`
	Vendor string   `json:"vendor"`
}

type remotePricesResponse struct {
	Prices []remotePriceEntry `json:"prices"`
}

// Refresh fetches the remote price table if the cached copy is older
// than remoteTTL. Failures are logged and otherwise ignored: the
// resolver keeps serving its existing (possibly empty) overlay plus the
// built-in table.
func (r *Resolver) Refresh(ctx context.Context) {
	r.mu.Lock()
	fresh := r.remote != nil && time.Since(r.fetchedAt) < remoteTTL
	r.mu.Unlock()
	if fresh {
		return
	}

	if r.l2 != nil {
		if cached, ok := r.l2.Load(ctx); ok {
			r.mu.Lock()
			r.remote = cached
			r.fetchedAt = time.Now()
			r.mu.Unlock()
			return
		}
	}

	prices, err := r.fetchRemote(ctx)
	if err != nil {
		log.WithError(err).Warn("pricing: remote fetch failed, keeping built-in table")
		return
	}
	if len(prices) == 0 {
		return
	}

	r.mu.Lock()
	r.remote = prices
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	if r.l2 != nil {
		r.l2.Store(ctx, prices)
	}
}

func (r *Resolver) fetchRemote(ctx context.Context) (map[string]Price, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, llmPricesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var parsed remotePricesResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		out := make(map[string]Price, len(parsed.Prices))
		for _, item := range parsed.Prices {
			if item.ID == "" || item.Input == nil || item.Output == nil {
				continue
			}
			out[strings.ToLower(item.ID)] = Price{InputPerMillion: *item.Input, OutputPerMillion: *item.Output}
		}
		return out, nil
	}

	// The feed occasionally ships numeric fields as quoted strings; fall
	// back to gjson's permissive coercion rather than dropping the whole
	// refresh.
	log.Warn("pricing: strict decode of price feed failed, falling back to permissive parse")
	return parsePermissive(body), nil
}

func parsePermissive(body []byte) map[string]Price {
	entries := gjson.GetBytes(body, "prices").Array()
	out := make(map[string]Price, len(entries))
	for _, entry := range entries {
		id := entry.Get("id").String()
		inputField, outputField := entry.Get("input"), entry.Get("output")
		if id == "" || !inputField.Exists() || !outputField.Exists() {
			continue
		}
		if vendor := entry.Get("vendor").String(); vendor == "" {
			log.WithField("id", id).Debug("pricing: price entry missing vendor field")
		}
		out[strings.ToLower(id)] = Price{InputPerMillion: inputField.Float(), OutputPerMillion: outputField.Float()}
	}
	return out
}

// PriceOf resolves the input/output per-million rate for modelName.
// Lookup order: exact lowercase match in the remote overlay, then in
// the built-in table, then substring match (either direction) against
// every non-default key in either table, then the _default entry.
func (r *Resolver) PriceOf(modelName string) Price {
	name := strings.ToLower(strings.TrimSpace(modelName))

	r.mu.Lock()
	remote := r.remote
	r.mu.Unlock()

	if p, ok := remote[name]; ok {
		return p
	}
	if p, ok := builtin[name]; ok {
		return p
	}
	for pattern, p := range remote {
		if pattern == defaultKey {
			continue
		}
		if strings.Contains(pattern, name) || strings.Contains(name, pattern) {
			return p
		}
	}
	for pattern, p := range builtin {
		if pattern == defaultKey {
			continue
		}
		if strings.Contains(pattern, name) || strings.Contains(name, pattern) {
			return p
		}
	}
	if p, ok := remote[defaultKey]; ok {
		return p
	}
	return builtin[defaultKey]
}

// Cost computes the USD cost of inputTok/outputTok tokens at price p.
func Cost(inputTok, outputTok int64, p Price) float64 {
	return float64(inputTok)/1_000_000*p.InputPerMillion + float64(outputTok)/1_000_000*p.OutputPerMillion
}
