// Package fetcher retrieves cumulative usage and credential-catalog
// documents from the upstream proxy's management API.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cliproxy-dash/usage-collector/internal/logging"
	"github.com/cliproxy-dash/usage-collector/internal/model"
)

const requestTimeout = 30 * time.Second

// Fetcher hits the upstream proxy's management endpoints. It carries
// its own rate limiter so a storm of manual /trigger calls cannot hammer
// the upstream proxy with concurrent fetches.
type Fetcher struct {
	baseURL       string
	managementKey string
	client        *http.Client
	limiter       *rate.Limiter
}

// New builds a Fetcher against baseURL, authenticating with
// managementKey. The limiter allows one fetch per second with a burst
// of 2, enough to absorb a trigger immediately following a scheduled
// tick without opening a flood of upstream connections.
func New(baseURL, managementKey string) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: requestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Fetcher{
		baseURL:       baseURL,
		managementKey: managementKey,
		client:        &http.Client{Transport: transport, Timeout: requestTimeout},
		limiter:       rate.NewLimiter(rate.Limit(1), 2),
	}
}

// FetchUsage retrieves the cumulative UsageDoc. A non-200 response or
// transport failure returns a nil doc and a non-nil error; the caller is
// expected to abort the tick in that case (§4.5).
func (f *Fetcher) FetchUsage(ctx context.Context) (*model.UsageDoc, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v0/management/usage", nil)
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.managementKey)

	resp, err := f.client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{"kind": logging.ErrorKind(0, true)}).WithError(err).Warn("fetcher: usage request failed")
		return nil, fmt.Errorf("usage request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"kind":   logging.ErrorKind(resp.StatusCode, true),
		}).Warn("fetcher: usage request non-200")
		return nil, fmt.Errorf("usage request: unexpected status %d", resp.StatusCode)
	}

	var doc model.UsageDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode usage doc: %w", err)
	}
	return &doc, nil
}

// FetchAuthFiles retrieves the credential catalog. Unlike FetchUsage, a
// failure here does not abort the tick: the catalog degrades to empty
// and credential aggregation falls back to inferred identity (§4.5,
// §7 auth-files-missing).
func (f *Fetcher) FetchAuthFiles(ctx context.Context) ([]model.AuthFile, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/v0/management/auth-files", nil)
	if err != nil {
		return nil, fmt.Errorf("build auth-files request: %w", err)
	}
	req.Header.Set("X-Management-Key", f.managementKey)

	resp, err := f.client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{"kind": logging.ErrorKind(0, true)}).WithError(err).Warn("fetcher: auth-files request failed")
		return nil, fmt.Errorf("auth-files request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"kind":   logging.ErrorKind(resp.StatusCode, true),
		}).Warn("fetcher: auth-files request non-200")
		return nil, fmt.Errorf("auth-files request: unexpected status %d", resp.StatusCode)
	}

	var parsed model.AuthFilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode auth-files: %w", err)
	}
	return parsed.Files, nil
}
