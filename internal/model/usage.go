// Package model defines the data types shared across the collector: the
// loosely-typed documents fetched from the upstream proxy and the
// structured rows persisted into the store.
package model

// Micros represents a USD amount in fixed-precision micro-dollars
// (1 Micros = 1e-6 USD). All cost arithmetic in the collector is done in
// this integer representation to avoid floating point drift across many
// accumulating ticks; float64 is only used at the JSON/API boundary.
type Micros int64

// MicrosFromUSD converts a floating point USD amount into Micros.
func MicrosFromUSD(usd float64) Micros {
	return Micros(usd * 1e6)
}

// USD converts Micros back into a floating point USD amount for display
// and JSON marshalling.
func (m Micros) USD() float64 {
	return float64(m) / 1e6
}

// TokenCounts mirrors the nested token breakdown reported per request.
type TokenCounts struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
	CachedTokens    int64 `json:"cached_tokens"`
	TotalTokens     int64 `json:"total_tokens"`
}

// UsageDetail is one request-level entry inside a model's details array.
// The details array is append-only between proxy restarts; a restart
// truncates it back to empty.
type UsageDetail struct {
	AuthIndex string      `json:"auth_index"`
	Source    string      `json:"source"`
	Failed    bool        `json:"failed"`
	Tokens    TokenCounts `json:"tokens"`
}

// ModelUsage is the per-model bucket inside one api_key's usage map.
type ModelUsage struct {
	TotalRequests int64         `json:"total_requests"`
	TotalTokens   int64         `json:"total_tokens"`
	Details       []UsageDetail `json:"details"`
}

// ApiKeyUsage is the per-api_key bucket inside the UsageDoc.
type ApiKeyUsage struct {
	Models map[string]ModelUsage `json:"models"`
}

// UsageDoc is the transient, loosely-typed document returned by the
// upstream proxy's management usage endpoint. All counters are
// cumulative since proxy start and monotonically non-decreasing between
// restarts. Decoding is permissive: missing fields default to zero
// values rather than erroring, since the upstream document shape is not
// guaranteed to be stable.
type UsageDoc struct {
	TotalRequests int64                  `json:"total_requests"`
	SuccessCount  int64                  `json:"success_count"`
	FailureCount  int64                  `json:"failure_count"`
	TotalTokens   int64                  `json:"total_tokens"`
	Apis          map[string]ApiKeyUsage `json:"apis"`
}

// AuthFile is one entry in the credential catalog returned by the
// upstream proxy's auth-files endpoint.
type AuthFile struct {
	AuthIndex   string `json:"auth_index"`
	Provider    string `json:"provider"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	Status      string `json:"status"`
	AccountType string `json:"account_type"`
}

// AuthFilesResponse wraps the auth-files endpoint's top-level envelope.
type AuthFilesResponse struct {
	Files []AuthFile `json:"files"`
}
