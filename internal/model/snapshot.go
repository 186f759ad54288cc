package model

import "time"

// Snapshot is one cumulative-counter sample persisted immutably once
// inserted. CumulativeCostUSD is the collector's own running sum, never
// reported by the upstream proxy.
type Snapshot struct {
	ID                int64
	CollectedAt       time.Time
	RawDoc            []byte
	TotalRequests     int64
	SuccessCount      int64
	FailureCount      int64
	TotalTokens       int64
	CumulativeCostUSD Micros
}

// ModelUsageRow is one (snapshot, model, endpoint) row, immutable once
// inserted.
type ModelUsageRow struct {
	SnapshotID      int64
	ModelName       string
	APIEndpoint     string
	RequestCount    int64
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	EstimatedCostUS Micros
	CreatedAt       time.Time
}

// ModelBreakdown is the per-model bucket inside a DailyStat's breakdown.
type ModelBreakdown struct {
	Requests     int64  `json:"requests"`
	Tokens       int64  `json:"tokens"`
	Cost         Micros `json:"cost"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// EndpointBreakdown is the per-endpoint bucket inside a DailyStat's
// breakdown, itself decomposed by model.
type EndpointBreakdown struct {
	Requests int64                     `json:"requests"`
	Tokens   int64                     `json:"tokens"`
	Cost     Micros                    `json:"cost"`
	Models   map[string]ModelBreakdown `json:"models"`
}

// Breakdown is the authoritative per-day decomposition used to
// self-heal DailyStat totals (§4.2 step 11).
type Breakdown struct {
	Models    map[string]ModelBreakdown    `json:"models"`
	Endpoints map[string]EndpointBreakdown `json:"endpoints"`
}

// NewBreakdown returns a zeroed Breakdown ready for merging.
func NewBreakdown() Breakdown {
	return Breakdown{
		Models:    make(map[string]ModelBreakdown),
		Endpoints: make(map[string]EndpointBreakdown),
	}
}

// DailyStat is the persisted, self-healing per-day aggregate, one row
// per stat_date.
type DailyStat struct {
	StatDate        string // YYYY-MM-DD, the upsert key
	TotalRequests   int64
	SuccessCount    int64
	FailureCount    int64
	TotalTokens     int64
	EstimatedCostUS Micros
	Breakdown       Breakdown
}

// CredStat is one credential's aggregated usage.
type CredStat struct {
	AuthIndex     string                    `json:"auth_index"`
	Provider      string                    `json:"provider"`
	Email         string                    `json:"email"`
	TotalRequests int64                     `json:"total_requests"`
	SuccessCount  int64                     `json:"success_count"`
	FailureCount  int64                     `json:"failure_count"`
	Tokens        TokenCounts               `json:"tokens"`
	SuccessRate   float64                   `json:"success_rate"`
	APIKeys       []string                  `json:"api_keys"`
	Models        map[string]ModelBreakdown `json:"models"`
}

// ApiKeyStat is one api_key's aggregated usage.
type ApiKeyStat struct {
	APIKey        string                    `json:"api_key"`
	TotalRequests int64                     `json:"total_requests"`
	SuccessCount  int64                     `json:"success_count"`
	FailureCount  int64                     `json:"failure_count"`
	Tokens        TokenCounts               `json:"tokens"`
	SuccessRate   float64                   `json:"success_rate"`
	Credentials   []string                  `json:"credentials"`
	Models        map[string]ModelBreakdown `json:"models"`
}

// CredentialSummary is the single-row (id=1), fully-replaced-each-tick
// output of the CredentialAggregator.
type CredentialSummary struct {
	Credentials     []CredStat   `json:"credentials"`
	APIKeys         []ApiKeyStat `json:"api_keys"`
	TotalCredential int          `json:"total_credentials"`
	TotalAPIKeys    int          `json:"total_api_keys"`
	SyncedAt        time.Time    `json:"synced_at"`
}

// ResetStrategy enumerates the RateLimitConfig's window regimes.
type ResetStrategy string

const (
	ResetDaily   ResetStrategy = "daily"
	ResetWeekly  ResetStrategy = "weekly"
	ResetRolling ResetStrategy = "rolling"
)

// RateLimitConfig describes one configured rate limit to track.
type RateLimitConfig struct {
	ID                    int64
	ModelPattern          string
	WindowMinutes         int64
	ResetStrategy         ResetStrategy
	TokenLimit            int64 // 0 means unset
	RequestLimit          int64 // 0 means unset
	ResetAnchorTimestamp *time.Time
}

// RateLimitStatus is the fully-replaced-each-tick computed status for
// one RateLimitConfig, one row per config_id.
type RateLimitStatus struct {
	ConfigID          int64
	WindowStart       time.Time
	NextReset         time.Time
	UsedTokens        int64
	UsedRequests      int64
	RemainingTokens   int64
	RemainingRequests int64
	StatusLabel       string
	Percentage        float64
	LastUpdated       time.Time
}
