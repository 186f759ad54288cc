// Package attribution implements per-credential and per-API-key usage
// aggregation from the nested usage document, with weak identity
// resolution and heuristic fallback attribution (§4.4).
package attribution

import (
	"sort"
	"strings"
	"time"

	"github.com/cliproxy-dash/usage-collector/internal/model"
)

type credentialAgg struct {
	info     model.AuthFile
	hasInfo  bool
	total    int64
	success  int64
	failure  int64
	tokens   model.TokenCounts
	apiKeys  map[string]struct{}
	models   map[string]model.ModelBreakdown
}

type apiKeyAgg struct {
	total       int64
	success     int64
	failure     int64
	tokens      model.TokenCounts
	credentials map[string]struct{}
	models      map[string]model.ModelBreakdown
}

// Aggregator walks UsageDoc.Apis[*].Models[*].Details and builds the
// CredentialSummary emitted each tick.
type Aggregator struct{}

// New builds an Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Aggregate resolves credential identity per detail entry and produces
// two sequences sorted by total_requests descending.
func (a *Aggregator) Aggregate(doc *model.UsageDoc, authFiles []model.AuthFile, now time.Time) model.CredentialSummary {
	byAuthIndex := make(map[string]model.AuthFile)
	byName := make(map[string]model.AuthFile)
	for _, f := range authFiles {
		if f.AuthIndex != "" {
			byAuthIndex[f.AuthIndex] = f
		}
		if f.Name != "" {
			byName[f.Name] = f
		}
	}

	creds := make(map[string]*credentialAgg)
	apiKeys := make(map[string]*apiKeyAgg)

	if doc != nil {
		for apiKeyName, apiUsage := range doc.Apis {
			ak, ok := apiKeys[apiKeyName]
			if !ok {
				ak = &apiKeyAgg{credentials: make(map[string]struct{}), models: make(map[string]model.ModelBreakdown)}
				apiKeys[apiKeyName] = ak
			}

			for modelName, m := range apiUsage.Models {
				for _, d := range m.Details {
					credKey := d.AuthIndex
					if credKey == "" {
						credKey = d.Source
					}
					if credKey == "" {
						credKey = "unknown"
					}

					cred, ok := creds[credKey]
					if !ok {
						cred = &credentialAgg{apiKeys: make(map[string]struct{}), models: make(map[string]model.ModelBreakdown)}
						creds[credKey] = cred
					}
					if !cred.hasInfo {
						cred.info = resolveCredential(d.AuthIndex, d.Source, byAuthIndex, byName)
						cred.hasInfo = true
					}

					cred.total++
					ak.total++
					if d.Failed {
						cred.failure++
						ak.failure++
					} else {
						cred.success++
						ak.success++
					}
					cred.tokens.InputTokens += d.Tokens.InputTokens
					cred.tokens.OutputTokens += d.Tokens.OutputTokens
					cred.tokens.ReasoningTokens += d.Tokens.ReasoningTokens
					cred.tokens.CachedTokens += d.Tokens.CachedTokens
					cred.tokens.TotalTokens += d.Tokens.TotalTokens
					cred.apiKeys[apiKeyName] = struct{}{}

					cm := cred.models[modelName]
					cm.Requests++
					cm.Tokens += d.Tokens.TotalTokens
					cm.InputTokens += d.Tokens.InputTokens
					cm.OutputTokens += d.Tokens.OutputTokens
					cred.models[modelName] = cm

					ak.tokens.InputTokens += d.Tokens.InputTokens
					ak.tokens.OutputTokens += d.Tokens.OutputTokens
					ak.tokens.TotalTokens += d.Tokens.TotalTokens
					ak.credentials[credKey] = struct{}{}

					akm := ak.models[modelName]
					akm.Requests++
					akm.Tokens += d.Tokens.TotalTokens
					ak.models[modelName] = akm
				}
			}
		}
	}

	credStats := make([]model.CredStat, 0, len(creds))
	for key, cred := range creds {
		authIndex := cred.info.AuthIndex
		if authIndex == "" {
			authIndex = key
		}
		rate := 0.0
		if cred.total > 0 {
			rate = round1(float64(cred.success) / float64(cred.total) * 100)
		}
		apiKeyList := make([]string, 0, len(cred.apiKeys))
		for k := range cred.apiKeys {
			apiKeyList = append(apiKeyList, k)
		}
		sort.Strings(apiKeyList)

		credStats = append(credStats, model.CredStat{
			AuthIndex:     authIndex,
			Provider:      cred.info.Provider,
			Email:         cred.info.Email,
			TotalRequests: cred.total,
			SuccessCount:  cred.success,
			FailureCount:  cred.failure,
			Tokens:        cred.tokens,
			SuccessRate:   rate,
			APIKeys:       apiKeyList,
			Models:        cred.models,
		})
	}
	sort.Slice(credStats, func(i, j int) bool { return credStats[i].TotalRequests > credStats[j].TotalRequests })

	apiKeyStats := make([]model.ApiKeyStat, 0, len(apiKeys))
	for name, ak := range apiKeys {
		rate := 0.0
		if ak.total > 0 {
			rate = round1(float64(ak.success) / float64(ak.total) * 100)
		}
		credList := make([]string, 0, len(ak.credentials))
		for k := range ak.credentials {
			credList = append(credList, k)
		}
		sort.Strings(credList)

		apiKeyStats = append(apiKeyStats, model.ApiKeyStat{
			APIKey:        name,
			TotalRequests: ak.total,
			SuccessCount:  ak.success,
			FailureCount:  ak.failure,
			Tokens:        ak.tokens,
			SuccessRate:   rate,
			Credentials:   credList,
			Models:        ak.models,
		})
	}
	sort.Slice(apiKeyStats, func(i, j int) bool { return apiKeyStats[i].TotalRequests > apiKeyStats[j].TotalRequests })

	return model.CredentialSummary{
		Credentials:     credStats,
		APIKeys:         apiKeyStats,
		TotalCredential: len(credStats),
		TotalAPIKeys:    len(apiKeyStats),
		SyncedAt:        now,
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// resolveCredential implements §4.4's identity resolution: exact
// auth_index match, then source-as-filename match, then heuristic
// inference from the source string's shape.
func resolveCredential(authIndex, source string, byAuthIndex, byName map[string]model.AuthFile) model.AuthFile {
	if authIndex != "" {
		if f, ok := byAuthIndex[authIndex]; ok {
			return f
		}
	}
	if source != "" {
		if f, ok := byName[source]; ok {
			return f
		}
	}

	provider := "unknown"
	email := source
	if email == "" {
		email = authIndex
	}
	if email == "" {
		email = "unknown"
	}

	if source != "" {
		s := strings.ToLower(source)
		switch {
		case strings.HasPrefix(s, "aizasy") || strings.Contains(s, "googleapis"):
			provider = "gemini-api-key"
			email = truncate(source, 20) + "..."
		case strings.HasSuffix(s, ".json"):
			trimmed := strings.TrimSuffix(s, ".json")
			if idx := strings.Index(trimmed, "-"); idx >= 0 {
				provider = trimmed[:idx]
				email = strings.ReplaceAll(trimmed[idx+1:], "_", ".")
			}
		case strings.Contains(source, "@"):
			provider = "oauth"
			email = source
		case strings.Contains(source, "=") || len(source) > 40:
			provider = "api-key"
			email = truncate(source, 20) + "..."
		}
	}

	return model.AuthFile{
		AuthIndex:   authIndex,
		Provider:    provider,
		Email:       email,
		Name:        source,
		Label:       email,
		Status:      "active",
		AccountType: "inferred",
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
