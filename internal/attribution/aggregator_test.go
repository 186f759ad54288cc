package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cliproxy-dash/usage-collector/internal/model"
)

func TestAggregate_AuthIndexMatch(t *testing.T) {
	doc := &model.UsageDoc{
		Apis: map[string]model.ApiKeyUsage{
			"key1": {
				Models: map[string]model.ModelUsage{
					"gemini-2.5-flash": {
						Details: []model.UsageDetail{
							{AuthIndex: "a1", Source: "ignored", Failed: false, Tokens: model.TokenCounts{TotalTokens: 100}},
							{AuthIndex: "a1", Source: "ignored", Failed: true, Tokens: model.TokenCounts{TotalTokens: 50}},
						},
					},
				},
			},
		},
	}
	authFiles := []model.AuthFile{{AuthIndex: "a1", Provider: "gemini", Email: "a@b.com"}}

	agg := New()
	summary := agg.Aggregate(doc, authFiles, time.Now())

	require.Len(t, summary.Credentials, 1)
	cred := summary.Credentials[0]
	require.Equal(t, "a1", cred.AuthIndex)
	require.Equal(t, "gemini", cred.Provider)
	require.EqualValues(t, 2, cred.TotalRequests)
	require.EqualValues(t, 1, cred.SuccessCount)
	require.EqualValues(t, 1, cred.FailureCount)
	require.Equal(t, 50.0, cred.SuccessRate)
}

func TestResolveCredential_GeminiAPIKeyHeuristic(t *testing.T) {
	info := resolveCredential("", "AIzaSyD-abcdefghijklmnopqrstuvwxyz", nil, nil)
	require.Equal(t, "gemini-api-key", info.Provider)
}

func TestResolveCredential_JSONFileHeuristic(t *testing.T) {
	info := resolveCredential("", "gemini-user_name.json", nil, nil)
	require.Equal(t, "gemini", info.Provider)
	require.Equal(t, "user.name", info.Email)
}

func TestResolveCredential_OAuthHeuristic(t *testing.T) {
	info := resolveCredential("", "someone@example.com", nil, nil)
	require.Equal(t, "oauth", info.Provider)
	require.Equal(t, "someone@example.com", info.Email)
}

func TestResolveCredential_APIKeyHeuristic(t *testing.T) {
	info := resolveCredential("", "sk-abcdefghijklmnopqrstuvwxyz0123456789ABCDE", nil, nil)
	require.Equal(t, "api-key", info.Provider)
}

func TestResolveCredential_Unknown(t *testing.T) {
	info := resolveCredential("", "short", nil, nil)
	require.Equal(t, "unknown", info.Provider)
}
