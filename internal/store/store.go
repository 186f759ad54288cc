// Package store defines the logical persistence operations the
// collector's core needs, independent of backend. internal/store/postgres
// implements it against Postgres; internal/store/memstore implements it
// in-process for tests.
package store

import (
	"context"

	"github.com/cliproxy-dash/usage-collector/internal/model"
)

// Store is the full set of logical operations over the six persisted
// tables (§6: usage_snapshots, model_usage, daily_stats,
// credential_usage_summary, rate_limit_configs, rate_limit_status).
type Store interface {
	// InsertSnapshot inserts a new Snapshot and returns its assigned ID
	// and CollectedAt.
	InsertSnapshot(ctx context.Context, snap model.Snapshot) (id int64, err error)
	// UpdateSnapshotCost updates a previously inserted snapshot's
	// CumulativeCostUSD (§4.2 step 4).
	UpdateSnapshotCost(ctx context.Context, id int64, cumulativeCostUSD model.Micros) error
	// LatestSnapshot returns the most recently collected Snapshot, or
	// ok=false if none exist.
	LatestSnapshot(ctx context.Context) (snap model.Snapshot, ok bool, err error)
	// PrecedingSnapshot returns the snapshot immediately preceding id by
	// CollectedAt, or ok=false if id is the first snapshot.
	PrecedingSnapshot(ctx context.Context, id int64) (snap model.Snapshot, ok bool, err error)

	// InsertModelUsageRows inserts all per-(model,endpoint) rows for one
	// snapshot.
	InsertModelUsageRows(ctx context.Context, rows []model.ModelUsageRow) error
	// ModelUsageRowsForSnapshot returns every row recorded against
	// snapshotID.
	ModelUsageRowsForSnapshot(ctx context.Context, snapshotID int64) ([]model.ModelUsageRow, error)
	// ModelUsageRowsMatching returns every row whose model name matches
	// pattern (case-insensitive substring), ordered by CreatedAt
	// ascending, used by the RateLimitEngine's window scan.
	ModelUsageRowsMatching(ctx context.Context, pattern string) ([]model.ModelUsageRow, error)

	// UpsertDailyStat replaces the DailyStat row for stat.StatDate.
	UpsertDailyStat(ctx context.Context, stat model.DailyStat) error
	// DailyStat returns the stat for date, or ok=false if absent.
	DailyStat(ctx context.Context, date string) (stat model.DailyStat, ok bool, err error)

	// UpsertCredentialSummary replaces the single credential_usage_summary
	// row.
	UpsertCredentialSummary(ctx context.Context, summary model.CredentialSummary) error

	// RateLimitConfigs returns every configured rate limit.
	RateLimitConfigs(ctx context.Context) ([]model.RateLimitConfig, error)
	// UpsertRateLimitStatus replaces the status row for status.ConfigID.
	UpsertRateLimitStatus(ctx context.Context, status model.RateLimitStatus) error
}
