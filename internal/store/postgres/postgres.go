// Package postgres implements internal/store.Store against a Postgres
// database reachable via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"github.com/cliproxy-dash/usage-collector/internal/migrations"
	"github.com/cliproxy-dash/usage-collector/internal/model"
)

const defaultTimeout = 5 * time.Second

// Store is a Postgres-backed implementation of store.Store.
type Store struct {
	db *sql.DB
}

// New opens a connection pool against dsn, verifies connectivity, and
// tunes pool limits the way the rest of the stack's Postgres clients do.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info("connected to postgres store")
	return &Store{db: db}, nil
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	if err := migrations.PostgresUp(s.db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultTimeout)
}

func (s *Store) InsertSnapshot(ctx context.Context, snap model.Snapshot) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_snapshots (raw_doc, total_requests, success_count, failure_count, total_tokens, cumulative_cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, snap.RawDoc, snap.TotalRequests, snap.SuccessCount, snap.FailureCount, snap.TotalTokens, int64(snap.CumulativeCostUSD)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateSnapshotCost(ctx context.Context, id int64, cumulativeCostUSD model.Micros) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE usage_snapshots SET cumulative_cost_usd = $2 WHERE id = $1`, id, int64(cumulativeCostUSD))
	if err != nil {
		return fmt.Errorf("update snapshot cost: %w", err)
	}
	return nil
}

func (s *Store) scanSnapshot(row *sql.Row) (model.Snapshot, bool, error) {
	var snap model.Snapshot
	var cost int64
	err := row.Scan(&snap.ID, &snap.CollectedAt, &snap.RawDoc, &snap.TotalRequests, &snap.SuccessCount, &snap.FailureCount, &snap.TotalTokens, &cost)
	if err == sql.ErrNoRows {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}
	snap.CumulativeCostUSD = model.Micros(cost)
	return snap, true, nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (model.Snapshot, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, collected_at, raw_doc, total_requests, success_count, failure_count, total_tokens, cumulative_cost_usd
		FROM usage_snapshots ORDER BY collected_at DESC LIMIT 1
	`)
	snap, ok, err := s.scanSnapshot(row)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, ok, nil
}

func (s *Store) PrecedingSnapshot(ctx context.Context, id int64) (model.Snapshot, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, collected_at, raw_doc, total_requests, success_count, failure_count, total_tokens, cumulative_cost_usd
		FROM usage_snapshots
		WHERE collected_at < (SELECT collected_at FROM usage_snapshots WHERE id = $1)
		ORDER BY collected_at DESC LIMIT 1
	`, id)
	snap, ok, err := s.scanSnapshot(row)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("preceding snapshot: %w", err)
	}
	return snap, ok, nil
}

func (s *Store) InsertModelUsageRows(ctx context.Context, rows []model.ModelUsageRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO model_usage (snapshot_id, model_name, api_endpoint, request_count, input_tokens, output_tokens, total_tokens, estimated_cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare model_usage insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.SnapshotID, row.ModelName, row.APIEndpoint, row.RequestCount, row.InputTokens, row.OutputTokens, row.TotalTokens, int64(row.EstimatedCostUS)); err != nil {
			return fmt.Errorf("insert model_usage row: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) queryModelUsageRows(ctx context.Context, query string, args ...interface{}) ([]model.ModelUsageRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ModelUsageRow
	for rows.Next() {
		var row model.ModelUsageRow
		var cost int64
		if err := rows.Scan(&row.SnapshotID, &row.ModelName, &row.APIEndpoint, &row.RequestCount, &row.InputTokens, &row.OutputTokens, &row.TotalTokens, &cost, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.EstimatedCostUS = model.Micros(cost)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) ModelUsageRowsForSnapshot(ctx context.Context, snapshotID int64) ([]model.ModelUsageRow, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.queryModelUsageRows(ctx, `
		SELECT snapshot_id, model_name, api_endpoint, request_count, input_tokens, output_tokens, total_tokens, estimated_cost_usd, created_at
		FROM model_usage WHERE snapshot_id = $1
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("model usage rows for snapshot: %w", err)
	}
	return rows, nil
}

func (s *Store) ModelUsageRowsMatching(ctx context.Context, pattern string) ([]model.ModelUsageRow, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.queryModelUsageRows(ctx, `
		SELECT snapshot_id, model_name, api_endpoint, request_count, input_tokens, output_tokens, total_tokens, estimated_cost_usd, created_at
		FROM model_usage WHERE model_name ILIKE '%' || $1 || '%' ORDER BY created_at ASC
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("model usage rows matching: %w", err)
	}
	return rows, nil
}

func (s *Store) UpsertDailyStat(ctx context.Context, stat model.DailyStat) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	breakdown, err := json.Marshal(stat.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (stat_date, total_requests, success_count, failure_count, total_tokens, estimated_cost_usd, breakdown, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (stat_date)
		DO UPDATE SET total_requests = EXCLUDED.total_requests,
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			total_tokens = EXCLUDED.total_tokens,
			estimated_cost_usd = EXCLUDED.estimated_cost_usd,
			breakdown = EXCLUDED.breakdown,
			updated_at = now()
	`, stat.StatDate, stat.TotalRequests, stat.SuccessCount, stat.FailureCount, stat.TotalTokens, int64(stat.EstimatedCostUS), breakdown)
	if err != nil {
		return fmt.Errorf("upsert daily stat: %w", err)
	}
	return nil
}

func (s *Store) DailyStat(ctx context.Context, date string) (model.DailyStat, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var stat model.DailyStat
	var cost int64
	var breakdown []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT stat_date, total_requests, success_count, failure_count, total_tokens, estimated_cost_usd, breakdown
		FROM daily_stats WHERE stat_date = $1
	`, date).Scan(&stat.StatDate, &stat.TotalRequests, &stat.SuccessCount, &stat.FailureCount, &stat.TotalTokens, &cost, &breakdown)
	if err == sql.ErrNoRows {
		return model.DailyStat{}, false, nil
	}
	if err != nil {
		return model.DailyStat{}, false, fmt.Errorf("daily stat: %w", err)
	}
	stat.EstimatedCostUS = model.Micros(cost)
	if err := json.Unmarshal(breakdown, &stat.Breakdown); err != nil {
		return model.DailyStat{}, false, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	return stat, true, nil
}

func (s *Store) UpsertCredentialSummary(ctx context.Context, summary model.CredentialSummary) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	credsJSON, err := json.Marshal(summary.Credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	keysJSON, err := json.Marshal(summary.APIKeys)
	if err != nil {
		return fmt.Errorf("marshal api_keys: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credential_usage_summary (id, credentials, api_keys, synced_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id)
		DO UPDATE SET credentials = EXCLUDED.credentials, api_keys = EXCLUDED.api_keys, synced_at = now()
	`, credsJSON, keysJSON)
	if err != nil {
		return fmt.Errorf("upsert credential summary: %w", err)
	}
	return nil
}

func (s *Store) RateLimitConfigs(ctx context.Context) ([]model.RateLimitConfig, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, model_pattern, window_minutes, reset_strategy, token_limit, request_limit, reset_anchor_timestamp
		FROM rate_limit_configs
	`)
	if err != nil {
		return nil, fmt.Errorf("rate limit configs: %w", err)
	}
	defer rows.Close()

	var out []model.RateLimitConfig
	for rows.Next() {
		var cfg model.RateLimitConfig
		var strategy string
		var anchor sql.NullTime
		if err := rows.Scan(&cfg.ID, &cfg.ModelPattern, &cfg.WindowMinutes, &strategy, &cfg.TokenLimit, &cfg.RequestLimit, &anchor); err != nil {
			return nil, fmt.Errorf("scan rate limit config: %w", err)
		}
		cfg.ResetStrategy = model.ResetStrategy(strategy)
		if anchor.Valid {
			t := anchor.Time
			cfg.ResetAnchorTimestamp = &t
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRateLimitStatus(ctx context.Context, status model.RateLimitStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limit_status (config_id, window_start, next_reset, used_tokens, used_requests, remaining_tokens, remaining_requests, status_label, percentage, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (config_id)
		DO UPDATE SET window_start = EXCLUDED.window_start,
			next_reset = EXCLUDED.next_reset,
			used_tokens = EXCLUDED.used_tokens,
			used_requests = EXCLUDED.used_requests,
			remaining_tokens = EXCLUDED.remaining_tokens,
			remaining_requests = EXCLUDED.remaining_requests,
			status_label = EXCLUDED.status_label,
			percentage = EXCLUDED.percentage,
			last_updated = now()
	`, status.ConfigID, status.WindowStart, status.NextReset, status.UsedTokens, status.UsedRequests, status.RemainingTokens, status.RemainingRequests, status.StatusLabel, status.Percentage)
	if err != nil {
		return fmt.Errorf("upsert rate limit status: %w", err)
	}
	return nil
}
