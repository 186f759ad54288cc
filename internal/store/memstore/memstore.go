// Package memstore is an in-process implementation of store.Store used
// by unit tests in place of a live Postgres instance, following the
// same RWMutex-guarded-map idiom the rest of the stack uses for
// in-memory state.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cliproxy-dash/usage-collector/internal/model"
)

// Store is a goroutine-safe, in-memory store.Store implementation.
type Store struct {
	mu sync.RWMutex

	snapshots    []model.Snapshot
	modelRows    []model.ModelUsageRow
	dailyStats   map[string]model.DailyStat
	credSummary  model.CredentialSummary
	rlConfigs    []model.RateLimitConfig
	rlStatus     map[int64]model.RateLimitStatus
	nextSnapID   int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		dailyStats: make(map[string]model.DailyStat),
		rlStatus:   make(map[int64]model.RateLimitStatus),
	}
}

// SeedRateLimitConfigs lets tests install configs directly, mirroring
// the table an operator would populate out of band in Postgres.
func (s *Store) SeedRateLimitConfigs(configs []model.RateLimitConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rlConfigs = append([]model.RateLimitConfig(nil), configs...)
}

func (s *Store) InsertSnapshot(_ context.Context, snap model.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSnapID++
	snap.ID = s.nextSnapID
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = time.Now().UTC()
	}
	s.snapshots = append(s.snapshots, snap)
	return snap.ID, nil
}

func (s *Store) UpdateSnapshotCost(_ context.Context, id int64, cumulativeCostUSD model.Micros) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.snapshots {
		if s.snapshots[i].ID == id {
			s.snapshots[i].CumulativeCostUSD = cumulativeCostUSD
			return nil
		}
	}
	return nil
}

func (s *Store) LatestSnapshot(_ context.Context) (model.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return model.Snapshot{}, false, nil
	}
	latest := s.snapshots[0]
	for _, snap := range s.snapshots[1:] {
		if snap.CollectedAt.After(latest.CollectedAt) {
			latest = snap
		}
	}
	return latest, true, nil
}

func (s *Store) PrecedingSnapshot(_ context.Context, id int64) (model.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var target model.Snapshot
	found := false
	for _, snap := range s.snapshots {
		if snap.ID == id {
			target = snap
			found = true
			break
		}
	}
	if !found {
		return model.Snapshot{}, false, nil
	}

	var best model.Snapshot
	hasBest := false
	for _, snap := range s.snapshots {
		if snap.ID == id {
			continue
		}
		if !snap.CollectedAt.Before(target.CollectedAt) {
			continue
		}
		if !hasBest || snap.CollectedAt.After(best.CollectedAt) {
			best = snap
			hasBest = true
		}
	}
	return best, hasBest, nil
}

func (s *Store) InsertModelUsageRows(_ context.Context, rows []model.ModelUsageRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		s.modelRows = append(s.modelRows, row)
	}
	return nil
}

func (s *Store) ModelUsageRowsForSnapshot(_ context.Context, snapshotID int64) ([]model.ModelUsageRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ModelUsageRow
	for _, row := range s.modelRows {
		if row.SnapshotID == snapshotID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Store) ModelUsageRowsMatching(_ context.Context, pattern string) ([]model.ModelUsageRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(pattern)
	var out []model.ModelUsageRow
	for _, row := range s.modelRows {
		if strings.Contains(strings.ToLower(row.ModelName), needle) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpsertDailyStat(_ context.Context, stat model.DailyStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dailyStats[stat.StatDate] = stat
	return nil
}

func (s *Store) DailyStat(_ context.Context, date string) (model.DailyStat, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stat, ok := s.dailyStats[date]
	return stat, ok, nil
}

func (s *Store) UpsertCredentialSummary(_ context.Context, summary model.CredentialSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credSummary = summary
	return nil
}

// CredentialSummary exposes the last written summary, used by tests.
func (s *Store) CredentialSummary() model.CredentialSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credSummary
}

func (s *Store) RateLimitConfigs(_ context.Context) ([]model.RateLimitConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.RateLimitConfig(nil), s.rlConfigs...), nil
}

func (s *Store) UpsertRateLimitStatus(_ context.Context, status model.RateLimitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rlStatus[status.ConfigID] = status
	return nil
}

// RateLimitStatusFor exposes the last written status for a config,
// used by tests.
func (s *Store) RateLimitStatusFor(configID int64) (model.RateLimitStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.rlStatus[configID]
	return status, ok
}
