package replicator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pos-sync-service/internal/backend"
	"pos-sync-service/internal/localstore"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/netmode"
)

// checkpointName is the durable watermark key for incremental cloud sync.
const checkpointName = "cloud_sync"

// Result summarizes one replication pass. Failures never escape as errors;
// they are collected here per table.
type Result struct {
	Success bool     `json:"success"`
	Synced  int      `json:"synced"`
	Errors  []string `json:"errors"`
}

// Service mirrors the configured tables from the primary backend to the
// cloud backup backend on a timer, and pulls them back on demand. Both
// backends are peers behind the same Store interface; reconciliation is
// upsert-by-id, last write wins.
type Service struct {
	local    *localstore.Store
	primary  backend.Store
	cloud    backend.Store
	registry *backend.Registry
	observer netmode.Observer

	settleDelay time.Duration
	backupDir   string

	mu      sync.Mutex
	syncing bool

	cron  *cron.Cron
	unsub func()
}

func NewService(local *localstore.Store, primary, cloud backend.Store, registry *backend.Registry, observer netmode.Observer, backupDir string) *Service {
	return &Service{
		local:       local,
		primary:     primary,
		cloud:       cloud,
		registry:    registry,
		observer:    observer,
		settleDelay: 2 * time.Second,
		backupDir:   backupDir,
	}
}

// begin acquires the single-flight guard. A second trigger while a pass is
// in flight is a no-op.
func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return false
	}
	s.syncing = true
	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.syncing = false
	s.mu.Unlock()
}

// IsSyncing reports whether a replication pass is in flight.
func (s *Service) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// LastSyncTime returns the durable watermark, nil before the first
// successful pass.
func (s *Service) LastSyncTime() *time.Time {
	t, err := s.local.GetCheckpoint(checkpointName)
	if err != nil {
		logger.Log.Error("Failed to read sync watermark", zap.Error(err))
		return nil
	}
	return t
}

// SyncToCloud replicates rows changed since the watermark into the cloud
// backend, table by table in dependency order. One table's failure does not
// stop the rest. The watermark only advances after a pass with no errors,
// so a failed table's rows are retried from the same boundary next time.
func (s *Service) SyncToCloud(ctx context.Context) Result {
	if !s.begin() {
		return Result{Errors: []string{"sync already in progress"}}
	}
	defer s.end()

	if !s.observer.Online() {
		return Result{Errors: []string{"device offline"}}
	}
	if !s.cloud.Reachable(ctx) {
		return Result{Errors: []string{"cloud not reachable"}}
	}

	since, err := s.local.GetCheckpoint(checkpointName)
	if err != nil {
		logger.Log.Warn("Failed to read sync watermark, running full pass", zap.Error(err))
		since = nil
	}

	passStart := time.Now().UTC()
	hist := localstore.SyncHistory{
		ID:        uuid.New().String(),
		StartedAt: passStart,
		Direction: "to_cloud",
		Status:    "running",
	}
	if err := s.local.RecordHistory(hist); err != nil {
		logger.Log.Warn("Failed to record sync history", zap.Error(err))
	}

	result := s.copyTables(ctx, s.primary, s.cloud, since, &hist)

	if len(result.Errors) == 0 {
		result.Success = true
		if err := s.local.SetCheckpoint(checkpointName, passStart); err != nil {
			logger.Log.Error("Failed to advance sync watermark", zap.Error(err))
		}
	}

	s.finishHistory(&hist, result)
	logger.Log.Info("Cloud sync pass finished",
		zap.Bool("success", result.Success),
		zap.Int("synced", result.Synced),
		zap.Strings("errors", result.Errors),
	)
	return result
}

// SyncFromCloud pulls every configured table from the cloud backend in
// full and merges it into the primary, keeping whichever version of a row
// has the newer timestamp.
func (s *Service) SyncFromCloud(ctx context.Context) Result {
	if !s.begin() {
		return Result{Errors: []string{"sync already in progress"}}
	}
	defer s.end()

	if !s.observer.Online() {
		return Result{Errors: []string{"device offline"}}
	}
	if !s.cloud.Reachable(ctx) {
		return Result{Errors: []string{"cloud not reachable"}}
	}

	hist := localstore.SyncHistory{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Direction: "from_cloud",
		Status:    "running",
	}
	if err := s.local.RecordHistory(hist); err != nil {
		logger.Log.Warn("Failed to record sync history", zap.Error(err))
	}

	var result Result
	for _, spec := range s.registry.Ordered() {
		n, err := s.pullTable(ctx, spec)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", spec.Name, err))
			continue
		}
		result.Synced += n
		hist.TablesSynced++
		hist.RowsSynced += int64(n)
	}
	result.Success = len(result.Errors) == 0

	s.finishHistory(&hist, result)
	return result
}

func (s *Service) pullTable(ctx context.Context, spec backend.TableSpec) (int, error) {
	remote, err := s.cloud.Select(ctx, spec.Name, nil)
	if err != nil {
		return 0, err
	}
	if len(remote) == 0 {
		return 0, nil
	}

	existing, err := s.primary.Select(ctx, spec.Name, nil)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]backend.Row, len(existing))
	for _, row := range existing {
		if id, ok := backend.RowID(row, spec.PrimaryKey); ok {
			byID[id] = row
		}
	}

	lww := LastWriteWins{TimestampColumn: spec.TimestampColumn}
	var winners []backend.Row
	for _, row := range remote {
		id, ok := backend.RowID(row, spec.PrimaryKey)
		if !ok {
			continue
		}
		if local, found := byID[id]; found && !lww.RemoteWins(local, row) {
			continue
		}
		winners = append(winners, row)
	}

	if len(winners) == 0 {
		return 0, nil
	}
	if err := s.primary.Upsert(ctx, spec.Name, winners); err != nil {
		return 0, err
	}
	return len(winners), nil
}

func (s *Service) copyTables(ctx context.Context, from, to backend.Store, since *time.Time, hist *localstore.SyncHistory) Result {
	var result Result
	for _, spec := range s.registry.Ordered() {
		rows, err := from.Select(ctx, spec.Name, since)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", spec.Name, err))
			continue
		}
		if len(rows) > 0 {
			if err := to.Upsert(ctx, spec.Name, rows); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", spec.Name, err))
				continue
			}
		}
		result.Synced += len(rows)
		hist.TablesSynced++
		hist.RowsSynced += int64(len(rows))
	}
	return result
}

// ForceFullSync clears the watermark so the next pass copies every row,
// then restores the previous watermark if that pass failed. A failed forced
// sync must not lose the incremental checkpoint.
func (s *Service) ForceFullSync(ctx context.Context) Result {
	prev, err := s.local.GetCheckpoint(checkpointName)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("failed to read watermark: %v", err)}}
	}
	if err := s.local.ClearCheckpoint(checkpointName); err != nil {
		return Result{Errors: []string{fmt.Sprintf("failed to clear watermark: %v", err)}}
	}

	result := s.SyncToCloud(ctx)

	if !result.Success && prev != nil {
		if err := s.local.SetCheckpoint(checkpointName, *prev); err != nil {
			logger.Log.Error("Failed to restore sync watermark", zap.Error(err))
		}
	}
	return result
}

// StartAutoSync runs one pass immediately, then on the interval, and again
// shortly after each offline-to-online transition.
func (s *Service) StartAutoSync(interval time.Duration) {
	if s.cron != nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.SyncToCloud(context.Background())
	}); err != nil {
		logger.Log.Error("Failed to schedule cloud sync", zap.Error(err))
		return
	}
	s.cron.Start()

	s.unsub = s.observer.Subscribe(func(online bool) {
		if !online {
			return
		}
		time.AfterFunc(s.settleDelay, func() {
			s.SyncToCloud(context.Background())
		})
	})

	go s.SyncToCloud(context.Background())

	logger.Log.Info("Cloud auto-sync started", zap.Duration("interval", interval))
}

// StopAutoSync stops the schedule. An in-flight pass runs to completion;
// there is no mid-pass cancellation.
func (s *Service) StopAutoSync() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	logger.Log.Info("Cloud auto-sync stopped")
}

// History lists recent replication passes.
func (s *Service) History(limit int) ([]localstore.SyncHistory, error) {
	return s.local.ListHistory(limit)
}

func (s *Service) finishHistory(hist *localstore.SyncHistory, result Result) {
	now := time.Now().UTC()
	hist.CompletedAt = &now
	if result.Success {
		hist.Status = "completed"
	} else {
		hist.Status = "partial"
	}
	hist.ErrorMessage = strings.Join(result.Errors, "; ")
	if err := s.local.RecordHistory(*hist); err != nil {
		logger.Log.Warn("Failed to update sync history", zap.Error(err))
	}
}
