package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-sync-service/internal/backend"
	"pos-sync-service/internal/localstore"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/netmode"
)

// ErrSyncInProgress is the soft failure returned when a sync pass is
// triggered while another one is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncResult summarizes one outbox sync pass.
type SyncResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Service is the durable transaction outbox: sales captured while the
// primary backend is unreachable are queued here and flushed in insertion
// order on a timer and on reconnect.
type Service struct {
	local    *localstore.Store
	primary  backend.Store
	observer netmode.Observer
	table    string

	settleDelay time.Duration
	purgeAfter  time.Duration

	mu           sync.Mutex
	syncing      bool
	lastSyncTime *time.Time

	stopCh chan struct{}
	unsub  func()
	wg     sync.WaitGroup
}

func NewService(local *localstore.Store, primary backend.Store, observer netmode.Observer, table string, settleDelay, purgeAfter time.Duration) *Service {
	if table == "" {
		table = "pos_transactions"
	}
	if settleDelay <= 0 {
		settleDelay = 2 * time.Second
	}
	if purgeAfter <= 0 {
		purgeAfter = 168 * time.Hour
	}
	return &Service{
		local:       local,
		primary:     primary,
		observer:    observer,
		table:       table,
		settleDelay: settleDelay,
		purgeAfter:  purgeAfter,
	}
}

// Enqueue appends a transaction to the outbox. Pure local write, safe with
// no network present. A missing id is filled in; a missing timestamp gets
// the current time. Re-enqueueing an existing id is a no-op.
func (s *Service) Enqueue(tx localstore.OfflineTransaction) (localstore.OfflineTransaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	tx.Synced = false
	tx.SyncAttempts = 0
	tx.SyncError = ""

	if err := s.local.EnqueueTransaction(tx); err != nil {
		return tx, fmt.Errorf("failed to enqueue transaction: %w", err)
	}

	logger.Log.Info("Transaction queued for sync",
		zap.String("id", tx.ID),
		zap.Float64("total", tx.Total),
		zap.String("paymentMethod", tx.PaymentMethod),
	)
	return tx, nil
}

// SyncTransactions flushes unsynced transactions to the primary backend in
// insertion order. One failing transaction does not stop the rest; it is
// annotated and retried on the next pass. The backend write is an upsert by
// id, so retries can never duplicate a sale.
func (s *Service) SyncTransactions(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return SyncResult{}, ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if !s.observer.Online() {
		logger.Log.Debug("Skipping outbox sync, device offline")
		return SyncResult{}, nil
	}

	pending, err := s.local.UnsyncedTransactions()
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to read outbox: %w", err)
	}
	if len(pending) == 0 {
		return SyncResult{}, nil
	}

	var result SyncResult
	for _, tx := range pending {
		row, err := transactionRow(tx)
		if err == nil {
			err = s.primary.Upsert(ctx, s.table, []backend.Row{row})
		}
		if err != nil {
			result.Failed++
			if markErr := s.local.MarkSyncFailed(tx.ID, err.Error()); markErr != nil {
				logger.Log.Error("Failed to annotate sync failure",
					zap.String("id", tx.ID), zap.Error(markErr))
			}
			logger.Log.Warn("Transaction sync failed",
				zap.String("id", tx.ID),
				zap.Int("attempts", tx.SyncAttempts+1),
				zap.Error(err),
			)
			continue
		}
		result.Success++
		if err := s.local.MarkSynced(tx.ID); err != nil {
			logger.Log.Error("Failed to mark transaction synced",
				zap.String("id", tx.ID), zap.Error(err))
		}
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.lastSyncTime = &now
	s.mu.Unlock()

	if purged, err := s.local.PurgeSynced(s.purgeAfter); err != nil {
		logger.Log.Warn("Outbox purge failed", zap.Error(err))
	} else if purged > 0 {
		logger.Log.Debug("Purged synced transactions", zap.Int64("count", purged))
	}

	logger.Log.Info("Outbox sync pass finished",
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// StartAutoSync schedules periodic sync passes and an extra pass shortly
// after each offline-to-online transition. The settle delay keeps a
// flapping link from hammering the backend.
func (s *Service) StartAutoSync(interval time.Duration) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.unsub = s.observer.Subscribe(func(online bool) {
		if !online {
			return
		}
		timer := time.AfterFunc(s.settleDelay, func() {
			s.syncQuietly()
		})
		go func() {
			<-stopCh
			timer.Stop()
		}()
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.syncQuietly()
			case <-stopCh:
				return
			}
		}
	}()

	logger.Log.Info("Outbox auto-sync started", zap.Duration("interval", interval))
}

// StopAutoSync stops the timer and the reconnect trigger. An in-flight pass
// runs to completion.
func (s *Service) StopAutoSync() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.wg.Wait()
	logger.Log.Info("Outbox auto-sync stopped")
}

func (s *Service) syncQuietly() {
	if _, err := s.SyncTransactions(context.Background()); err != nil && !errors.Is(err, ErrSyncInProgress) {
		logger.Log.Error("Scheduled outbox sync failed", zap.Error(err))
	}
}

// Status recomputes the process-wide sync snapshot.
func (s *Service) Status() localstore.SyncStatus {
	count, err := s.local.UnsyncedCount()
	if err != nil {
		logger.Log.Error("Failed to count unsynced transactions", zap.Error(err))
		count = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return localstore.SyncStatus{
		IsOnline:      s.observer.Online(),
		IsSyncing:     s.syncing,
		UnsyncedCount: count,
		LastSyncTime:  s.lastSyncTime,
	}
}

// Unsynced lists the pending transactions with their attempt and error
// history for the operator view.
func (s *Service) Unsynced() ([]localstore.OfflineTransaction, error) {
	return s.local.UnsyncedTransactions()
}

// Clear drops the whole outbox. Administrative action only.
func (s *Service) Clear() error {
	return s.local.ClearOutbox()
}

func transactionRow(tx localstore.OfflineTransaction) (backend.Row, error) {
	items, err := json.Marshal(tx.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode items: %w", err)
	}
	return backend.Row{
		"id":             tx.ID,
		"items":          string(items),
		"total":          tx.Total,
		"payment_method": tx.PaymentMethod,
		"created_at":     tx.Timestamp.UTC().Format("2006-01-02 15:04:05"),
	}, nil
}
