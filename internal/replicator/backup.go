package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-sync-service/internal/backend"
	"pos-sync-service/internal/localstore"
	"pos-sync-service/internal/logger"
)

// CreateBackup exports every configured table from the primary backend into
// a snapshot file. Snapshots are immutable once written.
func (s *Service) CreateBackup(ctx context.Context, name string) (*localstore.BackupSnapshot, error) {
	if !s.primary.Reachable(ctx) {
		return nil, fmt.Errorf("primary backend not reachable")
	}

	snapshot := &localstore.BackupSnapshot{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Data:      make(map[string][]backend.Row),
	}
	if snapshot.Name == "" {
		snapshot.Name = "backup-" + snapshot.CreatedAt.Format("20060102-150405")
	}

	for _, spec := range s.registry.Ordered() {
		rows, err := s.primary.Select(ctx, spec.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", spec.Name, err)
		}
		snapshot.Tables = append(snapshot.Tables, spec.Name)
		snapshot.Data[spec.Name] = rows
		snapshot.RecordCount += len(rows)
	}
	snapshot.TableCount = len(snapshot.Tables)

	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	snapshot.SizeBytes = int64(len(encoded))

	// re-encode so the stored copy carries SizeBytes
	encoded, err = json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}
	path := filepath.Join(s.backupDir, snapshot.ID+".json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}

	logger.Log.Info("Backup created",
		zap.String("id", snapshot.ID),
		zap.String("name", snapshot.Name),
		zap.Int("tables", snapshot.TableCount),
		zap.Int("records", snapshot.RecordCount),
	)
	return snapshot, nil
}

// ListBackups returns snapshot metadata, newest first, without row data.
func (s *Service) ListBackups() ([]localstore.BackupSnapshot, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup dir: %w", err)
	}

	var out []localstore.BackupSnapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		snap, err := s.loadBackup(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			logger.Log.Warn("Skipping unreadable backup file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		snap.Data = nil
		out = append(out, *snap)
	}

	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// RestoreBackup upserts every record of a snapshot into the chosen backend
// ("primary" or "cloud"), tables in dependency order.
func (s *Service) RestoreBackup(ctx context.Context, id, target string) Result {
	snap, err := s.loadBackup(id)
	if err != nil {
		return Result{Errors: []string{err.Error()}}
	}

	var store backend.Store
	switch target {
	case "", "primary":
		store = s.primary
	case "cloud":
		store = s.cloud
	default:
		return Result{Errors: []string{fmt.Sprintf("unknown restore target %q", target)}}
	}
	if !store.Reachable(ctx) {
		return Result{Errors: []string{fmt.Sprintf("%s backend not reachable", target)}}
	}

	var result Result
	for _, spec := range s.registry.Ordered() {
		rows, ok := snap.Data[spec.Name]
		if !ok || len(rows) == 0 {
			continue
		}
		if err := store.Upsert(ctx, spec.Name, rows); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", spec.Name, err))
			continue
		}
		result.Synced += len(rows)
	}
	result.Success = len(result.Errors) == 0

	logger.Log.Info("Backup restored",
		zap.String("id", id),
		zap.String("target", target),
		zap.Int("records", result.Synced),
		zap.Strings("errors", result.Errors),
	)
	return result
}

func (s *Service) loadBackup(id string) (*localstore.BackupSnapshot, error) {
	path := filepath.Join(s.backupDir, filepath.Base(id)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %s: %w", id, err)
	}
	var snap localstore.BackupSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", id, err)
	}
	return &snap, nil
}
