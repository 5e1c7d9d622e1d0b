package localstore

import (
	"time"

	"pos-sync-service/internal/backend"
)

// CachedRecord is the generic envelope for one locally mirrored row.
type CachedRecord struct {
	Table       string    `db:"tbl" json:"table"`
	ID          string    `db:"id" json:"id"`
	Payload     []byte    `db:"payload" json:"payload"`
	LastUpdated time.Time `db:"last_updated" json:"lastUpdated"`
}

// TransactionItem is one line of a POS sale.
type TransactionItem struct {
	ProductID string  `json:"productId"`
	VariantID string  `json:"variantId,omitempty"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OfflineTransaction is a completed POS sale captured while the primary
// backend was unreachable. The id is client-generated and stable across
// retries so the backend can deduplicate.
type OfflineTransaction struct {
	ID              string            `db:"id" json:"id"`
	Items           []TransactionItem `json:"items"`
	Total           float64           `db:"total" json:"total"`
	PaymentMethod   string            `db:"payment_method" json:"paymentMethod"`
	Timestamp       time.Time         `db:"created_at" json:"timestamp"`
	Synced          bool              `db:"synced" json:"synced"`
	SyncAttempts    int               `db:"sync_attempts" json:"syncAttempts"`
	SyncError       string            `db:"sync_error" json:"syncError,omitempty"`
	LastSyncAttempt *time.Time        `db:"last_sync_attempt" json:"lastSyncAttempt,omitempty"`
}

// SyncStatus is the process-wide sync snapshot surfaced to the UI. It is
// recomputed on demand, never persisted.
type SyncStatus struct {
	IsOnline      bool       `json:"isOnline"`
	IsSyncing     bool       `json:"isSyncing"`
	UnsyncedCount int        `json:"unsyncedCount"`
	LastSyncTime  *time.Time `json:"lastSyncTime,omitempty"`
}

// BackupSnapshot is a point-in-time export of every mirrored table.
// Immutable once written.
type BackupSnapshot struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	CreatedAt   time.Time                `json:"createdAt"`
	TableCount  int                      `json:"tableCount"`
	RecordCount int                      `json:"recordCount"`
	SizeBytes   int64                    `json:"sizeBytes"`
	Tables      []string                 `json:"tables"`
	Data        map[string][]backend.Row `json:"data,omitempty"`
}

// SyncHistory records one replication pass for operator diagnosis.
type SyncHistory struct {
	ID           string     `db:"id" json:"id"`
	StartedAt    time.Time  `db:"started_at" json:"startedAt"`
	CompletedAt  *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	Direction    string     `db:"direction" json:"direction"`
	TablesSynced int        `db:"tables_synced" json:"tablesSynced"`
	RowsSynced   int64      `db:"rows_synced" json:"rowsSynced"`
	Status       string     `db:"status" json:"status"`
	ErrorMessage string     `db:"error_message" json:"errorMessage,omitempty"`
}
