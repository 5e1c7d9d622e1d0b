package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"pos-sync-service/internal/backend"
)

const schema = `
CREATE TABLE IF NOT EXISTS cached_records (
	tbl          TEXT NOT NULL,
	id           TEXT NOT NULL,
	payload      TEXT NOT NULL,
	last_updated INTEGER NOT NULL,
	PRIMARY KEY (tbl, id)
);
CREATE TABLE IF NOT EXISTS outbox (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL UNIQUE,
	items             TEXT NOT NULL,
	total             REAL NOT NULL,
	payment_method    TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	synced            INTEGER NOT NULL DEFAULT 0,
	sync_attempts     INTEGER NOT NULL DEFAULT 0,
	sync_error        TEXT NOT NULL DEFAULT '',
	last_sync_attempt INTEGER
);
CREATE TABLE IF NOT EXISTS checkpoints (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_history (
	id            TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	completed_at  INTEGER,
	direction     TEXT NOT NULL,
	tables_synced INTEGER NOT NULL,
	rows_synced   INTEGER NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
`

// Store is the on-device persistent store: mirrored reference tables, the
// transaction outbox, the replication watermark and the pass history. It is
// the only component that touches the SQLite file.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// SQLite handles one writer at a time; a larger pool just queues on
	// the busy handler.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create local store schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- Cached records -------------------------------------------------------

// SaveRecords merges rows into the cached copy of table, keyed by id.
// Existing rows with the same id are overwritten (last write wins).
func (s *Store) SaveRecords(table string, spec backend.TableSpec, rows []backend.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save %s: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO cached_records (tbl, id, payload, last_updated) VALUES (?, ?, ?, ?)
		ON CONFLICT (tbl, id) DO UPDATE SET payload = excluded.payload, last_updated = excluded.last_updated`)
	if err != nil {
		return fmt.Errorf("save %s: %w", table, err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, row := range rows {
		id, ok := backend.RowID(row, spec.PrimaryKey)
		if !ok {
			return fmt.Errorf("save %s: row is missing primary key %q", table, spec.PrimaryKey)
		}
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("save %s: %w", table, err)
		}
		if _, err := stmt.Exec(table, id, string(payload), now); err != nil {
			return fmt.Errorf("save %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ReplaceRecords drops the cached copy of table and writes rows as the new
// authoritative snapshot.
func (s *Store) ReplaceRecords(table string, spec backend.TableSpec, rows []backend.Row) error {
	if _, err := s.db.Exec(`DELETE FROM cached_records WHERE tbl = ?`, table); err != nil {
		return fmt.Errorf("replace %s: %w", table, err)
	}
	return s.SaveRecords(table, spec, rows)
}

// GetRecords reads the cached copy of table. Never hits the network.
func (s *Store) GetRecords(table string) ([]backend.Row, error) {
	rows, err := s.db.Query(`SELECT payload FROM cached_records WHERE tbl = ? ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", table, err)
	}
	defer rows.Close()

	var out []backend.Row
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("get %s: %w", table, err)
		}
		var row backend.Row
		if err := json.Unmarshal([]byte(payload), &row); err != nil {
			return nil, fmt.Errorf("get %s: %w", table, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountRecords returns the number of cached rows for table.
func (s *Store) CountRecords(table string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM cached_records WHERE tbl = ?`, table).Scan(&n)
	return n, err
}

// ClearRecords removes the cached copy of one table, or every table when
// table is empty.
func (s *Store) ClearRecords(table string) error {
	if table == "" {
		_, err := s.db.Exec(`DELETE FROM cached_records`)
		return err
	}
	_, err := s.db.Exec(`DELETE FROM cached_records WHERE tbl = ?`, table)
	return err
}

// --- Outbox ---------------------------------------------------------------

// EnqueueTransaction appends a transaction to the outbox. Re-enqueueing an
// id that is already present is a no-op, so a retried capture cannot fork
// into two rows.
func (s *Store) EnqueueTransaction(tx OfflineTransaction) error {
	items, err := json.Marshal(tx.Items)
	if err != nil {
		return fmt.Errorf("enqueue transaction: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO outbox (id, items, total, payment_method, created_at, synced, sync_attempts, sync_error)
		VALUES (?, ?, ?, ?, ?, 0, 0, '')
		ON CONFLICT (id) DO NOTHING`,
		tx.ID, string(items), tx.Total, tx.PaymentMethod, tx.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("enqueue transaction: %w", err)
	}
	return nil
}

// UnsyncedTransactions returns pending transactions in insertion order.
func (s *Store) UnsyncedTransactions() ([]OfflineTransaction, error) {
	return s.listTransactions(`WHERE synced = 0`)
}

// AllTransactions returns the whole outbox, synced rows included, in
// insertion order.
func (s *Store) AllTransactions() ([]OfflineTransaction, error) {
	return s.listTransactions(``)
}

func (s *Store) listTransactions(where string) ([]OfflineTransaction, error) {
	query := `SELECT id, items, total, payment_method, created_at, synced, sync_attempts, sync_error, last_sync_attempt
		FROM outbox ` + where + ` ORDER BY seq`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []OfflineTransaction
	for rows.Next() {
		var (
			tx      OfflineTransaction
			items   string
			created int64
			synced  int
			lastTry sql.NullInt64
		)
		if err := rows.Scan(&tx.ID, &items, &tx.Total, &tx.PaymentMethod, &created, &synced, &tx.SyncAttempts, &tx.SyncError, &lastTry); err != nil {
			return nil, fmt.Errorf("list outbox: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &tx.Items); err != nil {
			return nil, fmt.Errorf("list outbox: %w", err)
		}
		tx.Timestamp = time.Unix(created, 0).UTC()
		tx.Synced = synced != 0
		if lastTry.Valid {
			t := time.Unix(lastTry.Int64, 0).UTC()
			tx.LastSyncAttempt = &t
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// UnsyncedCount returns the number of pending outbox transactions.
func (s *Store) UnsyncedCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE synced = 0`).Scan(&n)
	return n, err
}

// MarkSynced flags a transaction as acknowledged by the primary backend.
func (s *Store) MarkSynced(id string) error {
	_, err := s.db.Exec(`UPDATE outbox SET synced = 1, sync_error = '', last_sync_attempt = ? WHERE id = ?`,
		time.Now().Unix(), id)
	return err
}

// MarkSyncFailed records a failed attempt, leaving the transaction pending.
func (s *Store) MarkSyncFailed(id string, syncErr string) error {
	_, err := s.db.Exec(`UPDATE outbox SET sync_attempts = sync_attempts + 1, sync_error = ?, last_sync_attempt = ? WHERE id = ?`,
		syncErr, time.Now().Unix(), id)
	return err
}

// PurgeSynced deletes synced transactions older than the retention window.
func (s *Store) PurgeSynced(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := s.db.Exec(`DELETE FROM outbox WHERE synced = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearOutbox deletes every outbox row, synced or not. Administrative
// action only.
func (s *Store) ClearOutbox() error {
	_, err := s.db.Exec(`DELETE FROM outbox`)
	return err
}

// --- Checkpoints ----------------------------------------------------------

// GetCheckpoint returns the stored watermark, or nil when none exists.
func (s *Store) GetCheckpoint(name string) (*time.Time, error) {
	var v int64
	err := s.db.QueryRow(`SELECT value FROM checkpoints WHERE name = ?`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := time.Unix(v, 0).UTC()
	return &t, nil
}

func (s *Store) SetCheckpoint(name string, t time.Time) error {
	_, err := s.db.Exec(`INSERT INTO checkpoints (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`, name, t.Unix())
	return err
}

func (s *Store) ClearCheckpoint(name string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE name = ?`, name)
	return err
}

// --- Sync history ---------------------------------------------------------

func (s *Store) RecordHistory(h SyncHistory) error {
	var completed sql.NullInt64
	if h.CompletedAt != nil {
		completed = sql.NullInt64{Int64: h.CompletedAt.Unix(), Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO sync_history (id, started_at, completed_at, direction, tables_synced, rows_synced, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		completed_at = excluded.completed_at,
		tables_synced = excluded.tables_synced,
		rows_synced = excluded.rows_synced,
		status = excluded.status,
		error_message = excluded.error_message`,
		h.ID, h.StartedAt.Unix(), completed, h.Direction, h.TablesSynced, h.RowsSynced, h.Status, h.ErrorMessage)
	return err
}

func (s *Store) ListHistory(limit int) ([]SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, started_at, completed_at, direction, tables_synced, rows_synced, status, error_message
		FROM sync_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncHistory
	for rows.Next() {
		var (
			h         SyncHistory
			started   int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &started, &completed, &h.Direction, &h.TablesSynced, &h.RowsSynced, &h.Status, &h.ErrorMessage); err != nil {
			return nil, err
		}
		h.StartedAt = time.Unix(started, 0).UTC()
		if completed.Valid {
			t := time.Unix(completed.Int64, 0).UTC()
			h.CompletedAt = &t
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ClearAll wipes the entire local store. Administrative action only.
func (s *Store) ClearAll() error {
	for _, table := range []string{"cached_records", "outbox", "checkpoints", "sync_history"} {
		if _, err := s.db.Exec(`DELETE FROM ` + table); err != nil {
			return err
		}
	}
	return nil
}
