package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/backend"
	"pos-sync-service/internal/cache"
	"pos-sync-service/internal/cacheloader"
	"pos-sync-service/internal/localstore"
	"pos-sync-service/internal/netmode"
	"pos-sync-service/internal/outbox"
	"pos-sync-service/internal/replicator"
)

type fakeObserver struct{ online bool }

func (f *fakeObserver) Online() bool { return f.online }

func (f *fakeObserver) Subscribe(fn func(online bool)) func() { return func() {} }

type fakeStore struct {
	tables    map[string][]backend.Row
	upserts   map[string][]backend.Row
	reachable bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: map[string][]backend.Row{}, upserts: map[string][]backend.Row{}, reachable: true}
}

func (f *fakeStore) Select(ctx context.Context, table string, since *time.Time) ([]backend.Row, error) {
	return f.tables[table], nil
}

func (f *fakeStore) Insert(ctx context.Context, table string, row backend.Row) error { return nil }

func (f *fakeStore) Upsert(ctx context.Context, table string, rows []backend.Row) error {
	f.upserts[table] = append(f.upserts[table], rows...)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, table string, id string) error { return nil }

func (f *fakeStore) Reachable(ctx context.Context) bool { return f.reachable }

func newTestRouter(t *testing.T, primary *fakeStore, online bool) http.Handler {
	t.Helper()
	local, err := localstore.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	registry, err := backend.NewRegistry([]backend.TableSpec{
		{Name: "products"},
		{Name: "pos_transactions"},
	})
	require.NoError(t, err)

	obs := &fakeObserver{online: online}
	detector := netmode.NewDetector(func() bool { return false }, obs)
	mc := cache.NewMemoryCache()
	t.Cleanup(mc.Stop)

	loader := cacheloader.NewLoader(local, primary, mc, detector, registry, time.Minute)
	outboxSvc := outbox.NewService(local, primary, obs, "pos_transactions", time.Second, time.Hour)
	cloud := newFakeStore()
	replicatorSvc := replicator.NewService(local, primary, cloud, registry, obs, filepath.Join(t.TempDir(), "backups"))

	return NewHandler(loader, outboxSvc, replicatorSvc, nil).Routes()
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t, newFakeStore(), true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(t, newFakeStore(), true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status localstore.SyncStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.IsOnline)
	assert.Zero(t, status.UnsyncedCount)
}

func TestGetRecords(t *testing.T) {
	primary := newFakeStore()
	primary.tables["products"] = []backend.Row{{"id": "p1", "name": "Coffee"}}
	router := newTestRouter(t, primary, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/data/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []backend.Row
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Coffee", rows[0]["name"])
}

func TestEnqueueThenSyncTransactions(t *testing.T) {
	primary := newFakeStore()
	router := newTestRouter(t, primary, true)

	body, _ := json.Marshal(localstore.OfflineTransaction{
		Items:         []localstore.TransactionItem{{ProductID: "p1", Name: "Coffee", Quantity: 1, Price: 42.5}},
		Total:         42.5,
		PaymentMethod: "cash",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var queued localstore.OfflineTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queued))
	assert.NotEmpty(t, queued.ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/transactions/unsynced", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []localstore.OfflineTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/sync/transactions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result outbox.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Success)
	assert.Len(t, primary.upserts["pos_transactions"], 1)
}

func TestEnqueueRejectsBadPayload(t *testing.T) {
	router := newTestRouter(t, newFakeStore(), true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/transactions", bytes.NewReader([]byte("{not json"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncToCloudEndpoint(t *testing.T) {
	primary := newFakeStore()
	primary.tables["products"] = []backend.Row{{"id": "p1"}}
	router := newTestRouter(t, primary, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/sync/cloud", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result replicator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Synced)
}

func TestBackupEndpoints(t *testing.T) {
	primary := newFakeStore()
	primary.tables["products"] = []backend.Row{{"id": "p1"}}
	router := newTestRouter(t, primary, true)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/backups", bytes.NewReader([]byte(`{"name":"manual"}`))))
	require.Equal(t, http.StatusCreated, rec.Code)

	var snap localstore.BackupSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "manual", snap.Name)
	assert.Equal(t, 1, snap.RecordCount)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backups", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []localstore.BackupSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, snap.ID, list[0].ID)
}
