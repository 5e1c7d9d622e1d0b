package cacheloader

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-service/internal/backend"
	"pos-sync-service/internal/cache"
	"pos-sync-service/internal/localstore"
	"pos-sync-service/internal/netmode"
)

type fakeObserver struct {
	mu     sync.Mutex
	online bool
}

func (f *fakeObserver) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeObserver) Subscribe(fn func(online bool)) func() { return func() {} }

func (f *fakeObserver) set(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
}

type fakeBackend struct {
	mu          sync.Mutex
	rows        map[string][]backend.Row
	selectErr   error
	selectCalls int
}

func (f *fakeBackend) Select(ctx context.Context, table string, since *time.Time) ([]backend.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCalls++
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	return f.rows[table], nil
}

func (f *fakeBackend) Insert(ctx context.Context, table string, row backend.Row) error { return nil }

func (f *fakeBackend) Upsert(ctx context.Context, table string, rows []backend.Row) error {
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, table string, id string) error { return nil }

func (f *fakeBackend) Reachable(ctx context.Context) bool { return true }

func newTestLoader(t *testing.T, primary backend.Store, obs netmode.Observer, localMode bool) (*Loader, *localstore.Store) {
	t.Helper()
	local, err := localstore.Open(filepath.Join(t.TempDir(), "loader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	registry, err := backend.NewRegistry([]backend.TableSpec{
		{Name: "products"},
		{Name: "categories"},
	})
	require.NoError(t, err)

	mc := cache.NewMemoryCache()
	t.Cleanup(mc.Stop)

	detector := netmode.NewDetector(func() bool { return localMode }, obs)
	return NewLoader(local, primary, mc, detector, registry, time.Minute), local
}

func TestLocalQueryNeverTouchesNetworkOffline(t *testing.T) {
	loader, _ := newTestLoader(t, &fakeBackend{}, &fakeObserver{online: false}, false)

	onlineCalls, offlineCalls := 0, 0
	online := func(ctx context.Context) ([]backend.Row, error) {
		onlineCalls++
		return []backend.Row{{"id": "net"}}, nil
	}
	offline := func(ctx context.Context) ([]backend.Row, error) {
		offlineCalls++
		return []backend.Row{{"id": "local"}}, nil
	}

	for i := 0; i < 5; i++ {
		rows, err := loader.LocalQuery(context.Background(), "products", online, offline)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		id, _ := backend.RowID(rows[0], "id")
		assert.Equal(t, "local", id)
	}

	assert.Zero(t, onlineCalls, "online fetcher must never run while offline")
	assert.Equal(t, 5, offlineCalls)
}

func TestLocalQueryLocalModeNeverTouchesNetwork(t *testing.T) {
	// online but configured against a LAN backend
	loader, _ := newTestLoader(t, &fakeBackend{}, &fakeObserver{online: true}, true)

	onlineCalls := 0
	online := func(ctx context.Context) ([]backend.Row, error) {
		onlineCalls++
		return nil, nil
	}
	offline := func(ctx context.Context) ([]backend.Row, error) {
		return []backend.Row{{"id": "local"}}, nil
	}

	_, err := loader.LocalQuery(context.Background(), "products", online, offline)
	require.NoError(t, err)
	assert.Zero(t, onlineCalls)
}

func TestLocalQueryFallsBackOnOnlineFailure(t *testing.T) {
	loader, _ := newTestLoader(t, &fakeBackend{}, &fakeObserver{online: true}, false)

	online := func(ctx context.Context) ([]backend.Row, error) {
		return nil, errors.New("connection refused")
	}
	offline := func(ctx context.Context) ([]backend.Row, error) {
		return []backend.Row{{"id": "cached"}}, nil
	}

	rows, err := loader.LocalQuery(context.Background(), "products", online, offline)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id, _ := backend.RowID(rows[0], "id")
	assert.Equal(t, "cached", id)
}

func TestLocalQueryDegradesCacheErrorsToEmpty(t *testing.T) {
	loader, _ := newTestLoader(t, &fakeBackend{}, &fakeObserver{online: false}, false)

	offline := func(ctx context.Context) ([]backend.Row, error) {
		return nil, errors.New("local store corrupted")
	}

	rows, err := loader.LocalQuery(context.Background(), "products", nil, offline)
	require.NoError(t, err, "cache corruption must never hard-fail a read")
	assert.Empty(t, rows)
}

func TestRecordsWarmsLocalStore(t *testing.T) {
	obs := &fakeObserver{online: true}
	primary := &fakeBackend{rows: map[string][]backend.Row{
		"products": {{"id": "p1", "name": "Coffee"}},
	}}
	loader, local := newTestLoader(t, primary, obs, false)

	rows, err := loader.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// online fetch must have written the result into the local store
	cached, err := local.GetRecords("products")
	require.NoError(t, err)
	require.Len(t, cached, 1)

	// device goes offline: same data served from the local store
	obs.set(false)
	rows, err = loader.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id, _ := backend.RowID(rows[0], "id")
	assert.Equal(t, "p1", id)
}

func TestRecordsServedFromQueryCache(t *testing.T) {
	primary := &fakeBackend{rows: map[string][]backend.Row{
		"products": {{"id": "p1"}},
	}}
	loader, _ := newTestLoader(t, primary, &fakeObserver{online: true}, false)

	_, err := loader.Records(context.Background(), "products")
	require.NoError(t, err)
	_, err = loader.Records(context.Background(), "products")
	require.NoError(t, err)

	primary.mu.Lock()
	calls := primary.selectCalls
	primary.mu.Unlock()
	assert.Equal(t, 1, calls, "second read within the TTL must hit the query cache")
}

func TestRefreshRewritesSnapshotAndInvalidatesCache(t *testing.T) {
	primary := &fakeBackend{rows: map[string][]backend.Row{
		"products": {{"id": "p1", "name": "Coffee"}},
	}}
	loader, local := newTestLoader(t, primary, &fakeObserver{online: true}, false)

	_, err := loader.Records(context.Background(), "products")
	require.NoError(t, err)

	// rows change on another device
	primary.mu.Lock()
	primary.rows["products"] = []backend.Row{{"id": "p1", "name": "Espresso"}, {"id": "p2", "name": "Tea"}}
	primary.mu.Unlock()

	require.NoError(t, loader.Refresh(context.Background(), "products"))

	cached, err := local.GetRecords("products")
	require.NoError(t, err)
	require.Len(t, cached, 2)

	// cache was invalidated, so the next read refetches
	rows, err := loader.Records(context.Background(), "products")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRecordsUnknownTable(t *testing.T) {
	loader, _ := newTestLoader(t, &fakeBackend{}, &fakeObserver{online: true}, false)
	rows, err := loader.Records(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
