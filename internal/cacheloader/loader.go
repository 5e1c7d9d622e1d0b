package cacheloader

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"pos-sync-service/internal/backend"
	"pos-sync-service/internal/cache"
	"pos-sync-service/internal/localstore"
	"pos-sync-service/internal/logger"
	"pos-sync-service/internal/netmode"
)

const queryKeyPrefix = "query:"

// FetchFunc produces rows for one query, either from the network or from
// the local store.
type FetchFunc func(ctx context.Context) ([]backend.Row, error)

// Loader keeps the local store warm and routes every read through the mode
// detector: local-store-only when offline or in local mode, network with
// write-back otherwise.
type Loader struct {
	local    *localstore.Store
	primary  backend.Store
	cache    cache.Cache
	detector *netmode.Detector
	registry *backend.Registry
	ttl      time.Duration
}

func NewLoader(local *localstore.Store, primary backend.Store, c cache.Cache, detector *netmode.Detector, registry *backend.Registry, ttl time.Duration) *Loader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Loader{
		local:    local,
		primary:  primary,
		cache:    c,
		detector: detector,
		registry: registry,
		ttl:      ttl,
	}
}

// LocalQuery routes one read. When the detector says to use local data the
// offline fetcher is the only one consulted; no network probing happens at
// all. Online, the in-memory cache is checked first, then the online
// fetcher runs, falling back to the offline fetcher on failure. Offline
// fetch errors degrade to an empty result so cache corruption can never
// hard-fail a read.
func (l *Loader) LocalQuery(ctx context.Context, key string, online, offline FetchFunc) ([]backend.Row, error) {
	if l.detector.ShouldUseLocalData() {
		return l.offlineOnly(ctx, key, offline), nil
	}

	cacheKey := queryKeyPrefix + key
	if cached, err := l.cache.Get(ctx, cacheKey); err == nil {
		var rows []backend.Row
		if err := json.Unmarshal(cached, &rows); err == nil {
			return rows, nil
		}
		// Corrupt entry, drop it and refetch.
		_ = l.cache.Delete(ctx, cacheKey)
	}

	rows, err := online(ctx)
	if err != nil {
		logger.Log.Warn("Online fetch failed, falling back to local data",
			zap.String("key", key), zap.Error(err))
		return l.offlineOnly(ctx, key, offline), nil
	}

	if encoded, err := json.Marshal(rows); err == nil {
		_ = l.cache.Set(ctx, cacheKey, encoded, l.ttl)
	}
	return rows, nil
}

func (l *Loader) offlineOnly(ctx context.Context, key string, offline FetchFunc) []backend.Row {
	rows, err := offline(ctx)
	if err != nil {
		logger.Log.Error("Local store read failed, returning empty result",
			zap.String("key", key), zap.Error(err))
		return nil
	}
	return rows
}

// Records reads one mirrored table through LocalQuery. Successful online
// fetches are written back into the local store so it stays warm for the
// next offline transition.
func (l *Loader) Records(ctx context.Context, table string) ([]backend.Row, error) {
	spec, ok := l.registry.Lookup(table)
	if !ok {
		return nil, nil
	}
	online := func(ctx context.Context) ([]backend.Row, error) {
		rows, err := l.primary.Select(ctx, table, nil)
		if err != nil {
			return nil, err
		}
		if err := l.local.ReplaceRecords(table, spec, rows); err != nil {
			logger.Log.Warn("Failed to warm local store",
				zap.String("table", table), zap.Error(err))
		}
		return rows, nil
	}
	offline := func(ctx context.Context) ([]backend.Row, error) {
		return l.local.GetRecords(table)
	}
	return l.LocalQuery(ctx, table, online, offline)
}

// SaveRecords merges rows into the local copy of one table.
func (l *Loader) SaveRecords(table string, rows []backend.Row) error {
	spec, ok := l.registry.Lookup(table)
	if !ok {
		return nil
	}
	return l.local.SaveRecords(table, spec, rows)
}

// Refresh pulls the current snapshot of one table from the primary backend,
// rewrites the local copy and invalidates cached queries for the entity.
// Called by the realtime listener when rows change elsewhere.
func (l *Loader) Refresh(ctx context.Context, table string) error {
	spec, ok := l.registry.Lookup(table)
	if !ok {
		return nil
	}
	rows, err := l.primary.Select(ctx, table, nil)
	if err != nil {
		return err
	}
	if err := l.local.ReplaceRecords(table, spec, rows); err != nil {
		return err
	}
	return l.cache.DeletePrefix(ctx, queryKeyPrefix+table)
}

// Per-entity getters. Thin wrappers so callers don't pass table names
// around.

func (l *Loader) Products(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "products")
}

func (l *Loader) Categories(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "categories")
}

func (l *Loader) Stores(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "stores")
}

func (l *Loader) Contacts(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "contacts")
}

func (l *Loader) CashSessions(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "cash_sessions")
}

func (l *Loader) Orders(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "orders")
}

func (l *Loader) Purchases(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "purchases")
}

func (l *Loader) Offers(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "offers")
}

func (l *Loader) JournalEntries(ctx context.Context) ([]backend.Row, error) {
	return l.Records(ctx, "journal_entries")
}
