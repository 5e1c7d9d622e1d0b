package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"go.uber.org/zap"

	"pos-sync-service/internal/config"
	"pos-sync-service/internal/logger"
)

// Refresher rewrites the local copy of one table from the primary backend
// and invalidates cached queries for it. Implemented by the cache loader.
type Refresher interface {
	Refresh(ctx context.Context, table string) error
}

// Notifier surfaces cross-device awareness to the UI layer ("product
// updated on another device"). May be nil.
type Notifier func(table string, event EventType)

// Listener subscribes to row-level change notifications on the primary
// backend's binlog and turns them into local cache invalidation. Events are
// coalesced per table: a burst of changes causes one refresh, not one per
// row.
type Listener struct {
	cfg        config.BackendConnection
	canal      *canal.Canal
	eventChan  chan ChangeEvent
	tables     map[string]bool
	refresher  Refresher
	notify     Notifier
	flushEvery time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewListener(cfg config.BackendConnection, rt config.RealtimeConfig, refresher Refresher, notify Notifier) (*Listener, error) {
	tableMap := make(map[string]bool)
	var tableRegex []string
	for _, t := range rt.Tables {
		tableMap[t] = true
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\.%s$", cfg.Database, t))
	}

	serverID := rt.ServerID
	if serverID == 0 {
		serverID = 100
	}

	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:     cfg.ReplicationUser,
		Password: cfg.ReplicationPassword,
		Flavor:   "mysql",
		ServerID: serverID,
		Dump: canal.DumpConfig{
			ExecutionPath: "", // no initial dump, the cache loader warms the store
		},
		IncludeTableRegex: tableRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &Listener{
		cfg:        cfg,
		canal:      c,
		eventChan:  make(chan ChangeEvent, 10000),
		tables:     tableMap,
		refresher:  refresher,
		notify:     notify,
		flushEvery: rt.GetFlushInterval(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	c.SetEventHandler(&eventHandler{listener: l})

	return l, nil
}

func (l *Listener) Start() error {
	logger.Log.Info("Starting realtime listener",
		zap.String("host", l.cfg.Host),
		zap.Int("tables", len(l.tables)),
	)

	go func() {
		if err := l.canal.Run(); err != nil {
			logger.Log.Error("Canal run error", zap.Error(err))
		}
	}()

	go l.run()

	return nil
}

// Stop unsubscribes cleanly. The refresh loop drains what it has and exits.
func (l *Listener) Stop() {
	l.cancel()
	l.canal.Close()
	close(l.eventChan)
	<-l.done
	logger.Log.Info("Stopped realtime listener")
}

// run coalesces change events and refreshes each touched table once per
// flush window.
func (l *Listener) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.flushEvery)
	defer ticker.Stop()

	pending := make(map[string]EventType)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		for table, event := range pending {
			if err := l.refresher.Refresh(context.Background(), table); err != nil {
				logger.Log.Error("Failed to refresh table after change notification",
					zap.String("table", table),
					zap.Error(err),
				)
				continue
			}
			logger.Log.Debug("Refreshed table from change notification",
				zap.String("table", table),
				zap.String("event", string(event)),
			)
			if l.notify != nil {
				l.notify(table, event)
			}
		}
		pending = make(map[string]EventType)
	}

	for {
		select {
		case event, ok := <-l.eventChan:
			if !ok {
				flush()
				return
			}
			// Later events overwrite earlier ones; the refresh pulls the
			// whole authoritative snapshot anyway.
			pending[event.Table] = event.Type

		case <-ticker.C:
			flush()

		case <-l.ctx.Done():
			flush()
			return
		}
	}
}

type eventHandler struct {
	canal.DummyEventHandler
	listener *Listener
}

func (h *eventHandler) OnRow(e *canal.RowsEvent) error {
	if _, ok := h.listener.tables[e.Table.Name]; !ok {
		return nil
	}

	var eventType EventType
	switch e.Action {
	case canal.InsertAction:
		eventType = Insert
	case canal.UpdateAction:
		eventType = Update
	case canal.DeleteAction:
		eventType = Delete
	default:
		return nil
	}

	event := ChangeEvent{
		Type:      eventType,
		Schema:    e.Table.Schema,
		Table:     e.Table.Name,
		Rows:      len(e.Rows),
		Timestamp: e.Header.Timestamp,
	}

	// Block when the queue is full so the binlog stream applies
	// backpressure instead of dropping invalidations.
	select {
	case h.listener.eventChan <- event:
	case <-h.listener.ctx.Done():
		return h.listener.ctx.Err()
	}

	return nil
}

func (h *eventHandler) String() string {
	return "RealtimeEventHandler"
}
