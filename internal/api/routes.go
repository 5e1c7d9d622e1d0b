package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"pos-sync-service/internal/backend"
	"pos-sync-service/internal/cacheloader"
	"pos-sync-service/internal/localstore"
	"pos-sync-service/internal/outbox"
	"pos-sync-service/internal/replicator"
)

// Handler exposes the sync contracts over HTTP for the POS front end:
// entity reads, sale capture, status badge, manual sync triggers, the
// unsynced-transaction view and backup actions.
type Handler struct {
	loader      *cacheloader.Loader
	outbox      *outbox.Service
	replicator  *replicator.Service
	corsOrigins []string
}

func NewHandler(loader *cacheloader.Loader, outboxSvc *outbox.Service, replicatorSvc *replicator.Service, corsOrigins []string) *Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Handler{
		loader:      loader,
		outbox:      outboxSvc,
		replicator:  replicatorSvc,
		corsOrigins: corsOrigins,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/data/{table}", h.GetRecords)

		r.Post("/transactions", h.EnqueueTransaction)

		r.Post("/sync/transactions", h.SyncTransactions)
		r.Post("/sync/cloud", h.SyncToCloud)
		r.Post("/sync/cloud/pull", h.SyncFromCloud)
		r.Post("/sync/cloud/full", h.ForceFullSync)
		r.Get("/sync/history", h.GetHistory)

		r.Get("/transactions/unsynced", h.ListUnsynced)
		r.Delete("/transactions", h.ClearOutbox)

		r.Post("/backups", h.CreateBackup)
		r.Get("/backups", h.ListBackups)
		r.Post("/backups/{id}/restore", h.RestoreBackup)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.outbox.Status())
}

// GetRecords serves one mirrored table, from the network or the local
// store depending on mode. The UI never needs to know which.
func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	rows, err := h.loader.Records(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rows == nil {
		// empty table and unknown table both serve []
		rows = []backend.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// EnqueueTransaction captures a completed sale into the outbox. Pure local
// write; succeeds with no network present.
func (h *Handler) EnqueueTransaction(w http.ResponseWriter, r *http.Request) {
	var tx localstore.OfflineTransaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid transaction payload"})
		return
	}
	queued, err := h.outbox.Enqueue(tx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, queued)
}

func (h *Handler) SyncTransactions(w http.ResponseWriter, r *http.Request) {
	result, err := h.outbox.SyncTransactions(r.Context())
	if errors.Is(err, outbox.ErrSyncInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) SyncToCloud(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.replicator.SyncToCloud(r.Context()))
}

func (h *Handler) SyncFromCloud(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.replicator.SyncFromCloud(r.Context()))
}

func (h *Handler) ForceFullSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.replicator.ForceFullSync(r.Context()))
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.replicator.History(50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ListUnsynced(w http.ResponseWriter, r *http.Request) {
	txs, err := h.outbox.Unsynced()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) ClearOutbox(w http.ResponseWriter, r *http.Request) {
	if err := h.outbox.Clear(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	snapshot, err := h.replicator.CreateBackup(r.Context(), req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	snapshot.Data = nil
	writeJSON(w, http.StatusCreated, snapshot)
}

func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.replicator.ListBackups()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	result := h.replicator.RestoreBackup(r.Context(), chi.URLParam(r, "id"), req.Target)
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
