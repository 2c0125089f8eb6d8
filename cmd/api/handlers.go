package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/item"
	"github.com/leejennwah/reliable-queue/internal/queue"
)

type apiHandler struct {
	queues  *queue.Factory
	logger  *zap.Logger
	metrics http.Handler
}

func newHandler(queues *queue.Factory, logger *zap.Logger) *apiHandler {
	return &apiHandler{queues: queues, logger: logger, metrics: promhttp.Handler()}
}

func (h *apiHandler) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods("GET")
	r.HandleFunc("/api/v1/queues/{name}", h.countQueue).Methods("GET")
	r.HandleFunc("/api/v1/queues/{name}", h.deleteQueue).Methods("DELETE")
	r.HandleFunc("/api/v1/queues/{name}/items", h.createItem).Methods("POST")
	r.HandleFunc("/api/v1/queues/{name}/claims", h.claimItem).Methods("POST")
	r.HandleFunc("/api/v1/queues/{name}/items/{id}/release", h.releaseItem).Methods("POST")
	r.HandleFunc("/api/v1/queues/{name}/items/{id}/lease", h.extendLease).Methods("POST")
	r.HandleFunc("/api/v1/queues/{name}/items/{id}", h.deleteItem).Methods("DELETE")
	r.Handle("/metrics", h.metrics)
	return r
}

func (h *apiHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type leaseRequest struct {
	LeaseSeconds int `json:"lease_seconds"`
}

func (h *apiHandler) createItem(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queue(w, r)
	if !ok {
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	id, err := q.Create(r.Context(), req.Payload)
	if err != nil {
		h.logger.Error("create item failed", zap.String("queue", q.Name()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create item")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *apiHandler) claimItem(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queue(w, r)
	if !ok {
		return
	}
	lease, ok := readLease(w, r)
	if !ok {
		return
	}

	it, err := q.Claim(r.Context(), lease)
	if err != nil {
		h.logger.Error("claim failed", zap.String("queue", q.Name()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to claim item")
		return
	}
	if it == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *apiHandler) releaseItem(w http.ResponseWriter, r *http.Request) {
	q, it, ok := h.queueItem(w, r)
	if !ok {
		return
	}
	if err := q.Release(r.Context(), it); err != nil {
		h.logger.Error("release failed", zap.String("queue", q.Name()), zap.Int64("item_id", it.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to release item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) extendLease(w http.ResponseWriter, r *http.Request) {
	q, it, ok := h.queueItem(w, r)
	if !ok {
		return
	}
	lease, ok := readLease(w, r)
	if !ok {
		return
	}

	err := q.ExtendLease(r.Context(), it, lease)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, queue.ErrLeaseLost):
		writeError(w, http.StatusConflict, "lease lost")
	default:
		h.logger.Error("extend lease failed", zap.String("queue", q.Name()), zap.Int64("item_id", it.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to extend lease")
	}
}

func (h *apiHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	q, it, ok := h.queueItem(w, r)
	if !ok {
		return
	}
	if err := q.Delete(r.Context(), it); err != nil {
		h.logger.Error("delete failed", zap.String("queue", q.Name()), zap.Int64("item_id", it.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) countQueue(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queue(w, r)
	if !ok {
		return
	}
	n, err := q.Count(r.Context())
	if err != nil {
		h.logger.Error("count failed", zap.String("queue", q.Name()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": q.Name(), "count": n})
}

func (h *apiHandler) deleteQueue(w http.ResponseWriter, r *http.Request) {
	q, ok := h.queue(w, r)
	if !ok {
		return
	}
	if err := q.DeleteQueue(r.Context()); err != nil {
		h.logger.Error("delete queue failed", zap.String("queue", q.Name()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queue resolves the {name} route variable.
func (h *apiHandler) queue(w http.ResponseWriter, r *http.Request) (queue.Queue, bool) {
	q, err := h.queues.Queue(mux.Vars(r)["name"])
	if err != nil {
		if errors.Is(err, queue.ErrInvalidName) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			h.logger.Error("open queue failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to open queue")
		}
		return nil, false
	}
	return q, true
}

// queueItem resolves {name} and {id}. Only the id of the returned item is
// set, which is all the acknowledgement operations read.
func (h *apiHandler) queueItem(w http.ResponseWriter, r *http.Request) (queue.Queue, *item.Item, bool) {
	q, ok := h.queue(w, r)
	if !ok {
		return nil, nil, false
	}
	id, err := item.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return nil, nil, false
	}
	return q, &item.Item{ID: id}, true
}

// readLease reads an optional {"lease_seconds":n} body. A missing body or a
// non-positive value means the queue default.
func readLease(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return time.Duration(req.LeaseSeconds) * time.Second, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
