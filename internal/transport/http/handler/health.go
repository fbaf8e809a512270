package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/airdrop-bot/internal/domain"
)

type statsReader interface {
	Stats(ctx context.Context) (domain.PoolStats, error)
}

// HealthHandler answers liveness ("ping") and readiness ("ready") probes.
// Readiness means the key pool can be read.
type HealthHandler struct {
	pool statsReader
}

func NewHealthHandler(pool statsReader) *HealthHandler { return &HealthHandler{pool: pool} }

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "ping":
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
	case "ready":
		if _, err := h.pool.Stats(r.Context()); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ready"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
