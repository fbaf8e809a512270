package handler

import "net/http"

// PoolHandler reports key pool counts to operators.
type PoolHandler struct {
	pool statsReader
}

func NewPoolHandler(pool statsReader) *PoolHandler { return &PoolHandler{pool: pool} }

func (h *PoolHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.pool.Stats(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
