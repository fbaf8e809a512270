package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/airdrop-bot/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// TurnRequest is one chat turn delivered over HTTP.
type TurnRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Type   string `json:"type" validate:"required,oneof=start cancel text"`
	Text   string `json:"text"`
}

// TurnEnvelope carries the reply to a turn and the state it left the user in.
type TurnEnvelope struct {
	Reply string `json:"reply"`
	State string `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}

// httpError maps a failed read onto a status code. Dialogue outcomes travel
// as replies, so storage trouble is the only error a route reports.
func httpError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrPersistenceUnavailable) {
		slog.Error("storage unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	slog.Error("unhandled error", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
