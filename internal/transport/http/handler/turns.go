package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/airdrop-bot/internal/application/dialogue"
	"github.com/airdrop-bot/internal/pkg/validate"
)

type turnHandler interface {
	Handle(ctx context.Context, t dialogue.Turn) dialogue.Reply
}

var turnKinds = map[string]dialogue.Kind{
	"start":  dialogue.KindStart,
	"cancel": dialogue.KindCancel,
	"text":   dialogue.KindText,
}

// identityPrefix namespaces caller-supplied user ids so an HTTP caller can
// never act as a user of another transport.
const identityPrefix = "http:"

// TurnHandler exposes the registration dialogue over HTTP, one request per turn.
type TurnHandler struct {
	dialogue turnHandler
}

func NewTurnHandler(d turnHandler) *TurnHandler { return &TurnHandler{dialogue: d} }

func (h *TurnHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply := h.dialogue.Handle(r.Context(), dialogue.Turn{
		Identity: identityPrefix + req.UserID,
		Kind:     turnKinds[req.Type],
		Text:     req.Text,
	})
	writeJSON(w, http.StatusOK, TurnEnvelope{Reply: reply.Text, State: reply.State.String()})
}
