package handlers

import (
	"net/http"

	middleware "github.com/markdave123-py/lawgpt/internal/api/middlewares"
	"github.com/markdave123-py/lawgpt/internal/core/events"
)

// EventsHandler upgrades to the per-user websocket event feed. The token is
// read from ?token= first, then the Authorization header.
type EventsHandler struct {
	hub    *events.Hub
	tokens middleware.TokenVerifier
}

func NewEventsHandler(hub *events.Hub, tokens middleware.TokenVerifier) *EventsHandler {
	return &EventsHandler{hub: hub, tokens: tokens}
}

func (h *EventsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = middleware.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing token"})
		return
	}
	uid, err := h.tokens.Verify(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}
	h.hub.ServeWs(w, r, uid)
}
