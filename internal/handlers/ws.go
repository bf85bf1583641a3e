package handlers

import (
	"net/http"

	"agentdesk/internal/middleware"
	"agentdesk/internal/websocket"
)

// StreamEvents pushes the caller's settlement events over a websocket.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	websocket.ServeWS(w, r, h.hub, userID)
}
