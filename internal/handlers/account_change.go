package handlers

import (
	"net/http"

	"agentdesk/internal/middleware"
	"agentdesk/internal/models"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) RequestAccountChange(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req models.AccountDetails
	if !decodeJSON(w, r, &req) {
		return
	}
	change, err := h.changes.Request(r.Context(), userID, req)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, change)
}

func (h *Handler) AdminListAccountChanges(w http.ResponseWriter, r *http.Request) {
	pending, err := h.changes.ListPending(r.Context())
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	if pending == nil {
		pending = []models.PendingAccountChange{}
	}
	respondJSON(w, http.StatusOK, pending)
}

func (h *Handler) AdminApproveAccountChange(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	userID := chi.URLParam(r, "userId")
	details, err := h.changes.Approve(r.Context(), actorID, userID)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": userID, "account": details})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) AdminRejectAccountChange(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userId")
	if err := h.changes.Reject(r.Context(), actorID, userID, req.Reason); err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "rejected"})
}
