package handlers

import (
	"net/http"
	"strings"

	"agentdesk/internal/apperr"
	"agentdesk/internal/middleware"
	"agentdesk/internal/models"
	"agentdesk/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type submitRequest struct {
	ServiceID string         `json:"service_id"`
	Amount    string         `json:"amount"`
	FormData  models.Payload `json:"form_data"`
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount := decimal.Zero
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, apperr.ValidationError.Code(), "amount must be a decimal")
			return
		}
		amount = parsed
	}
	created, err := h.settlement.Submit(r.Context(), services.SubmitRequest{
		UserID:    userID,
		ServiceID: strings.TrimSpace(req.ServiceID),
		Amount:    amount,
		FormData:  req.FormData,
	})
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newRequestView(created))
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	limit, offset := pagination(r)
	rows, err := h.lifecycle.ListForUser(r.Context(), userID, r.URL.Query().Get("service_id"), limit, offset)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, requestViews(rows))
}

// GetRequest returns one of the caller's requests. Admins may read any
// request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	requestID := chi.URLParam(r, "id")
	access, err := h.admins.Access(r.Context(), userID)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	var found models.ServiceRequest
	if access.IsAdmin {
		found, err = h.lifecycle.Get(r.Context(), requestID)
	} else {
		found, err = h.lifecycle.GetForUser(r.Context(), userID, requestID)
	}
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newRequestView(found))
}

func (h *Handler) AdminPendingRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	rows, err := h.lifecycle.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, requestViews(rows))
}

func (h *Handler) AdminGetRequest(w http.ResponseWriter, r *http.Request) {
	found, err := h.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newRequestView(found))
}

type transitionRequest struct {
	State         string         `json:"state"`
	Note          string         `json:"note"`
	ResultPayload models.Payload `json:"result_payload"`
}

func (h *Handler) AdminTransitionRequest(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := h.lifecycle.Transition(r.Context(), services.TransitionRequest{
		RequestID:     chi.URLParam(r, "id"),
		ActorID:       actorID,
		Target:        models.RequestStatus(strings.ToUpper(strings.TrimSpace(req.State))),
		Note:          req.Note,
		ResultPayload: req.ResultPayload,
	})
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newRequestView(updated))
}
