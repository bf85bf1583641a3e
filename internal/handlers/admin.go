package handlers

import (
	"net/http"
	"strings"

	"agentdesk/internal/apperr"
	"agentdesk/internal/middleware"
	"agentdesk/internal/models"
	"agentdesk/internal/services"
	"agentdesk/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type creditRequest struct {
	Amount    string `json:"amount"`
	Note      string `json:"note"`
	Reference string `json:"reference"`
}

func (h *Handler) AdminCreditWallet(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	var req creditRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		respondError(w, http.StatusBadRequest, apperr.ValidationError.Code(), "amount must be a decimal")
		return
	}
	credit, err := h.settlement.CreditWallet(r.Context(), services.CreditRequest{
		ActorID:   actorID,
		UserID:    chi.URLParam(r, "userId"),
		Amount:    amount,
		Note:      req.Note,
		Reference: strings.TrimSpace(req.Reference),
	})
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newTransactionView(credit))
}

type provisionRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	AggregatorID string `json:"aggregator_id"`
}

func (h *Handler) AdminProvisionUser(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	var req provisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.admin.Provision(r.Context(), services.ProvisionRequest{
		ActorID:      actorID,
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		Role:         models.Role(strings.ToLower(strings.TrimSpace(req.Role))),
		AggregatorID: strings.TrimSpace(req.AggregatorID),
	})
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) AdminResetPassword(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "id")
	if err := h.admin.ResetPassword(r.Context(), actorID, userID, req.Password); err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "password_reset"})
}

type promoteRequest struct {
	Identifier string `json:"identifier"`
}

func (h *Handler) AdminPromote(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	var req promoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := h.admin.Promote(r.Context(), actorID, req.Identifier)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "promoted"})
}

type grantRoleRequest struct {
	AdminUserID string `json:"admin_user_id"`
	Role        string `json:"role"`
}

func (h *Handler) AdminGrantRole(w http.ResponseWriter, r *http.Request) {
	actorID, _ := middleware.UserIDFromContext(r.Context())
	var req grantRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role := models.AdminRole(strings.TrimSpace(req.Role))
	if err := h.admin.GrantRole(r.Context(), actorID, strings.TrimSpace(req.AdminUserID), role); err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"admin_user_id": req.AdminUserID, "role": string(role)})
}

func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeTransactions(w, r, chi.URLParam(r, "userId"))
}

func (h *Handler) AdminListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	query := r.URL.Query()
	entries, err := h.audit.List(r.Context(), store.AuditFilter{
		EntityType: query.Get("entity_type"),
		EntityID:   query.Get("entity_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	out := make([]auditView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, newAuditView(entry))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) AdminReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"checked_at":    report.CheckedAt,
		"wallets":       report.Wallets,
		"balanced":      report.Balanced(),
		"discrepancies": report.Discrepancies,
	})
}
