package handlers

import (
	"net/http"

	"agentdesk/internal/middleware"
)

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	active := h.catalog.Active()
	out := make([]serviceView, 0, len(active))
	for _, svc := range active {
		out = append(out, newServiceView(svc))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	wallet, err := h.settlement.Wallet(r.Context(), userID)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newWalletView(wallet))
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	h.writeTransactions(w, r, userID)
}

func (h *Handler) writeTransactions(w http.ResponseWriter, r *http.Request, userID string) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	rows, err := h.settlement.Transactions(r.Context(), userID, limit)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transactionViews(rows))
}
