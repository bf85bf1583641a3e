package handlers

import (
	"encoding/json"
	"time"

	"agentdesk/internal/models"
	"agentdesk/internal/money"
)

// Amounts leave the API as fixed two-decimal strings.

type walletView struct {
	UserID            string    `json:"user_id"`
	Balance           string    `json:"balance"`
	CommissionBalance string    `json:"commission_balance"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newWalletView(w models.Wallet) walletView {
	return walletView{
		UserID:            w.UserID,
		Balance:           money.Format(w.Balance),
		CommissionBalance: money.Format(w.CommissionBalance),
		UpdatedAt:         w.UpdatedAt,
	}
}

type transactionView struct {
	ID          string                   `json:"id"`
	UserID      string                   `json:"user_id"`
	Type        models.TransactionType   `json:"type"`
	Amount      string                   `json:"amount"`
	Description string                   `json:"description"`
	Reference   string                   `json:"reference"`
	Status      models.TransactionStatus `json:"status"`
	CreatedAt   time.Time                `json:"created_at"`
}

func newTransactionView(t models.Transaction) transactionView {
	return transactionView{
		ID:          t.ID,
		UserID:      t.UserID,
		Type:        t.Type,
		Amount:      money.Format(t.Amount),
		Description: t.Description,
		Reference:   t.Reference,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
	}
}

func transactionViews(rows []models.Transaction) []transactionView {
	out := make([]transactionView, 0, len(rows))
	for _, row := range rows {
		out = append(out, newTransactionView(row))
	}
	return out
}

type requestView struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	ServiceID     string               `json:"service_id"`
	Category      string               `json:"category"`
	Amount        string               `json:"amount"`
	Reference     string               `json:"reference"`
	FormData      models.Payload       `json:"form_data"`
	Status        models.RequestStatus `json:"status"`
	StatusMessage string               `json:"status_message"`
	ResultPayload models.Payload       `json:"result_payload,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func newRequestView(r models.ServiceRequest) requestView {
	return requestView{
		ID:            r.ID,
		UserID:        r.UserID,
		ServiceID:     r.ServiceID,
		Category:      r.Category,
		Amount:        money.Format(r.Amount),
		Reference:     r.Reference,
		FormData:      r.FormData,
		Status:        r.Status,
		StatusMessage: r.StatusMessage,
		ResultPayload: r.ResultPayload,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func requestViews(rows []models.ServiceRequest) []requestView {
	out := make([]requestView, 0, len(rows))
	for _, row := range rows {
		out = append(out, newRequestView(row))
	}
	return out
}

type serviceView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	Price          string `json:"price"`
	VariablePrice  bool   `json:"variable_price"`
	CommissionRate string `json:"commission_rate"`
	Instant        bool   `json:"instant"`
}

func newServiceView(s models.Service) serviceView {
	return serviceView{
		ID:             s.ID,
		Name:           s.Name,
		Category:       s.Category,
		Price:          money.Format(s.Price),
		VariablePrice:  s.VariablePrice(),
		CommissionRate: s.CommissionRate.String(),
		Instant:        s.Instant,
	}
}

type auditView struct {
	ID         string          `json:"id"`
	ActorID    *string         `json:"actor_user_id,omitempty"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newAuditView(e models.AuditEntry) auditView {
	data := json.RawMessage(e.Data)
	if !json.Valid(data) {
		data = json.RawMessage("{}")
	}
	return auditView{
		ID:         e.ID,
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Data:       data,
		CreatedAt:  e.CreatedAt,
	}
}
