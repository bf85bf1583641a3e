// Package services holds the settlement core: the Settlement Engine, the
// request Lifecycle Controller, the Commission Resolver and the account-change
// workflow. It is the only package that writes wallet balances.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"agentdesk/internal/apperr"
	"agentdesk/internal/events"
	"agentdesk/internal/models"
	"agentdesk/internal/store"

	"github.com/shopspring/decimal"
)

type WalletStore interface {
	Create(ctx context.Context, tx store.Execer, userID string) error
	GetByUser(ctx context.Context, userID string) (models.Wallet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.Wallet, error)
	UpdateBalance(ctx context.Context, tx store.Execer, userID string, balance decimal.Decimal) error
	UpdateCommissionBalance(ctx context.Context, tx store.Execer, userID string, balance decimal.Decimal) error
}

type LedgerStore interface {
	Append(ctx context.Context, tx store.Execer, entry models.Transaction) error
	FindByReference(ctx context.Context, tx store.Getter, reference string, txType models.TransactionType) (models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
}

type RequestStore interface {
	Create(ctx context.Context, tx store.Execer, req models.ServiceRequest) error
	GetByID(ctx context.Context, requestID string) (models.ServiceRequest, error)
	GetForUpdate(ctx context.Context, tx store.Getter, requestID string) (models.ServiceRequest, error)
	UpdateStatus(ctx context.Context, tx store.Execer, update store.StatusUpdate) (int64, error)
	ListByUser(ctx context.Context, userID, serviceID string, limit, offset int) ([]models.ServiceRequest, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.ServiceRequest, error)
}

type AccountChangeStore interface {
	Upsert(ctx context.Context, tx store.Execer, change models.PendingAccountChange) error
	GetForUpdate(ctx context.Context, tx store.Getter, userID string) (models.PendingAccountChange, error)
	Delete(ctx context.Context, tx store.Execer, userID string) (int64, error)
	List(ctx context.Context) ([]models.PendingAccountChange, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
}

// TxUserLookup reads users on the settlement transaction's own connection.
type TxUserLookup interface {
	GetInTx(ctx context.Context, tx store.Getter, userID string) (models.User, error)
}

type UserStore interface {
	UserLookup
	Create(ctx context.Context, tx store.Execer, user models.User) error
	GetByUsername(ctx context.Context, username string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	UpdatePayoutAccount(ctx context.Context, tx store.Execer, userID string, details models.AccountDetails) (int64, error)
	UpdatePasswordHash(ctx context.Context, tx store.Execer, userID, passwordHash string) (int64, error)
}

type AdminStore interface {
	Access(ctx context.Context, userID string) (models.AdminAccess, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID string, role models.AdminRole) error
	HasAnyAdmin(ctx context.Context, tx store.Getter) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, entry models.AuditEntry) error
}

// Pricing resolves a service id to its pricing descriptor.
type Pricing interface {
	Lookup(serviceID string) (models.Service, error)
}

// Forms validates category-specific formData.
type Forms interface {
	Validate(category string, form models.Payload) error
	ResultBearing(category string) bool
}

type EventPublisher interface {
	Publish(event events.Event)
}

type Metrics interface {
	RecordSubmit(serviceID, outcome string)
	RecordTransition(to models.RequestStatus, outcome string)
	RecordLedger(txType models.TransactionType, amount decimal.Decimal)
}

// Dispatcher hands an instant request to automated fulfillment. It returns
// false when the request could not be queued.
type Dispatcher interface {
	Dispatch(req models.ServiceRequest, svc models.Service) bool
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.Event) {}

type noopMetrics struct{}

func (noopMetrics) RecordSubmit(string, string)                          {}
func (noopMetrics) RecordTransition(models.RequestStatus, string)        {}
func (noopMetrics) RecordLedger(models.TransactionType, decimal.Decimal) {}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.Code(err)
}

// notFound converts sql.ErrNoRows into a NotFound error and wraps anything
// else with op.
func notFound(op string, err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &apperr.Error{Kind: apperr.NotFound, Op: op, Message: message, Err: err}
	}
	return apperr.Wrap(op, err)
}

func actorRef(actorID string) *string {
	if actorID == "" {
		return nil
	}
	return &actorID
}

func writeAudit(ctx context.Context, audit AuditStore, tx store.Execer, actorID, action, entityType, entityID string, data map[string]any) error {
	encoded := "{}"
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		encoded = string(raw)
	}
	return audit.Log(ctx, tx, models.AuditEntry{
		ActorID:    actorRef(actorID),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       encoded,
	})
}

func clampLimit(limit, fallback, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
