package handlers

import (
	"context"

	"agentdesk/internal/middleware"
	"agentdesk/internal/models"
	"agentdesk/internal/reconcile"
	"agentdesk/internal/services"
	"agentdesk/internal/store"
)

type Settlement interface {
	Submit(ctx context.Context, req services.SubmitRequest) (models.ServiceRequest, error)
	CreditWallet(ctx context.Context, req services.CreditRequest) (models.Transaction, error)
	Wallet(ctx context.Context, userID string) (models.Wallet, error)
	Transactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
}

type Lifecycle interface {
	Transition(ctx context.Context, req services.TransitionRequest) (models.ServiceRequest, error)
	Get(ctx context.Context, requestID string) (models.ServiceRequest, error)
	GetForUser(ctx context.Context, userID, requestID string) (models.ServiceRequest, error)
	ListForUser(ctx context.Context, userID, serviceID string, limit, offset int) ([]models.ServiceRequest, error)
	ListPending(ctx context.Context, limit, offset int) ([]models.ServiceRequest, error)
}

type AccountChanges interface {
	Request(ctx context.Context, userID string, details models.AccountDetails) (models.PendingAccountChange, error)
	Approve(ctx context.Context, actorID, userID string) (models.AccountDetails, error)
	Reject(ctx context.Context, actorID, userID, reason string) error
	ListPending(ctx context.Context) ([]models.PendingAccountChange, error)
}

type AdminCommands interface {
	Provision(ctx context.Context, req services.ProvisionRequest) (models.User, error)
	ResetPassword(ctx context.Context, actorID, userID, password string) error
	Promote(ctx context.Context, actorID, identifier string) (string, error)
	GrantRole(ctx context.Context, actorID, adminUserID string, role models.AdminRole) error
}

type Catalog interface {
	Active() []models.Service
}

type UserLookup interface {
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByUsername(ctx context.Context, username string) (models.User, error)
}

type AuditLog interface {
	List(ctx context.Context, filter store.AuditFilter) ([]models.AuditEntry, error)
}

type Reconciler interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

type AdminStore interface {
	middleware.AdminStore
	Roles(ctx context.Context, userID string) ([]models.AdminRole, error)
}
