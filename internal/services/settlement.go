package services

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"agentdesk/internal/apperr"
	"agentdesk/internal/db"
	"agentdesk/internal/events"
	"agentdesk/internal/models"
	"agentdesk/internal/money"
	"agentdesk/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// SettlementEngine is the only component that moves money. Submit debits the
// requester; FinalizeSuccess and FinalizeFailure run inside the transaction
// of a lifecycle transition and pay commission or refund the debit.
type SettlementEngine struct {
	txRunner   db.TxRunner
	wallets    WalletStore
	ledger     LedgerStore
	requests   RequestStore
	audit      AuditStore
	pricing    Pricing
	forms      Forms
	commission *CommissionResolver
	events     EventPublisher
	metrics    Metrics
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewSettlementEngine(txRunner db.TxRunner, wallets WalletStore, ledger LedgerStore, requests RequestStore, audit AuditStore, pricing Pricing, forms Forms, commission *CommissionResolver) *SettlementEngine {
	return &SettlementEngine{
		txRunner:   txRunner,
		wallets:    wallets,
		ledger:     ledger,
		requests:   requests,
		audit:      audit,
		pricing:    pricing,
		forms:      forms,
		commission: commission,
		events:     noopPublisher{},
		metrics:    noopMetrics{},
		logger:     slog.Default(),
	}
}

func (e *SettlementEngine) SetEvents(publisher EventPublisher) {
	if publisher != nil {
		e.events = publisher
	}
}

func (e *SettlementEngine) SetMetrics(metrics Metrics) {
	if metrics != nil {
		e.metrics = metrics
	}
}

// SetDispatcher enables automated fulfillment of instant services. Without
// one, instant requests stay PROCESSING until an operator moves them.
func (e *SettlementEngine) SetDispatcher(dispatcher Dispatcher) {
	e.dispatcher = dispatcher
}

func (e *SettlementEngine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

type SubmitRequest struct {
	UserID    string
	ServiceID string
	// Amount is only read for variable-priced services. For fixed prices it
	// may be zero or must equal the price.
	Amount   decimal.Decimal
	FormData models.Payload
}

// Submit debits the requester and records the request in one transaction.
// Nothing is written when any check fails.
func (e *SettlementEngine) Submit(ctx context.Context, req SubmitRequest) (models.ServiceRequest, error) {
	created, err := e.submit(ctx, req)
	e.metrics.RecordSubmit(req.ServiceID, outcome(err))
	if err != nil {
		return models.ServiceRequest{}, err
	}
	e.metrics.RecordLedger(models.TransactionDebit, created.Amount)
	e.logger.Info("request submitted",
		"request_id", created.ID,
		"user_id", created.UserID,
		"service_id", created.ServiceID,
		"status", created.Status,
		"amount", money.Format(created.Amount),
	)
	e.events.Publish(events.New(events.RequestSubmitted, created.UserID, map[string]any{
		"service_id": created.ServiceID,
		"amount":     money.Format(created.Amount),
		"status":     created.Status,
	}).ForRequest(created.ID))
	return created, nil
}

func (e *SettlementEngine) submit(ctx context.Context, req SubmitRequest) (models.ServiceRequest, error) {
	const op = "services.SettlementEngine.Submit"
	if req.UserID == "" {
		return models.ServiceRequest{}, apperr.E(apperr.ValidationError, op, "user id is required")
	}
	svc, err := e.pricing.Lookup(req.ServiceID)
	if err != nil {
		return models.ServiceRequest{}, apperr.Wrap(op, err)
	}
	if !svc.Active {
		return models.ServiceRequest{}, apperr.E(apperr.ServiceUnavailable, op, "service "+svc.ID+" is not available")
	}
	amount, err := settledAmount(svc, req.Amount)
	if err != nil {
		return models.ServiceRequest{}, &apperr.Error{Kind: apperr.ValidationError, Op: op, Message: err.Error()}
	}
	if err := e.forms.Validate(svc.Category, req.FormData); err != nil {
		return models.ServiceRequest{}, apperr.Wrap(op, err)
	}

	status := models.RequestPending
	if svc.Instant {
		status = models.RequestProcessing
	}
	record := models.ServiceRequest{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		ServiceID:      svc.ID,
		Category:       svc.Category,
		Amount:         amount,
		CommissionRate: svc.CommissionRate,
		Reference:      uuid.NewString(),
		FormData:       req.FormData,
		Status:         status,
	}
	err = e.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		wallet, err := e.wallets.GetForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return notFound(op, err, "wallet not found")
		}
		if wallet.Balance.LessThan(amount) {
			return apperr.E(apperr.InsufficientFunds, op, "wallet balance "+money.Format(wallet.Balance)+" is below "+money.Format(amount))
		}
		if err := e.wallets.UpdateBalance(ctx, tx, req.UserID, wallet.Balance.Sub(amount)); err != nil {
			return apperr.Wrap(op, err)
		}
		if err := e.ledger.Append(ctx, tx, models.Transaction{
			ID:          uuid.NewString(),
			UserID:      req.UserID,
			Type:        models.TransactionDebit,
			Amount:      amount,
			Description: "Payment: " + svc.Name,
			Reference:   record.Reference,
		}); err != nil {
			return apperr.Wrap(op, err)
		}
		if err := e.requests.Create(ctx, tx, record); err != nil {
			return apperr.Wrap(op, err)
		}
		return nil
	})
	if err != nil {
		return models.ServiceRequest{}, err
	}
	if svc.Instant {
		e.dispatch(record, svc)
	}
	return record, nil
}

func (e *SettlementEngine) dispatch(req models.ServiceRequest, svc models.Service) {
	if e.dispatcher == nil {
		return
	}
	if !e.dispatcher.Dispatch(req, svc) {
		e.logger.Warn("fulfillment queue full; request left for manual review",
			"request_id", req.ID, "service_id", req.ServiceID)
	}
}

func settledAmount(svc models.Service, requested decimal.Decimal) (decimal.Decimal, error) {
	if requested.IsNegative() || requested.Exponent() < -money.Scale && !requested.Equal(requested.Truncate(money.Scale)) {
		return decimal.Zero, errors.New("amount must be a positive value with at most 2 decimal places")
	}
	if svc.VariablePrice() {
		if !requested.IsPositive() {
			return decimal.Zero, errors.New("amount is required for this service")
		}
		return requested.Truncate(money.Scale), nil
	}
	if !requested.IsZero() && !requested.Equal(svc.Price) {
		return decimal.Zero, errors.New("amount " + money.Format(requested) + " does not match the service price " + money.Format(svc.Price))
	}
	return svc.Price, nil
}

// FinalizeSuccess credits the aggregator's commission for a request that is
// being completed inside tx. The caller holds the request row lock and has
// already checked the request is not terminal.
func (e *SettlementEngine) FinalizeSuccess(ctx context.Context, tx store.Tx, req models.ServiceRequest) (CommissionSplit, error) {
	const op = "services.SettlementEngine.FinalizeSuccess"
	split, err := e.commission.Resolve(ctx, tx, req)
	if err != nil {
		return CommissionSplit{}, apperr.Wrap(op, err)
	}
	if !split.Payable() {
		return split, nil
	}
	if _, err := e.ledger.FindByReference(ctx, tx, req.Reference, models.TransactionCommission); err == nil {
		return CommissionSplit{}, apperr.E(apperr.IllegalTransition, op, "commission already credited for request "+req.ID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return CommissionSplit{}, apperr.Wrap(op, err)
	}
	wallet, err := e.wallets.GetForUpdate(ctx, tx, split.AggregatorID)
	if err != nil {
		return CommissionSplit{}, notFound(op, err, "aggregator wallet not found")
	}
	if err := e.wallets.UpdateCommissionBalance(ctx, tx, split.AggregatorID, wallet.CommissionBalance.Add(split.Commission)); err != nil {
		return CommissionSplit{}, apperr.Wrap(op, err)
	}
	err = e.ledger.Append(ctx, tx, models.Transaction{
		ID:          uuid.NewString(),
		UserID:      split.AggregatorID,
		Type:        models.TransactionCommission,
		Amount:      split.Commission,
		Description: "Commission on request " + req.ID,
		Reference:   req.Reference,
	})
	if db.IsUniqueViolation(err) {
		return CommissionSplit{}, apperr.As(apperr.IllegalTransition, op, err)
	}
	if err != nil {
		return CommissionSplit{}, apperr.Wrap(op, err)
	}
	return split, nil
}

// FinalizeFailure refunds the request's DEBIT inside tx. A second refund for
// the same reference is AlreadyReversed.
func (e *SettlementEngine) FinalizeFailure(ctx context.Context, tx store.Tx, req models.ServiceRequest, reason string) (models.Transaction, error) {
	const op = "services.SettlementEngine.FinalizeFailure"
	if strings.TrimSpace(reason) == "" {
		return models.Transaction{}, apperr.E(apperr.ValidationError, op, "a reason is required")
	}
	if _, err := e.ledger.FindByReference(ctx, tx, req.Reference, models.TransactionRefund); err == nil {
		return models.Transaction{}, apperr.E(apperr.AlreadyReversed, op, "request "+req.ID+" is already refunded")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, apperr.Wrap(op, err)
	}
	debit, err := e.ledger.FindByReference(ctx, tx, req.Reference, models.TransactionDebit)
	if err != nil {
		return models.Transaction{}, notFound(op, err, "debit for request "+req.ID+" not found")
	}
	wallet, err := e.wallets.GetForUpdate(ctx, tx, debit.UserID)
	if err != nil {
		return models.Transaction{}, notFound(op, err, "wallet not found")
	}
	if err := e.wallets.UpdateBalance(ctx, tx, debit.UserID, wallet.Balance.Add(debit.Amount)); err != nil {
		return models.Transaction{}, apperr.Wrap(op, err)
	}
	refund := models.Transaction{
		ID:          uuid.NewString(),
		UserID:      debit.UserID,
		Type:        models.TransactionRefund,
		Amount:      debit.Amount,
		Description: "Refund: " + reason,
		Reference:   req.Reference,
		Status:      models.TransactionCompleted,
	}
	err = e.ledger.Append(ctx, tx, refund)
	if db.IsUniqueViolation(err) {
		return models.Transaction{}, apperr.As(apperr.AlreadyReversed, op, err)
	}
	if err != nil {
		return models.Transaction{}, apperr.Wrap(op, err)
	}
	return refund, nil
}

type CreditRequest struct {
	ActorID   string
	UserID    string
	Amount    decimal.Decimal
	Note      string
	Reference string
}

// CreditWallet funds a wallet. The reference is the idempotency key: reusing
// one is a ValidationError.
func (e *SettlementEngine) CreditWallet(ctx context.Context, req CreditRequest) (models.Transaction, error) {
	const op = "services.SettlementEngine.CreditWallet"
	if req.UserID == "" {
		return models.Transaction{}, apperr.E(apperr.ValidationError, op, "user id is required")
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(money.Scale)) {
		return models.Transaction{}, apperr.E(apperr.ValidationError, op, "amount must be a positive value with at most 2 decimal places")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}
	description := "Wallet funding"
	if note := strings.TrimSpace(req.Note); note != "" {
		description += ": " + note
	}
	credit := models.Transaction{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Type:        models.TransactionCredit,
		Amount:      req.Amount,
		Description: description,
		Reference:   reference,
		Status:      models.TransactionCompleted,
	}
	var balance decimal.Decimal
	err := e.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := e.ledger.FindByReference(ctx, tx, reference, models.TransactionCredit); err == nil {
			return apperr.E(apperr.ValidationError, op, "reference "+reference+" was already used")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return apperr.Wrap(op, err)
		}
		wallet, err := e.wallets.GetForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return notFound(op, err, "wallet not found")
		}
		balance = wallet.Balance.Add(req.Amount)
		if err := e.wallets.UpdateBalance(ctx, tx, req.UserID, balance); err != nil {
			return apperr.Wrap(op, err)
		}
		err = e.ledger.Append(ctx, tx, credit)
		if db.IsUniqueViolation(err) {
			return &apperr.Error{Kind: apperr.ValidationError, Op: op, Message: "reference " + reference + " was already used", Err: err}
		}
		if err != nil {
			return apperr.Wrap(op, err)
		}
		return writeAudit(ctx, e.audit, tx, req.ActorID, "credit_wallet", "wallet", req.UserID, map[string]any{
			"transaction_id": credit.ID,
			"amount":         money.Format(req.Amount),
			"reference":      reference,
			"note":           req.Note,
		})
	})
	if err != nil {
		return models.Transaction{}, err
	}
	e.metrics.RecordLedger(models.TransactionCredit, req.Amount)
	e.logger.Info("wallet credited", "user_id", req.UserID, "actor_id", req.ActorID, "amount", money.Format(req.Amount), "reference", reference)
	e.events.Publish(events.New(events.WalletCredited, req.UserID, map[string]any{
		"amount":  money.Format(req.Amount),
		"balance": money.Format(balance),
	}))
	return credit, nil
}

func (e *SettlementEngine) Wallet(ctx context.Context, userID string) (models.Wallet, error) {
	wallet, err := e.wallets.GetByUser(ctx, userID)
	if err != nil {
		return models.Wallet{}, notFound("services.SettlementEngine.Wallet", err, "wallet not found")
	}
	return wallet, nil
}

func (e *SettlementEngine) Transactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	rows, err := e.ledger.ListByUser(ctx, userID, clampLimit(limit, 50, 200))
	if err != nil {
		return nil, apperr.Wrap("services.SettlementEngine.Transactions", err)
	}
	return rows, nil
}

// recordSettlement reports the ledger effects of a finished transition.
func (e *SettlementEngine) recordSettlement(split CommissionSplit, refund models.Transaction) {
	if split.Payable() {
		e.metrics.RecordLedger(models.TransactionCommission, split.Commission)
	}
	if refund.ID != "" {
		e.metrics.RecordLedger(models.TransactionRefund, refund.Amount)
	}
}
