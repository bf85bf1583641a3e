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
	"agentdesk/internal/validator"

	"github.com/jmoiron/sqlx"
)

// AccountChangeService holds at most one pending payout-account change per
// user until an admin approves or rejects it.
type AccountChangeService struct {
	txRunner db.TxRunner
	changes  AccountChangeStore
	users    UserStore
	audit    AuditStore
	events   EventPublisher
	logger   *slog.Logger
}

func NewAccountChangeService(txRunner db.TxRunner, changes AccountChangeStore, users UserStore, audit AuditStore) *AccountChangeService {
	return &AccountChangeService{
		txRunner: txRunner,
		changes:  changes,
		users:    users,
		audit:    audit,
		events:   noopPublisher{},
		logger:   slog.Default(),
	}
}

func (s *AccountChangeService) SetEvents(publisher EventPublisher) {
	if publisher != nil {
		s.events = publisher
	}
}

func (s *AccountChangeService) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Request replaces any pending change for userID with details.
func (s *AccountChangeService) Request(ctx context.Context, userID string, details models.AccountDetails) (models.PendingAccountChange, error) {
	const op = "services.AccountChangeService.Request"
	details = models.AccountDetails{
		BankName:      strings.TrimSpace(details.BankName),
		AccountNumber: strings.TrimSpace(details.AccountNumber),
		AccountName:   strings.TrimSpace(details.AccountName),
	}
	if err := validator.ValidateAccountDetails(details); err != nil {
		return models.PendingAccountChange{}, &apperr.Error{Kind: apperr.ValidationError, Op: op, Message: err.Error(), Err: err}
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return models.PendingAccountChange{}, notFound(op, err, "user not found")
	}
	change := models.PendingAccountChange{
		UserID:           userID,
		NewBankName:      details.BankName,
		NewAccountNumber: details.AccountNumber,
		NewAccountName:   details.AccountName,
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.changes.Upsert(ctx, tx, change)
	})
	if err != nil {
		return models.PendingAccountChange{}, apperr.Wrap(op, err)
	}
	s.logger.Info("account change requested", "user_id", userID)
	return change, nil
}

// Approve applies the pending change to the user's payout account and
// removes it.
func (s *AccountChangeService) Approve(ctx context.Context, actorID, userID string) (models.AccountDetails, error) {
	const op = "services.AccountChangeService.Approve"
	var details models.AccountDetails
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		change, err := s.lockPending(ctx, tx, op, userID)
		if err != nil {
			return err
		}
		details = change.Details()
		rows, err := s.users.UpdatePayoutAccount(ctx, tx, userID, details)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if rows == 0 {
			return apperr.E(apperr.NotFound, op, "user not found")
		}
		if _, err := s.changes.Delete(ctx, tx, userID); err != nil {
			return apperr.Wrap(op, err)
		}
		return writeAudit(ctx, s.audit, tx, actorID, "approve_account_change", "user", userID, map[string]any{
			"bank_name":      details.BankName,
			"account_number": details.AccountNumber,
			"account_name":   details.AccountName,
		})
	})
	if err != nil {
		return models.AccountDetails{}, err
	}
	s.logger.Info("account change approved", "user_id", userID, "actor_id", actorID)
	s.events.Publish(events.New(events.AccountChangeApproved, userID, map[string]any{
		"bank_name":      details.BankName,
		"account_number": details.AccountNumber,
	}))
	return details, nil
}

// Reject discards the pending change without applying it.
func (s *AccountChangeService) Reject(ctx context.Context, actorID, userID, reason string) error {
	const op = "services.AccountChangeService.Reject"
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.lockPending(ctx, tx, op, userID); err != nil {
			return err
		}
		if _, err := s.changes.Delete(ctx, tx, userID); err != nil {
			return apperr.Wrap(op, err)
		}
		return writeAudit(ctx, s.audit, tx, actorID, "reject_account_change", "user", userID, map[string]any{
			"reason": reason,
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("account change rejected", "user_id", userID, "actor_id", actorID)
	s.events.Publish(events.New(events.AccountChangeRejected, userID, map[string]any{"reason": reason}))
	return nil
}

func (s *AccountChangeService) ListPending(ctx context.Context) ([]models.PendingAccountChange, error) {
	rows, err := s.changes.List(ctx)
	if err != nil {
		return nil, apperr.Wrap("services.AccountChangeService.ListPending", err)
	}
	return rows, nil
}

func (s *AccountChangeService) lockPending(ctx context.Context, tx *sqlx.Tx, op, userID string) (models.PendingAccountChange, error) {
	change, err := s.changes.GetForUpdate(ctx, tx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PendingAccountChange{}, apperr.E(apperr.NoPendingChange, op, "no pending account change for user "+userID)
	}
	if err != nil {
		return models.PendingAccountChange{}, apperr.Wrap(op, err)
	}
	return change, nil
}
