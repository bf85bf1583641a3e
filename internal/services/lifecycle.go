package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"agentdesk/internal/apperr"
	"agentdesk/internal/db"
	"agentdesk/internal/events"
	"agentdesk/internal/models"
	"agentdesk/internal/money"
	"agentdesk/internal/store"

	"github.com/jmoiron/sqlx"
)

var transitions = map[models.RequestStatus]map[models.RequestStatus]bool{
	models.RequestPending: {
		models.RequestProcessing: true,
		models.RequestCompleted:  true,
		models.RequestFailed:     true,
		models.RequestRejected:   true,
	},
	models.RequestProcessing: {
		models.RequestPending:   true,
		models.RequestCompleted: true,
		models.RequestFailed:    true,
		models.RequestRejected:  true,
	},
}

// CanTransition reports whether a request in from may move to to. Terminal
// states have no outgoing edges and no state moves to itself.
func CanTransition(from, to models.RequestStatus) bool {
	return transitions[from][to]
}

// LifecycleController drives requests through the state machine and runs
// the settlement effect of a terminal transition in the same transaction.
type LifecycleController struct {
	txRunner   db.TxRunner
	requests   RequestStore
	audit      AuditStore
	forms      Forms
	settlement *SettlementEngine
	events     EventPublisher
	metrics    Metrics
	logger     *slog.Logger
}

func NewLifecycleController(txRunner db.TxRunner, requests RequestStore, audit AuditStore, forms Forms, settlement *SettlementEngine) *LifecycleController {
	return &LifecycleController{
		txRunner:   txRunner,
		requests:   requests,
		audit:      audit,
		forms:      forms,
		settlement: settlement,
		events:     noopPublisher{},
		metrics:    noopMetrics{},
		logger:     slog.Default(),
	}
}

func (c *LifecycleController) SetEvents(publisher EventPublisher) {
	if publisher != nil {
		c.events = publisher
	}
}

func (c *LifecycleController) SetMetrics(metrics Metrics) {
	if metrics != nil {
		c.metrics = metrics
	}
}

func (c *LifecycleController) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

type TransitionRequest struct {
	RequestID string
	// ActorID is the admin performing the transition; empty for automated
	// fulfillment.
	ActorID       string
	Target        models.RequestStatus
	Note          string
	ResultPayload models.Payload
}

type transitionResult struct {
	request models.ServiceRequest
	from    models.RequestStatus
	split   CommissionSplit
	refund  models.Transaction
}

func (c *LifecycleController) Transition(ctx context.Context, req TransitionRequest) (models.ServiceRequest, error) {
	result, err := c.transition(ctx, req)
	c.metrics.RecordTransition(req.Target, outcome(err))
	if err != nil {
		return models.ServiceRequest{}, err
	}
	c.settlement.recordSettlement(result.split, result.refund)
	updated := result.request
	c.logger.Info("request transitioned",
		"request_id", updated.ID,
		"user_id", updated.UserID,
		"service_id", updated.ServiceID,
		"from", result.from,
		"status", updated.Status,
		"amount", money.Format(updated.Amount),
		"actor_id", req.ActorID,
	)
	c.publish(result)
	return updated, nil
}

func (c *LifecycleController) transition(ctx context.Context, req TransitionRequest) (transitionResult, error) {
	const op = "services.LifecycleController.Transition"
	if !req.Target.Valid() {
		return transitionResult{}, apperr.E(apperr.ValidationError, op, "unknown target state "+string(req.Target))
	}
	note := strings.TrimSpace(req.Note)
	if req.Target.Refundable() && note == "" {
		return transitionResult{}, apperr.E(apperr.ValidationError, op, "a reason is required to move a request to "+string(req.Target))
	}

	var result transitionResult
	err := c.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := c.requests.GetForUpdate(ctx, tx, req.RequestID)
		if err != nil {
			return notFound(op, err, "request "+req.RequestID+" not found")
		}
		if !CanTransition(current.Status, req.Target) {
			return apperr.E(apperr.IllegalTransition, op, "request "+current.ID+" is "+string(current.Status)+" and cannot move to "+string(req.Target))
		}
		update := store.StatusUpdate{
			RequestID:     current.ID,
			From:          current.Status,
			To:            req.Target,
			StatusMessage: note,
		}
		if req.Target == models.RequestCompleted {
			if c.forms.ResultBearing(current.Category) {
				if req.ResultPayload.Empty() {
					return apperr.E(apperr.ValidationError, op, "result_payload is required to complete a "+current.Category+" request")
				}
				update.ResultPayload = req.ResultPayload
			}
			if update.StatusMessage == "" {
				update.StatusMessage = "completed"
			}
		}
		rows, err := c.requests.UpdateStatus(ctx, tx, update)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if rows == 0 {
			return apperr.E(apperr.IllegalTransition, op, "request "+current.ID+" changed state concurrently")
		}

		result.from = current.Status
		switch {
		case req.Target == models.RequestCompleted:
			result.split, err = c.settlement.FinalizeSuccess(ctx, tx, current)
		case req.Target.Refundable():
			result.refund, err = c.settlement.FinalizeFailure(ctx, tx, current, note)
		}
		if err != nil {
			return err
		}

		auditData := map[string]any{
			"from": current.Status,
			"to":   req.Target,
			"note": note,
		}
		if result.split.Payable() {
			auditData["commission"] = money.Format(result.split.Commission)
			auditData["aggregator_id"] = result.split.AggregatorID
		}
		if result.refund.ID != "" {
			auditData["refund_transaction_id"] = result.refund.ID
		}
		if err := writeAudit(ctx, c.audit, tx, req.ActorID, "transition_request", "service_request", current.ID, auditData); err != nil {
			return apperr.Wrap(op, err)
		}

		current.Status = update.To
		current.StatusMessage = update.StatusMessage
		current.ResultPayload = update.ResultPayload
		current.UpdatedAt = time.Now().UTC()
		result.request = current
		return nil
	})
	if err != nil {
		return transitionResult{}, err
	}
	return result, nil
}

func (c *LifecycleController) publish(result transitionResult) {
	req := result.request
	switch {
	case req.Status == models.RequestCompleted:
		c.events.Publish(events.New(events.RequestCompleted, req.UserID, map[string]any{
			"service_id": req.ServiceID,
			"amount":     money.Format(req.Amount),
		}).ForRequest(req.ID))
		if result.split.Payable() {
			c.events.Publish(events.New(events.CommissionCredited, result.split.AggregatorID, map[string]any{
				"commission":   money.Format(result.split.Commission),
				"requester_id": req.UserID,
			}).ForRequest(req.ID))
		}
	case req.Status.Refundable():
		c.events.Publish(events.New(events.RequestFailed, req.UserID, map[string]any{
			"status":   req.Status,
			"reason":   req.StatusMessage,
			"refunded": money.Format(result.refund.Amount),
		}).ForRequest(req.ID))
	}
}

func (c *LifecycleController) Get(ctx context.Context, requestID string) (models.ServiceRequest, error) {
	req, err := c.requests.GetByID(ctx, requestID)
	if err != nil {
		return models.ServiceRequest{}, notFound("services.LifecycleController.Get", err, "request "+requestID+" not found")
	}
	return req, nil
}

// GetForUser returns the request only if userID owns it; another user's
// request is reported as not found.
func (c *LifecycleController) GetForUser(ctx context.Context, userID, requestID string) (models.ServiceRequest, error) {
	req, err := c.Get(ctx, requestID)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	if req.UserID != userID {
		return models.ServiceRequest{}, apperr.E(apperr.NotFound, "services.LifecycleController.GetForUser", "request "+requestID+" not found")
	}
	return req, nil
}

func (c *LifecycleController) ListForUser(ctx context.Context, userID, serviceID string, limit, offset int) ([]models.ServiceRequest, error) {
	rows, err := c.requests.ListByUser(ctx, userID, serviceID, clampLimit(limit, 50, 200), max(offset, 0))
	if err != nil {
		return nil, apperr.Wrap("services.LifecycleController.ListForUser", err)
	}
	return rows, nil
}

func (c *LifecycleController) ListPending(ctx context.Context, limit, offset int) ([]models.ServiceRequest, error) {
	rows, err := c.requests.ListPending(ctx, clampLimit(limit, 50, 200), max(offset, 0))
	if err != nil {
		return nil, apperr.Wrap("services.LifecycleController.ListPending", err)
	}
	return rows, nil
}
