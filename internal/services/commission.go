package services

import (
	"context"

	"agentdesk/internal/models"
	"agentdesk/internal/money"
	"agentdesk/internal/store"

	"github.com/shopspring/decimal"
)

// CommissionSplit divides a request's settled amount between the requester's
// aggregator and the platform. AggregatorID is empty when nobody earns
// commission.
type CommissionSplit struct {
	AggregatorID string
	Commission   decimal.Decimal
	Platform     decimal.Decimal
}

func (s CommissionSplit) Payable() bool {
	return s.AggregatorID != "" && s.Commission.IsPositive()
}

// CommissionResolver computes commission for a single aggregator level: the
// requester's direct aggregator. It credits nothing itself.
type CommissionResolver struct {
	users TxUserLookup
}

func NewCommissionResolver(users TxUserLookup) *CommissionResolver {
	return &CommissionResolver{users: users}
}

// Resolve applies the commission rate snapshotted on the request to its
// amount. A requester without an aggregator, an aggregator id that does not
// point at an aggregator, or the requester being their own aggregator all
// yield a zero commission. Users are read through tx so resolution never
// waits on a second pool connection.
func (r *CommissionResolver) Resolve(ctx context.Context, tx store.Getter, req models.ServiceRequest) (CommissionSplit, error) {
	const op = "services.CommissionResolver.Resolve"
	noCommission := CommissionSplit{Commission: decimal.Zero, Platform: req.Amount}
	requester, err := r.users.GetInTx(ctx, tx, req.UserID)
	if err != nil {
		return CommissionSplit{}, notFound(op, err, "requester not found")
	}
	if requester.AggregatorID == nil || *requester.AggregatorID == "" || *requester.AggregatorID == requester.ID {
		return noCommission, nil
	}
	aggregator, err := r.users.GetInTx(ctx, tx, *requester.AggregatorID)
	if err != nil {
		return CommissionSplit{}, notFound(op, err, "aggregator not found")
	}
	if aggregator.Role != models.RoleAggregator {
		return noCommission, nil
	}
	commission := money.ApplyRate(req.Amount, req.CommissionRate)
	if !commission.IsPositive() {
		return noCommission, nil
	}
	return CommissionSplit{
		AggregatorID: aggregator.ID,
		Commission:   commission,
		Platform:     req.Amount.Sub(commission),
	}, nil
}
