// Package reconcile checks that every wallet balance equals the sum of its
// ledger entries.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"agentdesk/internal/apperr"
	"agentdesk/internal/money"
	"agentdesk/internal/store"

	"github.com/robfig/cron/v3"
)

type Source interface {
	Reconcile(ctx context.Context) ([]store.WalletReconciliation, error)
}

type Gauge interface {
	SetDiscrepancies(n int)
}

type Report struct {
	CheckedAt     time.Time                    `json:"checked_at"`
	Wallets       int                          `json:"wallets"`
	Discrepancies []store.WalletReconciliation `json:"discrepancies"`
}

func (r Report) Balanced() bool {
	return len(r.Discrepancies) == 0
}

type Reconciler struct {
	source Source
	gauge  Gauge
	logger *slog.Logger
	now    func() time.Time
}

func New(source Source, gauge Gauge, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{source: source, gauge: gauge, logger: logger, now: time.Now}
}

// Run compares each wallet with its ledger and reports the wallets that
// disagree.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	rows, err := r.source.Reconcile(ctx)
	if err != nil {
		return Report{}, apperr.Wrap("reconcile.Run", err)
	}
	report := Report{
		CheckedAt:     r.now().UTC(),
		Wallets:       len(rows),
		Discrepancies: []store.WalletReconciliation{},
	}
	for _, row := range rows {
		if row.Balanced() {
			continue
		}
		report.Discrepancies = append(report.Discrepancies, row)
		r.logger.Error("wallet does not match ledger",
			"user_id", row.UserID,
			"balance", money.Format(row.Balance),
			"ledger_balance", money.Format(row.LedgerBalance),
			"commission_balance", money.Format(row.CommissionBalance),
			"ledger_commission", money.Format(row.LedgerCommission),
		)
	}
	if r.gauge != nil {
		r.gauge.SetDiscrepancies(len(report.Discrepancies))
	}
	r.logger.Info("reconcile finished", "wallets", report.Wallets, "discrepancies", len(report.Discrepancies))
	return report, nil
}

// Schedule registers Run on spec and starts the scheduler. The caller stops
// it with Stop on shutdown.
func (r *Reconciler) Schedule(spec string) (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(r.logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.logger.Error("scheduled reconcile failed", "error", err)
		}
	}); err != nil {
		return nil, err
	}
	c.Start()
	r.logger.Info("scheduled reconcile job", "schedule", spec)
	return c, nil
}
