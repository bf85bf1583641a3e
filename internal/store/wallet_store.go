package store

import (
	"context"

	"agentdesk/internal/models"

	"github.com/shopspring/decimal"
)

type WalletStore struct {
	db DB
}

// WalletReconciliation compares the stored balances of one wallet with the
// totals implied by its transaction log.
type WalletReconciliation struct {
	UserID               string          `db:"user_id" json:"user_id"`
	Balance              decimal.Decimal `db:"balance" json:"balance"`
	LedgerBalance        decimal.Decimal `db:"ledger_balance" json:"ledger_balance"`
	CommissionBalance    decimal.Decimal `db:"commission_balance" json:"commission_balance"`
	LedgerCommission     decimal.Decimal `db:"ledger_commission" json:"ledger_commission"`
	BalanceDifference    decimal.Decimal `db:"balance_difference" json:"balance_difference"`
	CommissionDifference decimal.Decimal `db:"commission_difference" json:"commission_difference"`
}

func (r WalletReconciliation) Balanced() bool {
	return r.BalanceDifference.IsZero() && r.CommissionDifference.IsZero()
}

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

func (s *WalletStore) Create(ctx context.Context, tx Execer, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, commission_balance)
		VALUES ($1, 0, 0)
	`, userID)
	return err
}

func (s *WalletStore) GetByUser(ctx context.Context, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, balance, commission_balance, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

// GetForUpdate locks the wallet row for the rest of the transaction.
func (s *WalletStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT user_id, balance, commission_balance, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) UpdateBalance(ctx context.Context, tx Execer, userID string, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, updated_at = NOW()
		WHERE user_id = $2
	`, balance, userID)
	return err
}

func (s *WalletStore) UpdateCommissionBalance(ctx context.Context, tx Execer, userID string, balance decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET commission_balance = $1, updated_at = NOW()
		WHERE user_id = $2
	`, balance, userID)
	return err
}

// Reconcile returns every wallet with its ledger-implied balances:
// CREDIT + REFUND - DEBIT for the spendable balance and the COMMISSION sum
// for the commission balance.
func (s *WalletStore) Reconcile(ctx context.Context) ([]WalletReconciliation, error) {
	var rows []WalletReconciliation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT w.user_id,
		       w.balance,
		       COALESCE(l.spendable, 0) AS ledger_balance,
		       w.commission_balance,
		       COALESCE(l.commission, 0) AS ledger_commission,
		       (w.balance - COALESCE(l.spendable, 0)) AS balance_difference,
		       (w.commission_balance - COALESCE(l.commission, 0)) AS commission_difference
		FROM wallets w
		LEFT JOIN (
			SELECT user_id,
			       SUM(CASE type
			               WHEN 'CREDIT' THEN amount
			               WHEN 'REFUND' THEN amount
			               WHEN 'DEBIT' THEN -amount
			               ELSE 0
			           END) AS spendable,
			       SUM(CASE WHEN type = 'COMMISSION' THEN amount ELSE 0 END) AS commission
			FROM transactions
			GROUP BY user_id
		) l ON l.user_id = w.user_id
		ORDER BY w.user_id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
