package store

import (
	"context"

	"agentdesk/internal/models"
)

// LedgerStore is the append-only transaction log. Rows are inserted and never
// updated; a reversal is a new REFUND row carrying the DEBIT's reference.
type LedgerStore struct {
	db DB
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Append(ctx context.Context, tx Execer, entry models.Transaction) error {
	status := entry.Status
	if status == "" {
		status = models.TransactionCompleted
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, description, reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.Type, entry.Amount, entry.Description, entry.Reference, status)
	return err
}

// FindByReference returns the entry of the given type for a reference, or
// sql.ErrNoRows.
func (s *LedgerStore) FindByReference(ctx context.Context, tx Getter, reference string, txType models.TransactionType) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT id, user_id, type, amount, description, reference, status, created_at
		FROM transactions
		WHERE reference = $1 AND type = $2
		ORDER BY created_at
		LIMIT 1
	`, reference, txType)
	if err != nil {
		return models.Transaction{}, err
	}
	return row, nil
}

func (s *LedgerStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	rows := []models.Transaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT t.id, t.user_id, t.type, t.amount, t.description, t.reference,
		       CASE
		           WHEN t.type = 'DEBIT' AND EXISTS (
		               SELECT 1 FROM transactions r
		               WHERE r.reference = t.reference AND r.type = 'REFUND'
		           ) THEN 'REVERSED'
		           ELSE t.status
		       END AS status,
		       t.created_at
		FROM transactions t
		WHERE t.user_id = $1
		ORDER BY t.created_at DESC, t.id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
