package store

import (
	"context"

	"agentdesk/internal/models"
)

// AccountChangeStore holds at most one pending payout-account change per user.
type AccountChangeStore struct {
	db DB
}

func NewAccountChangeStore(db DB) *AccountChangeStore {
	return &AccountChangeStore{db: db}
}

// Upsert replaces any pending change for the user in place.
func (s *AccountChangeStore) Upsert(ctx context.Context, tx Execer, change models.PendingAccountChange) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_account_changes (user_id, new_bank_name, new_account_number, new_account_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET new_bank_name = EXCLUDED.new_bank_name,
		    new_account_number = EXCLUDED.new_account_number,
		    new_account_name = EXCLUDED.new_account_name,
		    created_at = NOW()
	`, change.UserID, change.NewBankName, change.NewAccountNumber, change.NewAccountName)
	return err
}

func (s *AccountChangeStore) GetForUpdate(ctx context.Context, tx Getter, userID string) (models.PendingAccountChange, error) {
	var row models.PendingAccountChange
	err := tx.GetContext(ctx, &row, `
		SELECT user_id, new_bank_name, new_account_number, new_account_name, created_at
		FROM pending_account_changes
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err != nil {
		return models.PendingAccountChange{}, err
	}
	return row, nil
}

func (s *AccountChangeStore) Delete(ctx context.Context, tx Execer, userID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM pending_account_changes WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *AccountChangeStore) List(ctx context.Context) ([]models.PendingAccountChange, error) {
	rows := []models.PendingAccountChange{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, new_bank_name, new_account_number, new_account_name, created_at
		FROM pending_account_changes
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
