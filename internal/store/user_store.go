package store

import (
	"context"

	"agentdesk/internal/models"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `id, username, email, password_hash, role, aggregator_id,
		       bank_name, account_number, account_name, created_at`

func (s *UserStore) Create(ctx context.Context, tx Execer, user models.User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, aggregator_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.AggregatorID)
	return err
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (models.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetInTx reads a user on tx's connection.
func (s *UserStore) GetInTx(ctx context.Context, tx Getter, userID string) (models.User, error) {
	var row models.User
	if err := tx.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID); err != nil {
		return models.User{}, err
	}
	return row, nil
}

func (s *UserStore) getOne(ctx context.Context, query string, arg string) (models.User, error) {
	var row models.User
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		return models.User{}, err
	}
	return row, nil
}

// UpdatePayoutAccount overwrites the live payout fields.
func (s *UserStore) UpdatePayoutAccount(ctx context.Context, tx Execer, userID string, details models.AccountDetails) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET bank_name = $1, account_number = $2, account_name = $3
		WHERE id = $4
	`, details.BankName, details.AccountNumber, details.AccountName, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, tx Execer, userID, passwordHash string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
