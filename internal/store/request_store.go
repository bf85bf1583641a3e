package store

import (
	"context"
	"strconv"

	"agentdesk/internal/models"
)

// RequestStore keeps every service category in one service_requests table;
// the category column and the jsonb payloads carry what differs.
type RequestStore struct {
	db DB
}

// StatusUpdate moves a request from From to To. The update only applies if
// the row still holds From.
type StatusUpdate struct {
	RequestID     string
	From          models.RequestStatus
	To            models.RequestStatus
	StatusMessage string
	ResultPayload models.Payload
}

const requestColumns = `id, user_id, service_id, category, amount, commission_rate, reference,
		       form_data, status, status_message, result_payload, created_at, updated_at`

func NewRequestStore(db DB) *RequestStore {
	return &RequestStore{db: db}
}

func (s *RequestStore) Create(ctx context.Context, tx Execer, req models.ServiceRequest) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO service_requests (id, user_id, service_id, category, amount, commission_rate, reference, form_data, status, status_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.UserID, req.ServiceID, req.Category, req.Amount, req.CommissionRate, req.Reference, req.FormData, req.Status, req.StatusMessage)
	return err
}

func (s *RequestStore) GetByID(ctx context.Context, requestID string) (models.ServiceRequest, error) {
	var row models.ServiceRequest
	err := s.db.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, requestID)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	return row, nil
}

func (s *RequestStore) GetForUpdate(ctx context.Context, tx Getter, requestID string) (models.ServiceRequest, error) {
	var row models.ServiceRequest
	err := tx.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1 FOR UPDATE`, requestID)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	return row, nil
}

// UpdateStatus returns the number of rows changed; zero means the request was
// no longer in update.From.
func (s *RequestStore) UpdateStatus(ctx context.Context, tx Execer, update StatusUpdate) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE service_requests
		SET status = $1, status_message = $2, result_payload = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, update.To, update.StatusMessage, update.ResultPayload, update.RequestID, update.From)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *RequestStore) ListByUser(ctx context.Context, userID, serviceID string, limit, offset int) ([]models.ServiceRequest, error) {
	rows := []models.ServiceRequest{}
	query := `SELECT ` + requestColumns + ` FROM service_requests WHERE user_id = $1`
	args := []any{userID}
	param := 2
	if serviceID != "" {
		query += " AND service_id = $2"
		args = append(args, serviceID)
		param = 3
	}
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(param) + " OFFSET $" + strconv.Itoa(param+1)
	args = append(args, limit, offset)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListPending returns non-terminal requests oldest first, the order reviewers
// work through them.
func (s *RequestStore) ListPending(ctx context.Context, limit, offset int) ([]models.ServiceRequest, error) {
	rows := []models.ServiceRequest{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE status IN ('PENDING', 'PROCESSING')
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
