package store

import (
	"context"

	"agentdesk/internal/models"

	"github.com/google/uuid"
)

// AuditStore records admin and settlement actions. Log is always called with
// the transaction that performs the audited change.
type AuditStore struct {
	db DB
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	Limit      int
	Offset     int
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Log(ctx context.Context, tx Execer, entry models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	data := entry.Data
	if data == "" {
		data = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, action, entity_type, entity_id, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, data)
	return err
}

func (s *AuditStore) List(ctx context.Context, filter AuditFilter) ([]models.AuditEntry, error) {
	rows := []models.AuditEntry{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_user_id, action, entity_type, entity_id, data, created_at
		FROM audit_logs
		WHERE ($1 = '' OR entity_type = $1)
		  AND ($2 = '' OR entity_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, filter.EntityType, filter.EntityID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
