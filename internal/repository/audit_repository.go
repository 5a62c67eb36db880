package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

type PostgresAuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

const insertAuditLog = `INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
	RETURNING created_at`

// createAuditLog inserts a new audit log entry within a db transaction.
func createAuditLog(ctx context.Context, tx *sqlx.Tx, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	err := tx.QueryRowxContext(ctx, insertAuditLog,
		log.ID,
		log.Actor,
		log.Action,
		log.EntityType,
		log.EntityID,
		log.Metadata,
	).Scan(&log.CreatedAt)

	if err != nil {
		return mapPQError("create audit log", err)
	}
	return nil
}

// CreateWithDB inserts a new audit log entry using the db connection directly.
// Used for operations that move no money, e.g. wallet registration.
func (r *PostgresAuditRepository) CreateWithDB(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	err := r.db.QueryRowxContext(ctx, insertAuditLog,
		log.ID,
		log.Actor,
		log.Action,
		log.EntityType,
		log.EntityID,
		log.Metadata,
	).Scan(&log.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// GetByEntityID retrieves audit logs for a specific entity type and ID, oldest first.
func (r *PostgresAuditRepository) GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	query := `SELECT id, actor, action, entity_type, entity_id, metadata, created_at
		FROM audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC, id ASC`

	var logs []*models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, entityType, entityID); err != nil {
		return nil, fmt.Errorf("failed to get audit logs by entity ID: %w", err)
	}
	return logs, nil
}
