package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

// requestTables maps each direction to its table. Deposits and withdrawals
// live in separate tables with identical columns.
var requestTables = map[models.Direction]string{
	models.DirectionDeposit:    "deposit_requests",
	models.DirectionWithdrawal: "withdrawal_requests",
}

func requestTable(d models.Direction) (string, error) {
	table, ok := requestTables[d]
	if !ok {
		return "", fmt.Errorf("unknown request direction %q", d)
	}
	return table, nil
}

func selectRequests(d models.Direction) string {
	return fmt.Sprintf(`SELECT id, user_id, '%s' AS direction, amount, currency, bucket, status, deducted,
		note, reviewer, reviewed_at, created_at, updated_at FROM %s`, d, requestTables[d])
}

type PostgresRequestRepository struct {
	db *sqlx.DB
}

func NewRequestRepository(db *sqlx.DB) *PostgresRequestRepository {
	return &PostgresRequestRepository{db: db}
}

func (r *PostgresRequestRepository) GetByID(ctx context.Context, id string) (*models.TransferRequest, error) {
	query := selectRequests(models.DirectionDeposit) + ` WHERE id = $1
		UNION ALL ` + selectRequests(models.DirectionWithdrawal) + ` WHERE id = $1`

	req := &models.TransferRequest{}
	if err := r.db.GetContext(ctx, req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get request by ID: %w", err)
	}
	return req, nil
}

func (r *PostgresRequestRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.TransferRequest, error) {
	query := `SELECT * FROM (` + selectRequests(models.DirectionDeposit) + ` WHERE user_id = $1
		UNION ALL ` + selectRequests(models.DirectionWithdrawal) + ` WHERE user_id = $1) AS r
		ORDER BY created_at DESC
		LIMIT $2`

	var requests []*models.TransferRequest
	if err := r.db.SelectContext(ctx, &requests, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list requests by user: %w", err)
	}
	return requests, nil
}

func (r *PostgresRequestRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.TransferRequest, error) {
	query := `SELECT * FROM (` + selectRequests(models.DirectionDeposit) + ` WHERE status = $1 AND created_at < $2
		UNION ALL ` + selectRequests(models.DirectionWithdrawal) + ` WHERE status = $1 AND created_at < $2) AS r
		ORDER BY created_at ASC
		LIMIT $3`

	var requests []*models.TransferRequest
	if err := r.db.SelectContext(ctx, &requests, query, models.StatusPending, olderThan, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale requests: %w", err)
	}
	return requests, nil
}

func getRequestForUpdate(ctx context.Context, tx *sqlx.Tx, direction models.Direction, id string) (*models.TransferRequest, error) {
	if _, err := requestTable(direction); err != nil {
		return nil, err
	}
	query := selectRequests(direction) + ` WHERE id = $1 FOR UPDATE`

	req := &models.TransferRequest{}
	if err := tx.GetContext(ctx, req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrRequestNotFound
		}
		return nil, mapPQError("get request for update", err)
	}
	return req, nil
}

func createRequest(ctx context.Context, tx *sqlx.Tx, req *models.TransferRequest) error {
	table, err := requestTable(req.Direction)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, user_id, amount, currency, bucket, status, deducted, note, created_at, updated_at)
		VALUES (:id, :user_id, :amount, :currency, :bucket, :status, :deducted, :note, :created_at, :updated_at)`, table)

	if _, err := tx.NamedExecContext(ctx, query, req); err != nil {
		return mapPQError("create request", err)
	}
	return nil
}

func updateRequestStatus(ctx context.Context, tx *sqlx.Tx, req *models.TransferRequest, expected models.RequestStatus) error {
	table, err := requestTable(req.Direction)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, deducted = $2, reviewer = $3, reviewed_at = $4, updated_at = $5
		WHERE id = $6 AND status = $7`, table)

	result, err := tx.ExecContext(ctx, query,
		req.Status, req.Deducted, req.Reviewer, req.ReviewedAt, req.UpdatedAt, req.ID, expected)
	if err != nil {
		return mapPQError("update request status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating request status: %w", err)
	}

	if rowsAffected == 0 {
		return errors.NewStateError(req.ID, "no longer "+string(expected), string(req.Status))
	}
	return nil
}
