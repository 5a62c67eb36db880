package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

// SQLSTATE codes the store reacts to.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// mapPQError turns serialization failures and deadlocks into
// errors.ErrTransactionConflict and wraps everything else.
func mapPQError(operation string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %w: %s", operation, errors.ErrTransactionConflict, pqErr.Message)
		}
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

type PostgresTxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *PostgresTxManager {
	return &PostgresTxManager{db: db}
}

// WithinTx runs fn inside a SERIALIZABLE transaction. Rows are additionally
// locked with SELECT ... FOR UPDATE by the Tx methods.
func (m *PostgresTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return errors.NewTransactionError("begin", err)
	}

	// Ensure rollback on error
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPQError("commit", err)
	}

	// Nullify tx to avoid rollback in defer
	tx = nil
	return nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) GetRequestForUpdate(ctx context.Context, direction models.Direction, id string) (*models.TransferRequest, error) {
	return getRequestForUpdate(ctx, t.tx, direction, id)
}

func (t *postgresTx) CreateRequest(ctx context.Context, req *models.TransferRequest) error {
	return createRequest(ctx, t.tx, req)
}

func (t *postgresTx) UpdateRequestStatus(ctx context.Context, req *models.TransferRequest, expected models.RequestStatus) error {
	return updateRequestStatus(ctx, t.tx, req, expected)
}

func (t *postgresTx) GetWalletForUpdate(ctx context.Context, userID string) (*models.Wallet, error) {
	return getWalletForUpdate(ctx, t.tx, userID)
}

func (t *postgresTx) AdjustBalance(ctx context.Context, userID string, bucket models.Bucket, delta decimal.Decimal) (decimal.Decimal, error) {
	return adjustBalance(ctx, t.tx, userID, bucket, delta)
}

func (t *postgresTx) ReplaceBalances(ctx context.Context, wallet *models.Wallet) error {
	return replaceBalances(ctx, t.tx, wallet)
}

func (t *postgresTx) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return createAuditLog(ctx, t.tx, log)
}

func (t *postgresTx) MarkLegacyMigrated(ctx context.Context, userID string) error {
	return markLegacyMigrated(ctx, t.tx, userID)
}
