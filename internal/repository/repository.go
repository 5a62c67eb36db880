package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

// Tx is the atomic unit. Balance adjustments and request status changes are
// only reachable through it, so every money movement commits together with
// its status change and audit entry or not at all.
type Tx interface {
	GetRequestForUpdate(ctx context.Context, direction models.Direction, id string) (*models.TransferRequest, error)
	CreateRequest(ctx context.Context, req *models.TransferRequest) error
	// UpdateRequestStatus persists req's status, deducted flag and review
	// fields, provided the stored status still equals expected.
	UpdateRequestStatus(ctx context.Context, req *models.TransferRequest, expected models.RequestStatus) error

	// GetWalletForUpdate locks the user's wallet, creating an all-zero one if absent.
	GetWalletForUpdate(ctx context.Context, userID string) (*models.Wallet, error)
	// AdjustBalance adds delta to one bucket and returns the new amount. A
	// result below zero fails with an insufficient balance error.
	AdjustBalance(ctx context.Context, userID string, bucket models.Bucket, delta decimal.Decimal) (decimal.Decimal, error)
	ReplaceBalances(ctx context.Context, wallet *models.Wallet) error

	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	MarkLegacyMigrated(ctx context.Context, userID string) error
}

type TxManager interface {
	// WithinTx runs fn in one atomic unit. It commits when fn returns nil and
	// rolls back otherwise. Concurrent modification of anything fn read
	// fails the commit with errors.ErrTransactionConflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type WalletRepository interface {
	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
}

type RequestRepository interface {
	GetByID(ctx context.Context, id string) (*models.TransferRequest, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.TransferRequest, error)
	// ListStale returns pending requests created before olderThan, oldest first.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.TransferRequest, error)
}

type AuditRepository interface {
	CreateWithDB(ctx context.Context, log *models.AuditLog) error
	GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error)
}

type LegacyWalletRepository interface {
	// ListUnmigrated pages through legacy wallets by user id.
	ListUnmigrated(ctx context.Context, afterUserID string, limit int) ([]*models.LegacyWallet, error)
}
