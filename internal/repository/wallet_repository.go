package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

// bucketColumns maps each bucket to its wallets column. Only these names are
// ever interpolated into SQL.
var bucketColumns = map[models.Bucket]string{
	models.BucketUSDTMain:     "main_usdt",
	models.BucketUSDTPurchase: "purchase_usdt",
	models.BucketINRMain:      "main_inr",
	models.BucketINRPurchase:  "purchase_inr",
	models.BucketDLX:          "dlx",
}

func bucketColumn(b models.Bucket) (string, error) {
	col, ok := bucketColumns[b]
	if !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrUnknownBucket, b)
	}
	return col, nil
}

const walletColumns = `user_id, main_usdt, purchase_usdt, main_inr, purchase_inr, dlx, created_at, updated_at`

type walletRow struct {
	UserID       string          `db:"user_id"`
	MainUSDT     decimal.Decimal `db:"main_usdt"`
	PurchaseUSDT decimal.Decimal `db:"purchase_usdt"`
	MainINR      decimal.Decimal `db:"main_inr"`
	PurchaseINR  decimal.Decimal `db:"purchase_inr"`
	DLX          decimal.Decimal `db:"dlx"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r walletRow) toModel() *models.Wallet {
	w := models.NewWallet(r.UserID)
	w.SetBalance(models.BucketUSDTMain, r.MainUSDT)
	w.SetBalance(models.BucketUSDTPurchase, r.PurchaseUSDT)
	w.SetBalance(models.BucketINRMain, r.MainINR)
	w.SetBalance(models.BucketINRPurchase, r.PurchaseINR)
	w.SetBalance(models.BucketDLX, r.DLX)
	w.CreatedAt = r.CreatedAt
	w.UpdatedAt = r.UpdatedAt
	return w
}

type PostgresWalletRepository struct {
	db *sqlx.DB
}

func NewWalletRepository(db *sqlx.DB) *PostgresWalletRepository {
	return &PostgresWalletRepository{db: db}
}

func (r *PostgresWalletRepository) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	query := `INSERT INTO wallets (user_id, main_usdt, purchase_usdt, main_inr, purchase_inr, dlx, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		wallet.UserID,
		wallet.Balance(models.BucketUSDTMain),
		wallet.Balance(models.BucketUSDTPurchase),
		wallet.Balance(models.BucketINRMain),
		wallet.Balance(models.BucketINRPurchase),
		wallet.Balance(models.BucketDLX),
	).Scan(&wallet.CreatedAt, &wallet.UpdatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pgUniqueViolation {
			return errors.ErrWalletAlreadyExists
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (r *PostgresWalletRepository) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	var row walletRow
	if err := r.db.GetContext(ctx, &row, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return row.toModel(), nil
}

// getWalletForUpdate creates the zero wallet if needed, then locks its row.
func getWalletForUpdate(ctx context.Context, tx *sqlx.Tx, userID string) (*models.Wallet, error) {
	insert := `INSERT INTO wallets (user_id, created_at, updated_at)
		VALUES ($1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, insert, userID); err != nil {
		return nil, mapPQError("initialise wallet", err)
	}

	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	var row walletRow
	if err := tx.GetContext(ctx, &row, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrWalletNotFound
		}
		return nil, mapPQError("get wallet for update", err)
	}
	return row.toModel(), nil
}

func adjustBalance(ctx context.Context, tx *sqlx.Tx, userID string, bucket models.Bucket, delta decimal.Decimal) (decimal.Decimal, error) {
	col, err := bucketColumn(bucket)
	if err != nil {
		return decimal.Zero, err
	}

	// The guard keeps the CHECK constraint from firing, which would abort the
	// whole transaction and leave no way to read the available amount.
	query := fmt.Sprintf(`UPDATE wallets SET %[1]s = %[1]s + $1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $2 AND %[1]s + $1 >= 0
		RETURNING %[1]s`, col)

	var newAmount decimal.Decimal
	err = tx.QueryRowxContext(ctx, query, delta, userID).Scan(&newAmount)
	if err == nil {
		return newAmount, nil
	}
	if err != sql.ErrNoRows {
		return decimal.Zero, mapPQError("adjust wallet balance", err)
	}

	var available decimal.Decimal
	if err := tx.GetContext(ctx, &available, fmt.Sprintf(`SELECT %s FROM wallets WHERE user_id = $1`, col), userID); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, errors.ErrWalletNotFound
		}
		return decimal.Zero, mapPQError("read wallet balance", err)
	}
	return decimal.Zero, errors.NewInsufficientBalanceError(string(bucket), available, delta.Neg())
}

func replaceBalances(ctx context.Context, tx *sqlx.Tx, wallet *models.Wallet) error {
	query := `INSERT INTO wallets (user_id, main_usdt, purchase_usdt, main_inr, purchase_inr, dlx, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id) DO UPDATE SET
			main_usdt = EXCLUDED.main_usdt,
			purchase_usdt = EXCLUDED.purchase_usdt,
			main_inr = EXCLUDED.main_inr,
			purchase_inr = EXCLUDED.purchase_inr,
			dlx = EXCLUDED.dlx,
			updated_at = CURRENT_TIMESTAMP`

	_, err := tx.ExecContext(ctx, query,
		wallet.UserID,
		wallet.Balance(models.BucketUSDTMain),
		wallet.Balance(models.BucketUSDTPurchase),
		wallet.Balance(models.BucketINRMain),
		wallet.Balance(models.BucketINRPurchase),
		wallet.Balance(models.BucketDLX),
	)
	if err != nil {
		return mapPQError("replace wallet balances", err)
	}
	return nil
}
