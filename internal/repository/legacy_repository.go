package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

type PostgresLegacyWalletRepository struct {
	db *sqlx.DB
}

func NewLegacyWalletRepository(db *sqlx.DB) *PostgresLegacyWalletRepository {
	return &PostgresLegacyWalletRepository{db: db}
}

func (r *PostgresLegacyWalletRepository) ListUnmigrated(ctx context.Context, afterUserID string, limit int) ([]*models.LegacyWallet, error) {
	query := `SELECT user_id, doc FROM legacy_wallets
		WHERE migrated_at IS NULL AND user_id > $1
		ORDER BY user_id ASC
		LIMIT $2`

	var wallets []*models.LegacyWallet
	if err := r.db.SelectContext(ctx, &wallets, query, afterUserID, limit); err != nil {
		return nil, fmt.Errorf("failed to list legacy wallets: %w", err)
	}
	return wallets, nil
}

func markLegacyMigrated(ctx context.Context, tx *sqlx.Tx, userID string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE legacy_wallets SET migrated_at = CURRENT_TIMESTAMP WHERE user_id = $1`, userID)
	if err != nil {
		return mapPQError("mark legacy wallet migrated", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after marking legacy wallet: %w", err)
	}
	if rowsAffected == 0 {
		return errors.ErrLegacyWalletNotFound
	}
	return nil
}
