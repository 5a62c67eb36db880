package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/repository"
)

type WalletService interface {
	CreateWallet(ctx context.Context, req *models.CreateWalletRequest) (*models.Wallet, error)
	GetWallet(ctx context.Context, userID string) (*models.Wallet, error)
	GetBalance(ctx context.Context, userID string, bucket models.Bucket) (decimal.Decimal, error)
}

type WalletServiceImpl struct {
	walletRepo repository.WalletRepository
	auditRepo  repository.AuditRepository
	logger     *slog.Logger
}

func NewWalletService(walletRepo repository.WalletRepository, auditRepo repository.AuditRepository, logger *slog.Logger) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		auditRepo:  auditRepo,
		logger:     logger,
	}
}

// CreateWallet registers an all-zero wallet for the user.
func (s *WalletServiceImpl) CreateWallet(ctx context.Context, req *models.CreateWalletRequest) (*models.Wallet, error) {
	if err := validateUserID(req.UserID); err != nil {
		s.logger.Warn("invalid create wallet request",
			"user_id", req.UserID,
			"error", err.Error(),
		)
		return nil, err
	}

	wallet := models.NewWallet(req.UserID)
	if err := s.walletRepo.CreateWallet(ctx, wallet); err != nil {
		if errors.IsAlreadyExists(err) {
			s.logger.Warn("wallet already exists",
				"user_id", req.UserID,
			)
			return nil, err
		}

		s.logger.Error("failed to create wallet",
			"user_id", req.UserID,
			"error", err.Error(),
		)
		return nil, err
	}

	if err := s.createWalletAuditLog(ctx, wallet); err != nil {
		s.logger.Error("failed to create audit log for wallet creation",
			"user_id", req.UserID,
			"error", err.Error(),
		)
	}
	s.logger.Info("wallet created successfully",
		"user_id", req.UserID,
	)
	return wallet, nil
}

// GetWallet returns the user's wallet, or an all-zero one when the user has
// never been credited.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.GetWallet(ctx, userID)
	if err != nil {
		if errors.IsNotFound(err) {
			return models.NewWallet(userID), nil
		}
		s.logger.Error("failed to get wallet",
			"user_id", userID,
			"error", err.Error(),
		)
		return nil, err
	}

	return wallet, nil
}

func (s *WalletServiceImpl) GetBalance(ctx context.Context, userID string, bucket models.Bucket) (decimal.Decimal, error) {
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance(bucket), nil
}

func (s *WalletServiceImpl) createWalletAuditLog(ctx context.Context, wallet *models.Wallet) error {
	doc := wallet.Document()
	auditLog := &models.AuditLog{
		Actor:      wallet.UserID,
		Action:     models.AuditActionCreateWallet,
		EntityType: models.EntityTypeWallet,
		EntityID:   wallet.UserID,
		Metadata: models.AuditMetadata{
			UserID:   wallet.UserID,
			Balances: &doc,
		},
	}

	return s.auditRepo.CreateWithDB(ctx, auditLog)
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.ErrInvalidUserID
	}
	return nil
}
