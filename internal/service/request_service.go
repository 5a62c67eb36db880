package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/events"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/repository"
	"github.com/riteshkumar/digilinex-transfers/internal/retrier"
)

// maxAmountScale matches the NUMERIC(36,18) columns amounts are stored in.
const maxAmountScale = 18

const defaultListLimit = 50

type RequestService interface {
	CreateRequest(ctx context.Context, req *models.CreateTransferRequest) (*models.TransferRequest, error)
	GetRequest(ctx context.Context, id string) (*models.TransferRequest, error)
	ListUserRequests(ctx context.Context, userID string, limit int) ([]*models.TransferRequest, error)
	GetAuditTrail(ctx context.Context, requestID string) ([]*models.AuditLog, error)
}

type RequestServiceImpl struct {
	txManager   repository.TxManager
	requestRepo repository.RequestRepository
	auditRepo   repository.AuditRepository
	publisher   events.Publisher
	retrier     *retrier.Retrier
	logger      *slog.Logger
	now         func() time.Time
}

func NewRequestService(txManager repository.TxManager, requestRepo repository.RequestRepository, auditRepo repository.AuditRepository, logger *slog.Logger, opts ...Option) *RequestServiceImpl {
	o := buildOptions(opts)
	return &RequestServiceImpl{
		txManager:   txManager,
		requestRepo: requestRepo,
		auditRepo:   auditRepo,
		publisher:   o.publisher,
		retrier:     o.retrier,
		logger:      logger,
		now:         o.now,
	}
}

// CreateRequest files a pending deposit claim or withdrawal ask. A withdrawal
// with Hold set takes the funds out of the wallet in the same unit.
func (s *RequestServiceImpl) CreateRequest(ctx context.Context, in *models.CreateTransferRequest) (*models.TransferRequest, error) {
	req, err := s.buildRequest(in)
	if err != nil {
		s.logger.Warn("invalid transfer request",
			"user_id", in.UserID,
			"direction", in.Direction,
			"error", err.Error(),
		)
		return nil, err
	}

	balanceAfter, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) (decimal.Decimal, error) {
		balanceAfter := decimal.Zero
		err := s.txManager.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			// A retried attempt starts from the unheld request.
			req.Deducted = false
			if !in.Hold {
				return tx.CreateRequest(ctx, req)
			}

			wallet, err := tx.GetWalletForUpdate(ctx, req.UserID)
			if err != nil {
				return err
			}
			previousBalance := wallet.Balance(req.Bucket)
			if previousBalance.LessThan(req.Amount) {
				return errors.NewInsufficientBalanceError(string(req.Bucket), previousBalance, req.Amount)
			}

			newBalance, err := tx.AdjustBalance(ctx, req.UserID, req.Bucket, req.Amount.Neg())
			if err != nil {
				return err
			}
			req.Deducted = true
			if err := tx.CreateRequest(ctx, req); err != nil {
				return err
			}

			balanceAfter = newBalance
			return tx.CreateAuditLog(ctx, &models.AuditLog{
				Actor:      req.UserID,
				Action:     models.AuditActionHold,
				EntityType: models.EntityTypeRequest,
				EntityID:   req.ID,
				Metadata: models.AuditMetadata{
					RequestID:       req.ID,
					UserID:          req.UserID,
					Bucket:          req.Bucket,
					Currency:        req.Currency,
					Amount:          req.Amount,
					PreviousBalance: previousBalance,
					NewBalance:      newBalance,
					NewStatus:       req.Status,
				},
			})
		})
		return balanceAfter, err
	})
	if err != nil {
		return nil, classify(s.logger, "create request", req.ID, err)
	}

	s.logger.Info("transfer request created",
		"request_id", req.ID,
		"user_id", req.UserID,
		"direction", req.Direction,
		"amount", req.Amount.String(),
		"bucket", req.Bucket,
		"deducted", req.Deducted,
	)

	publish(ctx, s.publisher, s.logger, events.NewRequestEvent(events.EventRequestCreated, req, balanceAfter))
	return req, nil
}

func (s *RequestServiceImpl) buildRequest(in *models.CreateTransferRequest) (*models.TransferRequest, error) {
	if err := validateUserID(in.UserID); err != nil {
		return nil, err
	}
	if in.Direction != models.DirectionDeposit && in.Direction != models.DirectionWithdrawal {
		return nil, errors.NewValidationError("direction", "must be deposit or withdrawal")
	}
	if !in.Amount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	if in.Amount.Exponent() < -maxAmountScale {
		return nil, errors.NewValidationError("amount", "must have at most 18 decimal places")
	}
	currency, err := models.ParseCurrency(in.Currency)
	if err != nil {
		return nil, errors.NewValidationError("currency", err.Error())
	}
	bucket, err := models.BucketFor(currency, in.Bucket)
	if err != nil {
		return nil, errors.NewValidationError("bucket", err.Error())
	}
	if in.Hold && in.Direction != models.DirectionWithdrawal {
		return nil, errors.NewValidationError("hold", "only withdrawals can hold funds")
	}

	now := s.now()
	return &models.TransferRequest{
		ID:        uuid.New().String(),
		UserID:    in.UserID,
		Direction: in.Direction,
		Amount:    in.Amount,
		Currency:  currency,
		Bucket:    bucket,
		Status:    models.StatusPending,
		Note:      in.Note,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *RequestServiceImpl) GetRequest(ctx context.Context, id string) (*models.TransferRequest, error) {
	if id == "" {
		return nil, errors.NewValidationError("id", "must be non-empty")
	}

	req, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("request not found",
				"request_id", id,
			)
			return nil, err
		}
		s.logger.Error("failed to get request",
			"request_id", id,
			"error", err.Error(),
		)
		return nil, err
	}
	return req, nil
}

// ListUserRequests returns the user's requests, newest first. A non-positive
// limit falls back to a default page size.
func (s *RequestServiceImpl) ListUserRequests(ctx context.Context, userID string, limit int) ([]*models.TransferRequest, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	reqs, err := s.requestRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		s.logger.Error("failed to list requests",
			"user_id", userID,
			"error", err.Error(),
		)
		return nil, err
	}
	if reqs == nil {
		reqs = []*models.TransferRequest{}
	}
	return reqs, nil
}

// GetAuditTrail returns every audit entry written for the request, oldest first.
func (s *RequestServiceImpl) GetAuditTrail(ctx context.Context, requestID string) ([]*models.AuditLog, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}

	logs, err := s.auditRepo.GetByEntityID(ctx, models.EntityTypeRequest, requestID)
	if err != nil {
		s.logger.Error("failed to get audit trail",
			"request_id", requestID,
			"error", err.Error(),
		)
		return nil, err
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	return logs, nil
}
