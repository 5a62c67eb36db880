package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/events"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/repository"
	"github.com/riteshkumar/digilinex-transfers/internal/retrier"
)

// TransactionService is the only component that moves money. Every
// operation reads the request and wallet, validates, and writes the balance,
// the request status and one audit entry in a single atomic unit.
type TransactionService interface {
	ApproveDeposit(ctx context.Context, requestID, reviewer string) (*models.Resolution, error)
	ApproveWithdrawal(ctx context.Context, requestID, reviewer string) (*models.Resolution, error)
	RejectRequest(ctx context.Context, requestID, reviewer string) (*models.Resolution, error)
	CompleteRequest(ctx context.Context, requestID, reviewer string) (*models.Resolution, error)
}

type TransactionServiceImpl struct {
	txManager   repository.TxManager
	requestRepo repository.RequestRepository
	publisher   events.Publisher
	retrier     *retrier.Retrier
	logger      *slog.Logger
	now         func() time.Time
}

func NewTransactionService(txManager repository.TxManager, requestRepo repository.RequestRepository, logger *slog.Logger, opts ...Option) *TransactionServiceImpl {
	o := buildOptions(opts)
	return &TransactionServiceImpl{
		txManager:   txManager,
		requestRepo: requestRepo,
		publisher:   o.publisher,
		retrier:     o.retrier,
		logger:      logger,
		now:         o.now,
	}
}

// unitFunc is the body of one atomic unit. It returns the resolution and the
// event to publish once the unit has committed.
type unitFunc func(ctx context.Context, tx repository.Tx) (*models.Resolution, string, error)

type unitResult struct {
	resolution *models.Resolution
	eventType  string
}

// ApproveDeposit credits the deposit amount to the request's bucket.
func (s *TransactionServiceImpl) ApproveDeposit(ctx context.Context, requestID, reviewer string) (*models.Resolution, error) {
	return s.execute(ctx, "approve deposit", requestID, reviewer, func(ctx context.Context, tx repository.Tx) (*models.Resolution, string, error) {
		req, err := tx.GetRequestForUpdate(ctx, models.DirectionDeposit, requestID)
		if err != nil {
			return nil, "", err
		}
		if req.Status != models.StatusPending {
			return nil, "", errors.NewStateError(req.ID, string(req.Status), string(models.StatusApproved))
		}

		wallet, err := tx.GetWalletForUpdate(ctx, req.UserID)
		if err != nil {
			return nil, "", err
		}
		previousBalance := wallet.Balance(req.Bucket)

		newBalance, err := tx.AdjustBalance(ctx, req.UserID, req.Bucket, req.Amount)
		if err != nil {
			return nil, "", err
		}

		req.Status = models.StatusApproved
		req.MarkReviewed(reviewer, s.now())
		if err := tx.UpdateRequestStatus(ctx, req, models.StatusPending); err != nil {
			return nil, "", err
		}

		audit := newRequestAudit(models.AuditActionApproveDeposit, reviewer, req, models.StatusPending, previousBalance, newBalance)
		if err := tx.CreateAuditLog(ctx, audit); err != nil {
			return nil, "", err
		}

		return &models.Resolution{Request: req, PreviousBalance: previousBalance, NewBalance: newBalance}, events.EventRequestApproved, nil
	})
}

// ApproveWithdrawal debits the withdrawal amount from the request's bucket,
// unless the funds were already held when the request was filed.
func (s *TransactionServiceImpl) ApproveWithdrawal(ctx context.Context, requestID, reviewer string) (*models.Resolution, error) {
	return s.execute(ctx, "approve withdrawal", requestID, reviewer, func(ctx context.Context, tx repository.Tx) (*models.Resolution, string, error) {
		req, err := tx.GetRequestForUpdate(ctx, models.DirectionWithdrawal, requestID)
		if err != nil {
			return nil, "", err
		}
		if req.Status != models.StatusPending {
			return nil, "", errors.NewStateError(req.ID, string(req.Status), string(models.StatusApproved))
		}

		wallet, err := tx.GetWalletForUpdate(ctx, req.UserID)
		if err != nil {
			return nil, "", err
		}
		previousBalance := wallet.Balance(req.Bucket)
		newBalance := previousBalance

		if !req.Deducted {
			if previousBalance.LessThan(req.Amount) {
				s.logger.Warn("insufficient balance for withdrawal",
					"request_id", req.ID,
					"user_id", req.UserID,
					"bucket", req.Bucket,
					"available_balance", previousBalance.String(),
					"requested_amount", req.Amount.String(),
				)
				return nil, "", errors.NewInsufficientBalanceError(string(req.Bucket), previousBalance, req.Amount)
			}

			newBalance, err = tx.AdjustBalance(ctx, req.UserID, req.Bucket, req.Amount.Neg())
			if err != nil {
				return nil, "", err
			}
			req.Deducted = true
		}

		req.Status = models.StatusApproved
		req.MarkReviewed(reviewer, s.now())
		if err := tx.UpdateRequestStatus(ctx, req, models.StatusPending); err != nil {
			return nil, "", err
		}

		audit := newRequestAudit(models.AuditActionApproveWithdrawal, reviewer, req, models.StatusPending, previousBalance, newBalance)
		if err := tx.CreateAuditLog(ctx, audit); err != nil {
			return nil, "", err
		}

		return &models.Resolution{Request: req, PreviousBalance: previousBalance, NewBalance: newBalance}, events.EventRequestApproved, nil
	})
}

// RejectRequest moves a pending request to rejected. Funds are credited back
// only when the request carries the deducted flag.
func (s *TransactionServiceImpl) RejectRequest(ctx context.Context, requestID, reviewer string) (*models.Resolution, error) {
	return s.executeAny(ctx, "reject request", requestID, reviewer, func(ctx context.Context, tx repository.Tx, direction models.Direction) (*models.Resolution, string, error) {
		req, err := tx.GetRequestForUpdate(ctx, direction, requestID)
		if err != nil {
			return nil, "", err
		}
		if req.Status != models.StatusPending {
			return nil, "", errors.NewStateError(req.ID, string(req.Status), string(models.StatusRejected))
		}

		wallet, err := tx.GetWalletForUpdate(ctx, req.UserID)
		if err != nil {
			return nil, "", err
		}
		previousBalance := wallet.Balance(req.Bucket)
		newBalance := previousBalance
		refunded := decimal.Zero

		if req.Deducted {
			newBalance, err = tx.AdjustBalance(ctx, req.UserID, req.Bucket, req.Amount)
			if err != nil {
				return nil, "", err
			}
			refunded = req.Amount
			req.Deducted = false
		}

		req.Status = models.StatusRejected
		req.MarkReviewed(reviewer, s.now())
		if err := tx.UpdateRequestStatus(ctx, req, models.StatusPending); err != nil {
			return nil, "", err
		}

		audit := newRequestAudit(models.AuditActionReject, reviewer, req, models.StatusPending, previousBalance, newBalance)
		if err := tx.CreateAuditLog(ctx, audit); err != nil {
			return nil, "", err
		}

		return &models.Resolution{
			Request:         req,
			PreviousBalance: previousBalance,
			NewBalance:      newBalance,
			Refunded:        refunded,
		}, events.EventRequestRejected, nil
	})
}

// CompleteRequest closes an approved request once the payout or credit has
// been confirmed. Balances are untouched.
func (s *TransactionServiceImpl) CompleteRequest(ctx context.Context, requestID, reviewer string) (*models.Resolution, error) {
	return s.executeAny(ctx, "complete request", requestID, reviewer, func(ctx context.Context, tx repository.Tx, direction models.Direction) (*models.Resolution, string, error) {
		req, err := tx.GetRequestForUpdate(ctx, direction, requestID)
		if err != nil {
			return nil, "", err
		}
		if req.Status != models.StatusApproved {
			return nil, "", errors.NewStateError(req.ID, string(req.Status), string(models.StatusCompleted))
		}

		wallet, err := tx.GetWalletForUpdate(ctx, req.UserID)
		if err != nil {
			return nil, "", err
		}
		balance := wallet.Balance(req.Bucket)

		req.Status = models.StatusCompleted
		req.MarkReviewed(reviewer, s.now())
		if err := tx.UpdateRequestStatus(ctx, req, models.StatusApproved); err != nil {
			return nil, "", err
		}

		audit := newRequestAudit(models.AuditActionComplete, reviewer, req, models.StatusApproved, balance, balance)
		if err := tx.CreateAuditLog(ctx, audit); err != nil {
			return nil, "", err
		}

		return &models.Resolution{Request: req, PreviousBalance: balance, NewBalance: balance}, events.EventRequestCompleted, nil
	})
}

// executeAny resolves the request's direction first; it never changes, so it
// is safe to read outside the atomic unit.
func (s *TransactionServiceImpl) executeAny(ctx context.Context, operation, requestID, reviewer string, fn func(ctx context.Context, tx repository.Tx, direction models.Direction) (*models.Resolution, string, error)) (*models.Resolution, error) {
	if err := validateReview(requestID, reviewer); err != nil {
		return nil, err
	}

	existing, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("request not found",
				"operation", operation,
				"request_id", requestID,
			)
			return nil, err
		}
		s.logger.Error("failed to get request",
			"operation", operation,
			"request_id", requestID,
			"error", err.Error(),
		)
		return nil, errors.NewTransactionError(operation, err)
	}

	return s.execute(ctx, operation, requestID, reviewer, func(ctx context.Context, tx repository.Tx) (*models.Resolution, string, error) {
		return fn(ctx, tx, existing.Direction)
	})
}

// execute runs fn as one atomic unit, retrying transaction conflicts, and
// converts every failure into one of the service's error kinds.
func (s *TransactionServiceImpl) execute(ctx context.Context, operation, requestID, reviewer string, fn unitFunc) (*models.Resolution, error) {
	if err := validateReview(requestID, reviewer); err != nil {
		return nil, err
	}

	out, err := retrier.DoWithData(s.retrier, ctx, func(ctx context.Context) (unitResult, error) {
		var res unitResult
		err := s.txManager.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			var err error
			res.resolution, res.eventType, err = fn(ctx, tx)
			return err
		})
		return res, err
	})
	if err != nil {
		return nil, classify(s.logger, operation, requestID, err)
	}
	resolution := out.resolution

	s.logger.Info("request resolved",
		"operation", operation,
		"request_id", requestID,
		"reviewer", reviewer,
		"status", resolution.Request.Status,
		"previous_balance", resolution.PreviousBalance.String(),
		"new_balance", resolution.NewBalance.String(),
	)

	event := events.NewRequestEvent(out.eventType, resolution.Request, resolution.NewBalance)
	event.Refunded = resolution.Refunded.IsPositive()
	publish(ctx, s.publisher, s.logger, event)
	return resolution, nil
}

// classify logs err at the level its kind deserves and wraps anything that
// is not a domain error.
func classify(logger *slog.Logger, operation, requestID string, err error) error {
	switch {
	case errors.IsNotFound(err), errors.IsInvalidState(err), errors.IsInsufficientBalance(err), errors.IsValidationError(err):
		logger.Warn("request not resolved",
			"operation", operation,
			"request_id", requestID,
			"error", err.Error(),
		)
		return err
	case errors.IsConflict(err):
		logger.Warn("request still conflicting after retries",
			"operation", operation,
			"request_id", requestID,
			"error", err.Error(),
		)
		return err
	default:
		logger.Error("failed to resolve request",
			"operation", operation,
			"request_id", requestID,
			"error", err.Error(),
		)
		return errors.NewTransactionError(operation, err)
	}
}

func validateReview(requestID, reviewer string) error {
	if strings.TrimSpace(requestID) == "" {
		return errors.NewValidationError("request_id", "must be non-empty")
	}
	if strings.TrimSpace(reviewer) == "" {
		return errors.ErrMissingReviewer
	}
	return nil
}

func newRequestAudit(action, actor string, req *models.TransferRequest, previousStatus models.RequestStatus, previousBalance, newBalance decimal.Decimal) *models.AuditLog {
	return &models.AuditLog{
		Actor:      actor,
		Action:     action,
		EntityType: models.EntityTypeRequest,
		EntityID:   req.ID,
		Metadata: models.AuditMetadata{
			UserID:          req.UserID,
			Bucket:          req.Bucket,
			Currency:        req.Currency,
			Amount:          req.Amount,
			PreviousBalance: previousBalance,
			NewBalance:      newBalance,
			PreviousStatus:  previousStatus,
			NewStatus:       req.Status,
		},
	}
}
