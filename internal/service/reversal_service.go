package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/repository"
)

// SweepReviewer is recorded as the reviewer of requests rejected by the sweeper.
const SweepReviewer = "system:stale-sweep"

// ReversalService rejects requests left pending past the stale threshold.
// Refunds go through RejectRequest, so only requests whose deducted flag is
// set get money back.
type ReversalService struct {
	executor    TransactionService
	requestRepo repository.RequestRepository
	staleAfter  time.Duration
	batchSize   int
	logger      *slog.Logger
}

func NewReversalService(executor TransactionService, requestRepo repository.RequestRepository, staleAfter time.Duration, batchSize int, logger *slog.Logger) *ReversalService {
	return &ReversalService{
		executor:    executor,
		requestRepo: requestRepo,
		staleAfter:  staleAfter,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// SweepStale rejects up to one batch of requests created before
// now - staleAfter. Each request is its own atomic unit; when some fail the
// report is returned together with a BatchError naming them.
func (s *ReversalService) SweepStale(ctx context.Context, now time.Time) (*models.SweepResponse, error) {
	cutoff := now.Add(-s.staleAfter)
	stale, err := s.requestRepo.ListStale(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list stale requests",
			"cutoff", cutoff,
			"error", err.Error(),
		)
		return nil, errors.NewTransactionError("list stale requests", err)
	}

	resp := &models.SweepResponse{Results: make([]models.SweepResult, 0, len(stale))}
	var failed []errors.ItemResult
	for _, req := range stale {
		result := models.SweepResult{RequestID: req.ID, UserID: req.UserID}

		resolution, err := s.executor.RejectRequest(ctx, req.ID, SweepReviewer)
		switch {
		case err == nil:
			result.Refunded = resolution.Refunded
			resp.Processed++
		case errors.IsInvalidState(err):
			// Resolved by a reviewer since it was listed.
			resp.Processed++
		default:
			result.Error = err.Error()
			resp.Failed++
			failed = append(failed, errors.ItemResult{ID: req.ID, Err: err})
		}
		resp.Results = append(resp.Results, result)
	}

	s.logger.Info("stale sweep finished",
		"cutoff", cutoff,
		"processed", resp.Processed,
		"failed", resp.Failed,
	)

	if len(failed) > 0 {
		return resp, &errors.BatchError{Operation: "stale sweep", Total: len(stale), Failed: failed}
	}
	return resp, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *ReversalService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if _, err := s.SweepStale(ctx, t.UTC()); err != nil {
				s.logger.Warn("stale sweep incomplete",
					"error", err.Error(),
				)
			}
		}
	}
}
