package handler

import (
	"log/slog"
	"net/http"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	u "github.com/riteshkumar/digilinex-transfers/internal/utils"
)

// writeServiceError renders a service error. Storage failures never leak
// their detail to the client.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, operation string) {
	if balanceErr, ok := errors.AsInsufficientBalance(err); ok {
		u.WriteJSON(w, http.StatusUnprocessableEntity, models.InsufficientBalanceResponse{
			Error:     "insufficient balance",
			Bucket:    balanceErr.Bucket,
			Available: balanceErr.Available,
			Requested: balanceErr.Requested,
		})
		return
	}

	switch {
	case err == errors.ErrMissingReviewer:
		u.WriteError(w, http.StatusUnauthorized, "reviewer required", "set the "+u.ReviewerHeader+" header")
	case errors.IsValidationError(err):
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
	case err == errors.ErrInvalidAmount:
		u.WriteError(w, http.StatusBadRequest, "invalid amount", "amount must be positive")
	case err == errors.ErrInvalidUserID:
		u.WriteError(w, http.StatusBadRequest, "invalid user ID", "")
	case err == errors.ErrRequestNotFound:
		u.WriteError(w, http.StatusNotFound, "request not found", "")
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "not found", "")
	case errors.IsAlreadyExists(err):
		u.WriteError(w, http.StatusConflict, "wallet already exists", "")
	case errors.IsInvalidState(err):
		u.WriteError(w, http.StatusConflict, "invalid request state", err.Error())
	case errors.IsConflict(err):
		u.WriteError(w, http.StatusServiceUnavailable, "transaction conflict", "retry the request")
	default:
		logger.Error("internal server error during "+operation, "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
