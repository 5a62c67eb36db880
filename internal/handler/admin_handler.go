package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/service"
	u "github.com/riteshkumar/digilinex-transfers/internal/utils"
)

// Sweeper is the part of the reversal service the admin API drives.
type Sweeper interface {
	SweepStale(ctx context.Context, now time.Time) (*models.SweepResponse, error)
}

// AdminHandler serves review decisions. Every route needs the reviewer header.
type AdminHandler struct {
	transactionService service.TransactionService
	sweeper            Sweeper
	logger             *slog.Logger
}

func NewAdminHandler(transactionService service.TransactionService, sweeper Sweeper, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		transactionService: transactionService,
		sweeper:            sweeper,
		logger:             logger,
	}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	admin := router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/deposits/{id}/approve", h.resolve("approve deposit", h.transactionService.ApproveDeposit)).Methods(http.MethodPost)
	admin.HandleFunc("/withdrawals/{id}/approve", h.resolve("approve withdrawal", h.transactionService.ApproveWithdrawal)).Methods(http.MethodPost)
	admin.HandleFunc("/requests/sweep", h.Sweep).Methods(http.MethodPost)
	admin.HandleFunc("/requests/{id}/reject", h.resolve("reject request", h.transactionService.RejectRequest)).Methods(http.MethodPost)
	admin.HandleFunc("/requests/{id}/complete", h.resolve("complete request", h.transactionService.CompleteRequest)).Methods(http.MethodPost)
}

type resolveFunc func(ctx context.Context, requestID, reviewer string) (*models.Resolution, error)

func (h *AdminHandler) resolve(operation string, fn resolveFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reviewer := u.Reviewer(r)
		if reviewer == "" {
			writeServiceError(w, h.logger, errors.ErrMissingReviewer, operation)
			return
		}

		resolution, err := fn(r.Context(), mux.Vars(r)["id"], reviewer)
		if err != nil {
			writeServiceError(w, h.logger, err, operation)
			return
		}

		u.WriteJSON(w, http.StatusOK, resolution)
	}
}

// Sweep rejects stale pending requests. A partial failure still returns the
// per-item report, with 207 Multi-Status.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	reviewer := u.Reviewer(r)
	if reviewer == "" {
		writeServiceError(w, h.logger, errors.ErrMissingReviewer, "sweep")
		return
	}

	h.logger.Info("stale sweep requested", "reviewer", reviewer)
	resp, err := h.sweeper.SweepStale(r.Context(), time.Now().UTC())
	if err != nil {
		if errors.IsBatchPartialFailure(err) && resp != nil {
			u.WriteJSON(w, http.StatusMultiStatus, resp)
			return
		}
		writeServiceError(w, h.logger, err, "sweep")
		return
	}

	u.WriteJSON(w, http.StatusOK, resp)
}
