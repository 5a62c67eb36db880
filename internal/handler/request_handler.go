package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/service"
	u "github.com/riteshkumar/digilinex-transfers/internal/utils"
)

type RequestHandler struct {
	requestService service.RequestService
	logger         *slog.Logger
}

func NewRequestHandler(requestService service.RequestService, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		requestService: requestService,
		logger:         logger,
	}
}

func (h *RequestHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/deposits", h.create(models.DirectionDeposit)).Methods(http.MethodPost)
	router.HandleFunc("/withdrawals", h.create(models.DirectionWithdrawal)).Methods(http.MethodPost)
	router.HandleFunc("/requests/{id}", h.GetRequest).Methods(http.MethodGet)
	router.HandleFunc("/requests/{id}/audit", h.GetAuditTrail).Methods(http.MethodGet)
	router.HandleFunc("/users/{userId}/requests", h.ListUserRequests).Methods(http.MethodGet)
}

func (h *RequestHandler) create(direction models.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CreateTransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Warn("invalid create request payload",
				"direction", direction,
				"error", err.Error(),
			)
			u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
			return
		}
		req.Direction = direction

		created, err := h.requestService.CreateRequest(r.Context(), &req)
		if err != nil {
			writeServiceError(w, h.logger, err, "create "+string(direction))
			return
		}

		u.WriteJSON(w, http.StatusCreated, created)
	}
}

func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.requestService.GetRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err, "get request")
		return
	}

	u.WriteJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) ListUserRequests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			u.WriteError(w, http.StatusBadRequest, "invalid limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	reqs, err := h.requestService.ListUserRequests(r.Context(), mux.Vars(r)["userId"], limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "list requests")
		return
	}

	u.WriteJSON(w, http.StatusOK, reqs)
}

func (h *RequestHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	logs, err := h.requestService.GetAuditTrail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err, "get audit trail")
		return
	}

	u.WriteJSON(w, http.StatusOK, logs)
}
