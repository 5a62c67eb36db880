package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/service"
	u "github.com/riteshkumar/digilinex-transfers/internal/utils"
)

type WalletHandler struct {
	walletService service.WalletService
	logger        *slog.Logger
}

func NewWalletHandler(walletService service.WalletService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		walletService: walletService,
		logger:        logger,
	}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/wallets", h.CreateWallet).Methods(http.MethodPost)
	router.HandleFunc("/wallets/{userId}", h.GetWallet).Methods(http.MethodGet)
	router.HandleFunc("/wallets/{userId}/balances/{bucket}", h.GetBalance).Methods(http.MethodGet)
}

func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid create wallet request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	wallet, err := h.walletService.CreateWallet(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "create wallet")
		return
	}

	u.WriteJSON(w, http.StatusCreated, walletResponse(wallet))
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	wallet, err := h.walletService.GetWallet(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err, "get wallet")
		return
	}

	u.WriteJSON(w, http.StatusOK, walletResponse(wallet))
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]

	bucket, err := models.ParseBucket(vars["bucket"])
	if err != nil {
		u.WriteError(w, http.StatusBadRequest, "unknown bucket", err.Error())
		return
	}

	balance, err := h.walletService.GetBalance(r.Context(), userID, bucket)
	if err != nil {
		writeServiceError(w, h.logger, err, "get balance")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.BalanceResponse{
		UserID:  userID,
		Bucket:  bucket,
		Balance: balance,
	})
}

func walletResponse(wallet *models.Wallet) models.WalletResponse {
	return models.WalletResponse{
		UserID:    wallet.UserID,
		Balances:  wallet.Document(),
		UpdatedAt: wallet.UpdatedAt,
	}
}
