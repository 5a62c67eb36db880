package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type AuditLog struct {
	ID         string        `json:"id" db:"id"`
	Actor      string        `json:"actor" db:"actor"`
	Action     string        `json:"action" db:"action"`
	EntityType string        `json:"entity_type" db:"entity_type"`
	EntityID   string        `json:"entity_id" db:"entity_id"`
	Metadata   AuditMetadata `json:"metadata" db:"metadata"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// AuditMetadata is the balance and status snapshot taken by the operation
// that wrote the entry.
type AuditMetadata struct {
	RequestID       string          `json:"requestId,omitempty"`
	UserID          string          `json:"userId,omitempty"`
	Bucket          Bucket          `json:"bucket,omitempty"`
	Currency        Currency        `json:"currency,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	PreviousBalance decimal.Decimal `json:"previousBalance"`
	NewBalance      decimal.Decimal `json:"newBalance"`
	PreviousStatus  RequestStatus   `json:"previousStatus,omitempty"`
	NewStatus       RequestStatus   `json:"newStatus,omitempty"`
	Balances        *WalletDocument `json:"balances,omitempty"`

	// PreviousBalances is set by whole-wallet writes such as migration.
	PreviousBalances *WalletDocument `json:"previousBalances,omitempty"`
}

func (m AuditMetadata) Delta() decimal.Decimal {
	return m.NewBalance.Sub(m.PreviousBalance)
}

func (m AuditMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *AuditMetadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = AuditMetadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into audit metadata", src)
	}
}

const (
	AuditActionApproveDeposit    = "deposit.approve"
	AuditActionApproveWithdrawal = "withdrawal.approve"
	AuditActionReject            = "request.reject"
	AuditActionComplete          = "request.complete"
	AuditActionHold              = "withdrawal.hold"
	AuditActionCreateWallet      = "wallet.create"
	AuditActionMigrateWallet     = "wallet.migrate"
)

const (
	EntityTypeRequest = "REQUEST"
	EntityTypeWallet  = "WALLET"
)

// LegacyWallet is a wallet document in one of the pre-canonical shapes.
type LegacyWallet struct {
	UserID   string          `db:"user_id"`
	Document json.RawMessage `db:"doc"`
}

type CreateWalletRequest struct {
	UserID string `json:"user_id"`
}

type WalletResponse struct {
	UserID    string         `json:"user_id"`
	Balances  WalletDocument `json:"balances"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type BalanceResponse struct {
	UserID  string          `json:"user_id"`
	Bucket  Bucket          `json:"bucket"`
	Balance decimal.Decimal `json:"balance"`
}

// CreateTransferRequest is the user-facing payload for deposit claims and
// withdrawal asks. Bucket is "main" or "purchase" and defaults to main.
type CreateTransferRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Bucket    string          `json:"bucket,omitempty"`
	Hold      bool            `json:"hold,omitempty"`
	Note      string          `json:"note,omitempty"`
	Direction Direction       `json:"-"`
}

type SweepResult struct {
	RequestID string          `json:"request_id"`
	UserID    string          `json:"user_id"`
	Refunded  decimal.Decimal `json:"refunded"`
	Error     string          `json:"error,omitempty"`
}

type SweepResponse struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Results   []SweepResult `json:"results"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type InsufficientBalanceResponse struct {
	Error     string          `json:"error"`
	Bucket    string          `json:"bucket"`
	Available decimal.Decimal `json:"available"`
	Requested decimal.Decimal `json:"requested"`
}

// Resolution is the outcome of a committed review decision.
type Resolution struct {
	Request         *TransferRequest `json:"request"`
	PreviousBalance decimal.Decimal  `json:"previous_balance"`
	NewBalance      decimal.Decimal  `json:"new_balance"`
	Refunded        decimal.Decimal  `json:"refunded"`
}
