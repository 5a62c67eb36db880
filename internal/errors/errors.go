package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Domain error type for the balance transfer service
var (
	ErrRequestNotFound      = errors.New("request not found")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrWalletAlreadyExists  = errors.New("wallet already exists")
	ErrInvalidState         = errors.New("invalid request state")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrTransactionConflict  = errors.New("transaction conflict")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidUserID        = errors.New("invalid user ID")
	ErrMissingReviewer      = errors.New("reviewer identity is required")
	ErrBatchPartialFailure  = errors.New("batch partially failed")
	ErrUnknownBucket        = errors.New("unknown balance bucket")
	ErrLegacyWalletNotFound = errors.New("legacy wallet not found")
	ErrWalletHasFunds       = errors.New("wallet already holds funds")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// StateError reports a status transition that the request's current status does not allow.
type StateError struct {
	RequestID string
	Current   string
	Target    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("request %s is %s, cannot move to %s", e.RequestID, e.Current, e.Target)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

func NewStateError(requestID, current, target string) error {
	return &StateError{
		RequestID: requestID,
		Current:   current,
		Target:    target,
	}
}

type InsufficientBalanceError struct {
	Bucket    string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in %s: available %s, requested %s",
		e.Bucket, e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

func NewInsufficientBalanceError(bucket string, available, requested decimal.Decimal) error {
	return &InsufficientBalanceError{
		Bucket:    bucket,
		Available: available,
		Requested: requested,
	}
}

type TransactionError struct {
	Operation string
	Cause     error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction error during '%s': %v", e.Operation, e.Cause)
}

func (e *TransactionError) Unwrap() error {
	return e.Cause
}

func NewTransactionError(operation string, cause error) error {
	return &TransactionError{
		Operation: operation,
		Cause:     cause,
	}
}

// ItemResult is the outcome of one item of a bulk operation.
type ItemResult struct {
	ID  string
	Err error
}

// BatchError lists every failed item of a bulk operation. Items that are not
// listed were committed.
type BatchError struct {
	Operation string
	Total     int
	Failed    []ItemResult
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d items failed", e.Operation, len(e.Failed), e.Total)
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "; %s: %v", f.ID, f.Err)
	}
	return b.String()
}

func (e *BatchError) Unwrap() error {
	return ErrBatchPartialFailure
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrLegacyWalletNotFound)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientBalance)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrWalletAlreadyExists)
}

func IsBatchPartialFailure(err error) bool {
	return errors.Is(err, ErrBatchPartialFailure)
}

// AsInsufficientBalance extracts the available and requested amounts, if present.
func AsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var balanceErr *InsufficientBalanceError
	if errors.As(err, &balanceErr) {
		return balanceErr, true
	}
	return nil, false
}

// AsStateError extracts the current and attempted status, if present.
func AsStateError(err error) (*StateError, bool) {
	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return stateErr, true
	}
	return nil, false
}
