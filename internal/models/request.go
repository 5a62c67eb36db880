package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case DirectionDeposit, DirectionWithdrawal:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCompleted RequestStatus = "completed"
)

// transitions holds every legal status move. Anything absent is refused.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted},
}

func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s RequestStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// TransferRequest is a deposit claim or withdrawal ask awaiting review.
type TransferRequest struct {
	ID         string          `json:"id" db:"id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Direction  Direction       `json:"direction" db:"direction"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Currency   Currency        `json:"currency" db:"currency"`
	Bucket     Bucket          `json:"bucket" db:"bucket"`
	Status     RequestStatus   `json:"status" db:"status"`
	Deducted   bool            `json:"deducted" db:"deducted"`
	Note       string          `json:"note,omitempty" db:"note"`
	Reviewer   *string         `json:"reviewer,omitempty" db:"reviewer"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

func (r *TransferRequest) Clone() *TransferRequest {
	c := *r
	if r.Reviewer != nil {
		reviewer := *r.Reviewer
		c.Reviewer = &reviewer
	}
	if r.ReviewedAt != nil {
		at := *r.ReviewedAt
		c.ReviewedAt = &at
	}
	return &c
}

// MarkReviewed records the reviewer of a status change.
func (r *TransferRequest) MarkReviewed(reviewer string, at time.Time) {
	r.Reviewer = &reviewer
	r.ReviewedAt = &at
	r.UpdatedAt = at
}
