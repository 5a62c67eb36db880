package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

const DefaultChannel = "transfer_events"

const (
	EventRequestCreated   = "request.created"
	EventRequestApproved  = "request.approved"
	EventRequestRejected  = "request.rejected"
	EventRequestCompleted = "request.completed"
)

type RequestEvent struct {
	EventType    string               `json:"event_type"`
	RequestID    string               `json:"request_id"`
	UserID       string               `json:"user_id"`
	Direction    models.Direction     `json:"direction"`
	Status       models.RequestStatus `json:"status"`
	Amount       decimal.Decimal      `json:"amount"`
	Currency     models.Currency      `json:"currency"`
	Bucket       models.Bucket        `json:"bucket"`
	BalanceAfter decimal.Decimal      `json:"balance_after"`
	Refunded     bool                 `json:"refunded,omitempty"`
	Reviewer     string               `json:"reviewer,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// NewRequestEvent snapshots req after a committed change.
func NewRequestEvent(eventType string, req *models.TransferRequest, balanceAfter decimal.Decimal) *RequestEvent {
	event := &RequestEvent{
		EventType:    eventType,
		RequestID:    req.ID,
		UserID:       req.UserID,
		Direction:    req.Direction,
		Status:       req.Status,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Bucket:       req.Bucket,
		BalanceAfter: balanceAfter,
	}
	if req.Reviewer != nil {
		event.Reviewer = *req.Reviewer
	}
	return event
}

type Publisher interface {
	Publish(ctx context.Context, event *RequestEvent) error
}

type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *RequestEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}

	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func encode(event *RequestEvent) ([]byte, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}

// NoopPublisher drops every event. Used when no Redis address is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *RequestEvent) error { return nil }
