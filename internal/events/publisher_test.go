package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

func TestNewRequestEvent(t *testing.T) {
	reviewer := "admin-1"
	req := &models.TransferRequest{
		ID:        "req-1",
		UserID:    "user-1",
		Direction: models.DirectionDeposit,
		Amount:    decimal.NewFromInt(50),
		Currency:  models.CurrencyUSDT,
		Bucket:    models.BucketUSDTMain,
		Status:    models.StatusApproved,
		Reviewer:  &reviewer,
	}

	event := NewRequestEvent(EventRequestApproved, req, decimal.NewFromInt(150))

	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "admin-1", event.Reviewer)
	assert.True(t, event.BalanceAfter.Equal(decimal.NewFromInt(150)))
}

func TestEncode(t *testing.T) {
	event := &RequestEvent{
		EventType: EventRequestRejected,
		RequestID: "req-2",
		Amount:    decimal.RequireFromString("12.5"),
		Status:    models.StatusRejected,
	}

	payload, err := encode(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "request.rejected", decoded["event_type"])
	assert.Equal(t, "12.5", decoded["amount"])
	assert.Equal(t, "rejected", decoded["status"])
	assert.False(t, event.Timestamp.IsZero())
}

func TestEncodeKeepsTimestamp(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	event := &RequestEvent{EventType: EventRequestCreated, Timestamp: at}

	_, err := encode(event)
	require.NoError(t, err)
	assert.Equal(t, at, event.Timestamp)
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.Publish(context.Background(), &RequestEvent{}))
}

func TestRedisPublisher_DefaultsChannel(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	p := NewRedisPublisher(rdb, "")
	assert.Equal(t, DefaultChannel, p.channel)
}

func TestRedisPublisher_UnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	err := NewRedisPublisher(rdb, "test_events").Publish(context.Background(), &RequestEvent{EventType: EventRequestCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish event")
}
