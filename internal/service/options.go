package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/events"
	"github.com/riteshkumar/digilinex-transfers/internal/retrier"
)

type options struct {
	now       func() time.Time
	publisher events.Publisher
	retrier   *retrier.Retrier
}

type Option func(*options)

// WithClock overrides the time source used for request and review timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithPublisher sets where committed changes are announced.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithRetrier sets the retry policy for atomic units that lose a conflict.
// Build it with NewConflictRetrier so other failures are not retried.
func WithRetrier(r *retrier.Retrier) Option {
	return func(o *options) {
		o.retrier = r
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:       func() time.Time { return time.Now().UTC() },
		publisher: events.NoopPublisher{},
		retrier:   NewConflictRetrier(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewConflictRetrier returns a retrier that only retries transaction conflicts.
func NewConflictRetrier(opts ...retrier.Option) *retrier.Retrier {
	return retrier.New(append(opts, retrier.WithRetryIf(errors.IsConflict))...)
}

func publish(ctx context.Context, p events.Publisher, logger *slog.Logger, event *events.RequestEvent) {
	if err := p.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish request event",
			"event_type", event.EventType,
			"request_id", event.RequestID,
			"error", err.Error(),
		)
	}
}
