package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/digilinex-transfers/internal/events"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/repository/memory"
	"github.com/riteshkumar/digilinex-transfers/internal/retrier"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event *events.RequestEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func eventOf(eventType, requestID string) interface{} {
	return mock.MatchedBy(func(e *events.RequestEvent) bool {
		return e.EventType == eventType && e.RequestID == requestID
	})
}

type fixture struct {
	store     *memory.Store
	publisher *mockPublisher
	wallets   *WalletServiceImpl
	requests  *RequestServiceImpl
	executor  *TransactionServiceImpl
}

func newFixture(t *testing.T, storeOpts ...memory.Option) *fixture {
	t.Helper()

	storeOpts = append([]memory.Option{memory.WithClock(func() time.Time { return testNow })}, storeOpts...)
	store := memory.NewStore(storeOpts...)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	logger := testLogger()
	opts := []Option{
		WithClock(func() time.Time { return testNow }),
		WithPublisher(pub),
		WithRetrier(NewConflictRetrier(
			retrier.WithInitialInterval(time.Millisecond),
			retrier.WithMaxInterval(5*time.Millisecond),
			retrier.WithMaxRetries(50),
		)),
	}

	return &fixture{
		store:     store,
		publisher: pub,
		wallets:   NewWalletService(store, store, logger),
		requests:  NewRequestService(store, store, store, logger, opts...),
		executor:  NewTransactionService(store, store, logger, opts...),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// seed stores a wallet with the given bucket balances.
func (f *fixture) seed(userID string, balances map[models.Bucket]string) {
	w := models.NewWallet(userID)
	for b, amount := range balances {
		w.SetBalance(b, dec(amount))
	}
	f.store.SeedWallet(w)
}

func (f *fixture) balance(t *testing.T, userID string, bucket models.Bucket) decimal.Decimal {
	t.Helper()
	b, err := f.wallets.GetBalance(context.Background(), userID, bucket)
	require.NoError(t, err)
	return b
}

func (f *fixture) create(t *testing.T, direction models.Direction, userID, amount, currency string, hold bool) *models.TransferRequest {
	t.Helper()
	req, err := f.requests.CreateRequest(context.Background(), &models.CreateTransferRequest{
		UserID:    userID,
		Amount:    dec(amount),
		Currency:  currency,
		Hold:      hold,
		Direction: direction,
	})
	require.NoError(t, err)
	return req
}

// requestAudit returns the audit entries written against a request id.
func (f *fixture) requestAudit(requestID string) []*models.AuditLog {
	var out []*models.AuditLog
	for _, l := range f.store.AuditLogs() {
		if l.EntityType == models.EntityTypeRequest && l.EntityID == requestID {
			out = append(out, l)
		}
	}
	return out
}

// transitionAudit drops the hold entry, leaving one entry per status change.
func (f *fixture) transitionAudit(requestID string) []*models.AuditLog {
	var out []*models.AuditLog
	for _, l := range f.requestAudit(requestID) {
		if l.Action != models.AuditActionHold {
			out = append(out, l)
		}
	}
	return out
}
