package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/events"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/repository/memory"
	"github.com/riteshkumar/digilinex-transfers/internal/retrier"
)

func TestApproveDeposit_CreditsWallet(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "100"})
	req := f.create(t, models.DirectionDeposit, "u1", "50", "USDT", false)
	assert.Equal(t, models.StatusPending, req.Status)

	res, err := f.executor.ApproveDeposit(context.Background(), req.ID, "admin-1")
	require.NoError(t, err)

	assertAmount(t, "100", res.PreviousBalance)
	assertAmount(t, "150", res.NewBalance)
	assertAmount(t, "150", f.balance(t, "u1", models.BucketUSDTMain))

	stored, err := f.requests.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	require.NotNil(t, stored.Reviewer)
	assert.Equal(t, "admin-1", *stored.Reviewer)
	assert.Equal(t, testNow, *stored.ReviewedAt)
	assert.False(t, stored.Deducted)

	audit := f.requestAudit(req.ID)
	require.Len(t, audit, 1)
	assert.Equal(t, models.AuditActionApproveDeposit, audit[0].Action)
	assert.Equal(t, "admin-1", audit[0].Actor)
	assertAmount(t, "100", audit[0].Metadata.PreviousBalance)
	assertAmount(t, "150", audit[0].Metadata.NewBalance)
	assert.Equal(t, models.StatusPending, audit[0].Metadata.PreviousStatus)
	assert.Equal(t, models.StatusApproved, audit[0].Metadata.NewStatus)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOf(events.EventRequestApproved, req.ID))
}

func TestApproveDeposit_SecondApprovalFails(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "100"})
	req := f.create(t, models.DirectionDeposit, "u1", "50", "USDT", false)

	_, err := f.executor.ApproveDeposit(context.Background(), req.ID, "admin-1")
	require.NoError(t, err)
	assertAmount(t, "150", f.balance(t, "u1", models.BucketUSDTMain))

	_, err = f.executor.ApproveDeposit(context.Background(), req.ID, "admin-2")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidState(err))

	stateErr, ok := errors.AsStateError(err)
	require.True(t, ok)
	assert.Equal(t, string(models.StatusApproved), stateErr.Current)
	assert.Equal(t, string(models.StatusApproved), stateErr.Target)

	assertAmount(t, "150", f.balance(t, "u1", models.BucketUSDTMain))
	assert.Len(t, f.requestAudit(req.ID), 1)
}

func TestApproveDeposit_ConcurrentCallsCreditOnce(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "100"})
	req := f.create(t, models.DirectionDeposit, "u1", "50", "USDT", false)

	const callers = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		invalid   atomic.Int32
		other     atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.executor.ApproveDeposit(context.Background(), req.ID, fmt.Sprintf("admin-%d", i))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.IsInvalidState(err):
				invalid.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(callers-1), invalid.Load())
	assert.Zero(t, other.Load())
	assertAmount(t, "150", f.balance(t, "u1", models.BucketUSDTMain))
	assert.Len(t, f.requestAudit(req.ID), 1)
}

func TestApproveDeposit_ConcurrentDistinctRequestsAllLand(t *testing.T) {
	f := newFixture(t)

	const n = 10
	ids := make([]string, n)
	for i := range ids {
		ids[i] = f.create(t, models.DirectionDeposit, "u1", "1.5", "INR", false).ID
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.executor.ApproveDeposit(context.Background(), id, "admin-1")
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assertAmount(t, "15", f.balance(t, "u1", models.BucketINRMain))
}

func TestApproveWithdrawal(t *testing.T) {
	tests := []struct {
		name        string
		start       string
		amount      string
		wantErr     bool
		wantBalance string
		wantStatus  models.RequestStatus
	}{
		{name: "sufficient funds", start: "100", amount: "40", wantBalance: "60", wantStatus: models.StatusApproved},
		{name: "exact balance", start: "25", amount: "25", wantBalance: "0", wantStatus: models.StatusApproved},
		{name: "insufficient funds", start: "20", amount: "25", wantErr: true, wantBalance: "20", wantStatus: models.StatusPending},
		{name: "empty wallet", start: "0", amount: "0.01", wantErr: true, wantBalance: "0", wantStatus: models.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: tt.start})
			req := f.create(t, models.DirectionWithdrawal, "u1", tt.amount, "USDT", false)

			res, err := f.executor.ApproveWithdrawal(context.Background(), req.ID, "admin-1")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInsufficientBalance(err))
				balanceErr, ok := errors.AsInsufficientBalance(err)
				require.True(t, ok)
				assertAmount(t, tt.start, balanceErr.Available)
				assertAmount(t, tt.amount, balanceErr.Requested)
				assert.Empty(t, f.requestAudit(req.ID))
			} else {
				require.NoError(t, err)
				assert.True(t, res.Request.Deducted)
				assertAmount(t, tt.wantBalance, res.NewBalance)
				assert.Len(t, f.requestAudit(req.ID), 1)
			}

			assertAmount(t, tt.wantBalance, f.balance(t, "u1", models.BucketUSDTMain))
			stored, err := f.requests.GetRequest(context.Background(), req.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
		})
	}
}

func TestApproveWithdrawal_ConcurrentNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "100"})
	a := f.create(t, models.DirectionWithdrawal, "u1", "60", "USDT", false)
	b := f.create(t, models.DirectionWithdrawal, "u1", "60", "USDT", false)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.executor.ApproveWithdrawal(context.Background(), id, "admin-1")
		}(i, id)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.IsInsufficientBalance(err):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assertAmount(t, "40", f.balance(t, "u1", models.BucketUSDTMain))
}

func TestApproveWithdrawal_HeldFundsNotDebitedTwice(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTPurchase: "80"})
	req, err := f.requests.CreateRequest(context.Background(), &models.CreateTransferRequest{
		UserID:    "u1",
		Amount:    dec("30"),
		Currency:  "usdt",
		Bucket:    "purchase",
		Hold:      true,
		Direction: models.DirectionWithdrawal,
	})
	require.NoError(t, err)
	assertAmount(t, "50", f.balance(t, "u1", models.BucketUSDTPurchase))

	res, err := f.executor.ApproveWithdrawal(context.Background(), req.ID, "admin-1")
	require.NoError(t, err)
	assertAmount(t, "50", res.PreviousBalance)
	assertAmount(t, "50", res.NewBalance)
	assert.True(t, res.Request.Deducted)
	assertAmount(t, "50", f.balance(t, "u1", models.BucketUSDTPurchase))
}

func TestApprove_WrongDirectionIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketDLX: "10"})
	withdrawal := f.create(t, models.DirectionWithdrawal, "u1", "5", "DLX", false)
	deposit := f.create(t, models.DirectionDeposit, "u1", "5", "DLX", false)

	_, err := f.executor.ApproveDeposit(context.Background(), withdrawal.ID, "admin-1")
	assert.True(t, errors.IsNotFound(err))

	_, err = f.executor.ApproveWithdrawal(context.Background(), deposit.ID, "admin-1")
	assert.True(t, errors.IsNotFound(err))

	assertAmount(t, "10", f.balance(t, "u1", models.BucketDLX))
}

func TestExecutor_RequiresReviewer(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, models.DirectionDeposit, "u1", "5", "USDT", false)

	ops := map[string]func(ctx context.Context, id, reviewer string) (*models.Resolution, error){
		"approve deposit":    f.executor.ApproveDeposit,
		"approve withdrawal": f.executor.ApproveWithdrawal,
		"reject":             f.executor.RejectRequest,
		"complete":           f.executor.CompleteRequest,
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			_, err := op(context.Background(), req.ID, "  ")
			assert.ErrorIs(t, err, errors.ErrMissingReviewer)
		})
	}

	assert.Empty(t, f.store.AuditLogs())
}

func TestExecutor_UnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.ApproveDeposit(context.Background(), "missing", "admin-1")
	assert.True(t, errors.IsNotFound(err))

	_, err = f.executor.RejectRequest(context.Background(), "missing", "admin-1")
	assert.True(t, errors.IsNotFound(err))

	_, err = f.executor.CompleteRequest(context.Background(), "missing", "admin-1")
	assert.True(t, errors.IsNotFound(err))
}

func TestRejectRequest_NoRefundWithoutDeductedFlag(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "100"})
	req := f.create(t, models.DirectionWithdrawal, "u1", "30", "USDT", false)

	res, err := f.executor.RejectRequest(context.Background(), req.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Request.Status)
	assert.True(t, res.Refunded.IsZero())
	assertAmount(t, "100", f.balance(t, "u1", models.BucketUSDTMain))

	audit := f.requestAudit(req.ID)
	require.Len(t, audit, 1)
	assert.Equal(t, models.AuditActionReject, audit[0].Action)
	assert.True(t, audit[0].Metadata.Delta().IsZero())
}

func TestRejectRequest_RefundsHeldWithdrawalOnce(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketINRMain: "500"})
	req := f.create(t, models.DirectionWithdrawal, "u1", "200", "INR", true)
	assert.True(t, req.Deducted)
	assertAmount(t, "300", f.balance(t, "u1", models.BucketINRMain))

	res, err := f.executor.RejectRequest(context.Background(), req.ID, "admin-1")
	require.NoError(t, err)
	assertAmount(t, "200", res.Refunded)
	assert.False(t, res.Request.Deducted)
	assertAmount(t, "500", f.balance(t, "u1", models.BucketINRMain))
	f.publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e *events.RequestEvent) bool {
		return e.EventType == events.EventRequestRejected && e.Refunded
	}))

	_, err = f.executor.RejectRequest(context.Background(), req.ID, "admin-2")
	assert.True(t, errors.IsInvalidState(err))
	assertAmount(t, "500", f.balance(t, "u1", models.BucketINRMain))
	assert.Len(t, f.transitionAudit(req.ID), 1)

	audit := f.requestAudit(req.ID)
	require.Len(t, audit, 2)
	assert.Equal(t, models.AuditActionHold, audit[0].Action)
	assertAmount(t, "-200", audit[0].Metadata.Delta())
	assert.Equal(t, models.AuditActionReject, audit[1].Action)
	assertAmount(t, "200", audit[1].Metadata.Delta())
}

func TestNonPendingRequestsRefuseEveryResolution(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "100"})
	rejected := f.create(t, models.DirectionWithdrawal, "u1", "10", "USDT", false)
	_, err := f.executor.RejectRequest(context.Background(), rejected.ID, "admin-1")
	require.NoError(t, err)

	approved := f.create(t, models.DirectionDeposit, "u1", "10", "USDT", false)
	_, err = f.executor.ApproveDeposit(context.Background(), approved.ID, "admin-1")
	require.NoError(t, err)

	auditBefore := len(f.store.AuditLogs())
	balanceBefore := f.balance(t, "u1", models.BucketUSDTMain)

	_, err = f.executor.ApproveWithdrawal(context.Background(), rejected.ID, "admin-2")
	assert.True(t, errors.IsInvalidState(err))
	_, err = f.executor.RejectRequest(context.Background(), rejected.ID, "admin-2")
	assert.True(t, errors.IsInvalidState(err))
	_, err = f.executor.CompleteRequest(context.Background(), rejected.ID, "admin-2")
	assert.True(t, errors.IsInvalidState(err))
	_, err = f.executor.RejectRequest(context.Background(), approved.ID, "admin-2")
	assert.True(t, errors.IsInvalidState(err))
	_, err = f.executor.ApproveDeposit(context.Background(), approved.ID, "admin-2")
	assert.True(t, errors.IsInvalidState(err))

	assert.Len(t, f.store.AuditLogs(), auditBefore)
	assert.True(t, balanceBefore.Equal(f.balance(t, "u1", models.BucketUSDTMain)))
}

func TestCompleteRequest(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "100"})
	req := f.create(t, models.DirectionWithdrawal, "u1", "40", "USDT", false)

	_, err := f.executor.CompleteRequest(context.Background(), req.ID, "admin-1")
	assert.True(t, errors.IsInvalidState(err), "pending requests cannot be completed")

	_, err = f.executor.ApproveWithdrawal(context.Background(), req.ID, "admin-1")
	require.NoError(t, err)

	res, err := f.executor.CompleteRequest(context.Background(), req.ID, "payout-bot")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Request.Status)
	assertAmount(t, "60", f.balance(t, "u1", models.BucketUSDTMain))

	audit := f.requestAudit(req.ID)
	require.Len(t, audit, 2)
	assert.Equal(t, models.AuditActionComplete, audit[1].Action)
	assert.Equal(t, models.StatusApproved, audit[1].Metadata.PreviousStatus)
	assert.True(t, audit[1].Metadata.Delta().IsZero())

	_, err = f.executor.CompleteRequest(context.Background(), req.ID, "payout-bot")
	assert.True(t, errors.IsInvalidState(err))
}

func TestAuditDeltaMatchesEveryTransition(t *testing.T) {
	f := newFixture(t)
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "1000"})

	deposit := f.create(t, models.DirectionDeposit, "u1", "12.5", "USDT", false)
	withdrawal := f.create(t, models.DirectionWithdrawal, "u1", "7.25", "USDT", false)
	rejected := f.create(t, models.DirectionDeposit, "u1", "99", "USDT", false)
	held := f.create(t, models.DirectionWithdrawal, "u1", "40", "USDT", true)

	_, err := f.executor.ApproveDeposit(context.Background(), deposit.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.executor.ApproveWithdrawal(context.Background(), withdrawal.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.executor.RejectRequest(context.Background(), rejected.ID, "admin-1")
	require.NoError(t, err)
	_, err = f.executor.ApproveWithdrawal(context.Background(), held.ID, "admin-1")
	require.NoError(t, err)

	want := map[string]string{deposit.ID: "12.5", withdrawal.ID: "-7.25", rejected.ID: "0", held.ID: "0"}
	for id, delta := range want {
		audit := f.transitionAudit(id)
		require.Len(t, audit, 1, id)
		assertAmount(t, delta, audit[0].Metadata.Delta())
	}

	// The trail of every request adds up to what it did to the wallet.
	net := map[string]string{deposit.ID: "12.5", withdrawal.ID: "-7.25", rejected.ID: "0", held.ID: "-40"}
	for id, delta := range net {
		trail, err := f.requests.GetAuditTrail(context.Background(), id)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, l := range trail {
			sum = sum.Add(l.Metadata.Delta())
		}
		assertAmount(t, delta, sum)
	}
	assertAmount(t, "965.25", f.balance(t, "u1", models.BucketUSDTMain))
}

func TestApprove_FailedCommitLeavesNothingBehind(t *testing.T) {
	crash := fmt.Errorf("simulated crash")
	var fail atomic.Bool
	f := newFixture(t, memory.WithCommitHook(func() error {
		if fail.Load() {
			return crash
		}
		return nil
	}))
	f.seed("u1", map[models.Bucket]string{models.BucketUSDTMain: "100"})
	req := f.create(t, models.DirectionDeposit, "u1", "50", "USDT", false)

	fail.Store(true)
	_, err := f.executor.ApproveDeposit(context.Background(), req.ID, "admin-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, crash)
	var txErr *errors.TransactionError
	assert.ErrorAs(t, err, &txErr)

	assertAmount(t, "100", f.balance(t, "u1", models.BucketUSDTMain))
	stored, err := f.requests.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Nil(t, stored.Reviewer)
	assert.Empty(t, f.requestAudit(req.ID))
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, eventOf(events.EventRequestApproved, req.ID))

	fail.Store(false)
	_, err = f.executor.ApproveDeposit(context.Background(), req.ID, "admin-1")
	require.NoError(t, err)
	assertAmount(t, "150", f.balance(t, "u1", models.BucketUSDTMain))
}

func TestConflictsAreRetriedThenSurfaced(t *testing.T) {
	var commits atomic.Int32
	store := memory.NewStore(memory.WithCommitHook(func() error {
		commits.Add(1)
		return errors.ErrTransactionConflict
	}))
	executor := NewTransactionService(store, store, testLogger(),
		WithRetrier(NewConflictRetrier(
			retrier.WithInitialInterval(time.Millisecond),
			retrier.WithMaxRetries(3),
		)),
	)

	now := time.Now()
	store.SeedWallet(models.NewWallet("u1"))
	req := &models.TransferRequest{
		ID:        "dep-1",
		UserID:    "u1",
		Direction: models.DirectionDeposit,
		Amount:    dec("5"),
		Currency:  models.CurrencyUSDT,
		Bucket:    models.BucketUSDTMain,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.SeedRequest(req)

	_, err := executor.ApproveDeposit(context.Background(), req.ID, "admin-1")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, int32(4), commits.Load())
}
