package memory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
)

type tx struct {
	store *Store

	// reads holds the version of every key observed; 0 means absent.
	reads map[string]uint64

	wallets  map[string]*models.Wallet
	requests map[string]*models.TransferRequest
	dirty    map[string]bool
	audit    []*models.AuditLog
	migrated []string
}

func newTx(s *Store) *tx {
	return &tx{
		store:    s,
		reads:    make(map[string]uint64),
		wallets:  make(map[string]*models.Wallet),
		requests: make(map[string]*models.TransferRequest),
		dirty:    make(map[string]bool),
	}
}

// observe records the version of key the first time the unit touches it.
// Requires store.mu.
func (t *tx) observe(key string) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.store.versions[key]
	}
}

func (t *tx) GetRequestForUpdate(ctx context.Context, direction models.Direction, id string) (*models.TransferRequest, error) {
	req, err := t.loadRequest(id)
	if err != nil {
		return nil, err
	}
	if req.Direction != direction {
		return nil, errors.ErrRequestNotFound
	}
	return req.Clone(), nil
}

func (t *tx) loadRequest(id string) (*models.TransferRequest, error) {
	if req, ok := t.requests[id]; ok {
		return req, nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observe(requestKey(id))
	stored, ok := t.store.requests[id]
	if !ok {
		return nil, errors.ErrRequestNotFound
	}
	t.requests[id] = stored.Clone()
	return t.requests[id], nil
}

func (t *tx) CreateRequest(ctx context.Context, req *models.TransferRequest) error {
	t.store.mu.Lock()
	_, exists := t.store.requests[req.ID]
	t.observe(requestKey(req.ID))
	t.store.mu.Unlock()

	if _, staged := t.requests[req.ID]; exists || staged {
		return fmt.Errorf("failed to create request: duplicate id %s", req.ID)
	}
	t.requests[req.ID] = req.Clone()
	t.dirty[requestKey(req.ID)] = true
	return nil
}

func (t *tx) UpdateRequestStatus(ctx context.Context, req *models.TransferRequest, expected models.RequestStatus) error {
	current, err := t.loadRequest(req.ID)
	if err != nil {
		return err
	}
	if current.Status != expected {
		return errors.NewStateError(req.ID, string(current.Status), string(req.Status))
	}
	t.requests[req.ID] = req.Clone()
	t.dirty[requestKey(req.ID)] = true
	return nil
}

func (t *tx) GetWalletForUpdate(ctx context.Context, userID string) (*models.Wallet, error) {
	w := t.loadWallet(userID)
	return w.Clone(), nil
}

func (t *tx) loadWallet(userID string) *models.Wallet {
	if w, ok := t.wallets[userID]; ok {
		return w
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	key := walletKey(userID)
	t.observe(key)
	if stored, ok := t.store.wallets[userID]; ok {
		t.wallets[userID] = stored.Clone()
		return t.wallets[userID]
	}

	w := models.NewWallet(userID)
	w.CreatedAt = t.store.now()
	w.UpdatedAt = w.CreatedAt
	t.wallets[userID] = w
	t.dirty[key] = true
	return w
}

func (t *tx) AdjustBalance(ctx context.Context, userID string, bucket models.Bucket, delta decimal.Decimal) (decimal.Decimal, error) {
	if bucket.Currency() == "" {
		return decimal.Zero, fmt.Errorf("%w: %s", errors.ErrUnknownBucket, bucket)
	}
	w := t.loadWallet(userID)
	current := w.Balance(bucket)
	next := current.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, errors.NewInsufficientBalanceError(string(bucket), current, delta.Neg())
	}
	w.SetBalance(bucket, next)
	w.UpdatedAt = t.store.now()
	t.dirty[walletKey(userID)] = true
	return next, nil
}

func (t *tx) ReplaceBalances(ctx context.Context, wallet *models.Wallet) error {
	w := t.loadWallet(wallet.UserID)
	for _, b := range models.AllBuckets {
		w.SetBalance(b, wallet.Balance(b))
	}
	w.UpdatedAt = t.store.now()
	t.dirty[walletKey(wallet.UserID)] = true
	return nil
}

func (t *tx) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	t.audit = append(t.audit, log)
	return nil
}

func (t *tx) MarkLegacyMigrated(ctx context.Context, userID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.observe(legacyKey(userID))
	if _, ok := t.store.legacy[userID]; !ok {
		return errors.ErrLegacyWalletNotFound
	}
	t.migrated = append(t.migrated, userID)
	return nil
}

func (t *tx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range t.reads {
		if s.versions[key] != seen {
			return fmt.Errorf("commit: %w: %s changed", errors.ErrTransactionConflict, key)
		}
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	for userID, w := range t.wallets {
		key := walletKey(userID)
		if t.dirty[key] {
			s.wallets[userID] = w.Clone()
			s.versions[key]++
		}
	}
	for id, req := range t.requests {
		key := requestKey(id)
		if t.dirty[key] {
			s.requests[id] = req.Clone()
			s.versions[key]++
		}
	}
	for _, userID := range t.migrated {
		s.legacy[userID].migrated = true
		s.versions[legacyKey(userID)]++
	}
	for _, log := range t.audit {
		s.appendAudit(log)
	}
	return nil
}
