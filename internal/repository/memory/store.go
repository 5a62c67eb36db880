// Package memory is an in-process implementation of the repository
// interfaces. Transactions are optimistic: a unit records the version of
// every record it reads and its commit fails with a transaction conflict if
// any of them changed in the meantime.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/repository"
)

type legacyRecord struct {
	doc      json.RawMessage
	migrated bool
}

type Store struct {
	mu       sync.Mutex
	wallets  map[string]*models.Wallet
	requests map[string]*models.TransferRequest
	legacy   map[string]*legacyRecord
	audit    []*models.AuditLog
	versions map[string]uint64

	now          func() time.Time
	beforeCommit func() error
}

type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithCommitHook runs fn after validation and before a unit's writes are
// applied. A non-nil error aborts the commit with nothing applied.
func WithCommitHook(fn func() error) Option {
	return func(s *Store) {
		s.beforeCommit = fn
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		wallets:  make(map[string]*models.Wallet),
		requests: make(map[string]*models.TransferRequest),
		legacy:   make(map[string]*legacyRecord),
		versions: make(map[string]uint64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ repository.TxManager              = (*Store)(nil)
	_ repository.WalletRepository       = (*Store)(nil)
	_ repository.RequestRepository      = (*Store)(nil)
	_ repository.AuditRepository        = (*Store)(nil)
	_ repository.LegacyWalletRepository = (*Store)(nil)
)

func walletKey(userID string) string { return "wallet:" + userID }
func requestKey(id string) string { return "request:" + id }
func legacyKey(userID string) string { return "legacy:" + userID }

// SeedWallet stores w as-is, replacing any existing wallet.
func (s *Store) SeedWallet(w *models.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := w.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
		c.UpdatedAt = c.CreatedAt
	}
	s.wallets[w.UserID] = c
	s.versions[walletKey(w.UserID)]++
}

// SeedRequest stores req as-is, replacing any request with the same id.
func (s *Store) SeedRequest(req *models.TransferRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req.Clone()
	s.versions[requestKey(req.ID)]++
}

// SeedLegacyWallet stores an unmigrated legacy wallet document.
func (s *Store) SeedLegacyWallet(userID string, doc json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacy[userID] = &legacyRecord{doc: doc}
	s.versions[legacyKey(userID)]++
}

// AuditLogs returns a copy of every audit entry in append order.
func (s *Store) AuditLogs() []*models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditLog, 0, len(s.audit))
	for _, l := range s.audit {
		c := *l
		out = append(out, &c)
	}
	return out
}

// IsLegacyMigrated reports whether the legacy wallet was marked migrated.
func (s *Store) IsLegacyMigrated(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.legacy[userID]
	return ok && rec.migrated
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, errors.ErrWalletNotFound
	}
	return w.Clone(), nil
}

func (s *Store) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[wallet.UserID]; ok {
		return errors.ErrWalletAlreadyExists
	}
	now := s.now()
	wallet.CreatedAt = now
	wallet.UpdatedAt = now
	s.wallets[wallet.UserID] = wallet.Clone()
	s.versions[walletKey(wallet.UserID)]++
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, errors.ErrRequestNotFound
	}
	return r.Clone(), nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*models.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TransferRequest
	for _, r := range s.requests {
		if r.UserID == userID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TransferRequest
	for _, r := range s.requests {
		if r.Status == models.StatusPending && r.CreatedAt.Before(olderThan) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateWithDB(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAudit(log)
	return nil
}

// appendAudit requires s.mu.
func (s *Store) appendAudit(log *models.AuditLog) {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = s.now()
	c := *log
	s.audit = append(s.audit, &c)
}

func (s *Store) GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditLog
	for _, l := range s.audit {
		if l.EntityType == entityType && l.EntityID == entityID {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) ListUnmigrated(ctx context.Context, afterUserID string, limit int) ([]*models.LegacyWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.legacy))
	for id, rec := range s.legacy {
		if !rec.migrated && id > afterUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*models.LegacyWallet, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.LegacyWallet{UserID: id, Document: s.legacy[id].doc})
	}
	return out, nil
}

// WithinTx runs fn against a private working set and commits it atomically.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}
