package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riteshkumar/digilinex-transfers/internal/errors"
	"github.com/riteshkumar/digilinex-transfers/internal/models"
	"github.com/riteshkumar/digilinex-transfers/internal/repository"
	"github.com/riteshkumar/digilinex-transfers/internal/retrier"
)

// MigrationActor is recorded as the actor of wallet.migrate audit entries.
const MigrationActor = "system:wallet-migration"

// writesPerItem is the number of store writes one migrated wallet costs:
// the balances, the migrated marker and the audit entry.
const writesPerItem = 3

type ItemStatus string

const (
	ItemMigrated ItemStatus = "migrated"
	ItemDryRun   ItemStatus = "dry-run"
	ItemFailed   ItemStatus = "failed"
)

type ItemReport struct {
	UserID string
	Status ItemStatus
	Wallet *models.Wallet
	Err    error
}

type Report struct {
	Items    []ItemReport
	Migrated int
	Failed   int
}

type Migrator struct {
	txManager  repository.TxManager
	legacyRepo repository.LegacyWalletRepository
	retrier    *retrier.Retrier
	batchSize  int
	dryRun     bool
	logger     *slog.Logger
}

type Option func(*Migrator)

// WithDryRun makes Run normalize and report without writing anything.
func WithDryRun(dryRun bool) Option {
	return func(m *Migrator) {
		m.dryRun = dryRun
	}
}

func WithRetrier(r *retrier.Retrier) Option {
	return func(m *Migrator) {
		m.retrier = r
	}
}

// NewMigrator builds a migrator whose atomic units carry at most batchSize writes.
func NewMigrator(txManager repository.TxManager, legacyRepo repository.LegacyWalletRepository, batchSize int, logger *slog.Logger, opts ...Option) *Migrator {
	m := &Migrator{
		txManager:  txManager,
		legacyRepo: legacyRepo,
		retrier:    retrier.New(retrier.WithRetryIf(errors.IsConflict)),
		batchSize:  batchSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Migrator) itemsPerUnit() int {
	n := m.batchSize / writesPerItem
	if n < 1 {
		return 1
	}
	return n
}

// Run migrates every unmigrated legacy wallet. Each page is committed as its
// own unit, so a failed page leaves earlier pages in place. When any item
// failed the report comes back with a BatchError listing them.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	var failed []errors.ItemResult
	after := ""

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		page, err := m.legacyRepo.ListUnmigrated(ctx, after, m.itemsPerUnit())
		if err != nil {
			m.logger.Error("failed to list legacy wallets",
				"after", after,
				"error", err.Error(),
			)
			return report, errors.NewTransactionError("list legacy wallets", err)
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].UserID

		items := m.migratePage(ctx, page)
		for _, item := range items {
			switch item.Status {
			case ItemFailed:
				report.Failed++
				failed = append(failed, errors.ItemResult{ID: item.UserID, Err: item.Err})
			case ItemMigrated:
				report.Migrated++
			}
		}
		report.Items = append(report.Items, items...)
	}

	m.logger.Info("wallet migration finished",
		"dry_run", m.dryRun,
		"migrated", report.Migrated,
		"failed", report.Failed,
	)

	if len(failed) > 0 {
		return report, &errors.BatchError{Operation: "wallet migration", Total: len(report.Items), Failed: failed}
	}
	return report, nil
}

func (m *Migrator) migratePage(ctx context.Context, page []*models.LegacyWallet) []ItemReport {
	items := make([]ItemReport, 0, len(page))
	var ready []int

	for _, legacy := range page {
		wallet, err := Normalize(legacy.UserID, legacy.Document)
		if err != nil {
			m.logger.Warn("legacy wallet cannot be normalized",
				"user_id", legacy.UserID,
				"error", err.Error(),
			)
			items = append(items, ItemReport{UserID: legacy.UserID, Status: ItemFailed, Err: err})
			continue
		}
		status := ItemMigrated
		if m.dryRun {
			status = ItemDryRun
		}
		ready = append(ready, len(items))
		items = append(items, ItemReport{UserID: legacy.UserID, Status: status, Wallet: wallet})
	}

	if m.dryRun || len(ready) == 0 {
		return items
	}

	// funded holds the items whose live wallet already carries money. They are
	// left untouched and fail alone; the rest of the page still commits.
	var funded map[int]error
	err := m.retrier.Do(ctx, func(ctx context.Context) error {
		funded = make(map[int]error)
		return m.txManager.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			current := make(map[int]*models.Wallet, len(ready))
			for _, i := range ready {
				wallet, err := tx.GetWalletForUpdate(ctx, items[i].UserID)
				if err != nil {
					return err
				}
				if !wallet.IsEmpty() {
					funded[i] = fmt.Errorf("%w: user %s", errors.ErrWalletHasFunds, items[i].UserID)
					continue
				}
				current[i] = wallet
			}
			for _, i := range ready {
				if _, skip := funded[i]; skip {
					continue
				}
				if err := m.writeItem(ctx, tx, current[i], items[i].Wallet); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		m.logger.Error("failed to commit migration batch",
			"first_user_id", items[ready[0]].UserID,
			"size", len(ready),
			"error", err.Error(),
		)
		for _, i := range ready {
			items[i].Status = ItemFailed
			items[i].Err = err
		}
		return items
	}

	for i, fundedErr := range funded {
		m.logger.Warn("live wallet already holds funds, legacy wallet left unmigrated",
			"user_id", items[i].UserID,
		)
		items[i].Status = ItemFailed
		items[i].Err = fundedErr
	}
	return items
}

func (m *Migrator) writeItem(ctx context.Context, tx repository.Tx, previous, wallet *models.Wallet) error {
	if err := tx.ReplaceBalances(ctx, wallet); err != nil {
		return err
	}
	if err := tx.MarkLegacyMigrated(ctx, wallet.UserID); err != nil {
		return err
	}
	prevDoc := previous.Document()
	doc := wallet.Document()
	return tx.CreateAuditLog(ctx, &models.AuditLog{
		Actor:      MigrationActor,
		Action:     models.AuditActionMigrateWallet,
		EntityType: models.EntityTypeWallet,
		EntityID:   wallet.UserID,
		Metadata: models.AuditMetadata{
			UserID:           wallet.UserID,
			Balances:         &doc,
			PreviousBalances: &prevDoc,
		},
	})
}
