package service

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pawselabs/pawse/internal/clock"
	obsmetrics "github.com/pawselabs/pawse/internal/observability/metrics"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	"github.com/pawselabs/pawse/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetOrCreateWallet(ctx context.Context, userID snowflake.ID) (*walletdomain.Wallet, error) {
	if userID == 0 {
		return nil, walletdomain.ErrInvalidUser
	}

	wallet := walletdomain.Wallet{UserID: userID, UpdatedAt: s.clock.Now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&wallet).Error
	if err != nil {
		return nil, err
	}

	var current walletdomain.Wallet
	if err := s.db.WithContext(ctx).First(&current, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &current, nil
}

// Credit appends a positive ledger entry and raises the balance in one
// transaction. Credits have no upper bound.
func (s *Service) Credit(ctx context.Context, userID snowflake.ID, currency walletdomain.Currency, amount int64, reason walletdomain.Reason, opts *walletdomain.TxnOptions) (*walletdomain.TxnResult, error) {
	if amount <= 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	return s.apply(ctx, s.db, userID, currency, amount, reason, opts)
}

// Debit appends a negative ledger entry and lowers the balance in one
// transaction. It fails with ErrInsufficientFunds when the balance cannot
// cover the amount; nothing is written in that case.
func (s *Service) Debit(ctx context.Context, userID snowflake.ID, currency walletdomain.Currency, amount int64, reason walletdomain.Reason, opts *walletdomain.TxnOptions) (*walletdomain.TxnResult, error) {
	if amount <= 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	return s.apply(ctx, s.db, userID, currency, -amount, reason, opts)
}

// DebitTx runs the debit inside the caller's transaction via a savepoint,
// so it commits or rolls back with the caller's writes.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID, currency walletdomain.Currency, amount int64, reason walletdomain.Reason, opts *walletdomain.TxnOptions) (*walletdomain.TxnResult, error) {
	if amount <= 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	return s.apply(ctx, tx, userID, currency, -amount, reason, opts)
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID, currency walletdomain.Currency) (int64, error) {
	if !currency.Valid() {
		return 0, walletdomain.ErrInvalidCurrency
	}
	wallet, err := s.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance(currency), nil
}

func (s *Service) apply(ctx context.Context, db *gorm.DB, userID snowflake.ID, currency walletdomain.Currency, delta int64, reason walletdomain.Reason, opts *walletdomain.TxnOptions) (*walletdomain.TxnResult, error) {
	if userID == 0 {
		return nil, walletdomain.ErrInvalidUser
	}
	if !currency.Valid() {
		return nil, walletdomain.ErrInvalidCurrency
	}
	if delta == 0 {
		return nil, walletdomain.ErrInvalidAmount
	}
	if reason == "" {
		return nil, walletdomain.ErrInvalidReason
	}

	var result walletdomain.TxnResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if opts != nil && opts.IdempotencyKey != "" {
			var existing walletdomain.LedgerEntry
			err := tx.Where("user_id = ? AND idempotency_key = ?", userID, opts.IdempotencyKey).
				First(&existing).Error
			if err == nil {
				result = walletdomain.TxnResult{Entry: &existing, Duplicate: true}
				return nil
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
		}

		wallet, err := s.lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}

		balance := wallet.Balance(currency)
		newBalance := balance + delta
		if newBalance < 0 {
			return walletdomain.ErrInsufficientFunds
		}

		now := s.clock.Now()
		updates := map[string]any{"updated_at": now}
		switch currency {
		case walletdomain.CurrencyEnergy:
			updates["energy_balance"] = newBalance
		case walletdomain.CurrencyGems:
			updates["gems_balance"] = newBalance
		}
		if err := tx.Model(&walletdomain.Wallet{}).
			Where("user_id = ?", userID).
			Updates(updates).Error; err != nil {
			return err
		}

		entry := walletdomain.LedgerEntry{
			ID:           s.genID.Generate(),
			UserID:       userID,
			Currency:     currency,
			Delta:        delta,
			BalanceAfter: newBalance,
			Reason:       reason,
			CreatedAt:    now,
		}
		if opts != nil {
			if opts.RelatedItemID != "" {
				related := opts.RelatedItemID
				entry.RelatedItemID = &related
			}
			if opts.IdempotencyKey != "" {
				key := opts.IdempotencyKey
				entry.IdempotencyKey = &key
			}
			if opts.Metadata != nil {
				entry.Metadata = datatypes.JSONMap(opts.Metadata)
			}
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		result = walletdomain.TxnResult{Entry: &entry}
		return nil
	})
	if err != nil {
		// Two callers racing on one idempotency key can both miss the
		// pre-check; the loser aborts on the unique index. A committed entry
		// with the key means the operation already happened.
		if opts != nil && opts.IdempotencyKey != "" {
			if existing, findErr := s.replayedEntry(ctx, userID, opts.IdempotencyKey); findErr == nil && existing != nil {
				return &walletdomain.TxnResult{Entry: existing, Duplicate: true}, nil
			}
		}
		return nil, err
	}

	if !result.Duplicate && s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(currency), string(reason))
	}
	return &result, nil
}

// replayedEntry looks up the committed ledger entry for an idempotency key
// after a failed write attempt.
func (s *Service) replayedEntry(ctx context.Context, userID snowflake.ID, key string) (*walletdomain.LedgerEntry, error) {
	var existing walletdomain.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// lockWallet reads the wallet row under FOR UPDATE so concurrent debits
// serialize on the balance check. sqlite has no row locks; its single-writer
// model covers the same guarantee in tests.
func (s *Service) lockWallet(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*walletdomain.Wallet, error) {
	stmt := tx.WithContext(ctx)
	if s.db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var wallet walletdomain.Wallet
	err := stmt.First(&wallet, "user_id = ?", userID).Error
	if err == gorm.ErrRecordNotFound {
		wallet = walletdomain.Wallet{UserID: userID, UpdatedAt: s.clock.Now()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&wallet).Error; err != nil {
			return nil, err
		}
		return &wallet, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Service) ListEntries(ctx context.Context, req walletdomain.ListEntriesRequest) (walletdomain.ListEntriesResponse, error) {
	if req.UserID == 0 {
		return walletdomain.ListEntriesResponse{}, walletdomain.ErrInvalidUser
	}
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 20
	}

	stmt := s.db.WithContext(ctx).
		Where("user_id = ?", req.UserID).
		Order("id DESC").
		Limit(pageSize + 1)
	if req.Currency != nil {
		stmt = stmt.Where("currency = ?", *req.Currency)
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return walletdomain.ListEntriesResponse{}, err
		}
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return walletdomain.ListEntriesResponse{}, err
		}
		stmt = stmt.Where("id < ?", lastID)
	}

	var entries []walletdomain.LedgerEntry
	if err := stmt.Find(&entries).Error; err != nil {
		return walletdomain.ListEntriesResponse{}, err
	}

	resp := walletdomain.ListEntriesResponse{}
	if len(entries) > pageSize {
		entries = entries[:pageSize]
		resp.HasMore = true
		last := entries[len(entries)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return walletdomain.ListEntriesResponse{}, err
		}
		resp.NextPageToken = token
	}
	resp.Entries = entries
	return resp, nil
}
