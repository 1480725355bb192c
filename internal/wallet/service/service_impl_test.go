package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/pawselabs/pawse/internal/clock"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func setupWalletService(t *testing.T) (walletdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&walletdomain.Wallet{}, &walletdomain.LedgerEntry{}))

	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: mustNode(t),
		Clock: fc,
	})
	return svc, db, fc
}

func TestCreditAndDebitUpdateBalance(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(42)

	res, err := svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, 150, walletdomain.ReasonDailyAward, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Entry.BalanceAfter)

	res, err = svc.Debit(ctx, userID, walletdomain.CurrencyEnergy, 40, walletdomain.ReasonFeeding, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(110), res.Entry.BalanceAfter)
	assert.Equal(t, int64(-40), res.Entry.Delta)

	balance, err := svc.Balance(ctx, userID, walletdomain.CurrencyEnergy)
	require.NoError(t, err)
	assert.Equal(t, int64(110), balance)
}

func TestCurrenciesAreIndependent(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(7)

	_, err := svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, 100, walletdomain.ReasonDailyAward, nil)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, userID, walletdomain.CurrencyGems, 500, walletdomain.ReasonIAPGrant, nil)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, userID, walletdomain.CurrencyGems, 120, walletdomain.ReasonRecovery, nil)
	require.NoError(t, err)

	energy, err := svc.Balance(ctx, userID, walletdomain.CurrencyEnergy)
	require.NoError(t, err)
	gems, err := svc.Balance(ctx, userID, walletdomain.CurrencyGems)
	require.NoError(t, err)
	assert.Equal(t, int64(100), energy)
	assert.Equal(t, int64(380), gems)
}

func TestDebitInsufficientFunds(t *testing.T) {
	svc, db, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(9)

	_, err := svc.Credit(ctx, userID, walletdomain.CurrencyGems, 50, walletdomain.ReasonIAPGrant, nil)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, userID, walletdomain.CurrencyGems, 51, walletdomain.ReasonRecovery, nil)
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientFunds)

	// The failed debit must leave no trace.
	var count int64
	require.NoError(t, db.Model(&walletdomain.LedgerEntry{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := svc.Balance(ctx, userID, walletdomain.CurrencyGems)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

func TestBalanceEqualsSumOfDeltas(t *testing.T) {
	svc, db, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(11)

	_, err := svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, 150, walletdomain.ReasonDailyAward, nil)
	require.NoError(t, err)
	_, err = svc.Debit(ctx, userID, walletdomain.CurrencyEnergy, 30, walletdomain.ReasonFeeding, nil)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, 75, walletdomain.ReasonDailyAward, nil)
	require.NoError(t, err)
	_, err = svc.Debit(ctx, userID, walletdomain.CurrencyEnergy, 45, walletdomain.ReasonFeeding, nil)
	require.NoError(t, err)

	var sum int64
	require.NoError(t, db.Model(&walletdomain.LedgerEntry{}).
		Where("user_id = ? AND currency = ?", userID, walletdomain.CurrencyEnergy).
		Select("COALESCE(SUM(delta), 0)").Scan(&sum).Error)

	balance, err := svc.Balance(ctx, userID, walletdomain.CurrencyEnergy)
	require.NoError(t, err)
	assert.Equal(t, sum, balance)
	assert.Equal(t, int64(150), balance)
}

func TestIdempotentCredit(t *testing.T) {
	svc, db, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(13)
	opts := &walletdomain.TxnOptions{IdempotencyKey: "daily:13:2025-06-01"}

	first, err := svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, 100, walletdomain.ReasonDailyAward, opts)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, 100, walletdomain.ReasonDailyAward, opts)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	var count int64
	require.NoError(t, db.Model(&walletdomain.LedgerEntry{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := svc.Balance(ctx, userID, walletdomain.CurrencyEnergy)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestSameIdempotencyKeyDifferentUsers(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	ctx := context.Background()
	opts := &walletdomain.TxnOptions{IdempotencyKey: "grant-1"}

	first, err := svc.Credit(ctx, snowflake.ID(1), walletdomain.CurrencyGems, 10, walletdomain.ReasonIAPGrant, opts)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := svc.Credit(ctx, snowflake.ID(2), walletdomain.CurrencyGems, 10, walletdomain.ReasonIAPGrant, opts)
	require.NoError(t, err)
	assert.False(t, second.Duplicate)
}

func TestApplyValidation(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		userID   snowflake.ID
		currency walletdomain.Currency
		amount   int64
		reason   walletdomain.Reason
		wantErr  error
	}{
		{"zero user", 0, walletdomain.CurrencyEnergy, 10, walletdomain.ReasonDailyAward, walletdomain.ErrInvalidUser},
		{"bad currency", 1, walletdomain.Currency("gold"), 10, walletdomain.ReasonDailyAward, walletdomain.ErrInvalidCurrency},
		{"zero amount", 1, walletdomain.CurrencyEnergy, 0, walletdomain.ReasonDailyAward, walletdomain.ErrInvalidAmount},
		{"negative amount", 1, walletdomain.CurrencyEnergy, -10, walletdomain.ReasonDailyAward, walletdomain.ErrInvalidAmount},
		{"empty reason", 1, walletdomain.CurrencyEnergy, 10, walletdomain.Reason(""), walletdomain.ErrInvalidReason},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Credit(ctx, tc.userID, tc.currency, tc.amount, tc.reason, nil)
			assert.ErrorIs(t, err, tc.wantErr)

			_, err = svc.Debit(ctx, tc.userID, tc.currency, tc.amount, tc.reason, nil)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestNegativeDebitCannotCredit(t *testing.T) {
	svc, db, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(14)

	// A negated negative amount must never raise the balance.
	_, err := svc.Debit(ctx, userID, walletdomain.CurrencyGems, -500, walletdomain.ReasonRecovery, nil)
	assert.ErrorIs(t, err, walletdomain.ErrInvalidAmount)

	var count int64
	require.NoError(t, db.Model(&walletdomain.LedgerEntry{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDebitTxRollsBackWithCaller(t *testing.T) {
	svc, db, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(15)

	_, err := svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, 100, walletdomain.ReasonDailyAward, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.Transaction(func(tx *gorm.DB) error {
		res, err := svc.DebitTx(ctx, tx, userID, walletdomain.CurrencyEnergy, 40, walletdomain.ReasonFeeding, nil)
		require.NoError(t, err)
		require.Equal(t, int64(60), res.Entry.BalanceAfter)
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The caller's rollback takes the debit with it.
	balance, err := svc.Balance(ctx, userID, walletdomain.CurrencyEnergy)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	var count int64
	require.NoError(t, db.Model(&walletdomain.LedgerEntry{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReplayedEntryResolvesCommittedKey(t *testing.T) {
	rawSvc, db, fc := setupWalletService(t)
	svc := rawSvc.(*Service)
	ctx := context.Background()
	userID := snowflake.ID(16)
	key := "race-1"

	// A committed entry written by a concurrent winner; the loser's failed
	// transaction resolves it through the same lookup.
	entry := walletdomain.LedgerEntry{
		ID:           mustNode(t).Generate(),
		UserID:       userID,
		Currency:     walletdomain.CurrencyGems,
		Delta:        -120,
		BalanceAfter: 380,
		Reason:       walletdomain.ReasonRecovery,
		CreatedAt:    fc.Now(),
	}
	entry.IdempotencyKey = &key
	require.NoError(t, db.Create(&entry).Error)

	found, err := svc.replayedEntry(ctx, userID, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, entry.ID, found.ID)

	missing, err := svc.replayedEntry(ctx, userID, "other-key")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// The public path returns the stored entry as a duplicate, never a
	// constraint error.
	res, err := rawSvc.Debit(ctx, userID, walletdomain.CurrencyGems, 120, walletdomain.ReasonRecovery, &walletdomain.TxnOptions{IdempotencyKey: key})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, entry.ID, res.Entry.ID)
}

func TestListEntriesPagination(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(21)

	for i := 0; i < 5; i++ {
		_, err := svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, int64(10+i), walletdomain.ReasonDailyAward, nil)
		require.NoError(t, err)
	}

	page1, err := svc.ListEntries(ctx, walletdomain.ListEntriesRequest{UserID: userID, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1.Entries, 2)
	assert.True(t, page1.HasMore)
	// Newest first.
	assert.Equal(t, int64(14), page1.Entries[0].Delta)

	page2, err := svc.ListEntries(ctx, walletdomain.ListEntriesRequest{UserID: userID, PageSize: 2, PageToken: page1.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page2.Entries, 2)
	assert.Equal(t, int64(12), page2.Entries[0].Delta)

	page3, err := svc.ListEntries(ctx, walletdomain.ListEntriesRequest{UserID: userID, PageSize: 2, PageToken: page2.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page3.Entries, 1)
	assert.False(t, page3.HasMore)
	assert.Empty(t, page3.NextPageToken)
}

func TestListEntriesCurrencyFilter(t *testing.T) {
	svc, _, _ := setupWalletService(t)
	ctx := context.Background()
	userID := snowflake.ID(22)

	_, err := svc.Credit(ctx, userID, walletdomain.CurrencyEnergy, 10, walletdomain.ReasonDailyAward, nil)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, userID, walletdomain.CurrencyGems, 20, walletdomain.ReasonIAPGrant, nil)
	require.NoError(t, err)

	gems := walletdomain.CurrencyGems
	resp, err := svc.ListEntries(ctx, walletdomain.ListEntriesRequest{UserID: userID, Currency: &gems})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, walletdomain.CurrencyGems, resp.Entries[0].Currency)
}
