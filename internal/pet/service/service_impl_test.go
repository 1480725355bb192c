package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/pawselabs/pawse/internal/clock"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	walletservice "github.com/pawselabs/pawse/internal/wallet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// historyStub feeds canned daily stats into the natural-recovery check.
type historyStub struct {
	stats []petdomain.DayStat
}

func (h *historyStub) RecentStats(_ context.Context, _ snowflake.ID, n int) ([]petdomain.DayStat, error) {
	if len(h.stats) > n {
		return h.stats[:n], nil
	}
	return h.stats, nil
}

type petFixture struct {
	svc       petdomain.Service
	walletSvc walletdomain.Service
	history   *historyStub
	clock     *clock.FakeClock
	db        *gorm.DB
}

func setupPetService(t *testing.T) *petFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&walletdomain.Wallet{},
		&walletdomain.LedgerEntry{},
		&petdomain.Pet{},
		&petdomain.Memorial{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	history := &historyStub{}

	walletSvc := walletservice.NewService(walletservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})
	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fc,
		WalletSvc: walletSvc,
		History:   history,
	})
	return &petFixture{svc: svc, walletSvc: walletSvc, history: history, clock: fc, db: db}
}

func (f *petFixture) fundEnergy(t *testing.T, userID snowflake.ID, amount int64) {
	t.Helper()
	_, err := f.walletSvc.Credit(context.Background(), userID, walletdomain.CurrencyEnergy, amount, walletdomain.ReasonDailyAward, nil)
	require.NoError(t, err)
}

func junDay(day int) string {
	return fmt.Sprintf("2025-06-%02d", day)
}

func TestGetOrCreateIsStable(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(1)

	first, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, petdomain.StateHealthy, first.HealthState)
	assert.Equal(t, 0, first.Stage)

	second, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestFeedDebitsEnergyAndAccumulatesBuff(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(2)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	f.fundEnergy(t, userID, 500)

	pet, err := f.svc.Feed(ctx, userID, 100)
	require.NoError(t, err)
	assert.True(t, pet.FedToday)
	assert.Equal(t, int64(100), pet.LastFeedAmount)
	assert.InDelta(t, 0.10, pet.DailyBuffAccumulated, 1e-9)

	balance, err := f.walletSvc.Balance(ctx, userID, walletdomain.CurrencyEnergy)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance)

	// Overfeeding clamps to the healthy cap; the excess is simply gone.
	pet, err = f.svc.Feed(ctx, userID, 300)
	require.NoError(t, err)
	assert.InDelta(t, petdomain.BuffCapHealthy, pet.DailyBuffAccumulated, 1e-9)
}

func TestFeedRequiresEnergy(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(3)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	_, err = f.svc.Feed(ctx, userID, 50)
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientFunds)

	pet, err := f.svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, pet.FedToday)
}

func TestFeedDeadPet(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(4)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, f.svc.TransitionToDead(ctx, userID))
	f.fundEnergy(t, userID, 100)

	_, err = f.svc.Feed(ctx, userID, 10)
	assert.ErrorIs(t, err, petdomain.ErrPetDead)
}

func TestFragileCapAppliesDuringWindow(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(5)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, f.svc.TransitionToHealthy(ctx, userID, true, 3))
	f.fundEnergy(t, userID, 1000)

	pet, err := f.svc.Feed(ctx, userID, 500)
	require.NoError(t, err)
	assert.InDelta(t, petdomain.BuffCapFragile, pet.DailyBuffAccumulated, 1e-9)

	// Past the fragile window the full cap is back.
	f.clock.Advance(4 * 24 * time.Hour)
	pet, err = f.svc.Feed(ctx, userID, 500)
	require.NoError(t, err)
	assert.InDelta(t, petdomain.BuffCapHealthy, pet.DailyBuffAccumulated, 1e-9)
}

func TestUnfedStreakSickensThenKills(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(6)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	for day := 1; day <= 2; day++ {
		pet, err := f.svc.EvaluateDayBoundary(ctx, userID, junDay(day))
		require.NoError(t, err)
		assert.Equal(t, petdomain.StateHealthy, pet.HealthState, "day %d", day)
		assert.Equal(t, day, pet.ConsecutiveUnfedDays)
	}

	pet, err := f.svc.EvaluateDayBoundary(ctx, userID, junDay(3))
	require.NoError(t, err)
	assert.Equal(t, petdomain.StateSick, pet.HealthState)

	// The streak keeps counting while sick.
	for day := 4; day <= 6; day++ {
		pet, err = f.svc.EvaluateDayBoundary(ctx, userID, junDay(day))
		require.NoError(t, err)
		assert.Equal(t, petdomain.StateSick, pet.HealthState, "day %d", day)
	}

	pet, err = f.svc.EvaluateDayBoundary(ctx, userID, junDay(7))
	require.NoError(t, err)
	assert.Equal(t, petdomain.StateDead, pet.HealthState)
	require.NotNil(t, pet.DeadAt)

	// Dead is terminal for the boundary evaluation.
	pet, err = f.svc.EvaluateDayBoundary(ctx, userID, junDay(8))
	require.NoError(t, err)
	assert.Equal(t, petdomain.StateDead, pet.HealthState)
}

func TestRepeatedEvaluationForSameDayIsNoop(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(14)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	pet, err := f.svc.EvaluateDayBoundary(ctx, userID, junDay(1))
	require.NoError(t, err)
	assert.Equal(t, 1, pet.ConsecutiveUnfedDays)

	// A retry of the same elapsed day must not double-count the streak.
	pet, err = f.svc.EvaluateDayBoundary(ctx, userID, junDay(1))
	require.NoError(t, err)
	assert.Equal(t, 1, pet.ConsecutiveUnfedDays)

	pet, err = f.svc.EvaluateDayBoundary(ctx, userID, junDay(2))
	require.NoError(t, err)
	assert.Equal(t, 2, pet.ConsecutiveUnfedDays)
}

func TestFeedingResetsUnfedStreak(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(7)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	_, err = f.svc.EvaluateDayBoundary(ctx, userID, junDay(1))
	require.NoError(t, err)
	_, err = f.svc.EvaluateDayBoundary(ctx, userID, junDay(2))
	require.NoError(t, err)

	f.fundEnergy(t, userID, 100)
	_, err = f.svc.Feed(ctx, userID, 50)
	require.NoError(t, err)

	pet, err := f.svc.EvaluateDayBoundary(ctx, userID, junDay(3))
	require.NoError(t, err)
	assert.Equal(t, 0, pet.ConsecutiveUnfedDays)
	assert.Equal(t, petdomain.StateHealthy, pet.HealthState)
}

func TestNaturalRecovery(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(8)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, f.svc.TransitionToSick(ctx, userID))

	// One good day out of three is not enough.
	f.history.stats = []petdomain.DayStat{
		{DayKey: "2025-05-31", EnergyAwarded: 80},
		{DayKey: "2025-05-30", EnergyAwarded: 0},
		{DayKey: "2025-05-29", EnergyAwarded: 0},
	}
	f.fundEnergy(t, userID, 200)
	_, err = f.svc.Feed(ctx, userID, 50)
	require.NoError(t, err)

	pet, err := f.svc.EvaluateDayBoundary(ctx, userID, junDay(1))
	require.NoError(t, err)
	assert.Equal(t, petdomain.StateSick, pet.HealthState)

	// Two of the last three days with an award flips the pet back.
	f.history.stats = []petdomain.DayStat{
		{DayKey: "2025-06-01", EnergyAwarded: 75},
		{DayKey: "2025-05-31", EnergyAwarded: 80},
		{DayKey: "2025-05-30", EnergyAwarded: 0},
	}
	_, err = f.svc.Feed(ctx, userID, 50)
	require.NoError(t, err)

	pet, err = f.svc.EvaluateDayBoundary(ctx, userID, junDay(2))
	require.NoError(t, err)
	assert.Equal(t, petdomain.StateHealthy, pet.HealthState)
	assert.Nil(t, pet.FragileUntil)
}

func TestApplyDailyResetAdvancesGrowth(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(9)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	f.fundEnergy(t, userID, 1000)

	_, err = f.svc.Feed(ctx, userID, 300)
	require.NoError(t, err)

	pet, err := f.svc.ApplyDailyReset(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, pet.GrowthProgress)
	assert.Equal(t, 1, pet.Stage)
	assert.False(t, pet.FedToday)
	assert.Equal(t, int64(0), pet.LastFeedAmount)
	assert.Equal(t, 0.0, pet.DailyBuffAccumulated)
}

func TestApplyDailyResetNoGrowthWhenSick(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(10)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, f.svc.TransitionToSick(ctx, userID))
	f.fundEnergy(t, userID, 1000)

	_, err = f.svc.Feed(ctx, userID, 100)
	require.NoError(t, err)

	pet, err := f.svc.ApplyDailyReset(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, pet.GrowthProgress)
	assert.Equal(t, 0, pet.Stage)
}

func TestReplaceDeadPetWritesMemorial(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(11)

	old, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, f.svc.TransitionToDead(ctx, userID))

	fresh, err := f.svc.Replace(ctx, userID, 10)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, petdomain.StateHealthy, fresh.HealthState)
	assert.Equal(t, 0, fresh.Stage)

	memorials, err := f.svc.ListMemorials(ctx, userID)
	require.NoError(t, err)
	require.Len(t, memorials, 1)
	assert.Equal(t, old.Species, memorials[0].Species)
}

func TestReplaceLivePetSkipsMemorial(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(12)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, f.svc.TransitionToSick(ctx, userID))

	_, err = f.svc.Replace(ctx, userID, 10)
	require.NoError(t, err)

	memorials, err := f.svc.ListMemorials(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, memorials)
}

func TestMemorialCapEvictsOldest(t *testing.T) {
	f := setupPetService(t)
	ctx := context.Background()
	userID := snowflake.ID(13)

	_, err := f.svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.TransitionToDead(ctx, userID))
		_, err = f.svc.Replace(ctx, userID, 2)
		require.NoError(t, err)
		f.clock.Advance(24 * time.Hour)
	}

	memorials, err := f.svc.ListMemorials(ctx, userID)
	require.NoError(t, err)
	require.Len(t, memorials, 2)
	// Newest first; the oldest memorial was evicted.
	assert.True(t, memorials[0].DeathDate.After(memorials[1].DeathDate))
}
