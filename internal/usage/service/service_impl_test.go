package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/pawselabs/pawse/internal/clock"
	usagedomain "github.com/pawselabs/pawse/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupUsageService(t *testing.T) (usagedomain.Service, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageSnapshot{}, &usagedomain.UsageGoal{}))

	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fc,
	})
	return svc, fc
}

func TestMaxAllowedIncrease(t *testing.T) {
	tests := []struct {
		current int
		want    int
	}{
		{0, 60},
		{1, 30},
		{60, 30},
		{120, 30},
		{121, 60},
		{300, 60},
		{301, 90},
		{600, 90},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, maxAllowedIncrease(tc.current), "current=%d", tc.current)
	}
}

func TestSubmitAcceptsMonotonicIncrease(t *testing.T) {
	svc, _ := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(1)

	res, err := svc.Submit(ctx, userID, 45)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 45, res.Minutes)

	res, err = svc.Submit(ctx, userID, 70)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 70, res.Minutes)

	minutes, err := svc.CurrentMinutes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 70, minutes)
}

func TestSubmitRejectsDecrease(t *testing.T) {
	svc, _ := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(2)

	_, err := svc.Submit(ctx, userID, 50)
	require.NoError(t, err)

	res, err := svc.Submit(ctx, userID, 30)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, usagedomain.RejectDecreasing, res.Reason)
	// The stored total is untouched.
	assert.Equal(t, 50, res.Minutes)
}

func TestSubmitRejectsImplausibleJump(t *testing.T) {
	svc, _ := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(3)

	// First report of the day may claim up to 60 minutes.
	res, err := svc.Submit(ctx, userID, 61)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, usagedomain.RejectImplausibleJump, res.Reason)

	res, err = svc.Submit(ctx, userID, 60)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	// With 60 on record the step shrinks to 30.
	res, err = svc.Submit(ctx, userID, 91)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, usagedomain.RejectImplausibleJump, res.Reason)

	res, err = svc.Submit(ctx, userID, 90)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestSubmitResubmitSameTotalIsAccepted(t *testing.T) {
	svc, _ := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(4)

	_, err := svc.Submit(ctx, userID, 40)
	require.NoError(t, err)

	res, err := svc.Submit(ctx, userID, 40)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 40, res.Minutes)
}

func TestStaleSnapshotTreatedAsZero(t *testing.T) {
	svc, fc := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(5)

	_, err := svc.Submit(ctx, userID, 55)
	require.NoError(t, err)

	fc.Advance(24 * time.Hour)

	// Yesterday's 55 must not block today's fresh counter, and the step
	// table restarts from zero.
	minutes, err := svc.CurrentMinutes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, minutes)

	res, err := svc.Submit(ctx, userID, 30)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 30, res.Minutes)
}

func TestNewDaySubmissionKeepsPriorDayTotal(t *testing.T) {
	svc, fc := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(9)

	_, err := svc.Submit(ctx, userID, 60)
	require.NoError(t, err)
	yesterday := clock.DayKey(fc.Now())

	// A report just past midnight must not erase the previous day's final
	// total before rollover reads it.
	fc.Advance(24 * time.Hour)
	res, err := svc.Submit(ctx, userID, 1)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	minutes, err := svc.MinutesForDay(ctx, userID, yesterday)
	require.NoError(t, err)
	assert.Equal(t, 60, minutes)

	minutes, err = svc.CurrentMinutes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, minutes)
}

func TestMinutesForDay(t *testing.T) {
	svc, fc := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(6)

	_, err := svc.Submit(ctx, userID, 25)
	require.NoError(t, err)

	today := clock.DayKey(fc.Now())
	minutes, err := svc.MinutesForDay(ctx, userID, today)
	require.NoError(t, err)
	assert.Equal(t, 25, minutes)

	minutes, err = svc.MinutesForDay(ctx, userID, "2020-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, minutes)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := setupUsageService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, 0, 10)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidUser)

	_, err = svc.Submit(ctx, 1, -1)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidMinutes)
}

func TestReset(t *testing.T) {
	svc, _ := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(7)

	_, err := svc.Submit(ctx, userID, 20)
	require.NoError(t, err)
	require.NoError(t, svc.Reset(ctx, userID))

	minutes, err := svc.CurrentMinutes(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, minutes)
}

func TestGoalDefaultAndUpdate(t *testing.T) {
	svc, _ := setupUsageService(t)
	ctx := context.Background()
	userID := snowflake.ID(8)

	goal, err := svc.GetGoal(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, usagedomain.DefaultLimitMinutes, goal.LimitMinutes)

	_, err = svc.SetGoal(ctx, userID, 240)
	require.NoError(t, err)

	goal, err = svc.GetGoal(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 240, goal.LimitMinutes)

	_, err = svc.SetGoal(ctx, userID, 0)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidLimit)
}
