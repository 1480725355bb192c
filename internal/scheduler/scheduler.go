// Package scheduler drives the day-boundary rollover: once per elapsed day
// it finalizes usage into an energy award, runs the health state machine
// and resets per-day pet fields. The claim table makes each user-day run
// exactly once even with several instances sweeping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pawselabs/pawse/internal/clock"
	economydomain "github.com/pawselabs/pawse/internal/economy/domain"
	obsmetrics "github.com/pawselabs/pawse/internal/observability/metrics"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
	usagedomain "github.com/pawselabs/pawse/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidConfig = errors.New("invalid scheduler configuration")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	UsageSvc   usagedomain.Service
	EconomySvc economydomain.Service
	PetSvc     petdomain.Service
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	usageSvc   usagedomain.Service
	economySvc economydomain.Service
	petSvc     petdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.UsageSvc == nil || p.EconomySvc == nil || p.PetSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		usageSvc:   p.UsageSvc,
		economySvc: p.EconomySvc,
		petSvc:     p.PetSvc,
		obsMetrics: p.ObsMetrics,
	}, nil
}

// RunOnce sweeps one batch of pets whose previous day has not been
// finalized yet.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	now := s.clock.Now()
	dayKey := clock.DayKey(now.AddDate(0, 0, -1))

	userIDs, err := s.pendingUsers(ctx, dayKey)
	if err != nil {
		return fmt.Errorf("day_rollover: list pending: %w", err)
	}

	var errs error
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			break
		}
		if err := s.rolloverUser(ctx, userID, dayKey); err != nil {
			s.log.Warn("day rollover failed",
				zap.String("user_id", userID.String()),
				zap.String("day_key", dayKey),
				zap.Error(err),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordDayRollover(ctx, "failed")
			}
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// pendingUsers returns pet owners without a completed rollover for dayKey.
func (s *Scheduler) pendingUsers(ctx context.Context, dayKey string) ([]snowflake.ID, error) {
	var userIDs []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&petdomain.Pet{}).
		Joins("LEFT JOIN day_rollovers r ON r.user_id = pets.user_id AND r.day_key = ? AND r.completed_at IS NOT NULL", dayKey).
		Where("r.id IS NULL").
		Order("pets.user_id").
		Limit(s.cfg.BatchSize).
		Pluck("pets.user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

func (s *Scheduler) rolloverUser(ctx context.Context, userID snowflake.ID, dayKey string) error {
	claimed, rollover, err := s.claim(ctx, userID, dayKey)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	minutes, err := s.usageSvc.MinutesForDay(ctx, userID, dayKey)
	if err != nil {
		return s.abandon(ctx, rollover, err)
	}
	goal, err := s.usageSvc.GetGoal(ctx, userID)
	if err != nil {
		return s.abandon(ctx, rollover, err)
	}

	stats, err := s.economySvc.AwardDailyEnergy(ctx, economydomain.AwardRequest{
		UserID:       userID,
		UsageMinutes: minutes,
		LimitMinutes: goal.LimitMinutes,
		DayKey:       dayKey,
	})
	if err != nil && !errors.Is(err, economydomain.ErrAlreadyAwarded) {
		return s.abandon(ctx, rollover, err)
	}

	if _, err := s.petSvc.EvaluateDayBoundary(ctx, userID, dayKey); err != nil {
		return s.abandon(ctx, rollover, err)
	}
	if _, err := s.petSvc.ApplyDailyReset(ctx, userID); err != nil {
		return s.abandon(ctx, rollover, err)
	}

	now := s.clock.Now()
	updates := map[string]any{
		"usage_minutes": minutes,
		"completed_at":  now,
	}
	if stats != nil {
		updates["energy_awarded"] = stats.EnergyAwarded
	}
	if err := s.db.WithContext(ctx).Model(&DayRollover{}).
		Where("id = ?", rollover.ID).
		Updates(updates).Error; err != nil {
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordDayRollover(ctx, "completed")
	}
	s.log.Info("day rollover completed",
		zap.String("user_id", userID.String()),
		zap.String("day_key", dayKey),
		zap.Int("usage_minutes", minutes),
	)
	return nil
}

// claim inserts the rollover row; losing the insert race means another
// worker owns this user-day.
func (s *Scheduler) claim(ctx context.Context, userID snowflake.ID, dayKey string) (bool, *DayRollover, error) {
	rollover := DayRollover{
		ID:        s.genID.Generate(),
		UserID:    userID,
		DayKey:    dayKey,
		CreatedAt: s.clock.Now(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rollover)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		// A stale uncompleted claim older than the job timeout is retried.
		var existing DayRollover
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND day_key = ?", userID, dayKey).
			First(&existing).Error
		if err != nil {
			return false, nil, err
		}
		if existing.CompletedAt != nil {
			return false, nil, nil
		}
		now := s.clock.Now()
		if now.Sub(existing.CreatedAt) < s.cfg.JobTimeout {
			return false, nil, nil
		}
		// Adopt the stale claim by re-stamping it; losing this update means
		// another sweeper took ownership first.
		adopt := s.db.WithContext(ctx).Model(&DayRollover{}).
			Where("id = ? AND completed_at IS NULL AND created_at = ?", existing.ID, existing.CreatedAt).
			Update("created_at", now)
		if adopt.Error != nil {
			return false, nil, adopt.Error
		}
		if adopt.RowsAffected == 0 {
			return false, nil, nil
		}
		existing.CreatedAt = now
		return true, &existing, nil
	}
	return true, &rollover, nil
}

// abandon releases a claim so a later sweep retries, keeping the original
// error as the reported cause.
func (s *Scheduler) abandon(ctx context.Context, rollover *DayRollover, cause error) error {
	if err := s.db.WithContext(ctx).
		Where("id = ? AND completed_at IS NULL", rollover.ID).
		Delete(&DayRollover{}).Error; err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
