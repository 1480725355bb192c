package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pawselabs/pawse/internal/clock"
	obsmetrics "github.com/pawselabs/pawse/internal/observability/metrics"
	usagedomain "github.com/pawselabs/pawse/internal/usage/domain"
	"github.com/pawselabs/pawse/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	goals      repository.Repository[usagedomain.UsageGoal]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		goals:      repository.ProvideStore[usagedomain.UsageGoal](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

// maxAllowedIncrease bounds how much catch-up a single submission may claim,
// keyed by the minutes already on record. The reporting channel fires on
// discrete thresholds, so a few missed reports are tolerated while a replayed
// stale total from another day is rejected.
func maxAllowedIncrease(currentMinutes int) int {
	switch {
	case currentMinutes == 0:
		return 60
	case currentMinutes <= 120:
		return 30
	case currentMinutes <= 300:
		return 60
	default:
		return 90
	}
}

func (s *Service) Submit(ctx context.Context, userID snowflake.ID, candidateMinutes int) (usagedomain.SubmitResult, error) {
	if userID == 0 {
		return usagedomain.SubmitResult{}, usagedomain.ErrInvalidUser
	}
	if candidateMinutes < 0 {
		return usagedomain.SubmitResult{}, usagedomain.ErrInvalidMinutes
	}

	now := s.clock.Now()
	today := clock.DayKey(now)

	var result usagedomain.SubmitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := 0
		var snapshot usagedomain.UsageSnapshot
		err := tx.First(&snapshot, "user_id = ? AND day_key = ?", userID, today).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		if err == nil {
			current = snapshot.TotalMinutes
		}

		if candidateMinutes < current {
			result = usagedomain.SubmitResult{Accepted: false, Reason: usagedomain.RejectDecreasing, Minutes: current}
			return nil
		}
		if candidateMinutes-current > maxAllowedIncrease(current) {
			result = usagedomain.SubmitResult{Accepted: false, Reason: usagedomain.RejectImplausibleJump, Minutes: current}
			return nil
		}

		updated := usagedomain.UsageSnapshot{
			UserID:       userID,
			DayKey:       today,
			TotalMinutes: candidateMinutes,
			LastUpdated:  now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day_key"}},
			UpdateAll: true,
		}).Create(&updated).Error; err != nil {
			return err
		}

		result = usagedomain.SubmitResult{Accepted: true, Minutes: candidateMinutes}
		return nil
	})
	if err != nil {
		return usagedomain.SubmitResult{}, err
	}

	if s.obsMetrics != nil {
		outcome := "accepted"
		if !result.Accepted {
			outcome = string(result.Reason)
		}
		s.obsMetrics.RecordUsageSubmission(ctx, outcome)
	}
	if !result.Accepted {
		s.log.Debug("usage submission rejected",
			zap.String("user_id", userID.String()),
			zap.String("reason", string(result.Reason)),
			zap.Int("candidate_minutes", candidateMinutes),
			zap.Int("current_minutes", result.Minutes),
		)
	}
	return result, nil
}

func (s *Service) CurrentMinutes(ctx context.Context, userID snowflake.ID) (int, error) {
	return s.MinutesForDay(ctx, userID, clock.DayKey(s.clock.Now()))
}

func (s *Service) MinutesForDay(ctx context.Context, userID snowflake.ID, dayKey string) (int, error) {
	if userID == 0 {
		return 0, usagedomain.ErrInvalidUser
	}

	var snapshot usagedomain.UsageSnapshot
	err := s.db.WithContext(ctx).First(&snapshot, "user_id = ? AND day_key = ?", userID, dayKey).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return snapshot.TotalMinutes, nil
}

// Reset clears today's snapshot only; prior days stay for rollover.
func (s *Service) Reset(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return usagedomain.ErrInvalidUser
	}
	return s.db.WithContext(ctx).
		Where("user_id = ? AND day_key = ?", userID, clock.DayKey(s.clock.Now())).
		Delete(&usagedomain.UsageSnapshot{}).Error
}

func (s *Service) SetGoal(ctx context.Context, userID snowflake.ID, limitMinutes int) (*usagedomain.UsageGoal, error) {
	if userID == 0 {
		return nil, usagedomain.ErrInvalidUser
	}
	if limitMinutes <= 0 {
		return nil, usagedomain.ErrInvalidLimit
	}

	goal := usagedomain.UsageGoal{
		UserID:       userID,
		LimitMinutes: limitMinutes,
		UpdatedAt:    s.clock.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&goal).Error
	if err != nil {
		return nil, err
	}
	return &goal, nil
}

func (s *Service) GetGoal(ctx context.Context, userID snowflake.ID) (*usagedomain.UsageGoal, error) {
	if userID == 0 {
		return nil, usagedomain.ErrInvalidUser
	}
	goal, err := s.goals.FindOne(ctx, &usagedomain.UsageGoal{UserID: userID})
	if err != nil {
		return nil, err
	}
	if goal == nil {
		return &usagedomain.UsageGoal{UserID: userID, LimitMinutes: usagedomain.DefaultLimitMinutes}, nil
	}
	return goal, nil
}
