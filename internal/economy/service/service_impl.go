package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pawselabs/pawse/internal/clock"
	"github.com/pawselabs/pawse/internal/config"
	economydomain "github.com/pawselabs/pawse/internal/economy/domain"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	GameCfg   *config.GameConfigHolder
	WalletSvc walletdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	gameCfg   *config.GameConfigHolder
	walletSvc walletdomain.Service
}

func NewService(p Params) economydomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("economy.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		gameCfg:   p.GameCfg,
		walletSvc: p.WalletSvc,
	}
}

func (s *Service) PreviewEnergy(usageMinutes, limitMinutes int) int {
	if limitMinutes <= 0 {
		return 0
	}
	cfg := s.gameCfg.Current().Economy
	return computeAward(rawRatio(usageMinutes, limitMinutes), cfg)
}

func (s *Service) AwardDailyEnergy(ctx context.Context, req economydomain.AwardRequest) (*economydomain.DailyStats, error) {
	if req.UserID == 0 {
		return nil, economydomain.ErrInvalidUser
	}
	if _, err := time.Parse(clock.DayKeyLayout, req.DayKey); err != nil {
		return nil, economydomain.ErrInvalidDayKey
	}

	cfg := s.gameCfg.Current().Economy

	ratio := 0.0
	award := 0
	if req.LimitMinutes > 0 {
		raw := rawRatio(req.UsageMinutes, req.LimitMinutes)
		smoothed, err := s.smooth(ctx, req.UserID, req.DayKey, raw, cfg.SmoothingWindow)
		if err != nil {
			return nil, err
		}
		ratio = smoothed
		award = computeAward(smoothed, cfg)
	}

	// Credit before the stats write: the idempotency key makes the credit
	// replay-safe, while the unique (user, day) index on daily_stats is the
	// write-once guard. A retry after a partial failure converges.
	if award > 0 {
		idemKey := fmt.Sprintf("daily:%s:%s", req.UserID.String(), req.DayKey)
		_, err := s.walletSvc.Credit(ctx, req.UserID, walletdomain.CurrencyEnergy, int64(award), walletdomain.ReasonDailyAward, &walletdomain.TxnOptions{
			IdempotencyKey: idemKey,
			Metadata: map[string]any{
				"day_key":       req.DayKey,
				"usage_minutes": req.UsageMinutes,
				"limit_minutes": req.LimitMinutes,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	stats := economydomain.DailyStats{
		ID:            s.genID.Generate(),
		UserID:        req.UserID,
		DayKey:        req.DayKey,
		UsageMinutes:  req.UsageMinutes,
		LimitMinutes:  req.LimitMinutes,
		SmoothedRatio: ratio,
		EnergyAwarded: award,
		CreatedAt:     s.clock.Now(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&stats)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, economydomain.ErrAlreadyAwarded
	}

	s.log.Info("daily energy awarded",
		zap.String("user_id", req.UserID.String()),
		zap.String("day_key", req.DayKey),
		zap.Int("usage_minutes", req.UsageMinutes),
		zap.Int("limit_minutes", req.LimitMinutes),
		zap.Float64("smoothed_ratio", ratio),
		zap.Int("energy_awarded", award),
	)
	return &stats, nil
}

// smooth averages the raw ratio with the smoothed ratios of the most recent
// prior days. With no history it degenerates to the raw ratio.
func (s *Service) smooth(ctx context.Context, userID snowflake.ID, dayKey string, raw float64, window int) (float64, error) {
	if window <= 1 {
		return raw, nil
	}

	var prior []economydomain.DailyStats
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND day_key < ?", userID, dayKey).
		Order("day_key DESC").
		Limit(window - 1).
		Find(&prior).Error
	if err != nil {
		return 0, err
	}

	sum := raw
	for _, row := range prior {
		sum += row.SmoothedRatio
	}
	return sum / float64(len(prior)+1), nil
}

func (s *Service) RecentStats(ctx context.Context, userID snowflake.ID, n int) ([]economydomain.DailyStats, error) {
	if userID == 0 {
		return nil, economydomain.ErrInvalidUser
	}
	if n <= 0 {
		n = 1
	}
	var stats []economydomain.DailyStats
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("day_key DESC").
		Limit(n).
		Find(&stats).Error
	return stats, err
}

func rawRatio(usageMinutes, limitMinutes int) float64 {
	ratio := float64(usageMinutes) / float64(limitMinutes)
	if ratio < 0 {
		return 0
	}
	return ratio
}

func computeAward(ratio float64, cfg config.EconomyConfig) int {
	remaining := 1 - ratio
	if remaining < 0 {
		remaining = 0
	}
	return int(math.Round(float64(cfg.MaxDailyEnergy) * math.Pow(remaining, cfg.Gamma)))
}
