package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pawselabs/pawse/internal/clock"
	"github.com/pawselabs/pawse/internal/config"
	"github.com/pawselabs/pawse/internal/lock"
	obsmetrics "github.com/pawselabs/pawse/internal/observability/metrics"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
	recoverydomain "github.com/pawselabs/pawse/internal/recovery/domain"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const actionLockTTL = 10 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	GameCfg    *config.GameConfigHolder
	WalletSvc  walletdomain.Service
	PetSvc     petdomain.Service
	Locker     *lock.Locker        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	gameCfg    *config.GameConfigHolder
	walletSvc  walletdomain.Service
	petSvc     petdomain.Service
	locker     *lock.Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) recoverydomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("recovery.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		gameCfg:    p.GameCfg,
		walletSvc:  p.WalletSvc,
		petSvc:     p.PetSvc,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Cure(ctx context.Context, userID snowflake.ID, idempotencyKey string) (*recoverydomain.Result, error) {
	return s.perform(ctx, userID, recoverydomain.ActionCure, idempotencyKey)
}

func (s *Service) Revive(ctx context.Context, userID snowflake.ID, idempotencyKey string) (*recoverydomain.Result, error) {
	return s.perform(ctx, userID, recoverydomain.ActionRevive, idempotencyKey)
}

func (s *Service) Restart(ctx context.Context, userID snowflake.ID, idempotencyKey string) (*recoverydomain.Result, error) {
	return s.perform(ctx, userID, recoverydomain.ActionRestart, idempotencyKey)
}

func (s *Service) perform(ctx context.Context, userID snowflake.ID, action recoverydomain.ActionType, idempotencyKey string) (*recoverydomain.Result, error) {
	if userID == 0 {
		return nil, recoverydomain.ErrInvalidUser
	}

	cfg := s.gameCfg.Current()
	actionCfg, err := actionConfig(cfg.Recovery, action)
	if err != nil {
		return nil, err
	}
	if !actionCfg.Enabled {
		return s.reject(ctx, action, recoverydomain.ErrFeatureDisabled)
	}

	// The cooldown and window checks are read-then-act; a per-(user, action)
	// lock closes the race when redis is available. Without it the gems
	// debit remains the hard safety net.
	if s.locker != nil {
		key := fmt.Sprintf("recovery:%s:%s", userID.String(), action)
		token, acquired, lockErr := s.locker.TryLock(ctx, key, actionLockTTL)
		if lockErr == nil && acquired {
			defer func() {
				_ = s.locker.Release(ctx, key, token)
			}()
		}
	}

	if idempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, userID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			pet, err := s.petSvc.Get(ctx, userID)
			if err != nil {
				return nil, err
			}
			return &recoverydomain.Result{Action: existing, Pet: pet, Duplicate: true}, nil
		}
	}

	pet, err := s.petSvc.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sourceStateAllowed(action, pet.HealthState) {
		return s.reject(ctx, action, recoverydomain.ErrInvalidState)
	}

	now := s.clock.Now()
	cooldown := time.Duration(actionCfg.CooldownHours) * time.Hour
	if cooldown > 0 {
		last, err := s.lastAction(ctx, userID, action)
		if err != nil {
			return nil, err
		}
		if last != nil {
			nextAvailable := last.Timestamp.Add(cooldown)
			if now.Before(nextAvailable) {
				return s.reject(ctx, action, &recoverydomain.CooldownActiveError{NextAvailable: nextAvailable})
			}
		}
	}

	if cfg.Recovery.LimitsEnforced {
		if err := s.checkWindowLimit(ctx, userID, action, cfg.Recovery, now); err != nil {
			return s.reject(ctx, action, err)
		}
	}

	// A zero-cost action is a valid promotional configuration; the wallet
	// rejects zero-amount debits, so it is skipped outright.
	if actionCfg.CostGems > 0 {
		debitOpts := &walletdomain.TxnOptions{
			RelatedItemID: string(action),
			Metadata:      map[string]any{"action": string(action)},
		}
		if idempotencyKey != "" {
			debitOpts.IdempotencyKey = "recovery:" + idempotencyKey
		}
		if _, err := s.walletSvc.Debit(ctx, userID, walletdomain.CurrencyGems, actionCfg.CostGems, walletdomain.ReasonRecovery, debitOpts); err != nil {
			if errors.Is(err, walletdomain.ErrInsufficientFunds) {
				return s.reject(ctx, action, recoverydomain.ErrInsufficientGems)
			}
			return nil, err
		}
	}

	updatedPet, err := s.applyEffect(ctx, userID, action, cfg)
	if err != nil {
		return nil, err
	}

	record := recoverydomain.RecoveryAction{
		ID:        s.genID.Generate(),
		UserID:    userID,
		PetID:     pet.ID,
		Action:    action,
		GemsSpent: actionCfg.CostGems,
		Timestamp: now,
		CreatedAt: now,
	}
	if idempotencyKey != "" {
		key := idempotencyKey
		record.IdempotencyKey = &key
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRecoveryAction(ctx, string(action), "succeeded")
	}
	s.log.Info("recovery action applied",
		zap.String("user_id", userID.String()),
		zap.String("action", string(action)),
		zap.Int64("gems_spent", actionCfg.CostGems),
	)
	return &recoverydomain.Result{Action: &record, Pet: updatedPet}, nil
}

func (s *Service) applyEffect(ctx context.Context, userID snowflake.ID, action recoverydomain.ActionType, cfg config.GameConfig) (*petdomain.Pet, error) {
	switch action {
	case recoverydomain.ActionCure:
		if err := s.petSvc.TransitionToHealthy(ctx, userID, false, 0); err != nil {
			return nil, err
		}
		return s.petSvc.Get(ctx, userID)
	case recoverydomain.ActionRevive:
		if err := s.petSvc.TransitionToHealthy(ctx, userID, true, cfg.Recovery.FragileDays); err != nil {
			return nil, err
		}
		return s.petSvc.Get(ctx, userID)
	case recoverydomain.ActionRestart:
		return s.petSvc.Replace(ctx, userID, cfg.Pet.MaxMemorialsPerUser)
	default:
		return nil, recoverydomain.ErrInvalidState
	}
}

func (s *Service) checkWindowLimit(ctx context.Context, userID snowflake.ID, action recoverydomain.ActionType, cfg config.RecoveryConfig, now time.Time) error {
	var windowDays, maxCount int
	switch action {
	case recoverydomain.ActionCure:
		windowDays, maxCount = recoverydomain.CureWindowDays, cfg.CureMaxPer30Days
	case recoverydomain.ActionRevive:
		windowDays, maxCount = recoverydomain.ReviveWindowDays, cfg.ReviveMaxPer90Days
	default:
		return nil
	}
	if maxCount <= 0 {
		return nil
	}

	since := now.AddDate(0, 0, -windowDays)
	var count int64
	err := s.db.WithContext(ctx).Model(&recoverydomain.RecoveryAction{}).
		Where("user_id = ? AND action = ? AND timestamp >= ?", userID, action, since).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count >= int64(maxCount) {
		return recoverydomain.ErrLimitReached
	}
	return nil
}

func (s *Service) lastAction(ctx context.Context, userID snowflake.ID, action recoverydomain.ActionType) (*recoverydomain.RecoveryAction, error) {
	var record recoverydomain.RecoveryAction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND action = ?", userID, action).
		Order("timestamp DESC").
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, userID snowflake.ID, key string) (*recoverydomain.RecoveryAction, error) {
	var record recoverydomain.RecoveryAction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) reject(ctx context.Context, action recoverydomain.ActionType, cause error) (*recoverydomain.Result, error) {
	if s.obsMetrics != nil {
		outcome := "failed"
		var cooldownErr *recoverydomain.CooldownActiveError
		switch {
		case errors.Is(cause, recoverydomain.ErrFeatureDisabled):
			outcome = "feature_disabled"
		case errors.Is(cause, recoverydomain.ErrInvalidState):
			outcome = "invalid_state"
		case errors.Is(cause, recoverydomain.ErrLimitReached):
			outcome = "limit_reached"
		case errors.Is(cause, recoverydomain.ErrInsufficientGems):
			outcome = "insufficient_gems"
		case errors.As(cause, &cooldownErr):
			outcome = "cooldown_active"
		}
		s.obsMetrics.RecordRecoveryAction(ctx, string(action), outcome)
	}
	return nil, cause
}

func actionConfig(cfg config.RecoveryConfig, action recoverydomain.ActionType) (config.RecoveryActionConfig, error) {
	switch action {
	case recoverydomain.ActionCure:
		return cfg.Cure, nil
	case recoverydomain.ActionRevive:
		return cfg.Revive, nil
	case recoverydomain.ActionRestart:
		return cfg.Restart, nil
	default:
		return config.RecoveryActionConfig{}, recoverydomain.ErrInvalidState
	}
}

func sourceStateAllowed(action recoverydomain.ActionType, state petdomain.HealthState) bool {
	switch action {
	case recoverydomain.ActionCure:
		return state == petdomain.StateSick
	case recoverydomain.ActionRevive:
		return state == petdomain.StateDead
	case recoverydomain.ActionRestart:
		return state == petdomain.StateSick || state == petdomain.StateDead
	default:
		return false
	}
}
