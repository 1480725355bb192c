package service

import (
	"context"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/pawselabs/pawse/internal/clock"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultSpecies = "Sproutling"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	WalletSvc walletdomain.Service
	History   petdomain.StatsHistory `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	walletSvc walletdomain.Service
	history   petdomain.StatsHistory
}

func NewService(p Params) petdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("pet.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		walletSvc: p.WalletSvc,
		history:   p.History,
	}
}

func (s *Service) GetOrCreate(ctx context.Context, userID snowflake.ID) (*petdomain.Pet, error) {
	if userID == 0 {
		return nil, petdomain.ErrInvalidUser
	}

	pet, err := s.find(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if pet != nil {
		return pet, nil
	}

	fresh := s.newPet(userID)
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(fresh).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID snowflake.ID) (*petdomain.Pet, error) {
	if userID == 0 {
		return nil, petdomain.ErrInvalidUser
	}
	pet, err := s.find(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if pet == nil {
		return nil, petdomain.ErrPetNotFound
	}
	return pet, nil
}

// Feed spends energy on food. The debit is the hard gate: a pet cannot be
// fed with energy the user does not have. Debit and pet update share one
// transaction so a failed save never burns energy.
func (s *Service) Feed(ctx context.Context, userID snowflake.ID, energyCost int64) (*petdomain.Pet, error) {
	if userID == 0 {
		return nil, petdomain.ErrInvalidUser
	}
	if energyCost <= 0 {
		return nil, petdomain.ErrInvalidAmount
	}

	var result *petdomain.Pet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pet, err := s.lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if pet == nil {
			return petdomain.ErrPetNotFound
		}
		if pet.HealthState == petdomain.StateDead {
			return petdomain.ErrPetDead
		}

		if _, err := s.walletSvc.DebitTx(ctx, tx, userID, walletdomain.CurrencyEnergy, energyCost, walletdomain.ReasonFeeding, nil); err != nil {
			return err
		}

		now := s.clock.Now()
		cap := pet.BuffCap(now)
		buff := pet.DailyBuffAccumulated + float64(energyCost)*petdomain.BuffPerEnergy
		if buff > cap {
			buff = cap
		}

		pet.FedToday = true
		pet.LastFeedAmount = energyCost
		pet.DailyBuffAccumulated = buff
		pet.UpdatedAt = now
		if err := tx.Save(pet).Error; err != nil {
			return err
		}
		result = pet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) EvaluateDayBoundary(ctx context.Context, userID snowflake.ID, dayKey string) (*petdomain.Pet, error) {
	if userID == 0 {
		return nil, petdomain.ErrInvalidUser
	}
	if dayKey == "" {
		return nil, petdomain.ErrInvalidDayKey
	}

	var result *petdomain.Pet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pet, err := s.lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if pet == nil {
			return petdomain.ErrPetNotFound
		}
		// A repeated evaluation for an already-stamped day is a no-op, so
		// scheduler retries cannot double-count a single elapsed day.
		if pet.LastEvaluatedDayKey == dayKey {
			result = pet
			return nil
		}
		if pet.HealthState == petdomain.StateDead {
			result = pet
			return nil
		}

		now := s.clock.Now()
		if !pet.FedToday {
			pet.ConsecutiveUnfedDays++
		} else {
			pet.ConsecutiveUnfedDays = 0
			if pet.HealthState == petdomain.StateSick {
				recovered, err := s.naturallyRecovered(ctx, userID)
				if err != nil {
					return err
				}
				if recovered {
					pet.HealthState = petdomain.StateHealthy
					pet.FragileUntil = nil
				}
			}
		}

		// Sickness does not reset the counter, so an unfed streak started
		// while healthy carries straight through to death.
		if pet.ConsecutiveUnfedDays >= petdomain.DeadAfterUnfedDays {
			pet.HealthState = petdomain.StateDead
			deadAt := now
			pet.DeadAt = &deadAt
		} else if pet.ConsecutiveUnfedDays >= petdomain.SickAfterUnfedDays && pet.HealthState == petdomain.StateHealthy {
			pet.HealthState = petdomain.StateSick
		}

		pet.LastEvaluatedDayKey = dayKey
		pet.UpdatedAt = now
		if err := tx.Save(pet).Error; err != nil {
			return err
		}
		result = pet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// naturallyRecovered checks the trailing three daily stats for at least two
// days with a nonzero energy award, a proxy for regular care.
func (s *Service) naturallyRecovered(ctx context.Context, userID snowflake.ID) (bool, error) {
	if s.history == nil {
		return false, nil
	}
	stats, err := s.history.RecentStats(ctx, userID, 3)
	if err != nil {
		return false, err
	}
	qualified := 0
	for _, stat := range stats {
		if stat.EnergyAwarded > 0 {
			qualified++
		}
	}
	return qualified >= 2, nil
}

func (s *Service) ApplyDailyReset(ctx context.Context, userID snowflake.ID) (*petdomain.Pet, error) {
	if userID == 0 {
		return nil, petdomain.ErrInvalidUser
	}

	var result *petdomain.Pet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pet, err := s.lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if pet == nil {
			return petdomain.ErrPetNotFound
		}

		if pet.HealthState == petdomain.StateHealthy && pet.DailyBuffAccumulated > 0 {
			advance := int(math.Round(pet.DailyBuffAccumulated * 10))
			if advance >= 1 {
				pet.GrowthProgress += advance
				pet.Stage++
			}
		}

		pet.FedToday = false
		pet.LastFeedAmount = 0
		pet.DailyBuffAccumulated = 0
		pet.UpdatedAt = s.clock.Now()

		if err := tx.Save(pet).Error; err != nil {
			return err
		}
		result = pet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) TransitionToSick(ctx context.Context, userID snowflake.ID) error {
	return s.transition(ctx, userID, map[string]any{
		"health_state": petdomain.StateSick,
	})
}

func (s *Service) TransitionToDead(ctx context.Context, userID snowflake.ID) error {
	return s.transition(ctx, userID, map[string]any{
		"health_state": petdomain.StateDead,
		"dead_at":      s.clock.Now(),
	})
}

func (s *Service) TransitionToHealthy(ctx context.Context, userID snowflake.ID, fragile bool, fragileDays int) error {
	updates := map[string]any{
		"health_state":           petdomain.StateHealthy,
		"consecutive_unfed_days": 0,
		"dead_at":                nil,
	}
	if fragile && fragileDays > 0 {
		updates["fragile_until"] = s.clock.Now().AddDate(0, 0, fragileDays)
	} else {
		updates["fragile_until"] = nil
	}
	return s.transition(ctx, userID, updates)
}

func (s *Service) transition(ctx context.Context, userID snowflake.ID, updates map[string]any) error {
	if userID == 0 {
		return petdomain.ErrInvalidUser
	}
	updates["updated_at"] = s.clock.Now()
	res := s.db.WithContext(ctx).Model(&petdomain.Pet{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return petdomain.ErrPetNotFound
	}
	return nil
}

// Replace memorializes a dead pet and installs a fresh one. Cosmetic
// ownership is keyed on userID, not petID, so it survives the swap.
func (s *Service) Replace(ctx context.Context, userID snowflake.ID, maxMemorials int) (*petdomain.Pet, error) {
	if userID == 0 {
		return nil, petdomain.ErrInvalidUser
	}

	var fresh *petdomain.Pet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pet, err := s.lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if pet == nil {
			return petdomain.ErrPetNotFound
		}

		now := s.clock.Now()
		if pet.HealthState == petdomain.StateDead {
			deathDate := now
			if pet.DeadAt != nil {
				deathDate = *pet.DeadAt
			}
			memorial := petdomain.Memorial{
				ID:          s.genID.Generate(),
				UserID:      userID,
				Species:     pet.Species,
				SpeciesCode: pet.SpeciesCode,
				Stage:       pet.Stage,
				DeathDate:   deathDate,
				CreatedAt:   now,
			}
			if err := tx.Create(&memorial).Error; err != nil {
				return err
			}
			if err := s.evictOldMemorials(ctx, tx, userID, maxMemorials); err != nil {
				return err
			}
		}

		if err := tx.Where("user_id = ?", userID).Delete(&petdomain.Pet{}).Error; err != nil {
			return err
		}

		fresh = s.newPet(userID)
		return tx.Create(fresh).Error
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Service) evictOldMemorials(ctx context.Context, tx *gorm.DB, userID snowflake.ID, maxMemorials int) error {
	if maxMemorials <= 0 {
		return nil
	}
	var memorials []petdomain.Memorial
	if err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("death_date DESC, id DESC").
		Find(&memorials).Error; err != nil {
		return err
	}
	if len(memorials) <= maxMemorials {
		return nil
	}
	for _, stale := range memorials[maxMemorials:] {
		if err := tx.Delete(&petdomain.Memorial{}, "id = ?", stale.ID).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ListMemorials(ctx context.Context, userID snowflake.ID) ([]petdomain.Memorial, error) {
	if userID == 0 {
		return nil, petdomain.ErrInvalidUser
	}
	var memorials []petdomain.Memorial
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("death_date DESC, id DESC").
		Find(&memorials).Error
	return memorials, err
}

func (s *Service) newPet(userID snowflake.ID) *petdomain.Pet {
	now := s.clock.Now()
	return &petdomain.Pet{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Species:     defaultSpecies,
		SpeciesCode: slug.Make(defaultSpecies),
		HealthState: petdomain.StateHealthy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *Service) find(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*petdomain.Pet, error) {
	var pet petdomain.Pet
	err := db.WithContext(ctx).First(&pet, "user_id = ?", userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pet, nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*petdomain.Pet, error) {
	stmt := tx.WithContext(ctx)
	if s.db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var pet petdomain.Pet
	err := stmt.First(&pet, "user_id = ?", userID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pet, nil
}
