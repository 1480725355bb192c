package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// GameConfig groups the gameplay tunables: the daily energy award curve,
// paid recovery actions, and pet lifecycle parameters.
type GameConfig struct {
	Economy  EconomyConfig  `mapstructure:"economy"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Pet      PetConfig      `mapstructure:"pet"`
}

type EconomyConfig struct {
	MaxDailyEnergy  int     `mapstructure:"maxDailyEnergy"`
	Gamma           float64 `mapstructure:"gamma"`
	SmoothingWindow int     `mapstructure:"smoothingWindow"`
}

type RecoveryActionConfig struct {
	Enabled       bool  `mapstructure:"enabled"`
	CostGems      int64 `mapstructure:"costGems"`
	CooldownHours int   `mapstructure:"cooldownHours"`
}

type RecoveryConfig struct {
	Cure    RecoveryActionConfig `mapstructure:"cure"`
	Revive  RecoveryActionConfig `mapstructure:"revive"`
	Restart RecoveryActionConfig `mapstructure:"restart"`

	LimitsEnforced     bool `mapstructure:"limitsEnforced"`
	CureMaxPer30Days   int  `mapstructure:"cureMaxPer30Days"`
	ReviveMaxPer90Days int  `mapstructure:"reviveMaxPer90Days"`
	FragileDays        int  `mapstructure:"fragileDays"`
}

type PetConfig struct {
	MaxMemorialsPerUser int `mapstructure:"maxMemorialsPerUser"`
}

func DefaultGameConfig() GameConfig {
	return GameConfig{
		Economy: EconomyConfig{
			MaxDailyEnergy:  150,
			Gamma:           1.0,
			SmoothingWindow: 2,
		},
		Recovery: RecoveryConfig{
			Cure:               RecoveryActionConfig{Enabled: true, CostGems: 120, CooldownHours: 24},
			Revive:             RecoveryActionConfig{Enabled: true, CostGems: 400, CooldownHours: 72},
			Restart:            RecoveryActionConfig{Enabled: true, CostGems: 200, CooldownHours: 24},
			LimitsEnforced:     true,
			CureMaxPer30Days:   3,
			ReviveMaxPer90Days: 2,
			FragileDays:        3,
		},
		Pet: PetConfig{
			MaxMemorialsPerUser: 10,
		},
	}
}

// GameConfigHolder serves the current gameplay config and hot-reloads it
// when the underlying file changes.
type GameConfigHolder struct {
	current atomic.Value // holds GameConfig
}

func NewGameConfigHolder() (*GameConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("game")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/pawse/config")
	v.AddConfigPath("/etc/pawse")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAWSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultGameConfig()
	v.SetDefault("game.economy", defaults.Economy)
	v.SetDefault("game.recovery", defaults.Recovery)
	v.SetDefault("game.pet", defaults.Pet)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg GameConfig
	if err := v.UnmarshalKey("game", &cfg); err != nil {
		return nil, err
	}
	if err := validateGameConfig(cfg); err != nil {
		return nil, err
	}

	holder := &GameConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GameConfig
		if err := v.UnmarshalKey("game", &updated); err != nil {
			log.Printf("[game-config] reload failed: %v", err)
			return
		}
		if err := validateGameConfig(updated); err != nil {
			log.Printf("[game-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
	})

	return holder, nil
}

// NewStaticGameConfigHolder wraps a fixed config, for tests.
func NewStaticGameConfigHolder(cfg GameConfig) *GameConfigHolder {
	holder := &GameConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *GameConfigHolder) Current() GameConfig {
	return h.current.Load().(GameConfig)
}

func (h *GameConfigHolder) Store(cfg GameConfig) {
	h.current.Store(cfg)
}

func validateGameConfig(cfg GameConfig) error {
	if cfg.Economy.MaxDailyEnergy <= 0 {
		return errors.New("economy.maxDailyEnergy must be positive")
	}
	if cfg.Economy.Gamma <= 0 {
		return errors.New("economy.gamma must be positive")
	}
	if cfg.Economy.SmoothingWindow < 1 {
		return errors.New("economy.smoothingWindow must be at least 1")
	}
	for _, action := range []RecoveryActionConfig{cfg.Recovery.Cure, cfg.Recovery.Revive, cfg.Recovery.Restart} {
		if action.CostGems < 0 {
			return errors.New("recovery cost must not be negative")
		}
		if action.CooldownHours < 0 {
			return errors.New("recovery cooldown must not be negative")
		}
	}
	if cfg.Recovery.FragileDays < 0 {
		return errors.New("recovery.fragileDays must not be negative")
	}
	if cfg.Pet.MaxMemorialsPerUser < 1 {
		return errors.New("pet.maxMemorialsPerUser must be at least 1")
	}
	return nil
}
