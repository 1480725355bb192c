package economy

import (
	"context"

	"github.com/bwmarrin/snowflake"
	economydomain "github.com/pawselabs/pawse/internal/economy/domain"
	"github.com/pawselabs/pawse/internal/economy/service"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("economy.service",
	fx.Provide(
		service.NewService,
		provideStatsHistory,
	),
)

// statsHistory exposes the economy's daily history to the health machine.
type statsHistory struct {
	svc economydomain.Service
}

func provideStatsHistory(svc economydomain.Service) petdomain.StatsHistory {
	return statsHistory{svc: svc}
}

func (h statsHistory) RecentStats(ctx context.Context, userID snowflake.ID, n int) ([]petdomain.DayStat, error) {
	stats, err := h.svc.RecentStats(ctx, userID, n)
	if err != nil {
		return nil, err
	}
	result := make([]petdomain.DayStat, 0, len(stats))
	for _, row := range stats {
		result = append(result, petdomain.DayStat{
			DayKey:        row.DayKey,
			EnergyAwarded: row.EnergyAwarded,
		})
	}
	return result, nil
}
