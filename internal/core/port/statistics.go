package port

import (
	"context"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
)

type StatisticsStore interface {
	// ChangeDuring returns the sum of recorded deltas whose start lies in [start, end).
	ChangeDuring(ctx context.Context, statisticId string, start, end time.Time) (float64, error)
	LastSum(ctx context.Context, statisticId string) (sum float64, found bool, err error)
	// Import upserts points keyed by (statistic id, start).
	Import(ctx context.Context, metadata domain.StatisticMetadata, points []domain.StatisticPoint) error
	Points(ctx context.Context, statisticId string) ([]domain.StatisticPoint, error)
}
