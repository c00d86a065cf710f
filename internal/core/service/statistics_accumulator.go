package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/core/port"
	"go.uber.org/zap"
)

const STATISTIC_ID_PREFIX = "sensor.cez_distribuce_pnd_"

var ErrNegativeDelta = errors.New("negative energy delta")

type AccumulateResult struct {
	StatisticId string
	Start       time.Time
	Delta       float64
	Sum         float64
	// false when the window was already recorded, Sum is then the stored total
	Written bool
}

// StatisticsAccumulator appends hourly deltas to a running sum. A window that
// already has a nonzero change is left untouched, so repeated polls of the
// same hour write once.
type StatisticsAccumulator struct {
	Store  port.StatisticsStore
	Logger *zap.Logger
}

func StatisticId(pndDevice string, key string) string {
	return fmt.Sprintf("%s%s_%s", STATISTIC_ID_PREFIX, domain.Slug(pndDevice), key)
}

func EnergyStatisticMetadata(statisticId string) domain.StatisticMetadata {
	return domain.StatisticMetadata{
		StatisticId:       statisticId,
		UnitOfMeasurement: domain.UNIT_KILO_WATT_HOUR,
		Source:            domain.STATISTIC_SOURCE_RECORDER,
		HasMean:           false,
		HasSum:            true,
	}
}

func (acc *StatisticsAccumulator) Accumulate(ctx context.Context, statisticId string, start, end time.Time, delta float64) (AccumulateResult, error) {
	result := AccumulateResult{StatisticId: statisticId, Start: start, Delta: delta}
	if delta < 0 {
		return result, fmt.Errorf("%w: %s %f", ErrNegativeDelta, statisticId, delta)
	}

	change, err := acc.Store.ChangeDuring(ctx, statisticId, start, end)
	if err != nil {
		return result, fmt.Errorf("change during %s: %w", statisticId, err)
	}
	lastSum, _, err := acc.Store.LastSum(ctx, statisticId)
	if err != nil {
		return result, fmt.Errorf("last sum %s: %w", statisticId, err)
	}
	if change != 0 {
		// Sum still reports the recorded total
		result.Sum = lastSum
		acc.logger().Debug("statistics window already recorded",
			zap.String("statisticId", statisticId), zap.Time("start", start), zap.Float64("change", change))
		return result, nil
	}

	result.Sum = lastSum + delta

	err = acc.Store.Import(ctx, EnergyStatisticMetadata(statisticId), []domain.StatisticPoint{{
		Start: start,
		State: delta,
		Sum:   result.Sum,
	}})
	if err != nil {
		return result, fmt.Errorf("import %s: %w", statisticId, err)
	}
	result.Written = true
	acc.logger().Info("statistics imported",
		zap.String("statisticId", statisticId), zap.Time("start", start),
		zap.Float64("state", delta), zap.Float64("sum", result.Sum))
	return result, nil
}

// AccumulateEnergy records consumed and returned energy of one PND device for
// the window [from, to).
func (acc *StatisticsAccumulator) AccumulateEnergy(ctx context.Context, pndDevice string, from, to time.Time, totals EnergyTotals) ([]AccumulateResult, error) {
	deltas := []struct {
		key   string
		value float64
	}{
		{domain.SENSOR_ID_CONSUMED_ENERGY, totals.ConsumedKWh},
		{domain.SENSOR_ID_RETURNED_ENERGY, totals.ReturnedKWh},
	}
	var results []AccumulateResult
	for _, d := range deltas {
		r, err := acc.Accumulate(ctx, StatisticId(pndDevice, d.key), from, to, d.value)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (acc *StatisticsAccumulator) logger() *zap.Logger {
	if acc.Logger == nil {
		return zap.NewNop()
	}
	return acc.Logger
}
