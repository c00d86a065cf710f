package storage

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStatisticId = "sensor.cez_distribuce_pnd_elm_consumed_energy"

func meta() domain.StatisticMetadata {
	return domain.StatisticMetadata{StatisticId: testStatisticId, UnitOfMeasurement: "kWh", Source: "recorder", HasSum: true}
}

func TestMemoryStoreUpsertAndQueries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := NewMemoryStatisticsStore()
	h0 := time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC)

	_, found, err := store.LastSum(ctx, testStatisticId)
	assert.NoError(err)
	assert.False(found)

	require.NoError(t, store.Import(ctx, meta(), []domain.StatisticPoint{
		{Start: h0.Add(time.Hour), State: 2, Sum: 3},
		{Start: h0, State: 1, Sum: 1},
	}))

	sum, found, err := store.LastSum(ctx, testStatisticId)
	assert.NoError(err)
	assert.True(found)
	assert.Equal(3.0, sum)

	change, err := store.ChangeDuring(ctx, testStatisticId, h0, h0.Add(time.Hour))
	assert.NoError(err)
	assert.Equal(1.0, change)

	// same start replaces the row
	require.NoError(t, store.Import(ctx, meta(), []domain.StatisticPoint{{Start: h0, State: 5, Sum: 5}}))
	points, err := store.Points(ctx, testStatisticId)
	assert.NoError(err)
	assert.Len(points, 2)
	assert.Equal(5.0, points[0].State)
	assert.Equal(2, store.Imports())

	m, ok := store.Metadata(testStatisticId)
	assert.True(ok)
	assert.True(m.HasSum)
}

func TestMemoryStoreUnknownStatistic(t *testing.T) {
	store := NewMemoryStatisticsStore()
	change, err := store.ChangeDuring(context.Background(), "nope", time.Time{}, time.Now())
	assert.NoError(t, err)
	assert.Zero(t, change)
	points, err := store.Points(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Empty(t, points)
}
