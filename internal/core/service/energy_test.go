package service

import (
	"testing"
	"time"

	"github.com/berfenger/meterbridge/pkg/pnd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWindow(t *testing.T) {
	assert := assert.New(t)
	prague, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)

	now := time.Date(2024, 10, 2, 9, 47, 12, 345, prague)
	from, to := FetchWindow(now, prague, DEFAULT_FETCH_OFFSET)

	assert.True(time.Date(2024, 10, 1, 20, 0, 0, 0, prague).Equal(from), from.String())
	assert.Equal(time.Hour, to.Sub(from))
	assert.Equal(prague, from.Location())
}

func TestFetchWindowUsesLocationHourBoundary(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 10:10 UTC is 15:40 in Kolkata (+05:30)
	now := time.Date(2024, 10, 2, 10, 10, 0, 0, time.UTC)
	from, _ := FetchWindow(now, kolkata, 0)
	assert.Equal(t, 15, from.Hour())
	assert.Equal(t, 0, from.Minute())
	assert.True(t, time.Date(2024, 10, 2, 9, 30, 0, 0, time.UTC).Equal(from))
}

func TestAggregateEnergy(t *testing.T) {
	assert := assert.New(t)

	for _, n := range []int{0, 1, 4, 7} {
		v := 1.6
		ms := make([]pnd.Measurement, n)
		for i := range ms {
			ms[i] = pnd.Measurement{ConsumptionKW: v, ReturnKW: v / 2}
		}
		totals := AggregateEnergy(ms)
		assert.InDelta(float64(n)*v*0.25, totals.ConsumedKWh, 1e-9)
		assert.InDelta(float64(n)*v/2*0.25, totals.ReturnedKWh, 1e-9)
		assert.Equal(n, totals.Samples)
	}
}

func TestAggregateEnergyKeepsDirectionsApart(t *testing.T) {
	totals := AggregateEnergy([]pnd.Measurement{
		{ConsumptionKW: 4, ReturnKW: 0},
		{ConsumptionKW: 0, ReturnKW: 2},
	})
	assert.Equal(t, 1.0, totals.ConsumedKWh)
	assert.Equal(t, 0.5, totals.ReturnedKWh)
}
