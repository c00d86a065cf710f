package service

import (
	"time"

	"github.com/berfenger/meterbridge/pkg/pnd"
)

const (
	// kW sampled over a quarter hour to kWh
	QUARTER_HOUR_KWH_FACTOR = 0.25
	DEFAULT_FETCH_OFFSET    = 13 * time.Hour
)

type EnergyTotals struct {
	ConsumedKWh float64
	ReturnedKWh float64
	Samples     int
}

// FetchWindow returns the one hour window that starts at the hour boundary
// offset before now, in loc. The PND portal publishes data with a delay, so
// the window always lies in the past.
func FetchWindow(now time.Time, loc *time.Location, offset time.Duration) (from, to time.Time) {
	if loc == nil {
		loc = time.Local
	}
	t := now.In(loc).Add(-offset)
	// subtracting the sub-hour part keeps the zone offset across DST folds
	from = t.Add(-(time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())))
	return from, from.Add(time.Hour)
}

// AggregateEnergy sums consumption and return separately.
func AggregateEnergy(measurements []pnd.Measurement) EnergyTotals {
	totals := EnergyTotals{Samples: len(measurements)}
	for _, m := range measurements {
		totals.ConsumedKWh += m.ConsumptionKW * QUARTER_HOUR_KWH_FACTOR
		totals.ReturnedKWh += m.ReturnKW * QUARTER_HOUR_KWH_FACTOR
	}
	return totals
}
