package domain

import "time"

const (
	STATISTIC_SOURCE_RECORDER = "recorder"
)

type StatisticMetadata struct {
	StatisticId       string
	Name              string
	UnitOfMeasurement string
	Source            string
	HasMean           bool
	HasSum            bool
}

// StatisticPoint is one hourly row: the delta recorded for the hour starting
// at Start and the running sum including it.
type StatisticPoint struct {
	Start time.Time
	State float64
	Sum   float64
}
