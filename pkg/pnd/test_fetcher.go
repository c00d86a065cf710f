package pnd

import (
	"context"
	"sync"
	"time"
)

// TestFetcher returns a fixed consumption and return power for every quarter
// hour of the queried window, or Err when set.
type TestFetcher struct {
	ConsumptionKW float64
	ReturnKW      float64
	Err           error

	mutex   sync.Mutex
	queries []Query
}

var _ Fetcher = (*TestFetcher)(nil)

func CreateTestFetcher() *TestFetcher {
	return &TestFetcher{ConsumptionKW: 1.2, ReturnKW: 0.4}
}

func (f *TestFetcher) FetchMeasurements(ctx context.Context, query Query) ([]Measurement, error) {
	f.mutex.Lock()
	f.queries = append(f.queries, query)
	err := f.Err
	f.mutex.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Measurement
	for t := query.From.Add(15 * time.Minute); !t.After(query.To); t = t.Add(15 * time.Minute) {
		out = append(out, Measurement{Time: t, ConsumptionKW: f.ConsumptionKW, ReturnKW: f.ReturnKW})
	}
	return out, nil
}

func (f *TestFetcher) Queries() []Query {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]Query(nil), f.queries...)
}

// SetErr changes the scripted error while the fetcher is in use.
func (f *TestFetcher) SetErr(err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.Err = err
}
