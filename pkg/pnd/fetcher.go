// Package pnd reads quarter-hour interval data from the CEZ Distribuce
// "Portál naměřených dat" (PND).
package pnd

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuth is returned when the portal rejects the credentials.
	ErrAuth = errors.New("pnd: authentication rejected")
	ErrUnexpectedResponse = errors.New("pnd: unexpected response")
)

// Measurement is one quarter-hour sample. Time is the end of the interval.
type Measurement struct {
	Time          time.Time
	ConsumptionKW float64
	ReturnKW      float64
}

type Query struct {
	From   time.Time
	To     time.Time
	Device string
}

type Credentials struct {
	Username string
	Password string
}

// BrowserOptions describe a browser automation endpoint. They are carried as
// configured and never validated here.
type BrowserOptions struct {
	Remote bool
	URL    string
	Driver string
}

type Fetcher interface {
	FetchMeasurements(ctx context.Context, query Query) ([]Measurement, error)
}

// inWindow keeps samples whose interval ends within (from, to].
func inWindow(measurements []Measurement, from, to time.Time) []Measurement {
	var out []Measurement
	for _, m := range measurements {
		if m.Time.After(from) && !m.Time.After(to) {
			out = append(out, m)
		}
	}
	return out
}
