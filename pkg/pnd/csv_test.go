package pnd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `Datum;+A/d000 [kW];-A/d000 [kW]
01.10.2024 10:15;1,200;0,000
01.10.2024 10:30;0,8;0,4
01.10.2024 10:45:00;;2.5

01.10.2024 11:00;0;0
`

func TestParseCSV(t *testing.T) {
	assert := assert.New(t)
	loc, err := time.LoadLocation("Europe/Prague")
	require.NoError(t, err)

	ms, err := ParseCSV(strings.NewReader(sampleExport), loc)
	require.NoError(t, err)
	require.Len(t, ms, 4)

	assert.Equal(time.Date(2024, 10, 1, 10, 15, 0, 0, loc), ms[0].Time)
	assert.InDelta(1.2, ms[0].ConsumptionKW, 1e-9)
	assert.InDelta(0.0, ms[0].ReturnKW, 1e-9)
	assert.InDelta(0.8, ms[1].ConsumptionKW, 1e-9)
	assert.InDelta(0.4, ms[1].ReturnKW, 1e-9)
	assert.Equal(time.Date(2024, 10, 1, 10, 45, 0, 0, loc), ms[2].Time)
	assert.InDelta(0.0, ms[2].ConsumptionKW, 1e-9)
	assert.InDelta(2.5, ms[2].ReturnKW, 1e-9)
}

func TestParseCSVRowErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := ParseCSV(strings.NewReader("h1;h2;h3\n01.10.2024 10:15;1,0\n"), time.UTC)
	assert.ErrorContains(err, "row 2")

	_, err = ParseCSV(strings.NewReader("h1;h2;h3\n01.10.2024 10:15;1;1\n2024-10-01;1;1\n"), time.UTC)
	assert.ErrorContains(err, "row 3")
	assert.ErrorContains(err, "invalid timestamp")

	_, err = ParseCSV(strings.NewReader("h1;h2;h3\n01.10.2024 10:15;abc;1\n"), time.UTC)
	assert.ErrorContains(err, "consumption")

	_, err = ParseCSV(strings.NewReader(""), time.UTC)
	assert.Error(err)
}

func TestParseCSVHeaderOnly(t *testing.T) {
	ms, err := ParseCSV(strings.NewReader("Datum;+A;-A\n"), time.UTC)
	assert.NoError(t, err)
	assert.Empty(t, ms)
}

func TestInWindow(t *testing.T) {
	from := time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	var ms []Measurement
	for i := 0; i <= 5; i++ {
		ms = append(ms, Measurement{Time: from.Add(time.Duration(i) * 15 * time.Minute)})
	}
	out := inWindow(ms, from, to)
	require.Len(t, out, 4)
	assert.Equal(t, from.Add(15*time.Minute), out[0].Time)
	assert.Equal(t, to, out[3].Time)
}
