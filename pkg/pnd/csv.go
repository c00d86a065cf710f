package pnd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	timestampLayout        = "02.01.2006 15:04"
	timestampLayoutSeconds = "02.01.2006 15:04:05"
)

// ParseCSV parses a PND export: a header row followed by
// "timestamp;consumption kW;return kW" rows. Decimal commas are accepted and
// empty values read as zero.
func ParseCSV(r io.Reader, loc *time.Location) ([]Measurement, error) {
	if loc == nil {
		loc = time.Local
	}
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty CSV export")
	}

	measurements := make([]Measurement, 0, len(records)-1)
	for i, record := range records[1:] {
		row := i + 2
		if isBlank(record) {
			continue
		}
		if len(record) < 3 {
			return nil, fmt.Errorf("row %d: expected 3 columns, got %d", row, len(record))
		}
		ts, err := parseTimestamp(record[0], loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		consumption, err := parseDecimal(record[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: consumption: %w", row, err)
		}
		ret, err := parseDecimal(record[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: return: %w", row, err)
		}
		measurements = append(measurements, Measurement{
			Time:          ts,
			ConsumptionKW: consumption,
			ReturnKW:      ret,
		})
	}
	return measurements, nil
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	ts, err := time.ParseInLocation(timestampLayout, s, loc)
	if err == nil {
		return ts, nil
	}
	ts, err2 := time.ParseInLocation(timestampLayoutSeconds, s, loc)
	if err2 == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
}

func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
