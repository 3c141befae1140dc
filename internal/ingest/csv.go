// Package ingest decodes two-column timestamp/price CSV files into ticks and
// fetches the zipped source dataset. It never reorders ticks; ordering is
// validated by the aggregator.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"candles-ema/internal/model"
)

// timeLayouts are tried in order for non-numeric timestamps. Layouts without
// a zone are interpreted as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses unix seconds (integer or decimal) or an ISO-8601
// datetime into whole Unix seconds. Fractions are floored.
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("timestamp %q is not finite", s)
		}
		return int64(math.Floor(f)), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", s)
}

// DecodeCSV reads ticks from r. The first column is the timestamp and the
// second the price; extra columns are ignored. A leading header row (one
// whose first field is not a timestamp) is skipped.
func DecodeCSV(r io.Reader) ([]model.Tick, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	var ticks []model.Tick
	for n := 0; ; n++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < 2 {
			return nil, fmt.Errorf("csv line %d: expected at least 2 columns, got %d", line, len(rec))
		}

		ts, err := ParseTimestamp(rec[0])
		if err != nil {
			if n == 0 {
				continue // header
			}
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: price %q: %w", line, rec[1], err)
		}
		ticks = append(ticks, model.Tick{TS: ts, Price: price})
	}
	return ticks, nil
}

// ReadCSVFile opens and decodes a *.csv file.
func ReadCSVFile(path string) ([]model.Tick, error) {
	if filepath.Ext(path) != ".csv" {
		return nil, fmt.Errorf("%q: must be a *.csv file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	ticks, err := DecodeCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return ticks, nil
}
