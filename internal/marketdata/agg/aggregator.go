// Package agg converts a materialized, time-ordered tick sequence into
// fixed-period OHLC candles.
//
// Bucket boundaries are aligned to multiples of the period. Every boundary
// after the floor of the first tick and before the ceiling of the last tick
// closes one candle; a trailing candle anchored at the last tick's own
// timestamp captures the possibly incomplete final bucket. Buckets are
// right-closed: a tick exactly on a boundary belongs to the candle ending there.
package agg

import (
	"fmt"

	"candles-ema/internal/model"
)

// Aggregate builds candles from ticks using buckets of period seconds.
// A bucket with no ticks repeats the previous close in all four fields.
// Ticks must be non-empty and sorted ascending; period must be positive.
func Aggregate(ticks []model.Tick, period int64) ([]model.Candle, error) {
	if err := validate(ticks, period); err != nil {
		return nil, err
	}

	last := ticks[len(ticks)-1].TS
	start := floorDiv(ticks[0].TS, period) * period
	end := -floorDiv(-last, period) * period

	n := 1
	if end > start {
		n += int((end-start)/period) - 1
	}
	candles := make([]model.Candle, 0, n)

	cursor := 0
	var prevClose float64
	for ts := start + period; ts < end; ts += period {
		c := bucket(ticks, &cursor, ts, prevClose)
		prevClose = c.Close
		candles = append(candles, c)
	}
	// Trailing candle always holds at least the last tick.
	candles = append(candles, bucket(ticks, &cursor, last, prevClose))

	return candles, nil
}

// bucket consumes ticks[*cursor:] up to and including boundary and summarizes
// them. The cursor only moves forward.
func bucket(ticks []model.Tick, cursor *int, boundary int64, prevClose float64) model.Candle {
	i := *cursor
	if i >= len(ticks) || ticks[i].TS > boundary {
		return model.Candle{TS: boundary, Open: prevClose, High: prevClose, Low: prevClose, Close: prevClose}
	}

	c := model.Candle{
		TS:   boundary,
		Open: ticks[i].Price,
		High: ticks[i].Price,
		Low:  ticks[i].Price,
	}
	for ; i < len(ticks) && ticks[i].TS <= boundary; i++ {
		p := ticks[i].Price
		if p > c.High {
			c.High = p
		}
		if p < c.Low {
			c.Low = p
		}
		c.Close = p
		c.Ticks++
	}
	*cursor = i
	return c
}

func validate(ticks []model.Tick, period int64) error {
	if period <= 0 {
		return fmt.Errorf("%w: period must be positive, %d given", model.ErrInvalidInput, period)
	}
	if len(ticks) == 0 {
		return fmt.Errorf("%w: tick sequence is empty", model.ErrInvalidInput)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].TS < ticks[i-1].TS {
			return fmt.Errorf("%w: ticks not sorted at index %d (ts %d after %d)",
				model.ErrInvalidInput, i, ticks[i].TS, ticks[i-1].TS)
		}
	}
	return nil
}

// floorDiv rounds toward negative infinity so pre-epoch timestamps align too.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
