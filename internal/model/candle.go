package model

import (
	"encoding/json"
	"math"
)

// Candle is an OHLC summary of one period bucket.
// TS is the bucket end (period-aligned), except for the trailing candle which
// is anchored at the timestamp of the last tick.
type Candle struct {
	TS    int64   `json:"ts"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
	Ticks int     `json:"ticks"` // ticks in the bucket, 0 when forward-filled
}

// Filled reports whether the candle was forward-filled from the previous close.
func (c *Candle) Filled() bool { return c.Ticks == 0 }

// Closes extracts close prices in order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Row is one line of the chart table: a candle joined with its EMA value.
type Row struct {
	TS    int64   `json:"ts"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
	EMA   float64 `json:"ema"`
}

type rowJSON struct {
	TS    int64    `json:"ts"`
	Open  *float64 `json:"open"`
	High  *float64 `json:"high"`
	Low   *float64 `json:"low"`
	Close *float64 `json:"close"`
	EMA   *float64 `json:"ema"`
}

// MarshalJSON encodes non-finite values as null; encoding/json rejects them.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(rowJSON{TS: r.TS, Open: finite(r.Open), High: finite(r.High), Low: finite(r.Low), Close: finite(r.Close), EMA: finite(r.EMA)})
}

// UnmarshalJSON decodes null values as NaN.
func (r *Row) UnmarshalJSON(b []byte) error {
	var v rowJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Row{TS: v.TS, Open: orNaN(v.Open), High: orNaN(v.High), Low: orNaN(v.Low), Close: orNaN(v.Close), EMA: orNaN(v.EMA)}
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// Series is a computed candle+EMA table for one dataset and period.
type Series struct {
	Symbol string `json:"symbol"`
	Period int64  `json:"period"` // seconds
	Length int    `json:"length"` // EMA length
	Rows   []Row  `json:"rows"`
}

// Key returns "symbol:{period}s".
func (s *Series) Key() string {
	return s.Symbol + ":" + Itoa(int(s.Period)) + "s"
}

// JSON returns the JSON-encoded series (ignoring errors, all fields are plain values).
func (s *Series) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// Join zips candles with EMA values into rows. ema must have len(candles) entries.
func Join(candles []Candle, ema []float64) []Row {
	rows := make([]Row, len(candles))
	for i, c := range candles {
		rows[i] = Row{TS: c.TS, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, EMA: ema[i]}
	}
	return rows
}
