package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"

	"candles-ema/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to stored series.
type Reader struct {
	db *sql.DB
}

var _ model.SeriesReader = (*Reader)(nil)

// SeriesInfo summarizes a stored series without its rows.
type SeriesInfo struct {
	Symbol    string `json:"symbol"`
	Period    int64  `json:"period"`
	Length    int    `json:"length"`
	Rows      int    `json:"rows"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadSeries loads a series ordered by position. Returns nil, nil if absent.
func (r *Reader) ReadSeries(ctx context.Context, symbol string, period int64) (*model.Series, error) {
	s := &model.Series{Symbol: symbol, Period: period}
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT length, rows FROM series WHERE symbol = ? AND period = ?`, symbol, period,
	).Scan(&s.Length, &n)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query series: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, ema
		FROM series_rows
		WHERE symbol = ? AND period = ?
		ORDER BY seq ASC
	`, symbol, period)
	if err != nil {
		return nil, fmt.Errorf("sqlite query series_rows: %w", err)
	}
	defer rows.Close()

	s.Rows = make([]model.Row, 0, n)
	for rows.Next() {
		var row model.Row
		var o, h, l, c, ema sql.NullFloat64
		if err := rows.Scan(&row.TS, &o, &h, &l, &c, &ema); err != nil {
			return nil, fmt.Errorf("sqlite scan series_rows: %w", err)
		}
		row.Open, row.High, row.Low, row.Close = orNaN(o), orNaN(h), orNaN(l), orNaN(c)
		row.EMA = orNaN(ema)
		s.Rows = append(s.Rows, row)
	}
	return s, rows.Err()
}

// ListSeries returns every stored series header ordered by symbol and period.
func (r *Reader) ListSeries(ctx context.Context) ([]SeriesInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, period, length, rows, updated_at
		FROM series
		ORDER BY symbol ASC, period ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query series: %w", err)
	}
	defer rows.Close()

	var out []SeriesInfo
	for rows.Next() {
		var info SeriesInfo
		if err := rows.Scan(&info.Symbol, &info.Period, &info.Length, &info.Rows, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan series: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

// nullable stores NaN as NULL; SQLite has no NaN representation.
func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
