// Package sqlite persists computed candle+EMA series in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"candles-ema/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/series.db"
}

// Writer stores series. A single connection serializes writes.
type Writer struct {
	db *sql.DB

	// OnCommit is called with the commit latency (optional, used for metrics).
	OnCommit func(d time.Duration)
}

var _ model.SeriesWriter = (*Writer)(nil)

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS series (
			symbol     TEXT    NOT NULL,
			period     INTEGER NOT NULL,
			length     INTEGER NOT NULL,
			rows       INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, period)
		);

		CREATE TABLE IF NOT EXISTS series_rows (
			symbol TEXT    NOT NULL,
			period INTEGER NOT NULL,
			seq    INTEGER NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL,
			ema    REAL,
			PRIMARY KEY (symbol, period, seq)
		);
	`)
	return err
}

// SaveSeries replaces the stored series for (symbol, period) in one transaction.
// Rows are keyed by position so equal timestamps stay distinct.
func (w *Writer) SaveSeries(ctx context.Context, s *model.Series) error {
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM series_rows WHERE symbol = ? AND period = ?`, s.Symbol, s.Period); err != nil {
		return fmt.Errorf("sqlite clear rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series_rows (symbol, period, seq, ts, open, high, low, close, ema)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for i, r := range s.Rows {
		if _, err := stmt.ExecContext(ctx, s.Symbol, s.Period, i, r.TS,
			nullable(r.Open), nullable(r.High), nullable(r.Low), nullable(r.Close), nullable(r.EMA)); err != nil {
			return fmt.Errorf("sqlite insert row %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO series (symbol, period, length, rows, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.Symbol, s.Period, s.Length, len(s.Rows), time.Now().Unix()); err != nil {
		return fmt.Errorf("sqlite upsert series: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	took := time.Since(start)
	if w.OnCommit != nil {
		w.OnCommit(took)
	}
	log.Printf("[sqlite] committed %s (%d rows) in %v", s.Key(), len(s.Rows), took)
	return nil
}

// Ping checks the connection.
func (w *Writer) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
