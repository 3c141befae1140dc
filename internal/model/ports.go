package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the pipeline and gateway from concrete stores (SQLite, Redis).

// SeriesWriter persists a computed series, replacing any previous version
// for the same symbol and period.
type SeriesWriter interface {
	SaveSeries(ctx context.Context, s *Series) error
}

// SeriesReader loads a stored series. Returns nil, nil when nothing is stored.
type SeriesReader interface {
	ReadSeries(ctx context.Context, symbol string, period int64) (*Series, error)
}

// SeriesPublisher pushes a series to live consumers (Redis PubSub, WebSocket hub).
type SeriesPublisher interface {
	PublishSeries(ctx context.Context, s *Series) error
}
