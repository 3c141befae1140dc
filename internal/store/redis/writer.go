// Package redis publishes computed series to Redis for live chart consumers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"candles-ema/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultSeriesTTL = 24 * time.Hour

	// indexKey is a set of every series key ever published.
	indexKey = "series:index"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // expiry of stored series, default 24h
}

// Writer stores series as JSON values and announces updates via PubSub.
type Writer struct {
	client *goredis.Client
	ttl    time.Duration
}

var (
	_ model.SeriesPublisher = (*Writer)(nil)
	_ model.SeriesReader    = (*Writer)(nil)
)

// Notice is the PubSub payload announcing a fresh series.
type Notice struct {
	Key    string `json:"key"`
	Symbol string `json:"symbol"`
	Period int64  `json:"period"`
	Rows   int    `json:"rows"`
	LastTS int64  `json:"last_ts"`
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg.TTL), nil
}

// NewWithClient wraps an existing client. ttl <= 0 selects the default.
func NewWithClient(client *goredis.Client, ttl time.Duration) *Writer {
	if ttl <= 0 {
		ttl = defaultSeriesTTL
	}
	return &Writer{client: client, ttl: ttl}
}

// SeriesKey is the value key of a series: "series:{period}s:{symbol}".
func SeriesKey(symbol string, period int64) string {
	return "series:" + model.Itoa(int(period)) + "s:" + symbol
}

// Channel is the PubSub channel of a series: "pub:series:{period}s:{symbol}".
func Channel(symbol string, period int64) string {
	return "pub:" + SeriesKey(symbol, period)
}

// PublishSeries stores the series with TTL, indexes its key, then publishes a notice.
// Commands are sent one by one so a failed SET never announces a stale value.
func (w *Writer) PublishSeries(ctx context.Context, s *model.Series) error {
	key := SeriesKey(s.Symbol, s.Period)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}

	if err := w.client.Set(ctx, key, string(data), w.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	if err := w.client.SAdd(ctx, indexKey, key).Err(); err != nil {
		return fmt.Errorf("redis SADD %s: %w", indexKey, err)
	}

	notice, err := json.Marshal(newNotice(key, s))
	if err != nil {
		return fmt.Errorf("redis encode notice %s: %w", key, err)
	}
	if err := w.client.Publish(ctx, Channel(s.Symbol, s.Period), string(notice)).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", key, err)
	}
	return nil
}

func newNotice(key string, s *model.Series) Notice {
	n := Notice{Key: key, Symbol: s.Symbol, Period: s.Period, Rows: len(s.Rows)}
	if len(s.Rows) > 0 {
		n.LastTS = s.Rows[len(s.Rows)-1].TS
	}
	return n
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
