// Package metrics exposes Prometheus metrics and the /healthz status.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"candles-ema/internal/pipeline"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the series pipeline.
type Metrics struct {
	BuildsTotal    *prometheus.CounterVec // labels: status=ok|error
	BuildDur       prometheus.Histogram
	CandlesTotal   *prometheus.CounterVec // labels: period
	FilledTotal    *prometheus.CounterVec // labels: period
	TicksTotal     prometheus.Counter
	DownloadRetry  prometheus.Counter
	RefreshesTotal *prometheus.CounterVec // labels: status=ok|error

	SQLiteCommitDur prometheus.Histogram

	// Redis circuit breaker
	RedisCircuitState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisHeldSeries   prometheus.Counter

	WSClients prometheus.Gauge
	WSDropped prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them on reg. A nil reg selects a
// fresh registry, which keeps tests independent of the global one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		BuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candles_builds_total",
			Help: "Series builds by outcome",
		}, []string{"status"}),
		BuildDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candles_build_duration_seconds",
			Help:    "Aggregate+EMA latency per series",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candles_emitted_total",
			Help: "Candles emitted (by period seconds)",
		}, []string{"period"}),
		FilledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candles_forward_filled_total",
			Help: "Candles forward-filled from the previous close (by period seconds)",
		}, []string{"period"}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candles_ticks_ingested_total",
			Help: "Ticks fed into builds",
		}),
		DownloadRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candles_download_retries_total",
			Help: "Dataset download retry attempts",
		}),
		RefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candles_refreshes_total",
			Help: "Scheduled dataset refreshes by outcome",
		}, []string{"status"}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candles_sqlite_commit_duration_seconds",
			Help:    "SQLite series commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candles_redis_circuit_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisHeldSeries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candles_redis_held_series_total",
			Help: "Series held back while Redis was unavailable",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candles_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candles_ws_dropped_messages_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.BuildsTotal,
		m.BuildDur,
		m.CandlesTotal,
		m.FilledTotal,
		m.TicksTotal,
		m.DownloadRetry,
		m.RefreshesTotal,
		m.SQLiteCommitDur,
		m.RedisCircuitState,
		m.RedisHeldSeries,
		m.WSClients,
		m.WSDropped,
	)
	return m
}

// ObserveBuild records one pipeline build. Usable as pipeline.Pipeline.OnBuild.
func (m *Metrics) ObserveBuild(s pipeline.BuildStats) {
	m.BuildDur.Observe(s.Duration.Seconds())
	m.TicksTotal.Add(float64(s.Ticks))
	if s.Err != nil {
		m.BuildsTotal.WithLabelValues("error").Inc()
		return
	}
	m.BuildsTotal.WithLabelValues("ok").Inc()
	period := strconv.FormatInt(s.Period, 10)
	m.CandlesTotal.WithLabelValues(period).Add(float64(s.Candles))
	m.FilledTotal.WithLabelValues(period).Add(float64(s.Filled))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	LastRefresh    time.Time `json:"last_refresh"`
	LastRefreshErr string    `json:"last_refresh_error,omitempty"`
	SeriesCount    int       `json:"series_count"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// RecordRefresh stores the outcome of a dataset refresh.
func (h *HealthStatus) RecordRefresh(series int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastRefresh = time.Now()
	if err != nil {
		h.LastRefreshErr = err.Error()
		return
	}
	h.LastRefreshErr = ""
	h.SeriesCount = series
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	if !h.SQLiteOK || redisDown || h.LastRefreshErr != "" {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && h.SeriesCount == 0 {
		overallStatus = "unhealthy"
	}

	refreshAge := ""
	lastRefresh := ""
	if !h.LastRefresh.IsZero() {
		refreshAge = time.Since(h.LastRefresh).Round(time.Millisecond).String()
		lastRefresh = h.LastRefresh.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		SeriesCount     int     `json:"series_count"`
		LastRefresh     string  `json:"last_refresh"`
		RefreshAge      string  `json:"refresh_age"`
		LastRefreshErr  string  `json:"last_refresh_error,omitempty"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		SeriesCount:     h.SeriesCount,
		LastRefresh:     lastRefresh,
		RefreshAge:      refreshAge,
		LastRefreshErr:  h.LastRefreshErr,
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
