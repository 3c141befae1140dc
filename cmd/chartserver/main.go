// cmd/chartserver builds the configured datasets, stores them, serves them to
// chart clients over REST/WebSocket and refreshes them on a cron schedule.
//
// Usage:
//
//	go run ./cmd/chartserver --config=config.yaml
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"candles-ema/config"
	"candles-ema/internal/gateway"
	"candles-ema/internal/ingest"
	"candles-ema/internal/logger"
	"candles-ema/internal/metrics"
	"candles-ema/internal/model"
	"candles-ema/internal/notification"
	"candles-ema/internal/period"
	"candles-ema/internal/pipeline"
	"candles-ema/internal/scheduler"
	redisstore "candles-ema/internal/store/redis"
	sqlitestore "candles-ema/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[chartserver] starting...")

	cfgPath := flag.String("config", "config.yaml", "YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[chartserver] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[chartserver] invalid config: %v", err)
	}
	logger.Init("chartserver", logger.ParseLevel(cfg.LogLevel))

	periods := period.Default()
	if err := periods.Merge(cfg.ExtraPeriods); err != nil {
		log.Fatalf("[chartserver] extra periods: %v", err)
	}
	log.Printf("[chartserver] periods: %v", periods.Marks())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	health := metrics.NewHealthStatus()

	// ---- Pipeline & hub ----
	pipe := &pipeline.Pipeline{Workers: cfg.Workers, OnBuild: m.ObserveBuild}

	hub := gateway.NewHub()
	hub.OnClients = func(n int) { m.WSClients.Set(float64(n)) }
	hub.OnDrop = m.WSDropped.Inc

	downloader := ingest.NewDownloader(ingest.DownloaderOptions{DataDir: cfg.DataDir})
	downloader.OnRetry = func(error) { m.DownloadRetry.Inc() }

	sched := scheduler.New(pipe, &scheduler.FileSource{Downloader: downloader}, periods, cfg.Datasets)
	sched.AddSink("hub", hub.PublishSeries)

	var fallback model.SeriesReader

	// ---- SQLite ----
	var sqliteWriter *sqlitestore.Writer
	if cfg.SQLitePath != "" {
		sqliteWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Fatalf("[chartserver] %v", err)
		}
		defer sqliteWriter.Close()
		sqliteWriter.OnCommit = func(d time.Duration) { m.SQLiteCommitDur.Observe(d.Seconds()) }
		sched.AddSink("sqlite", sqliteWriter.SaveSeries)

		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[chartserver] %v", err)
		}
		defer reader.Close()
		fallback = reader
		health.CheckSQLite(ctx, sqliteWriter.DB())
	} else {
		log.Println("[chartserver] SQLITE_PATH not set, series kept in memory only")
		health.SetSQLiteOK(true)
	}

	// ---- Redis ----
	var redisWriter *redisstore.Writer
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			log.Fatalf("[chartserver] %v", err)
		}
		defer redisWriter.Close()
		health.SetRedisEnabled(true)
		health.CheckRedis(ctx, redisWriter.Client())

		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			log.Printf("[chartserver] redis circuit %s -> %s", from, to)
			m.RedisCircuitState.Set(float64(to))
		}
		buffered := redisstore.NewBufferedPublisher(redisWriter, cb)
		buffered.OnBuffer = m.RedisHeldSeries.Inc
		sched.AddSink("redis", buffered.PublishSeries)

		if fallback == nil {
			fallback = redisWriter
		}
		go gateway.NewPubSubRouter(redisWriter.Client(), redisWriter, hub).Run(ctx)
	}

	health.StartLivenessChecker(ctx, redisClient(redisWriter), sqliteDB(sqliteWriter), 15*time.Second)

	var notifier notification.Notifier = notification.LogNotifier{}
	if cfg.AlertWebhook != "" {
		notifier = notification.NewWebhookNotifier(cfg.AlertWebhook, "chartserver")
	}
	alerter := &notification.RefreshAlerter{Notifier: notifier}

	sched.OnRefresh = func(n int, err error) {
		health.RecordRefresh(n, err)
		alerter.Observe(ctx, n, err)
		if err != nil {
			m.RefreshesTotal.WithLabelValues("error").Inc()
			return
		}
		m.RefreshesTotal.WithLabelValues("ok").Inc()
	}

	// ---- HTTP ----
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, gateway.Routes{
		Hub:      hub,
		Periods:  periods,
		Fallback: fallback,
		Health:   health,
		Metrics:  m.Handler(),
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Printf("[chartserver] serving at http://localhost%s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[chartserver] server error: %v", err)
		}
	}()

	// ---- Initial build + schedule ----
	go func() {
		if _, err := sched.RunNow(ctx); err != nil {
			log.Printf("[chartserver] initial build: %v", err)
		}
	}()
	if cfg.RefreshCron != "" {
		if err := sched.Register(ctx, cfg.RefreshCron); err != nil {
			log.Fatalf("[chartserver] %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[chartserver] shutting down...")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	hub.Close()
	srv.Shutdown(shutdownCtx)
}

func redisClient(w *redisstore.Writer) *goredis.Client {
	if w == nil {
		return nil
	}
	return w.Client()
}

func sqliteDB(w *sqlitestore.Writer) *sql.DB {
	if w == nil {
		return nil
	}
	return w.DB()
}
