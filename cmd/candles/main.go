// cmd/candles builds one candlestick+EMA series from a tick CSV and prints it.
// Without --csv the default dataset is downloaded and cached.
//
// Usage:
//
//	go run ./cmd/candles --period=5m --length=14 --csv=prices.csv --out=table
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"candles-ema/config"
	"candles-ema/internal/ingest"
	"candles-ema/internal/logger"
	"candles-ema/internal/model"
	"candles-ema/internal/period"
	"candles-ema/internal/pipeline"
	"candles-ema/internal/scheduler"
	redisstore "candles-ema/internal/store/redis"
	sqlitestore "candles-ema/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI. stdout carries only the rendered series; logs and
// usage errors go to stderr. The return value is the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("candles", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "Optional YAML config (data_dir, extra_periods, log_level)")
	periodMark := fs.String("period", "5m", "Candlestick period mark")
	length := fs.Int("length", 14, "EMA length")
	csvPath := fs.String("csv", "", "Tick CSV (timestamp,price); default dataset is downloaded when empty")
	url := fs.String("url", config.DefaultDatasetURL, "Zipped CSV to download when --csv is empty")
	symbol := fs.String("symbol", "prices", "Series name used by the stores")
	dbPath := fs.String("db", "", "Also save the series to this SQLite database")
	redisAddr := fs.String("redis", "", "Also publish the series to this Redis address")
	out := fs.String("out", "table", "Output format: table, json or none")
	tail := fs.Int("tail", 0, "Print only the last N rows (0=all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "[candles] %v\n", err)
		return 1
	}
	logger.InitWriter(stderr, "candles", logger.ParseLevel(cfg.LogLevel))

	periods := period.Default()
	if err := periods.Merge(cfg.ExtraPeriods); err != nil {
		log.Printf("[candles] extra periods: %v", err)
		return 1
	}
	sec, err := periods.Seconds(*periodMark)
	if err != nil {
		fmt.Fprintf(stderr, "--period: %v\n", err)
		return 2
	}
	if *length <= 0 {
		fmt.Fprintln(stderr, "--length must be positive")
		return 2
	}
	if *out != "table" && *out != "json" && *out != "none" {
		fmt.Fprintf(stderr, "--out: unknown format %q\n", *out)
		return 2
	}

	ctx = logger.WithRunID(ctx, logger.GenerateRunID(*symbol, time.Now()))

	src := &scheduler.FileSource{Downloader: ingest.NewDownloader(ingest.DownloaderOptions{DataDir: cfg.DataDir})}
	ticks, err := src.Ticks(ctx, config.Dataset{Symbol: *symbol, CSV: *csvPath, URL: *url})
	if err != nil {
		log.Printf("[candles] %v", err)
		return 1
	}

	p := &pipeline.Pipeline{}
	series, err := p.Build(ctx, pipeline.Task{Symbol: *symbol, Ticks: ticks, Period: sec, Length: *length})
	if err != nil {
		log.Printf("[candles] %v", err)
		return 1
	}

	if *dbPath != "" {
		if err := saveSQLite(ctx, *dbPath, series); err != nil {
			log.Printf("[candles] %v", err)
			return 1
		}
	}
	if *redisAddr != "" {
		if err := publishRedis(ctx, *redisAddr, cfg, series); err != nil {
			log.Printf("[candles] %v", err)
			return 1
		}
	}

	if err := render(stdout, series, *out, *tail); err != nil {
		log.Printf("[candles] %v", err)
		return 1
	}

	slog.Info("done", append(logger.LogWithRun(ctx),
		slog.String("key", series.Key()),
		slog.Int("rows", len(series.Rows)),
	)...)
	return 0
}

// render writes the series to w as a table or an indented JSON document.
func render(w io.Writer, series *model.Series, out string, tail int) error {
	rows := series.Rows
	if tail > 0 && tail < len(rows) {
		rows = rows[len(rows)-tail:]
	}
	switch out {
	case "json":
		view := *series
		view.Rows = rows
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(&view)
	case "table":
		return writeTable(w, rows)
	}
	return nil
}

func saveSQLite(ctx context.Context, path string, s *model.Series) error {
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		return err
	}
	defer w.Close()
	return w.SaveSeries(ctx, s)
}

func publishRedis(ctx context.Context, addr string, cfg *config.Config, s *model.Series) error {
	w, err := redisstore.New(redisstore.WriterConfig{Addr: addr, Password: cfg.RedisPassword, TTL: cfg.RedisTTL})
	if err != nil {
		return err
	}
	defer w.Close()
	return w.PublishSeries(ctx, s)
}

// writeTable prints rows as aligned columns with UTC timestamps.
func writeTable(w io.Writer, rows []model.Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TS\tOpen\tHigh\tLow\tClose\tEMA\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			time.Unix(r.TS, 0).UTC().Format("2006-01-02 15:04:05"),
			num(r.Open), num(r.High), num(r.Low), num(r.Close), num(r.EMA))
	}
	return tw.Flush()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
