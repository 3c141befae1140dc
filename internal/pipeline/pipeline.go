// Package pipeline chains the aggregator and the EMA filter:
// ticks → candles → EMA-annotated rows. Each build is independent, so
// batches of datasets run concurrently without shared state.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"candles-ema/internal/indicator"
	"candles-ema/internal/logger"
	"candles-ema/internal/marketdata/agg"
	"candles-ema/internal/model"
)

// Task is one series to build.
type Task struct {
	Symbol string
	Ticks  []model.Tick
	Period int64 // seconds
	Length int   // EMA length
}

// BuildStats describes a finished build (successful or not).
type BuildStats struct {
	Symbol   string
	Period   int64
	Ticks    int
	Candles  int
	Filled   int // forward-filled candles
	Duration time.Duration
	Err      error
}

// Pipeline runs builds. The zero value is usable.
type Pipeline struct {
	// Workers bounds RunBatch concurrency. <= 0 means one per task.
	Workers int

	// OnBuild is called after every build (optional, used for metrics).
	OnBuild func(BuildStats)
}

// Build computes the candle+EMA series for one task.
func Build(t Task) (*model.Series, error) {
	s, _, err := build(t)
	return s, err
}

func build(t Task) (*model.Series, int, error) {
	candles, err := agg.Aggregate(t.Ticks, t.Period)
	if err != nil {
		return nil, 0, fmt.Errorf("aggregate %s: %w", t.Symbol, err)
	}
	ema, err := indicator.ComputeEMA(model.Closes(candles), t.Length)
	if err != nil {
		return nil, 0, fmt.Errorf("ema %s: %w", t.Symbol, err)
	}

	filled := 0
	for i := range candles {
		if candles[i].Filled() {
			filled++
		}
	}
	return &model.Series{
		Symbol: t.Symbol,
		Period: t.Period,
		Length: t.Length,
		Rows:   model.Join(candles, ema),
	}, filled, nil
}

// Build runs a single task and reports stats.
func (p *Pipeline) Build(ctx context.Context, t Task) (*model.Series, error) {
	start := time.Now()
	s, filled, err := build(t)

	stats := BuildStats{Symbol: t.Symbol, Period: t.Period, Ticks: len(t.Ticks), Filled: filled, Duration: time.Since(start), Err: err}
	if s != nil {
		stats.Candles = len(s.Rows)
	}
	if p.OnBuild != nil {
		p.OnBuild(stats)
	}

	attrs := append(logger.LogWithRun(ctx),
		slog.String("symbol", t.Symbol),
		slog.Int64("period", t.Period),
		slog.String("indicator", indicator.NewEMA(t.Length).Name()),
	)
	if err != nil {
		slog.Error("series build failed", append(attrs, slog.String("error", err.Error()))...)
		return nil, err
	}
	slog.Info("series built", append(attrs,
		slog.Int("ticks", stats.Ticks),
		slog.Int("candles", stats.Candles),
		slog.Int("filled", stats.Filled),
		slog.Duration("took", stats.Duration),
	)...)
	return s, nil
}

// RunBatch builds all tasks concurrently and returns series in task order.
// The first failure cancels the remaining builds and is returned.
func (p *Pipeline) RunBatch(ctx context.Context, tasks []Task) ([]*model.Series, error) {
	out := make([]*model.Series, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}

	for i := range tasks {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := p.Build(gctx, tasks[i])
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
