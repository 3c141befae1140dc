// Package scheduler rebuilds configured datasets on a cron schedule and
// hands every series to the registered sinks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"candles-ema/config"
	"candles-ema/internal/logger"
	"candles-ema/internal/model"
	"candles-ema/internal/period"
	"candles-ema/internal/pipeline"

	"github.com/robfig/cron/v3"
)

// Sink receives every freshly built series.
type Sink func(ctx context.Context, s *model.Series) error

type namedSink struct {
	name string
	fn   Sink
}

// Scheduler manages the refresh job.
type Scheduler struct {
	Cron     *cron.Cron
	Pipeline *pipeline.Pipeline
	Source   TickSource
	Periods  *period.Table
	Datasets []config.Dataset

	// OnRefresh is called after every refresh with the number of series built.
	OnRefresh func(series int, err error)

	sinks []namedSink
}

// New creates a scheduler. Overlapping cron runs are skipped.
func New(p *pipeline.Pipeline, src TickSource, periods *period.Table, datasets []config.Dataset) *Scheduler {
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		Pipeline: p,
		Source:   src,
		Periods:  periods,
		Datasets: datasets,
	}
}

// AddSink registers a destination for built series, e.g. writer.SaveSeries.
func (s *Scheduler) AddSink(name string, fn Sink) {
	s.sinks = append(s.sinks, namedSink{name: name, fn: fn})
}

// Register adds the refresh job on spec (six fields, seconds first).
func (s *Scheduler) Register(ctx context.Context, spec string) error {
	if _, err := s.Cron.AddFunc(spec, func() {
		if _, err := s.RunNow(ctx); err != nil {
			log.Printf("[scheduler] refresh failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("register refresh %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[scheduler] started")
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[scheduler] stopped")
}

// Tasks loads every dataset and expands it into one task per period.
// Unknown period marks fail before any data is loaded.
func (s *Scheduler) Tasks(ctx context.Context) ([]pipeline.Task, error) {
	periods := make([][]int64, len(s.Datasets))
	for i, ds := range s.Datasets {
		for _, mark := range ds.Periods {
			sec, err := s.Periods.Seconds(mark)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", ds.Symbol, err)
			}
			periods[i] = append(periods[i], sec)
		}
	}

	var tasks []pipeline.Task
	for i, ds := range s.Datasets {
		ticks, err := s.Source.Ticks(ctx, ds)
		if err != nil {
			return nil, err
		}
		for _, sec := range periods[i] {
			tasks = append(tasks, pipeline.Task{Symbol: ds.Symbol, Ticks: ticks, Period: sec, Length: ds.Length})
		}
	}
	return tasks, nil
}

// RunNow performs one refresh: load, build, deliver. Sink failures do not
// stop delivery to other sinks; they are joined into the returned error.
func (s *Scheduler) RunNow(ctx context.Context) ([]*model.Series, error) {
	start := time.Now()
	ctx = logger.WithRunID(ctx, logger.GenerateRunID("refresh", start))

	series, err := s.refresh(ctx)
	if s.OnRefresh != nil {
		s.OnRefresh(len(series), err)
	}

	attrs := append(logger.LogWithRun(ctx),
		slog.Int("series", len(series)),
		slog.Duration("took", time.Since(start)),
	)
	if err != nil {
		slog.Error("refresh failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		slog.Info("refresh complete", attrs...)
	}
	return series, err
}

func (s *Scheduler) refresh(ctx context.Context) ([]*model.Series, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	series, err := s.Pipeline.RunBatch(ctx, tasks)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, sr := range series {
		for _, sink := range s.sinks {
			if err := sink.fn(ctx, sr); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", sink.name, sr.Key(), err))
			}
		}
	}
	return series, errors.Join(errs...)
}
