package scheduler

import (
	"context"
	"fmt"

	"candles-ema/config"
	"candles-ema/internal/ingest"
	"candles-ema/internal/model"
)

// TickSource loads the ticks of a dataset.
type TickSource interface {
	Ticks(ctx context.Context, ds config.Dataset) ([]model.Tick, error)
}

// FileSource reads a dataset's local CSV, or downloads and caches its zipped CSV.
type FileSource struct {
	Downloader *ingest.Downloader
}

// Ticks implements TickSource.
func (f *FileSource) Ticks(ctx context.Context, ds config.Dataset) ([]model.Tick, error) {
	path := ds.CSV
	if path == "" {
		if f.Downloader == nil {
			return nil, fmt.Errorf("dataset %s: no csv and no downloader", ds.Symbol)
		}
		var err error
		if path, err = f.Downloader.Fetch(ctx, ds.URL); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds.Symbol, err)
		}
	}
	ticks, err := ingest.ReadCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", ds.Symbol, err)
	}
	return ticks, nil
}
