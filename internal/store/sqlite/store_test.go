package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"candles-ema/internal/model"
)

func openPair(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "series.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return w, r
}

func series(symbol string, period int64, rows ...model.Row) *model.Series {
	return &model.Series{Symbol: symbol, Period: period, Length: 3, Rows: rows}
}

func TestSaveAndReadSeries(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()

	var commits int
	w.OnCommit = func(time.Duration) { commits++ }

	in := series("btc", 300,
		model.Row{TS: 300, Open: 1, High: 2, Low: 0.5, Close: 1.5, EMA: 1.5},
		model.Row{TS: 600, Open: 1.5, High: 1.5, Low: 1.5, Close: 1.5, EMA: 1.5},
		// equal timestamps must survive as separate rows
		model.Row{TS: 600, Open: 3, High: 3, Low: 3, Close: 3, EMA: 2.25},
	)
	if err := w.SaveSeries(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	if commits != 1 {
		t.Errorf("expected 1 commit hook call, got %d", commits)
	}

	out, err := r.ReadSeries(ctx, "btc", 300)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out == nil || out.Length != 3 || len(out.Rows) != 3 {
		t.Fatalf("unexpected series: %+v", out)
	}
	for i := range in.Rows {
		if out.Rows[i] != in.Rows[i] {
			t.Errorf("row %d: got %+v, want %+v", i, out.Rows[i], in.Rows[i])
		}
	}
}

func TestSaveSeries_Replaces(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()

	w.SaveSeries(ctx, series("btc", 60, model.Row{TS: 60}, model.Row{TS: 120}, model.Row{TS: 180}))
	if err := w.SaveSeries(ctx, series("btc", 60, model.Row{TS: 240})); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, _ := r.ReadSeries(ctx, "btc", 60)
	if len(out.Rows) != 1 || out.Rows[0].TS != 240 {
		t.Errorf("expected replaced series, got %+v", out.Rows)
	}
}

func TestReadSeries_Missing(t *testing.T) {
	_, r := openPair(t)
	out, err := r.ReadSeries(context.Background(), "nope", 60)
	if err != nil || out != nil {
		t.Errorf("expected nil, nil; got %v, %v", out, err)
	}
}

func TestNaNStoredAsNull(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	if err := w.SaveSeries(ctx, series("nan", 60, model.Row{TS: 60, Close: 1, EMA: math.NaN()})); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, _ := r.ReadSeries(ctx, "nan", 60)
	if !math.IsNaN(out.Rows[0].EMA) {
		t.Errorf("expected NaN EMA, got %v", out.Rows[0].EMA)
	}
}

func TestListSeries(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	w.SaveSeries(ctx, series("eth", 60, model.Row{TS: 60}))
	w.SaveSeries(ctx, series("btc", 300, model.Row{TS: 300}, model.Row{TS: 600}))
	w.SaveSeries(ctx, series("btc", 60, model.Row{TS: 60}))

	infos, err := r.ListSeries(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 series, got %d", len(infos))
	}
	if infos[0].Symbol != "btc" || infos[0].Period != 60 || infos[1].Rows != 2 || infos[2].Symbol != "eth" {
		t.Errorf("unexpected order: %+v", infos)
	}
	if err := w.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestNaNCandleRoundTrip(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()
	nan := math.NaN()
	in := series("nanc", 60,
		model.Row{TS: 60, Open: 1, High: 2, Low: 1, Close: 2, EMA: 2},
		model.Row{TS: 120, Open: nan, High: nan, Low: nan, Close: nan, EMA: nan},
		model.Row{TS: 180, Open: nan, High: nan, Low: nan, Close: nan, EMA: nan},
	)
	if err := w.SaveSeries(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := r.ReadSeries(ctx, "nanc", 60)
	if err != nil || out == nil {
		t.Fatalf("read: %v, %v", out, err)
	}
	if len(out.Rows) != 3 {
		t.Fatalf("rows: got %d, want 3", len(out.Rows))
	}
	if out.Rows[0].Close != 2 || out.Rows[0].EMA != 2 {
		t.Errorf("row 0: %+v", out.Rows[0])
	}
	for i := 1; i < 3; i++ {
		row := out.Rows[i]
		if !math.IsNaN(row.Open) || !math.IsNaN(row.High) || !math.IsNaN(row.Low) || !math.IsNaN(row.Close) || !math.IsNaN(row.EMA) {
			t.Errorf("row %d: expected NaN prices, got %+v", i, row)
		}
		if row.TS != int64(60*(i+1)) {
			t.Errorf("row %d: ts %d", i, row.TS)
		}
	}
}
