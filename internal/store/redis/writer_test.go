package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"candles-ema/internal/model"

	"github.com/go-redis/redismock/v8"
)

func testSeries() *model.Series {
	return &model.Series{Symbol: "BTCUSDT", Period: 300, Length: 3, Rows: []model.Row{
		{TS: 300, Open: 1, High: 2, Low: 1, Close: 2, EMA: 2},
		{TS: 420, Open: 2, High: 3, Low: 2, Close: 3, EMA: 2.5},
	}}
}

func TestKeys(t *testing.T) {
	if got := SeriesKey("BTCUSDT", 300); got != "series:300s:BTCUSDT" {
		t.Errorf("SeriesKey = %q", got)
	}
	if got := Channel("BTCUSDT", 300); got != "pub:series:300s:BTCUSDT" {
		t.Errorf("Channel = %q", got)
	}
}

func TestPublishSeries(t *testing.T) {
	db, mock := redismock.NewClientMock()
	w := NewWithClient(db, time.Hour)
	s := testSeries()

	data, _ := json.Marshal(s)
	notice, _ := json.Marshal(Notice{Key: "series:300s:BTCUSDT", Symbol: "BTCUSDT", Period: 300, Rows: 2, LastTS: 420})

	mock.ExpectSet("series:300s:BTCUSDT", string(data), time.Hour).SetVal("OK")
	mock.ExpectSAdd(indexKey, "series:300s:BTCUSDT").SetVal(1)
	mock.ExpectPublish("pub:series:300s:BTCUSDT", string(notice)).SetVal(1)

	if err := w.PublishSeries(context.Background(), s); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPublishSeries_SetFailureSkipsPublish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	w := NewWithClient(db, 0)
	s := testSeries()
	data, _ := json.Marshal(s)

	mock.ExpectSet("series:300s:BTCUSDT", string(data), defaultSeriesTTL).SetErr(errors.New("OOM"))

	if err := w.PublishSeries(context.Background(), s); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReadSeries(t *testing.T) {
	db, mock := redismock.NewClientMock()
	w := NewWithClient(db, time.Hour)
	s := testSeries()
	data, _ := json.Marshal(s)

	mock.ExpectGet("series:300s:BTCUSDT").SetVal(string(data))
	got, err := w.ReadSeries(context.Background(), "BTCUSDT", 300)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Key() != s.Key() || len(got.Rows) != 2 || got.Rows[1] != s.Rows[1] {
		t.Errorf("unexpected series: %+v", got)
	}

	mock.ExpectGet("series:60s:BTCUSDT").RedisNil()
	got, err = w.ReadSeries(context.Background(), "BTCUSDT", 60)
	if err != nil || got != nil {
		t.Errorf("missing key: got %v, %v", got, err)
	}

	mock.ExpectGet("series:60s:BAD").SetVal("{not json")
	if _, err := w.ReadSeries(context.Background(), "BAD", 60); err == nil {
		t.Error("expected decode error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListKeys(t *testing.T) {
	db, mock := redismock.NewClientMock()
	w := NewWithClient(db, time.Hour)

	mock.ExpectSMembers(indexKey).SetVal([]string{"series:60s:b", "series:300s:a"})
	keys, err := w.Keys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "series:300s:a" {
		t.Errorf("keys = %v", keys)
	}
}
