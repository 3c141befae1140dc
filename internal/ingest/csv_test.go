package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"candles-ema/internal/model"
)

func TestParseTimestamp(t *testing.T) {
	cases := map[string]int64{
		"1700000000":                  1700000000,
		"1700000000.75":               1700000000,
		"-1.5":                        -2,
		"2021-01-01T00:00:00Z":        1609459200,
		"2021-01-01T01:00:00+01:00":   1609459200,
		"2021-01-01 00:00:05":         1609459205,
		"2021-01-01 00:00:05.999":     1609459205,
		"2021-01-01T00:00:05.123456":  1609459205,
		"2021-01-01":                  1609459200,
		" 2021-01-01 00:00:01+00:00 ": 1609459201,
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTimestamp(%q) = %d, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "yesterday", "NaN", "2021-13-01"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Errorf("ParseTimestamp(%q): expected error", bad)
		}
	}
}

func TestDecodeCSV(t *testing.T) {
	in := "timestamp,price\n" +
		"2021-01-01 00:00:01,10\n" +
		"2021-01-01 00:00:02, 11.5,ignored\n" +
		"\n" +
		"1609459203,5\n"
	ticks, err := DecodeCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []model.Tick{
		{TS: 1609459201, Price: 10},
		{TS: 1609459202, Price: 11.5},
		{TS: 1609459203, Price: 5},
	}
	if len(ticks) != len(want) {
		t.Fatalf("expected %d ticks, got %d: %+v", len(want), len(ticks), ticks)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Errorf("tick %d: got %+v, want %+v", i, ticks[i], want[i])
		}
	}
}

func TestDecodeCSV_NoHeader(t *testing.T) {
	ticks, err := DecodeCSV(strings.NewReader("1,10\n2,11\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 2 || ticks[0].TS != 1 {
		t.Errorf("got %+v", ticks)
	}
}

func TestDecodeCSV_DoesNotSort(t *testing.T) {
	ticks, err := DecodeCSV(strings.NewReader("ts,price\n5,1\n3,2\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticks[0].TS != 5 || ticks[1].TS != 3 {
		t.Errorf("decoder must preserve source order, got %+v", ticks)
	}
}

func TestDecodeCSV_Errors(t *testing.T) {
	cases := map[string]string{
		"bad timestamp": "ts,price\n1,10\nnope,11\n",
		"bad price":     "ts,price\n1,ten\n",
		"one column":    "ts,price\n1\n",
		"bad quoting":   "ts,price\n\"1,10\n",
	}
	for name, in := range cases {
		if _, err := DecodeCSV(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, err := DecodeCSV(strings.NewReader("ts,price\n1,10\nnope,11\n"))
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Errorf("expected error to name line 3, got %v", err)
	}
}

func TestReadCSVFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "prices.csv")
	os.WriteFile(good, []byte("ts,price\n1,10\n2,11\n"), 0o644)

	ticks, err := ReadCSVFile(good)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 2 {
		t.Errorf("expected 2 ticks, got %d", len(ticks))
	}

	if _, err := ReadCSVFile(filepath.Join(dir, "prices.txt")); err == nil {
		t.Error("expected extension error")
	}
	if _, err := ReadCSVFile(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("expected open error")
	}
}
