package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testDownloader(dir string) *Downloader {
	return NewDownloader(DownloaderOptions{
		DataDir:         dir,
		Timeout:         5 * time.Second,
		RequestsPerSec:  100,
		InitialInterval: 5 * time.Millisecond,
		MaxElapsedTime:  2 * time.Second,
	})
}

func TestCSVName(t *testing.T) {
	cases := map[string]string{
		"https://host/interview/prices.csv.zip":  "prices.csv",
		"https://host/a/b/ticks.csv.zip?sig=abc": "ticks.csv",
		"http://host/data.zip":                   "data",
	}
	for in, want := range cases {
		if got := CSVName(in); got != want {
			t.Errorf("CSVName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetch_RetriesThenCaches(t *testing.T) {
	archive := zipBytes(t, map[string]string{"prices.csv": "ts,price\n1,10\n"})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := testDownloader(dir)
	var retries int32
	d.OnRetry = func(error) { atomic.AddInt32(&retries, 1) }

	path, err := d.Fetch(context.Background(), srv.URL+"/interview/prices.csv.zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join(dir, "prices.csv") {
		t.Errorf("unexpected path %q", path)
	}
	if atomic.LoadInt32(&retries) != 1 {
		t.Errorf("expected 1 retry, got %d", retries)
	}
	ticks, err := ReadCSVFile(path)
	if err != nil || len(ticks) != 1 {
		t.Fatalf("extracted file unreadable: %v %+v", err, ticks)
	}

	// Second fetch is served from the data dir.
	before := atomic.LoadInt32(&hits)
	if _, err := d.Fetch(context.Background(), srv.URL+"/interview/prices.csv.zip"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&hits) != before {
		t.Error("cached dataset should not be downloaded again")
	}
}

func TestFetch_NotFoundIsPermanent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testDownloader(t.TempDir()).Fetch(context.Background(), srv.URL+"/missing.csv.zip")
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPStatusError, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("404 must not be retried, got %d requests", hits)
	}
}

func TestFetch_ArchiveWithoutCSV(t *testing.T) {
	archive := zipBytes(t, map[string]string{"other.csv": "ts,price\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	if _, err := testDownloader(t.TempDir()).Fetch(context.Background(), srv.URL+"/prices.csv.zip"); err == nil {
		t.Fatal("expected missing csv error")
	}
}

func TestFetch_CorruptArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a zip"))
	}))
	defer srv.Close()

	if _, err := testDownloader(t.TempDir()).Fetch(context.Background(), srv.URL+"/prices.csv.zip"); err == nil {
		t.Fatal("expected unzip error")
	}
}

func TestExtractZip_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := zipBytes(t, map[string]string{"../escape.csv": "x"})
	if err := extractZip(archive, dir); err == nil {
		t.Fatal("expected illegal path error")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.csv")); err == nil {
		t.Error("file escaped the data dir")
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testDownloader(t.TempDir()).Fetch(ctx, srv.URL+"/prices.csv.zip"); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
