package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// DownloaderOptions configures a Downloader. Zero values get defaults.
type DownloaderOptions struct {
	DataDir         string
	Timeout         time.Duration
	RequestsPerSec  int
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	MaxBytes        int64
}

// Downloader fetches a zipped CSV dataset into a local data directory.
type Downloader struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	dataDir    string
	initial    time.Duration
	maxElapsed time.Duration
	maxBytes   int64

	// OnRetry is called before each retry (optional, used for metrics).
	OnRetry func(err error)
}

// HTTPStatusError represents a non-200 response.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return "non-200 status code: " + http.StatusText(e.StatusCode)
}

// NewDownloader creates a Downloader.
func NewDownloader(opts DownloaderOptions) *Downloader {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 2
	}
	if opts.InitialInterval == 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxElapsedTime == 0 {
		opts.MaxElapsedTime = time.Minute
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 512 << 20
	}
	return &Downloader{
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		Limiter:    rate.NewLimiter(rate.Every(time.Second), opts.RequestsPerSec),
		dataDir:    opts.DataDir,
		initial:    opts.InitialInterval,
		maxElapsed: opts.MaxElapsedTime,
		maxBytes:   opts.MaxBytes,
	}
}

// CSVName returns the CSV file name carried inside a "*.csv.zip" URL.
func CSVName(url string) string {
	base := path.Base(url)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Fetch returns the path of the extracted CSV for url, downloading and
// unzipping it only when it is not already in the data directory.
func (d *Downloader) Fetch(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	csvPath := filepath.Join(d.dataDir, CSVName(url))
	if _, err := os.Stat(csvPath); err == nil {
		log.Printf("[ingest] %s found in data dir, skipping download", filepath.Base(csvPath))
		return csvPath, nil
	}

	log.Printf("[ingest] downloading %s", url)
	body, err := d.download(ctx, url)
	if err != nil {
		return "", err
	}
	if err := extractZip(body, d.dataDir); err != nil {
		return "", fmt.Errorf("unzip %s: %w", path.Base(url), err)
	}
	if _, err := os.Stat(csvPath); err != nil {
		return "", fmt.Errorf("archive %s does not contain %s", path.Base(url), filepath.Base(csvPath))
	}
	log.Printf("[ingest] extracted %s", csvPath)
	return csvPath, nil
}

// download performs the GET with rate limiting and exponential backoff.
// 4xx responses are permanent and not retried.
func (d *Downloader) download(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	operation := func() error {
		if err := d.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := d.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := &HTTPStatusError{StatusCode: resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
		if err != nil {
			return err
		}
		if int64(len(body)) > d.maxBytes {
			return backoff.Permanent(fmt.Errorf("archive exceeds %d bytes", d.maxBytes))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initial
	b.MaxElapsedTime = d.maxElapsed

	notify := func(err error, wait time.Duration) {
		log.Printf("[ingest] download failed: %v, retrying in %v", err, wait)
		if d.OnRetry != nil {
			d.OnRetry(err)
		}
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	return body, nil
}

// extractZip writes every regular file of the archive into dir.
func extractZip(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dst := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(dst, root) {
			return fmt.Errorf("illegal path %q in archive", f.Name)
		}
		if err := writeZipFile(f, dst); err != nil {
			return err
		}
	}
	return nil
}

func writeZipFile(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
