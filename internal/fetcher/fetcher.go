// Package fetcher downloads installer artifacts over HTTP with
// bounded retries and digest verification. Redirects are followed
// silently; the digest, not the response headers, is what establishes
// trust in the downloaded bytes.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/portelect/portelect/internal/domain"
)

type HTTPFetcher struct {
	client   *http.Client
	retries  int
	backoff  time.Duration
	progress bool
	log      zerolog.Logger
}

type Option func(*HTTPFetcher)

// WithProgress enables the terminal download bar.
func WithProgress() Option {
	return func(f *HTTPFetcher) { f.progress = true }
}

func WithBackoff(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.backoff = d }
}

func New(retries int, timeout time.Duration, log zerolog.Logger, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		backoff: 2 * time.Second,
		log:     log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Download fetches url into dest and returns the sha256 of what was
// written. Transient failures (connection errors, 5xx) and digest
// mismatches are retried with backoff; a mismatch that survives every
// retry is ErrIntegrity and must not be retried further.
func (f *HTTPFetcher) Download(ctx context.Context, url, dest, expectedSHA256 string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			f.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("retrying download")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.backoff * time.Duration(attempt)):
			}
		}

		digest, err := f.downloadOnce(ctx, url, dest)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var perm *PermanentError
			if errors.As(err, &perm) {
				return "", err
			}
			lastErr = err
			continue
		}

		if expectedSHA256 != "" && digest != expectedSHA256 {
			os.Remove(dest)
			lastErr = fmt.Errorf("%w: expected %s, got %s", domain.ErrIntegrity, expectedSHA256, digest)
			continue
		}

		return digest, nil
	}

	return "", lastErr
}

func (f *HTTPFetcher) downloadOnce(ctx context.Context, url, dest string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "portelect")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors will not heal on retry.
			return "", &PermanentError{Err: err}
		}
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}

	file, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	w := io.MultiWriter(file, hash)

	if f.progress {
		bar := progressbar.DefaultBytes(resp.ContentLength, "Downloading")
		w = io.MultiWriter(file, hash, bar)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		os.Remove(dest)
		return "", err
	}

	if resp.ContentLength > 0 && n != resp.ContentLength {
		os.Remove(dest)
		return "", fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// PermanentError wraps failures retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
