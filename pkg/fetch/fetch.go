// Blob fetcher: turns a local path or an HTTP(S) URL into bytes
// Used for scenario files, receipt images, and the download command
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ConfigTimeout and ConfigMaxBytes bound scenario file downloads.
	ConfigTimeout  = 10 * time.Second
	ConfigMaxBytes = 10 << 20

	// ImageTimeout and ImageMaxBytes bound image downloads.
	ImageTimeout  = 30 * time.Second
	ImageMaxBytes = 32 << 20
)

// ErrTooLarge is returned when a body exceeds the fetcher's limit.
var ErrTooLarge = errors.New("response exceeds size limit")

// Fetcher reads locators with a bounded time and size.
type Fetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
}

// Config returns a Fetcher tuned for scenario files.
func Config() *Fetcher {
	return &Fetcher{Timeout: ConfigTimeout, MaxBytes: ConfigMaxBytes}
}

// Image returns a Fetcher tuned for images.
func Image() *Fetcher {
	return &Fetcher{Timeout: ImageTimeout, MaxBytes: ImageMaxBytes}
}

// IsURL reports whether locator should be fetched over HTTP.
func IsURL(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// Read returns the contents of locator, which is either a URL or a file path.
func (f *Fetcher) Read(ctx context.Context, locator string) ([]byte, error) {
	if !IsURL(locator) {
		data, err := os.ReadFile(locator) //nolint:gosec // user-supplied path is expected
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", locator, err)
		}
		return data, nil
	}

	body, err := f.open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // read-only body
	return f.readLimited(body, locator)
}

// Download saves url to dest and returns the number of bytes written. The
// destination's directory must already exist.
func (f *Fetcher) Download(ctx context.Context, url, dest string) (int64, error) {
	data, err := f.Read(ctx, url)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dest, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("writing %s: %w", dest, err)
	}
	return int64(len(data)), nil
}

func (f *Fetcher) open(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		// released with the body
		return f.get(ctx, url, cancel)
	}
	return f.get(ctx, url, func() {})
}

func (f *Fetcher) get(ctx context.Context, url string, cancel context.CancelFunc) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetching URL %s: %w", url, err)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetching URL %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("fetching URL %s: HTTP %d", url, resp.StatusCode)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (f *Fetcher) readLimited(r io.Reader, locator string) ([]byte, error) {
	if f.MaxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", locator, err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", locator, err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("reading %s: %w (%d bytes)", locator, ErrTooLarge, f.MaxBytes)
	}
	return data, nil
}

func (f *Fetcher) client() *http.Client {
	if f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}
