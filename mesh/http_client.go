package mesh

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for remote inputs.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits a downloaded mesh to 256 MB.
	maxResponseBytes = 256 << 20
)

// FetchOption configures FetchCloud behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// IsRemote reports whether location is an http(s) URL
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// OpenCloud loads a registration input from a local path or an http(s) URL.
func OpenCloud(ctx context.Context, location string, opts ...FetchOption) (CloudSource, error) {
	if IsRemote(location) {
		return FetchCloud(ctx, location, opts...)
	}
	return LoadCloud(location)
}

// FetchCloud downloads a mesh or point cloud and parses it by the extension of
// the URL path. Transient failures are retried with exponential backoff.
func FetchCloud(ctx context.Context, rawURL string, opts ...FetchOption) (CloudSource, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("fetch cloud: URL is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch cloud: %w", err)
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch cloud: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, rawURL)
		if err != nil {
			lastErr = err
			continue
		}

		src, err := ParseCloud(u.Path, body)
		if err != nil {
			// Parse errors are not transient; do not retry.
			return nil, fmt.Errorf("fetch cloud: %w", err)
		}
		return src, nil
	}

	return nil, fmt.Errorf("fetch cloud: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}
