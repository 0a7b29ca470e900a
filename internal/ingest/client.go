package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"trophos/internal/retry"
)

const (
	// DefaultBaseURL is the public media database REST endpoint.
	DefaultBaseURL = "https://mediadive.dsmz.de/rest"
	// DefaultPageLimit is the page size used for list endpoints.
	DefaultPageLimit = 200

	defaultRPS      = 2.0
	defaultBurst    = 2
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 4
	defaultBackoff  = 500 * time.Millisecond
)

// TransientError marks a fetch failure worth retrying: a 429 or 5xx
// response, or a transport-level error. It unwraps to both the retry
// marker and the underlying cause.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error {
	if e.Err == nil {
		return []error{retry.ErrRetry}
	}
	return []error{retry.ErrRetry, e.Err}
}

// ClientConfig configures the REST client. Zero values select defaults.
type ClientConfig struct {
	// BaseURL is the API root without a trailing slash.
	BaseURL string
	// RPS caps the sustained request rate against the upstream API.
	RPS float64
	// Burst allows short request bursts above RPS.
	Burst int
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
	// Attempts is the total number of tries per request, first included.
	Attempts int
	// Backoff is the delay before the first retry; it doubles per retry.
	Backoff time.Duration
	// CacheDir enables an on-disk response cache when non-empty. Cached
	// responses are reused verbatim and never expire.
	CacheDir string
	Logger   *slog.Logger
}

// Client fetches JSON resources from the media database REST API with
// rate limiting, bounded retries and an optional disk cache.
type Client struct {
	base     string
	http     *http.Client
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
	cacheDir string
	log      *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RPS < 0 {
		return nil, fmt.Errorf("client rps must be non-negative, got %g", cfg.RPS)
	}
	if cfg.RPS == 0 {
		cfg.RPS = defaultRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := cfg.BaseURL
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		cacheDir: cfg.CacheDir,
		log:      cfg.Logger,
	}, nil
}

// Get fetches endpoint with the given query and decodes the JSON body
// into out. The disk cache, when enabled, is consulted first and filled
// on success.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values, out any) error {
	if c.cacheDir != "" {
		if body, ok := c.cacheRead(endpoint, query); ok {
			if err := json.Unmarshal(body, out); err == nil {
				return nil
			}
			// Corrupt cache entry, fall through to a live fetch.
			c.log.Warn("discarding unreadable cache entry", "endpoint", endpoint)
		}
	}
	body, err := c.fetch(ctx, endpoint, query)
	if err != nil {
		return err
	}
	if c.cacheDir != "" {
		c.cacheWrite(endpoint, query, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	return retry.Do(ctx, c.attempts, retry.Exponential(c.backoff, 2), func() ([]byte, error) {
		return c.fetchOnce(ctx, endpoint, query)
	})
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.base + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Op: "GET " + endpoint, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		c.log.Warn("retryable upstream status", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, &TransientError{Op: "GET " + endpoint, Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "read " + endpoint, Err: err}
	}
	return body, nil
}

// cacheKey derives a stable file name from the endpoint and its sorted
// query string.
func cacheKey(endpoint string, query url.Values) string {
	sum := sha256.Sum256([]byte(endpoint + "|" + query.Encode()))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *Client) cachePath(endpoint string, query url.Values) string {
	return filepath.Join(c.cacheDir, cacheKey(endpoint, query)+".json")
}

func (c *Client) cacheRead(endpoint string, query url.Values) ([]byte, bool) {
	body, err := os.ReadFile(c.cachePath(endpoint, query))
	if err != nil {
		return nil, false
	}
	return body, true
}

func (c *Client) cacheWrite(endpoint string, query url.Values, body []byte) {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		c.log.Warn("cache dir unavailable", "dir", c.cacheDir, "error", err)
		return
	}
	if err := os.WriteFile(c.cachePath(endpoint, query), body, 0o644); err != nil {
		c.log.Warn("cache write failed", "endpoint", endpoint, "error", err)
	}
}

// Detail fetches a single-resource endpoint and unwraps its data
// envelope into out. A response without a data payload is an error.
func (c *Client) Detail(ctx context.Context, endpoint string, out any) error {
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.Get(ctx, endpoint, nil, &resp); err != nil {
		return err
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return fmt.Errorf("%s: response has no data payload", endpoint)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// Paginate walks a limit/offset list endpoint, invoking page for each
// batch of items. It stops after an empty page or one shorter than the
// limit and returns the number of non-empty pages consumed.
func Paginate[T any](ctx context.Context, c *Client, endpoint string, limit int, page func([]T) error) (int, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	pages := 0
	for offset := 0; ; offset += limit {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		query := url.Values{}
		query.Set("limit", strconv.Itoa(limit))
		query.Set("offset", strconv.Itoa(offset))
		var resp struct {
			Data []T `json:"data"`
		}
		if err := c.Get(ctx, endpoint, query, &resp); err != nil {
			return pages, err
		}
		if len(resp.Data) == 0 {
			return pages, nil
		}
		pages++
		if err := page(resp.Data); err != nil {
			return pages, err
		}
		if len(resp.Data) < limit {
			return pages, nil
		}
	}
}
