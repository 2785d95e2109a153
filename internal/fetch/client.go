package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/quakelab/seismic-core/internal/proxy"
)

// HTTPError carries the status code of a non-2xx upstream reply so callers
// can distinguish quota exhaustion and auth failures from transport faults.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %s", e.Status)
}

// Retryable reports whether the request may be retried against the same
// endpoint. Rate-limit and server-side statuses are transient; client
// errors are not.
func (e *HTTPError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// ClientConfig configures the upstream API client.
type ClientConfig struct {
	BaseURL   string
	Host      string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
}

// Client issues rate-limited GET requests against the event API. A single
// Client is shared by all workers in a batch; the limiter serializes their
// aggregate request rate regardless of concurrency.
type Client struct {
	baseURL string
	host    string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewClient creates an API client. Zero-valued config fields get defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &Client{
		baseURL: cfg.BaseURL,
		host:    cfg.Host,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// Get performs one rate-limited request with the given query parameters
// and optional egress proxy, and decodes the JSON body. A nil proxied
// pointer routes the request directly.
func (c *Client) Get(ctx context.Context, apiKey string, params url.Values, proxied *proxy.Proxy) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	if c.host != "" {
		req.Header.Set("x-rapidapi-host", c.host)
	}
	req.Header.Set("x-rapidapi-key", apiKey)
	req.Header.Set("Accept", "application/json")

	transport := &http.Transport{}
	if proxied != nil {
		transport.Proxy = http.ProxyURL(proxied.URL())
	}
	client := &http.Client{Timeout: c.timeout, Transport: transport}
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(body), 512),
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
