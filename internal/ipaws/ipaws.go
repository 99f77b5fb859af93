// Package ipaws fetches the public IPAWS alert feed.
package ipaws

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config for the feed client.
type Config struct {
	URL        string
	Timeout    time.Duration
	MaxBytes   int64
	MaxRetries uint
}

func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.URL, "feed-url", "", "IPAWS recent alerts feed URL (empty disables fetch)")
	fs.DurationVar(&c.Timeout, "feed-timeout", 10*time.Second, "per-attempt timeout for feed requests")
	fs.Int64Var(&c.MaxBytes, "feed-max-bytes", 64<<20, "maximum accepted feed body size")
	fs.UintVar(&c.MaxRetries, "feed-max-retries", 3, "feed fetch attempts before giving up")
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return nil
	}
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("feed-timeout must be > 0"))
	}
	if c.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("feed-max-bytes must be > 0"))
	}
	if c.MaxRetries == 0 {
		errs = append(errs, fmt.Errorf("feed-max-retries must be >= 1"))
	}
	return errors.Join(errs...)
}

// StatusError reports a non-2xx feed response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed %s returned %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Client fetches the feed document.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a client with an otel-instrumented transport.
func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Fetch returns the raw feed body. 5xx responses and transport errors are
// retried with exponential backoff; other failures are returned at once.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	if c.cfg.URL == "" {
		return nil, errors.New("feed url not configured")
	}
	return backoff.Retry(ctx, func() ([]byte, error) {
		return c.fetchOnce(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.MaxRetries),
	)
}

func (c *Client) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := &StatusError{URL: c.cfg.URL, Status: resp.StatusCode}
		if resp.StatusCode >= 500 {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	if int64(len(body)) > c.cfg.MaxBytes {
		return nil, backoff.Permanent(fmt.Errorf("feed body exceeds %d bytes", c.cfg.MaxBytes))
	}
	return body, nil
}
