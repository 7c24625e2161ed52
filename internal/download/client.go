// Package download fetches remote files to local paths with pooled
// connections and retry on transient failures.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"time"
)

const (
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
	defaultMaxBytes   = 64 << 20
)

// StatusError is a non-2xx response that was not retried or ran out of
// retries.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	MaxBytes   int64
	HTTPClient *http.Client // optional, overrides the pooled default
	Logger     *slog.Logger
}

// Client downloads files.
type Client struct {
	http       *http.Client
	maxRetries int
	maxBytes   int64
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = SharedHTTPClient(cfg.Timeout)
	}
	return &Client{
		http:       hc,
		maxRetries: cfg.MaxRetries,
		maxBytes:   cfg.MaxBytes,
		logger:     cfg.Logger,
		sleep:      sleepCtx,
	}
}

// SharedHTTPClient returns an HTTP client with connection pooling.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// ToFile downloads rawURL into dst, truncating it. It returns the number of
// bytes written.
func (c *Client) ToFile(ctx context.Context, rawURL, dst string) (int64, error) {
	resp, err := c.getWithRetry(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}

	written, err := io.Copy(out, io.LimitReader(resp.Body, c.maxBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, fmt.Errorf("write %s: %w", dst, err)
	}
	if written > c.maxBytes {
		return written, fmt.Errorf("download exceeds %d bytes", c.maxBytes)
	}
	return written, nil
}

// getWithRetry retries network errors, 5xx and 429 with quadratic backoff
// plus jitter.
func (c *Client) getWithRetry(ctx context.Context, rawURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * 250 * time.Millisecond
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			c.logger.Warn("retrying download", "attempt", attempt+1, "backoff", backoff, "err", lastErr)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", RedactError(err))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = RedactError(err)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		return resp, nil
	}

	return nil, fmt.Errorf("download failed after %d retries: %w", c.maxRetries, lastErr)
}

var botTokenSegment = regexp.MustCompile(`/bot[^/]+/`)

// RedactURL hides the bot token that Telegram embeds in file URLs.
func RedactURL(rawURL string) string {
	return botTokenSegment.ReplaceAllString(rawURL, "/bot<redacted>/")
}

// RedactError hides the bot token in the URL carried by a *url.Error.
func RedactError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = RedactURL(ue.URL)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
