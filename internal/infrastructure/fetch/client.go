package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures a Client
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	RateLimit  float64 // Requests per second, zero means unlimited
	MaxBytes   int64   // Download size cap, zero means unlimited
	UserAgent  string
}

// DefaultOptions returns the options used for bundle downloads and catalog queries
func DefaultOptions() Options {
	return Options{
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
		RateLimit:  5,
		MaxBytes:   64 << 20,
		UserAgent:  "appruntime/1.0",
	}
}

// Client downloads bundles and queries update catalogs
type Client struct {
	retry    *retryablehttp.Client
	resty    *resty.Client
	limiter  *rate.Limiter
	maxBytes int64
	mu       sync.RWMutex
}

// NewClient creates a rate-limited client with retries
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.MaxRetries
	retryClient.RetryWaitMin = opts.MinWait
	retryClient.RetryWaitMax = opts.MaxWait
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = zapLeveled{logger.Named("fetch")}

	restyClient := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.MinWait).
		SetRetryMaxWaitTime(opts.MaxWait).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetJSONMarshaler(sonic.Marshal)

	c := &Client{
		retry:    retryClient,
		resty:    restyClient,
		maxBytes: opts.MaxBytes,
	}
	c.SetRateLimit(opts.RateLimit)
	return c
}

// SetRateLimit configures rate limiting (requests per second)
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

func (c *Client) wait(ctx context.Context) error {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}
	return nil
}

// Download streams url into a new temporary file under dir and returns its path
func (c *Client) Download(ctx context.Context, url, dir string) (string, int64, error) {
	if err := c.wait(ctx); err != nil {
		return "", 0, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.retry.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}
	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		return "", 0, fmt.Errorf("download %s is %d bytes, limit %d", url, resp.ContentLength, c.maxBytes)
	}

	f, err := os.CreateTemp(dir, "download-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create download file: %w", err)
	}

	var body io.Reader = resp.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && c.maxBytes > 0 && n > c.maxBytes {
		err = fmt.Errorf("download %s exceeds limit %d", url, c.maxBytes)
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("failed to write download: %w", err)
	}
	return f.Name(), n, nil
}

// GetJSON fetches url and decodes the JSON body into out
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	req := c.resty.R().SetContext(ctx).SetResult(out)
	c.mu.RUnlock()

	resp, err := req.Get(url)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode())
	}
	return nil
}

// zapLeveled adapts zap to the retryablehttp leveled logger
type zapLeveled struct {
	l *zap.Logger
}

func (z zapLeveled) Error(msg string, kv ...interface{}) { z.l.Sugar().Errorw(msg, kv...) }
func (z zapLeveled) Info(msg string, kv ...interface{})  { z.l.Sugar().Debugw(msg, kv...) }
func (z zapLeveled) Debug(msg string, kv ...interface{}) { z.l.Sugar().Debugw(msg, kv...) }
func (z zapLeveled) Warn(msg string, kv ...interface{})  { z.l.Sugar().Warnw(msg, kv...) }
