// Package clickup is the rate-limited, pooled, retrying read client for the
// remote workspace API.
package clickup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emilianohg/clickmirror/internal/config"
	"github.com/emilianohg/clickmirror/internal/telemetry"
)

const (
	DefaultBaseURL = "https://api.clickup.com/api/v2"

	maxBodyBytes = 32 << 20
)

// HTTPClient is the subset of *http.Client used here.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	BaseURL           string
	Token             string
	TeamID            string
	RequestsPerMinute int
	Burst             int
	Window            time.Duration
	MaxWorkers        int
	MaxAttempts       int
	Timeout           time.Duration
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	HTTPClient        HTTPClient
	Logger            *slog.Logger
}

func OptionsFromConfig(cfg config.APIConfig) Options {
	return Options{
		BaseURL:           cfg.BaseURL,
		Token:             cfg.Token,
		TeamID:            cfg.TeamID,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		MaxWorkers:        cfg.MaxWorkers,
		MaxAttempts:       cfg.MaxAttempts,
		Timeout:           cfg.Timeout.Duration,
	}
}

type Client struct {
	baseURL     string
	token       string
	maxWorkers  int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	http    HTTPClient
	limiter *Limiter
	logger  *slog.Logger
	tracer  trace.Tracer

	// sleep is swapped in tests to skip real backoff.
	sleep func(ctx context.Context, d time.Duration) error

	teamMu sync.Mutex
	teamID string
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 1000
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 60
	}
	// Keep fan-out below the budget so a single batch can't trip 429s.
	if opts.MaxWorkers >= opts.RequestsPerMinute {
		opts.MaxWorkers = max(1, opts.RequestsPerMinute/2)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:        opts.MaxWorkers,
				MaxIdleConnsPerHost: opts.MaxWorkers,
				MaxConnsPerHost:     opts.MaxWorkers,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		teamID:      opts.TeamID,
		maxWorkers:  opts.MaxWorkers,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		http:        httpClient,
		limiter:     NewLimiter(opts.RequestsPerMinute, opts.Burst, opts.Window),
		logger:      opts.Logger,
		tracer:      telemetry.Tracer("clickup"),
		sleep:       sleepCtx,
	}
}

func (c *Client) Limiter() *Limiter { return c.limiter }

func (c *Client) MaxWorkers() int { return c.maxWorkers }

type validatable interface {
	Validate() error
}

// Get fetches endpoint with params and decodes the JSON reply into out.
// Responses implementing Validate are checked before returning.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, out any) error {
	route := routeLabel(endpoint)
	ctx, span := c.tracer.Start(ctx, "clickup.get", trace.WithAttributes(attribute.String("route", route)))
	defer span.End()

	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	body, err := c.do(ctx, route, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", route, err)
	}
	if v, ok := out.(validatable); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", route, err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, route, u string) ([]byte, error) {
	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt, retryAfter)
			c.logger.Debug("retrying request", "route", route, "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		retryAfter = 0

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			telemetry.FetchRequests.WithLabelValues(route, "error").Inc()
			telemetry.FetchRetries.WithLabelValues("transport").Inc()
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		telemetry.FetchRequests.WithLabelValues(route, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Route: route, Body: string(body)}
			if !apiErr.Retryable() {
				return nil, apiErr
			}
			telemetry.FetchRetries.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			lastErr = apiErr
			continue
		}

		if readErr != nil {
			telemetry.FetchRetries.WithLabelValues("read").Inc()
			lastErr = readErr
			continue
		}
		return body, nil
	}

	c.logger.Warn("request failed", "route", route, "attempts", c.maxAttempts, "error", lastErr)
	return nil, &RetryExhaustedError{Route: route, Attempts: c.maxAttempts, Last: lastErr}
}

// backoff doubles from baseDelay per attempt with up to 25% jitter. A
// server supplied Retry-After wins when it is longer.
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := c.baseDelay << (attempt - 1)
	if d <= 0 || d > c.maxDelay {
		d = c.maxDelay
	}
	d += time.Duration(rand.Int64N(int64(d)/4 + 1))
	if retryAfter > d {
		d = min(retryAfter, 2*c.maxDelay)
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
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

var idSegments = map[string]bool{"team": true, "space": true, "folder": true, "list": true, "task": true}

// routeLabel collapses ids so metric labels stay bounded:
// /list/901/task -> /list/:id/task.
func routeLabel(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	for i := 1; i < len(parts); i++ {
		if idSegments[parts[i-1]] {
			parts[i] = ":id"
			i++
		}
	}
	return "/" + strings.Join(parts, "/")
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
