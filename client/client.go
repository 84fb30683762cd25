// Package client issues requests against the remote listing API and decides,
// per attempt, whether to succeed, retry after a fixed backoff, or fail.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-repo-metrics/config"
	"github.com/aluiziolira/go-repo-metrics/metrics"
	"github.com/gocolly/colly/v2"
)

const (
	ctxStatus = "status"
	ctxBody   = "body"
	ctxHeader = "header"
)

// Request is a fully formed query. Headers such as Authorization are attached
// by the caller.
type Request struct {
	Body   []byte
	Header http.Header
}

// Response is a successful (HTTP 200, no application errors) reply.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Attempts   int
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option customises a Client.
type Option func(*Client)

// WithMetrics records attempts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.collector.WithTransport(rt)
	}
}

// Client wraps a synchronous colly collector with bounded fixed-backoff retries.
type Client struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *metrics.Metrics
	sleep     SleepFunc
}

// New builds a client for cfg.Endpoint.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("endpoint must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	// Non-2xx replies reach OnResponse so the status and body can be classified here.
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
		if r.Headers != nil {
			r.Ctx.Put(ctxHeader, r.Headers.Clone())
		}
	})

	c := &Client{
		cfg:       cfg,
		collector: collector,
		sleep:     Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send issues req, retrying retryable failures up to cfg.MaxAttempts attempts
// in total with cfg.RetryBackoff between them. Unauthorized and rejected
// queries fail on the first attempt; exhausting attempts returns
// ErrRetriesExhausted.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	maxAttempts := c.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, status, err := c.do(req)
		if err == nil {
			resp.Attempts = attempt
			c.metrics.IncRequest("success")
			slog.Debug("remote request succeeded",
				slog.Int("attempt", attempt),
				slog.Int("status", status),
			)
			return resp, nil
		}

		category := ErrorTypeLabel(err)
		c.metrics.IncError(category)
		slog.Warn("remote request failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", err),
		)

		if !IsRetryable(err) {
			c.metrics.IncRequest("fatal")
			return nil, err
		}
		c.metrics.IncRequest("retryable")
		last = err

		if attempt == maxAttempts {
			break
		}
		c.metrics.IncRetries()
		if err := c.sleep(ctx, c.cfg.RetryBackoff); err != nil {
			return nil, err
		}
	}

	c.metrics.IncError("exhausted")
	return nil, ErrRetriesExhausted{Attempts: maxAttempts, Err: last}
}

// do performs a single attempt and returns the observed status (0 when the
// transport failed before a reply).
func (c *Client) do(req Request) (*Response, int, error) {
	hdr := req.Header.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	if hdr.Get("Content-Type") == "" {
		hdr.Set("Content-Type", "application/json")
	}
	if hdr.Get("User-Agent") == "" {
		hdr.Set("User-Agent", c.cfg.UserAgent)
	}

	rctx := colly.NewContext()
	start := time.Now()
	err := c.collector.Request(http.MethodPost, c.cfg.Endpoint, bytes.NewReader(req.Body), rctx, hdr)
	c.metrics.ObserveDuration(time.Since(start))

	status, _ := rctx.GetAny(ctxStatus).(int)
	if err != nil && status == 0 {
		return nil, 0, classifyTransport(err)
	}
	if status != http.StatusOK {
		return nil, status, classifyStatus(status)
	}

	body, _ := rctx.GetAny(ctxBody).([]byte)
	if messages := applicationErrors(body); len(messages) > 0 {
		return nil, status, ErrQueryRejected{Messages: messages}
	}

	header, _ := rctx.GetAny(ctxHeader).(http.Header)
	return &Response{
		StatusCode: status,
		Body:       body,
		Header:     header,
	}, status, nil
}

// applicationErrors extracts a GraphQL-style top-level "errors" list. Bodies
// that are not JSON objects yield nil and are left to the caller to judge.
func applicationErrors(body []byte) []string {
	var envelope struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	messages := make([]string, 0, len(envelope.Errors))
	for _, e := range envelope.Errors {
		msg := e.Message
		if msg == "" {
			msg = "unspecified error"
		}
		messages = append(messages, msg)
	}
	return messages
}
