// Package cloudflare is the HTTP plumbing shared by the Workers AI and
// Vectorize adapters: bearer auth, per-account URLs, the {success, result,
// errors} envelope and client-side rate limiting with Retry-After backoff.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"seen/internal/apperr"
)

const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

type Options struct {
	BaseURL   string
	AccountID string
	APIToken  string
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

type Client struct {
	baseURL   string
	accountID string
	token     string
	http      *http.Client
	limiter   *rate.Limiter

	mu      sync.Mutex
	retryAt time.Time
}

func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{baseURL: base, accountID: opts.AccountID, token: opts.APIToken, http: hc}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond)))
	}
	return c
}

// AccountURL joins path onto /accounts/{account_id}.
func (c *Client) AccountURL(path string) string {
	return c.baseURL + "/accounts/" + c.accountID + "/" + strings.TrimLeft(path, "/")
}

// Envelope is the standard Cloudflare API response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Errors  []APIError      `json:"errors"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Post sends body to url and decodes the envelope. Non-2xx statuses and
// success=false both return a request error naming service.
func (c *Client) Post(ctx context.Context, service, url, contentType string, body []byte) (*Envelope, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", service, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", service, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", service, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.backoff(resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Request(service, resp.StatusCode, string(raw))
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperr.Serialization(err, service)
	}
	if !env.Success {
		return nil, apperr.Request(service, resp.StatusCode, describe(env.Errors, raw))
	}
	return &env, nil
}

// PostJSON marshals payload as the request body and decodes the envelope
// result into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, service, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", service, err)
	}
	env, err := c.Post(ctx, service, url, "application/json", body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return apperr.Serialization(nil, service)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return apperr.Serialization(err, service)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	retryAt := c.retryAt
	c.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) backoff(retryAfter string) {
	secs, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || secs <= 0 {
		secs = 1
	}
	c.mu.Lock()
	c.retryAt = time.Now().Add(time.Duration(secs) * time.Second)
	c.mu.Unlock()
}

func describe(errs []APIError, raw []byte) string {
	if len(errs) == 0 {
		return string(raw)
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%d: %s", e.Code, e.Message)
	}
	return strings.Join(parts, "; ")
}
