package coinglass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/logger"
)

// Envelope is the application-level wrapper every CoinGlass response carries.
// A call only counts as successful when the HTTP status is 200 and Code is "0".
type Envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// AuthError signals a credential or plan problem. Retrying or switching hosts
// cannot fix it, so it aborts the fetch immediately.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("coinglass auth error %d: %s", e.StatusCode, e.Message)
}

// HostsExhaustedError is returned when every host candidate failed. It carries
// the last observed error for diagnosis.
type HostsExhaustedError struct {
	Path    string
	LastErr error
}

func (e *HostsExhaustedError) Error() string {
	return fmt.Sprintf("all coinglass hosts failed for %s: %v", e.Path, e.LastErr)
}

func (e *HostsExhaustedError) Unwrap() error { return e.LastErr }

// statusError is the transient failure shape used internally between attempts.
type statusError struct {
	StatusCode int
	Code       string
	Msg        string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d / code=%s / msg=%s", e.StatusCode, e.Code, e.Msg)
}

// Client performs HTTP calls against an ordered list of host candidates with
// bounded per-host retry and exponential backoff.
type Client struct {
	hosts      []string
	apiKey     string
	httpClient *http.Client
	retry      appconfig.RetryConfig
	log        *logger.Log
}

// NewClient creates a feed client from the configured hosts and credentials.
func NewClient(cfg *appconfig.Config) *Client {
	hosts := make([]string, 0, len(cfg.Feed.Hosts))
	for _, h := range cfg.Feed.Hosts {
		hosts = append(hosts, strings.TrimRight(h, "/"))
	}

	timeout := cfg.Feed.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	client := &Client{
		hosts:      hosts,
		apiKey:     cfg.Feed.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      cfg.Feed.Retry,
		log:        logger.GetLogger(),
	}

	client.log.WithComponent("coinglass_reader").WithFields(logger.Fields{
		"hosts":   hosts,
		"timeout": timeout,
	}).Info("coinglass client initialized")

	return client
}

// Fetch issues the call against each host in order and returns the first
// successful payload. 401/403 propagate immediately as *AuthError; every other
// failure is treated as transient, retried per host with exponential backoff,
// then handed to the next host. Exhaustion yields *HostsExhaustedError.
func (c *Client) Fetch(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	var lastErr error

	for _, host := range c.hosts {
		data, err := c.fetchHost(ctx, host, path, params)
		if err == nil {
			return data, nil
		}
		if _, ok := err.(*AuthError); ok {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.log.WithComponent("coinglass_reader").WithFields(logger.Fields{
			"host": host,
			"path": path,
		}).WithError(err).Warn("host failed, trying next candidate")
	}

	return nil, &HostsExhaustedError{Path: path, LastErr: lastErr}
}

func (c *Client) fetchHost(ctx context.Context, host, path string, params url.Values) (json.RawMessage, error) {
	var lastErr error
	delay := c.retry.BaseDelay

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if c.retry.MaxDelay > 0 && delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}

		data, err := c.doRequest(ctx, host, path, params)
		if err == nil {
			return data, nil
		}

		if _, ok := err.(*AuthError); ok {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, host, path string, params url.Values) (json.RawMessage, error) {
	fullURL := host + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("CG-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env Envelope
	// A garbled body on an error status is still a transient failure, so the
	// decode error itself is not fatal here.
	if err := json.Unmarshal(body, &env); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		msg := env.Msg
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: msg}
	}

	if resp.StatusCode == http.StatusOK && env.Code == "0" {
		return env.Data, nil
	}

	return nil, &statusError{StatusCode: resp.StatusCode, Code: env.Code, Msg: env.Msg}
}
