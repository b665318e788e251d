package coinglass

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "whalewatch/config"
)

func testConfig(hosts ...string) *appconfig.Config {
	return &appconfig.Config{
		Feed: appconfig.FeedConfig{
			Hosts:    hosts,
			Endpoint: "/api/hyperliquid/whale-alert",
			APIKey:   "test-key",
			Timeout:  5 * time.Second,
			Retry: appconfig.RetryConfig{
				MaxAttempts: 2,
				BaseDelay:   time.Millisecond,
				MaxDelay:    5 * time.Millisecond,
			},
		},
	}
}

func TestFetchRetryThenFallback(t *testing.T) {
	var primaryCalls int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()

	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("CG-API-KEY"); got != "test-key" {
			t.Errorf("missing api key header, got %q", got)
		}
		w.Write([]byte(`{"code":"0","msg":"success","data":[{"symbol":"BTC"}]}`))
	}))
	defer secondary.Close()

	client := NewClient(testConfig(primary.URL, secondary.URL))

	data, err := client.Fetch(context.Background(), "/api/hyperliquid/whale-alert", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != `[{"symbol":"BTC"}]` {
		t.Errorf("unexpected payload: %s", data)
	}
	if primaryCalls != 2 {
		t.Errorf("primary host attempts = %d, want retry budget 2", primaryCalls)
	}
}

func TestFetchAuthErrorNoFallback(t *testing.T) {
	var primaryCalls, secondaryCalls int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"40101","msg":"invalid api key"}`))
	}))
	defer primary.Close()

	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryCalls++
		w.Write([]byte(`{"code":"0","data":[]}`))
	}))
	defer secondary.Close()

	client := NewClient(testConfig(primary.URL, secondary.URL))

	_, err := client.Fetch(context.Background(), "/x", nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", authErr.StatusCode)
	}
	if primaryCalls != 1 {
		t.Errorf("auth failure should not be retried, attempts = %d", primaryCalls)
	}
	if secondaryCalls != 0 {
		t.Errorf("auth failure should not fall back, secondary calls = %d", secondaryCalls)
	}
}

func TestFetchEnvelopeCodeFailure(t *testing.T) {
	// HTTP 200 with a non-zero envelope code is not a success.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"50001","msg":"rate limited"}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	_, err := client.Fetch(context.Background(), "/x", nil)
	var exhausted *HostsExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *HostsExhaustedError, got %T: %v", err, err)
	}
}

func TestFetchAllHostsExhausted(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	client := NewClient(testConfig(down.URL, down.URL))

	_, err := client.Fetch(context.Background(), "/x", nil)
	var exhausted *HostsExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *HostsExhaustedError, got %T: %v", err, err)
	}
	if exhausted.LastErr == nil {
		t.Error("exhaustion should carry the last observed error")
	}
}
