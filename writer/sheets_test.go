package writer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/models"
)

func sheetsTestConfig(url string) *appconfig.Config {
	return &appconfig.Config{
		Sheets: appconfig.SheetsConfig{
			WebhookURL: url,
			Tab:        "alerts",
			Timeout:    5 * time.Second,
		},
	}
}

func testEvent(symbol string) models.PublishedEvent {
	mark := 61000.0
	return models.PublishedEvent{
		UID: "uid-" + symbol,
		Event: models.WhaleEvent{
			Exchange:   "hyperliquid",
			Address:    "0xabc",
			Symbol:     symbol,
			Action:     models.ActionOpenLong,
			Size:       12.5,
			Notional:   1500000,
			EntryPrice: 60000,
			LiqPrice:   52000,
			MarkPrice:  &mark,
			ExecutedAt: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC),
			URL:        "https://example.com/tx/0x9fc4",
		},
	}
}

func TestAppendEventsReturnsRowIndices(t *testing.T) {
	var got webhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(webhookResponse{OK: true, Rows: []int{7, 8}})
	}))
	defer server.Close()

	sw := NewSheetsWriter(sheetsTestConfig(server.URL))
	rows, err := sw.AppendEvents(context.Background(), []models.PublishedEvent{
		testEvent("BTC"), testEvent("ETH"),
	})
	if err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if len(rows) != 2 || rows[0] != 7 || rows[1] != 8 {
		t.Fatalf("expected rows [7 8], got %v", rows)
	}

	if got.Action != "append" || got.Tab != "alerts" {
		t.Errorf("unexpected request envelope: %+v", got)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("expected 2 rows in request, got %d", len(got.Rows))
	}

	want := len(baseHeaders) + len(models.CheckpointMinutes()) + 1
	if len(got.Rows[0]) != want {
		t.Errorf("expected %d cells per row, got %d", want, len(got.Rows[0]))
	}
	if got.Rows[0][0] != "2023-11-14" || got.Rows[0][1] != "22:13:20" {
		t.Errorf("unexpected date cells: %v %v", got.Rows[0][0], got.Rows[0][1])
	}
	if got.Rows[0][len(got.Rows[0])-1] != "uid-BTC" {
		t.Errorf("expected UID in last cell, got %v", got.Rows[0][len(got.Rows[0])-1])
	}
}

func TestAppendEventsRowCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(webhookResponse{OK: true, Rows: []int{7}})
	}))
	defer server.Close()

	sw := NewSheetsWriter(sheetsTestConfig(server.URL))
	if _, err := sw.AppendEvents(context.Background(), []models.PublishedEvent{
		testEvent("BTC"), testEvent("ETH"),
	}); err == nil {
		t.Fatal("expected error on row index mismatch")
	}
}

func TestUpdateCheckpointAddressesCell(t *testing.T) {
	var got webhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(webhookResponse{OK: true})
	}))
	defer server.Close()

	sw := NewSheetsWriter(sheetsTestConfig(server.URL))
	if err := sw.UpdateCheckpoint(context.Background(), 9, 1, -2.345); err != nil {
		t.Fatalf("UpdateCheckpoint: %v", err)
	}

	// Minute 1 is the first drift column after the event columns.
	if got.Range != "L9" {
		t.Errorf("expected range L9, got %q", got.Range)
	}
	if got.Rows[0][0] != "-2.35%" {
		t.Errorf("expected formatted drift, got %v", got.Rows[0][0])
	}
}

func TestUpdateCheckpointRejectsUnknownMinute(t *testing.T) {
	sw := NewSheetsWriter(sheetsTestConfig("http://127.0.0.1:0"))
	if err := sw.UpdateCheckpoint(context.Background(), 9, 7, 1.0); err == nil {
		t.Fatal("expected error for minute outside the schedule")
	}
}

func TestPostRetriesQuotaErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(webhookResponse{OK: true, Rows: []int{2}})
	}))
	defer server.Close()

	sw := NewSheetsWriter(sheetsTestConfig(server.URL))
	rows, err := sw.AppendEvents(context.Background(), []models.PublishedEvent{testEvent("BTC")})
	if err != nil {
		t.Fatalf("AppendEvents after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(rows) != 1 || rows[0] != 2 {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestPostDoesNotRetryRejections(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		json.NewEncoder(w).Encode(webhookResponse{OK: false, Error: "unknown tab"})
	}))
	defer server.Close()

	sw := NewSheetsWriter(sheetsTestConfig(server.URL))
	if _, err := sw.AppendEvents(context.Background(), []models.PublishedEvent{testEvent("BTC")}); err == nil {
		t.Fatal("expected rejection error")
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt, got %d", attempts)
	}
}

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{1: "A", 11: "K", 26: "Z", 27: "AA", 52: "AZ", 62: "BJ"}
	for col, want := range cases {
		if got := columnLetter(col); got != want {
			t.Errorf("columnLetter(%d) = %q, want %q", col, got, want)
		}
	}
}

func TestSheetHeadersShape(t *testing.T) {
	headers := sheetHeaders()
	want := len(baseHeaders) + len(models.CheckpointMinutes()) + 1
	if len(headers) != want {
		t.Fatalf("expected %d headers, got %d", want, len(headers))
	}
	if headers[len(headers)-1] != "UID" {
		t.Errorf("expected trailing UID header, got %q", headers[len(headers)-1])
	}
	if headers[len(baseHeaders)] != models.CheckpointLabel(1) {
		t.Errorf("expected first drift header %q, got %q", models.CheckpointLabel(1), headers[len(baseHeaders)])
	}
}
