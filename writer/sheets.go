package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

// baseHeaders are the leading ledger columns, one per event field. The drift
// columns and the trailing UID column follow them; see sheetHeaders.
var baseHeaders = []string{
	"Date", "Time", "Exchange", "Symbol", "Action",
	"Size", "Market Price", "Entry", "Liq", "Notional USD", "URL",
}

const (
	sheetsMaxAttempts = 5
	sheetsBaseDelay   = time.Second
	sheetsMaxDelay    = 16 * time.Second
)

// SheetsWriter is the ledger sink. It talks to an Apps Script webhook bound to
// the spreadsheet; the webhook echoes back the 1-based row index of every row
// it appends, which is what lets checkpoint trackers address their cells later.
type SheetsWriter struct {
	config     appconfig.SheetsConfig
	httpClient *http.Client
	log        *logger.Log
}

func NewSheetsWriter(cfg *appconfig.Config) *SheetsWriter {
	timeout := cfg.Sheets.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &SheetsWriter{
		config: cfg.Sheets,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger.GetLogger(),
	}
}

type webhookRequest struct {
	Action string  `json:"action"`
	Tab    string  `json:"tab"`
	Range  string  `json:"range,omitempty"`
	Rows   [][]any `json:"rows,omitempty"`
}

type webhookResponse struct {
	OK    bool   `json:"ok"`
	Rows  []int  `json:"rows,omitempty"`
	Error string `json:"error,omitempty"`
}

// sheetHeaders is the full header row: event columns, one drift column per
// checkpoint offset, then the UID used to correlate rows with alerts.
func sheetHeaders() []string {
	minutes := models.CheckpointMinutes()
	headers := make([]string, 0, len(baseHeaders)+len(minutes)+1)
	headers = append(headers, baseHeaders...)
	for _, m := range minutes {
		headers = append(headers, models.CheckpointLabel(m))
	}
	return append(headers, "UID")
}

// Init writes the header row. Safe to call on every start; the webhook
// overwrites row 1 in place.
func (w *SheetsWriter) Init(ctx context.Context) error {
	headers := sheetHeaders()
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}

	_, err := w.post(ctx, webhookRequest{
		Action: "headers",
		Tab:    w.config.Tab,
		Rows:   [][]any{row},
	})
	if err != nil {
		return fmt.Errorf("failed to write ledger headers: %w", err)
	}

	w.log.WithComponent("sheets_writer").WithFields(logger.Fields{
		"tab":     w.config.Tab,
		"columns": len(headers),
	}).Info("ledger headers initialized")
	return nil
}

// AppendEvents appends one row per event and returns the row index the webhook
// assigned to each, in input order. An error means nothing in the batch may be
// treated as recorded.
func (w *SheetsWriter) AppendEvents(ctx context.Context, events []models.PublishedEvent) ([]int, error) {
	if len(events) == 0 {
		return nil, nil
	}

	rows := make([][]any, 0, len(events))
	for _, pe := range events {
		rows = append(rows, eventRow(pe))
	}

	resp, err := w.post(ctx, webhookRequest{
		Action: "append",
		Tab:    w.config.Tab,
		Rows:   rows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger rows: %w", err)
	}
	if len(resp.Rows) != len(events) {
		return nil, fmt.Errorf("ledger returned %d row indices for %d rows", len(resp.Rows), len(events))
	}

	logger.IncrementRowsAppended(len(events))
	return resp.Rows, nil
}

// UpdateCheckpoint writes the drift percentage for one checkpoint offset into
// the cell addressed by the tracker's row and the offset's column.
func (w *SheetsWriter) UpdateCheckpoint(ctx context.Context, row int, minute int, pct float64) error {
	col := checkpointColumn(minute)
	if col < 0 {
		return fmt.Errorf("minute %d is not a checkpoint offset", minute)
	}

	cell := fmt.Sprintf("%s%d", columnLetter(col), row)
	_, err := w.post(ctx, webhookRequest{
		Action: "update",
		Tab:    w.config.Tab,
		Range:  cell,
		Rows:   [][]any{{fmt.Sprintf("%.2f%%", pct)}},
	})
	if err != nil {
		return fmt.Errorf("failed to update checkpoint cell %s: %w", cell, err)
	}

	logger.IncrementCheckpointWrite()
	return nil
}

// post sends one webhook request, retrying quota and server errors with
// doubling delays before giving up.
func (w *SheetsWriter) post(ctx context.Context, req webhookRequest) (*webhookResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook request: %w", err)
	}

	log := w.log.WithComponent("sheets_writer").WithFields(logger.Fields{
		"action": req.Action,
	})

	delay := sheetsBaseDelay
	var lastErr error
	for attempt := 1; attempt <= sheetsMaxAttempts; attempt++ {
		resp, retryable, err := w.postOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable || attempt == sheetsMaxAttempts {
			break
		}

		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("webhook request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > sheetsMaxDelay {
			delay = sheetsMaxDelay
		}
	}

	return nil, lastErr
}

func (w *SheetsWriter) postOnce(ctx context.Context, body []byte) (*webhookResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed webhookResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode webhook response: %w", err)
	}
	if !parsed.OK {
		// The Apps Script layer reports quota exhaustion inside a 200.
		if strings.Contains(strings.ToLower(parsed.Error), "quota") {
			return nil, true, fmt.Errorf("webhook quota exceeded: %s", parsed.Error)
		}
		return nil, false, fmt.Errorf("webhook rejected request: %s", parsed.Error)
	}

	return &parsed, false, nil
}

func eventRow(pe models.PublishedEvent) []any {
	evt := pe.Event
	executed := evt.ExecutedAt.UTC()

	var mark any
	if evt.MarkPrice != nil {
		mark = *evt.MarkPrice
	} else {
		mark = ""
	}

	row := []any{
		executed.Format("2006-01-02"),
		executed.Format("15:04:05"),
		evt.Exchange,
		evt.Symbol,
		string(evt.Action),
		evt.Size,
		mark,
		evt.EntryPrice,
		evt.LiqPrice,
		evt.Notional,
		evt.URL,
	}
	for range models.CheckpointMinutes() {
		row = append(row, "")
	}
	return append(row, pe.UID)
}

// checkpointColumn maps a checkpoint offset to its 1-based sheet column, or -1
// when the minute is not part of the schedule.
func checkpointColumn(minute int) int {
	for i, m := range models.CheckpointMinutes() {
		if m == minute {
			return len(baseHeaders) + i + 1
		}
	}
	return -1
}

// columnLetter converts a 1-based column number to A1 notation (1 -> A,
// 27 -> AA).
func columnLetter(col int) string {
	var letters []byte
	for col > 0 {
		col--
		letters = append([]byte{byte('A' + col%26)}, letters...)
		col /= 26
	}
	return string(letters)
}
