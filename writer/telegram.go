package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramWriter delivers one formatted alert message per whale event through
// the Bot API. Delivery is fire and forget: a failed send is logged by the
// caller and never retried, so a flaky Telegram outage cannot stall the poll
// loop or block the ledger.
type TelegramWriter struct {
	config     appconfig.TelegramConfig
	baseURL    string
	httpClient *http.Client
	log        *logger.Log
}

func NewTelegramWriter(cfg *appconfig.Config) *TelegramWriter {
	timeout := cfg.Telegram.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &TelegramWriter{
		config:  cfg.Telegram,
		baseURL: telegramAPIBase,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger.GetLogger(),
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify posts the rendered alert for evt to the configured chat.
func (w *TelegramWriter) Notify(ctx context.Context, evt models.WhaleEvent) error {
	log := w.log.WithComponent("telegram_writer").WithFields(logger.Fields{
		"symbol": evt.Symbol,
		"action": string(evt.Action),
	})

	text := w.formatMessage(evt)

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                w.config.ChatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", w.baseURL, w.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram rejected message: %s", parsed.Description)
	}

	logger.IncrementAlertSent(len(text))
	log.Debug("alert delivered")
	return nil
}

func (w *TelegramWriter) formatMessage(evt models.WhaleEvent) string {
	var b strings.Builder

	tag := w.config.AlertTag
	if tag == "" {
		tag = "Whale Alert"
	}
	fmt.Fprintf(&b, "\U0001F433 <b>%s</b> \U0001F433\n", tag)
	fmt.Fprintf(&b, "Coin: %s\n", evt.Symbol)
	fmt.Fprintf(&b, "Action: %s\n", evt.Action)
	fmt.Fprintf(&b, "Notional: %s | Size: %s\n", fmtUSD(evt.Notional), trimFloat(evt.Size))

	if evt.MarkPrice != nil {
		fmt.Fprintf(&b, "Entry: %s | Market: %s\n", fmtUSD(evt.EntryPrice), fmtUSD(*evt.MarkPrice))
	} else {
		fmt.Fprintf(&b, "Entry: %s | Market: n/a\n", fmtUSD(evt.EntryPrice))
	}

	fmt.Fprintf(&b, "UTC: %s\n", evt.ExecutedAt.UTC().Format("2006-01-02 at 15:04:05"))

	if evt.URL != "" {
		fmt.Fprintf(&b, "Transaction: <a href=\"%s\">%s</a>", evt.URL, shortenURL(evt.URL))
	}

	return strings.TrimRight(b.String(), "\n")
}

// fmtUSD renders a dollar amount with thousands separators, widening the
// fraction for sub-dollar prices so altcoin quotes stay legible.
func fmtUSD(v float64) string {
	decimals := 2
	switch {
	case v >= 1000 || v <= -1000:
		decimals = 0
	case v < 1 && v > -1:
		decimals = 4
	}

	s := strconv.FormatFloat(v, 'f', decimals, 64)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}

	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i:]
	}

	var grouped strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(c)
	}

	return sign + "$" + grouped.String() + fracPart
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// shortenURL keeps the host and the tail of long transaction links so the
// message stays compact while remaining recognizable.
func shortenURL(raw string) string {
	const tail = 10
	trimmed := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if len(trimmed) <= tail+12 {
		return trimmed
	}
	host := trimmed
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		host = trimmed[:i]
	}
	return fmt.Sprintf("%s/…%s", host, trimmed[len(trimmed)-tail:])
}
