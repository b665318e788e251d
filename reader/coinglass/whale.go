package coinglass

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	appconfig "whalewatch/config"
	"whalewatch/logger"
	"whalewatch/models"
)

const whaleAlertEndpoint = "/api/hyperliquid/whale-alert"

// rawAlert is the feed's record shape. Fields the feed sometimes omits stay
// zero-valued and are validated away in normalize.
type rawAlert struct {
	Symbol         string  `json:"symbol"`
	User           string  `json:"user"`
	PositionSize   float64 `json:"position_size"`
	PositionValue  float64 `json:"position_value_usd"`
	PositionAction int     `json:"position_action"`
	EntryPrice     float64 `json:"entry_price"`
	LiqPrice       float64 `json:"liq_price"`
	CreateTime     int64   `json:"create_time"`
}

// WhaleReader fetches outstanding whale alerts and normalizes them into
// canonical events, applying the watchlist and notional threshold filters.
type WhaleReader struct {
	config   *appconfig.Config
	client   *Client
	endpoint string
	watch    map[string]struct{}
	log      *logger.Log
}

// NewWhaleReader creates a reader on top of the resilient feed client.
func NewWhaleReader(cfg *appconfig.Config, client *Client) *WhaleReader {
	endpoint := cfg.Feed.Endpoint
	if endpoint == "" {
		endpoint = whaleAlertEndpoint
	}

	watch := make(map[string]struct{}, len(cfg.Feed.Watchlist))
	for _, s := range cfg.Feed.Watchlist {
		watch[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}

	return &WhaleReader{
		config:   cfg,
		client:   client,
		endpoint: endpoint,
		watch:    watch,
		log:      logger.GetLogger(),
	}
}

// FetchAlerts performs one feed fetch and returns the qualifying events in
// feed order. Malformed records are dropped and logged, never propagated.
func (r *WhaleReader) FetchAlerts(ctx context.Context) ([]models.WhaleEvent, error) {
	log := r.log.WithComponent("coinglass_reader").WithFields(logger.Fields{"operation": "fetch_alerts"})

	start := time.Now()
	data, err := r.client.Fetch(ctx, r.endpoint, nil)
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "coinglass_reader", "api_request", time.Since(start), nil)
	logger.IncrementFeedRead(len(data))

	var raws []rawAlert
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode whale alerts: %w", err)
	}

	events := make([]models.WhaleEvent, 0, len(raws))
	for _, raw := range raws {
		evt, err := r.normalize(raw)
		if err != nil {
			log.WithFields(logger.Fields{
				"symbol": raw.Symbol,
				"user":   raw.User,
			}).WithError(err).Warn("dropping malformed feed record")
			continue
		}

		sym := evt.Symbol
		if len(r.watch) > 0 {
			if _, ok := r.watch[sym]; !ok {
				continue
			}
		}
		if evt.Notional < r.config.Feed.MinNotionalFor(sym) {
			continue
		}

		events = append(events, evt)
	}

	log.WithFields(logger.Fields{
		"fetched":    len(raws),
		"qualifying": len(events),
	}).Debug("whale alerts fetched")

	return events, nil
}

// normalize maps a raw feed record to a canonical event. Validation fails
// closed: any field outside the strict shape drops the whole record.
func (r *WhaleReader) normalize(raw rawAlert) (models.WhaleEvent, error) {
	sym := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if sym == "" {
		return models.WhaleEvent{}, fmt.Errorf("missing symbol")
	}
	if raw.PositionValue <= 0 {
		return models.WhaleEvent{}, fmt.Errorf("non-positive notional %.2f", raw.PositionValue)
	}
	if raw.PositionSize == 0 {
		return models.WhaleEvent{}, fmt.Errorf("zero position size")
	}
	if raw.CreateTime <= 0 {
		return models.WhaleEvent{}, fmt.Errorf("missing execution timestamp")
	}

	action, err := actionFor(raw.PositionAction, raw.PositionSize)
	if err != nil {
		return models.WhaleEvent{}, err
	}

	return models.WhaleEvent{
		Exchange:   "Hyperliquid",
		Address:    raw.User,
		Symbol:     sym,
		Action:     action,
		Size:       raw.PositionSize,
		Notional:   raw.PositionValue,
		EntryPrice: raw.EntryPrice,
		LiqPrice:   raw.LiqPrice,
		ExecutedAt: time.UnixMilli(raw.CreateTime).UTC(),
		URL:        "https://www.coinglass.com/hyperliquid/" + raw.User,
	}, nil
}

// actionFor resolves the feed's action code (1=open, 2=close) and signed size
// into the closed action enumeration.
func actionFor(code int, size float64) (models.Action, error) {
	long := size > 0
	switch code {
	case 1:
		if long {
			return models.ActionOpenLong, nil
		}
		return models.ActionOpenShort, nil
	case 2:
		if long {
			return models.ActionCloseLong, nil
		}
		return models.ActionCloseShort, nil
	default:
		return "", fmt.Errorf("unknown action code %d", code)
	}
}
