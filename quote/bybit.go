package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
)

const bybitBaseURL = "https://api.bybit.com"

// Bybit quotes against the Bybit unified-trading spot ticker using the USDT
// pair.
type Bybit struct {
	client *bybit.Client
}

func NewBybit(timeout time.Duration) *Bybit {
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(bybitBaseURL))
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Bybit{client: client}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) Price(ctx context.Context, symbol string) (float64, error) {
	pair := strings.ToUpper(symbol) + "USDT"
	params := map[string]interface{}{
		"category": "spot",
		"symbol":   pair,
	}

	resp, err := b.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return 0, fmt.Errorf("marshal ticker result: %w", err)
	}

	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return 0, fmt.Errorf("decode ticker result: %w", err)
	}
	if len(result.List) == 0 || result.List[0].LastPrice == "" {
		return 0, fmt.Errorf("no ticker for %s", pair)
	}
	return strconv.ParseFloat(result.List[0].LastPrice, 64)
}
