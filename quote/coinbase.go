package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const coinbaseBaseURL = "https://api.exchange.coinbase.com"

// Coinbase quotes against the Coinbase Exchange product ticker using the USD
// pair. It is the fallback when Binance has no usable quote.
type Coinbase struct {
	baseURL    string
	httpClient *http.Client
}

func NewCoinbase(timeout time.Duration) *Coinbase {
	return &Coinbase{
		baseURL:    coinbaseBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Coinbase) Name() string { return "coinbase" }

func (c *Coinbase) Price(ctx context.Context, symbol string) (float64, error) {
	url := fmt.Sprintf("%s/products/%s-USD/ticker", c.baseURL, strings.ToUpper(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coinbase ticker status %d", resp.StatusCode)
	}

	var ticker struct {
		Price string `json:"price"`
		Last  string `json:"last"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}

	raw := ticker.Price
	if raw == "" {
		raw = ticker.Last
	}
	if raw == "" {
		return 0, fmt.Errorf("empty ticker for %s", symbol)
	}
	return strconv.ParseFloat(raw, 64)
}
