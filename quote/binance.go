package quote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
)

// Binance quotes against the Binance spot ticker using the USDT pair.
type Binance struct {
	client *binance.Client
}

// NewBinance creates the provider with its own HTTP timeout; no credentials
// are needed for public ticker data.
func NewBinance(timeout time.Duration) *Binance {
	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Binance{client: client}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) Price(ctx context.Context, symbol string) (float64, error) {
	pair := strings.ToUpper(symbol) + "USDT"
	prices, err := b.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no ticker for %s", pair)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}
