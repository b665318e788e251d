package quote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	spotmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/spot/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"
)

const kucoinBaseURL = "https://api.kucoin.com"

// Kucoin quotes against the KuCoin spot level-1 ticker using the USDT pair.
type Kucoin struct {
	marketAPI spotmarket.MarketAPI
}

func NewKucoin(timeout time.Duration) *Kucoin {
	transportOpt := sdktype.NewTransportOptionBuilder().
		SetTimeout(timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithSpotEndpoint(kucoinBaseURL).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)
	return &Kucoin{marketAPI: client.RestService().GetSpotService().GetMarketAPI()}
}

func (k *Kucoin) Name() string { return "kucoin" }

func (k *Kucoin) Price(ctx context.Context, symbol string) (float64, error) {
	pair := strings.ToUpper(symbol) + "-USDT"

	req := spotmarket.NewGetTickerReqBuilder().SetSymbol(pair).Build()
	resp, err := k.marketAPI.GetTicker(req, ctx)
	if err != nil {
		return 0, err
	}
	if resp == nil || resp.Price == "" {
		return 0, fmt.Errorf("no ticker for %s", pair)
	}
	return strconv.ParseFloat(resp.Price, 64)
}
