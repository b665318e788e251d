// Package quote resolves live market prices through an ordered fallback chain
// of independent providers. Absence of a price is a normal outcome, not an
// error: callers defer work instead of failing.
package quote

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	appconfig "whalewatch/config"
	"whalewatch/logger"
)

// Source is a single quote provider. A non-positive price is treated
// identically to an error by the chain.
type Source interface {
	Name() string
	Price(ctx context.Context, symbol string) (float64, error)
}

// Chain tries each source in order, pausing for the configured cooldown
// between providers as rate-limit courtesy.
type Chain struct {
	sources  []Source
	cooldown time.Duration
	limiter  *rate.Limiter
	log      *logger.Log
}

// NewChain builds a chain over the given sources in priority order.
func NewChain(cfg *appconfig.Config, sources ...Source) *Chain {
	var limiter *rate.Limiter
	if rl := cfg.Quote.RateLimit; rl.RequestsPerSecond > 0 {
		burst := rl.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}

	return &Chain{
		sources:  sources,
		cooldown: cfg.Quote.Cooldown,
		limiter:  limiter,
		log:      logger.GetLogger(),
	}
}

// PriceNow resolves the current price for a symbol. The second return value is
// false when no provider produced a usable quote; that is an expected state.
func (c *Chain) PriceNow(ctx context.Context, symbol string) (float64, bool) {
	log := c.log.WithComponent("quote_chain").WithFields(logger.Fields{"symbol": symbol})

	for i, src := range c.sources {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return 0, false
			}
		}

		price, err := src.Price(ctx, symbol)
		if err == nil && price > 0 {
			return price, true
		}
		if err != nil {
			log.WithFields(logger.Fields{"provider": src.Name()}).WithError(err).Debug("quote provider failed")
		} else {
			log.WithFields(logger.Fields{"provider": src.Name(), "price": price}).Debug("quote provider returned unusable price")
		}

		if i < len(c.sources)-1 && c.cooldown > 0 {
			select {
			case <-ctx.Done():
				return 0, false
			case <-time.After(c.cooldown):
			}
		}
	}

	log.Debug("no usable quote from any provider")
	return 0, false
}
