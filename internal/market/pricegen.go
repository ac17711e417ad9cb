package market

import (
	"math"
	"time"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/rng"
)

// Generator synthesizes the next candle per symbol from a base random
// walk, sector influence, a phase-keyed volatility multiplier, and the
// price impact implied by market-maker spread for symbols traded this
// cycle.
type Generator struct {
	cfg config.MarketConfig
	rng *rng.RNG
}

// NewGenerator creates a price generator using the injected RNG.
func NewGenerator(cfg config.MarketConfig, r *rng.RNG) *Generator {
	return &Generator{cfg: cfg, rng: r}
}

// Next emits the next candle for a stock. influence is the bounded sector
// bias, volMult the phase volatility multiplier, and spreadImpact the
// signed impact from market-maker spread (0 for untouched symbols).
func (g *Generator) Next(s *Stock, influence, volMult, spreadImpact float64, now time.Time) core.Candle {
	open := s.Price
	logReturn := g.rng.Gaussian()*g.cfg.BaseVolatility*volMult + influence + spreadImpact
	close := open * math.Exp(logReturn)
	if close < g.cfg.MinPrice {
		close = g.cfg.MinPrice
	}

	body := open
	if close > body {
		body = close
	}
	high := body * (1 + g.rng.Float64()*g.cfg.WickRange)

	body = open
	if close < body {
		body = close
	}
	low := body * (1 - g.rng.Float64()*g.cfg.WickRange)
	if low < g.cfg.MinPrice {
		low = g.cfg.MinPrice
	}

	c := core.Candle{Time: now, Open: open, High: high, Low: low, Close: close}
	c.Clamp()
	return c
}
