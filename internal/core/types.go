package core

import "time"

// Sector groups stocks for momentum and phase evaluation.
type Sector string

const (
	SectorTech       Sector = "tech"
	SectorFinance    Sector = "finance"
	SectorEnergy     Sector = "energy"
	SectorHealthcare Sector = "healthcare"
	SectorConsumer   Sector = "consumer"
	SectorIndustrial Sector = "industrial"
)

// Sectors returns all known sectors in a stable order.
func Sectors() []Sector {
	return []Sector{
		SectorTech,
		SectorFinance,
		SectorEnergy,
		SectorHealthcare,
		SectorConsumer,
		SectorIndustrial,
	}
}

// Phase represents a macroeconomic market phase, per sector or global.
type Phase string

const (
	PhaseProsperity    Phase = "prosperity"
	PhaseBoom          Phase = "boom"
	PhaseConsolidation Phase = "consolidation"
	PhasePanic         Phase = "panic"
	PhaseRecession     Phase = "recession"
	PhaseRecovery      Phase = "recovery"
)

// Side indicates the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind specifies how an order triggers.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// Actor identifies who originated a fill. Agent fills have a reduced
// market-maker inventory footprint.
type Actor string

const (
	ActorPlayer Actor = "player"
	ActorAgent  Actor = "agent"
)

// Candle is a single OHLC bar. The current price of a stock always equals
// the Close of its most recent candle.
type Candle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// Valid reports whether the candle satisfies the OHLC invariants:
// high >= max(open, close) and low <= min(open, close).
func (c Candle) Valid() bool {
	hi := c.Open
	if c.Close > hi {
		hi = c.Close
	}
	lo := c.Open
	if c.Close < lo {
		lo = c.Close
	}
	return c.High >= hi && c.Low <= lo && c.Low > 0
}

// Clamp widens High/Low as needed so the OHLC invariants hold.
func (c *Candle) Clamp() {
	if c.High < c.Open {
		c.High = c.Open
	}
	if c.High < c.Close {
		c.High = c.Close
	}
	if c.Low > c.Open {
		c.Low = c.Open
	}
	if c.Low > c.Close {
		c.Low = c.Close
	}
}
