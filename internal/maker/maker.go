// Package maker models the market maker: the counterparty of last resort.
// It tracks per-symbol liquidity inventory and derives a spread multiplier
// from how far inventory has drifted from base.
package maker

import (
	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
)

// Inventory is the per-symbol market-maker book. Inventory never goes
// negative: buys are gated on coverage.
type Inventory struct {
	Symbol string `json:"symbol"`
	// Shares currently held by the maker.
	Shares int64 `json:"shares"`
	// Base is the rebalance target.
	Base int64 `json:"base"`
	// Spread is the derived multiplier, recomputed after every change.
	Spread float64 `json:"spread"`
}

// Desk holds the maker inventory for every symbol.
type Desk struct {
	cfg  config.MakerConfig
	book map[string]*Inventory
}

// NewDesk seeds an inventory at base level for each symbol.
func NewDesk(cfg config.MakerConfig, symbols []string) *Desk {
	d := &Desk{
		cfg:  cfg,
		book: make(map[string]*Inventory, len(symbols)),
	}
	for _, sym := range symbols {
		inv := &Inventory{Symbol: sym, Shares: cfg.BaseInventory, Base: cfg.BaseInventory}
		inv.Spread = d.spread(inv)
		d.book[sym] = inv
	}
	return d
}

// Get returns the inventory for a symbol.
func (d *Desk) Get(symbol string) (*Inventory, bool) {
	inv, ok := d.book[symbol]
	return inv, ok
}

// Spread returns the current spread multiplier for a symbol, 1 for
// unknown symbols.
func (d *Desk) Spread(symbol string) float64 {
	if inv, ok := d.book[symbol]; ok {
		return inv.Spread
	}
	return 1
}

// CanFill reports whether the maker can take the other side of an order.
// A buy needs inventory covering the requested quantity; sells are always
// acceptable, the widened spread being the only penalty for oversupply.
func (d *Desk) CanFill(symbol string, side core.Side, qty int64) bool {
	inv, ok := d.book[symbol]
	if !ok || qty <= 0 {
		return false
	}
	if side == core.SideBuy {
		return inv.Shares >= qty
	}
	return true
}

// ApplyFill adjusts inventory for an executed trade. A buy fill decreases
// inventory, a sell fill increases it. Agent-originated fills carry half
// the inventory effect of player fills, rounded down.
func (d *Desk) ApplyFill(symbol string, side core.Side, qty int64, actor core.Actor) {
	inv, ok := d.book[symbol]
	if !ok || qty <= 0 {
		return
	}
	effect := qty
	if actor == core.ActorAgent {
		effect = qty / 2
	}
	if side == core.SideBuy {
		inv.Shares -= effect
		if inv.Shares < 0 {
			inv.Shares = 0
		}
	} else {
		inv.Shares += effect
	}
	inv.Spread = d.spread(inv)
}

// Rebalance nudges every inventory a configured fraction of the way back
// toward base and recomputes spreads.
func (d *Desk) Rebalance() {
	for _, inv := range d.book {
		delta := float64(inv.Base-inv.Shares) * d.cfg.RebalanceFraction
		inv.Shares += int64(delta)
		if inv.Shares < 0 {
			inv.Shares = 0
		}
		inv.Spread = d.spread(inv)
	}
}

// ApplySplit scales a symbol's inventory and base by the split factor so
// the share-denominated book stays consistent.
func (d *Desk) ApplySplit(symbol string, factor int64) {
	inv, ok := d.book[symbol]
	if !ok || factor < 2 {
		return
	}
	inv.Shares *= factor
	inv.Base *= factor
	inv.Spread = d.spread(inv)
}

// spread maps the inventory-to-base ratio onto the multiplier curve:
// clamped to MaxSpread at/below LowRatio, clamped to MinSpread at/above
// HighRatio, and linearly interpolated through 1.0 at base in between.
func (d *Desk) spread(inv *Inventory) float64 {
	if inv.Base <= 0 {
		return 1
	}
	ratio := float64(inv.Shares) / float64(inv.Base)
	cfg := d.cfg

	switch {
	case ratio <= cfg.LowRatio:
		return cfg.MaxSpread
	case ratio >= cfg.HighRatio:
		return cfg.MinSpread
	case ratio < 1:
		// Interpolate between (LowRatio, MaxSpread) and (1, 1).
		t := (ratio - cfg.LowRatio) / (1 - cfg.LowRatio)
		return cfg.MaxSpread + t*(1-cfg.MaxSpread)
	case ratio > 1:
		// Interpolate between (1, 1) and (HighRatio, MinSpread).
		t := (ratio - 1) / (cfg.HighRatio - 1)
		return 1 + t*(cfg.MinSpread-1)
	default:
		return 1
	}
}

// All returns the inventories in no particular order, for snapshots.
func (d *Desk) All() []*Inventory {
	out := make([]*Inventory, 0, len(d.book))
	for _, inv := range d.book {
		out = append(out, inv)
	}
	return out
}

// Restore replaces the book wholesale from snapshot data. Spreads are
// recomputed rather than trusted.
func (d *Desk) Restore(items []*Inventory) {
	d.book = make(map[string]*Inventory, len(items))
	for _, inv := range items {
		inv.Spread = d.spread(inv)
		d.book[inv.Symbol] = inv
	}
}
