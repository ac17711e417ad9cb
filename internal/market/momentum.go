package market

import (
	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
)

// Momentum tracks a per-sector momentum scalar recomputed each cycle from
// realized performance. Without sustained performance it decays toward
// neutral.
type Momentum struct {
	cfg    config.MomentumConfig
	values map[core.Sector]float64
}

// NewMomentum creates a neutral momentum model.
func NewMomentum(cfg config.MomentumConfig) *Momentum {
	return &Momentum{
		cfg:    cfg,
		values: make(map[core.Sector]float64),
	}
}

// Update folds the newest per-sector performance sample into momentum.
// Sectors absent from perf only decay.
func (mo *Momentum) Update(perf map[core.Sector]float64) {
	for _, sec := range core.Sectors() {
		v := mo.values[sec] * mo.cfg.Decay
		if p, ok := perf[sec]; ok {
			v += p * mo.cfg.Gain
		}
		mo.values[sec] = v
	}
}

// Value returns the raw momentum scalar for a sector.
func (mo *Momentum) Value(sec core.Sector) float64 {
	return mo.values[sec]
}

// Influence maps momentum into the bounded symmetric bias consumed by the
// price generator: clamp(momentum * scale, ±maxInfluence).
func (mo *Momentum) Influence(sec core.Sector) float64 {
	v := mo.values[sec] * mo.cfg.InfluenceScale
	if v > mo.cfg.MaxInfluence {
		return mo.cfg.MaxInfluence
	}
	if v < -mo.cfg.MaxInfluence {
		return -mo.cfg.MaxInfluence
	}
	return v
}

// Values returns a copy of the momentum map for snapshots.
func (mo *Momentum) Values() map[core.Sector]float64 {
	out := make(map[core.Sector]float64, len(mo.values))
	for k, v := range mo.values {
		out[k] = v
	}
	return out
}

// Restore replaces momentum state from snapshot data.
func (mo *Momentum) Restore(values map[core.Sector]float64) {
	mo.values = make(map[core.Sector]float64, len(values))
	for k, v := range values {
		mo.values[k] = v
	}
}
