package market

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
)

func momentumCfg() config.MomentumConfig {
	return config.MomentumConfig{
		Decay:          0.85,
		Gain:           0.5,
		InfluenceScale: 0.6,
		MaxInfluence:   0.015,
		Lookback:       5,
	}
}

func TestMomentum_UpdateAndDecay(t *testing.T) {
	mo := NewMomentum(momentumCfg())
	mo.Update(map[core.Sector]float64{core.SectorTech: 0.10})
	v := mo.Value(core.SectorTech)
	if v <= 0 {
		t.Fatalf("positive performance must yield positive momentum, got %v", v)
	}

	// No further input: momentum decays strictly toward neutral.
	prev := v
	for i := 0; i < 20; i++ {
		mo.Update(nil)
		cur := mo.Value(core.SectorTech)
		if math.Abs(cur) >= math.Abs(prev) {
			t.Fatalf("momentum did not decay at step %d: %v -> %v", i, prev, cur)
		}
		prev = cur
	}
	if math.Abs(prev) > 0.01 {
		t.Errorf("momentum should approach neutral, still %v", prev)
	}
}

func TestMomentum_InfluenceClamped(t *testing.T) {
	cfg := momentumCfg()
	mo := NewMomentum(cfg)

	// Hammer one sector with large performance.
	for i := 0; i < 50; i++ {
		mo.Update(map[core.Sector]float64{core.SectorEnergy: 1.0})
	}
	if got := mo.Influence(core.SectorEnergy); got != cfg.MaxInfluence {
		t.Errorf("influence = %v, want clamp %v", got, cfg.MaxInfluence)
	}

	for i := 0; i < 100; i++ {
		mo.Update(map[core.Sector]float64{core.SectorEnergy: -1.0})
	}
	if got := mo.Influence(core.SectorEnergy); got != -cfg.MaxInfluence {
		t.Errorf("influence = %v, want clamp %v", got, -cfg.MaxInfluence)
	}
}

// Influence stays inside the symmetric bound for any input sequence, and
// momentum always shrinks under zero input.
func TestMomentum_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := momentumCfg()
		mo := NewMomentum(cfg)

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			perf := map[core.Sector]float64{}
			for _, sec := range core.Sectors() {
				perf[sec] = rapid.Float64Range(-0.5, 0.5).Draw(t, "perf")
			}
			mo.Update(perf)
			for _, sec := range core.Sectors() {
				inf := mo.Influence(sec)
				if inf > cfg.MaxInfluence || inf < -cfg.MaxInfluence {
					t.Fatalf("influence %v out of bounds", inf)
				}
			}
		}

		// Idempotent-under-no-input decay.
		for _, sec := range core.Sectors() {
			before := math.Abs(mo.Value(sec))
			mo.Update(nil)
			after := math.Abs(mo.Value(sec))
			if before > 0 && after >= before {
				t.Fatalf("sector %s did not decay: %v -> %v", sec, before, after)
			}
		}
	})
}

func TestMomentum_Restore(t *testing.T) {
	mo := NewMomentum(momentumCfg())
	mo.Restore(map[core.Sector]float64{core.SectorTech: 0.5})
	if mo.Value(core.SectorTech) != 0.5 {
		t.Error("restore did not take")
	}
	vals := mo.Values()
	vals[core.SectorTech] = 99 // copies must not alias
	if mo.Value(core.SectorTech) != 0.5 {
		t.Error("Values() must return a copy")
	}
}
