package market

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/rng"
)

func genCfg() config.MarketConfig {
	return config.MarketConfig{
		BaseVolatility: 0.02,
		WickRange:      0.01,
		MinPrice:       0.01,
	}
}

func TestGenerator_CandleChainsFromPrice(t *testing.T) {
	g := NewGenerator(genCfg(), rng.New(1))
	s := &Stock{Symbol: "AAA", Price: 100}

	c := g.Next(s, 0, 1, 0, time.Now())
	if c.Open != 100 {
		t.Errorf("open = %v, want previous price 100", c.Open)
	}
	if !c.Valid() {
		t.Fatalf("generated candle violates OHLC invariants: %+v", c)
	}

	s.Append(c, 0)
	if s.Price != c.Close {
		t.Error("price must track latest close")
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	a := NewGenerator(genCfg(), rng.New(42))
	b := NewGenerator(genCfg(), rng.New(42))
	now := time.Now()
	sa := &Stock{Symbol: "AAA", Price: 100}
	sb := &Stock{Symbol: "AAA", Price: 100}

	for i := 0; i < 50; i++ {
		ca := a.Next(sa, 0.001, 1.2, 0, now)
		cb := b.Next(sb, 0.001, 1.2, 0, now)
		if ca != cb {
			t.Fatalf("same seed diverged at step %d: %+v vs %+v", i, ca, cb)
		}
		sa.Append(ca, 0)
		sb.Append(cb, 0)
	}
}

// Every emitted candle satisfies the OHLC invariants and respects the
// price floor, for any influence, volatility and impact inputs.
func TestGenerator_OHLCProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Int64Range(1, 1<<30).Draw(t, "seed")
		g := NewGenerator(genCfg(), rng.New(seed))
		s := &Stock{Symbol: "AAA", Price: rapid.Float64Range(0.02, 5000).Draw(t, "price")}

		steps := rapid.IntRange(1, 100).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			influence := rapid.Float64Range(-0.02, 0.02).Draw(t, "influence")
			vol := rapid.Float64Range(0.5, 2.5).Draw(t, "vol")
			impact := rapid.Float64Range(-0.01, 0.01).Draw(t, "impact")

			c := g.Next(s, influence, vol, impact, time.Now())
			if !c.Valid() {
				t.Fatalf("invalid candle at step %d: %+v", i, c)
			}
			if c.Close < 0.01 || c.Low < 0.01 {
				t.Fatalf("price floor violated: %+v", c)
			}
			s.Append(c, 50)
			if s.Price != c.Close {
				t.Fatal("current price must equal latest close")
			}
		}
	})
}
