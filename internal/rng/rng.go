// Package rng provides a seedable pseudo-random number generator for the
// simulation. All randomness in the engine flows through an injected *RNG so
// runs are reproducible and its state can travel inside snapshots.
package rng

import (
	"math"
	"time"
)

// RNG is a PCG-XSH-RR generator. It is not safe for concurrent use; the
// engine is single-threaded and owns exactly one instance.
type RNG struct {
	state uint64
	inc   uint64

	// spare gaussian value (Box-Muller)
	hasSpare bool
	spare    float64
}

// New creates a generator from seed. Seed 0 derives one from the clock.
func New(seed int64) *RNG {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := &RNG{}
	// PCG requires an odd increment.
	r.inc = uint64(seed)<<1 | 1
	r.step()
	r.state += uint64(seed)
	r.step()
	return r
}

func (r *RNG) step() {
	r.state = r.state*6364136223846793005 + r.inc
}

// Uint32 returns a uniformly distributed uint32.
func (r *RNG) Uint32() uint32 {
	old := r.state
	r.step()
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return (xorshifted >> rot) | (xorshifted << ((-rot) & 31))
}

// Float64 returns a uniformly distributed float64 in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.Uint32()) / (1 << 32)
}

// Intn returns a uniformly distributed int in [0, n).
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Uint32() % uint32(n))
}

// Int64Range returns a uniformly distributed int64 in [min, max].
func (r *RNG) Int64Range(min, max int64) int64 {
	if min >= max {
		return min
	}
	return min + int64(r.Uint32())%(max-min+1)
}

// FloatRange returns a uniformly distributed float64 in [min, max).
func (r *RNG) FloatRange(min, max float64) float64 {
	return min + r.Float64()*(max-min)
}

// Chance returns true with probability p.
func (r *RNG) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.Float64() < p
}

// Gaussian returns a standard normal variable using Box-Muller.
func (r *RNG) Gaussian() float64 {
	if r.hasSpare {
		r.hasSpare = false
		return r.spare
	}

	var u, v, s float64
	for {
		u = r.Float64()*2 - 1
		v = r.Float64()*2 - 1
		s = u*u + v*v
		if s > 0 && s < 1 {
			break
		}
	}
	s = math.Sqrt(-2 * math.Log(s) / s)

	r.spare = v * s
	r.hasSpare = true
	return u * s
}

// WeightedPick selects an index from weights proportionally. Non-positive
// weights are treated as zero; if all weights are zero it falls back to a
// uniform pick.
func (r *RNG) WeightedPick(weights []float64) int {
	if len(weights) == 0 {
		return 0
	}
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return r.Intn(len(weights))
	}
	target := r.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		if target < cumulative {
			return i
		}
	}
	return len(weights) - 1
}

// State returns the internal generator state for snapshots.
func (r *RNG) State() (state, inc uint64) {
	return r.state, r.inc
}

// Restore sets the generator state from snapshot values.
func (r *RNG) Restore(state, inc uint64) {
	r.state = state
	r.inc = inc | 1
	r.hasSpare = false
}
