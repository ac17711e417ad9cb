// Package phase advances the per-sector and global macroeconomic phases,
// overheat counters, probabilistic crash triggers, and the Fear/Greed index.
package phase

import (
	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/rng"
)

// State is the mutable phase state owned by the orchestrator.
type State struct {
	Global core.Phase `json:"global"`
	// Sectors holds the per-sector phase; the global phase is always an
	// aggregate of these, never transitioned on its own.
	Sectors       map[core.Sector]core.Phase `json:"sectors"`
	CyclesInPhase map[core.Sector]int        `json:"cycles_in_phase"`
	Overheat      map[core.Sector]int        `json:"overheat"`
	// FearGreed is bounded to [0,100].
	FearGreed int `json:"fear_greed"`
}

// NewState starts every sector in prosperity.
func NewState() *State {
	st := &State{
		Global:        core.PhaseProsperity,
		Sectors:       make(map[core.Sector]core.Phase),
		CyclesInPhase: make(map[core.Sector]int),
		Overheat:      make(map[core.Sector]int),
		FearGreed:     50,
	}
	for _, sec := range core.Sectors() {
		st.Sectors[sec] = core.PhaseProsperity
	}
	return st
}

// Metrics carries the aggregate market inputs for one phase evaluation.
type Metrics struct {
	Momentum  map[core.Sector]float64
	Advancers int
	Decliners int
}

// Event records one sector transition.
type Event struct {
	Sector core.Sector
	From   core.Phase
	To     core.Phase
	// Crash marks a forced transition to panic via the crash trigger.
	Crash bool
}

// Machine evaluates phase transitions against configured thresholds.
type Machine struct {
	cfg config.PhaseConfig
	rng *rng.RNG
}

// NewMachine creates a phase machine using the injected RNG for crash rolls.
func NewMachine(cfg config.PhaseConfig, r *rng.RNG) *Machine {
	return &Machine{cfg: cfg, rng: r}
}

// Step advances overheat counters, evaluates crash triggers and phase
// transitions per sector, then recomputes the global phase as an aggregate
// and the Fear/Greed index. It returns the sector transitions that fired.
func (ma *Machine) Step(st *State, m Metrics) []Event {
	var events []Event

	for _, sec := range core.Sectors() {
		mom := m.Momentum[sec]
		cur := st.Sectors[sec]
		st.CyclesInPhase[sec]++

		// Overheat persists while momentum exceeds the threshold and
		// resets to zero the moment it does not.
		if mom >= ma.cfg.OverheatThreshold {
			st.Overheat[sec]++
		} else {
			st.Overheat[sec] = 0
		}

		// Crash trigger: probability grows with overheat duration and may
		// force the sector straight to panic, bypassing the normal rule.
		if st.Overheat[sec] > 0 && cur != core.PhasePanic {
			p := ma.cfg.CrashBaseChance + ma.cfg.CrashChanceGrowth*float64(st.Overheat[sec]-1)
			if ma.rng.Chance(p) {
				events = append(events, Event{Sector: sec, From: cur, To: core.PhasePanic, Crash: true})
				st.Sectors[sec] = core.PhasePanic
				st.CyclesInPhase[sec] = 0
				st.Overheat[sec] = 0
				continue
			}
		}

		if st.CyclesInPhase[sec] < ma.cfg.MinCycles {
			continue
		}
		next := ma.next(cur, mom)
		if next != cur {
			events = append(events, Event{Sector: sec, From: cur, To: next})
			st.Sectors[sec] = next
			st.CyclesInPhase[sec] = 0
		}
	}

	st.Global = Aggregate(st.Sectors)
	st.FearGreed = fearGreed(st.Global, m)
	return events
}

// next applies the normal transition table for one sector.
func (ma *Machine) next(cur core.Phase, mom float64) core.Phase {
	up := mom >= ma.cfg.UpThreshold
	down := mom <= ma.cfg.DownThreshold

	switch cur {
	case core.PhaseProsperity:
		if up {
			return core.PhaseBoom
		}
		if down {
			return core.PhaseConsolidation
		}
	case core.PhaseBoom:
		if down {
			return core.PhaseConsolidation
		}
	case core.PhaseConsolidation:
		if up {
			return core.PhaseProsperity
		}
		if down {
			return core.PhaseRecession
		}
	case core.PhasePanic:
		// Panic always cools into recession once the minimum stay elapses.
		return core.PhaseRecession
	case core.PhaseRecession:
		if up {
			return core.PhaseRecovery
		}
	case core.PhaseRecovery:
		if up {
			return core.PhaseProsperity
		}
		if down {
			return core.PhaseRecession
		}
	}
	return cur
}

// severityOrder breaks ties when aggregating sector phases: the more
// stressed phase wins.
var severityOrder = []core.Phase{
	core.PhasePanic,
	core.PhaseRecession,
	core.PhaseRecovery,
	core.PhaseConsolidation,
	core.PhaseBoom,
	core.PhaseProsperity,
}

// Aggregate derives the global phase from sector phases: the most common
// sector phase, ties resolved toward the more stressed one.
func Aggregate(sectors map[core.Sector]core.Phase) core.Phase {
	counts := make(map[core.Phase]int, len(sectors))
	for _, p := range sectors {
		counts[p]++
	}
	best := core.PhaseProsperity
	bestCount := -1
	for _, p := range severityOrder {
		if c := counts[p]; c > bestCount {
			best = p
			bestCount = c
		}
	}
	return best
}

// phaseScore is the Fear/Greed baseline per global phase.
var phaseScore = map[core.Phase]float64{
	core.PhaseProsperity:    70,
	core.PhaseBoom:          85,
	core.PhaseConsolidation: 50,
	core.PhasePanic:         10,
	core.PhaseRecession:     25,
	core.PhaseRecovery:      55,
}

// fearGreed combines the global phase classification with breadth and
// momentum into a [0,100] score.
func fearGreed(global core.Phase, m Metrics) int {
	score := phaseScore[global]

	if total := m.Advancers + m.Decliners; total > 0 {
		score += 15 * float64(m.Advancers-m.Decliners) / float64(total)
	}

	var avgMom float64
	if len(m.Momentum) > 0 {
		for _, v := range m.Momentum {
			avgMom += v
		}
		avgMom /= float64(len(m.Momentum))
	}
	score += avgMom * 400

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// Volatility returns the configured price volatility multiplier for a
// phase, defaulting to 1.
func Volatility(cfg config.PhaseConfig, p core.Phase) float64 {
	if v, ok := cfg.Volatility[p]; ok {
		return v
	}
	return 1
}
