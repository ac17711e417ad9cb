package engine

import (
	"encoding/json"

	"github.com/newthinker/marketsim/internal/agents"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/credit"
	"github.com/newthinker/marketsim/internal/maker"
	"github.com/newthinker/marketsim/internal/market"
	"github.com/newthinker/marketsim/internal/notify"
	"github.com/newthinker/marketsim/internal/orders"
	"github.com/newthinker/marketsim/internal/phase"
	"github.com/newthinker/marketsim/internal/portfolio"
	"github.com/newthinker/marketsim/internal/short"
)

// snapshotVersion guards the wire format. Unknown versions are rejected;
// missing sections within a known version are defaulted.
const snapshotVersion = 1

// Snapshot is the engine's complete persistable state. It doubles as the
// read model served to API and stream consumers.
type Snapshot struct {
	Version int  `json:"version"`
	Cycle   int  `json:"cycle"`
	Started bool `json:"started"`
	Ended   bool `json:"ended"`

	RNGState uint64 `json:"rng_state"`
	RNGInc   uint64 `json:"rng_inc"`

	Stocks     []*market.Stock         `json:"stocks"`
	Momentum   map[core.Sector]float64 `json:"momentum"`
	Phase      *phase.State            `json:"phase"`
	Maker      []*maker.Inventory      `json:"maker"`
	Orders     []*orders.Order         `json:"orders"`
	TradedPrev map[string]bool         `json:"traded_prev,omitempty"`

	Player       *portfolio.Portfolio `json:"player"`
	PlayerCredit credit.Snapshot      `json:"player_credit"`
	PlayerShorts []*short.Position    `json:"player_shorts"`

	Agents agents.Snapshot `json:"agents"`

	Notifications []notify.Notification `json:"notifications"`
	Standings     []Standing            `json:"standings"`
}

// Snapshot captures the world under the lock. The returned value shares no
// mutable aliases the engine will touch: callers may marshal it freely.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// MarshalSnapshot serializes the current world to JSON.
func (e *Engine) MarshalSnapshot() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return json.Marshal(e.snapshotLocked())
}

func (e *Engine) snapshotLocked() Snapshot {
	state, inc := e.rng.State()
	snap := Snapshot{
		Version:       snapshotVersion,
		Cycle:         e.cycle,
		Started:       e.started,
		Ended:         e.ended,
		RNGState:      state,
		RNGInc:        inc,
		Momentum:      e.momentum.Values(),
		Maker:         e.desk.All(),
		Orders:        e.book.All(),
		TradedPrev:    e.tradedPrev,
		Player:        e.player,
		PlayerCredit:  e.playerCredit.Snapshot(),
		PlayerShorts:  e.playerShorts.All(),
		Agents:        e.pool.Snapshot(),
		Notifications: e.feed.All(),
		Standings:     e.standings(),
	}
	snap.Stocks = e.mkt.Stocks()
	snap.Phase = e.phases

	// Deep-copy via JSON so the caller's view cannot race later ticks.
	raw, err := json.Marshal(snap)
	if err != nil {
		return snap
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return snap
	}
	return out
}

// RestoreSnapshot replaces the world from serialized snapshot data.
// Missing sections fall back to a fresh default so older or partial
// snapshots load cleanly.
func (e *Engine) RestoreSnapshot(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return core.WrapError(core.ErrBadSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return core.ErrBadSnapshot
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cycle = snap.Cycle
	e.started = snap.Started
	e.ended = snap.Ended

	if snap.RNGState != 0 || snap.RNGInc != 0 {
		e.rng.Restore(snap.RNGState, snap.RNGInc)
	}

	if len(snap.Stocks) > 0 {
		e.mkt.Restore(snap.Stocks)
	}
	if snap.Momentum != nil {
		e.momentum.Restore(snap.Momentum)
	}
	if snap.Phase != nil {
		e.phases = snap.Phase
		if e.phases.Sectors == nil {
			e.phases = phase.NewState()
		}
		if e.phases.CyclesInPhase == nil {
			e.phases.CyclesInPhase = make(map[core.Sector]int)
		}
		if e.phases.Overheat == nil {
			e.phases.Overheat = make(map[core.Sector]int)
		}
	} else {
		e.phases = phase.NewState()
	}
	if len(snap.Maker) > 0 {
		e.desk.Restore(snap.Maker)
	}
	e.book.Restore(snap.Orders)

	if snap.Player != nil {
		e.player = snap.Player
		e.player.SetTxCap(playerTxCap)
	} else {
		e.player = portfolio.New(e.cfg.Game.StartingCash, playerTxCap)
	}
	e.playerCredit.Restore(snap.PlayerCredit)
	e.playerShorts.Restore(snap.PlayerShorts)

	if len(snap.Agents.Agents) > 0 {
		e.pool.Restore(snap.Agents)
	}
	e.feed.Restore(snap.Notifications)

	e.tradedNow = tradedSet{}
	e.tradedPrev = snap.TradedPrev
	if e.tradedPrev == nil {
		e.tradedPrev = map[string]bool{}
	}
	return nil
}
