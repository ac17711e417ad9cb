// Package agents drives the virtual players. Each agent has an archetype
// and a risk appetite, trades at most once per symbol per cycle against the
// market maker, and may lever up through loans. A warm-up window after game
// start biases agents toward symbols that have seen little activity so every
// chart gets organic history.
package agents

import (
	"fmt"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/credit"
	"github.com/newthinker/marketsim/internal/maker"
	"github.com/newthinker/marketsim/internal/market"
	"github.com/newthinker/marketsim/internal/portfolio"
	"github.com/newthinker/marketsim/internal/rng"
)

// Archetype fixes how an agent reads price action.
type Archetype int

const (
	// ArchetypeMomentum buys strength and sells weakness.
	ArchetypeMomentum Archetype = iota
	// ArchetypeContrarian fades moves in both directions.
	ArchetypeContrarian
	// ArchetypeNoise trades on coin flips, supplying baseline liquidity.
	ArchetypeNoise
)

var archetypeNames = map[Archetype]string{
	ArchetypeMomentum:   "momentum",
	ArchetypeContrarian: "contrarian",
	ArchetypeNoise:      "noise",
}

func (a Archetype) String() string { return archetypeNames[a] }

// Agent is one virtual player.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Archetype Archetype `json:"archetype"`
	// Risk in (0,1] scales trade probability, position sizing, and the
	// willingness to borrow.
	Risk      float64              `json:"risk"`
	Portfolio *portfolio.Portfolio `json:"portfolio"`
	Credit    *credit.Book         `json:"-"`
}

// Trade is one executed agent trade, reported for traded-set marking and
// metrics.
type Trade struct {
	AgentID  string
	Symbol   string
	Side     core.Side
	Quantity int64
	Price    float64
}

// Gate is the one-trade-per-symbol-per-cycle check, shared with player
// order settlement.
type Gate interface {
	Traded(owner, symbol string) bool
	MarkTraded(owner, symbol string)
}

// Pool owns every agent and their per-cycle decision loop.
type Pool struct {
	cfg    config.AgentsConfig
	credit config.CreditConfig
	agents []*Agent
	rng    *rng.RNG
	// warmupFills counts fills per symbol during the warm-up window.
	warmupFills map[string]int
}

// NewPool creates cfg.Count agents with archetypes and risk drawn from rnd.
func NewPool(cfg config.AgentsConfig, creditCfg config.CreditConfig, rnd *rng.RNG) *Pool {
	pool := &Pool{
		cfg:         cfg,
		credit:      creditCfg,
		rng:         rnd,
		warmupFills: make(map[string]int),
	}
	for i := 0; i < cfg.Count; i++ {
		arch := Archetype(rnd.Intn(3))
		agent := &Agent{
			ID:        fmt.Sprintf("agent-%d", i+1),
			Name:      fmt.Sprintf("%s-%d", arch, i+1),
			Archetype: arch,
			Risk:      rnd.FloatRange(0.2, 1.0),
			Portfolio: portfolio.New(cfg.StartingCash, cfg.TxBuffer),
			Credit:    credit.NewBook(creditCfg),
		}
		pool.agents = append(pool.agents, agent)
	}
	return pool
}

// Step runs every agent's decision for one cycle and returns the executed
// trades in agent order.
func (pool *Pool) Step(cycle int, mkt *market.Market, desk *maker.Desk, gate Gate) []Trade {
	var trades []Trade
	warmup := cycle < pool.cfg.WarmupCycles

	for _, agent := range pool.agents {
		pool.decideLoan(agent)

		chance := pool.cfg.TradeChance * (0.5 + agent.Risk/2)
		if warmup {
			chance = pool.cfg.TradeChance // full activity while charts fill in
		}
		if !pool.rng.Chance(chance) {
			continue
		}

		stock := pool.pickStock(cycle, mkt, agent)
		if stock == nil || gate.Traded(agent.ID, stock.Symbol) {
			continue
		}

		side := pool.pickSide(agent, stock)
		qty := pool.sizeTrade(agent, stock, side, desk)
		if qty <= 0 {
			continue
		}

		if side == core.SideBuy {
			if err := agent.Portfolio.Buy(stock.Symbol, qty, stock.Price, cycle); err != nil {
				continue
			}
		} else {
			if err := agent.Portfolio.Sell(stock.Symbol, qty, stock.Price, cycle); err != nil {
				continue
			}
		}
		desk.ApplyFill(stock.Symbol, side, qty, core.ActorAgent)
		gate.MarkTraded(agent.ID, stock.Symbol)
		if warmup {
			pool.warmupFills[stock.Symbol]++
		}
		trades = append(trades, Trade{
			AgentID: agent.ID, Symbol: stock.Symbol,
			Side: side, Quantity: qty, Price: stock.Price,
		})
	}

	if warmup && cycle == pool.cfg.WarmupCycles-1 {
		trades = append(trades, pool.forceWarmupTrades(cycle, mkt, desk, gate)...)
	}
	return trades
}

// pickStock selects the symbol to trade. In the final third of warm-up the
// pick is biased toward symbols that have seen fewer than the minimum
// number of warm-up trades.
func (pool *Pool) pickStock(cycle int, mkt *market.Market, agent *Agent) *market.Stock {
	stocks := mkt.Stocks()
	if len(stocks) == 0 {
		return nil
	}

	if cycle < pool.cfg.WarmupCycles && cycle >= pool.cfg.WarmupCycles*2/3 {
		var cold []*market.Stock
		for _, s := range stocks {
			if pool.warmupFills[s.Symbol] < pool.cfg.MinWarmupTrades {
				cold = append(cold, s)
			}
		}
		if len(cold) > 0 && pool.rng.Chance(0.75) {
			return cold[pool.rng.Intn(len(cold))]
		}
	}

	// Weight by recent movement so active names attract attention.
	weights := make([]float64, len(stocks))
	for i, s := range stocks {
		chg := s.LastChange()
		if chg < 0 {
			chg = -chg
		}
		weights[i] = 0.01 + chg
	}
	return stocks[pool.rng.WeightedPick(weights)]
}

// pickSide maps the archetype onto the stock's recent direction.
func (pool *Pool) pickSide(agent *Agent, stock *market.Stock) core.Side {
	rising := stock.LastChange() >= 0

	switch agent.Archetype {
	case ArchetypeMomentum:
		if rising {
			return core.SideBuy
		}
		return core.SideSell
	case ArchetypeContrarian:
		if rising {
			return core.SideSell
		}
		return core.SideBuy
	default:
		if pool.rng.Chance(0.5) {
			return core.SideBuy
		}
		return core.SideSell
	}
}

// sizeTrade caps the quantity by cash or holdings, the per-position value
// fraction, and maker inventory for buys.
func (pool *Pool) sizeTrade(agent *Agent, stock *market.Stock, side core.Side, desk *maker.Desk) int64 {
	p := agent.Portfolio

	if side == core.SideSell {
		held := p.AvailableShares(stock.Symbol)
		if held <= 0 {
			return 0
		}
		qty := int64(float64(held) * pool.rng.FloatRange(0.2, 1.0))
		if qty < 1 {
			qty = 1
		}
		return qty
	}

	budget := p.Value(func(sym string) (float64, bool) {
		return stock.Price, sym == stock.Symbol
	}) * pool.cfg.MaxPositionFraction * agent.Risk
	if budget > p.AvailableCash() {
		budget = p.AvailableCash()
	}
	qty := int64(budget / stock.Price)
	if qty < 1 {
		return 0
	}
	if !desk.CanFill(stock.Symbol, core.SideBuy, qty) {
		inv, ok := desk.Get(stock.Symbol)
		if !ok || inv.Shares < 1 {
			return 0
		}
		qty = inv.Shares
	}
	return qty
}

// decideLoan is the per-cycle credit decision: pay debt down when cash is
// comfortable, borrow when nearly out and the risk appetite allows. Loan
// sizing follows the standard credit rules.
func (pool *Pool) decideLoan(agent *Agent) {
	p := agent.Portfolio

	if agent.Credit.Len() > 0 && p.AvailableCash() > p.InitialCash*0.5 {
		// Pay the oldest loan down with the surplus above a working-cash
		// floor; interest stops compounding on what is repaid.
		surplus := p.AvailableCash() - p.InitialCash*0.3
		loan := agent.Credit.All()[0]
		if surplus > loan.Balance {
			surplus = loan.Balance
		}
		_ = agent.Credit.Repay(p, loan.ID, surplus)
		return
	}

	if p.AvailableCash() > p.InitialCash*0.1 {
		return
	}
	if agent.Credit.Len() >= pool.credit.MaxLoans {
		return
	}
	if !pool.rng.Chance(agent.Risk * 0.3) {
		return
	}
	amount := p.InitialCash * 0.5
	if amount > pool.credit.MaxAmount {
		amount = pool.credit.MaxAmount
	}
	_, _ = agent.Credit.Request(p, amount)
}

// forceWarmupTrades injects one buy into every symbol still under the
// warm-up minimum, so no chart leaves warm-up untouched.
func (pool *Pool) forceWarmupTrades(cycle int, mkt *market.Market, desk *maker.Desk, gate Gate) []Trade {
	var trades []Trade

	for _, stock := range mkt.Stocks() {
		if pool.warmupFills[stock.Symbol] >= pool.cfg.MinWarmupTrades {
			continue
		}
		for _, agent := range pool.agents {
			if gate.Traded(agent.ID, stock.Symbol) {
				continue
			}
			qty := int64(agent.Portfolio.AvailableCash() * 0.05 / stock.Price)
			if qty < 1 || !desk.CanFill(stock.Symbol, core.SideBuy, qty) {
				continue
			}
			if err := agent.Portfolio.Buy(stock.Symbol, qty, stock.Price, cycle); err != nil {
				continue
			}
			desk.ApplyFill(stock.Symbol, core.SideBuy, qty, core.ActorAgent)
			gate.MarkTraded(agent.ID, stock.Symbol)
			pool.warmupFills[stock.Symbol]++
			trades = append(trades, Trade{
				AgentID: agent.ID, Symbol: stock.Symbol,
				Side: core.SideBuy, Quantity: qty, Price: stock.Price,
			})
			break
		}
	}
	return trades
}

// RunCreditCycle accrues interest and processes maturities for every agent.
// Agent loan events are absorbed silently; agents read their own mail.
func (pool *Pool) RunCreditCycle() {
	for _, agent := range pool.agents {
		agent.Credit.AccrueInterest(agent.Portfolio)
		agent.Credit.ProcessMaturities(agent.Portfolio)
	}
}

// Agents returns the pool in stable order.
func (pool *Pool) Agents() []*Agent {
	return pool.agents
}

// Get returns an agent by id.
func (pool *Pool) Get(id string) (*Agent, bool) {
	for _, agent := range pool.agents {
		if agent.ID == id {
			return agent, true
		}
	}
	return nil, false
}

// ApplySplit rescales every agent's holdings for a stock split.
func (pool *Pool) ApplySplit(symbol string, factor int64) {
	for _, agent := range pool.agents {
		agent.Portfolio.ApplySplit(symbol, factor)
	}
}

// Snapshot captures pool state for persistence.
type Snapshot struct {
	Agents      []AgentSnapshot `json:"agents"`
	WarmupFills map[string]int  `json:"warmup_fills"`
}

// AgentSnapshot captures one agent.
type AgentSnapshot struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Archetype Archetype            `json:"archetype"`
	Risk      float64              `json:"risk"`
	Portfolio *portfolio.Portfolio `json:"portfolio"`
	Credit    credit.Snapshot      `json:"credit"`
}

// Snapshot returns the pool's persistable state.
func (pool *Pool) Snapshot() Snapshot {
	snap := Snapshot{WarmupFills: pool.warmupFills}
	for _, agent := range pool.agents {
		snap.Agents = append(snap.Agents, AgentSnapshot{
			ID:        agent.ID,
			Name:      agent.Name,
			Archetype: agent.Archetype,
			Risk:      agent.Risk,
			Portfolio: agent.Portfolio,
			Credit:    agent.Credit.Snapshot(),
		})
	}
	return snap
}

// Restore replaces the pool wholesale from snapshot data.
func (pool *Pool) Restore(snap Snapshot) {
	pool.agents = nil
	for _, as := range snap.Agents {
		book := credit.NewBook(pool.credit)
		book.Restore(as.Credit)
		as.Portfolio.SetTxCap(pool.cfg.TxBuffer)
		pool.agents = append(pool.agents, &Agent{
			ID:        as.ID,
			Name:      as.Name,
			Archetype: as.Archetype,
			Risk:      as.Risk,
			Portfolio: as.Portfolio,
			Credit:    book,
		})
	}
	pool.warmupFills = snap.WarmupFills
	if pool.warmupFills == nil {
		pool.warmupFills = make(map[string]int)
	}
}
