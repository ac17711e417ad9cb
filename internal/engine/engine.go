// Package engine owns the simulation world and advances it one atomic
// cycle at a time. All state mutation happens under one lock, either inside
// Tick or inside a command; readers get consistent snapshots.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/marketsim/internal/agents"
	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/credit"
	"github.com/newthinker/marketsim/internal/maker"
	"github.com/newthinker/marketsim/internal/market"
	"github.com/newthinker/marketsim/internal/metrics"
	"github.com/newthinker/marketsim/internal/notify"
	"github.com/newthinker/marketsim/internal/orders"
	"github.com/newthinker/marketsim/internal/phase"
	"github.com/newthinker/marketsim/internal/portfolio"
	"github.com/newthinker/marketsim/internal/rng"
	"github.com/newthinker/marketsim/internal/short"
)

// PlayerID is the order/account owner id of the human player.
const PlayerID = "player"

const (
	feedCapacity = 100
	playerTxCap  = 200
	// notification lifetimes in cycles; 0 = until dismissed
	ttlShort = 8
	ttlLong  = 20
)

// Engine is the simulation world plus its orchestrator.
type Engine struct {
	mu  sync.Mutex
	cfg *config.Config
	log *zap.Logger
	met *metrics.Registry

	rng      *rng.RNG
	mkt      *market.Market
	momentum *market.Momentum
	gen      *market.Generator
	machine  *phase.Machine
	phases   *phase.State
	desk     *maker.Desk
	pool     *agents.Pool
	book     *orders.Book

	player       *portfolio.Portfolio
	playerCredit *credit.Book
	playerShorts *short.Book

	feed *notify.Feed

	cycle   int
	started bool
	ended   bool
	warming bool
	// tradedNow enforces the per-cycle trade cap; tradedPrev carries the
	// previous cycle's traded symbols into the next candle generation for
	// spread price impact.
	tradedNow  tradedSet
	tradedPrev map[string]bool
}

// tradedSet tracks (owner, symbol) trades within one cycle.
type tradedSet map[string]struct{}

func (t tradedSet) Traded(owner, symbol string) bool {
	_, ok := t[owner+"/"+symbol]
	return ok
}

func (t tradedSet) MarkTraded(owner, symbol string) {
	t[owner+"/"+symbol] = struct{}{}
}

// symbols collapses the set to the symbols that saw any trade.
func (t tradedSet) symbols() map[string]bool {
	out := make(map[string]bool)
	for key := range t {
		for i := len(key) - 1; i >= 0; i-- {
			if key[i] == '/' {
				out[key[i+1:]] = true
				break
			}
		}
	}
	return out
}

// accounts adapts the engine to the order book's owner resolution.
type accounts struct{ e *Engine }

func (a accounts) Portfolio(owner string) *portfolio.Portfolio {
	if owner == PlayerID {
		return a.e.player
	}
	if agent, ok := a.e.pool.Get(owner); ok {
		return agent.Portfolio
	}
	return nil
}

// New builds a stopped engine from configuration. met may be nil.
func New(cfg *config.Config, log *zap.Logger, met *metrics.Registry) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := rng.New(cfg.Game.Seed)

	e := &Engine{
		cfg:          cfg,
		log:          log,
		met:          met,
		rng:          r,
		mkt:          market.New(cfg.Market.Stocks),
		momentum:     market.NewMomentum(cfg.Momentum),
		machine:      phase.NewMachine(cfg.Phase, r),
		phases:       phase.NewState(),
		book:         orders.NewBook(cfg.Orders),
		player:       portfolio.New(cfg.Game.StartingCash, playerTxCap),
		playerCredit: credit.NewBook(cfg.Credit),
		playerShorts: short.NewBook(cfg.Short),
		feed:         notify.NewFeed(feedCapacity),
		tradedNow:    tradedSet{},
		tradedPrev:   map[string]bool{},
	}
	e.gen = market.NewGenerator(cfg.Market, r)
	e.desk = maker.NewDesk(cfg.Maker, e.mkt.Symbols())
	e.pool = agents.NewPool(cfg.Agents, cfg.Credit, r)
	return e
}

// Start runs the warm-up cycles synchronously and opens the game. Warm-up
// fills charts and seeds agent positions; its splits and events stay silent.
func (e *Engine) Start(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.warming = true
	for i := 0; i < e.cfg.Agents.WarmupCycles; i++ {
		e.tick(now)
	}
	e.warming = false
	e.log.Info("game started",
		zap.Int("warmup_cycles", e.cfg.Agents.WarmupCycles),
		zap.Int("stocks", len(e.mkt.Stocks())),
		zap.Int("agents", len(e.pool.Agents())))
}

// Tick advances the world one cycle. It is a no-op before Start and after
// the game ends; ticks never fail.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick(now)
}

func (e *Engine) tick(now time.Time) {
	if !e.started || e.ended {
		return
	}
	begin := time.Now()

	// 1. Momentum folds in realized sector performance.
	e.momentum.Update(e.mkt.SectorPerformance(e.cfg.Momentum.Lookback))

	// 2. Market metrics, measured before new candles so the phase step at
	// the end of the cycle sees the state the candles were generated from.
	adv, dec := e.mkt.Breadth()
	met := phase.Metrics{Momentum: e.momentum.Values(), Advancers: adv, Decliners: dec}

	// 3+4. Per-symbol volatility and the new candle. Symbols traded last
	// cycle feel the market-maker spread as a price impact.
	for _, s := range e.mkt.Stocks() {
		volMult := phase.Volatility(e.cfg.Phase, e.phases.Sectors[s.Sector])
		impact := 0.0
		if e.tradedPrev[s.Symbol] {
			impact = (e.desk.Spread(s.Symbol) - 1) * e.cfg.Market.SpreadImpact
		}
		c := e.gen.Next(s, e.momentum.Influence(s.Sector), volMult, impact, now)
		s.Append(c, e.cfg.Market.MaxHistory)
	}

	// 5. Stock splits propagate to every share-denominated book.
	e.applySplits()

	// 6. Agents trade.
	for _, tr := range e.pool.Step(e.cycle, e.mkt, e.desk, e.tradedNow) {
		e.recordTrade(core.ActorAgent, tr.Side)
	}

	// 7. Pending-order settlement at post-update prices.
	e.settleOrders()

	// 8. Maker inventory drifts back toward base.
	e.desk.Rebalance()

	// 9. Order aging and expiry.
	for _, o := range e.book.AgeAndExpire(e.cycle, accounts{e}) {
		e.recordOrder("expired")
		if o.Owner == PlayerID && !e.warming {
			e.feed.Add(notify.New(notify.KindWarning, "Order expired",
				fmt.Sprintf("%s %s %d %s expired unfilled", o.Kind, o.Side, o.Quantity, o.Symbol),
				ttlLong, o.ID), e.cycle)
		}
	}

	// 10. Loan interest.
	for _, ev := range e.playerCredit.AccrueInterest(e.player) {
		if !e.warming {
			e.feed.Add(notify.New(notify.KindInfo, "Interest charged",
				fmt.Sprintf("Loan #%d: %.2f interest", ev.Loan.Seq, ev.Amount),
				ttlShort, ev.Loan.ID), e.cycle)
		}
	}

	// 11. Loan maturity, player then agents.
	e.processLoanMaturities()
	e.pool.RunCreditCycle()

	// 12. Short borrow fees and the margin-call machine.
	e.tickShorts()

	// 13. Traded-set handover: this cycle's symbols feed the next candle
	// impact, and the trade cap resets.
	e.tradedPrev = e.tradedNow.symbols()
	e.tradedNow = tradedSet{}

	// 14+15. Phase transitions, crash triggers, Fear/Greed.
	for _, ev := range e.machine.Step(e.phases, met) {
		if ev.Crash && !e.warming {
			e.feed.Add(notify.New(notify.KindError, "Market crash",
				fmt.Sprintf("Crash in %s: %s -> %s", ev.Sector, ev.From, ev.To),
				0, string(ev.Sector)), e.cycle)
		}
	}

	// 16. Housekeeping, cycle count, end of game.
	e.feed.Expire(e.cycle)
	e.cycle++
	e.publishGauges()
	if d := e.cfg.Game.DurationCycles; d > 0 && e.cycle-e.cfg.Agents.WarmupCycles >= d {
		e.endGame()
	}

	if e.met != nil {
		e.met.RecordTick(time.Since(begin).Seconds())
	}
	if !e.warming {
		e.log.Debug("cycle complete",
			zap.Int("cycle", e.cycle),
			zap.String("phase", string(e.phases.Global)),
			zap.Int("fear_greed", e.phases.FearGreed),
			zap.Int("open_orders", e.book.Len()))
	}
}

func (e *Engine) applySplits() {
	factor := e.cfg.Market.SplitFactor
	for _, s := range e.mkt.Stocks() {
		if !s.ApplySplit(e.cfg.Market.SplitCeiling, factor) {
			continue
		}
		e.desk.ApplySplit(s.Symbol, factor)
		e.player.ApplySplit(s.Symbol, factor)
		e.pool.ApplySplit(s.Symbol, factor)
		e.playerShorts.ApplySplit(s.Symbol, factor)
		e.book.ApplySplit(s.Symbol, factor)
		if e.met != nil {
			e.met.RecordSplit()
		}
		if !e.warming {
			e.feed.Add(notify.New(notify.KindInfo, "Stock split",
				fmt.Sprintf("%s split %d-for-1", s.Symbol, factor),
				ttlLong, s.Symbol), e.cycle)
		}
	}
}

func (e *Engine) settleOrders() {
	fills, rejected := e.book.Settle(e.cycle, e.mkt, e.desk, accounts{e}, e.tradedNow)
	for _, f := range fills {
		e.recordOrder("executed")
		e.recordTrade(f.Order.Actor, f.Order.Side)
		if f.Order.Owner == PlayerID && !e.warming {
			e.feed.Add(notify.New(notify.KindSuccess, "Order filled",
				fmt.Sprintf("%s %d %s @ %.2f", f.Order.Side, f.Order.Quantity, f.Order.Symbol, f.Price),
				ttlShort, f.Order.ID), e.cycle)
		}
	}
	for _, o := range rejected {
		e.recordOrder("rejected")
		if o.Owner == PlayerID && !e.warming {
			e.feed.Add(notify.New(notify.KindError, "Order rejected",
				fmt.Sprintf("%s %d %s could not be funded at the fill price", o.Side, o.Quantity, o.Symbol),
				ttlLong, o.ID), e.cycle)
		}
	}
}

func (e *Engine) processLoanMaturities() {
	for _, ev := range e.playerCredit.ProcessMaturities(e.player) {
		if e.warming {
			continue
		}
		switch ev.Kind {
		case credit.EventWarn:
			e.feed.Add(notify.New(notify.KindWarning, "Loan due soon",
				fmt.Sprintf("Loan #%d (%.2f) matures in %d cycles", ev.Loan.Seq, ev.Loan.Balance, ev.Loan.RemainingCycles),
				0, ev.Loan.ID), e.cycle)
		case credit.EventRepaid:
			e.feed.DismissRef(ev.Loan.ID)
			e.feed.Add(notify.New(notify.KindSuccess, "Loan repaid",
				fmt.Sprintf("Loan #%d repaid in full (%.2f)", ev.Loan.Seq, ev.Amount),
				ttlLong, ev.Loan.ID), e.cycle)
		case credit.EventOverdue:
			e.feed.DismissRef(ev.Loan.ID)
			e.feed.Add(notify.New(notify.KindError, "Loan overdue",
				fmt.Sprintf("Loan #%d: %.2f paid, %.2f overdue", ev.Loan.Seq, ev.Amount, ev.Loan.Balance),
				0, ev.Loan.ID), e.cycle)
		}
	}
	if e.met != nil {
		e.met.SetLoansOutstanding("player", e.playerCredit.Len())
		var agentLoans int
		for _, a := range e.pool.Agents() {
			agentLoans += a.Credit.Len()
		}
		e.met.SetLoansOutstanding("agent", agentLoans)
	}
}

// FloatInfo breaks a symbol's float down by holder class.
func (e *Engine) FloatInfo(symbol string) (market.FloatInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.floatInfo(symbol)
}

func (e *Engine) floatInfo(symbol string) (market.FloatInfo, bool) {
	s, ok := e.mkt.Get(symbol)
	if !ok {
		return market.FloatInfo{}, false
	}

	info := market.FloatInfo{Symbol: symbol, Total: s.Shares}
	if inv, ok := e.desk.Get(symbol); ok {
		info.Maker = inv.Shares
	}
	info.Human = e.player.Shares(symbol)
	if h, ok := e.player.Holdings[symbol]; ok {
		info.Reserved = h.Reserved
	}
	for _, a := range e.pool.Agents() {
		info.Agents += a.Portfolio.Shares(symbol)
		if h, ok := a.Portfolio.Holdings[symbol]; ok {
			info.Reserved += h.Reserved
		}
	}
	return info, true
}

func (e *Engine) tickShorts() {
	hard := func(symbol string) bool {
		info, ok := e.floatInfo(symbol)
		if !ok {
			return false
		}
		return info.HardToBorrow(e.playerShorts.Shares(symbol), e.cfg.Short.HardToBorrowThreshold)
	}

	for _, ev := range e.playerShorts.Tick(e.player, e.mkt.Price, hard) {
		ref := "short:" + ev.Position.Symbol
		if e.warming {
			continue
		}
		switch ev.Kind {
		case short.EventMarginCall:
			if e.met != nil {
				e.met.RecordMarginCall()
			}
			e.feed.Add(notify.New(notify.KindWarning, "Margin call",
				fmt.Sprintf("%s short under maintenance margin; %d cycles to act", ev.Position.Symbol, ev.Position.GraceLeft),
				0, ref), e.cycle)
		case short.EventFinalWarning:
			e.feed.Add(notify.New(notify.KindError, "Margin call deadline",
				fmt.Sprintf("%s short will be force-covered next cycle", ev.Position.Symbol),
				0, ref), e.cycle)
		case short.EventRecovered:
			e.feed.DismissRef(ref)
			e.feed.Add(notify.New(notify.KindInfo, "Margin restored",
				fmt.Sprintf("%s short back above maintenance margin", ev.Position.Symbol),
				ttlShort, ref), e.cycle)
		case short.EventForcedCover:
			if e.met != nil {
				e.met.RecordForcedCover()
			}
			e.feed.DismissRef(ref)
			e.feed.Add(notify.New(notify.KindError, "Short force-covered",
				fmt.Sprintf("%s covered @ %.2f, P/L %.2f", ev.Position.Symbol, ev.ExitPrice, ev.PnL),
				0, ref), e.cycle)
		}
	}
}

func (e *Engine) publishGauges() {
	if e.met == nil {
		return
	}
	e.met.SetFearGreed(e.phases.FearGreed)
	all := make([]string, 0, 6)
	for _, p := range []core.Phase{
		core.PhaseProsperity, core.PhaseBoom, core.PhaseConsolidation,
		core.PhasePanic, core.PhaseRecession, core.PhaseRecovery,
	} {
		all = append(all, string(p))
	}
	e.met.SetGlobalPhase(string(e.phases.Global), all)
}

func (e *Engine) endGame() {
	e.ended = true
	standings := e.standings()
	rank := 0
	for i, st := range standings {
		if st.ID == PlayerID {
			rank = i + 1
			break
		}
	}
	e.feed.Add(notify.New(notify.KindInfo, "Game over",
		fmt.Sprintf("Finished #%d of %d with %.2f (%+.1f%%)",
			rank, len(standings), standings[rank-1].Value, standings[rank-1].ReturnPct),
		0, "game"), e.cycle)
	e.log.Info("game ended",
		zap.Int("cycle", e.cycle),
		zap.Int("player_rank", rank))
}

func (e *Engine) recordOrder(status string) {
	if e.met != nil {
		e.met.RecordOrder(status)
	}
}

func (e *Engine) recordTrade(actor core.Actor, side core.Side) {
	if e.met != nil {
		e.met.RecordTrade(string(actor), string(side))
	}
}

// Standing is one participant's end-of-game (or interim) result.
type Standing struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	ReturnPct float64 `json:"return_pct"`
}

// Standings ranks the player and every agent by total account value.
func (e *Engine) Standings() []Standing {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.standings()
}

func (e *Engine) standings() []Standing {
	value := func(p *portfolio.Portfolio, debt float64, shortEquity float64) (float64, float64) {
		v := p.Value(e.mkt.Price) - debt + shortEquity
		ret := 0.0
		if p.InitialCash > 0 {
			ret = (v - p.InitialCash) / p.InitialCash * 100
		}
		return v, ret
	}

	var shortEquity float64
	for _, pos := range e.playerShorts.All() {
		if px, ok := e.mkt.Price(pos.Symbol); ok {
			shortEquity += short.SettleNet(pos, px)
		}
	}

	out := make([]Standing, 0, 1+len(e.pool.Agents()))
	v, ret := value(e.player, e.playerCredit.Debt(), shortEquity)
	out = append(out, Standing{ID: PlayerID, Name: "You", Value: v, ReturnPct: ret})
	for _, a := range e.pool.Agents() {
		v, ret := value(a.Portfolio, a.Credit.Debt(), 0)
		out = append(out, Standing{ID: a.ID, Name: a.Name, Value: v, ReturnPct: ret})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// --- Commands -------------------------------------------------------------

// guard rejects commands outside the playable window.
func (e *Engine) guard() error {
	if !e.started {
		return core.ErrNotStarted
	}
	if e.ended {
		return core.ErrGameEnded
	}
	return nil
}

// PlaceOrder places a player order and returns its id. The reservation is
// taken immediately; the order settles on a subsequent tick.
func (e *Engine) PlaceOrder(symbol string, side core.Side, kind core.OrderKind, qty int64, limit float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return "", err
	}
	price, ok := e.mkt.Price(symbol)
	if !ok {
		return "", core.ErrUnknownSymbol
	}
	o := &orders.Order{
		Owner: PlayerID, Actor: core.ActorPlayer,
		Symbol: symbol, Side: side, Kind: kind,
		Quantity: qty, LimitPrice: limit,
	}
	if err := e.book.Place(e.player, o, price, e.cycle); err != nil {
		return "", err
	}
	e.recordOrder("placed")
	return o.ID, nil
}

// CancelOrder cancels a player order, releasing its reservation.
func (e *Engine) CancelOrder(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	o, ok := e.book.Get(id)
	if !ok || o.Owner != PlayerID {
		return core.ErrOrderNotFound
	}
	if err := e.book.Cancel(e.player, id); err != nil {
		return err
	}
	e.recordOrder("cancelled")
	return nil
}

// EditOrder adjusts a player order's quantity and/or limit price.
func (e *Engine) EditOrder(id string, qty *int64, limit *float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	o, ok := e.book.Get(id)
	if !ok || o.Owner != PlayerID {
		return core.ErrOrderNotFound
	}
	price, _ := e.mkt.Price(o.Symbol)
	return e.book.Edit(e.player, id, qty, limit, price)
}

// RequestLoan originates a player loan and returns its id.
func (e *Engine) RequestLoan(amount float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return "", err
	}
	loan, err := e.playerCredit.Request(e.player, amount)
	if err != nil {
		return "", err
	}
	e.feed.Add(notify.New(notify.KindSuccess, "Loan approved",
		fmt.Sprintf("Loan #%d: %.2f disbursed (%.0f%% fee withheld)", loan.Seq, amount*(1-e.cfg.Credit.FeeRate), e.cfg.Credit.FeeRate*100),
		ttlShort, loan.ID), e.cycle)
	return loan.ID, nil
}

// RepayLoan pays a player loan down (or off) from unreserved cash.
func (e *Engine) RepayLoan(id string, amount float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.playerCredit.Repay(e.player, id, amount); err != nil {
		return err
	}
	if _, stillOpen := e.playerCredit.Get(id); !stillOpen {
		e.feed.DismissRef(id)
	}
	return nil
}

// SellShort opens a player short position at the current price.
func (e *Engine) SellShort(symbol string, qty int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	price, ok := e.mkt.Price(symbol)
	if !ok {
		return core.ErrUnknownSymbol
	}
	_, err := e.playerShorts.Open(e.player, symbol, qty, price)
	return err
}

// CoverShort closes a player short at the current price.
func (e *Engine) CoverShort(symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return 0, err
	}
	price, ok := e.mkt.Price(symbol)
	if !ok {
		return 0, core.ErrUnknownSymbol
	}
	pnl, err := e.playerShorts.Cover(e.player, symbol, price)
	if err != nil {
		return 0, err
	}
	e.feed.DismissRef("short:" + symbol)
	return pnl, nil
}

// AddMargin moves player cash into a short position's collateral.
func (e *Engine) AddMargin(symbol string, amount float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	return e.playerShorts.AddMargin(e.player, symbol, amount)
}

// Dismiss removes a notification by id.
func (e *Engine) Dismiss(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feed.Dismiss(id)
}

// Cycle returns the current cycle counter (warm-up included).
func (e *Engine) Cycle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycle
}

// Started reports whether Start has run.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Ended reports whether the game is over.
func (e *Engine) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}
