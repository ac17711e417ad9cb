// Package orders manages resting orders and their settlement. Placing an
// order reserves cash (buy) or shares (sell) so concurrently open orders
// cannot overcommit the same resource; cancellation and edits adjust the
// reservation synchronously.
package orders

import (
	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/portfolio"
)

// Order is a resting order awaiting settlement.
type Order struct {
	ID       string         `json:"id"`
	Owner    string         `json:"owner"`
	Actor    core.Actor     `json:"actor"`
	Symbol   string         `json:"symbol"`
	Side     core.Side      `json:"side"`
	Kind     core.OrderKind `json:"kind"`
	Quantity int64          `json:"quantity"`
	// LimitPrice is zero for market orders.
	LimitPrice float64 `json:"limit_price,omitempty"`
	// ReservedCash backs buy orders; sell orders reserve shares instead.
	ReservedCash float64 `json:"reserved_cash,omitempty"`
	CreatedCycle int     `json:"created_cycle"`
	// Age counts cycles since placement; the order expires once it
	// reaches the configured horizon.
	Age int `json:"age"`
}

// Triggered reports whether the order fires at the given price. Market
// orders always trigger; limit orders trigger when price crosses the limit.
func (o *Order) Triggered(price float64) bool {
	if o.Kind == core.OrderMarket {
		return true
	}
	if o.Side == core.SideBuy {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}

// Quoter provides post-update prices for trigger evaluation.
type Quoter interface {
	Price(symbol string) (float64, bool)
}

// Liquidity gates buy fills on market-maker inventory and applies the
// inventory effect of executed fills.
type Liquidity interface {
	CanFill(symbol string, side core.Side, qty int64) bool
	ApplyFill(symbol string, side core.Side, qty int64, actor core.Actor)
}

// Accounts resolves an order owner to their portfolio.
type Accounts interface {
	Portfolio(owner string) *portfolio.Portfolio
}

// TradeGate enforces the one-trade-per-symbol-per-cycle cap.
type TradeGate interface {
	Traded(owner, symbol string) bool
	MarkTraded(owner, symbol string)
}

// Fill records one executed order.
type Fill struct {
	Order *Order
	Price float64
}

// Book holds all open orders, indexed by id and by creation cycle for the
// expiry sweep.
type Book struct {
	cfg   config.OrdersConfig
	byID  map[string]*Order
	byAge *btree.BTreeG[*Order]
}

// NewBook creates an empty order book.
func NewBook(cfg config.OrdersConfig) *Book {
	return &Book{
		cfg:  cfg,
		byID: make(map[string]*Order),
		byAge: btree.NewG[*Order](8, func(a, b *Order) bool {
			if a.CreatedCycle != b.CreatedCycle {
				return a.CreatedCycle < b.CreatedCycle
			}
			return a.ID < b.ID
		}),
	}
}

// Place validates the order, takes its reservation, and inserts it. Market
// buys reserve at the current price; if the fill price moves beyond the
// reservation the order is rejected at settlement.
func (b *Book) Place(p *portfolio.Portfolio, o *Order, price float64, cycle int) error {
	if o.Quantity <= 0 {
		return core.ErrInvalidQuantity
	}
	if o.Kind == core.OrderLimit && o.LimitPrice <= 0 {
		return core.ErrInvalidLimitPrice
	}

	if o.Side == core.SideBuy {
		reserve := float64(o.Quantity) * price
		if o.Kind == core.OrderLimit {
			reserve = float64(o.Quantity) * o.LimitPrice
		}
		if err := p.ReserveCash(reserve); err != nil {
			return err
		}
		o.ReservedCash = reserve
	} else {
		if err := p.ReserveShares(o.Symbol, o.Quantity); err != nil {
			return err
		}
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedCycle = cycle
	o.Age = 0
	b.byID[o.ID] = o
	b.byAge.ReplaceOrInsert(o)
	return nil
}

// Get returns an open order by id.
func (b *Book) Get(id string) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Cancel removes an order and releases its reservation synchronously.
func (b *Book) Cancel(p *portfolio.Portfolio, id string) error {
	o, ok := b.byID[id]
	if !ok {
		return core.ErrOrderNotFound
	}
	b.release(p, o)
	b.remove(o)
	return nil
}

// Edit adjusts quantity and/or limit price, re-reserving atomically: the
// old reservation is only released once the new one is known to fit.
func (b *Book) Edit(p *portfolio.Portfolio, id string, newQty *int64, newLimit *float64, price float64) error {
	o, ok := b.byID[id]
	if !ok {
		return core.ErrOrderNotFound
	}

	qty := o.Quantity
	if newQty != nil {
		qty = *newQty
	}
	limit := o.LimitPrice
	if newLimit != nil {
		limit = *newLimit
	}
	if qty <= 0 {
		return core.ErrInvalidQuantity
	}
	if o.Kind == core.OrderLimit && limit <= 0 {
		return core.ErrInvalidLimitPrice
	}

	if o.Side == core.SideBuy {
		reserve := float64(qty) * price
		if o.Kind == core.OrderLimit {
			reserve = float64(qty) * limit
		}
		delta := reserve - o.ReservedCash
		if delta > 0 {
			if err := p.ReserveCash(delta); err != nil {
				return err
			}
		} else if delta < 0 {
			p.ReleaseCash(-delta)
		}
		o.ReservedCash = reserve
	} else {
		delta := qty - o.Quantity
		if delta > 0 {
			if err := p.ReserveShares(o.Symbol, delta); err != nil {
				return err
			}
		} else if delta < 0 {
			p.ReleaseShares(o.Symbol, -delta)
		}
	}

	o.Quantity = qty
	o.LimitPrice = limit
	return nil
}

// Settle evaluates every open order against its trigger at post-update
// prices and executes the ones that fire. Orders blocked by the trade cap
// or by missing maker liquidity stay pending; orders whose owner cannot
// fund the fill are rejected and removed. Returns fills and rejected
// orders in deterministic (placement) order.
func (b *Book) Settle(cycle int, q Quoter, liq Liquidity, acct Accounts, gate TradeGate) (fills []Fill, rejected []*Order) {
	var done []*Order

	b.byAge.Ascend(func(o *Order) bool {
		price, ok := q.Price(o.Symbol)
		if !ok {
			// Unknown symbol: drop silently, releasing the reservation.
			if p := acct.Portfolio(o.Owner); p != nil {
				b.release(p, o)
			}
			done = append(done, o)
			return true
		}
		if !o.Triggered(price) {
			return true
		}
		if gate.Traded(o.Owner, o.Symbol) {
			return true
		}
		p := acct.Portfolio(o.Owner)
		if p == nil {
			done = append(done, o)
			return true
		}

		if o.Side == core.SideBuy {
			if !liq.CanFill(o.Symbol, core.SideBuy, o.Quantity) {
				return true // wait for liquidity or expiry
			}
			b.release(p, o)
			if err := p.Buy(o.Symbol, o.Quantity, price, cycle); err != nil {
				// Price ran past the reservation: reject, no mutation.
				rejected = append(rejected, o)
				done = append(done, o)
				return true
			}
		} else {
			b.release(p, o)
			if err := p.Sell(o.Symbol, o.Quantity, price, cycle); err != nil {
				rejected = append(rejected, o)
				done = append(done, o)
				return true
			}
		}

		liq.ApplyFill(o.Symbol, o.Side, o.Quantity, o.Actor)
		gate.MarkTraded(o.Owner, o.Symbol)
		fills = append(fills, Fill{Order: o, Price: price})
		done = append(done, o)
		return true
	})

	for _, o := range done {
		b.remove(o)
	}
	return fills, rejected
}

// AgeAndExpire advances age counters and expires orders that reached the
// configured horizon, releasing their reservations. Returns the expired
// orders.
func (b *Book) AgeAndExpire(cycle int, acct Accounts) []*Order {
	var expired []*Order

	b.byAge.Ascend(func(o *Order) bool {
		o.Age = cycle - o.CreatedCycle
		if o.Age < b.cfg.ExpiryCycles {
			// Orders are age-sorted: everything after is younger.
			return false
		}
		expired = append(expired, o)
		return true
	})

	for _, o := range expired {
		if p := acct.Portfolio(o.Owner); p != nil {
			b.release(p, o)
		}
		b.remove(o)
	}

	// Refresh ages on the survivors for display.
	b.byAge.Ascend(func(o *Order) bool {
		o.Age = cycle - o.CreatedCycle
		return true
	})
	return expired
}

// ApplySplit rescales resting orders for a stock split: quantity multiplies
// and the limit price divides, so the cash reservation stays adequate and
// share reservations track the holder's split-adjusted holdings.
func (b *Book) ApplySplit(symbol string, factor int64) {
	if factor < 2 {
		return
	}
	b.byAge.Ascend(func(o *Order) bool {
		if o.Symbol == symbol {
			o.Quantity *= factor
			if o.Kind == core.OrderLimit {
				o.LimitPrice /= float64(factor)
			}
		}
		return true
	})
}

// release returns an order's reservation to its owner.
func (b *Book) release(p *portfolio.Portfolio, o *Order) {
	if o.Side == core.SideBuy {
		p.ReleaseCash(o.ReservedCash)
		o.ReservedCash = 0
	} else {
		p.ReleaseShares(o.Symbol, o.Quantity)
	}
}

func (b *Book) remove(o *Order) {
	delete(b.byID, o.ID)
	b.byAge.Delete(o)
}

// All returns open orders in placement order.
func (b *Book) All() []*Order {
	out := make([]*Order, 0, len(b.byID))
	b.byAge.Ascend(func(o *Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

// ForOwner returns open orders belonging to one owner, in placement order.
func (b *Book) ForOwner(owner string) []*Order {
	var out []*Order
	b.byAge.Ascend(func(o *Order) bool {
		if o.Owner == owner {
			out = append(out, o)
		}
		return true
	})
	return out
}

// Len returns the number of open orders.
func (b *Book) Len() int {
	return len(b.byID)
}

// Restore replaces the book wholesale from snapshot data.
func (b *Book) Restore(items []*Order) {
	b.byID = make(map[string]*Order, len(items))
	b.byAge.Clear(false)
	for _, o := range items {
		b.byID[o.ID] = o
		b.byAge.ReplaceOrInsert(o)
	}
}
