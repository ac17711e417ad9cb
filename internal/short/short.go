// Package short manages short positions for one holder: margin collateral,
// per-cycle borrow fees with a hard-to-borrow surcharge, margin calls with
// a grace countdown, and covering (manual or forced).
package short

import (
	"sort"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/portfolio"
)

// Position is one open short.
type Position struct {
	Symbol     string  `json:"symbol"`
	Shares     int64   `json:"shares"`
	EntryPrice float64 `json:"entry_price"`
	// Collateral is cash locked when the position opened, topped up via
	// AddMargin and drawn down by unfunded borrow fees.
	Collateral float64 `json:"collateral"`
	FeesPaid   float64 `json:"fees_paid"`
	// MarginCall marks a position under the maintenance requirement;
	// GraceLeft cycles remain before a forced cover.
	MarginCall bool `json:"margin_call"`
	GraceLeft  int  `json:"grace_left"`
}

// PnL is the position's profit at the given exit price, borrow fees
// included. A short profits when the price falls.
func (pos *Position) PnL(exit float64) float64 {
	return (pos.EntryPrice-exit)*float64(pos.Shares) - pos.FeesPaid
}

// MaintenanceRatio relates the position's equity (collateral plus unrealized
// price move) to its current market value.
func (pos *Position) MaintenanceRatio(current float64) float64 {
	value := current * float64(pos.Shares)
	if value <= 0 {
		return 1
	}
	equity := pos.Collateral + (pos.EntryPrice-current)*float64(pos.Shares)
	return equity / value
}

// SettleNet returns the cash released when covering under the convention
// that sale proceeds stay escrowed: the collateral nets the price move,
// floored at zero once the collateral is exhausted.
func SettleNet(pos *Position, exit float64) float64 {
	out := pos.Collateral + (pos.EntryPrice-exit)*float64(pos.Shares)
	if out < 0 {
		out = 0
	}
	return out
}

// SettleGross returns the close-side cash flow under the alternate
// convention where sale proceeds were credited at open: the collateral
// comes back and the cover cost is debited, so the result may be negative.
func SettleGross(pos *Position, exit float64) float64 {
	return pos.Collateral - exit*float64(pos.Shares)
}

// EventKind classifies short lifecycle events for notification routing.
type EventKind int

const (
	EventMarginCall EventKind = iota
	EventFinalWarning
	EventRecovered
	EventForcedCover
)

// Event is one short lifecycle occurrence surfaced to the caller.
type Event struct {
	Kind     EventKind
	Position *Position
	// ExitPrice and PnL are set on forced covers.
	ExitPrice float64
	PnL       float64
}

// Book holds one holder's short positions, one per symbol.
type Book struct {
	cfg       config.ShortConfig
	positions map[string]*Position
}

// NewBook creates an empty short book.
func NewBook(cfg config.ShortConfig) *Book {
	return &Book{cfg: cfg, positions: make(map[string]*Position)}
}

// Open shorts a symbol, locking initial-margin collateral out of unreserved
// cash. One position per symbol; add to it by covering and reopening.
func (b *Book) Open(p *portfolio.Portfolio, symbol string, qty int64, price float64) (*Position, error) {
	if !b.cfg.Enabled {
		return nil, core.ErrShortsDisabled
	}
	if qty <= 0 {
		return nil, core.ErrInvalidQuantity
	}
	if _, ok := b.positions[symbol]; ok {
		return nil, core.ErrPositionExists
	}

	collateral := float64(qty) * price * b.cfg.InitialMargin
	if collateral > p.AvailableCash() {
		return nil, core.ErrInsufficientCollateral
	}

	p.Cash -= collateral
	pos := &Position{Symbol: symbol, Shares: qty, EntryPrice: price, Collateral: collateral}
	b.positions[symbol] = pos
	return pos, nil
}

// AddMargin moves unreserved cash into a position's collateral.
func (b *Book) AddMargin(p *portfolio.Portfolio, symbol string, amount float64) error {
	pos, ok := b.positions[symbol]
	if !ok {
		return core.ErrPositionNotFound
	}
	if amount <= 0 {
		return core.ErrInvalidAmount
	}
	if amount > p.AvailableCash() {
		return core.ErrInsufficientCash
	}
	p.Cash -= amount
	pos.Collateral += amount
	return nil
}

// Cover closes a position at the given price, releasing the net settlement
// to cash. Returns the realized P/L.
func (b *Book) Cover(p *portfolio.Portfolio, symbol string, exit float64) (float64, error) {
	pos, ok := b.positions[symbol]
	if !ok {
		return 0, core.ErrPositionNotFound
	}
	pnl := pos.PnL(exit)
	p.Cash += SettleNet(pos, exit)
	delete(b.positions, symbol)
	return pnl, nil
}

// Tick charges borrow fees and runs the margin-call state machine for every
// position. price resolves current prices; hardToBorrow reports whether a
// symbol's short interest is above the surcharge threshold.
func (b *Book) Tick(p *portfolio.Portfolio, price func(symbol string) (float64, bool), hardToBorrow func(symbol string) bool) []Event {
	var events []Event

	for _, pos := range b.sorted() {
		current, ok := price(pos.Symbol)
		if !ok {
			continue
		}

		// Borrow fee on current position value, surcharged when the
		// symbol is hard to borrow. Unfunded fees draw down collateral.
		fee := float64(pos.Shares) * current * b.cfg.BorrowFeeRate
		if hardToBorrow != nil && hardToBorrow(pos.Symbol) {
			fee *= b.cfg.HardToBorrowSurcharge
		}
		if p.Cash >= fee {
			p.Cash -= fee
			if p.ReservedCash > p.Cash {
				p.ReservedCash = p.Cash
			}
		} else {
			pos.Collateral -= fee
			if pos.Collateral < 0 {
				pos.Collateral = 0
			}
		}
		pos.FeesPaid += fee

		ratio := pos.MaintenanceRatio(current)
		switch {
		case ratio >= b.cfg.MaintenanceMargin && pos.MarginCall:
			pos.MarginCall = false
			pos.GraceLeft = 0
			events = append(events, Event{Kind: EventRecovered, Position: pos})

		case ratio < b.cfg.MaintenanceMargin && !pos.MarginCall:
			pos.MarginCall = true
			pos.GraceLeft = b.cfg.GraceCycles
			events = append(events, Event{Kind: EventMarginCall, Position: pos})

		case pos.MarginCall:
			pos.GraceLeft--
			if pos.GraceLeft == 1 {
				events = append(events, Event{Kind: EventFinalWarning, Position: pos})
			} else if pos.GraceLeft <= 0 {
				pnl := pos.PnL(current)
				p.Cash += SettleNet(pos, current)
				delete(b.positions, pos.Symbol)
				events = append(events, Event{
					Kind: EventForcedCover, Position: pos,
					ExitPrice: current, PnL: pnl,
				})
			}
		}
	}
	return events
}

// Get returns the position in a symbol.
func (b *Book) Get(symbol string) (*Position, bool) {
	pos, ok := b.positions[symbol]
	return pos, ok
}

// Shares returns shares shorted in a symbol, for short-interest totals.
func (b *Book) Shares(symbol string) int64 {
	if pos, ok := b.positions[symbol]; ok {
		return pos.Shares
	}
	return 0
}

// All returns the positions ordered by symbol.
func (b *Book) All() []*Position {
	return b.sorted()
}

// Len returns the number of open positions.
func (b *Book) Len() int {
	return len(b.positions)
}

// ApplySplit rescales a position for a stock split.
func (b *Book) ApplySplit(symbol string, factor int64) {
	pos, ok := b.positions[symbol]
	if !ok || factor < 2 {
		return
	}
	pos.Shares *= factor
	pos.EntryPrice /= float64(factor)
}

// Restore replaces the book wholesale from snapshot data.
func (b *Book) Restore(items []*Position) {
	b.positions = make(map[string]*Position, len(items))
	for _, pos := range items {
		b.positions[pos.Symbol] = pos
	}
}

// sorted returns positions in symbol order so tick processing and event
// emission are deterministic.
func (b *Book) sorted() []*Position {
	out := make([]*Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
