// Package portfolio tracks cash and holdings with reservation accounting.
// Reservations back resting orders: a buy order reserves cash, a sell order
// reserves shares, so concurrently open orders can never overcommit.
package portfolio

import (
	"github.com/newthinker/marketsim/internal/core"
)

// Transaction is one executed trade, kept in a bounded ring buffer.
type Transaction struct {
	Cycle    int       `json:"cycle"`
	Symbol   string    `json:"symbol"`
	Side     core.Side `json:"side"`
	Quantity int64     `json:"quantity"`
	Price    float64   `json:"price"`
}

// Holding is a long position in one symbol. Reserved shares back open
// sell orders and stay part of Shares until the order settles.
type Holding struct {
	Shares   int64   `json:"shares"`
	Reserved int64   `json:"reserved"`
	AvgCost  float64 `json:"avg_cost"`
}

// Portfolio is one participant's account: the human player or an agent.
type Portfolio struct {
	Cash         float64 `json:"cash"`
	ReservedCash float64 `json:"reserved_cash"`
	// InitialCash is kept for end-of-game scoring.
	InitialCash  float64             `json:"initial_cash"`
	Holdings     map[string]*Holding `json:"holdings"`
	Transactions []Transaction       `json:"transactions"`

	txCap int
}

// New creates a portfolio with starting cash and a transaction buffer cap.
func New(cash float64, txCap int) *Portfolio {
	if txCap < 1 {
		txCap = 1
	}
	return &Portfolio{
		Cash:        cash,
		InitialCash: cash,
		Holdings:    make(map[string]*Holding),
		txCap:       txCap,
	}
}

// AvailableCash is cash not reserved by open buy orders.
func (p *Portfolio) AvailableCash() float64 {
	return p.Cash - p.ReservedCash
}

// ReserveCash locks cash behind a buy order.
func (p *Portfolio) ReserveCash(amount float64) error {
	if amount <= 0 {
		return core.ErrInvalidAmount
	}
	if amount > p.AvailableCash() {
		return core.ErrInsufficientCash
	}
	p.ReservedCash += amount
	return nil
}

// ReleaseCash unlocks previously reserved cash.
func (p *Portfolio) ReleaseCash(amount float64) {
	p.ReservedCash -= amount
	if p.ReservedCash < 0 {
		p.ReservedCash = 0
	}
}

// Shares returns total shares held in a symbol.
func (p *Portfolio) Shares(symbol string) int64 {
	if h, ok := p.Holdings[symbol]; ok {
		return h.Shares
	}
	return 0
}

// AvailableShares is shares not reserved by open sell orders.
func (p *Portfolio) AvailableShares(symbol string) int64 {
	if h, ok := p.Holdings[symbol]; ok {
		return h.Shares - h.Reserved
	}
	return 0
}

// ReserveShares locks shares behind a sell order.
func (p *Portfolio) ReserveShares(symbol string, qty int64) error {
	if qty <= 0 {
		return core.ErrInvalidQuantity
	}
	if qty > p.AvailableShares(symbol) {
		return core.ErrInsufficientShares
	}
	p.Holdings[symbol].Reserved += qty
	return nil
}

// ReleaseShares unlocks previously reserved shares.
func (p *Portfolio) ReleaseShares(symbol string, qty int64) {
	h, ok := p.Holdings[symbol]
	if !ok {
		return
	}
	h.Reserved -= qty
	if h.Reserved < 0 {
		h.Reserved = 0
	}
}

// Buy deducts cost from cash and folds the fill into the holding at
// weighted average cost. The caller releases any reservation first.
func (p *Portfolio) Buy(symbol string, qty int64, price float64, cycle int) error {
	if qty <= 0 {
		return core.ErrInvalidQuantity
	}
	cost := float64(qty) * price
	if cost > p.AvailableCash() {
		return core.ErrInsufficientCash
	}

	h, ok := p.Holdings[symbol]
	if !ok {
		h = &Holding{}
		p.Holdings[symbol] = h
	}
	totalCost := float64(h.Shares)*h.AvgCost + cost
	h.Shares += qty
	h.AvgCost = totalCost / float64(h.Shares)
	p.Cash -= cost

	p.record(Transaction{Cycle: cycle, Symbol: symbol, Side: core.SideBuy, Quantity: qty, Price: price})
	return nil
}

// Sell credits proceeds to cash and reduces the holding. The holding is
// dropped once no shares remain.
func (p *Portfolio) Sell(symbol string, qty int64, price float64, cycle int) error {
	if qty <= 0 {
		return core.ErrInvalidQuantity
	}
	if qty > p.AvailableShares(symbol) {
		return core.ErrInsufficientShares
	}

	h := p.Holdings[symbol]
	h.Shares -= qty
	p.Cash += float64(qty) * price
	if h.Shares == 0 && h.Reserved == 0 {
		delete(p.Holdings, symbol)
	}

	p.record(Transaction{Cycle: cycle, Symbol: symbol, Side: core.SideSell, Quantity: qty, Price: price})
	return nil
}

// record appends to the bounded transaction ring, evicting the oldest.
func (p *Portfolio) record(tx Transaction) {
	p.Transactions = append(p.Transactions, tx)
	if p.txCap > 0 && len(p.Transactions) > p.txCap {
		p.Transactions = p.Transactions[len(p.Transactions)-p.txCap:]
	}
}

// SetTxCap re-applies the transaction buffer cap after a snapshot restore,
// where the cap does not round-trip through JSON.
func (p *Portfolio) SetTxCap(n int) {
	if n < 1 {
		n = 1
	}
	p.txCap = n
}

// Value is total account value at the given prices, including cash that
// is reserved but not yet spent.
func (p *Portfolio) Value(price func(symbol string) (float64, bool)) float64 {
	total := p.Cash
	for sym, h := range p.Holdings {
		if px, ok := price(sym); ok {
			total += float64(h.Shares) * px
		}
	}
	return total
}

// ApplySplit rescales a holding for a stock split: shares multiply, the
// average cost divides, total position value is unchanged.
func (p *Portfolio) ApplySplit(symbol string, factor int64) {
	h, ok := p.Holdings[symbol]
	if !ok || factor < 2 {
		return
	}
	h.Shares *= factor
	h.Reserved *= factor
	h.AvgCost /= float64(factor)
}
