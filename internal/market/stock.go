// Package market holds the tradable universe: per-symbol price state and
// candle history, the sector momentum model, and the price generator that
// advances them each cycle.
package market

import (
	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
)

// Stock is one tradable symbol.
type Stock struct {
	Symbol string      `json:"symbol"`
	Name   string      `json:"name"`
	Sector core.Sector `json:"sector"`
	// Shares is the total float of the symbol.
	Shares int64 `json:"shares"`
	// Price mirrors the close of the most recent candle.
	Price   float64       `json:"price"`
	History []core.Candle `json:"history"`
	// Splits counts applied stock splits, for display naming.
	Splits int `json:"splits"`
}

// Append records a new candle and moves Price to its close, trimming
// history to maxHistory entries.
func (s *Stock) Append(c core.Candle, maxHistory int) {
	s.History = append(s.History, c)
	if maxHistory > 0 && len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
	s.Price = c.Close
}

// ChangePct returns the relative price change over the last lookback
// candles, 0 when history is too short.
func (s *Stock) ChangePct(lookback int) float64 {
	if lookback < 1 || len(s.History) < lookback+1 {
		return 0
	}
	ref := s.History[len(s.History)-1-lookback].Close
	if ref <= 0 {
		return 0
	}
	return (s.Price - ref) / ref
}

// LastChange returns the close-to-close change of the newest candle.
func (s *Stock) LastChange() float64 {
	return s.ChangePct(1)
}

// ApplySplit multiplies shares by factor and divides price proportionally
// when price exceeds ceiling. History is rescaled so charts stay
// continuous. Returns true when a split was applied.
func (s *Stock) ApplySplit(ceiling float64, factor int64) bool {
	if factor < 2 || ceiling <= 0 || s.Price <= ceiling {
		return false
	}
	f := float64(factor)
	s.Shares *= factor
	s.Price /= f
	for i := range s.History {
		s.History[i].Open /= f
		s.History[i].High /= f
		s.History[i].Low /= f
		s.History[i].Close /= f
	}
	s.Splits++
	return true
}

// Market is the ordered universe of stocks.
type Market struct {
	stocks   []*Stock
	bySymbol map[string]*Stock
}

// New seeds a market from stock configs. Each stock starts with its base
// price and no history; warm-up fills the charts before visible play.
func New(cfgs []config.StockConfig) *Market {
	m := &Market{
		stocks:   make([]*Stock, 0, len(cfgs)),
		bySymbol: make(map[string]*Stock, len(cfgs)),
	}
	for _, c := range cfgs {
		s := &Stock{
			Symbol: c.Symbol,
			Name:   c.Name,
			Sector: c.Sector,
			Shares: c.Shares,
			Price:  c.BasePrice,
		}
		m.stocks = append(m.stocks, s)
		m.bySymbol[s.Symbol] = s
	}
	return m
}

// Get returns the stock for a symbol.
func (m *Market) Get(symbol string) (*Stock, bool) {
	s, ok := m.bySymbol[symbol]
	return s, ok
}

// Price returns the current price for a symbol.
func (m *Market) Price(symbol string) (float64, bool) {
	s, ok := m.bySymbol[symbol]
	if !ok {
		return 0, false
	}
	return s.Price, true
}

// Stocks returns the universe in seed order.
func (m *Market) Stocks() []*Stock {
	return m.stocks
}

// Symbols returns all symbols in seed order.
func (m *Market) Symbols() []string {
	out := make([]string, len(m.stocks))
	for i, s := range m.stocks {
		out[i] = s.Symbol
	}
	return out
}

// SectorPerformance averages per-stock realized change over lookback
// candles, grouped by sector. Sectors without stocks are omitted.
func (m *Market) SectorPerformance(lookback int) map[core.Sector]float64 {
	sums := make(map[core.Sector]float64)
	counts := make(map[core.Sector]int)
	for _, s := range m.stocks {
		sums[s.Sector] += s.ChangePct(lookback)
		counts[s.Sector]++
	}
	out := make(map[core.Sector]float64, len(sums))
	for sec, sum := range sums {
		out[sec] = sum / float64(counts[sec])
	}
	return out
}

// Breadth counts stocks that advanced and declined on their newest candle.
func (m *Market) Breadth() (advancers, decliners int) {
	for _, s := range m.stocks {
		switch ch := s.LastChange(); {
		case ch > 0:
			advancers++
		case ch < 0:
			decliners++
		}
	}
	return advancers, decliners
}

// Restore replaces the universe wholesale from snapshot data.
func (m *Market) Restore(stocks []*Stock) {
	m.stocks = stocks
	m.bySymbol = make(map[string]*Stock, len(stocks))
	for _, s := range stocks {
		m.bySymbol[s.Symbol] = s
	}
}
