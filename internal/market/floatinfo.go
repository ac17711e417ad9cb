package market

// FloatInfo breaks one symbol's float down by holder class. Maker, Human,
// and Agents count shares sitting with the market maker, the player, and
// the virtual traders; Reserved counts shares locked behind open sell
// orders across all holders. The remainder circulates freely.
type FloatInfo struct {
	Symbol   string `json:"symbol"`
	Total    int64  `json:"total"`
	Maker    int64  `json:"maker"`
	Human    int64  `json:"human"`
	Agents   int64  `json:"agents"`
	Reserved int64  `json:"reserved"`
}

// Circulating is the float outside the maker's book and open-order locks.
func (f FloatInfo) Circulating() int64 {
	out := f.Total - f.Maker - f.Reserved
	if out < 0 {
		out = 0
	}
	return out
}

// ShortRatio relates outstanding short interest to the total float.
func (f FloatInfo) ShortRatio(shortInterest int64) float64 {
	if f.Total <= 0 {
		return 0
	}
	return float64(shortInterest) / float64(f.Total)
}

// HardToBorrow reports whether short interest has crowded the float past
// the surcharge threshold.
func (f FloatInfo) HardToBorrow(shortInterest int64, threshold float64) bool {
	return f.Total > 0 && f.ShortRatio(shortInterest) >= threshold
}
