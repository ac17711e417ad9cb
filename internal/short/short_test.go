package short

import (
	"errors"
	"math"
	"testing"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
	"github.com/newthinker/marketsim/internal/portfolio"
)

func shortCfg() config.ShortConfig {
	return config.ShortConfig{
		Enabled:               true,
		InitialMargin:         0.5,
		MaintenanceMargin:     0.25,
		BorrowFeeRate:         0.001,
		HardToBorrowThreshold: 0.2,
		HardToBorrowSurcharge: 3.0,
		GraceCycles:           5,
	}
}

func fixedPrice(px float64) func(string) (float64, bool) {
	return func(string) (float64, bool) { return px, true }
}

func TestBook_Open(t *testing.T) {
	b := NewBook(shortCfg())
	p := portfolio.New(10_000, 50)

	pos, err := b.Open(p, "AAA", 100, 100)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	// 50% initial margin on a 10000 position.
	if pos.Collateral != 5_000 || p.Cash != 5_000 {
		t.Errorf("collateral=%v cash=%v, want 5000/5000", pos.Collateral, p.Cash)
	}

	if _, err := b.Open(p, "AAA", 10, 100); !errors.Is(err, core.ErrPositionExists) {
		t.Errorf("duplicate: err = %v, want ErrPositionExists", err)
	}
	if _, err := b.Open(p, "BBB", 1_000, 100); !errors.Is(err, core.ErrInsufficientCollateral) {
		t.Errorf("underfunded: err = %v, want ErrInsufficientCollateral", err)
	}
	if _, err := b.Open(p, "BBB", 0, 100); !errors.Is(err, core.ErrInvalidQuantity) {
		t.Errorf("zero qty: err = %v, want ErrInvalidQuantity", err)
	}
}

func TestBook_OpenDisabled(t *testing.T) {
	cfg := shortCfg()
	cfg.Enabled = false
	b := NewBook(cfg)
	p := portfolio.New(10_000, 50)

	if _, err := b.Open(p, "AAA", 10, 100); !errors.Is(err, core.ErrShortsDisabled) {
		t.Errorf("err = %v, want ErrShortsDisabled", err)
	}
}

func TestBook_AddMargin(t *testing.T) {
	b := NewBook(shortCfg())
	p := portfolio.New(10_000, 50)
	pos, _ := b.Open(p, "AAA", 100, 100)

	if err := b.AddMargin(p, "AAA", 2_000); err != nil {
		t.Fatalf("AddMargin() error = %v", err)
	}
	if pos.Collateral != 7_000 || p.Cash != 3_000 {
		t.Errorf("collateral=%v cash=%v, want 7000/3000", pos.Collateral, p.Cash)
	}

	if err := b.AddMargin(p, "ZZZ", 100); !errors.Is(err, core.ErrPositionNotFound) {
		t.Errorf("err = %v, want ErrPositionNotFound", err)
	}
	if err := b.AddMargin(p, "AAA", 100_000); !errors.Is(err, core.ErrInsufficientCash) {
		t.Errorf("err = %v, want ErrInsufficientCash", err)
	}
}

func TestBook_CoverProfit(t *testing.T) {
	b := NewBook(shortCfg())
	p := portfolio.New(10_000, 50)
	_, _ = b.Open(p, "AAA", 100, 100) // cash 5000, collateral 5000

	pnl, err := b.Cover(p, "AAA", 80)
	if err != nil {
		t.Fatalf("Cover() error = %v", err)
	}
	if pnl != 2_000 {
		t.Errorf("pnl = %v, want 2000", pnl)
	}
	// Collateral comes back plus the gain.
	if p.Cash != 12_000 {
		t.Errorf("cash = %v, want 12000", p.Cash)
	}
	if b.Len() != 0 {
		t.Error("covered position must be removed")
	}
}

func TestSettleConventions(t *testing.T) {
	pos := &Position{Symbol: "AAA", Shares: 100, EntryPrice: 100, Collateral: 5_000}

	// Net: collateral absorbs the loss, floored at zero.
	if got := SettleNet(pos, 150); got != 0 {
		t.Errorf("SettleNet(150) = %v, want 0", got)
	}
	if got := SettleNet(pos, 120); got != 3_000 {
		t.Errorf("SettleNet(120) = %v, want 3000", got)
	}
	// Gross: the cover cost is debited against collateral and may exceed it.
	if got := SettleGross(pos, 150); got != -10_000 {
		t.Errorf("SettleGross(150) = %v, want -10000", got)
	}
	if got := SettleGross(pos, 40); got != 1_000 {
		t.Errorf("SettleGross(40) = %v, want 1000", got)
	}
}

func TestBook_TickBorrowFees(t *testing.T) {
	b := NewBook(shortCfg())
	p := portfolio.New(20_000, 50)
	pos, _ := b.Open(p, "AAA", 100, 100) // cash 15000

	b.Tick(p, fixedPrice(100), func(string) bool { return false })
	// 0.1% of 10000.
	if math.Abs(p.Cash-14_990) > 1e-9 || math.Abs(pos.FeesPaid-10) > 1e-9 {
		t.Errorf("cash=%v fees=%v, want 14990/10", p.Cash, pos.FeesPaid)
	}

	// Hard-to-borrow symbols pay the surcharge.
	b.Tick(p, fixedPrice(100), func(string) bool { return true })
	if math.Abs(pos.FeesPaid-40) > 1e-9 {
		t.Errorf("fees = %v, want 40 after 3x surcharge", pos.FeesPaid)
	}
}

func TestBook_TickFeeDrawsCollateral(t *testing.T) {
	b := NewBook(shortCfg())
	p := portfolio.New(5_000, 50)
	pos, _ := b.Open(p, "AAA", 100, 100) // cash 0
	p.Cash = 0

	b.Tick(p, fixedPrice(100), nil)
	if p.Cash != 0 {
		t.Errorf("cash = %v, must stay 0", p.Cash)
	}
	if math.Abs(pos.Collateral-4_990) > 1e-9 {
		t.Errorf("collateral = %v, want 4990 (fee drawn down)", pos.Collateral)
	}
}

func TestBook_TickFeeClampsReservedCash(t *testing.T) {
	b := NewBook(shortCfg())
	p := portfolio.New(20_000, 50)
	_, _ = b.Open(p, "AAA", 100, 100)
	p.Cash = 100
	_ = p.ReserveCash(90)

	// At 500 the fee is 50, funded from the 100 cash.
	b.Tick(p, fixedPrice(500), nil)
	if p.Cash != 50 {
		t.Fatalf("cash = %v, want 50", p.Cash)
	}
	if p.ReservedCash > p.Cash {
		t.Errorf("reserved %v exceeds cash %v after borrow fee", p.ReservedCash, p.Cash)
	}
}

func TestBook_MarginCallLifecycle(t *testing.T) {
	cfg := shortCfg()
	cfg.BorrowFeeRate = 0
	cfg.GraceCycles = 3
	b := NewBook(cfg)
	p := portfolio.New(5_000, 50)
	pos, _ := b.Open(p, "AAA", 100, 100) // collateral 5000, cash 0

	// Equity zeroes out at 150: ratio 0 < 0.25 raises the call.
	events := b.Tick(p, fixedPrice(150), nil)
	if len(events) != 1 || events[0].Kind != EventMarginCall {
		t.Fatalf("events = %+v, want EventMarginCall", events)
	}
	if !pos.MarginCall || pos.GraceLeft != 3 {
		t.Fatalf("pos = %+v, want call with grace 3", pos)
	}

	// Recovery dismisses the call before the grace runs out.
	events = b.Tick(p, fixedPrice(100), nil)
	if len(events) != 1 || events[0].Kind != EventRecovered {
		t.Fatalf("events = %+v, want EventRecovered", events)
	}
	if pos.MarginCall {
		t.Error("recovered position must clear the call flag")
	}
}

func TestBook_ForcedCover(t *testing.T) {
	cfg := shortCfg()
	cfg.BorrowFeeRate = 0
	cfg.GraceCycles = 2
	b := NewBook(cfg)
	p := portfolio.New(5_000, 50)
	pos, _ := b.Open(p, "AAA", 100, 100) // collateral 5000, cash 0
	pos.FeesPaid = 50

	// Tick 1 raises the call, tick 2 is the final warning, tick 3 forces
	// the cover.
	b.Tick(p, fixedPrice(150), nil)
	events := b.Tick(p, fixedPrice(150), nil)
	if len(events) != 1 || events[0].Kind != EventFinalWarning {
		t.Fatalf("tick 2 events = %+v, want EventFinalWarning", events)
	}

	events = b.Tick(p, fixedPrice(150), nil)
	if len(events) != 1 || events[0].Kind != EventForcedCover {
		t.Fatalf("tick 3 events = %+v, want EventForcedCover", events)
	}
	if events[0].PnL != -5_050 {
		t.Errorf("pnl = %v, want -5050", events[0].PnL)
	}
	// The loss consumed the whole collateral: nothing comes back.
	if p.Cash != 0 {
		t.Errorf("cash = %v, want 0", p.Cash)
	}
	if b.Len() != 0 {
		t.Error("forced cover must close the position")
	}
}

func TestBook_ApplySplit(t *testing.T) {
	b := NewBook(shortCfg())
	p := portfolio.New(10_000, 50)
	pos, _ := b.Open(p, "AAA", 100, 100)

	b.ApplySplit("AAA", 2)
	if pos.Shares != 200 || pos.EntryPrice != 50 {
		t.Errorf("after split: %+v, want 200 @ 50", pos)
	}
	// Position value and P/L are unchanged by the split.
	if got := pos.PnL(25); got != 5_000 {
		t.Errorf("pnl = %v, want 5000", got)
	}
}

func TestBook_Restore(t *testing.T) {
	b := NewBook(shortCfg())
	b.Restore([]*Position{
		{Symbol: "BBB", Shares: 10, EntryPrice: 50, Collateral: 250},
		{Symbol: "AAA", Shares: 5, EntryPrice: 20, Collateral: 50},
	})
	if b.Len() != 2 || b.Shares("BBB") != 10 {
		t.Errorf("restored book: len=%d", b.Len())
	}
	if all := b.All(); all[0].Symbol != "AAA" {
		t.Error("All() must be symbol-ordered")
	}
}
