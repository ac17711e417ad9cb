package metrics

import (
	"testing"
)

func gatherNames(t *testing.T, r *Registry) map[string]bool {
	t.Helper()
	mfs, err := r.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestRegistry_SimulationMetrics(t *testing.T) {
	r := NewRegistry()

	r.RecordTick(0.01)
	r.RecordOrder("placed")
	r.RecordOrder("executed")
	r.RecordTrade("agent", "buy")
	r.SetLoansOutstanding("player", 2)
	r.RecordMarginCall()
	r.RecordForcedCover()
	r.RecordSplit()
	r.SetFearGreed(62)
	r.SetGlobalPhase("boom", []string{"prosperity", "boom", "panic"})

	names := gatherNames(t, r)
	for _, want := range []string{
		"marketsim_ticks_total",
		"marketsim_tick_duration_seconds",
		"marketsim_orders_total",
		"marketsim_trades_total",
		"marketsim_loans_outstanding",
		"marketsim_margin_calls_total",
		"marketsim_forced_covers_total",
		"marketsim_splits_total",
		"marketsim_fear_greed",
		"marketsim_global_phase",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestRegistry_PhaseGaugeExclusive(t *testing.T) {
	r := NewRegistry()
	all := []string{"prosperity", "boom", "panic"}
	r.SetGlobalPhase("boom", all)
	r.SetGlobalPhase("panic", all)

	mfs, err := r.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "marketsim_global_phase" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var phase string
			for _, l := range m.GetLabel() {
				if l.GetName() == "phase" {
					phase = l.GetValue()
				}
			}
			want := 0.0
			if phase == "panic" {
				want = 1
			}
			if m.GetGauge().GetValue() != want {
				t.Errorf("phase %s gauge = %v, want %v", phase, m.GetGauge().GetValue(), want)
			}
		}
	}
}
