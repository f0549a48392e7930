package observability

import (
	"launchpad/core/events"
	"launchpad/native/curve"
)

// CurveEvents feeds committed curve events into the Curve() registry.
type CurveEvents struct{}

// Emit implements events.Emitter.
func (CurveEvents) Emit(evt events.Event) {
	m := Curve()
	switch e := evt.(type) {
	case curve.CurveCreated:
		m.RecordCreated()
	case curve.Trade:
		// Buys are measured by base paid in, sells by base paid out.
		m.ObserveTrade(string(e.Side), baseVolume(e), e.Fee)
	case curve.CurveGraduated:
		m.RecordGraduation()
	}
}

func baseVolume(t curve.Trade) uint64 {
	if t.Side == curve.SideSell {
		return t.Output
	}
	return t.Input
}
