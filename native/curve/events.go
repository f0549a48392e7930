package curve

import (
	"github.com/ethereum/go-ethereum/common"

	"launchpad/core/types"
)

const (
	// EventTypeCurveCreated is emitted when a curve is initialised.
	EventTypeCurveCreated = "curve.created"
	// EventTypeTradeBuy is emitted for every committed buy.
	EventTypeTradeBuy = "curve.trade.buy"
	// EventTypeTradeSell is emitted for every committed sell.
	EventTypeTradeSell = "curve.trade.sell"
	// EventTypeCurveGraduated is emitted once, on the trade that crosses the threshold.
	EventTypeCurveGraduated = "curve.graduated"
)

// CurveCreated announces a new curve.
type CurveCreated struct {
	Curve *Curve
}

// EventType implements events.Event.
func (CurveCreated) EventType() string { return EventTypeCurveCreated }

// Event converts the payload to the generic representation.
func (e CurveCreated) Event() *types.Event {
	c := e.Curve
	if c == nil {
		c = &Curve{}
	}
	return types.NewEvent(EventTypeCurveCreated).
		With(types.AttributeAsset, c.Asset.Hex()).
		With("creator", c.Creator.Hex()).
		With("name", c.Name).
		With("symbol", c.Symbol).
		With("uri", c.URI).
		WithUint("virtualBase", c.VirtualBase).
		WithUint("virtualToken", c.VirtualToken).
		WithInt("createdAt", c.CreatedAt)
}

// Trade captures a committed buy or sell together with the post-trade
// reserves. Nonce is the curve's trade counter after this trade and orders
// trades of one curve by commit.
type Trade struct {
	Asset     common.Address
	Trader    common.Address
	Side      Side
	Input     uint64
	Output    uint64
	Fee       uint64
	Nonce     uint64
	Curve     *Curve
	Timestamp int64
}

// EventType implements events.Event.
func (e Trade) EventType() string {
	if e.Side == SideSell {
		return EventTypeTradeSell
	}
	return EventTypeTradeBuy
}

// Event converts the payload to the generic representation.
func (e Trade) Event() *types.Event {
	c := e.Curve
	if c == nil {
		c = &Curve{}
	}
	return types.NewEvent(e.EventType()).
		With(types.AttributeAsset, e.Asset.Hex()).
		With("trader", e.Trader.Hex()).
		WithUint("input", e.Input).
		WithUint("output", e.Output).
		WithUint("fee", e.Fee).
		WithUint("nonce", e.Nonce).
		WithUint("virtualBase", c.VirtualBase).
		WithUint("virtualToken", c.VirtualToken).
		WithUint("realBase", c.RealBase).
		WithUint("realToken", c.RealToken).
		WithInt("timestamp", e.Timestamp)
}

// CurveGraduated marks the one-way transition out of curve trading.
type CurveGraduated struct {
	Asset     common.Address
	RealBase  uint64
	Timestamp int64
}

// EventType implements events.Event.
func (CurveGraduated) EventType() string { return EventTypeCurveGraduated }

// Event converts the payload to the generic representation.
func (e CurveGraduated) Event() *types.Event {
	return types.NewEvent(EventTypeCurveGraduated).
		With(types.AttributeAsset, e.Asset.Hex()).
		WithUint("realBase", e.RealBase).
		WithInt("timestamp", e.Timestamp)
}
