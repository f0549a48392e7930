package curve

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Curve is the per-asset ledger record backing a bonding curve.
type Curve struct {
	Version      uint8          `json:"version"`
	Asset        common.Address `json:"asset"`
	Creator      common.Address `json:"creator"`
	VirtualBase  uint64         `json:"virtualBase"`
	VirtualToken uint64         `json:"virtualToken"`
	RealBase     uint64         `json:"realBase"`
	RealToken    uint64         `json:"realToken"`
	TotalSupply  uint64         `json:"totalSupply"`
	// CustodyFees tracks buy fees held in the curve vault on top of RealBase.
	CustodyFees uint64 `json:"custodyFees"`
	Graduated   bool   `json:"graduated"`
	GraduatedAt int64  `json:"graduatedAt,omitempty"`
	// Nonce counts committed trades and orders them per curve.
	Nonce     uint64 `json:"nonce"`
	CreatedAt int64  `json:"createdAt"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	URI       string `json:"uri"`
}

// NewCurve returns a freshly seeded record for the supplied asset.
func NewCurve(asset, creator common.Address, name, symbol, uri string, createdAt int64) *Curve {
	return &Curve{
		Version:      ProtocolVersion,
		Asset:        asset,
		Creator:      creator,
		VirtualBase:  InitialVirtualBase,
		VirtualToken: CurveSupply,
		RealBase:     0,
		RealToken:    CurveSupply,
		TotalSupply:  TotalSupply,
		CreatedAt:    createdAt,
		Name:         name,
		Symbol:       symbol,
		URI:          uri,
	}
}

// Clone returns a copy of the record.
func (c *Curve) Clone() *Curve {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// CheckInvariants verifies that the real reserves are covered by the virtual
// reserves the price is computed over.
func (c *Curve) CheckInvariants() error {
	if c == nil {
		return fmt.Errorf("%w: nil curve", ErrArithmetic)
	}
	if c.RealToken > c.VirtualToken {
		return fmt.Errorf("%w: real token reserve %d exceeds virtual %d", ErrArithmetic, c.RealToken, c.VirtualToken)
	}
	if c.RealBase > c.VirtualBase {
		return fmt.Errorf("%w: real base reserve %d exceeds virtual %d", ErrArithmetic, c.RealBase, c.VirtualBase)
	}
	return nil
}

// SpotPrice returns the marginal price in base units per token unit.
func (c *Curve) SpotPrice() *big.Rat {
	if c == nil {
		return new(big.Rat)
	}
	return spotPrice(c.VirtualBase, c.VirtualToken)
}

// ProgressBps reports how close the curve is to graduation in basis points.
func (c *Curve) ProgressBps() uint64 {
	if c == nil {
		return 0
	}
	if c.Graduated || c.RealBase >= GraduationThreshold {
		return BpsDenominator
	}
	progress, _ := solve(c.RealBase, BpsDenominator, GraduationThreshold)
	return progress
}

// MarketCap values the full supply at the spot price, rounded down, in base units.
func (c *Curve) MarketCap() *big.Int {
	if c == nil || c.VirtualToken == 0 {
		return big.NewInt(0)
	}
	mcap := new(big.Int).Mul(new(big.Int).SetUint64(c.VirtualBase), new(big.Int).SetUint64(c.TotalSupply))
	return mcap.Quo(mcap, new(big.Int).SetUint64(c.VirtualToken))
}

// Side identifies the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Quote is the priced outcome of a trade before slippage and liquidity checks.
type Quote struct {
	Side Side `json:"side"`
	// Input is the amount offered: base units on buys, token units on sells.
	Input uint64 `json:"input"`
	// Output is what the trader receives: tokens on buys, net base on sells.
	Output uint64 `json:"output"`
	Fee    uint64 `json:"fee"`
	// Curve is the amount the pricing function ran on: base after fee on
	// buys, gross base out on sells.
	Curve uint64 `json:"curve"`
	// InsufficientLiquidity is set when the output is not covered by real reserves.
	InsufficientLiquidity bool     `json:"insufficientLiquidity"`
	PriceImpactBps        uint64   `json:"priceImpactBps"`
	SpotBefore            *big.Rat `json:"-"`
	SpotAfter             *big.Rat `json:"-"`
}

// TradeResult reports a committed trade.
type TradeResult struct {
	Quote
	Trader common.Address `json:"trader"`
	// Graduated is set when this trade moved the curve past the threshold.
	Graduated bool   `json:"graduated"`
	Curve     *Curve `json:"curve"`
}

// InitializeParams describes a new curve.
type InitializeParams struct {
	Asset   common.Address
	Creator common.Address
	Name    string
	Symbol  string
	URI     string
}

// BuyParams describes a purchase of tokens with the base asset.
type BuyParams struct {
	Asset        common.Address
	Buyer        common.Address
	BaseAmount   uint64
	MinTokensOut uint64
}

// SellParams describes a sale of tokens for the base asset.
type SellParams struct {
	Asset       common.Address
	Seller      common.Address
	TokenAmount uint64
	MinBaseOut  uint64
}
