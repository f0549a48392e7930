package curve

// Protocol constants. Changing any of these changes the economic contract of
// every curve, so they are versioned through ProtocolVersion rather than
// exposed as configuration.
const (
	// ProtocolVersion is stamped on every curve record.
	ProtocolVersion uint8 = 1

	// TotalSupply is the fixed token supply recorded on each curve.
	TotalSupply uint64 = 1_000_000_000_000_000
	// CurveSupply is the token allocation sold through the curve. It seeds
	// both the virtual and the real token reserve.
	CurveSupply uint64 = 800_000_000_000_000
	// InitialVirtualBase seeds the virtual base reserve so the curve opens
	// at a finite price before any base asset is deposited.
	InitialVirtualBase uint64 = 30_000_000_000
	// GraduationThreshold is the real base reserve at which trading stops.
	GraduationThreshold uint64 = 85_000_000_000

	// FeeBps is the trading fee in basis points.
	FeeBps uint64 = 100
	// BpsDenominator converts basis points into a ratio.
	BpsDenominator uint64 = 10_000

	// TokenDecimals is the precision of curve tokens.
	TokenDecimals uint8 = 6
	// BaseDecimals is the precision of the reserve asset.
	BaseDecimals uint8 = 9

	MaxNameLength   = 32
	MaxSymbolLength = 10
	MaxURILength    = 200
)
