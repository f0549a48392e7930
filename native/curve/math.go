package curve

import (
	"math/big"
	"math/bits"

	"github.com/holiman/uint256"
)

// TokensOut returns the tokens released for baseIn under reserveBase ×
// reserveToken = k. The new token reserve is the truncated quotient
// k / (reserveBase + baseIn), so the post-trade product never exceeds k.
func TokensOut(baseIn, reserveBase, reserveToken uint64) (uint64, error) {
	if reserveBase == 0 || reserveToken == 0 {
		return 0, ErrArithmetic
	}
	newBase, carry := bits.Add64(reserveBase, baseIn, 0)
	if carry != 0 {
		return 0, ErrArithmetic
	}
	newToken, err := solve(reserveBase, reserveToken, newBase)
	if err != nil {
		return 0, err
	}
	if newToken > reserveToken {
		return 0, ErrArithmetic
	}
	return reserveToken - newToken, nil
}

// BaseOut returns the gross base amount released for tokensIn. It mirrors
// TokensOut with the roles of the reserves swapped.
func BaseOut(tokensIn, reserveBase, reserveToken uint64) (uint64, error) {
	if reserveBase == 0 || reserveToken == 0 {
		return 0, ErrArithmetic
	}
	newToken, carry := bits.Add64(reserveToken, tokensIn, 0)
	if carry != 0 {
		return 0, ErrArithmetic
	}
	newBase, err := solve(reserveBase, reserveToken, newToken)
	if err != nil {
		return 0, err
	}
	if newBase > reserveBase {
		return 0, ErrArithmetic
	}
	return reserveBase - newBase, nil
}

// solve returns floor(x*y / divisor) with the product held in 256 bits.
func solve(x, y, divisor uint64) (uint64, error) {
	if divisor == 0 {
		return 0, ErrArithmetic
	}
	k := new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(y))
	out := k.Div(k, uint256.NewInt(divisor))
	if !out.IsUint64() {
		return 0, ErrArithmetic
	}
	return out.Uint64(), nil
}

// Fee returns amount × FeeBps / BpsDenominator rounded down.
func Fee(amount uint64) uint64 {
	fee, _ := solve(amount, FeeBps, BpsDenominator)
	return fee
}

// Product returns reserveBase × reserveToken without truncation.
func Product(reserveBase, reserveToken uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(reserveBase), uint256.NewInt(reserveToken))
}

func spotPrice(reserveBase, reserveToken uint64) *big.Rat {
	if reserveToken == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(reserveBase), new(big.Int).SetUint64(reserveToken))
}

// priceImpactBps compares the spot price before and after a trade. The
// result is the absolute change in basis points, rounded down.
func priceImpactBps(beforeBase, beforeToken, afterBase, afterToken uint64) uint64 {
	if beforeBase == 0 || beforeToken == 0 || afterToken == 0 {
		return 0
	}
	// (afterBase/afterToken) / (beforeBase/beforeToken) expressed as a ratio of products.
	num := new(big.Int).Mul(new(big.Int).SetUint64(afterBase), new(big.Int).SetUint64(beforeToken))
	den := new(big.Int).Mul(new(big.Int).SetUint64(beforeBase), new(big.Int).SetUint64(afterToken))
	diff := new(big.Int).Sub(num, den)
	diff.Abs(diff)
	diff.Mul(diff, new(big.Int).SetUint64(BpsDenominator))
	diff.Quo(diff, den)
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}
