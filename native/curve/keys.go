package curve

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	curveSeed = []byte("bonding_curve")
	vaultSeed = []byte("curve_vault")
)

// CurveKey derives the storage key of the curve record for the asset.
func CurveKey(asset common.Address) []byte {
	return ethcrypto.Keccak256(curveSeed, asset.Bytes())
}

// VaultAddress derives the account holding the curve's base asset custody.
func VaultAddress(asset common.Address) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256(vaultSeed, asset.Bytes()))
}
