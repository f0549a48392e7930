package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"launchpad/native/curve"
)

// storedCurve is the RLP layout of a curve record. Timestamps are unix
// seconds and never negative.
type storedCurve struct {
	Version      uint8
	Asset        common.Address
	Creator      common.Address
	VirtualBase  uint64
	VirtualToken uint64
	RealBase     uint64
	RealToken    uint64
	TotalSupply  uint64
	CustodyFees  uint64
	Graduated    bool
	GraduatedAt  uint64
	CreatedAt    uint64
	Name         string
	Symbol       string
	URI          string
	Nonce        uint64 `rlp:"optional"`
}

func newStoredCurve(c *curve.Curve) *storedCurve {
	return &storedCurve{
		Version:      c.Version,
		Asset:        c.Asset,
		Creator:      c.Creator,
		VirtualBase:  c.VirtualBase,
		VirtualToken: c.VirtualToken,
		RealBase:     c.RealBase,
		RealToken:    c.RealToken,
		TotalSupply:  c.TotalSupply,
		CustodyFees:  c.CustodyFees,
		Graduated:    c.Graduated,
		GraduatedAt:  uint64(c.GraduatedAt),
		CreatedAt:    uint64(c.CreatedAt),
		Name:         c.Name,
		Symbol:       c.Symbol,
		URI:          c.URI,
		Nonce:        c.Nonce,
	}
}

func (s *storedCurve) toCurve() *curve.Curve {
	return &curve.Curve{
		Version:      s.Version,
		Asset:        s.Asset,
		Creator:      s.Creator,
		VirtualBase:  s.VirtualBase,
		VirtualToken: s.VirtualToken,
		RealBase:     s.RealBase,
		RealToken:    s.RealToken,
		TotalSupply:  s.TotalSupply,
		CustodyFees:  s.CustodyFees,
		Graduated:    s.Graduated,
		GraduatedAt:  int64(s.GraduatedAt),
		CreatedAt:    int64(s.CreatedAt),
		Name:         s.Name,
		Symbol:       s.Symbol,
		URI:          s.URI,
		Nonce:        s.Nonce,
	}
}

func decodeCurve(data []byte) (*curve.Curve, error) {
	stored := new(storedCurve)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("state: decode curve: %w", err)
	}
	return stored.toCurve(), nil
}

func (t *txn) CurveGet(asset common.Address) (*curve.Curve, bool, error) {
	data, ok, err := t.get(curveStorageKey(asset))
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := decodeCurve(data)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

func (t *txn) CurvePut(c *curve.Curve) error {
	if c == nil {
		return fmt.Errorf("state: nil curve")
	}
	if c.CreatedAt < 0 || c.GraduatedAt < 0 {
		return fmt.Errorf("state: negative timestamp on curve %s", c.Asset.Hex())
	}
	encoded, err := rlp.EncodeToBytes(newStoredCurve(c))
	if err != nil {
		return err
	}
	return t.put(curveStorageKey(c.Asset), encoded)
}

func (t *txn) CurveList() ([]*curve.Curve, error) {
	var out []*curve.Curve
	err := t.iterate(curvePrefix, func(_, value []byte) error {
		record, err := decodeCurve(value)
		if err != nil {
			return err
		}
		out = append(out, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
