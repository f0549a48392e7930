package curve

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrAlreadyExists is returned when a curve is initialised twice for the same asset.
	ErrAlreadyExists = errors.New("curve: already exists")
	// ErrAlreadyGraduated is returned for trades against a graduated curve.
	ErrAlreadyGraduated = errors.New("curve: already graduated")
	// ErrInvalidAmount is returned for zero or malformed trade amounts.
	ErrInvalidAmount = errors.New("curve: invalid amount")
	// ErrSlippageExceeded is returned when the computed output is below the caller's bound.
	ErrSlippageExceeded = errors.New("curve: slippage exceeded")
	// ErrInsufficientLiquidity is returned when the output exceeds the real reserves.
	ErrInsufficientLiquidity = errors.New("curve: insufficient liquidity")
	// ErrArithmetic is returned on overflow or underflow in curve math.
	ErrArithmetic = errors.New("curve: arithmetic error")

	// ErrCurveNotFound is returned when no curve exists for the asset.
	ErrCurveNotFound = errors.New("curve: not found")
	// ErrInvalidMetadata is returned when name, symbol or uri violate their bounds.
	ErrInvalidMetadata = errors.New("curve: invalid metadata")
	// ErrInvalidAccount is returned when a required identity is the zero address.
	ErrInvalidAccount = errors.New("curve: invalid account")

	// ErrNilState is returned when the engine has no ledger configured.
	ErrNilState = errors.New("curve engine: state not configured")
)

// TradeError describes a rejected request. It unwraps to one of the sentinel
// kinds above so callers can match it with errors.Is.
type TradeError struct {
	Kind   error
	Op     string
	Asset  common.Address
	Detail string
}

func (e *TradeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Asset.Hex(), e.Kind)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *TradeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

func reject(kind error, op string, asset common.Address, format string, args ...any) error {
	detail := ""
	if format != "" {
		detail = fmt.Sprintf(format, args...)
	}
	return &TradeError{Kind: kind, Op: op, Asset: asset, Detail: detail}
}
