package curve

import (
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/text/unicode/norm"

	"launchpad/core/events"
)

// State is the view of the platform a single request operates on. Record
// storage and custody share one State so that a request's writes and value
// movements commit together.
type State interface {
	CurveGet(asset common.Address) (*Curve, bool, error)
	CurvePut(curve *Curve) error
	CurveList() ([]*Curve, error)
	// TransferBase moves the reserve asset between accounts.
	TransferBase(from, to common.Address, amount uint64) error
	// MintToken issues curve tokens to the holder. The curve is the sole
	// mint authority of its asset.
	MintToken(asset, to common.Address, amount uint64) error
	// BurnToken retires curve tokens held by the owner.
	BurnToken(asset, from common.Address, amount uint64) error
}

// Ledger provides serialisable access to State. Update must apply every
// write performed by fn or none of them; a non-nil error from fn discards
// the request.
type Ledger interface {
	Update(fn func(State) error) error
	View(fn func(State) error) error
}

// Engine implements the bonding curve request handlers. Writes hold
// commitMu from the ledger update until their events are emitted, so
// emitters observe events in commit order.
type Engine struct {
	ledger  Ledger
	emitter events.Emitter
	nowFn   func() int64
	logger  *slog.Logger

	commitMu sync.Mutex
}

// NewEngine constructs a curve engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
		logger: slog.Default(),
	}
}

// SetState configures the ledger used by the engine.
func (e *Engine) SetState(ledger Ledger) { e.ledger = ledger }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) log() *slog.Logger {
	if e == nil || e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

func isZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}

func sanitizeMetadata(value string, max int, field string, required bool) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(value))
	if required && normalized == "" {
		return "", fmt.Errorf("%w: %s required", ErrInvalidMetadata, field)
	}
	if len(normalized) > max {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidMetadata, field, max)
	}
	return normalized, nil
}

func loadCurve(st State, op string, asset common.Address) (*Curve, error) {
	curve, ok, err := st.CurveGet(asset)
	if err != nil {
		return nil, err
	}
	if !ok || curve == nil {
		return nil, reject(ErrCurveNotFound, op, asset, "")
	}
	return curve, nil
}

// Initialize creates the curve record for a newly issued asset. The record
// key derives from the asset, so a second call for the same asset fails.
func (e *Engine) Initialize(params InitializeParams) (*Curve, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNilState
	}
	if isZeroAddress(params.Asset) {
		return nil, reject(ErrInvalidAccount, "initialize", params.Asset, "asset required")
	}
	if isZeroAddress(params.Creator) {
		return nil, reject(ErrInvalidAccount, "initialize", params.Asset, "creator required")
	}
	name, err := sanitizeMetadata(params.Name, MaxNameLength, "name", true)
	if err != nil {
		return nil, err
	}
	symbol, err := sanitizeMetadata(params.Symbol, MaxSymbolLength, "symbol", true)
	if err != nil {
		return nil, err
	}
	uri, err := sanitizeMetadata(params.URI, MaxURILength, "uri", false)
	if err != nil {
		return nil, err
	}
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	var created *Curve
	err = e.ledger.Update(func(st State) error {
		if _, ok, err := st.CurveGet(params.Asset); err != nil {
			return err
		} else if ok {
			return reject(ErrAlreadyExists, "initialize", params.Asset, "")
		}
		curve := NewCurve(params.Asset, params.Creator, name, symbol, uri, e.now())
		if err := st.CurvePut(curve); err != nil {
			return err
		}
		created = curve
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log().Info("curve initialized", "asset", created.Asset.Hex(), "creator", created.Creator.Hex(), "symbol", created.Symbol)
	e.emit(CurveCreated{Curve: created.Clone()})
	return created.Clone(), nil
}

// quoteBuy prices a purchase without checking slippage bounds. A zero
// amount prices to zero output.
func quoteBuy(curve *Curve, baseAmount uint64) (*Quote, error) {
	if curve.Graduated {
		return nil, reject(ErrAlreadyGraduated, "buy", curve.Asset, "")
	}
	fee := Fee(baseAmount)
	afterFee := baseAmount - fee
	tokensOut, err := TokensOut(afterFee, curve.VirtualBase, curve.VirtualToken)
	if err != nil {
		return nil, reject(ErrArithmetic, "buy", curve.Asset, "base_in=%d virtual_base=%d virtual_token=%d", afterFee, curve.VirtualBase, curve.VirtualToken)
	}
	q := &Quote{
		Side:                  SideBuy,
		Input:                 baseAmount,
		Output:                tokensOut,
		Fee:                   fee,
		Curve:                 afterFee,
		InsufficientLiquidity: tokensOut > curve.RealToken,
		SpotBefore:            curve.SpotPrice(),
	}
	afterBase := curve.VirtualBase + afterFee
	afterToken := curve.VirtualToken - tokensOut
	q.SpotAfter = spotPrice(afterBase, afterToken)
	q.PriceImpactBps = priceImpactBps(curve.VirtualBase, curve.VirtualToken, afterBase, afterToken)
	return q, nil
}

// quoteSell prices a sale without checking slippage bounds. A zero amount
// prices to zero output.
func quoteSell(curve *Curve, tokenAmount uint64) (*Quote, error) {
	if curve.Graduated {
		return nil, reject(ErrAlreadyGraduated, "sell", curve.Asset, "")
	}
	gross, err := BaseOut(tokenAmount, curve.VirtualBase, curve.VirtualToken)
	if err != nil {
		return nil, reject(ErrArithmetic, "sell", curve.Asset, "tokens_in=%d virtual_base=%d virtual_token=%d", tokenAmount, curve.VirtualBase, curve.VirtualToken)
	}
	fee := Fee(gross)
	net := gross - fee
	q := &Quote{
		Side:                  SideSell,
		Input:                 tokenAmount,
		Output:                net,
		Fee:                   fee,
		Curve:                 gross,
		InsufficientLiquidity: net > curve.RealBase,
		SpotBefore:            curve.SpotPrice(),
	}
	afterBase := curve.VirtualBase - gross
	afterToken := curve.VirtualToken + tokenAmount
	q.SpotAfter = spotPrice(afterBase, afterToken)
	q.PriceImpactBps = priceImpactBps(curve.VirtualBase, curve.VirtualToken, afterBase, afterToken)
	return q, nil
}

// PriceBuy quotes a buy against an arbitrary record without touching state.
func PriceBuy(c *Curve, baseAmount uint64) (*Quote, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil curve", ErrArithmetic)
	}
	return quoteBuy(c, baseAmount)
}

// PriceSell quotes a sell against an arbitrary record without touching state.
func PriceSell(c *Curve, tokenAmount uint64) (*Quote, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil curve", ErrArithmetic)
	}
	return quoteSell(c, tokenAmount)
}

// applyBuy returns the record after a buy priced by q.
func applyBuy(curve *Curve, q *Quote, now int64) (*Curve, bool, error) {
	next := curve.Clone()
	var carry uint64
	next.VirtualBase, carry = bits.Add64(curve.VirtualBase, q.Curve, 0)
	if carry != 0 {
		return nil, false, ErrArithmetic
	}
	next.RealBase, carry = bits.Add64(curve.RealBase, q.Curve, 0)
	if carry != 0 {
		return nil, false, ErrArithmetic
	}
	next.CustodyFees, carry = bits.Add64(curve.CustodyFees, q.Fee, 0)
	if carry != 0 {
		return nil, false, ErrArithmetic
	}
	if q.Output > curve.VirtualToken || q.Output > curve.RealToken {
		return nil, false, ErrArithmetic
	}
	next.VirtualToken = curve.VirtualToken - q.Output
	next.RealToken = curve.RealToken - q.Output
	next.Nonce = curve.Nonce + 1
	graduated := false
	if next.RealBase >= GraduationThreshold {
		next.Graduated = true
		next.GraduatedAt = now
		graduated = true
	}
	if err := next.CheckInvariants(); err != nil {
		return nil, false, err
	}
	return next, graduated, nil
}

// applySell returns the record after a sell priced by q. The gross amount
// leaves the virtual reserve while only the net amount leaves real custody.
func applySell(curve *Curve, q *Quote) (*Curve, error) {
	next := curve.Clone()
	if q.Curve > curve.VirtualBase || q.Output > curve.RealBase {
		return nil, ErrArithmetic
	}
	next.VirtualBase = curve.VirtualBase - q.Curve
	next.RealBase = curve.RealBase - q.Output
	var carry uint64
	next.VirtualToken, carry = bits.Add64(curve.VirtualToken, q.Input, 0)
	if carry != 0 {
		return nil, ErrArithmetic
	}
	next.RealToken, carry = bits.Add64(curve.RealToken, q.Input, 0)
	if carry != 0 {
		return nil, ErrArithmetic
	}
	next.Nonce = curve.Nonce + 1
	if err := next.CheckInvariants(); err != nil {
		return nil, err
	}
	return next, nil
}

// Buy exchanges the base asset for newly minted curve tokens.
func (e *Engine) Buy(params BuyParams) (*TradeResult, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNilState
	}
	if isZeroAddress(params.Buyer) {
		return nil, reject(ErrInvalidAccount, "buy", params.Asset, "buyer required")
	}
	now := e.now()
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	var result *TradeResult
	err := e.ledger.Update(func(st State) error {
		curve, err := loadCurve(st, "buy", params.Asset)
		if err != nil {
			return err
		}
		if curve.Graduated {
			return reject(ErrAlreadyGraduated, "buy", params.Asset, "")
		}
		if params.BaseAmount == 0 {
			return reject(ErrInvalidAmount, "buy", params.Asset, "base_amount must be positive")
		}
		q, err := quoteBuy(curve, params.BaseAmount)
		if err != nil {
			return err
		}
		if q.Output < params.MinTokensOut {
			return reject(ErrSlippageExceeded, "buy", params.Asset, "tokens_out=%d < min_tokens_out=%d", q.Output, params.MinTokensOut)
		}
		if q.InsufficientLiquidity {
			return reject(ErrInsufficientLiquidity, "buy", params.Asset, "tokens_out=%d > real_token_reserve=%d", q.Output, curve.RealToken)
		}
		next, graduated, err := applyBuy(curve, q, now)
		if err != nil {
			return reject(ErrArithmetic, "buy", params.Asset, "%v", err)
		}
		if err := st.TransferBase(params.Buyer, VaultAddress(params.Asset), params.BaseAmount); err != nil {
			return fmt.Errorf("buy %s: deposit: %w", params.Asset.Hex(), err)
		}
		if err := st.MintToken(params.Asset, params.Buyer, q.Output); err != nil {
			return fmt.Errorf("buy %s: mint: %w", params.Asset.Hex(), err)
		}
		if err := st.CurvePut(next); err != nil {
			return err
		}
		result = &TradeResult{Quote: *q, Trader: params.Buyer, Graduated: graduated, Curve: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log().Debug("curve buy", "asset", params.Asset.Hex(), "buyer", params.Buyer.Hex(), "base", result.Input, "tokens", result.Output, "fee", result.Fee)
	e.emit(Trade{
		Asset:     params.Asset,
		Trader:    params.Buyer,
		Side:      SideBuy,
		Input:     result.Input,
		Output:    result.Output,
		Fee:       result.Fee,
		Nonce:     result.Curve.Nonce,
		Curve:     result.Curve.Clone(),
		Timestamp: now,
	})
	if result.Graduated {
		e.log().Info("curve graduated", "asset", params.Asset.Hex(), "realBase", result.Curve.RealBase)
		e.emit(CurveGraduated{Asset: params.Asset, RealBase: result.Curve.RealBase, Timestamp: now})
	}
	result.Curve = result.Curve.Clone()
	return result, nil
}

// Sell burns curve tokens and pays out the base asset net of the fee. The
// fee stays in curve custody as part of the real base reserve.
func (e *Engine) Sell(params SellParams) (*TradeResult, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNilState
	}
	if isZeroAddress(params.Seller) {
		return nil, reject(ErrInvalidAccount, "sell", params.Asset, "seller required")
	}
	now := e.now()
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	var result *TradeResult
	err := e.ledger.Update(func(st State) error {
		curve, err := loadCurve(st, "sell", params.Asset)
		if err != nil {
			return err
		}
		if curve.Graduated {
			return reject(ErrAlreadyGraduated, "sell", params.Asset, "")
		}
		if params.TokenAmount == 0 {
			return reject(ErrInvalidAmount, "sell", params.Asset, "token_amount must be positive")
		}
		q, err := quoteSell(curve, params.TokenAmount)
		if err != nil {
			return err
		}
		if q.Output < params.MinBaseOut {
			return reject(ErrSlippageExceeded, "sell", params.Asset, "base_out=%d < min_base_out=%d", q.Output, params.MinBaseOut)
		}
		if q.InsufficientLiquidity {
			return reject(ErrInsufficientLiquidity, "sell", params.Asset, "base_out=%d > real_base_reserve=%d", q.Output, curve.RealBase)
		}
		next, err := applySell(curve, q)
		if err != nil {
			return reject(ErrArithmetic, "sell", params.Asset, "%v", err)
		}
		if err := st.BurnToken(params.Asset, params.Seller, params.TokenAmount); err != nil {
			return fmt.Errorf("sell %s: burn: %w", params.Asset.Hex(), err)
		}
		if q.Output > 0 {
			if err := st.TransferBase(VaultAddress(params.Asset), params.Seller, q.Output); err != nil {
				return fmt.Errorf("sell %s: payout: %w", params.Asset.Hex(), err)
			}
		}
		if err := st.CurvePut(next); err != nil {
			return err
		}
		result = &TradeResult{Quote: *q, Trader: params.Seller, Curve: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log().Debug("curve sell", "asset", params.Asset.Hex(), "seller", params.Seller.Hex(), "tokens", result.Input, "base", result.Output, "fee", result.Fee)
	e.emit(Trade{
		Asset:     params.Asset,
		Trader:    params.Seller,
		Side:      SideSell,
		Input:     result.Input,
		Output:    result.Output,
		Fee:       result.Fee,
		Nonce:     result.Curve.Nonce,
		Curve:     result.Curve.Clone(),
		Timestamp: now,
	})
	result.Curve = result.Curve.Clone()
	return result, nil
}

// QuoteBuy prices a buy against the current reserves without mutating state.
func (e *Engine) QuoteBuy(asset common.Address, baseAmount uint64) (*Quote, error) {
	return e.quote(asset, "buy", func(c *Curve) (*Quote, error) { return quoteBuy(c, baseAmount) })
}

// QuoteSell prices a sell against the current reserves without mutating state.
func (e *Engine) QuoteSell(asset common.Address, tokenAmount uint64) (*Quote, error) {
	return e.quote(asset, "sell", func(c *Curve) (*Quote, error) { return quoteSell(c, tokenAmount) })
}

func (e *Engine) quote(asset common.Address, op string, price func(*Curve) (*Quote, error)) (*Quote, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNilState
	}
	var q *Quote
	err := e.ledger.View(func(st State) error {
		curve, err := loadCurve(st, op, asset)
		if err != nil {
			return err
		}
		q, err = price(curve)
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Curve returns a snapshot of the record for the asset.
func (e *Engine) Curve(asset common.Address) (*Curve, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNilState
	}
	var out *Curve
	err := e.ledger.View(func(st State) error {
		curve, err := loadCurve(st, "get", asset)
		if err != nil {
			return err
		}
		out = curve.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Curves returns every record ordered by creation time.
func (e *Engine) Curves() ([]*Curve, error) {
	if e == nil || e.ledger == nil {
		return nil, ErrNilState
	}
	var out []*Curve
	err := e.ledger.View(func(st State) error {
		list, err := st.CurveList()
		if err != nil {
			return err
		}
		out = make([]*Curve, 0, len(list))
		for _, c := range list {
			out = append(out, c.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return strings.Compare(out[i].Asset.Hex(), out[j].Asset.Hex()) < 0
	})
	return out, nil
}

// IsRejection reports whether err is one of the request rejection kinds as
// opposed to a storage or custody failure.
func IsRejection(err error) bool {
	var tradeErr *TradeError
	return errors.As(err, &tradeErr)
}
