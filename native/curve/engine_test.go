package curve

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/core/events"
)

var (
	testAsset   = common.HexToAddress("0x00000000000000000000000000000000000a55e7")
	testCreator = common.HexToAddress("0x000000000000000000000000000000000000c0de")
	testBuyer   = common.HexToAddress("0x00000000000000000000000000000000000b0b01")
	testSeller  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

var errMockBalance = errors.New("mock: insufficient balance")

type mockState struct {
	curves   map[common.Address]*Curve
	base     map[common.Address]uint64
	tokens   map[common.Address]map[common.Address]uint64
	supply   map[common.Address]uint64
	failMint error
}

func newMockState() *mockState {
	return &mockState{
		curves: make(map[common.Address]*Curve),
		base:   make(map[common.Address]uint64),
		tokens: make(map[common.Address]map[common.Address]uint64),
		supply: make(map[common.Address]uint64),
	}
}

func (m *mockState) clone() *mockState {
	out := newMockState()
	for k, v := range m.curves {
		out.curves[k] = v.Clone()
	}
	for k, v := range m.base {
		out.base[k] = v
	}
	for asset, holders := range m.tokens {
		copied := make(map[common.Address]uint64, len(holders))
		for k, v := range holders {
			copied[k] = v
		}
		out.tokens[asset] = copied
	}
	for k, v := range m.supply {
		out.supply[k] = v
	}
	out.failMint = m.failMint
	return out
}

func (m *mockState) CurveGet(asset common.Address) (*Curve, bool, error) {
	c, ok := m.curves[asset]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (m *mockState) CurvePut(c *Curve) error {
	m.curves[c.Asset] = c.Clone()
	return nil
}

func (m *mockState) CurveList() ([]*Curve, error) {
	out := make([]*Curve, 0, len(m.curves))
	for _, c := range m.curves {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *mockState) TransferBase(from, to common.Address, amount uint64) error {
	if m.base[from] < amount {
		return errMockBalance
	}
	m.base[from] -= amount
	m.base[to] += amount
	return nil
}

func (m *mockState) MintToken(asset, to common.Address, amount uint64) error {
	if m.failMint != nil {
		return m.failMint
	}
	if m.tokens[asset] == nil {
		m.tokens[asset] = make(map[common.Address]uint64)
	}
	m.tokens[asset][to] += amount
	m.supply[asset] += amount
	return nil
}

func (m *mockState) BurnToken(asset, from common.Address, amount uint64) error {
	if m.tokens[asset][from] < amount {
		return errMockBalance
	}
	m.tokens[asset][from] -= amount
	m.supply[asset] -= amount
	return nil
}

// mockLedger applies each update to a copy and swaps it in on success.
type mockLedger struct {
	state   *mockState
	updates int
}

func (l *mockLedger) Update(fn func(State) error) error {
	l.updates++
	working := l.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	l.state = working
	return nil
}

func (l *mockLedger) View(fn func(State) error) error {
	return fn(l.state.clone())
}

func newTestEngine(t *testing.T) (*Engine, *mockLedger, *events.Recorder) {
	t.Helper()
	ledger := &mockLedger{state: newMockState()}
	recorder := &events.Recorder{}
	engine := NewEngine()
	engine.SetState(ledger)
	engine.SetEmitter(recorder)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if _, err := engine.Initialize(InitializeParams{
		Asset:   testAsset,
		Creator: testCreator,
		Name:    "Test Token",
		Symbol:  "TEST",
		URI:     "https://example.com/test.json",
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine, ledger, recorder
}

func mustCurve(t *testing.T, ledger *mockLedger) Curve {
	t.Helper()
	c, ok := ledger.state.curves[testAsset]
	if !ok {
		t.Fatalf("curve missing")
	}
	return *c
}

func checkAccounting(t *testing.T, ledger *mockLedger) {
	t.Helper()
	c := mustCurve(t, ledger)
	if err := c.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	vault := ledger.state.base[VaultAddress(testAsset)]
	if vault != c.RealBase+c.CustodyFees {
		t.Fatalf("vault %d != real base %d + fees %d", vault, c.RealBase, c.CustodyFees)
	}
	if supply := ledger.state.supply[testAsset]; supply != CurveSupply-c.RealToken {
		t.Fatalf("supply %d != issued %d", supply, CurveSupply-c.RealToken)
	}
}

func TestInitializeCreatesRecord(t *testing.T) {
	_, ledger, recorder := newTestEngine(t)
	c := mustCurve(t, ledger)
	if c.VirtualBase != InitialVirtualBase || c.VirtualToken != CurveSupply {
		t.Fatalf("unexpected virtual reserves: %d/%d", c.VirtualBase, c.VirtualToken)
	}
	if c.RealBase != 0 || c.RealToken != CurveSupply {
		t.Fatalf("unexpected real reserves: %d/%d", c.RealBase, c.RealToken)
	}
	if c.TotalSupply != TotalSupply || c.Graduated || c.Version != ProtocolVersion {
		t.Fatalf("unexpected record: %+v", c)
	}
	if c.Creator != testCreator || c.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected creator or timestamp: %+v", c)
	}
	evts := recorder.Events()
	if len(evts) != 1 || evts[0].EventType() != EventTypeCurveCreated {
		t.Fatalf("unexpected events: %+v", evts)
	}
}

func TestInitializeRejectsDuplicate(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	before := mustCurve(t, ledger)
	_, err := engine.Initialize(InitializeParams{Asset: testAsset, Creator: testBuyer, Name: "Other", Symbol: "OTH"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if after := mustCurve(t, ledger); after != before {
		t.Fatalf("record changed: %+v", after)
	}
}

func TestInitializeValidatesMetadata(t *testing.T) {
	ledger := &mockLedger{state: newMockState()}
	engine := NewEngine()
	engine.SetState(ledger)
	asset := common.HexToAddress("0x01")
	cases := []struct {
		name   string
		params InitializeParams
		want   error
	}{
		{"name too long", InitializeParams{Asset: asset, Creator: testCreator, Name: "abcdefghijklmnopqrstuvwxyz0123456", Symbol: "S"}, ErrInvalidMetadata},
		{"symbol too long", InitializeParams{Asset: asset, Creator: testCreator, Name: "n", Symbol: "ABCDEFGHIJK"}, ErrInvalidMetadata},
		{"missing symbol", InitializeParams{Asset: asset, Creator: testCreator, Name: "n", Symbol: "  "}, ErrInvalidMetadata},
		{"uri too long", InitializeParams{Asset: asset, Creator: testCreator, Name: "n", Symbol: "S", URI: string(make([]byte, MaxURILength+1))}, ErrInvalidMetadata},
		{"zero creator", InitializeParams{Asset: asset, Name: "n", Symbol: "S"}, ErrInvalidAccount},
		{"zero asset", InitializeParams{Creator: testCreator, Name: "n", Symbol: "S"}, ErrInvalidAccount},
	}
	for _, tc := range cases {
		if _, err := engine.Initialize(tc.params); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if ledger.updates != 0 {
		t.Fatalf("rejected metadata reached the ledger")
	}

	// Decomposed form normalises to the composed one.
	c, err := engine.Initialize(InitializeParams{Asset: asset, Creator: testCreator, Name: "Cafe\u0301", Symbol: "CAF"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if c.Name != "Caf\u00e9" {
		t.Fatalf("expected NFC name, got %q", c.Name)
	}
}

func TestBuyScenario(t *testing.T) {
	engine, ledger, recorder := newTestEngine(t)
	ledger.state.base[testBuyer] = 1_000_000_000

	res, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000_000_000})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Fee != 10_000_000 || res.Quote.Curve != 990_000_000 {
		t.Fatalf("unexpected fee split: fee=%d net=%d", res.Fee, res.Quote.Curve)
	}
	if res.Output != 25_556_631_171_346 {
		t.Fatalf("unexpected tokens out: %d", res.Output)
	}
	c := mustCurve(t, ledger)
	if c.VirtualBase != 30_990_000_000 || c.RealBase != 990_000_000 {
		t.Fatalf("unexpected base reserves: %d/%d", c.VirtualBase, c.RealBase)
	}
	if c.VirtualToken != CurveSupply-res.Output || c.RealToken != CurveSupply-res.Output {
		t.Fatalf("unexpected token reserves: %d/%d", c.VirtualToken, c.RealToken)
	}
	if c.CustodyFees != 10_000_000 {
		t.Fatalf("unexpected custody fees: %d", c.CustodyFees)
	}
	if ledger.state.base[testBuyer] != 0 || ledger.state.base[VaultAddress(testAsset)] != 1_000_000_000 {
		t.Fatalf("full amount not moved into custody")
	}
	if ledger.state.tokens[testAsset][testBuyer] != res.Output {
		t.Fatalf("tokens not minted to buyer")
	}
	checkAccounting(t, ledger)

	evts := recorder.Events()
	if len(evts) != 2 || evts[1].EventType() != EventTypeTradeBuy {
		t.Fatalf("unexpected events: %+v", evts)
	}
	rendered, ok := events.Render(evts[1])
	if !ok || rendered.Attributes["output"] != "25556631171346" || rendered.Attributes["fee"] != "10000000" {
		t.Fatalf("unexpected trade event: %+v", rendered)
	}
}

func TestBuySmallestUnit(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	ledger.state.base[testBuyer] = 10

	before := mustCurve(t, ledger)
	_, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1, MinTokensOut: 26_668})
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected slippage, got %v", err)
	}
	if after := mustCurve(t, ledger); after != before {
		t.Fatalf("record changed on rejection")
	}

	res, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1, MinTokensOut: 26_667})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Fee != 0 || res.Output != 26_667 {
		t.Fatalf("unexpected result: fee=%d out=%d", res.Fee, res.Output)
	}
	checkAccounting(t, ledger)
}

func TestZeroAmountRejected(t *testing.T) {
	engine, ledger, recorder := newTestEngine(t)
	if _, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := engine.Sell(SellParams{Asset: testAsset, Seller: testSeller}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if got := len(recorder.Events()); got != 1 {
		t.Fatalf("rejected trades emitted events: %d", got)
	}
	checkAccounting(t, ledger)
}

func TestZeroQuotePricesToZero(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	before := mustCurve(t, ledger)
	buy, err := engine.QuoteBuy(testAsset, 0)
	if err != nil {
		t.Fatalf("quote buy: %v", err)
	}
	if buy.Output != 0 || buy.Fee != 0 || buy.PriceImpactBps != 0 || buy.InsufficientLiquidity {
		t.Fatalf("unexpected zero buy quote: %+v", buy)
	}
	sell, err := engine.QuoteSell(testAsset, 0)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	if sell.Output != 0 || sell.Fee != 0 || sell.PriceImpactBps != 0 || sell.InsufficientLiquidity {
		t.Fatalf("unexpected zero sell quote: %+v", sell)
	}
	if buy.SpotBefore.Cmp(buy.SpotAfter) != 0 || sell.SpotBefore.Cmp(sell.SpotAfter) != 0 {
		t.Fatalf("zero quote moved the spot price")
	}
	if after := mustCurve(t, ledger); after != before {
		t.Fatalf("quotes mutated state")
	}
}

func TestUnknownCurve(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	other := common.HexToAddress("0xdead")
	if _, err := engine.Buy(BuyParams{Asset: other, Buyer: testBuyer, BaseAmount: 1}); !errors.Is(err, ErrCurveNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := engine.QuoteSell(other, 1); !errors.Is(err, ErrCurveNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := engine.Curve(other); !errors.Is(err, ErrCurveNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoundTripLosesValue(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	ledger.state.base[testBuyer] = 1_000_000_000

	bought, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000_000_000})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	sold, err := engine.Sell(SellParams{Asset: testAsset, Seller: testBuyer, TokenAmount: bought.Output})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sold.Output >= 1_000_000_000 {
		t.Fatalf("round trip returned %d, expected less than input", sold.Output)
	}
	if sold.Output != 980_100_001 || sold.Fee != 9_900_000 {
		t.Fatalf("unexpected sell result: out=%d fee=%d", sold.Output, sold.Fee)
	}
	c := mustCurve(t, ledger)
	// Gross leaves the virtual reserve, net leaves real custody.
	if c.VirtualBase != 30_990_000_000-990_000_001 {
		t.Fatalf("unexpected virtual base: %d", c.VirtualBase)
	}
	if c.RealBase != 990_000_000-980_100_001 {
		t.Fatalf("unexpected real base: %d", c.RealBase)
	}
	if c.RealToken != CurveSupply || ledger.state.supply[testAsset] != 0 {
		t.Fatalf("tokens not burned back: real=%d supply=%d", c.RealToken, ledger.state.supply[testAsset])
	}
	if ledger.state.base[testBuyer] != sold.Output {
		t.Fatalf("seller not paid")
	}
	checkAccounting(t, ledger)
}

func TestQuotesAreIdempotent(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	ledger.state.base[testBuyer] = 5_000_000_000
	if _, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 5_000_000_000}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	before := mustCurve(t, ledger)
	updates := ledger.updates

	first, err := engine.QuoteBuy(testAsset, 123_456_789)
	if err != nil {
		t.Fatalf("quote buy: %v", err)
	}
	second, err := engine.QuoteBuy(testAsset, 123_456_789)
	if err != nil {
		t.Fatalf("quote buy: %v", err)
	}
	if first.Output != second.Output || first.Fee != second.Fee || first.PriceImpactBps != second.PriceImpactBps {
		t.Fatalf("quote buy not idempotent: %+v vs %+v", first, second)
	}
	sellA, err := engine.QuoteSell(testAsset, 1_000_000_000)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	sellB, err := engine.QuoteSell(testAsset, 1_000_000_000)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	if sellA.Output != sellB.Output || sellA.Fee != sellB.Fee {
		t.Fatalf("quote sell not idempotent: %+v vs %+v", sellA, sellB)
	}
	if after := mustCurve(t, ledger); after != before || ledger.updates != updates {
		t.Fatalf("quotes mutated state")
	}

	// A quote matches the trade that follows it.
	res, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 0})
	if !errors.Is(err, ErrInvalidAmount) || res != nil {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	ledger.state.base[testBuyer] = 123_456_789
	res, err = engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 123_456_789, MinTokensOut: first.Output})
	if err != nil {
		t.Fatalf("buy at quoted bound: %v", err)
	}
	if res.Output != first.Output {
		t.Fatalf("trade output %d differs from quote %d", res.Output, first.Output)
	}
}

func TestGraduationFlipsOnce(t *testing.T) {
	engine, ledger, recorder := newTestEngine(t)
	ledger.state.base[testBuyer] = 85_858_585_857 + 2

	res, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 85_858_585_857})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Graduated || res.Curve.Graduated {
		t.Fatalf("graduated early at real base %d", res.Curve.RealBase)
	}
	if res.Curve.RealBase != GraduationThreshold-1 || res.Output != 591_304_347_824_273 {
		t.Fatalf("unexpected state: real=%d out=%d", res.Curve.RealBase, res.Output)
	}

	res, err = engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1})
	if err != nil {
		t.Fatalf("crossing buy: %v", err)
	}
	if !res.Graduated || !res.Curve.Graduated || res.Curve.GraduatedAt != 1_700_000_000 {
		t.Fatalf("expected graduation: %+v", res.Curve)
	}
	if res.Output != 1_815 {
		t.Fatalf("unexpected tokens out: %d", res.Output)
	}
	checkAccounting(t, ledger)

	graduations := 0
	for _, evt := range recorder.Events() {
		if evt.EventType() == EventTypeCurveGraduated {
			graduations++
		}
	}
	if graduations != 1 {
		t.Fatalf("expected one graduation event, got %d", graduations)
	}
}

func TestGraduatedCurveRejectsTrades(t *testing.T) {
	engine, ledger, recorder := newTestEngine(t)
	ledger.state.base[testBuyer] = GraduationThreshold * 2
	res, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: GraduationThreshold * 2})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !res.Graduated {
		t.Fatalf("expected graduation")
	}
	before := mustCurve(t, ledger)
	emitted := len(recorder.Events())
	ledger.state.base[testBuyer] = 1_000

	if _, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000}); !errors.Is(err, ErrAlreadyGraduated) {
		t.Fatalf("expected graduated, got %v", err)
	}
	// Graduation is checked before the amount.
	if _, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer}); !errors.Is(err, ErrAlreadyGraduated) {
		t.Fatalf("expected graduated, got %v", err)
	}
	if _, err := engine.Sell(SellParams{Asset: testAsset, Seller: testBuyer, TokenAmount: res.Output}); !errors.Is(err, ErrAlreadyGraduated) {
		t.Fatalf("expected graduated, got %v", err)
	}
	if _, err := engine.QuoteBuy(testAsset, 1_000); !errors.Is(err, ErrAlreadyGraduated) {
		t.Fatalf("expected graduated, got %v", err)
	}
	if _, err := engine.QuoteSell(testAsset, 1_000); !errors.Is(err, ErrAlreadyGraduated) {
		t.Fatalf("expected graduated, got %v", err)
	}
	if after := mustCurve(t, ledger); after != before {
		t.Fatalf("graduated record changed")
	}
	if ledger.state.base[testBuyer] != 1_000 {
		t.Fatalf("custody moved on rejected trade")
	}
	if len(recorder.Events()) != emitted {
		t.Fatalf("rejected trades emitted events")
	}
}

func TestSellInsufficientLiquidity(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	ledger.state.base[testBuyer] = 1_000_000_000
	res, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000_000_000})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	// Tokens issued outside the curve are not backed by its real reserve.
	ledger.state.tokens[testAsset][testSeller] = res.Output * 2
	before := mustCurve(t, ledger)

	q, err := engine.QuoteSell(testAsset, res.Output*2)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	if !q.InsufficientLiquidity {
		t.Fatalf("expected quote to flag liquidity: %+v", q)
	}
	_, err = engine.Sell(SellParams{Asset: testAsset, Seller: testSeller, TokenAmount: res.Output * 2})
	if !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	var tradeErr *TradeError
	if !errors.As(err, &tradeErr) || tradeErr.Op != "sell" || tradeErr.Detail == "" {
		t.Fatalf("expected detailed trade error, got %#v", err)
	}
	if after := mustCurve(t, ledger); after != before {
		t.Fatalf("record changed on rejection")
	}
	if ledger.state.tokens[testAsset][testSeller] != res.Output*2 {
		t.Fatalf("tokens burned on rejection")
	}
}

func TestSellSlippage(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	ledger.state.base[testBuyer] = 1_000_000_000
	res, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000_000_000})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	_, err = engine.Sell(SellParams{Asset: testAsset, Seller: testBuyer, TokenAmount: res.Output, MinBaseOut: 980_100_002})
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected slippage, got %v", err)
	}
	checkAccounting(t, ledger)
}

func TestCustodyFailureRollsBack(t *testing.T) {
	engine, ledger, recorder := newTestEngine(t)
	before := mustCurve(t, ledger)
	emitted := len(recorder.Events())

	// No balance: the deposit fails.
	if _, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000}); !errors.Is(err, errMockBalance) {
		t.Fatalf("expected balance error, got %v", err)
	}
	if IsRejection(errMockBalance) {
		t.Fatalf("custody error classified as rejection")
	}

	// Deposit succeeds, mint fails: the deposit must not stick.
	ledger.state.base[testBuyer] = 1_000
	mintErr := errors.New("mint authority unavailable")
	ledger.state.failMint = mintErr
	if _, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000}); !errors.Is(err, mintErr) {
		t.Fatalf("expected mint error, got %v", err)
	}
	if ledger.state.base[testBuyer] != 1_000 || ledger.state.base[VaultAddress(testAsset)] != 0 {
		t.Fatalf("partial custody movement committed")
	}
	if after := mustCurve(t, ledger); after != before {
		t.Fatalf("record changed on custody failure")
	}
	if len(recorder.Events()) != emitted {
		t.Fatalf("failed trade emitted events")
	}

	// Selling tokens the seller does not hold fails at the burn.
	ledger.state.failMint = nil
	if _, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := engine.Sell(SellParams{Asset: testAsset, Seller: testSeller, TokenAmount: 10}); !errors.Is(err, errMockBalance) {
		t.Fatalf("expected burn failure, got %v", err)
	}
	checkAccounting(t, ledger)
}

func TestTradeSequenceKeepsInvariants(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	ledger.state.base[testBuyer] = 100_000_000_000
	steps := []struct {
		buy    bool
		amount uint64
	}{
		{true, 3_000_000_000},
		{true, 17},
		{false, 1_000_000_000_000},
		{true, 12_345_678_901},
		{false, 99_999},
		{false, 250_000_000_000_000},
		{true, 1},
		{true, 40_000_000_000},
		{false, 7},
	}
	for i, step := range steps {
		prev := mustCurve(t, ledger)
		if step.buy {
			if _, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: step.amount}); err != nil {
				t.Fatalf("step %d buy: %v", i, err)
			}
		} else {
			if _, err := engine.Sell(SellParams{Asset: testAsset, Seller: testBuyer, TokenAmount: step.amount}); err != nil {
				t.Fatalf("step %d sell: %v", i, err)
			}
		}
		next := mustCurve(t, ledger)
		before := Product(prev.VirtualBase, prev.VirtualToken)
		after := Product(next.VirtualBase, next.VirtualToken)
		if after.Cmp(before) > 0 {
			t.Fatalf("step %d: product grew", i)
		}
		checkAccounting(t, ledger)
	}
}

func TestCurvesOrdered(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	engine.SetNowFunc(func() int64 { return 1_600_000_000 })
	older := common.HexToAddress("0x0000000000000000000000000000000000000fff")
	if _, err := engine.Initialize(InitializeParams{Asset: older, Creator: testCreator, Name: "Older", Symbol: "OLD"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	list, err := engine.Curves()
	if err != nil {
		t.Fatalf("curves: %v", err)
	}
	if len(list) != 2 || list[0].Asset != older || list[1].Asset != testAsset {
		t.Fatalf("unexpected order: %+v", list)
	}
	list[0].Name = "mutated"
	if ledger.state.curves[older].Name != "Older" {
		t.Fatalf("listing exposed stored record")
	}
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.QuoteBuy(testAsset, 1); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected nil state error, got %v", err)
	}
}

func TestPriceOnSuppliedRecord(t *testing.T) {
	c := NewCurve(testAsset, testCreator, "Name", "SYM", "", 0)
	q, err := PriceBuy(c, 1_000_000_000)
	if err != nil {
		t.Fatalf("price buy: %v", err)
	}
	if q.Output != 25_556_631_171_346 {
		t.Fatalf("unexpected tokens out %d", q.Output)
	}
	if zero, err := PriceSell(c, 0); err != nil || zero.Output != 0 {
		t.Fatalf("expected zero output for zero input, got %+v, %v", zero, err)
	}
	if _, err := PriceBuy(nil, 1); !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected arithmetic error for nil record, got %v", err)
	}
	c.Graduated = true
	if _, err := PriceSell(c, 1); !errors.Is(err, ErrAlreadyGraduated) {
		t.Fatalf("expected graduated rejection, got %v", err)
	}
}

// gatedEmitter parks the first trade of holdFor until release is closed.
type gatedEmitter struct {
	holdFor common.Address
	held    chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	events []events.Event
}

func (g *gatedEmitter) Emit(evt events.Event) {
	if trade, ok := evt.(Trade); ok && trade.Trader == g.holdFor {
		g.once.Do(func() {
			close(g.held)
			<-g.release
		})
	}
	g.mu.Lock()
	g.events = append(g.events, evt)
	g.mu.Unlock()
}

func TestEventsFollowCommitOrder(t *testing.T) {
	engine, ledger, _ := newTestEngine(t)
	gate := &gatedEmitter{holdFor: testBuyer, held: make(chan struct{}), release: make(chan struct{})}
	engine.SetEmitter(gate)
	ledger.state.base[testBuyer] = 1_000_000_000
	ledger.state.base[testSeller] = 86_000_000_000

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testBuyer, BaseAmount: 1_000_000_000})
		errs <- err
	}()
	<-gate.held
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := engine.Buy(BuyParams{Asset: testAsset, Buyer: testSeller, BaseAmount: 86_000_000_000})
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("buy: %v", err)
		}
	}

	final := mustCurve(t, ledger)
	if !final.Graduated || final.Nonce != 2 {
		t.Fatalf("unexpected final record: graduated=%v nonce=%d", final.Graduated, final.Nonce)
	}
	if len(gate.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(gate.events))
	}
	first, ok := gate.events[0].(Trade)
	if !ok || first.Trader != testBuyer || first.Nonce != 1 || first.Curve.RealBase != 990_000_000 {
		t.Fatalf("unexpected first event: %+v", gate.events[0])
	}
	second, ok := gate.events[1].(Trade)
	if !ok || second.Trader != testSeller || second.Nonce != 2 || *second.Curve != final {
		t.Fatalf("unexpected second event: %+v", gate.events[1])
	}
	if _, ok := gate.events[2].(CurveGraduated); !ok {
		t.Fatalf("graduation not emitted last: %+v", gate.events[2])
	}
}

func TestSellRejectedOnceVirtualGapIsSpent(t *testing.T) {
	engine, ledger, recorder := newTestEngine(t)
	// Each sell takes the gross amount from the virtual reserve but only
	// the net amount from the real one. Here the remaining gap is smaller
	// than the fee the next sell would charge.
	c := ledger.state.curves[testAsset]
	c.VirtualBase = 40_000_000_000
	c.RealBase = 39_999_999_995
	c.VirtualToken = 600_000_000_000_000
	c.RealToken = 600_000_000_000_000
	ledger.state.base[VaultAddress(testAsset)] = c.RealBase
	ledger.state.tokens[testAsset] = map[common.Address]uint64{testSeller: 10_000_000_000_000}
	ledger.state.supply[testAsset] = 10_000_000_000_000
	before := *c

	q, err := engine.QuoteSell(testAsset, 10_000_000_000_000)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	if q.Fee <= c.VirtualBase-c.RealBase || q.InsufficientLiquidity {
		t.Fatalf("scenario does not exhaust the gap: %+v", q)
	}
	_, err = engine.Sell(SellParams{Asset: testAsset, Seller: testSeller, TokenAmount: 10_000_000_000_000})
	if !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected arithmetic rejection, got %v", err)
	}
	if !IsRejection(err) {
		t.Fatalf("expected a trade rejection, got %v", err)
	}
	if after := mustCurve(t, ledger); after != before {
		t.Fatalf("rejected sell mutated the record")
	}
	if ledger.state.tokens[testAsset][testSeller] != 10_000_000_000_000 {
		t.Fatalf("rejected sell burned tokens")
	}
	if got := len(recorder.Events()); got != 1 {
		t.Fatalf("rejected sell emitted events: %d", got)
	}
}
