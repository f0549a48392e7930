package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"launchpad/native/curve"
	"launchpad/observability"
	"launchpad/services/curved/index"
)

const maxBodyBytes = 1 << 16

// amount accepts base-10 integers either quoted or bare.
type amount uint64

func (a *amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(strings.Trim(string(data), `"`))
	if raw == "" || raw == "null" {
		*a = 0
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", curve.ErrInvalidAmount, raw)
	}
	*a = amount(v)
	return nil
}

type curveView struct {
	Asset        string `json:"asset"`
	Creator      string `json:"creator"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	URI          string `json:"uri"`
	VirtualBase  uint64 `json:"virtualBase,string"`
	VirtualToken uint64 `json:"virtualToken,string"`
	RealBase     uint64 `json:"realBase,string"`
	RealToken    uint64 `json:"realToken,string"`
	TotalSupply  uint64 `json:"totalSupply,string"`
	CustodyFees  uint64 `json:"custodyFees,string"`
	SpotPrice    string `json:"spotPrice"`
	MarketCap    string `json:"marketCap"`
	ProgressBps  uint64 `json:"progressBps"`
	Graduated    bool   `json:"graduated"`
	GraduatedAt  int64  `json:"graduatedAt,omitempty"`
	Nonce        uint64 `json:"nonce"`
	CreatedAt    int64  `json:"createdAt"`
	TradeCount   uint64 `json:"tradeCount"`
}

func newCurveView(c *curve.Curve) curveView {
	return curveView{
		Asset:        c.Asset.Hex(),
		Creator:      c.Creator.Hex(),
		Name:         c.Name,
		Symbol:       c.Symbol,
		URI:          c.URI,
		VirtualBase:  c.VirtualBase,
		VirtualToken: c.VirtualToken,
		RealBase:     c.RealBase,
		RealToken:    c.RealToken,
		TotalSupply:  c.TotalSupply,
		CustodyFees:  c.CustodyFees,
		SpotPrice:    c.SpotPrice().FloatString(12),
		MarketCap:    c.MarketCap().String(),
		ProgressBps:  c.ProgressBps(),
		Graduated:    c.Graduated,
		GraduatedAt:  c.GraduatedAt,
		Nonce:        c.Nonce,
		CreatedAt:    c.CreatedAt,
	}
}

type quoteView struct {
	Side                  curve.Side `json:"side"`
	Input                 uint64     `json:"input,string"`
	Output                uint64     `json:"output,string"`
	Fee                   uint64     `json:"fee,string"`
	Curve                 uint64     `json:"curve,string"`
	InsufficientLiquidity bool       `json:"insufficientLiquidity"`
	PriceImpactBps        uint64     `json:"priceImpactBps"`
	SpotBefore            string     `json:"spotBefore,omitempty"`
	SpotAfter             string     `json:"spotAfter,omitempty"`
}

func newQuoteView(q *curve.Quote) quoteView {
	view := quoteView{
		Side:                  q.Side,
		Input:                 q.Input,
		Output:                q.Output,
		Fee:                   q.Fee,
		Curve:                 q.Curve,
		InsufficientLiquidity: q.InsufficientLiquidity,
		PriceImpactBps:        q.PriceImpactBps,
	}
	if q.SpotBefore != nil {
		view.SpotBefore = q.SpotBefore.FloatString(12)
	}
	if q.SpotAfter != nil {
		view.SpotAfter = q.SpotAfter.FloatString(12)
	}
	return view
}

type tradeView struct {
	quoteView
	Trader    string    `json:"trader"`
	Graduated bool      `json:"graduated"`
	Curve     curveView `json:"state"`
}

type tradesView struct {
	Trades []index.Trade `json:"trades"`
	Total  int64         `json:"total"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCurves(w http.ResponseWriter, _ *http.Request) {
	curves, err := s.engine.Curves()
	if err != nil {
		s.writeError(w, "list", err)
		return
	}
	views := make([]curveView, 0, len(curves))
	for _, c := range curves {
		views = append(views, newCurveView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"curves": views})
}

func (s *Server) handleCreateCurve(w http.ResponseWriter, r *http.Request) {
	creator, ok := TraderFromContext(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}
	var req struct {
		Asset  string `json:"asset"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
		URI    string `json:"uri"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	asset, ok := parseAddress(req.Asset)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "invalid_account", "asset must be a hex address")
		return
	}
	start := time.Now()
	_, span := s.otel.start(r.Context(), "initialize", asset)
	c, err := s.engine.Initialize(curve.InitializeParams{
		Asset:   asset,
		Creator: creator,
		Name:    req.Name,
		Symbol:  req.Symbol,
		URI:     req.URI,
	})
	s.otel.finish(span, err)
	observability.Curve().ObserveLatency("initialize", time.Since(start))
	if err != nil {
		s.writeError(w, "initialize", err)
		return
	}
	writeJSON(w, http.StatusCreated, newCurveView(c))
}

func (s *Server) handleGetCurve(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.assetParam(w, r)
	if !ok {
		return
	}
	c, err := s.engine.Curve(asset)
	if err != nil {
		s.writeError(w, "get", err)
		return
	}
	view := newCurveView(c)
	snapshot, err := s.index.Snapshot(asset)
	switch {
	case err == nil:
		view.TradeCount = snapshot.TradeCount
	case !errors.Is(err, index.ErrNotFound):
		s.logger.Warn("snapshot lookup failed", "asset", asset.Hex(), "error", err)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleQuote(side curve.Side) http.HandlerFunc {
	op := "quote_" + string(side)
	return func(w http.ResponseWriter, r *http.Request) {
		asset, ok := s.assetParam(w, r)
		if !ok {
			return
		}
		value, err := parseAmount(r.URL.Query().Get("amount"))
		if err != nil {
			s.writeError(w, op, err)
			return
		}
		start := time.Now()
		_, span := s.otel.start(r.Context(), op, asset)
		var q *curve.Quote
		if side == curve.SideBuy {
			q, err = s.engine.QuoteBuy(asset, value)
		} else {
			q, err = s.engine.QuoteSell(asset, value)
		}
		s.otel.finish(span, err)
		observability.Curve().ObserveLatency(op, time.Since(start))
		if err != nil {
			s.writeError(w, op, err)
			return
		}
		writeJSON(w, http.StatusOK, newQuoteView(q))
	}
}

type tradeRequest struct {
	Amount amount `json:"amount"`
	MinOut amount `json:"minOut"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, curve.SideBuy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, curve.SideSell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, side curve.Side) {
	op := string(side)
	trader, ok := TraderFromContext(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}
	asset, ok := s.assetParam(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	start := time.Now()
	ctx, span := s.otel.start(r.Context(), op, asset)
	var (
		result *curve.TradeResult
		err    error
	)
	if side == curve.SideBuy {
		result, err = s.engine.Buy(curve.BuyParams{
			Asset:        asset,
			Buyer:        trader,
			BaseAmount:   uint64(req.Amount),
			MinTokensOut: uint64(req.MinOut),
		})
	} else {
		result, err = s.engine.Sell(curve.SellParams{
			Asset:       asset,
			Seller:      trader,
			TokenAmount: uint64(req.Amount),
			MinBaseOut:  uint64(req.MinOut),
		})
	}
	if err == nil {
		s.otel.recordTrade(ctx, span, result)
	}
	s.otel.finish(span, err)
	observability.Curve().ObserveLatency(op, time.Since(start))
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, tradeView{
		quoteView: newQuoteView(&result.Quote),
		Trader:    result.Trader.Hex(),
		Graduated: result.Graduated,
		Curve:     newCurveView(result.Curve),
	})
}

func (s *Server) handleCurveTrades(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.assetParam(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	trades, total, err := s.index.Trades(asset, page)
	if err != nil {
		s.writeError(w, "trades", err)
		return
	}
	writeJSON(w, http.StatusOK, tradesView{Trades: trades, Total: total})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	asset, ok := s.assetParam(w, r)
	if !ok {
		return
	}
	if _, err := s.engine.Curve(asset); err != nil {
		s.writeError(w, "export", err)
		return
	}
	var buf bytes.Buffer
	rows, err := s.index.WriteParquet(&buf, asset)
	if err != nil {
		s.writeError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", strings.ToLower(asset.Hex())+".parquet"))
	w.Header().Set("X-Row-Count", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type accountView struct {
	Address  string            `json:"address"`
	Base     uint64            `json:"base,string"`
	Holdings map[string]string `json:"holdings"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(chi.URLParam(r, "address"))
	if !ok {
		writeProblem(w, http.StatusBadRequest, "invalid_account", "address must be a hex address")
		return
	}
	base, err := s.accounts.BaseBalance(addr)
	if err != nil {
		s.writeError(w, "account", err)
		return
	}
	holdings, err := s.accounts.Holdings(addr)
	if err != nil {
		s.writeError(w, "account", err)
		return
	}
	view := accountView{Address: addr.Hex(), Base: base, Holdings: make(map[string]string, len(holdings))}
	for asset, qty := range holdings {
		view.Holdings[asset.Hex()] = strconv.FormatUint(qty, 10)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAccountTrades(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(chi.URLParam(r, "address"))
	if !ok {
		writeProblem(w, http.StatusBadRequest, "invalid_account", "address must be a hex address")
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	trades, total, err := s.index.TradesByTrader(addr, page)
	if err != nil {
		s.writeError(w, "trades", err)
		return
	}
	writeJSON(w, http.StatusOK, tradesView{Trades: trades, Total: total})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Amount  amount `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	account, ok := parseAddress(req.Account)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "invalid_account", "account must be a hex address")
		return
	}
	if req.Amount == 0 {
		s.writeError(w, "credit", curve.ErrInvalidAmount)
		return
	}
	balance, err := s.accounts.Credit(account, uint64(req.Amount))
	if err != nil {
		s.writeError(w, "credit", err)
		return
	}
	s.logger.Info("account credited", "account", account.Hex(), "amount", uint64(req.Amount), "balance", balance)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"balance": strconv.FormatUint(balance, 10),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, curve.ErrInvalidAmount) {
			s.writeError(w, "decode", err)
			return false
		}
		writeProblem(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return false
	}
	return true
}

func (s *Server) assetParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	asset, ok := parseAddress(chi.URLParam(r, "asset"))
	if !ok {
		writeProblem(w, http.StatusBadRequest, "invalid_account", "asset must be a hex address")
		return common.Address{}, false
	}
	return asset, true
}

func parseAddress(raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: amount required", curve.ErrInvalidAmount)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", curve.ErrInvalidAmount, raw)
	}
	return v, nil
}

func parsePage(r *http.Request) (index.Page, error) {
	var page index.Page
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, fmt.Errorf("invalid limit %q", raw)
		}
		page.Limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, fmt.Errorf("invalid offset %q", raw)
		}
		page.Offset = v
	}
	return page, nil
}
