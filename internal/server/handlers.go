package server

import (
	"PerpDesk/internal/chain"
	"PerpDesk/internal/core"
	"PerpDesk/internal/ingestion"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/observability"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/query"
	"PerpDesk/internal/subgraph"
	"PerpDesk/internal/validation"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
)

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("service unavailable")
)

const maxBodyBytes = 1 << 20

type api struct {
	engine  *core.Engine
	history HistoryReader
	ingest  *ingestion.AdminIngestService
	metrics *observability.Metrics
	logger  zerolog.Logger
	start   time.Time
}

// handlerFunc returns the response body or an error mapped to a status.
type handlerFunc func(r *http.Request, params map[string]string) (any, error)

type route struct {
	name    string
	method  string
	pattern string
	handle  handlerFunc
}

const accountPath = "/v1/chains/{chain_id}/accounts/{account}"

func (a *api) routes() []route {
	return []route{
		{"token_info", http.MethodGet, accountPath + "/tokens", a.tokenInfo},
		{"positions", http.MethodGet, accountPath + "/positions", a.positions},
		{"orders", http.MethodGet, accountPath + "/orders", a.openOrders},
		{"validate", http.MethodPost, accountPath + "/validate", a.validate},

		{"increase_position", http.MethodPost, accountPath + "/positions", a.increasePosition},
		{"deposit_collateral", http.MethodPost, accountPath + "/positions/{key}/deposit", a.depositCollateral},
		{"decrease_position", http.MethodPost, accountPath + "/positions/{key}/decrease", a.decreasePosition},
		{"withdraw_collateral", http.MethodPost, accountPath + "/positions/{key}/withdraw", a.withdrawCollateral},
		{"decrease_order", http.MethodPost, accountPath + "/positions/{key}/trigger", a.decreaseOrder},
		{"increase_order", http.MethodPost, accountPath + "/orders/increase", a.increaseOrder},
		{"update_increase_order", http.MethodPut, accountPath + "/orders/increase/{index}", a.updateIncreaseOrder},
		{"update_decrease_order", http.MethodPut, accountPath + "/orders/decrease/{index}", a.updateDecreaseOrder},

		{"sync_trades", http.MethodPost, accountPath + "/trades/sync", a.syncTrades},
		{"list_trades", http.MethodGet, accountPath + "/trades", a.listTrades},
		{"trade_summary", http.MethodGet, accountPath + "/trades/summary", a.tradeSummary},
		{"list_prepared", http.MethodGet, accountPath + "/prepared", a.listPrepared},
		{"get_prepared", http.MethodGet, "/v1/prepared/{id}", a.getPrepared},

		{"inject_price", http.MethodPost, "/v1/admin/prices", a.injectPrice},
		{"status", http.MethodGet, "/v1/status", a.status},
	}
}

// instrument writes h's result as JSON and records request metrics.
func (a *api) instrument(name string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := h(r, params)

		status := http.StatusOK
		if err != nil {
			code := errorCode(err)
			status = runtime.HTTPStatusFromCode(code)
			msg := err.Error()
			if code == codes.Internal {
				a.logger.Error().Err(err).Str("endpoint", name).Msg("request failed")
				msg = "internal error"
			}
			if a.metrics != nil {
				a.metrics.QueryErrors.WithLabelValues(name, code.String()).Inc()
			}
			body = errorBody{Code: code.String(), Message: msg}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			a.logger.Warn().Err(err).Str("endpoint", name).Msg("write response")
		}

		if a.metrics != nil {
			a.metrics.QueryRequests.WithLabelValues(name, strconv.Itoa(status)).Inc()
			a.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorCode(err error) codes.Code {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, chain.ErrUnknownChain),
		errors.Is(err, chain.ErrUnknownToken),
		errors.Is(err, chain.ErrInvalidAddress),
		errors.Is(err, fpmath.ErrInvalidDecimal),
		errors.Is(err, orders.ErrInvalidAmount),
		errors.Is(err, orders.ErrInvalidTriggerPrice),
		errors.Is(err, ingestion.ErrInvalidPrice):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrPositionNotFound),
		errors.Is(err, core.ErrOrderNotFound),
		errors.Is(err, query.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, core.ErrMarketData),
		errors.Is(err, orders.ErrMissingMarketData),
		errors.Is(err, errUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// --- request parsing ---

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

// target is the chain and account every account route names.
type target struct {
	chainID int64
	account common.Address
}

func parseTarget(params map[string]string) (target, error) {
	id, err := strconv.ParseInt(params["chain_id"], 10, 64)
	if err != nil || id <= 0 {
		return target{}, badRequest("invalid chain id %q", params["chain_id"])
	}
	acct, err := chain.ParseAddress(params["account"])
	if err != nil {
		return target{}, err
	}
	return target{chainID: id, account: acct}, nil
}

func parseKey(params map[string]string) (common.Hash, error) {
	s := params["key"]
	if len(strings.TrimPrefix(s, "0x")) != 2*common.HashLength {
		return common.Hash{}, badRequest("invalid position key %q", s)
	}
	return common.HexToHash(s), nil
}

func parseIndex(params map[string]string) (int64, error) {
	n, err := strconv.ParseInt(params["index"], 10, 64)
	if err != nil || n < 0 {
		return 0, badRequest("invalid order index %q", params["index"])
	}
	return n, nil
}

// optAddress returns the zero address for "".
func optAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	return chain.ParseAddress(s)
}

// usdAmount parses a decimal USD string; "" is unset.
func usdAmount(field, s string) (fpmath.Amount, error) {
	if s == "" {
		return fpmath.Amount{}, nil
	}
	a, err := fpmath.Parse(s, fpmath.USDDecimals)
	if err != nil {
		return fpmath.Amount{}, fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}

// tokenAmount parses a decimal amount in token's decimals.
func (a *api) tokenAmount(chainID int64, token common.Address, s string) (fpmath.Amount, error) {
	if s == "" {
		return fpmath.Amount{}, nil
	}
	t, err := a.engine.Registry().Token(chainID, token)
	if err != nil {
		return fpmath.Amount{}, err
	}
	amt, err := fpmath.Parse(s, t.Decimals)
	if err != nil {
		return fpmath.Amount{}, fmt.Errorf("amount: %w", err)
	}
	return amt, nil
}

func bps(n *int64) fpmath.Amount {
	if n == nil {
		return fpmath.Amount{}
	}
	return fpmath.BPS(*n)
}

// --- reads ---

func (a *api) tokenInfo(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	return a.engine.TokenInfo(r.Context(), t.chainID, t.account)
}

func (a *api) positions(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	return a.engine.Positions(r.Context(), t.chainID, t.account)
}

func (a *api) openOrders(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	open, err := a.engine.Orders(r.Context(), t.chainID, t.account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	return open, nil
}

type validateRequest struct {
	Action          string   `json:"action"`
	OrderType       string   `json:"order_type"`
	From            string   `json:"from"`
	To              string   `json:"to"`
	Collateral      string   `json:"collateral"`
	Index           string   `json:"index"`
	IsLong          bool     `json:"is_long"`
	KeepLeverage    bool     `json:"keep_leverage"`
	Amount          string   `json:"amount"`
	SizeDelta       string   `json:"size_delta"`
	CollateralDelta string   `json:"collateral_delta"`
	TriggerPrice    string   `json:"trigger_price"`
	TakeProfit      string   `json:"take_profit"`
	StopLoss        string   `json:"stop_loss"`
	Leverage        *float64 `json:"leverage"`
	SlippageBps     *int64   `json:"slippage_bps"`
}

type validateResponse struct {
	Eligible bool     `json:"eligible"`
	Messages []string `json:"messages"`
}

func (a *api) validate(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	var req validateRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	p := &validation.Params{ChainID: t.chainID, Account: t.account, IsLong: req.IsLong, KeepLeverage: req.KeepLeverage}
	if p.Action, err = orders.ParseAction(req.Action); err != nil {
		return nil, badRequest("%v", err)
	}
	if p.OrderType, err = orders.ParseOrderType(req.OrderType); err != nil {
		return nil, badRequest("%v", err)
	}
	for _, f := range []struct {
		dst *common.Address
		src string
	}{
		{&p.FromToken, req.From},
		{&p.ToToken, req.To},
		{&p.CollateralToken, req.Collateral},
		{&p.IndexToken, req.Index},
	} {
		if *f.dst, err = optAddress(f.src); err != nil {
			return nil, err
		}
	}
	if p.FromAmount, err = a.tokenAmount(t.chainID, p.FromToken, req.Amount); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst   *fpmath.Amount
		field string
		src   string
	}{
		{&p.SizeDelta, "size_delta", req.SizeDelta},
		{&p.CollateralDelta, "collateral_delta", req.CollateralDelta},
		{&p.TriggerPrice, "trigger_price", req.TriggerPrice},
		{&p.TakeProfit, "take_profit", req.TakeProfit},
		{&p.StopLoss, "stop_loss", req.StopLoss},
	} {
		if *f.dst, err = usdAmount(f.field, f.src); err != nil {
			return nil, err
		}
	}
	p.LeverageBps = orders.LeverageBps(req.Leverage)
	p.SlippageBps = bps(req.SlippageBps)

	msgs, err := a.engine.Validate(r.Context(), p)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []string{}
	}
	return validateResponse{Eligible: len(msgs) == 0, Messages: msgs}, nil
}

// --- builders ---

type increasePositionRequest struct {
	From        string   `json:"from"`
	Amount      string   `json:"amount"`
	Collateral  string   `json:"collateral"`
	Index       string   `json:"index"`
	IsLong      bool     `json:"is_long"`
	Leverage    *float64 `json:"leverage"`
	SlippageBps *int64   `json:"slippage_bps"`
	TakeProfit  string   `json:"take_profit"`
	StopLoss    string   `json:"stop_loss"`
}

func (a *api) increasePosition(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	var body increasePositionRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	req := orders.IncreasePositionRequest{
		Account:     t.account,
		IsLong:      body.IsLong,
		Leverage:    body.Leverage,
		SlippageBps: bps(body.SlippageBps),
	}
	if req.From, err = chain.ParseAddress(body.From); err != nil {
		return nil, err
	}
	if req.Collateral, err = chain.ParseAddress(body.Collateral); err != nil {
		return nil, err
	}
	if req.Index, err = chain.ParseAddress(body.Index); err != nil {
		return nil, err
	}
	if req.Amount, err = a.tokenAmount(t.chainID, req.From, body.Amount); err != nil {
		return nil, err
	}
	if req.TakeProfit, err = usdAmount("take_profit", body.TakeProfit); err != nil {
		return nil, err
	}
	if req.StopLoss, err = usdAmount("stop_loss", body.StopLoss); err != nil {
		return nil, err
	}
	return a.engine.IncreasePosition(r.Context(), t.chainID, req)
}

type depositRequest struct {
	From        string `json:"from"`
	Amount      string `json:"amount"`
	SlippageBps *int64 `json:"slippage_bps"`
}

func (a *api) depositCollateral(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	key, err := parseKey(params)
	if err != nil {
		return nil, err
	}
	var body depositRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	req := orders.DepositCollateralRequest{SlippageBps: bps(body.SlippageBps)}
	if req.From, err = chain.ParseAddress(body.From); err != nil {
		return nil, err
	}
	if req.Amount, err = a.tokenAmount(t.chainID, req.From, body.Amount); err != nil {
		return nil, err
	}
	return a.engine.DepositCollateral(r.Context(), t.chainID, t.account, key, req)
}

type decreaseRequest struct {
	DecreaseUsd  string `json:"decrease_usd"`
	KeepLeverage bool   `json:"keep_leverage"`
	Receive      string `json:"receive"`
	Receiver     string `json:"receiver"`
	SlippageBps  *int64 `json:"slippage_bps"`
}

func (a *api) decreasePosition(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	key, err := parseKey(params)
	if err != nil {
		return nil, err
	}
	var body decreaseRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	req := orders.DecreasePositionRequest{KeepLeverage: body.KeepLeverage, SlippageBps: bps(body.SlippageBps)}
	if req.DecreaseUsd, err = usdAmount("decrease_usd", body.DecreaseUsd); err != nil {
		return nil, err
	}
	if req.Receive, err = chain.ParseAddress(body.Receive); err != nil {
		return nil, err
	}
	if req.Receiver, err = optAddress(body.Receiver); err != nil {
		return nil, err
	}
	return a.engine.DecreasePosition(r.Context(), t.chainID, t.account, key, req)
}

type withdrawRequest struct {
	CollateralUsd string `json:"collateral_usd"`
	Receive       string `json:"receive"`
	Receiver      string `json:"receiver"`
	SlippageBps   *int64 `json:"slippage_bps"`
}

func (a *api) withdrawCollateral(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	key, err := parseKey(params)
	if err != nil {
		return nil, err
	}
	var body withdrawRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	req := orders.WithdrawCollateralRequest{SlippageBps: bps(body.SlippageBps)}
	if req.CollateralUsd, err = usdAmount("collateral_usd", body.CollateralUsd); err != nil {
		return nil, err
	}
	if req.Receive, err = chain.ParseAddress(body.Receive); err != nil {
		return nil, err
	}
	if req.Receiver, err = optAddress(body.Receiver); err != nil {
		return nil, err
	}
	return a.engine.WithdrawCollateral(r.Context(), t.chainID, t.account, key, req)
}

type triggerRequest struct {
	DecreaseUsd  string `json:"decrease_usd"`
	SizeDelta    string `json:"size_delta"`
	TriggerPrice string `json:"trigger_price"`
	KeepLeverage bool   `json:"keep_leverage"`
}

func (a *api) decreaseOrder(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	key, err := parseKey(params)
	if err != nil {
		return nil, err
	}
	var body triggerRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	req := orders.DecreaseOrderRequest{KeepLeverage: body.KeepLeverage}
	if req.DecreaseUsd, err = usdAmount("decrease_usd", body.DecreaseUsd); err != nil {
		return nil, err
	}
	if req.TriggerPrice, err = usdAmount("trigger_price", body.TriggerPrice); err != nil {
		return nil, err
	}
	return a.engine.DecreaseOrder(r.Context(), t.chainID, t.account, key, req)
}

type increaseOrderRequest struct {
	From         string   `json:"from"`
	Amount       string   `json:"amount"`
	Collateral   string   `json:"collateral"`
	Index        string   `json:"index"`
	IsLong       bool     `json:"is_long"`
	Leverage     *float64 `json:"leverage"`
	TriggerPrice string   `json:"trigger_price"`
}

func (a *api) increaseOrder(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	var body increaseOrderRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	req := orders.IncreaseOrderRequest{IsLong: body.IsLong, Leverage: body.Leverage}
	if req.From, err = chain.ParseAddress(body.From); err != nil {
		return nil, err
	}
	if req.Collateral, err = chain.ParseAddress(body.Collateral); err != nil {
		return nil, err
	}
	if req.Index, err = chain.ParseAddress(body.Index); err != nil {
		return nil, err
	}
	if req.Amount, err = a.tokenAmount(t.chainID, req.From, body.Amount); err != nil {
		return nil, err
	}
	if req.TriggerPrice, err = usdAmount("trigger_price", body.TriggerPrice); err != nil {
		return nil, err
	}
	return a.engine.IncreaseOrder(r.Context(), t.chainID, t.account, req)
}

func (a *api) updateIncreaseOrder(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	index, err := parseIndex(params)
	if err != nil {
		return nil, err
	}
	var body triggerRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	var req orders.UpdateIncreaseOrderRequest
	if req.SizeDelta, err = usdAmount("size_delta", body.SizeDelta); err != nil {
		return nil, err
	}
	if req.TriggerPrice, err = usdAmount("trigger_price", body.TriggerPrice); err != nil {
		return nil, err
	}
	return a.engine.UpdateIncreaseOrder(r.Context(), t.chainID, t.account, index, req)
}

func (a *api) updateDecreaseOrder(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	index, err := parseIndex(params)
	if err != nil {
		return nil, err
	}
	var body triggerRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	req := orders.UpdateDecreaseOrderRequest{KeepLeverage: body.KeepLeverage}
	if req.DecreaseUsd, err = usdAmount("decrease_usd", body.DecreaseUsd); err != nil {
		return nil, err
	}
	if req.TriggerPrice, err = usdAmount("trigger_price", body.TriggerPrice); err != nil {
		return nil, err
	}
	return a.engine.UpdateDecreaseOrder(r.Context(), t.chainID, t.account, index, req)
}

// --- history ---

type syncRequest struct {
	First int `json:"first"`
	Skip  int `json:"skip"`
}

type syncResponse struct {
	core.SyncResult
	Events []eventJSON `json:"events"`
}

type eventJSON struct {
	IdempotencyKey string `json:"idempotency_key"`
	Action         string `json:"action"`
	Event          any    `json:"event"`
}

func (a *api) syncTrades(r *http.Request, params map[string]string) (any, error) {
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	var body syncRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if body.First <= 0 {
		body.First = 100
	}
	res, events, err := a.engine.SyncTrades(r.Context(), t.chainID, t.account, subgraph.Page{First: body.First, Skip: body.Skip})
	if err != nil {
		if errors.Is(err, chain.ErrUnknownChain) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	out := syncResponse{SyncResult: res, Events: make([]eventJSON, 0, len(events))}
	for _, ev := range events {
		out.Events = append(out.Events, eventJSON{
			IdempotencyKey: ev.IdempotencyKey(),
			Action:         ev.Header().Action.String(),
			Event:          ev,
		})
	}
	return out, nil
}

func (a *api) listTrades(r *http.Request, params map[string]string) (any, error) {
	if a.history == nil {
		return nil, fmt.Errorf("%w: history store not configured", errUnavailable)
	}
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	f := query.TradeFilter{ChainID: t.chainID, Account: t.account}
	if s := q.Get("token"); s != "" {
		token, err := chain.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		f.Token = &token
	}
	if s := q.Get("actions"); s != "" {
		f.Actions = strings.Split(s, ",")
	}
	if s := q.Get("before"); s != "" {
		before, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, badRequest("before: %v", err)
		}
		f.Before = &before
	}
	if f.Limit, err = limitParam(r); err != nil {
		return nil, err
	}
	trades, err := a.history.ListTrades(r.Context(), f)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []query.TradeRecord{}
	}
	return trades, nil
}

func limitParam(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, badRequest("limit: %v", err)
	}
	return n, nil
}

func (a *api) tradeSummary(r *http.Request, params map[string]string) (any, error) {
	if a.history == nil {
		return nil, fmt.Errorf("%w: history store not configured", errUnavailable)
	}
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	counts, err := a.history.ActionCounts(r.Context(), t.chainID, t.account)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = []query.ActionCount{}
	}
	return counts, nil
}

func (a *api) listPrepared(r *http.Request, params map[string]string) (any, error) {
	if a.history == nil {
		return nil, fmt.Errorf("%w: history store not configured", errUnavailable)
	}
	t, err := parseTarget(params)
	if err != nil {
		return nil, err
	}
	limit, err := limitParam(r)
	if err != nil {
		return nil, err
	}
	prepared, err := a.history.ListPrepared(r.Context(), t.chainID, t.account, limit)
	if err != nil {
		return nil, err
	}
	if prepared == nil {
		prepared = []query.PreparedRecord{}
	}
	return prepared, nil
}

func (a *api) getPrepared(r *http.Request, params map[string]string) (any, error) {
	if a.history == nil {
		return nil, fmt.Errorf("%w: history store not configured", errUnavailable)
	}
	id, err := uuid.Parse(params["id"])
	if err != nil {
		return nil, badRequest("invalid id %q", params["id"])
	}
	return a.history.GetPrepared(r.Context(), id)
}

// --- admin ---

type priceRequest struct {
	ChainID int64  `json:"chain_id"`
	Token   string `json:"token"`
	Price   string `json:"price"`
}

func (a *api) injectPrice(r *http.Request, _ map[string]string) (any, error) {
	if a.ingest == nil {
		return nil, fmt.Errorf("%w: price ingest not configured", errUnavailable)
	}
	var body priceRequest
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	token, err := chain.ParseAddress(body.Token)
	if err != nil {
		return nil, err
	}
	if !a.engine.Registry().HasToken(body.ChainID, token) {
		return nil, fmt.Errorf("%w: %s on chain %d", chain.ErrUnknownToken, token.Hex(), body.ChainID)
	}
	if err := a.ingest.InjectPrice(r.Context(), body.ChainID, token, body.Price); err != nil {
		return nil, err
	}
	return map[string]bool{"accepted": true}, nil
}

type statusResponse struct {
	Uptime   string         `json:"uptime"`
	Chains   []int64        `json:"chains"`
	SeenKeys core.SeenStats `json:"seen_keys"`
	Started  time.Time      `json:"started_at"`
}

func (a *api) status(_ *http.Request, _ map[string]string) (any, error) {
	return statusResponse{
		Uptime:   time.Since(a.start).Truncate(time.Second).String(),
		Chains:   a.engine.Registry().ChainIDs(),
		SeenKeys: a.engine.Seen(),
		Started:  a.start.UTC(),
	}, nil
}
