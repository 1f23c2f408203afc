package event

import (
	"PerpDesk/internal/chain"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/subgraph"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const nativeDecimals int32 = 18

var (
	errUnregisteredToken = errors.New("token not registered on chain")
	errMissingField      = errors.New("missing field")
)

// Normalizer turns raw subgraph trade rows into typed events.
type Normalizer struct {
	registry *chain.Registry
	logger   zerolog.Logger
}

func NewNormalizer(registry *chain.Registry, logger zerolog.Logger) *Normalizer {
	return &Normalizer{registry: registry, logger: logger}
}

// Normalize decodes trades with a silent logger.
func Normalize(chainID int64, registry *chain.Registry, trades []subgraph.RawTrade) []TradingEvent {
	return NewNormalizer(registry, zerolog.Nop()).Normalize(chainID, trades)
}

// Normalize keeps input order. Rows with an unknown action, undecodable
// params or a token that is not registered on chainID are dropped.
func (n *Normalizer) Normalize(chainID int64, trades []subgraph.RawTrade) []TradingEvent {
	out := make([]TradingEvent, 0, len(trades))
	for _, t := range trades {
		ev, err := n.decode(chainID, t)
		if err != nil {
			n.logger.Debug().
				Err(err).
				Int64("chain_id", chainID).
				Str("trade_id", t.ID).
				Str("action", t.Action).
				Msg("dropping trade")
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (n *Normalizer) decode(chainID int64, t subgraph.RawTrade) (TradingEvent, error) {
	action, err := ParseAction(t.Action)
	if err != nil {
		return nil, err
	}
	if len(t.Params) == 0 {
		return nil, errors.Wrap(errMissingField, "params")
	}
	var p rawParams
	if err := json.Unmarshal(t.Params, &p); err != nil {
		return nil, errors.Wrap(err, "decode params")
	}
	if p.Order != nil {
		inner := *p.Order
		if inner.ExecutionPrice.Int == nil {
			inner.ExecutionPrice = p.ExecutionPrice
		}
		p = inner
	}

	meta := Meta{
		ID:          t.ID,
		ChainID:     chainID,
		Action:      action,
		Account:     t.Account,
		TxHash:      t.TxHash,
		BlockNumber: t.BlockNumber,
		Timestamp:   t.Timestamp,
	}
	d := decoder{registry: n.registry, chainID: chainID}

	switch action {
	case ActionIncreasePositionLong, ActionIncreasePositionShort,
		ActionDecreasePositionLong, ActionDecreasePositionShort:
		return d.position(meta, p)
	case ActionLiquidatePositionLong, ActionLiquidatePositionShort:
		return d.liquidation(meta, p)
	case ActionSwap, ActionBuyUSDG, ActionSellUSDG:
		return d.swap(meta, p)
	case ActionCreateIncreasePosition, ActionCancelIncreasePosition,
		ActionCreateDecreasePosition, ActionCancelDecreasePosition:
		return d.positionRequest(meta, p)
	}
	if action.OrderKind() != subgraph.OrderKindUnknown {
		return d.order(meta, p)
	}
	return nil, fmt.Errorf("unhandled action %s", action)
}

// rawParams is the union of every action's payload. Order actions nest
// their fields under "order".
type rawParams struct {
	Key             string     `json:"key"`
	CollateralToken string     `json:"collateralToken"`
	IndexToken      string     `json:"indexToken"`
	IsLong          *bool      `json:"isLong"`
	CollateralDelta rawInt     `json:"collateralDelta"`
	SizeDelta       rawInt     `json:"sizeDelta"`
	Price           rawInt     `json:"price"`
	Fee             rawInt     `json:"fee"`
	Size            rawInt     `json:"size"`
	Collateral      rawInt     `json:"collateral"`
	ReserveAmount   rawInt     `json:"reserveAmount"`
	RealisedPnl     rawInt     `json:"realisedPnl"`
	MarkPrice       rawInt     `json:"markPrice"`
	TokenIn         string     `json:"tokenIn"`
	TokenOut        string     `json:"tokenOut"`
	AmountIn        rawInt     `json:"amountIn"`
	AmountOut       rawInt     `json:"amountOut"`
	Token           string     `json:"token"`
	TokenAmount     rawInt     `json:"tokenAmount"`
	UsdgAmount      rawInt     `json:"usdgAmount"`
	Path            []string   `json:"path"`
	MinOut          rawInt     `json:"minOut"`
	TriggerPrice    rawInt     `json:"triggerPrice"`
	TriggerRatio    rawInt     `json:"triggerRatio"`
	TriggerAbove    bool       `json:"triggerAboveThreshold"`
	OrderIndex      rawInt     `json:"orderIndex"`
	Index           rawInt     `json:"index"`
	ExecutionPrice  rawInt     `json:"executionPrice"`
	AcceptablePrice rawInt     `json:"acceptablePrice"`
	ExecutionFee    rawInt     `json:"executionFee"`
	Order           *rawParams `json:"order"`
}

// rawInt accepts JSON numbers and decimal or 0x-prefixed strings.
type rawInt struct{ *big.Int }

func (r *rawInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		r.Int = nil
		return nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return fmt.Errorf("invalid integer %q", string(data))
	}
	r.Int = v
	return nil
}

type decoder struct {
	registry *chain.Registry
	chainID  int64
}

func (d decoder) token(field, s string) (chain.Token, error) {
	if s == "" {
		return chain.Token{}, errors.Wrap(errMissingField, field)
	}
	addr, err := chain.ParseAddress(s)
	if err != nil {
		return chain.Token{}, errors.Wrap(err, field)
	}
	tok, err := d.registry.Token(d.chainID, addr)
	if err != nil {
		return chain.Token{}, errors.Wrapf(errUnregisteredToken, "%s %s", field, addr.Hex())
	}
	return tok, nil
}

func (d decoder) path(raw []string) ([]common.Address, []chain.Token, error) {
	if len(raw) == 0 {
		return nil, nil, errors.Wrap(errMissingField, "path")
	}
	addrs := make([]common.Address, len(raw))
	toks := make([]chain.Token, len(raw))
	for i, s := range raw {
		tok, err := d.token("path", s)
		if err != nil {
			return nil, nil, err
		}
		addrs[i], toks[i] = tok.Address, tok
	}
	return addrs, toks, nil
}

func usd(r rawInt) fpmath.Amount { return amount(r, fpmath.USDDecimals) }

func amount(r rawInt, decimals int32) fpmath.Amount {
	if r.Int == nil {
		return fpmath.Amount{}
	}
	return fpmath.New(r.Int, decimals)
}

func required(field string, r rawInt) error {
	if r.Int == nil {
		return errors.Wrap(errMissingField, field)
	}
	return nil
}

func (d decoder) position(meta Meta, p rawParams) (TradingEvent, error) {
	collateral, err := d.token("collateralToken", p.CollateralToken)
	if err != nil {
		return nil, err
	}
	index, err := d.token("indexToken", p.IndexToken)
	if err != nil {
		return nil, err
	}
	if err := required("sizeDelta", p.SizeDelta); err != nil {
		return nil, err
	}
	return PositionEvent{
		Meta:            meta,
		Key:             common.HexToHash(p.Key),
		CollateralToken: collateral.Address,
		IndexToken:      index.Address,
		IsLong:          meta.Action.IsLong(),
		CollateralDelta: usd(p.CollateralDelta),
		SizeDelta:       usd(p.SizeDelta),
		Price:           usd(p.Price),
		Fee:             usd(p.Fee),
	}, nil
}

func (d decoder) liquidation(meta Meta, p rawParams) (TradingEvent, error) {
	collateral, err := d.token("collateralToken", p.CollateralToken)
	if err != nil {
		return nil, err
	}
	index, err := d.token("indexToken", p.IndexToken)
	if err != nil {
		return nil, err
	}
	if err := required("size", p.Size); err != nil {
		return nil, err
	}
	return LiquidationEvent{
		Meta:            meta,
		Key:             common.HexToHash(p.Key),
		CollateralToken: collateral.Address,
		IndexToken:      index.Address,
		IsLong:          meta.Action.IsLong(),
		Size:            usd(p.Size),
		Collateral:      usd(p.Collateral),
		ReserveAmount:   amount(p.ReserveAmount, collateral.Decimals),
		RealisedPnl:     usd(p.RealisedPnl),
		MarkPrice:       usd(p.MarkPrice),
	}, nil
}

func (d decoder) swap(meta Meta, p rawParams) (TradingEvent, error) {
	ev := SwapEvent{Meta: meta}
	switch meta.Action {
	case ActionBuyUSDG, ActionSellUSDG:
		tok, err := d.token("token", p.Token)
		if err != nil {
			return nil, err
		}
		ch, err := d.registry.Chain(d.chainID)
		if err != nil {
			return nil, err
		}
		if err := required("tokenAmount", p.TokenAmount); err != nil {
			return nil, err
		}
		tokenSide := amount(p.TokenAmount, tok.Decimals)
		usdgSide := amount(p.UsdgAmount, fpmath.USDGDecimals)
		if meta.Action == ActionBuyUSDG {
			ev.TokenIn, ev.AmountIn = tok.Address, tokenSide
			ev.TokenOut, ev.AmountOut = ch.Contracts.Usdg, usdgSide
		} else {
			ev.TokenIn, ev.AmountIn = ch.Contracts.Usdg, usdgSide
			ev.TokenOut, ev.AmountOut = tok.Address, tokenSide
		}
	default:
		in, err := d.token("tokenIn", p.TokenIn)
		if err != nil {
			return nil, err
		}
		out, err := d.token("tokenOut", p.TokenOut)
		if err != nil {
			return nil, err
		}
		if err := required("amountIn", p.AmountIn); err != nil {
			return nil, err
		}
		ev.TokenIn, ev.AmountIn = in.Address, amount(p.AmountIn, in.Decimals)
		ev.TokenOut, ev.AmountOut = out.Address, amount(p.AmountOut, out.Decimals)
	}
	return ev, nil
}

func (d decoder) order(meta Meta, p rawParams) (TradingEvent, error) {
	kind := meta.Action.OrderKind()
	ev := OrderEvent{
		Meta:                  meta,
		Kind:                  kind,
		TriggerAboveThreshold: p.TriggerAbove,
		SizeDelta:             usd(p.SizeDelta),
		CollateralDelta:       usd(p.CollateralDelta),
		TriggerPrice:          usd(p.TriggerPrice),
		TriggerRatio:          usd(p.TriggerRatio),
		ExecutionPrice:        usd(p.ExecutionPrice),
	}
	idx := p.OrderIndex
	if idx.Int == nil {
		idx = p.Index
	}
	if err := required("orderIndex", idx); err != nil {
		return nil, err
	}
	ev.OrderIndex = idx.Int64()
	if p.IsLong != nil {
		ev.IsLong = *p.IsLong
	}

	if len(p.Path) > 0 {
		addrs, toks, err := d.path(p.Path)
		if err != nil {
			return nil, err
		}
		ev.Path = addrs
		ev.AmountIn = amount(p.AmountIn, toks[0].Decimals)
		ev.MinOut = amount(p.MinOut, toks[len(toks)-1].Decimals)
	} else if kind == subgraph.OrderKindSwap {
		return nil, errors.Wrap(errMissingField, "path")
	}

	if kind != subgraph.OrderKindSwap {
		index, err := d.token("indexToken", p.IndexToken)
		if err != nil {
			return nil, err
		}
		collateral, err := d.token("collateralToken", p.CollateralToken)
		if err != nil {
			return nil, err
		}
		ev.IndexToken, ev.CollateralToken = index.Address, collateral.Address
	}
	return ev, nil
}

func (d decoder) positionRequest(meta Meta, p rawParams) (TradingEvent, error) {
	addrs, toks, err := d.path(p.Path)
	if err != nil {
		return nil, err
	}
	index, err := d.token("indexToken", p.IndexToken)
	if err != nil {
		return nil, err
	}
	ev := PositionRequestEvent{
		Meta:            meta,
		Path:            addrs,
		IndexToken:      index.Address,
		AmountIn:        amount(p.AmountIn, toks[0].Decimals),
		SizeDelta:       usd(p.SizeDelta),
		CollateralDelta: usd(p.CollateralDelta),
		AcceptablePrice: usd(p.AcceptablePrice),
		ExecutionFee:    amount(p.ExecutionFee, nativeDecimals),
	}
	if p.IsLong != nil {
		ev.IsLong = *p.IsLong
	}
	return ev, nil
}
