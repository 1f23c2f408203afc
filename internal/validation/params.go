package validation

import (
	"PerpDesk/internal/cache"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/state"
	"PerpDesk/internal/subgraph"

	"github.com/ethereum/go-ethereum/common"
)

// Params is everything the validators look at for one intent. Validators
// share it concurrently and must treat it as read-only.
type Params struct {
	ChainID   int64
	Account   common.Address
	Action    orders.Action
	OrderType orders.OrderType

	FromToken       common.Address
	ToToken         common.Address
	CollateralToken common.Address
	IndexToken      common.Address
	IsLong          bool
	KeepLeverage    bool

	FromAmount      fpmath.Amount // FromToken decimals
	SizeDelta       fpmath.Amount // USD
	CollateralDelta fpmath.Amount // USD, decreases only
	LeverageBps     fpmath.Amount
	SlippageBps     fpmath.Amount
	TriggerPrice    fpmath.Amount
	TakeProfit      fpmath.Amount
	StopLoss        fpmath.Amount

	Position       *state.Position
	ExistingOrders []subgraph.DecreaseOrder

	Tokens           state.TokenInfoMap
	StakedGovernance fpmath.Amount // 18 decimals
	Protocol         state.ProtocolParams
	Totals           state.VaultTotals
	NativeToken      common.Address
	WrappedToken     common.Address

	Cache *cache.Request

	sizeDerived bool
}

func (p *Params) token(address common.Address) (state.TokenInfo, bool) {
	if p.Tokens == nil {
		return state.TokenInfo{}, false
	}
	return p.Tokens.Get(address)
}

// vault maps the native token to the wrapped token the vault holds.
func (p *Params) vault(address common.Address) common.Address {
	if address == p.NativeToken {
		return p.WrappedToken
	}
	return address
}

// fromUsdMin values FromAmount at the from token's min price.
func (p *Params) fromUsdMin() fpmath.Amount {
	from, ok := p.token(p.FromToken)
	if !ok || !p.FromAmount.IsSet() {
		return fpmath.Amount{}
	}
	return fpmath.TokenUSD(p.FromAmount, from.MinPrice, from.Decimals)
}

// swapFeeUsd is the fee of routing FromToken into the collateral token,
// zero when no swap is needed.
func (p *Params) swapFeeUsd() fpmath.Amount {
	return state.SwapFeeUSD(p.Tokens, p.vault(p.FromToken), p.vault(p.CollateralToken), p.FromAmount, p.Totals, p.Protocol)
}

// withIncreaseSize returns a copy of p whose SizeDelta is the size the
// increase builders would open from FromAmount at the leverage option, when
// an increase arrives without one. p itself is returned unchanged when
// there is nothing to derive or the market data is missing.
func (p *Params) withIncreaseSize() *Params {
	if p.Action != orders.ActionIncrease || p.SizeDelta.IsSet() || !p.FromAmount.IsPositive() {
		return p
	}
	leverage := p.LeverageBps
	if !leverage.IsPositive() {
		leverage = orders.LeverageBps(nil)
	}
	marginFee := p.Protocol.MarginFeeBps
	if !marginFee.IsSet() {
		marginFee = fpmath.MarginFeeBasisPoints
	}
	size := orders.IncreaseSizeDelta(p.fromUsdMin(), leverage, marginFee, p.swapFeeUsd())
	if !size.IsSet() {
		return p
	}
	q := *p
	q.SizeDelta = size
	q.LeverageBps = leverage
	q.sizeDerived = true
	return &q
}

// entryPrice is the trigger for limit orders and the worse side of the
// spread for market orders.
func (p *Params) entryPrice() fpmath.Amount {
	if !p.OrderType.IsMarket() && p.TriggerPrice.IsPositive() {
		return p.TriggerPrice
	}
	index, ok := p.token(p.IndexToken)
	if !ok {
		return fpmath.Amount{}
	}
	if p.IsLong {
		return index.MaxPrice
	}
	return index.MinPrice
}

// increaseCollateral is the USD collateral an increase adds after the swap
// fee.
func (p *Params) increaseCollateral() fpmath.Amount {
	usd := p.fromUsdMin()
	if !usd.IsSet() {
		return usd
	}
	if fee := p.swapFeeUsd(); fee.IsSet() {
		usd = usd.Sub(fee)
	}
	return usd
}

// maxLeverage is the insane-mode ceiling when the account stakes enough of
// the governance token, the regular ceiling otherwise.
func (p *Params) maxLeverage() fpmath.Amount {
	threshold := p.Protocol.InsaneStakeThreshold
	if p.StakedGovernance.IsSet() && threshold.IsSet() && p.StakedGovernance.Gte(threshold) {
		return p.Protocol.InsaneMaxLeverage
	}
	return p.Protocol.MaxLeverage
}
