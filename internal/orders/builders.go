package orders

import (
	"PerpDesk/internal/chain"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/risk"
	"PerpDesk/internal/state"
	"PerpDesk/internal/subgraph"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Contract methods the builders target.
const (
	MethodCreateIncreasePosition    = "createIncreasePosition"
	MethodCreateIncreasePositionETH = "createIncreasePositionETH"
	MethodCreateDecreasePosition    = "createDecreasePosition"
	MethodCreateIncreaseOrder       = "createIncreaseOrder"
	MethodUpdateIncreaseOrder       = "updateIncreaseOrder"
	MethodCreateDecreaseOrder       = "createDecreaseOrder"
	MethodUpdateDecreaseOrder       = "updateDecreaseOrder"
)

// Env is the market state a builder prices against. Execution fees are in
// native token units.
type Env struct {
	ChainID              int64
	Contracts            chain.Contracts
	NativeToken          common.Address
	WrappedToken         common.Address
	PositionExecutionFee fpmath.Amount
	OrderExecutionFee    fpmath.Amount
	Tokens               state.TokenInfoMap
	Params               state.ProtocolParams
	Totals               state.VaultTotals
	Now                  time.Time
	Referral             common.Hash
}

// Param is one named contract argument. Values are the ABI Go types:
// *big.Int, common.Address, []common.Address, bool or common.Hash.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Override carries the call's transaction overrides.
type Override struct {
	Value fpmath.Amount `json:"value"` // native token units
}

// Built is a ready-to-sign contract call.
type Built struct {
	Method   string         `json:"method"`
	Contract common.Address `json:"contract"`
	Params   []Param        `json:"params"`
	Override Override       `json:"override"`
	// Followups are trigger orders placed once the call executes. Their
	// execution fee is included in this call's override value.
	Followups []Built `json:"followups,omitempty"`
	// Preview is the settlement the vault is expected to apply, for
	// collateral deposits and market decreases.
	Preview *Preview `json:"preview,omitempty"`
}

// Preview amounts are USD. Unset fields marshal as null.
type Preview struct {
	DepositFee fpmath.Amount `json:"depositFee"`
	Fee        fpmath.Amount `json:"fee"`
	ReceiveUsd fpmath.Amount `json:"receiveUsd"`
	Collateral fpmath.Amount `json:"collateral"` // after the call
}

// Param returns the named argument, or nil.
func (b Built) Param(name string) any {
	for _, p := range b.Params {
		if p.Name == name {
			return p.Value
		}
	}
	return nil
}

// IncreasePositionRequest opens or grows a position at market.
type IncreasePositionRequest struct {
	Account     common.Address
	From        common.Address
	Amount      fpmath.Amount // From token decimals
	Collateral  common.Address
	Index       common.Address
	IsLong      bool
	Leverage    *float64
	SlippageBps fpmath.Amount
	TakeProfit  fpmath.Amount // USD; unset for none
	StopLoss    fpmath.Amount // USD; unset for none
}

// BuildIncreasePosition builds a market increase through the position
// router, with optional take-profit and stop-loss followups.
func BuildIncreasePosition(env Env, req IncreasePositionRequest) (Built, error) {
	if !req.Amount.IsPositive() {
		return Built{}, fmt.Errorf("increase position: %w", ErrInvalidAmount)
	}
	from, ok := env.Tokens.Get(req.From)
	if !ok {
		return Built{}, fmt.Errorf("increase position: from token %s: %w", req.From.Hex(), ErrMissingMarketData)
	}
	index, ok := env.Tokens.Get(req.Index)
	if !ok {
		return Built{}, fmt.Errorf("increase position: index token %s: %w", req.Index.Hex(), ErrMissingMarketData)
	}
	if !env.PositionExecutionFee.IsSet() || !env.OrderExecutionFee.IsSet() {
		return Built{}, fmt.Errorf("increase position: execution fee: %w", ErrMissingMarketData)
	}

	fromUsdMin := fpmath.TokenUSD(req.Amount, from.MinPrice, from.Decimals)
	swapFee := state.SwapFeeUSD(env.Tokens, env.vault(req.From), env.vault(req.Collateral), req.Amount, env.Totals, env.Params)
	sizeDelta := IncreaseSizeDelta(fromUsdMin, LeverageBps(req.Leverage), env.Params.MarginFeeBps, swapFee)
	if !sizeDelta.IsPositive() {
		return Built{}, fmt.Errorf("increase position: size: %w", ErrInvalidAmount)
	}

	entry := refPrice(index, req.IsLong, true)
	if !entry.IsPositive() {
		return Built{}, fmt.Errorf("increase position: index price: %w", ErrMissingMarketData)
	}
	acceptable := IncreasePriceLimit(entry, req.IsLong, req.SlippageBps)

	next := state.Position{
		CollateralToken: req.Collateral,
		IndexToken:      req.Index,
		IsLong:          req.IsLong,
		Size:            sizeDelta,
		Collateral:      fromUsdMin.Sub(orZero(swapFee)),
		AveragePrice:    entry,
	}
	followups, err := env.triggerLegs(next, req.TakeProfit, req.StopLoss)
	if err != nil {
		return Built{}, fmt.Errorf("increase position: %w", err)
	}

	fee := env.PositionExecutionFee.Add(env.OrderExecutionFee.MulInt(int64(len(followups))))
	path := SwapPath(req.From, req.Collateral, env.NativeToken, env.WrappedToken)

	b := Built{
		Method:    MethodCreateIncreasePosition,
		Contract:  env.Contracts.PositionRouter,
		Followups: followups,
		Override:  Override{Value: fee},
	}
	b.Params = append(b.Params, Param{"path", path}, Param{"indexToken", env.vault(req.Index)})
	if req.From == env.NativeToken {
		b.Method = MethodCreateIncreasePositionETH
		b.Override.Value = fee.Add(req.Amount.Rescale(fee.Exp()))
	} else {
		b.Params = append(b.Params, Param{"amountIn", req.Amount.Raw()})
	}
	b.Params = append(b.Params,
		Param{"minOut", new(big.Int)},
		Param{"sizeDelta", sizeDelta.Raw()},
		Param{"isLong", req.IsLong},
		Param{"acceptablePrice", acceptable.Raw()},
		Param{"executionFee", fee.Raw()},
		Param{"referralCode", env.Referral},
		Param{"callbackTarget", common.Address{}},
	)
	return b, nil
}

// DepositCollateralRequest adds collateral to an open position without
// changing its size.
type DepositCollateralRequest struct {
	Position    state.Position
	From        common.Address
	Amount      fpmath.Amount
	SlippageBps fpmath.Amount
}

// BuildDepositCollateral is an increase with a zero size delta.
func BuildDepositCollateral(env Env, req DepositCollateralRequest) (Built, error) {
	pos := req.Position
	if !req.Amount.IsPositive() {
		return Built{}, fmt.Errorf("deposit collateral: %w", ErrInvalidAmount)
	}
	index, ok := env.Tokens.Get(pos.IndexToken)
	if !ok || !env.PositionExecutionFee.IsSet() {
		return Built{}, fmt.Errorf("deposit collateral: %w", ErrMissingMarketData)
	}
	entry := refPrice(index, pos.IsLong, true)
	if !entry.IsPositive() {
		return Built{}, fmt.Errorf("deposit collateral: index price: %w", ErrMissingMarketData)
	}

	fee := env.PositionExecutionFee
	b := Built{
		Method:   MethodCreateIncreasePosition,
		Contract: env.Contracts.PositionRouter,
		Override: Override{Value: fee},
	}
	if from, ok := env.Tokens.Get(req.From); ok && from.MinPrice.IsPositive() {
		depositUsd := fpmath.TokenUSD(req.Amount, from.MinPrice, from.Decimals)
		depositFee := fpmath.DepositFee(depositUsd, env.Params.DepositFeeBps)
		b.Preview = &Preview{
			DepositFee: depositFee,
			Fee:        depositFee,
			Collateral: orZero(pos.Collateral).Add(depositUsd).Sub(depositFee),
		}
	}
	b.Params = append(b.Params,
		Param{"path", SwapPath(req.From, pos.CollateralToken, env.NativeToken, env.WrappedToken)},
		Param{"indexToken", env.vault(pos.IndexToken)},
	)
	if req.From == env.NativeToken {
		b.Method = MethodCreateIncreasePositionETH
		b.Override.Value = fee.Add(req.Amount.Rescale(fee.Exp()))
	} else {
		b.Params = append(b.Params, Param{"amountIn", req.Amount.Raw()})
	}
	b.Params = append(b.Params,
		Param{"minOut", new(big.Int)},
		Param{"sizeDelta", new(big.Int)},
		Param{"isLong", pos.IsLong},
		Param{"acceptablePrice", IncreasePriceLimit(entry, pos.IsLong, req.SlippageBps).Raw()},
		Param{"executionFee", fee.Raw()},
		Param{"referralCode", env.Referral},
		Param{"callbackTarget", common.Address{}},
	)
	return b, nil
}

// DecreasePositionRequest shrinks or closes a position at market.
type DecreasePositionRequest struct {
	Position       state.Position
	DecreaseUsd    fpmath.Amount
	KeepLeverage   bool
	Receive        common.Address // token paid out
	Receiver       common.Address
	SlippageBps    fpmath.Amount
	ExistingOrders []subgraph.DecreaseOrder
}

// BuildDecreasePosition builds a market decrease through the position
// router.
func BuildDecreasePosition(env Env, req DecreasePositionRequest) (Built, error) {
	pos := req.Position
	if !req.DecreaseUsd.IsPositive() {
		return Built{}, fmt.Errorf("decrease position: %w", ErrInvalidAmount)
	}
	sizeDelta := SizeDelta(SizeDeltaInput{
		Position:       pos,
		ExistingOrders: req.ExistingOrders,
		IsMarket:       true,
		DecreaseUsd:    req.DecreaseUsd,
	})
	if sizeDelta.Gt(pos.Size) {
		return Built{}, fmt.Errorf("decrease position: size %s exceeds position %s: %w", sizeDelta, pos.Size, ErrInvalidAmount)
	}
	collateralDelta := DecreaseCollateralDelta(pos, sizeDelta, req.KeepLeverage, env.Params.MarginFeeBps)
	return env.decrease("decrease position", pos, sizeDelta, collateralDelta, req.Receive, req.Receiver, req.SlippageBps)
}

// WithdrawCollateralRequest removes collateral from an open position
// without changing its size.
type WithdrawCollateralRequest struct {
	Position      state.Position
	CollateralUsd fpmath.Amount
	Receive       common.Address
	Receiver      common.Address
	SlippageBps   fpmath.Amount
}

// BuildWithdrawCollateral is a decrease with a zero size delta.
func BuildWithdrawCollateral(env Env, req WithdrawCollateralRequest) (Built, error) {
	if !req.CollateralUsd.IsPositive() || req.CollateralUsd.Gte(req.Position.Collateral) {
		return Built{}, fmt.Errorf("withdraw collateral: %w", ErrInvalidAmount)
	}
	return env.decrease("withdraw collateral", req.Position, fpmath.Zero(fpmath.USDDecimals), req.CollateralUsd, req.Receive, req.Receiver, req.SlippageBps)
}

func (env Env) decrease(op string, pos state.Position, sizeDelta, collateralDelta fpmath.Amount, receive, receiver common.Address, slippage fpmath.Amount) (Built, error) {
	index, ok := env.Tokens.Get(pos.IndexToken)
	if !ok || !env.PositionExecutionFee.IsSet() {
		return Built{}, fmt.Errorf("%s: %w", op, ErrMissingMarketData)
	}
	ref := refPrice(index, pos.IsLong, false)
	if !ref.IsPositive() {
		return Built{}, fmt.Errorf("%s: index price: %w", op, ErrMissingMarketData)
	}
	acceptable := DecreasePriceLimit(DecreaseLimitInput{
		RefPrice:      ref,
		IsLong:        pos.IsLong,
		SlippageBps:   slippage,
		Position:      &pos,
		Now:           env.Now,
		MinProfitTime: env.Params.MinProfitTime,
		MinProfitBps:  env.Params.MinProfitBps,
	})

	settled := ReduceCollateral(pos, sizeDelta, collateralDelta, env.Params.MarginFeeBps)

	fee := env.PositionExecutionFee
	return Built{
		Method:   MethodCreateDecreasePosition,
		Contract: env.Contracts.PositionRouter,
		Override: Override{Value: fee},
		Preview: &Preview{
			Fee:        settled.Fee,
			ReceiveUsd: settled.ReceiveUsd,
			Collateral: settled.Collateral,
		},
		Params: []Param{
			{"path", SwapPath(pos.CollateralToken, receive, env.NativeToken, env.WrappedToken)},
			{"indexToken", env.vault(pos.IndexToken)},
			{"collateralDelta", collateralDelta.Raw()},
			{"sizeDelta", sizeDelta.Raw()},
			{"isLong", pos.IsLong},
			{"receiver", receiver},
			{"acceptablePrice", acceptable.Raw()},
			{"minOut", new(big.Int)},
			{"executionFee", fee.Raw()},
			{"withdrawETH", receive == env.NativeToken},
			{"callbackTarget", common.Address{}},
		},
	}, nil
}

// IncreaseOrderRequest is a limit increase placed on the order book.
type IncreaseOrderRequest struct {
	From         common.Address
	Amount       fpmath.Amount
	Collateral   common.Address
	Index        common.Address
	IsLong       bool
	Leverage     *float64
	TriggerPrice fpmath.Amount
}

// BuildIncreaseOrder builds a limit increase. Longs trigger when the price
// falls to the trigger, shorts when it rises to it.
func BuildIncreaseOrder(env Env, req IncreaseOrderRequest) (Built, error) {
	if !req.Amount.IsPositive() {
		return Built{}, fmt.Errorf("increase order: %w", ErrInvalidAmount)
	}
	if !req.TriggerPrice.IsPositive() {
		return Built{}, fmt.Errorf("increase order: %w", ErrInvalidTriggerPrice)
	}
	from, ok := env.Tokens.Get(req.From)
	if !ok || !env.OrderExecutionFee.IsSet() {
		return Built{}, fmt.Errorf("increase order: %w", ErrMissingMarketData)
	}

	fromUsdMin := fpmath.TokenUSD(req.Amount, from.MinPrice, from.Decimals)
	swapFee := state.SwapFeeUSD(env.Tokens, env.vault(req.From), env.vault(req.Collateral), req.Amount, env.Totals, env.Params)
	sizeDelta := IncreaseSizeDelta(fromUsdMin, LeverageBps(req.Leverage), env.Params.MarginFeeBps, swapFee)
	if !sizeDelta.IsPositive() {
		return Built{}, fmt.Errorf("increase order: size: %w", ErrInvalidAmount)
	}

	fee := env.OrderExecutionFee
	value := fee
	shouldWrap := req.From == env.NativeToken
	if shouldWrap {
		value = fee.Add(req.Amount.Rescale(fee.Exp()))
	}
	return Built{
		Method:   MethodCreateIncreaseOrder,
		Contract: env.Contracts.OrderBook,
		Override: Override{Value: value},
		Params: []Param{
			{"path", SwapPath(req.From, req.Collateral, env.NativeToken, env.WrappedToken)},
			{"amountIn", req.Amount.Raw()},
			{"indexToken", env.vault(req.Index)},
			{"minOut", new(big.Int)},
			{"sizeDelta", sizeDelta.Raw()},
			{"collateralToken", env.vault(req.Collateral)},
			{"isLong", req.IsLong},
			{"triggerPrice", req.TriggerPrice.Raw()},
			{"triggerAboveThreshold", !req.IsLong},
			{"executionFee", fee.Raw()},
			{"shouldWrap", shouldWrap},
		},
	}, nil
}

// UpdateIncreaseOrderRequest reprices or resizes a pending limit increase.
type UpdateIncreaseOrderRequest struct {
	Order        subgraph.IncreaseOrder
	SizeDelta    fpmath.Amount
	TriggerPrice fpmath.Amount
}

func BuildUpdateIncreaseOrder(env Env, req UpdateIncreaseOrderRequest) (Built, error) {
	if !req.TriggerPrice.IsPositive() {
		return Built{}, fmt.Errorf("update increase order: %w", ErrInvalidTriggerPrice)
	}
	if !req.SizeDelta.IsPositive() {
		return Built{}, fmt.Errorf("update increase order: %w", ErrInvalidAmount)
	}
	return Built{
		Method:   MethodUpdateIncreaseOrder,
		Contract: env.Contracts.OrderBook,
		Override: Override{Value: zeroNative(env)},
		Params: []Param{
			{"orderIndex", big.NewInt(req.Order.Index)},
			{"sizeDelta", req.SizeDelta.Raw()},
			{"triggerPrice", req.TriggerPrice.Raw()},
			{"triggerAboveThreshold", req.Order.TriggerAboveThreshold},
		},
	}, nil
}

// DecreaseOrderRequest is a take-profit or stop-loss on an open position.
type DecreaseOrderRequest struct {
	Position       state.Position
	DecreaseUsd    fpmath.Amount
	TriggerPrice   fpmath.Amount
	KeepLeverage   bool
	ExistingOrders []subgraph.DecreaseOrder
}

// BuildDecreaseOrder builds a trigger decrease. The order fires above the
// trigger when the trigger is above the mark price and below it otherwise.
func BuildDecreaseOrder(env Env, req DecreaseOrderRequest) (Built, error) {
	pos := req.Position
	if !req.DecreaseUsd.IsPositive() {
		return Built{}, fmt.Errorf("decrease order: %w", ErrInvalidAmount)
	}
	if err := checkTrigger(pos, req.TriggerPrice); err != nil {
		return Built{}, fmt.Errorf("decrease order: %w", err)
	}
	if !env.OrderExecutionFee.IsSet() {
		return Built{}, fmt.Errorf("decrease order: %w", ErrMissingMarketData)
	}

	sizeDelta := SizeDelta(SizeDeltaInput{
		Position:       pos,
		ExistingOrders: req.ExistingOrders,
		DecreaseUsd:    req.DecreaseUsd,
		TriggerPrice:   req.TriggerPrice,
	})
	collateralDelta := DecreaseCollateralDelta(pos, sizeDelta, req.KeepLeverage, env.Params.MarginFeeBps)
	return env.decreaseOrder(pos.IndexToken, pos.CollateralToken, pos.IsLong, sizeDelta, collateralDelta, req.TriggerPrice, req.TriggerPrice.Gt(pos.MarkPrice)), nil
}

func (env Env) decreaseOrder(index, collateral common.Address, isLong bool, sizeDelta, collateralDelta, trigger fpmath.Amount, above bool) Built {
	return Built{
		Method:   MethodCreateDecreaseOrder,
		Contract: env.Contracts.OrderBook,
		Override: Override{Value: env.OrderExecutionFee},
		Params: []Param{
			{"indexToken", env.vault(index)},
			{"sizeDelta", sizeDelta.Raw()},
			{"collateralToken", env.vault(collateral)},
			{"collateralDelta", collateralDelta.Raw()},
			{"isLong", isLong},
			{"triggerPrice", trigger.Raw()},
			{"triggerAboveThreshold", above},
		},
	}
}

// UpdateDecreaseOrderRequest reprices or resizes a pending trigger
// decrease.
type UpdateDecreaseOrderRequest struct {
	Order        subgraph.DecreaseOrder
	Position     state.Position
	DecreaseUsd  fpmath.Amount
	TriggerPrice fpmath.Amount
	KeepLeverage bool
}

func BuildUpdateDecreaseOrder(env Env, req UpdateDecreaseOrderRequest) (Built, error) {
	pos := req.Position
	if !req.DecreaseUsd.IsPositive() {
		return Built{}, fmt.Errorf("update decrease order: %w", ErrInvalidAmount)
	}
	if err := checkTrigger(pos, req.TriggerPrice); err != nil {
		return Built{}, fmt.Errorf("update decrease order: %w", err)
	}

	sizeDelta := req.DecreaseUsd
	if IsClosing(sizeDelta, pos) {
		sizeDelta = pos.Size
	}
	collateralDelta := DecreaseCollateralDelta(pos, sizeDelta, req.KeepLeverage, env.Params.MarginFeeBps)
	return Built{
		Method:   MethodUpdateDecreaseOrder,
		Contract: env.Contracts.OrderBook,
		Override: Override{Value: zeroNative(env)},
		Params: []Param{
			{"orderIndex", big.NewInt(req.Order.Index)},
			{"collateralDelta", collateralDelta.Raw()},
			{"sizeDelta", sizeDelta.Raw()},
			{"triggerPrice", req.TriggerPrice.Raw()},
			{"triggerAboveThreshold", req.TriggerPrice.Gt(pos.MarkPrice)},
		},
	}, nil
}

// checkTrigger rejects a non-positive trigger, and a stop-loss on a
// position whose liquidation price is unknown or already passed by it.
func checkTrigger(pos state.Position, trigger fpmath.Amount) error {
	if !trigger.IsPositive() || !pos.MarkPrice.IsPositive() {
		return ErrInvalidTriggerPrice
	}
	stop := trigger.Lt(pos.MarkPrice)
	if !pos.IsLong {
		stop = trigger.Gt(pos.MarkPrice)
	}
	if !stop {
		return nil
	}
	if !pos.LiqPrice.IsPositive() {
		return ErrInvalidTriggerPrice
	}
	if (pos.IsLong && trigger.Lte(pos.LiqPrice)) || (!pos.IsLong && trigger.Gte(pos.LiqPrice)) {
		return ErrInvalidTriggerPrice
	}
	return nil
}

// triggerLegs builds the take-profit and stop-loss orders for a position
// about to be opened at next.AveragePrice.
func (env Env) triggerLegs(next state.Position, takeProfit, stopLoss fpmath.Amount) ([]Built, error) {
	var legs []Built
	if takeProfit.IsSet() {
		if !takeProfit.IsPositive() {
			return nil, ErrInvalidTriggerPrice
		}
		legs = append(legs, env.decreaseOrder(next.IndexToken, next.CollateralToken, next.IsLong,
			next.Size, fpmath.Zero(fpmath.USDDecimals), takeProfit, next.IsLong))
	}
	if stopLoss.IsSet() {
		next.MarkPrice = next.AveragePrice
		next.LiqPrice = risk.LiquidationPrice(risk.LiquidationInput{
			IsLong:         next.IsLong,
			Size:           next.Size,
			Collateral:     next.Collateral,
			AveragePrice:   next.AveragePrice,
			MarginFeeBps:   env.Params.MarginFeeBps,
			LiquidationFee: env.Params.LiquidationFee,
			MaxLeverage:    env.Params.MaxLiquidationLeverage,
		})
		if err := checkTrigger(next, stopLoss); err != nil {
			return nil, err
		}
		legs = append(legs, env.decreaseOrder(next.IndexToken, next.CollateralToken, next.IsLong,
			next.Size, fpmath.Zero(fpmath.USDDecimals), stopLoss, !next.IsLong))
	}
	return legs, nil
}

// vault maps the native token to its wrapped form, which is how the vault
// and order book know it.
func (env Env) vault(token common.Address) common.Address {
	if token == env.NativeToken {
		return env.WrappedToken
	}
	return token
}

// refPrice picks the side of the spread that is worse for the trader:
// increases pay the max price on longs, decreases receive the min.
func refPrice(ti state.TokenInfo, isLong, increase bool) fpmath.Amount {
	if isLong == increase {
		return ti.MaxPrice
	}
	return ti.MinPrice
}

func zeroNative(env Env) fpmath.Amount {
	if env.OrderExecutionFee.IsSet() {
		return fpmath.Zero(env.OrderExecutionFee.Exp())
	}
	return fpmath.Zero(18)
}
