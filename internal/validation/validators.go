package validation

import (
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/risk"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultValidators is the full check set, in the order messages are
// reported.
func DefaultValidators() []Validator {
	return []Validator{
		{Name: "amount", Check: checkAmount},
		{Name: "balance", Check: checkBalance},
		{Name: "min_order", Check: checkMinOrder},
		{Name: "leverage", Check: checkLeverage},
		{Name: "reduce_only_fees", Check: checkReduceOnlyFees},
		{Name: "liquidity", Check: checkLiquidity},
		{Name: "circuit_breaker", Check: checkCircuitBreaker},
		{Name: "trigger_price", Check: checkTriggerPrice},
		{Name: "take_profit_stop_loss", Check: checkTakeProfitStopLoss},
	}
}

func usdLabel(a fpmath.Amount) string { return a.Format(2) + " USD" }

func checkAmount(_ context.Context, p *Params) ([]string, error) {
	if p.Action == orders.ActionDecrease {
		if !p.SizeDelta.IsPositive() && !p.CollateralDelta.IsPositive() {
			return []string{"Enter an amount"}, nil
		}
		if p.Position != nil && p.SizeDelta.Gt(p.Position.Size) {
			return []string{"Max close amount exceeded"}, nil
		}
		return nil, nil
	}

	if !p.FromAmount.IsPositive() {
		return []string{"Enter an amount"}, nil
	}
	if p.Action == orders.ActionSwap && p.vault(p.FromToken) == p.vault(p.ToToken) {
		return []string{"Select different tokens"}, nil
	}
	return nil, nil
}

func checkBalance(_ context.Context, p *Params) ([]string, error) {
	if p.Action == orders.ActionDecrease || !p.FromAmount.IsSet() {
		return nil, nil
	}
	from, ok := p.token(p.FromToken)
	if !ok {
		return nil, errMissing("from token info")
	}
	// an unknown balance is not a reason to block
	if !from.Balance.IsSet() {
		return nil, nil
	}
	if p.FromAmount.Gt(from.Balance) {
		return []string{fmt.Sprintf("Insufficient %s balance", from.Symbol)}, nil
	}
	return nil, nil
}

func checkMinOrder(_ context.Context, p *Params) ([]string, error) {
	minOrder, minCollateral := p.Protocol.MinOrderUSD, p.Protocol.MinCollateralUSD

	switch p.Action {
	case orders.ActionIncrease:
		var msgs []string
		if p.SizeDelta.IsSet() && p.SizeDelta.Lt(minOrder) {
			msgs = append(msgs, "Min order: "+usdLabel(minOrder))
		}
		if p.Position == nil {
			if c := p.increaseCollateral(); c.IsSet() && c.Lt(minCollateral) {
				msgs = append(msgs, "Min collateral: "+usdLabel(minCollateral))
			}
		}
		return msgs, nil

	case orders.ActionDecrease:
		pos := p.Position
		if pos == nil || !p.SizeDelta.IsSet() || orders.IsClosing(p.SizeDelta, *pos) {
			return nil, nil
		}
		var msgs []string
		if left := pos.Size.Sub(p.SizeDelta); left.IsPositive() && left.Lt(minOrder) {
			msgs = append(msgs, "Leftover position below "+usdLabel(minOrder))
		}
		left := orders.NextCollateral(orders.NextInput{
			Position:        pos,
			SizeDelta:       p.SizeDelta,
			CollateralDelta: p.CollateralDelta,
		})
		if left.Lt(minCollateral) {
			msgs = append(msgs, "Leftover collateral below "+usdLabel(minCollateral))
		}
		return msgs, nil
	}
	return nil, nil
}

func checkLeverage(_ context.Context, p *Params) ([]string, error) {
	maxLev := p.maxLeverage()

	switch p.Action {
	case orders.ActionIncrease:
		// a derived size already carries the leverage option
		lev := p.LeverageBps
		if p.SizeDelta.IsPositive() && !p.sizeDerived {
			lev = orders.NextLeverage(orders.NextInput{
				Position:        p.Position,
				SizeDelta:       p.SizeDelta,
				CollateralDelta: p.increaseCollateral(),
				Increase:        true,
				MarginFeeBps:    p.Protocol.MarginFeeBps,
			})
		}
		if !lev.IsSet() {
			return nil, nil
		}
		if lev.IsZero() {
			return []string{"Fees are higher than collateral"}, nil
		}
		if lev.Lt(p.Protocol.MinLeverage) {
			return []string{fmt.Sprintf("Min leverage: %sx", p.Protocol.MinLeverage.Format(1))}, nil
		}
		if lev.Gt(maxLev) {
			return []string{fmt.Sprintf("Max leverage: %sx", maxLev.Format(1))}, nil
		}

	case orders.ActionDecrease:
		pos := p.Position
		if pos == nil || !p.SizeDelta.IsPositive() || orders.IsClosing(p.SizeDelta, *pos) {
			return nil, nil
		}
		collateralDelta := p.CollateralDelta
		if !collateralDelta.IsSet() {
			collateralDelta = orders.DecreaseCollateralDelta(*pos, p.SizeDelta, p.KeepLeverage, p.Protocol.MarginFeeBps)
		}
		lev := orders.NextLeverage(orders.NextInput{
			Position:        pos,
			SizeDelta:       p.SizeDelta,
			CollateralDelta: collateralDelta,
			MarginFeeBps:    p.Protocol.MarginFeeBps,
		})
		// zero: the loss and withdrawal leave no collateral
		if lev.IsSet() && (lev.IsZero() || lev.Gt(maxLev)) {
			return []string{fmt.Sprintf("Max leverage: %sx", maxLev.Format(1))}, nil
		}
	}
	return nil, nil
}

// checkReduceOnlyFees guards trigger decreases, which execute later: the
// collateral left after the decrease must still pay the margin and funding
// fees, and the leverage including PnL must stay within bounds.
func checkReduceOnlyFees(_ context.Context, p *Params) ([]string, error) {
	pos := p.Position
	if p.Action != orders.ActionDecrease || p.OrderType.IsMarket() || pos == nil || !p.SizeDelta.IsPositive() {
		return nil, nil
	}
	if orders.IsClosing(p.SizeDelta, *pos) {
		return nil, nil
	}

	collateralDelta := p.CollateralDelta
	if !collateralDelta.IsSet() {
		collateralDelta = orders.DecreaseCollateralDelta(*pos, p.SizeDelta, p.KeepLeverage, p.Protocol.MarginFeeBps)
	}
	left := orders.NextCollateral(orders.NextInput{Position: pos, SizeDelta: p.SizeDelta, CollateralDelta: collateralDelta})
	fees := fpmath.MarginFee(p.SizeDelta, p.Protocol.MarginFeeBps)
	if pos.FundingFee.IsSet() {
		fees = fees.Add(pos.FundingFee)
	}
	if !left.Gt(fees) {
		return []string{"Fees are higher than collateral"}, nil
	}

	if p.KeepLeverage {
		return nil, nil
	}
	lev := orders.NextLeverage(orders.NextInput{
		Position:        pos,
		SizeDelta:       p.SizeDelta,
		CollateralDelta: collateralDelta,
		IncludeDelta:    true,
		MarginFeeBps:    p.Protocol.MarginFeeBps,
	})
	maxLev := p.maxLeverage()
	if lev.IsSet() && (lev.IsZero() || lev.Gt(maxLev)) {
		return []string{fmt.Sprintf("Leverage after decrease exceeds %sx", maxLev.Format(1))}, nil
	}
	return nil, nil
}

func checkLiquidity(_ context.Context, p *Params) ([]string, error) {
	switch p.Action {
	case orders.ActionSwap:
		return p.swapLiquidity(p.ToToken)

	case orders.ActionIncrease:
		var msgs []string
		if size := p.SizeDelta; size.IsPositive() {
			index, ok := p.token(p.IndexToken)
			if !ok {
				return nil, errMissing("index token info")
			}
			if p.IsLong {
				if index.HasMaxAvailableLong && size.Gt(index.MaxAvailableLong) {
					msgs = append(msgs, fmt.Sprintf("Max %s long exceeded", index.Symbol))
				} else if index.AvailableUsd.IsSet() && size.Gt(index.AvailableUsd) {
					msgs = append(msgs, fmt.Sprintf("Insufficient liquidity for %s long", index.Symbol))
				}
			} else {
				collateral, ok := p.token(p.CollateralToken)
				if !ok {
					return nil, errMissing("collateral token info")
				}
				if index.HasMaxAvailableShort && size.Gt(index.MaxAvailableShort) {
					msgs = append(msgs, fmt.Sprintf("Max %s short exceeded", index.Symbol))
				} else if collateral.AvailableUsd.IsSet() && size.Gt(collateral.AvailableUsd) {
					msgs = append(msgs, fmt.Sprintf("Insufficient liquidity for %s short", index.Symbol))
				}
			}
		}
		if p.vault(p.FromToken) != p.vault(p.CollateralToken) {
			swap, err := p.swapLiquidity(p.CollateralToken)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, swap...)
		}
		return msgs, nil
	}
	return nil, nil
}

// swapLiquidity checks that the pool of to can pay out the swap and that
// the from token's USDG cap leaves room for it.
func (p *Params) swapLiquidity(to common.Address) ([]string, error) {
	if !p.FromAmount.IsPositive() {
		return nil, nil
	}
	from, ok := p.token(p.FromToken)
	if !ok {
		return nil, errMissing("from token info")
	}
	out, ok := p.token(to)
	if !ok {
		return nil, errMissing("to token info")
	}

	var msgs []string
	usd := fpmath.TokenUSD(p.FromAmount, from.MinPrice, from.Decimals)
	if out.AvailableUsd.IsSet() && usd.Gt(out.AvailableUsd) {
		msgs = append(msgs, fmt.Sprintf("Insufficient liquidity to swap to %s", out.Symbol))
	}
	if from.MaxUsdgAmount.IsPositive() && from.UsdgAmount.IsSet() {
		usdg := fpmath.TokenUSDG(p.FromAmount, from.MinPrice)
		if from.UsdgAmount.Add(usdg).Gt(from.MaxUsdgAmount) {
			msgs = append(msgs, fmt.Sprintf("Max %s in exceeded", from.Symbol))
		}
	}
	return msgs, nil
}

// checkCircuitBreaker rejects increases that push one side's open interest
// beyond CircuitBreakerRatio times the other side.
func checkCircuitBreaker(_ context.Context, p *Params) ([]string, error) {
	ratio := p.Protocol.CircuitBreakerRatio
	if p.Action != orders.ActionIncrease || !p.SizeDelta.IsPositive() || !ratio.IsPositive() {
		return nil, nil
	}
	index, ok := p.token(p.IndexToken)
	if !ok {
		return nil, errMissing("index token info")
	}
	longOI, shortOI := index.GuaranteedUsd, index.GlobalShortSize
	if !longOI.IsPositive() || !shortOI.IsPositive() {
		return nil, nil
	}

	side, opposite, label := longOI, shortOI, "Long"
	if !p.IsLong {
		side, opposite, label = shortOI, longOI, "Short"
	}
	if side.Add(p.SizeDelta).Gt(opposite.MulDiv(ratio, fpmath.BasisPointsDivisor)) {
		return []string{fmt.Sprintf("%s open interest on %s is too high relative to the other side", label, index.Symbol)}, nil
	}
	return nil, nil
}

func checkTriggerPrice(_ context.Context, p *Params) ([]string, error) {
	if p.OrderType.IsMarket() || p.Action == orders.ActionSwap {
		return nil, nil
	}
	trigger := p.TriggerPrice
	if !trigger.IsPositive() {
		return []string{"Enter a price"}, nil
	}

	switch p.Action {
	case orders.ActionIncrease:
		index, ok := p.token(p.IndexToken)
		if !ok {
			return nil, errMissing("index token info")
		}
		if p.IsLong && index.MaxPrice.IsSet() && trigger.Gt(index.MaxPrice) {
			return []string{"Price above mark price"}, nil
		}
		if !p.IsLong && index.MinPrice.IsSet() && trigger.Lt(index.MinPrice) {
			return []string{"Price below mark price"}, nil
		}

	case orders.ActionDecrease:
		pos := p.Position
		if pos == nil || !pos.LiqPrice.IsPositive() {
			return nil, nil
		}
		if pos.IsLong && trigger.Lte(pos.LiqPrice) {
			return []string{"Price below liquidation price"}, nil
		}
		if !pos.IsLong && trigger.Gte(pos.LiqPrice) {
			return []string{"Price above liquidation price"}, nil
		}
	}
	return nil, nil
}

// checkTakeProfitStopLoss checks the trigger legs attached to an increase
// against its entry price and the liquidation price it will have.
func checkTakeProfitStopLoss(_ context.Context, p *Params) ([]string, error) {
	if p.Action != orders.ActionIncrease || (!p.TakeProfit.IsSet() && !p.StopLoss.IsSet()) {
		return nil, nil
	}
	entry := p.entryPrice()
	if !entry.IsPositive() {
		return nil, errMissing("entry price")
	}

	var msgs []string
	if tp := p.TakeProfit; tp.IsSet() {
		if p.IsLong && tp.Lte(entry) {
			msgs = append(msgs, "Take profit below entry price")
		}
		if !p.IsLong && tp.Gte(entry) {
			msgs = append(msgs, "Take profit above entry price")
		}
	}

	sl := p.StopLoss
	if !sl.IsSet() {
		return msgs, nil
	}
	if p.IsLong && sl.Gte(entry) {
		return append(msgs, "Stop loss above entry price"), nil
	}
	if !p.IsLong && sl.Lte(entry) {
		return append(msgs, "Stop loss below entry price"), nil
	}

	liq := p.nextLiquidationPrice(entry)
	switch {
	case !liq.IsPositive():
		msgs = append(msgs, "Invalid stop loss price")
	case p.IsLong && sl.Lte(liq):
		msgs = append(msgs, "Stop loss below liquidation price")
	case !p.IsLong && sl.Gte(liq):
		msgs = append(msgs, "Stop loss above liquidation price")
	}
	return msgs, nil
}

// nextLiquidationPrice is the liquidation price of the position once the
// increase executes at entry.
func (p *Params) nextLiquidationPrice(entry fpmath.Amount) fpmath.Amount {
	in := risk.LiquidationInput{
		IsLong:         p.IsLong,
		MarginFeeBps:   p.Protocol.MarginFeeBps,
		LiquidationFee: p.Protocol.LiquidationFee,
		MaxLeverage:    p.Protocol.MaxLiquidationLeverage,
	}
	if pos := p.Position; pos != nil {
		in.Size = pos.Size
		in.Collateral = pos.Collateral
		in.AveragePrice = pos.AveragePrice
		in.EntryFundingRate = pos.EntryFundingRate
		in.CumulativeFundingRate = pos.CumulativeFundingRate
		in.SizeDelta = p.SizeDelta
		in.IncreaseSize = true
		in.CollateralDelta = p.increaseCollateral()
		in.IncreaseCollateral = true
		return risk.LiquidationPrice(in)
	}
	in.Size = p.SizeDelta
	in.Collateral = p.increaseCollateral()
	in.AveragePrice = entry
	return risk.LiquidationPrice(in)
}
