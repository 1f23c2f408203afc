package orders

import (
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/risk"
	"PerpDesk/internal/state"
	"PerpDesk/internal/subgraph"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// IsClosing reports whether decreasing position by decreaseUsd leaves less
// than the dust threshold, i.e. the decrease is a full close.
func IsClosing(decreaseUsd fpmath.Amount, position state.Position) bool {
	if !decreaseUsd.IsSet() || !position.Size.IsPositive() {
		return false
	}
	return position.Size.Sub(decreaseUsd).Lt(fpmath.DustUSD)
}

// SizeDeltaInput describes a requested decrease.
type SizeDeltaInput struct {
	Position       state.Position
	ExistingOrders []subgraph.DecreaseOrder
	IsMarket       bool
	DecreaseUsd    fpmath.Amount
	TriggerPrice   fpmath.Amount
}

// SizeDelta reconciles a requested decrease with the position and its
// pending decrease orders. A near-full decrease is snapped to the full
// size; a limit decrease within OrderSizeDustUSD of what the opposite-leg
// orders leave open is snapped to that residual.
func SizeDelta(in SizeDeltaInput) fpmath.Amount {
	pos := in.Position
	if IsClosing(in.DecreaseUsd, pos) {
		return pos.Size
	}
	if !in.DecreaseUsd.IsPositive() {
		return in.DecreaseUsd
	}

	if !in.IsMarket && in.TriggerPrice.IsSet() && pos.AveragePrice.IsSet() {
		above := in.TriggerPrice.Gt(pos.AveragePrice)
		others := ordersForPosition(in.ExistingOrders, pos)

		committed := fpmath.Zero(fpmath.USDDecimals)
		found := false
		for _, o := range others {
			if o.TriggerAboveThreshold != above {
				committed = committed.Add(o.SizeDelta)
				found = true
			}
		}

		if found {
			residual := pos.Size.Sub(committed)
			if residual.IsPositive() && residual.Sub(in.DecreaseUsd).Abs().Lt(fpmath.OrderSizeDustUSD) {
				return residual
			}
		}
	}
	return in.DecreaseUsd
}

// ordersForPosition keeps the decrease orders on the same collateral,
// index and direction as pos.
func ordersForPosition(orders []subgraph.DecreaseOrder, pos state.Position) []subgraph.DecreaseOrder {
	var out []subgraph.DecreaseOrder
	for _, o := range orders {
		if o.CollateralToken == pos.CollateralToken && o.IndexToken == pos.IndexToken && o.IsLong == pos.IsLong {
			out = append(out, o)
		}
	}
	return out
}

// CollateralDeltaInput describes the decreased slice of a position.
type CollateralDeltaInput struct {
	Size         fpmath.Amount
	Collateral   fpmath.Amount
	SizeDelta    fpmath.Amount
	HasProfit    bool
	Delta        fpmath.Amount // PnL of the decreased slice
	TotalFees    fpmath.Amount // fees charged on the decrease
	KeepLeverage bool
	IsClosing    bool
}

// CollateralDelta is the collateral to withdraw alongside a decrease. On a
// full close the contract derives it itself, so it is zero. Negative
// results are clamped to zero.
func CollateralDelta(in CollateralDeltaInput) fpmath.Amount {
	zero := fpmath.Zero(fpmath.USDDecimals)
	if !in.Size.IsPositive() || in.IsClosing || !in.SizeDelta.IsSet() {
		return zero
	}

	delta := orZero(in.Delta)
	fees := orZero(in.TotalFees)
	adjusted := in.Collateral.MulDiv(in.SizeDelta, in.Size)

	var out fpmath.Amount
	switch {
	case in.KeepLeverage && in.HasProfit:
		out = adjusted
		if !delta.Gt(fees) {
			out = adjusted.Add(fees.Sub(delta))
		}
	case in.KeepLeverage:
		out = adjusted.Sub(delta).Sub(fees)
	case in.HasProfit:
		out = zero
		if !delta.Gt(fees) {
			out = fees.Sub(delta)
		}
	default:
		out = delta
	}

	if !out.IsSet() || out.IsNegative() {
		return zero
	}
	return out
}

// DecreaseCollateralDelta derives the CollateralDelta inputs from an
// enriched position: the slice's share of the position delta and the
// margin plus funding fee the decrease pays.
func DecreaseCollateralDelta(pos state.Position, sizeDelta fpmath.Amount, keepLeverage bool, marginFeeBps fpmath.Amount) fpmath.Amount {
	closing := IsClosing(sizeDelta, pos)
	var sliceDelta fpmath.Amount
	if pos.Size.IsPositive() {
		sliceDelta = sizeDelta.MulDiv(orZero(pos.Delta), pos.Size)
	}
	fees := fpmath.MarginFee(sizeDelta, marginFeeBps).Add(orZero(pos.FundingFee))
	return CollateralDelta(CollateralDeltaInput{
		Size:         pos.Size,
		Collateral:   pos.Collateral,
		SizeDelta:    sizeDelta,
		HasProfit:    pos.HasProfit,
		Delta:        sliceDelta,
		TotalFees:    fees,
		KeepLeverage: keepLeverage,
		IsClosing:    closing,
	})
}

// LeverageBps converts a leverage multiplier into basis points, floored.
// No option means the default 2x.
func LeverageBps(option *float64) fpmath.Amount {
	if option == nil {
		return fpmath.BPS(fpmath.DefaultLeverage * 10_000)
	}
	return fpmath.BPS(int64(math.Floor(*option * 10_000)))
}

// IncreaseSizeDelta is the size an increase of fromUsdMin opens at
// leverageBps once the swap fee and the margin fee on the size itself are
// taken out of the collateral:
//
//	size = collateral * lev * DIV / (DIV*DIV + lev*marginFeeBps)
func IncreaseSizeDelta(fromUsdMin, leverageBps, marginFeeBps, swapFeeUsd fpmath.Amount) fpmath.Amount {
	if !fromUsdMin.IsSet() || !leverageBps.IsPositive() {
		return fpmath.Amount{}
	}
	collateral := fromUsdMin
	if swapFeeUsd.IsSet() {
		collateral = collateral.Sub(swapFeeUsd)
	}
	if !collateral.IsPositive() {
		return fpmath.Zero(fpmath.USDDecimals)
	}

	unit := fpmath.FromInt64(1, 0)
	num := leverageBps.MulDiv(fpmath.BasisPointsDivisor, unit)
	den := fpmath.BasisPointsDivisor.MulDiv(fpmath.BasisPointsDivisor, unit).
		Add(leverageBps.MulDiv(marginFeeBps, unit))
	return collateral.MulDiv(num, den)
}

// SwapPath is the vault path from one token to another. The native token
// travels as its wrapped form; a same-token path is a single hop.
func SwapPath(from, to, native, wrapped common.Address) []common.Address {
	if from == native {
		from = wrapped
	}
	if to == native {
		to = wrapped
	}
	if from == to {
		return []common.Address{from}
	}
	return []common.Address{from, to}
}

// NextInput describes a pending change to a position, or a new position
// when Position is nil.
type NextInput struct {
	Position        *state.Position
	SizeDelta       fpmath.Amount
	CollateralDelta fpmath.Amount
	Increase        bool
	IncludeDelta    bool
	MarginFeeBps    fpmath.Amount
}

// NextLeverage is the leverage the position will have after the change.
func NextLeverage(in NextInput) fpmath.Amount {
	li := risk.LeverageInput{
		SizeDelta:          in.SizeDelta,
		IncreaseSize:       in.Increase,
		CollateralDelta:    in.CollateralDelta,
		IncreaseCollateral: in.Increase,
		IncludeDelta:       in.IncludeDelta,
		MarginFeeBps:       in.MarginFeeBps,
	}
	if p := in.Position; p != nil {
		li.Size = p.Size
		li.Collateral = p.Collateral
		li.EntryFundingRate = p.EntryFundingRate
		li.CumulativeFundingRate = p.CumulativeFundingRate
		li.HasProfit = p.HasProfit
		li.Delta = p.Delta
	}
	return risk.Leverage(li)
}

// NextCollateral is the position's collateral after the change: an
// increase adds the deposit and pays the margin and funding fees; a
// decrease withdraws the collateral delta and realises the slice's loss.
func NextCollateral(in NextInput) fpmath.Amount {
	collateral := fpmath.Zero(fpmath.USDDecimals)
	var p state.Position
	if in.Position != nil {
		p = *in.Position
		collateral = orZero(p.Collateral)
	}

	if in.Increase {
		next := collateral.Add(orZero(in.CollateralDelta))
		next = next.Sub(fpmath.MarginFee(in.SizeDelta, in.MarginFeeBps))
		return next.Sub(orZero(p.FundingFee))
	}

	next := collateral.Sub(orZero(in.CollateralDelta))
	if !p.HasProfit && p.Size.IsPositive() && in.SizeDelta.IsPositive() {
		next = next.Sub(in.SizeDelta.MulDiv(orZero(p.Delta), p.Size))
	}
	return next
}

// ReduceResult is the outcome of a decrease as the vault settles it.
type ReduceResult struct {
	Collateral fpmath.Amount // remaining collateral
	Fee        fpmath.Amount
	UsdOut     fpmath.Amount // before fees
	ReceiveUsd fpmath.Amount // paid to the account, floored at zero
}

// ReduceCollateral mirrors the vault's collateral reduction on a decrease:
// profit is paid out, loss is taken from collateral, the collateral delta
// is paid out, a full close pays out the remaining collateral, and the fee
// is taken from the payout when it covers it, from collateral otherwise.
func ReduceCollateral(pos state.Position, sizeDelta, collateralDelta, marginFeeBps fpmath.Amount) ReduceResult {
	zero := fpmath.Zero(fpmath.USDDecimals)
	collateral := orZero(pos.Collateral)
	fee := fpmath.MarginFee(sizeDelta, marginFeeBps).Add(orZero(pos.FundingFee))

	adjustedDelta := zero
	if pos.Size.IsPositive() && sizeDelta.IsPositive() {
		adjustedDelta = sizeDelta.MulDiv(orZero(pos.Delta), pos.Size)
	}

	usdOut := zero
	if adjustedDelta.IsPositive() {
		if pos.HasProfit {
			usdOut = adjustedDelta
		} else {
			collateral = collateral.Sub(adjustedDelta)
		}
	}

	if collateralDelta.IsPositive() {
		usdOut = usdOut.Add(collateralDelta)
		collateral = collateral.Sub(collateralDelta)
	}

	if sizeDelta.IsSet() && pos.Size.IsSet() && sizeDelta.Eq(pos.Size) {
		usdOut = usdOut.Add(collateral)
		collateral = zero
	}

	receive := zero
	if usdOut.Gt(fee) {
		receive = usdOut.Sub(fee)
	} else {
		collateral = collateral.Sub(fee)
	}

	return ReduceResult{
		Collateral: collateral,
		Fee:        fee,
		UsdOut:     usdOut,
		ReceiveUsd: risk.ReceiveUsd(receive),
	}
}

func orZero(a fpmath.Amount) fpmath.Amount {
	if a.IsSet() {
		return a
	}
	return fpmath.Zero(fpmath.USDDecimals)
}
