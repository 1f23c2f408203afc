package risk

import (
	fpmath "PerpDesk/internal/math"
)

// LeverageInput describes a position and an optional pending change.
// Unset deltas mean "no change".
type LeverageInput struct {
	Size                  fpmath.Amount
	SizeDelta             fpmath.Amount
	IncreaseSize          bool
	Collateral            fpmath.Amount
	CollateralDelta       fpmath.Amount
	IncreaseCollateral    bool
	EntryFundingRate      fpmath.Amount
	CumulativeFundingRate fpmath.Amount
	HasProfit             bool
	Delta                 fpmath.Amount
	IncludeDelta          bool
	MarginFeeBps          fpmath.Amount
}

// Leverage returns size / effective collateral in basis points.
//
// Effective collateral is the collateral after the pending collateral
// change, the included delta, the margin fee on a pending size change and
// the accrued funding fee. The result is undefined when inputs are missing
// or a decrease exceeds the position, and a zero sentinel when the
// effective collateral is not positive.
func Leverage(in LeverageInput) fpmath.Amount {
	if !in.Size.IsSet() && !in.SizeDelta.IsSet() {
		return fpmath.Amount{}
	}
	if !in.Collateral.IsSet() && !in.CollateralDelta.IsSet() {
		return fpmath.Amount{}
	}

	size := orZero(in.Size)
	nextSize := size
	if in.SizeDelta.IsPositive() {
		if in.IncreaseSize {
			nextSize = size.Add(in.SizeDelta)
		} else {
			if in.SizeDelta.Gte(size) {
				return fpmath.Amount{}
			}
			nextSize = size.Sub(in.SizeDelta)
		}
	}

	remaining := orZero(in.Collateral)
	if in.CollateralDelta.IsPositive() {
		if in.IncreaseCollateral {
			remaining = remaining.Add(in.CollateralDelta)
		} else {
			remaining = remaining.Sub(in.CollateralDelta)
		}
	}

	if in.IncludeDelta && in.Delta.IsSet() {
		if in.HasProfit {
			remaining = remaining.Add(in.Delta)
		} else {
			remaining = remaining.Sub(in.Delta)
		}
	}

	if !remaining.IsPositive() {
		return fpmath.Zero(fpmath.BasisPointsDecimals)
	}

	if in.SizeDelta.IsPositive() {
		feeBps := in.MarginFeeBps
		if !feeBps.IsSet() {
			feeBps = fpmath.MarginFeeBasisPoints
		}
		remaining = remaining.MulDiv(fpmath.BasisPointsDivisor.Sub(feeBps), fpmath.BasisPointsDivisor)
	}

	if in.EntryFundingRate.IsSet() && in.CumulativeFundingRate.IsSet() {
		remaining = remaining.Sub(fpmath.FundingFee(size, in.CumulativeFundingRate, in.EntryFundingRate))
	}

	if !remaining.IsPositive() {
		return fpmath.Zero(fpmath.BasisPointsDecimals)
	}
	return nextSize.MulDiv(fpmath.BasisPointsDivisor, remaining)
}

// LiquidationInput describes a position for LiquidationPrice.
type LiquidationInput struct {
	IsLong                bool
	Size                  fpmath.Amount
	Collateral            fpmath.Amount
	AveragePrice          fpmath.Amount
	EntryFundingRate      fpmath.Amount
	CumulativeFundingRate fpmath.Amount
	SizeDelta             fpmath.Amount
	IncreaseSize          bool
	CollateralDelta       fpmath.Amount
	IncreaseCollateral    bool
	HasProfit             bool
	Delta                 fpmath.Amount
	IncludeDelta          bool

	MarginFeeBps   fpmath.Amount
	LiquidationFee fpmath.Amount // fixed USD fee paid to the liquidator
	MaxLeverage    fpmath.Amount // liquidation leverage, basis points
}

// LiquidationPrice is the price at which the position's remaining
// collateral no longer covers its fees (position fee, liquidation fee,
// funding) or its max-leverage requirement, whichever triggers first.
// Undefined for missing inputs or a decrease that exceeds the position;
// a zero sentinel when the remaining collateral is not positive.
func LiquidationPrice(in LiquidationInput) fpmath.Amount {
	if !in.Size.IsPositive() || !in.Collateral.IsSet() || !in.AveragePrice.IsPositive() {
		return fpmath.Amount{}
	}

	nextSize := in.Size
	remaining := in.Collateral

	if in.SizeDelta.IsPositive() {
		if in.IncreaseSize {
			nextSize = in.Size.Add(in.SizeDelta)
		} else {
			if in.SizeDelta.Gte(in.Size) {
				return fpmath.Amount{}
			}
			nextSize = in.Size.Sub(in.SizeDelta)
		}
		if in.IncludeDelta && !in.HasProfit && in.Delta.IsSet() {
			remaining = remaining.Sub(in.SizeDelta.MulDiv(in.Delta, in.Size))
		}
	}

	if in.CollateralDelta.IsPositive() {
		if in.IncreaseCollateral {
			remaining = remaining.Add(in.CollateralDelta)
		} else {
			remaining = remaining.Sub(in.CollateralDelta)
		}
	}

	if !remaining.IsPositive() {
		return fpmath.Zero(in.AveragePrice.Exp())
	}

	feeBps := in.MarginFeeBps
	if !feeBps.IsSet() {
		feeBps = fpmath.MarginFeeBasisPoints
	}
	liqFee := in.LiquidationFee
	if !liqFee.IsSet() {
		liqFee = fpmath.LiquidationFeeUSD
	}
	maxLeverage := in.MaxLeverage
	if !maxLeverage.IsPositive() {
		maxLeverage = fpmath.MaxLeverage
	}

	fees := fpmath.MarginFee(in.Size, feeBps).Add(liqFee)
	if in.EntryFundingRate.IsSet() && in.CumulativeFundingRate.IsSet() {
		fees = fees.Add(fpmath.FundingFee(in.Size, in.CumulativeFundingRate, in.EntryFundingRate))
	}

	forFees := liquidationPriceFromDelta(fees, nextSize, remaining, in.AveragePrice, in.IsLong)
	forMaxLeverage := liquidationPriceFromDelta(
		nextSize.MulDiv(fpmath.BasisPointsDivisor, maxLeverage),
		nextSize, remaining, in.AveragePrice, in.IsLong,
	)

	switch {
	case !forFees.IsSet():
		return forMaxLeverage
	case !forMaxLeverage.IsSet():
		return forFees
	}

	// the price reached first wins: higher for longs, lower for shorts
	if in.IsLong {
		return fpmath.Max(forFees, forMaxLeverage)
	}
	return fpmath.Min(forFees, forMaxLeverage)
}

// liquidationPriceFromDelta shifts averagePrice by the price move that
// turns collateral into liquidationAmount.
func liquidationPriceFromDelta(liquidationAmount, size, collateral, averagePrice fpmath.Amount, isLong bool) fpmath.Amount {
	if !size.IsPositive() {
		return fpmath.Amount{}
	}

	if liquidationAmount.Gt(collateral) {
		priceDelta := liquidationAmount.Sub(collateral).MulDiv(averagePrice, size)
		if isLong {
			return averagePrice.Add(priceDelta)
		}
		return averagePrice.Sub(priceDelta)
	}

	priceDelta := collateral.Sub(liquidationAmount).MulDiv(averagePrice, size)
	if isLong {
		return averagePrice.Sub(priceDelta)
	}
	return averagePrice.Add(priceDelta)
}

func orZero(a fpmath.Amount) fpmath.Amount {
	if a.IsSet() {
		return a
	}
	return fpmath.Zero(fpmath.USDDecimals)
}
