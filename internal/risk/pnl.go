package risk

import (
	fpmath "PerpDesk/internal/math"
	"errors"
	"fmt"
)

var ErrInvalidAmount = errors.New("invalid fixed-point amount")

// HasProfit reports whether a position opened at averagePrice is in profit
// at entryPrice. Longs profit above the average price, shorts below it.
// Equal prices are not a profit.
func HasProfit(isLong bool, entryPrice, averagePrice fpmath.Amount) (bool, error) {
	if !entryPrice.IsSet() || !averagePrice.IsSet() {
		return false, fmt.Errorf("has profit: %w (entry=%s, average=%s)", ErrInvalidAmount, entryPrice, averagePrice)
	}
	if entryPrice.Exp() != averagePrice.Exp() {
		return false, fmt.Errorf("has profit: %w: exponents %d and %d", ErrInvalidAmount, entryPrice.Exp(), averagePrice.Exp())
	}
	if isLong {
		return entryPrice.Gt(averagePrice), nil
	}
	return entryPrice.Lt(averagePrice), nil
}

// DeltaInput holds the parameters of Delta.
type DeltaInput struct {
	AveragePrice      fpmath.Amount
	Size              fpmath.Amount
	SizeDelta         fpmath.Amount
	LastIncreasedTime int64 // unix seconds
	EntryPrice        fpmath.Amount
	HasProfit         bool
	Now               int64 // unix seconds

	MinProfitTime int64
	MinProfitBps  fpmath.Amount
}

// PendingDelta is the raw PnL of sizeDelta at EntryPrice, before the
// min-profit rule: sizeDelta * |avg - entry| / avg.
func PendingDelta(in DeltaInput) fpmath.Amount {
	if !in.AveragePrice.IsPositive() || !in.SizeDelta.IsPositive() || !in.EntryPrice.IsSet() {
		return fpmath.Zero(fpmath.USDDecimals)
	}
	priceDelta := in.AveragePrice.Sub(in.EntryPrice).Abs()
	return in.SizeDelta.MulDiv(priceDelta, in.AveragePrice)
}

// Delta is PendingDelta with min-profit forfeiture applied: a profit booked
// inside the min-profit window that does not clear the min-profit bps of
// the position size is forfeited.
func Delta(in DeltaInput) fpmath.Amount {
	delta := PendingDelta(in)
	if delta.IsZero() {
		return delta
	}

	minProfitBps := in.MinProfitBps
	if !minProfitBps.IsSet() {
		minProfitBps = fpmath.BPS(0)
	}

	if in.HasProfit && in.Now <= in.LastIncreasedTime+in.MinProfitTime {
		lhs := delta.MulDiv(fpmath.BasisPointsDivisor, fpmath.BPS(1))
		rhs := in.Size.MulDiv(minProfitBps, fpmath.BPS(1))
		if lhs.Lte(rhs) {
			return fpmath.Zero(fpmath.USDDecimals)
		}
	}
	return delta
}

// DeltaAfterFees folds totalFees into a delta and returns the resulting
// direction and magnitude.
func DeltaAfterFees(hasProfit bool, delta, totalFees fpmath.Amount) (bool, fpmath.Amount) {
	if hasProfit {
		if delta.Gt(totalFees) {
			return true, delta.Sub(totalFees)
		}
		return false, totalFees.Sub(delta)
	}
	return false, delta.Add(totalFees)
}

// DeltaPercentage expresses delta relative to collateral, in basis points.
func DeltaPercentage(delta, collateral fpmath.Amount) fpmath.Amount {
	if !collateral.IsPositive() {
		return fpmath.Amount{}
	}
	return delta.MulDiv(fpmath.BasisPointsDivisor, collateral)
}

// NetValue is collateral plus or minus delta. It is not floored.
func NetValue(collateral, delta fpmath.Amount, hasProfit bool) fpmath.Amount {
	if hasProfit {
		return collateral.Add(delta)
	}
	return collateral.Sub(delta)
}

// NetValueAfterFees subtracts the closing fee from NetValue. It is not
// floored either; callers decide how to present a negative value.
func NetValueAfterFees(netValue, closingFee fpmath.Amount) fpmath.Amount {
	return netValue.Sub(closingFee)
}

// ReceiveUsd is what a full close pays out, floored at zero.
func ReceiveUsd(netValueAfterFees fpmath.Amount) fpmath.Amount {
	if netValueAfterFees.IsNegative() {
		return fpmath.Zero(netValueAfterFees.Exp())
	}
	return netValueAfterFees
}

// HasLowCollateral flags positions whose collateral after fees is negative
// or covers the size by less than 1/LowCollateralLeverage.
func HasLowCollateral(size, collateralAfterFee fpmath.Amount) bool {
	if !size.IsSet() || !collateralAfterFee.IsSet() {
		return false
	}
	if collateralAfterFee.IsNegative() {
		return true
	}
	if collateralAfterFee.IsZero() {
		return size.IsPositive()
	}
	ratio := size.MulDiv(fpmath.FromInt64(1, 0), collateralAfterFee)
	return ratio.Gt(fpmath.FromInt64(fpmath.LowCollateralLeverage, 0))
}
