package orders

import (
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/state"
	"time"
)

// IncreasePriceLimit is the worst acceptable execution price for an
// increase: above the reference for longs, below it for shorts.
func IncreasePriceLimit(refPrice fpmath.Amount, isLong bool, slippageBps fpmath.Amount) fpmath.Amount {
	return slipped(refPrice, isLong, slippageBps)
}

// DecreaseLimitInput describes a market decrease.
type DecreaseLimitInput struct {
	RefPrice      fpmath.Amount
	IsLong        bool
	SlippageBps   fpmath.Amount
	Position      *state.Position
	Now           time.Time
	MinProfitTime int64
	MinProfitBps  fpmath.Amount
}

// DecreasePriceLimit is the worst acceptable execution price for a
// decrease. While the position's min-profit window is open and it is in
// profit, the limit is held at the profit price so the decrease cannot
// execute where the profit would be forfeited.
func DecreasePriceLimit(in DecreaseLimitInput) fpmath.Amount {
	limit := slipped(in.RefPrice, !in.IsLong, in.SlippageBps)
	if !limit.IsSet() {
		return limit
	}

	p := in.Position
	if p == nil || !p.HasProfit || in.MinProfitTime <= 0 {
		return limit
	}
	if in.Now.Unix() >= p.LastIncreasedTime+in.MinProfitTime {
		return limit
	}

	profit := ProfitPrice(*p, in.MinProfitBps)
	if !profit.IsSet() {
		return limit
	}
	if in.IsLong {
		return fpmath.Max(limit, profit)
	}
	return fpmath.Min(limit, profit)
}

// ProfitPrice is the price at which the position clears minProfitBps of
// its average price.
func ProfitPrice(p state.Position, minProfitBps fpmath.Amount) fpmath.Amount {
	if !p.AveragePrice.IsSet() {
		return fpmath.Amount{}
	}
	bps := minProfitBps
	if !bps.IsSet() {
		bps = fpmath.BPS(0)
	}
	factor := fpmath.BasisPointsDivisor.Add(bps)
	if !p.IsLong {
		factor = fpmath.BasisPointsDivisor.Sub(bps)
	}
	return p.AveragePrice.MulDiv(factor, fpmath.BasisPointsDivisor)
}

// slipped moves price up by slippageBps when up is set, down otherwise.
func slipped(price fpmath.Amount, up bool, slippageBps fpmath.Amount) fpmath.Amount {
	if !price.IsSet() {
		return fpmath.Amount{}
	}
	if !slippageBps.IsSet() {
		slippageBps = fpmath.DefaultSlippageBasisPoints
	}
	factor := fpmath.BasisPointsDivisor.Add(slippageBps)
	if !up {
		factor = fpmath.BasisPointsDivisor.Sub(slippageBps)
	}
	return price.MulDiv(factor, fpmath.BasisPointsDivisor)
}
