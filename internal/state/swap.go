package state

import (
	fpmath "PerpDesk/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// VaultTotals are the vault-wide figures the dynamic fee needs.
type VaultTotals struct {
	UsdgSupply        fpmath.Amount // 18 decimals
	TotalTokenWeights fpmath.Amount // exp 0
}

// SwapFeeBps resolves the vault's dynamic fee for swapping amountIn of
// from into to. Unknown tokens fall back to the base swap fee.
func SwapFeeBps(tokens TokenInfoMap, from, to common.Address, amountIn fpmath.Amount, totals VaultTotals, params ProtocolParams) fpmath.Amount {
	sched := params.SwapFeeSchedule()
	fromInfo, okFrom := tokens.Get(from)
	toInfo, okTo := tokens.Get(to)
	if !okFrom || !okTo {
		return sched.SwapFeeBps
	}

	usdgDelta := fpmath.TokenUSDG(amountIn, fromInfo.MinPrice)
	if !usdgDelta.IsSet() {
		return sched.SwapFeeBps
	}
	side := func(ti TokenInfo) fpmath.SwapSide {
		return fpmath.SwapSide{
			UsdgAmount: ti.UsdgAmount,
			Target:     fpmath.TargetUsdgAmount(ti.Weight, totals.UsdgSupply, totals.TotalTokenWeights),
			IsStable:   ti.IsStable,
		}
	}
	return fpmath.SwapFeeBasisPoints(side(fromInfo), side(toInfo), usdgDelta, sched)
}

// SwapFeeUSD is the USD fee of swapping amountIn of from into to, or zero
// when no swap is needed.
func SwapFeeUSD(tokens TokenInfoMap, from, to common.Address, amountIn fpmath.Amount, totals VaultTotals, params ProtocolParams) fpmath.Amount {
	if from == to {
		return fpmath.Zero(fpmath.USDDecimals)
	}
	fromInfo, ok := tokens.Get(from)
	if !ok {
		return fpmath.Amount{}
	}
	fromUsdMin := fpmath.TokenUSD(amountIn, fromInfo.MinPrice, fromInfo.Decimals)
	return fpmath.SwapFee(fromUsdMin, SwapFeeBps(tokens, from, to, amountIn, totals, params))
}
