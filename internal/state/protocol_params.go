package state

import (
	fpmath "PerpDesk/internal/math"
	"fmt"
)

// ProtocolParams are the protocol limits the calculators and validators
// read. Values read from the vault override the defaults per request.
type ProtocolParams struct {
	MarginFeeBps   fpmath.Amount // bps
	LiquidationFee fpmath.Amount // USD

	// MaxLiquidationLeverage is the vault's liquidation threshold.
	MaxLiquidationLeverage fpmath.Amount

	MinLeverage       fpmath.Amount // bps
	MaxLeverage       fpmath.Amount // bps, trading ceiling
	InsaneMaxLeverage fpmath.Amount // bps, ceiling once staked above InsaneStakeThreshold

	// InsaneStakeThreshold is in governance token units (18 decimals).
	InsaneStakeThreshold fpmath.Amount

	MinCollateralUSD fpmath.Amount
	MinOrderUSD      fpmath.Amount

	// CircuitBreakerRatio bounds one side's open interest relative to the
	// other's after the trade, in bps. Zero disables the check.
	CircuitBreakerRatio fpmath.Amount

	MinProfitTime int64 // seconds
	MinProfitBps  fpmath.Amount

	DepositFeeBps      fpmath.Amount
	SwapFeeBps         fpmath.Amount
	StableSwapFeeBps   fpmath.Amount
	TaxBps             fpmath.Amount
	StableTaxBps       fpmath.Amount
	MintBurnFeeBps     fpmath.Amount
	DefaultSlippageBps fpmath.Amount
}

// DefaultProtocolParams returns the deployed protocol's values.
func DefaultProtocolParams() ProtocolParams {
	return ProtocolParams{
		MarginFeeBps:           fpmath.MarginFeeBasisPoints,
		LiquidationFee:         fpmath.LiquidationFeeUSD,
		MaxLiquidationLeverage: fpmath.MaxLeverage,

		MinLeverage:          fpmath.BPS(11_000),  // 1.1x
		MaxLeverage:          fpmath.BPS(500_000), // 50x
		InsaneMaxLeverage:    fpmath.BPS(1_000_000),
		InsaneStakeThreshold: fpmath.Units(1_000, 18),

		MinCollateralUSD: fpmath.USD(10),
		MinOrderUSD:      fpmath.USD(10),

		CircuitBreakerRatio: fpmath.BPS(50_000), // 5x

		MinProfitTime: fpmath.MinProfitTimeSeconds,
		MinProfitBps:  fpmath.MinProfitBasisPoints,

		DepositFeeBps:      fpmath.DepositFeeBasisPoints,
		SwapFeeBps:         fpmath.BaseSwapFeeBasisPoints,
		StableSwapFeeBps:   fpmath.StableSwapFeeBasisPoints,
		TaxBps:             fpmath.TaxBasisPoints,
		StableTaxBps:       fpmath.StableTaxBasisPoints,
		MintBurnFeeBps:     fpmath.MintBurnFeeBasisPoints,
		DefaultSlippageBps: fpmath.DefaultSlippageBasisPoints,
	}
}

// ValidateProtocolParams checks that params are within valid ranges:
// fees below 100%, 1x < min leverage < max leverage <= insane max leverage
// <= liquidation leverage, non-negative thresholds.
func ValidateProtocolParams(p ProtocolParams) error {
	bps := []struct {
		name string
		v    fpmath.Amount
	}{
		{"margin_fee_bps", p.MarginFeeBps},
		{"deposit_fee_bps", p.DepositFeeBps},
		{"swap_fee_bps", p.SwapFeeBps},
		{"stable_swap_fee_bps", p.StableSwapFeeBps},
		{"tax_bps", p.TaxBps},
		{"stable_tax_bps", p.StableTaxBps},
		{"mint_burn_fee_bps", p.MintBurnFeeBps},
		{"min_profit_bps", p.MinProfitBps},
		{"default_slippage_bps", p.DefaultSlippageBps},
	}
	for _, f := range bps {
		if !f.v.IsSet() || f.v.Exp() != fpmath.BasisPointsDecimals {
			return fmt.Errorf("%s must be set in basis points", f.name)
		}
		if f.v.IsNegative() || f.v.Gte(fpmath.BasisPointsDivisor) {
			return fmt.Errorf("%s must be in [0, 10000), got %s", f.name, f.v.Raw())
		}
	}

	one := fpmath.BasisPointsDivisor
	if !p.MinLeverage.IsSet() || p.MinLeverage.Lte(one) {
		return fmt.Errorf("min_leverage must be > 1x, got %s", p.MinLeverage)
	}
	if !p.MaxLeverage.IsSet() || p.MaxLeverage.Lte(p.MinLeverage) {
		return fmt.Errorf("max_leverage (%s) must be > min_leverage (%s)", p.MaxLeverage, p.MinLeverage)
	}
	if !p.InsaneMaxLeverage.IsSet() || p.InsaneMaxLeverage.Lt(p.MaxLeverage) {
		return fmt.Errorf("insane_max_leverage (%s) must be >= max_leverage (%s)", p.InsaneMaxLeverage, p.MaxLeverage)
	}
	if !p.MaxLiquidationLeverage.IsSet() || p.MaxLiquidationLeverage.Lt(p.InsaneMaxLeverage) {
		return fmt.Errorf("max_liquidation_leverage (%s) must be >= insane_max_leverage (%s)",
			p.MaxLiquidationLeverage, p.InsaneMaxLeverage)
	}

	usd := []struct {
		name string
		v    fpmath.Amount
	}{
		{"liquidation_fee", p.LiquidationFee},
		{"min_collateral_usd", p.MinCollateralUSD},
		{"min_order_usd", p.MinOrderUSD},
	}
	for _, f := range usd {
		if !f.v.IsSet() || f.v.Exp() != fpmath.USDDecimals || f.v.IsNegative() {
			return fmt.Errorf("%s must be a non-negative USD amount", f.name)
		}
	}

	if !p.InsaneStakeThreshold.IsSet() || p.InsaneStakeThreshold.IsNegative() {
		return fmt.Errorf("insane_stake_threshold must be >= 0")
	}
	if !p.CircuitBreakerRatio.IsSet() || p.CircuitBreakerRatio.IsNegative() {
		return fmt.Errorf("circuit_breaker_ratio must be >= 0")
	}
	if p.MinProfitTime < 0 {
		return fmt.Errorf("min_profit_time must be >= 0, got %d", p.MinProfitTime)
	}
	return nil
}

// SwapFeeSchedule is the swap fee subset of p.
func (p ProtocolParams) SwapFeeSchedule() fpmath.SwapFeeSchedule {
	return fpmath.SwapFeeSchedule{
		SwapFeeBps:       p.SwapFeeBps,
		StableSwapFeeBps: p.StableSwapFeeBps,
		TaxBps:           p.TaxBps,
		StableTaxBps:     p.StableTaxBps,
	}
}
