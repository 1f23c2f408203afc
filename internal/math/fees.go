package math

// MarginFee is the fee charged on a size change:
// sizeDelta - sizeDelta*(DIVISOR-bps)/DIVISOR.
func MarginFee(sizeDelta, feeBps Amount) Amount {
	if !sizeDelta.IsSet() || sizeDelta.IsZero() {
		return Zero(USDDecimals)
	}
	after := sizeDelta.MulDiv(BasisPointsDivisor.Sub(feeBps), BasisPointsDivisor)
	return sizeDelta.Sub(after)
}

// ClosingFee is the margin fee for closing the whole position.
func ClosingFee(size, feeBps Amount) Amount {
	return MarginFee(size, feeBps)
}

// PositionFee covers both the open and the close leg of a position.
func PositionFee(size, feeBps Amount) Amount {
	if !size.IsSet() || size.IsZero() {
		return Zero(USDDecimals)
	}
	return size.MulDiv(feeBps.MulInt(2), BasisPointsDivisor)
}

// DepositFee is charged on collateral added to an existing position.
func DepositFee(amount, feeBps Amount) Amount {
	if !amount.IsSet() || amount.IsZero() {
		return Zero(amount.Exp())
	}
	after := amount.MulDiv(BasisPointsDivisor.Sub(feeBps), BasisPointsDivisor)
	return amount.Sub(after)
}

// SwapFee applies the resolved swap fee to the USD value of the input.
func SwapFee(fromUsdMin, swapFeeBps Amount) Amount {
	if !fromUsdMin.IsSet() || fromUsdMin.IsZero() {
		return Zero(USDDecimals)
	}
	return fromUsdMin.MulDiv(swapFeeBps, BasisPointsDivisor)
}

// TargetUsdgAmount is the default target-weight function of the vault:
// weight * usdgSupply / totalWeights.
func TargetUsdgAmount(weight, usdgSupply, totalWeights Amount) Amount {
	if !usdgSupply.IsSet() || usdgSupply.IsZero() || totalWeights.IsZero() {
		return Zero(USDGDecimals)
	}
	return weight.MulDiv(usdgSupply, totalWeights)
}

// FeeInput describes one side of a mint/burn/swap against the vault.
type FeeInput struct {
	UsdgAmount Amount // token's current USDG debt
	UsdgDelta  Amount
	Target     Amount // target USDG debt for the token
	FeeBps     Amount
	TaxBps     Amount
	Increment  bool
}

// FeeBasisPoints returns the dynamic fee: a rebate when the change moves the
// token's USDG debt toward its target, a tax proportional to the average
// distance otherwise.
func FeeBasisPoints(in FeeInput) Amount {
	if !in.UsdgAmount.IsSet() || !in.Target.IsSet() {
		return BPS(0)
	}
	if in.Target.IsZero() {
		return in.FeeBps
	}

	initial := in.UsdgAmount
	next := initial.Add(in.UsdgDelta)
	if !in.Increment {
		if in.UsdgDelta.Gt(initial) {
			next = Zero(initial.Exp())
		} else {
			next = initial.Sub(in.UsdgDelta)
		}
	}

	initialDiff := initial.Sub(in.Target).Abs()
	nextDiff := next.Sub(in.Target).Abs()

	if nextDiff.Lt(initialDiff) {
		rebate := in.TaxBps.MulDiv(initialDiff, in.Target)
		if rebate.Gt(in.FeeBps) {
			return BPS(0)
		}
		return in.FeeBps.Sub(rebate)
	}

	avgDiff := initialDiff.Add(nextDiff).DivInt(2)
	if avgDiff.Gt(in.Target) {
		avgDiff = in.Target
	}
	return in.FeeBps.Add(in.TaxBps.MulDiv(avgDiff, in.Target))
}

// SwapSide is the vault state of one token in a swap.
type SwapSide struct {
	UsdgAmount Amount
	Target     Amount
	IsStable   bool
}

// SwapFeeSchedule is the vault's base and tax bps for volatile and
// stable-to-stable swaps.
type SwapFeeSchedule struct {
	SwapFeeBps       Amount
	StableSwapFeeBps Amount
	TaxBps           Amount
	StableTaxBps     Amount
}

func DefaultSwapFeeSchedule() SwapFeeSchedule {
	return SwapFeeSchedule{
		SwapFeeBps:       BaseSwapFeeBasisPoints,
		StableSwapFeeBps: StableSwapFeeBasisPoints,
		TaxBps:           TaxBasisPoints,
		StableTaxBps:     StableTaxBasisPoints,
	}
}

// SwapFeeBasisPoints resolves the swap fee for moving usdgDelta of value
// from one token into another; the higher of the two sides wins.
func SwapFeeBasisPoints(from, to SwapSide, usdgDelta Amount, sched SwapFeeSchedule) Amount {
	base, tax := sched.SwapFeeBps, sched.TaxBps
	if from.IsStable && to.IsStable {
		base, tax = sched.StableSwapFeeBps, sched.StableTaxBps
	}

	in := FeeBasisPoints(FeeInput{
		UsdgAmount: from.UsdgAmount,
		UsdgDelta:  usdgDelta,
		Target:     from.Target,
		FeeBps:     base,
		TaxBps:     tax,
		Increment:  true,
	})
	out := FeeBasisPoints(FeeInput{
		UsdgAmount: to.UsdgAmount,
		UsdgDelta:  usdgDelta,
		Target:     to.Target,
		FeeBps:     base,
		TaxBps:     tax,
		Increment:  false,
	})
	return Max(in, out)
}
