package math

// FundingFee is the funding accrued since the position's entry:
// size * (cumulative - entry) / FUNDING_RATE_PRECISION.
// Zero when either rate is unknown.
func FundingFee(size, cumulativeFundingRate, entryFundingRate Amount) Amount {
	if !size.IsSet() || !cumulativeFundingRate.IsSet() || !entryFundingRate.IsSet() {
		return Zero(USDDecimals)
	}
	return size.MulDiv(cumulativeFundingRate.Sub(entryFundingRate), FundingRatePrecision)
}

// FundingRates is one token's entry in the vault funding map.
type FundingRates struct {
	FundingRate           Amount
	CumulativeFundingRate Amount
}

// TokenUSD converts a token amount to USD at price (both raw contract units).
func TokenUSD(amount, price Amount, decimals int32) Amount {
	return amount.MulDiv(price, One(decimals))
}

// USDToken converts a USD amount to token units at price.
func USDToken(usd, price Amount, decimals int32) Amount {
	if !price.IsSet() || price.IsZero() {
		return Amount{}
	}
	return usd.MulDiv(One(decimals), price)
}

// TokenUSDG converts a token amount to USDG debt the way the vault does:
// price first, then decimals adjusted.
func TokenUSDG(amount, price Amount) Amount {
	return amount.MulDiv(price, PricePrecision).Rescale(USDGDecimals)
}
