package math

// Exponents of the protocol's fixed-point units.
const (
	USDDecimals         int32 = 30
	USDGDecimals        int32 = 18
	BasisPointsDecimals int32 = 4
	FundingRateDecimals int32 = 6
)

// BPS returns n basis points (10000 = 100%).
func BPS(n int64) Amount {
	return FromInt64(n, BasisPointsDecimals)
}

// USD returns n whole dollars at USD precision.
func USD(n int64) Amount {
	return Units(n, USDDecimals)
}

var (
	BasisPointsDivisor   = BPS(10_000)
	FundingRatePrecision = FromInt64(1_000_000, FundingRateDecimals)
	PricePrecision       = One(USDDecimals)

	MarginFeeBasisPoints  = BPS(10)
	DepositFeeBasisPoints = BPS(30)

	// vault swap fee schedule
	BaseSwapFeeBasisPoints   = BPS(25)
	StableSwapFeeBasisPoints = BPS(1)
	TaxBasisPoints           = BPS(60)
	StableTaxBasisPoints     = BPS(5)
	MintBurnFeeBasisPoints   = BPS(25)

	LiquidationFeeUSD = USD(5)
	// MaxLeverage is the contract liquidation threshold (100x).
	MaxLeverage = BPS(100 * 10_000)

	// DustUSD: a decrease leaving less than this is a full close.
	DustUSD = USD(1)
	// OrderSizeDustUSD: residual snapping tolerance for trigger orders (0.1 USD).
	OrderSizeDustUSD = One(USDDecimals - 1)

	DefaultMaxUsdgAmount = Units(200_000_000, USDGDecimals)

	// DefaultLeverage is 2x.
	DefaultLeverage int64 = 2
	// LowCollateralLeverage is the size/collateral ratio above which a
	// position is flagged as under-collateralised.
	LowCollateralLeverage int64 = 50

	DefaultSlippageBasisPoints = BPS(30)
)

// Min-profit window. Both are zero with the deployed contracts.
var (
	MinProfitTimeSeconds int64 = 0
	MinProfitBasisPoints       = BPS(0)
)
