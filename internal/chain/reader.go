package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Tuple widths of the batched reader calls.
const (
	PositionPropsLength    = 9
	VaultTokenPropsLength  = 15
	FundingRatePropsLength = 2
)

// ContractReader is the read-only view of the protocol contracts. Every
// call is keyed by chain id and returns raw contract integers; decoding
// into typed records happens in the state package.
type ContractReader interface {
	MarginFeeBasisPoints(ctx context.Context, chainID int64) (*big.Int, error)
	MaxLiquidationLeverage(ctx context.Context, chainID int64) (*big.Int, error)
	LiquidationFeeUsd(ctx context.Context, chainID int64) (*big.Int, error)
	TotalTokenWeights(ctx context.Context, chainID int64) (*big.Int, error)
	UsdgSupply(ctx context.Context, chainID int64) (*big.Int, error)

	// FundingRates returns FundingRatePropsLength values per token:
	// fundingRate, cumulativeFundingRate.
	FundingRates(ctx context.Context, chainID int64, tokens []common.Address) ([]*big.Int, error)

	// Positions returns PositionPropsLength values per queried slot: size,
	// collateral, averagePrice, entryFundingRate, hasRealisedProfit,
	// realisedPnl, lastIncreasedTime, hasProfit, delta.
	Positions(ctx context.Context, chainID int64, account common.Address, q *PositionQuery) ([]*big.Int, error)

	// VaultTokenInfo returns VaultTokenPropsLength values per token.
	VaultTokenInfo(ctx context.Context, chainID int64, tokens []common.Address) ([]*big.Int, error)

	// TokenBalances returns one balance per token; the zero address reads
	// the native balance.
	TokenBalances(ctx context.Context, chainID int64, account common.Address, tokens []common.Address) ([]*big.Int, error)

	// StakedBalance is the account's staked governance token amount.
	StakedBalance(ctx context.Context, chainID int64, account common.Address) (*big.Int, error)

	PositionMinExecutionFee(ctx context.Context, chainID int64) (*big.Int, error)
	OrderMinExecutionFee(ctx context.Context, chainID int64) (*big.Int, error)
}
