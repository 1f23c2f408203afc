package state

import (
	"PerpDesk/internal/chain"
	fpmath "PerpDesk/internal/math"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSource supplies off-chain prices (USD, 30 decimals) used when the
// vault reports a degenerate min or max price.
type PriceSource interface {
	LatestPrice(chainID int64, token common.Address) (fpmath.Amount, bool)
}

// TokenInfo is a token's static identity plus its live pool accounting.
// Token amounts are in the token's decimals, USD values at 30 decimals,
// USDG values at 18.
type TokenInfo struct {
	chain.Token

	PoolAmount       fpmath.Amount
	ReservedAmount   fpmath.Amount
	AvailableAmount  fpmath.Amount
	UsdgAmount       fpmath.Amount
	MaxUsdgAmount    fpmath.Amount
	RedemptionAmount fpmath.Amount
	Weight           fpmath.Amount // exp 0
	BufferAmount     fpmath.Amount
	GuaranteedUsd    fpmath.Amount

	GlobalShortSize    fpmath.Amount
	MaxGlobalShortSize fpmath.Amount
	MaxGlobalLongSize  fpmath.Amount

	MinPrice        fpmath.Amount
	MaxPrice        fpmath.Amount
	MaxPrimaryPrice fpmath.Amount
	MinPrimaryPrice fpmath.Amount

	AvailableUsd         fpmath.Amount
	MaxAvailableLong     fpmath.Amount
	HasMaxAvailableLong  bool
	MaxAvailableShort    fpmath.Amount
	HasMaxAvailableShort bool
	MaxLongCapacity      fpmath.Amount
	ManagedUsd           fpmath.Amount
	ManagedAmount        fpmath.Amount

	Balance       fpmath.Amount
	BalanceUsdMin fpmath.Amount
	BalanceUsdMax fpmath.Amount

	FundingRate           fpmath.Amount
	CumulativeFundingRate fpmath.Amount
}

// TokenInfoMap is keyed by token address. The native token is present
// under the zero address and shares the wrapped token's pool data.
type TokenInfoMap map[common.Address]TokenInfo

func (m TokenInfoMap) Get(address common.Address) (TokenInfo, bool) {
	ti, ok := m[address]
	return ti, ok
}

// MustGet panics on a missing token; for tests and already-validated input.
func (m TokenInfoMap) MustGet(address common.Address) TokenInfo {
	ti, ok := m[address]
	if !ok {
		panic(fmt.Sprintf("token %s not in map", address.Hex()))
	}
	return ti
}

// TokenInfoInput collects the raw reads DecodeTokenInfo merges.
type TokenInfoInput struct {
	ChainID int64
	// Tokens are the registry entries, in the order VaultProps was read.
	Tokens []chain.Token
	// VaultProps holds chain.VaultTokenPropsLength values per token.
	VaultProps []*big.Int
	// Balances holds one value per token, nil when no account was given.
	Balances []*big.Int
	Funding  map[common.Address]fpmath.FundingRates
	Prices   PriceSource
	// OnDegeneratePrice is called for each token whose price was filled
	// from Prices.
	OnDegeneratePrice func(chain.Token)
}

// DecodeTokenInfo builds a fresh TokenInfoMap from raw vault reads.
func DecodeTokenInfo(in TokenInfoInput) (TokenInfoMap, error) {
	if len(in.VaultProps) != len(in.Tokens)*chain.VaultTokenPropsLength {
		return nil, fmt.Errorf("vault token info: got %d props for %d tokens",
			len(in.VaultProps), len(in.Tokens))
	}
	if in.Balances != nil && len(in.Balances) != len(in.Tokens) {
		return nil, fmt.Errorf("token balances: got %d for %d tokens", len(in.Balances), len(in.Tokens))
	}

	out := make(TokenInfoMap, len(in.Tokens))
	for i, token := range in.Tokens {
		props := in.VaultProps[i*chain.VaultTokenPropsLength : (i+1)*chain.VaultTokenPropsLength]
		ti := decodeVaultProps(token, props)

		if ti.MinPrice.IsZero() || ti.MaxPrice.IsZero() {
			if fillPrice(&ti, in.ChainID, in.Prices) && in.OnDegeneratePrice != nil {
				in.OnDegeneratePrice(token)
			}
		}

		if rates, ok := in.Funding[vaultAddress(token, in.Tokens)]; ok {
			ti.FundingRate = rates.FundingRate
			ti.CumulativeFundingRate = rates.CumulativeFundingRate
		}

		if in.Balances != nil {
			ti.Balance = fpmath.New(in.Balances[i], token.Decimals)
		}

		deriveTokenInfo(&ti)
		out[token.Address] = ti
	}
	return out, nil
}

func decodeVaultProps(token chain.Token, p []*big.Int) TokenInfo {
	dec := token.Decimals
	usd := fpmath.USDDecimals
	return TokenInfo{
		Token:              token,
		PoolAmount:         fpmath.New(p[0], dec),
		ReservedAmount:     fpmath.New(p[1], dec),
		UsdgAmount:         fpmath.New(p[2], fpmath.USDGDecimals),
		RedemptionAmount:   fpmath.New(p[3], dec),
		Weight:             fpmath.New(p[4], 0),
		BufferAmount:       fpmath.New(p[5], dec),
		MaxUsdgAmount:      fpmath.New(p[6], fpmath.USDGDecimals),
		GlobalShortSize:    fpmath.New(p[7], usd),
		MaxGlobalShortSize: fpmath.New(p[8], usd),
		MaxGlobalLongSize:  fpmath.New(p[9], usd),
		MinPrice:           fpmath.New(p[10], usd),
		MaxPrice:           fpmath.New(p[11], usd),
		GuaranteedUsd:      fpmath.New(p[12], usd),
		MaxPrimaryPrice:    fpmath.New(p[13], usd),
		MinPrimaryPrice:    fpmath.New(p[14], usd),
	}
}

// fillPrice replaces a zero min or max price with the feed price.
func fillPrice(ti *TokenInfo, chainID int64, prices PriceSource) bool {
	if prices == nil {
		return false
	}
	p, ok := prices.LatestPrice(chainID, ti.Address)
	if !ok || !p.IsPositive() {
		return false
	}
	p = p.Rescale(fpmath.USDDecimals)
	if ti.MinPrice.IsZero() {
		ti.MinPrice = p
	}
	if ti.MaxPrice.IsZero() {
		ti.MaxPrice = p
	}
	return true
}

// vaultAddress is the address the vault tracks the token under: the
// wrapped token for the native currency.
func vaultAddress(token chain.Token, tokens []chain.Token) common.Address {
	if !token.IsNative {
		return token.Address
	}
	for _, t := range tokens {
		if t.IsWrapped {
			return t.Address
		}
	}
	return token.Address
}

func deriveTokenInfo(ti *TokenInfo) {
	dec := ti.Decimals
	unit := fpmath.One(dec)

	ti.AvailableAmount = ti.PoolAmount.Sub(ti.ReservedAmount)
	if ti.BufferAmount.Gt(ti.PoolAmount) {
		ti.AvailableAmount = fpmath.Zero(dec)
	}

	if ti.IsStable {
		ti.AvailableUsd = ti.PoolAmount.MulDiv(ti.MinPrice, unit)
	} else {
		ti.AvailableUsd = ti.AvailableAmount.MulDiv(ti.MinPrice, unit)
	}

	if ti.MaxGlobalLongSize.IsPositive() {
		ti.MaxAvailableLong = fpmath.Zero(fpmath.USDDecimals)
		if ti.MaxGlobalLongSize.Gt(ti.GuaranteedUsd) {
			ti.MaxAvailableLong = ti.MaxGlobalLongSize.Sub(ti.GuaranteedUsd)
		}
		ti.HasMaxAvailableLong = true
	}

	if ti.MaxGlobalShortSize.IsPositive() {
		ti.MaxAvailableShort = fpmath.Zero(fpmath.USDDecimals)
		if ti.MaxGlobalShortSize.Gt(ti.GlobalShortSize) {
			ti.MaxAvailableShort = ti.MaxGlobalShortSize.Sub(ti.GlobalShortSize)
		}
		ti.HasMaxAvailableShort = true
	}

	if ti.MaxUsdgAmount.IsZero() {
		ti.MaxUsdgAmount = fpmath.DefaultMaxUsdgAmount
	}

	ti.ManagedUsd = ti.AvailableUsd.Add(ti.GuaranteedUsd)
	ti.MaxLongCapacity = ti.ManagedUsd
	if ti.MaxGlobalLongSize.IsPositive() {
		ti.MaxLongCapacity = fpmath.Min(ti.MaxGlobalLongSize, ti.ManagedUsd)
	}
	if ti.MinPrice.IsPositive() {
		ti.ManagedAmount = ti.ManagedUsd.MulDiv(unit, ti.MinPrice)
	}

	if ti.Balance.IsSet() {
		ti.BalanceUsdMin = ti.Balance.MulDiv(ti.MinPrice, unit)
		ti.BalanceUsdMax = ti.Balance.MulDiv(ti.MaxPrice, unit)
	}
}
