package testutil

import (
	"PerpDesk/internal/chain"
	fpmath "PerpDesk/internal/math"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// Addresses of the test registry tokens (Arbitrum deployment).
var (
	ETH  = chain.NativeTokenAddress
	WETH = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	WBTC = common.HexToAddress("0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f")
	USDC = common.HexToAddress("0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8")

	Account = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

const ChainID int64 = 42161

// RegistryYAML is a one-chain registry with a native token, its wrapped
// counterpart, one more volatile token and one stable.
const RegistryYAML = `
chains:
  - chain_id: 42161
    name: Arbitrum
    contracts:
      vault: "0x489ee077994B6658eAfA855C308275EAd8097C4A"
      reader: "0x2b43c90D1B727cEe1Df34925bcd5Ace52Ec37694"
      vault_reader: "0xfebB9f4CAC4cD523598fE1C5771181440143F24A"
      router: "0xaBBc5F99639c9B6bCb58544ddf04EFA6802F4064"
      position_router: "0xb87a436B93fFE9D75c5cFA7bAcFff96430b09868"
      position_manager: "0x75E42e6f01baf1D6022bEa862A28774a9f8a4A0C"
      order_book: "0x09f77E8A13De9a35a7231028187e9fD5DB8a2ACB"
      usdg: "0x45096e7aA921f27590f8F19e457794EB09678141"
      staked_tracker: "0x908C4D94D34924765f1eDc22A1DD098397c59dD4"
    tokens:
      - {symbol: ETH, address: "0x0000000000000000000000000000000000000000", decimals: 18, is_native: true, is_shortable: true}
      - {symbol: WETH, address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", decimals: 18, is_wrapped: true, is_shortable: true}
      - {symbol: WBTC, address: "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", decimals: 8, is_shortable: true}
      - {symbol: USDC, address: "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8", decimals: 6, is_stable: true}
`

// Registry parses RegistryYAML.
func Registry(t testing.TB) *chain.Registry {
	t.Helper()
	reg, err := chain.ParseRegistry([]byte(RegistryYAML))
	if err != nil {
		t.Fatalf("parse test registry: %v", err)
	}
	return reg
}

// USD is a decimal dollar string as a raw 30-decimals integer.
func USD(s string) *big.Int { return fpmath.MustParse(s, fpmath.USDDecimals).Raw() }

// Units is a decimal string as a raw integer at the given decimals.
func Units(s string, decimals int32) *big.Int { return fpmath.MustParse(s, decimals).Raw() }

// VaultToken is one token's getVaultTokenInfoV4 tuple.
type VaultToken struct {
	PoolAmount         *big.Int
	ReservedAmount     *big.Int
	UsdgAmount         *big.Int
	RedemptionAmount   *big.Int
	Weight             *big.Int
	BufferAmount       *big.Int
	MaxUsdgAmount      *big.Int
	GlobalShortSize    *big.Int
	MaxGlobalShortSize *big.Int
	MaxGlobalLongSize  *big.Int
	MinPrice           *big.Int
	MaxPrice           *big.Int
	GuaranteedUsd      *big.Int
	MaxPrimaryPrice    *big.Int
	MinPrimaryPrice    *big.Int
}

func (v VaultToken) props() []*big.Int {
	out := []*big.Int{
		v.PoolAmount, v.ReservedAmount, v.UsdgAmount, v.RedemptionAmount, v.Weight,
		v.BufferAmount, v.MaxUsdgAmount, v.GlobalShortSize, v.MaxGlobalShortSize,
		v.MaxGlobalLongSize, v.MinPrice, v.MaxPrice, v.GuaranteedUsd,
		v.MaxPrimaryPrice, v.MinPrimaryPrice,
	}
	for i := range out {
		if out[i] == nil {
			out[i] = new(big.Int)
		}
	}
	return out
}

// RawPosition is one getPositions tuple.
type RawPosition struct {
	Size              *big.Int
	Collateral        *big.Int
	AveragePrice      *big.Int
	EntryFundingRate  *big.Int
	HasRealisedProfit bool
	RealisedPnl       *big.Int
	LastIncreasedTime int64
	HasProfit         bool
	Delta             *big.Int
}

func (p RawPosition) props() []*big.Int {
	flag := func(b bool) *big.Int {
		if b {
			return big.NewInt(1)
		}
		return new(big.Int)
	}
	out := []*big.Int{
		p.Size, p.Collateral, p.AveragePrice, p.EntryFundingRate, flag(p.HasRealisedProfit),
		p.RealisedPnl, big.NewInt(p.LastIncreasedTime), flag(p.HasProfit), p.Delta,
	}
	for i := range out {
		if out[i] == nil {
			out[i] = new(big.Int)
		}
	}
	return out
}

// Slot identifies a position slot in a PositionQuery.
type Slot struct {
	Collateral common.Address
	Index      common.Address
	IsLong     bool
}

var ErrFakeReader = errors.New("fake reader failure")

// FakeReader is an in-memory chain.ContractReader. Fail names methods that
// return ErrFakeReader; Calls counts invocations per method.
type FakeReader struct {
	mu sync.Mutex

	MarginFeeBps    *big.Int
	MaxLeverage     *big.Int
	LiquidationFee  *big.Int
	TotalWeights    *big.Int
	Supply          *big.Int
	Funding         map[common.Address][2]*big.Int
	Vault           map[common.Address]VaultToken
	Open            map[Slot]RawPosition
	Balances        map[common.Address]*big.Int
	Staked          *big.Int
	PositionExecFee *big.Int
	OrderExecFee    *big.Int

	Fail  map[string]bool
	Calls map[string]int
}

var _ chain.ContractReader = (*FakeReader)(nil)

// NewFakeReader returns a reader with the deployed protocol's defaults and
// empty pools.
func NewFakeReader() *FakeReader {
	return &FakeReader{
		MarginFeeBps:    big.NewInt(10),
		MaxLeverage:     big.NewInt(100 * 10_000),
		LiquidationFee:  USD("5"),
		TotalWeights:    big.NewInt(100_000),
		Supply:          Units("1000000", 18),
		Funding:         make(map[common.Address][2]*big.Int),
		Vault:           make(map[common.Address]VaultToken),
		Open:            make(map[Slot]RawPosition),
		Balances:        make(map[common.Address]*big.Int),
		Staked:          new(big.Int),
		PositionExecFee: Units("0.0001", 18),
		OrderExecFee:    Units("0.0003", 18),
		Fail:            make(map[string]bool),
		Calls:           make(map[string]int),
	}
}

func (f *FakeReader) call(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[method]++
	if f.Fail[method] {
		return ErrFakeReader
	}
	return nil
}

// CallCount returns how many times method was invoked.
func (f *FakeReader) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

func (f *FakeReader) single(method string, v *big.Int) (*big.Int, error) {
	if err := f.call(method); err != nil {
		return nil, err
	}
	return new(big.Int).Set(v), nil
}

func (f *FakeReader) MarginFeeBasisPoints(ctx context.Context, chainID int64) (*big.Int, error) {
	return f.single("MarginFeeBasisPoints", f.MarginFeeBps)
}

func (f *FakeReader) MaxLiquidationLeverage(ctx context.Context, chainID int64) (*big.Int, error) {
	return f.single("MaxLiquidationLeverage", f.MaxLeverage)
}

func (f *FakeReader) LiquidationFeeUsd(ctx context.Context, chainID int64) (*big.Int, error) {
	return f.single("LiquidationFeeUsd", f.LiquidationFee)
}

func (f *FakeReader) TotalTokenWeights(ctx context.Context, chainID int64) (*big.Int, error) {
	return f.single("TotalTokenWeights", f.TotalWeights)
}

func (f *FakeReader) UsdgSupply(ctx context.Context, chainID int64) (*big.Int, error) {
	return f.single("UsdgSupply", f.Supply)
}

func (f *FakeReader) StakedBalance(ctx context.Context, chainID int64, account common.Address) (*big.Int, error) {
	return f.single("StakedBalance", f.Staked)
}

func (f *FakeReader) PositionMinExecutionFee(ctx context.Context, chainID int64) (*big.Int, error) {
	return f.single("PositionMinExecutionFee", f.PositionExecFee)
}

func (f *FakeReader) OrderMinExecutionFee(ctx context.Context, chainID int64) (*big.Int, error) {
	return f.single("OrderMinExecutionFee", f.OrderExecFee)
}

func (f *FakeReader) FundingRates(ctx context.Context, chainID int64, tokens []common.Address) ([]*big.Int, error) {
	if err := f.call("FundingRates"); err != nil {
		return nil, err
	}
	out := make([]*big.Int, 0, len(tokens)*chain.FundingRatePropsLength)
	for _, t := range tokens {
		r, ok := f.Funding[t]
		if !ok {
			out = append(out, new(big.Int), new(big.Int))
			continue
		}
		out = append(out, r[0], r[1])
	}
	return out, nil
}

func (f *FakeReader) Positions(ctx context.Context, chainID int64, account common.Address, q *chain.PositionQuery) ([]*big.Int, error) {
	if err := f.call("Positions"); err != nil {
		return nil, err
	}
	out := make([]*big.Int, 0, q.Len()*chain.PositionPropsLength)
	for i := 0; i < q.Len(); i++ {
		p := f.Open[Slot{q.CollateralTokens[i], q.IndexTokens[i], q.IsLong[i]}]
		out = append(out, p.props()...)
	}
	return out, nil
}

func (f *FakeReader) VaultTokenInfo(ctx context.Context, chainID int64, tokens []common.Address) ([]*big.Int, error) {
	if err := f.call("VaultTokenInfo"); err != nil {
		return nil, err
	}
	out := make([]*big.Int, 0, len(tokens)*chain.VaultTokenPropsLength)
	for _, t := range tokens {
		out = append(out, f.Vault[t].props()...)
	}
	return out, nil
}

func (f *FakeReader) TokenBalances(ctx context.Context, chainID int64, account common.Address, tokens []common.Address) ([]*big.Int, error) {
	if err := f.call("TokenBalances"); err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(tokens))
	for i, t := range tokens {
		if b, ok := f.Balances[t]; ok {
			out[i] = b
		} else {
			out[i] = new(big.Int)
		}
	}
	return out, nil
}

// StandardVault seeds pools for WETH (2000 USD), WBTC (30000 USD) and USDC.
func (f *FakeReader) StandardVault() *FakeReader {
	f.Vault[WETH] = VaultToken{
		PoolAmount:         Units("10000", 18),
		ReservedAmount:     Units("2000", 18),
		UsdgAmount:         Units("10000000", 18),
		Weight:             big.NewInt(30_000),
		MaxGlobalLongSize:  USD("50000000"),
		MaxGlobalShortSize: USD("20000000"),
		GlobalShortSize:    USD("1000000"),
		GuaranteedUsd:      USD("3000000"),
		MinPrice:           USD("2000"),
		MaxPrice:           USD("2001"),
		MinPrimaryPrice:    USD("2000"),
		MaxPrimaryPrice:    USD("2001"),
	}
	f.Vault[WBTC] = VaultToken{
		PoolAmount:      Units("500", 8),
		ReservedAmount:  Units("100", 8),
		UsdgAmount:      Units("10000000", 18),
		Weight:          big.NewInt(30_000),
		GlobalShortSize: USD("500000"),
		GuaranteedUsd:   USD("2000000"),
		MinPrice:        USD("30000"),
		MaxPrice:        USD("30010"),
		MinPrimaryPrice: USD("30000"),
		MaxPrimaryPrice: USD("30010"),
	}
	f.Vault[USDC] = VaultToken{
		PoolAmount:      Units("40000000", 6),
		ReservedAmount:  Units("5000000", 6),
		UsdgAmount:      Units("40000000", 18),
		Weight:          big.NewInt(40_000),
		MinPrice:        USD("1"),
		MaxPrice:        USD("1"),
		MinPrimaryPrice: USD("1"),
		MaxPrimaryPrice: USD("1"),
	}
	return f
}
