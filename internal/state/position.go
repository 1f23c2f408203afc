package state

import (
	"PerpDesk/internal/chain"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/risk"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one open vault position with every derived value the
// contract would report for it at the current mark price.
type Position struct {
	Key             common.Hash
	Account         common.Address
	CollateralToken common.Address
	IndexToken      common.Address
	IsLong          bool

	Size              fpmath.Amount // USD
	Collateral        fpmath.Amount // USD
	AveragePrice      fpmath.Amount // USD
	EntryFundingRate  fpmath.Amount // funding precision
	HasRealisedProfit bool
	RealisedPnl       fpmath.Amount // USD, unsigned; sign is HasRealisedProfit
	LastIncreasedTime int64
	// as reported by the reader contract at its own price
	ContractHasProfit bool
	ContractDelta     fpmath.Amount

	MarkPrice             fpmath.Amount
	CumulativeFundingRate fpmath.Amount
	FundingFee            fpmath.Amount
	CollateralAfterFee    fpmath.Amount
	ClosingFee            fpmath.Amount
	PositionFee           fpmath.Amount
	TotalFees             fpmath.Amount

	PendingDelta fpmath.Amount
	Delta        fpmath.Amount
	HasProfit    bool

	DeltaPercentage          fpmath.Amount // bps
	HasProfitAfterFees       bool
	PendingDeltaAfterFees    fpmath.Amount
	DeltaPercentageAfterFees fpmath.Amount // bps

	NetValue          fpmath.Amount
	NetValueAfterFees fpmath.Amount
	HasLowCollateral  bool

	Leverage        fpmath.Amount // bps
	LeverageWithPnl fpmath.Amount // bps
	LiqPrice        fpmath.Amount
}

// DecodePositions turns the reader's flat position tuples into Positions.
// Slots with size zero are closed and are dropped here.
func DecodePositions(account common.Address, q *chain.PositionQuery, props []*big.Int) ([]Position, error) {
	if len(props) != q.Len()*chain.PositionPropsLength {
		return nil, fmt.Errorf("positions: got %d props for %d slots", len(props), q.Len())
	}

	usd := fpmath.USDDecimals
	var out []Position
	for i := 0; i < q.Len(); i++ {
		p := props[i*chain.PositionPropsLength : (i+1)*chain.PositionPropsLength]
		if p[0] == nil || p[0].Sign() == 0 {
			continue
		}

		collateral, index, isLong := q.CollateralTokens[i], q.IndexTokens[i], q.IsLong[i]
		out = append(out, Position{
			Key:               chain.PositionKey(account, collateral, index, isLong),
			Account:           account,
			CollateralToken:   collateral,
			IndexToken:        index,
			IsLong:            isLong,
			Size:              fpmath.New(p[0], usd),
			Collateral:        fpmath.New(p[1], usd),
			AveragePrice:      fpmath.New(p[2], usd),
			EntryFundingRate:  fpmath.New(p[3], fpmath.FundingRateDecimals),
			HasRealisedProfit: p[4].Sign() != 0,
			RealisedPnl:       fpmath.New(p[5], usd),
			LastIncreasedTime: p[6].Int64(),
			ContractHasProfit: p[7].Sign() != 0,
			ContractDelta:     fpmath.New(p[8], usd),
		})
	}
	return out, nil
}

// EnrichInput carries everything Enrich needs besides the position itself.
type EnrichInput struct {
	Tokens  TokenInfoMap
	Funding map[common.Address]fpmath.FundingRates
	Params  ProtocolParams
	Now     int64 // unix seconds
}

// Enrich fills every derived field of p. Fields are computed strictly in
// dependency order: funding, fees, delta, after-fees values, net value,
// leverage, liquidation price.
func Enrich(p Position, in EnrichInput) Position {
	if index, ok := in.Tokens.Get(p.IndexToken); ok {
		if p.IsLong {
			p.MarkPrice = index.MinPrice
		} else {
			p.MarkPrice = index.MaxPrice
		}
	}

	if rates, ok := in.Funding[p.CollateralToken]; ok {
		p.CumulativeFundingRate = rates.CumulativeFundingRate
	}

	p.FundingFee = fpmath.FundingFee(p.Size, p.CumulativeFundingRate, p.EntryFundingRate)
	p.CollateralAfterFee = p.Collateral.Sub(p.FundingFee)
	p.ClosingFee = fpmath.ClosingFee(p.Size, in.Params.MarginFeeBps)
	p.PositionFee = fpmath.PositionFee(p.Size, in.Params.MarginFeeBps)
	p.TotalFees = p.PositionFee.Add(p.FundingFee)

	zero := fpmath.Zero(fpmath.USDDecimals)
	p.PendingDelta, p.Delta = zero, zero
	if p.AveragePrice.IsPositive() && p.MarkPrice.IsPositive() {
		hasProfit, err := risk.HasProfit(p.IsLong, p.MarkPrice, p.AveragePrice)
		if err == nil {
			p.HasProfit = hasProfit
			d := risk.DeltaInput{
				AveragePrice:      p.AveragePrice,
				Size:              p.Size,
				SizeDelta:         p.Size,
				LastIncreasedTime: p.LastIncreasedTime,
				EntryPrice:        p.MarkPrice,
				HasProfit:         hasProfit,
				Now:               in.Now,
				MinProfitTime:     in.Params.MinProfitTime,
				MinProfitBps:      in.Params.MinProfitBps,
			}
			p.PendingDelta = risk.PendingDelta(d)
			p.Delta = risk.Delta(d)
		}
	}

	p.DeltaPercentage = risk.DeltaPercentage(p.PendingDelta, p.Collateral)
	p.HasProfitAfterFees, p.PendingDeltaAfterFees = risk.DeltaAfterFees(p.HasProfit, p.PendingDelta, p.TotalFees)
	p.DeltaPercentageAfterFees = risk.DeltaPercentage(p.PendingDeltaAfterFees, p.Collateral)

	p.NetValue = risk.NetValue(p.Collateral, p.PendingDelta, p.HasProfit)
	p.NetValueAfterFees = risk.NetValueAfterFees(p.NetValue, p.ClosingFee)

	p.HasLowCollateral = risk.HasLowCollateral(p.Size, p.CollateralAfterFee)

	lev := risk.LeverageInput{
		Size:                  p.Size,
		Collateral:            p.Collateral,
		EntryFundingRate:      p.EntryFundingRate,
		CumulativeFundingRate: p.CumulativeFundingRate,
		HasProfit:             p.HasProfit,
		Delta:                 p.Delta,
		MarginFeeBps:          in.Params.MarginFeeBps,
	}
	p.Leverage = risk.Leverage(lev)
	lev.IncludeDelta = true
	p.LeverageWithPnl = risk.Leverage(lev)

	p.LiqPrice = risk.LiquidationPrice(risk.LiquidationInput{
		IsLong:                p.IsLong,
		Size:                  p.Size,
		Collateral:            p.Collateral,
		AveragePrice:          p.AveragePrice,
		EntryFundingRate:      p.EntryFundingRate,
		CumulativeFundingRate: p.CumulativeFundingRate,
		MarginFeeBps:          in.Params.MarginFeeBps,
		LiquidationFee:        in.Params.LiquidationFee,
		MaxLeverage:           in.Params.MaxLiquidationLeverage,
	})
	return p
}
