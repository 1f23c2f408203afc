package state

import (
	"PerpDesk/internal/cache"
	"PerpDesk/internal/chain"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/observability"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// errMissing aborts an enrichment fan-out when a required read is missing.
var errMissing = errors.New("required upstream data missing")

// Enricher reads raw protocol state through the request cache and turns it
// into TokenInfo maps and enriched Positions. Read failures are logged,
// counted and reported as missing data (ok == false), never as errors.
type Enricher struct {
	reader   chain.ContractReader
	registry *chain.Registry
	prices   PriceSource
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewEnricher(
	reader chain.ContractReader,
	registry *chain.Registry,
	prices PriceSource,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Enricher {
	return &Enricher{
		reader:   reader,
		registry: registry,
		prices:   prices,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SetClock overrides the time source used for the min-profit window.
func (e *Enricher) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Enricher) Registry() *chain.Registry { return e.registry }

// fetch runs fn through the request cache under key. A failure is logged
// once per call site and reported as ok == false.
func fetch[T any](e *Enricher, rc *cache.Request, source, key string, fn func() (T, error)) (T, bool) {
	v, err := cache.GetOrCompute(rc, key, fn)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("request_id", rc.ID.String()).
			Str("source", source).
			Str("key", key).
			Msg("upstream read failed")
		if e.metrics != nil {
			e.metrics.UpstreamFetchErrors.WithLabelValues(source).Inc()
		}
		return v, false
	}
	return v, true
}

func (e *Enricher) uintAmount(rc *cache.Request, source string, chainID int64, exp int32, call func() (*big.Int, error)) (fpmath.Amount, bool) {
	raw, ok := fetch(e, rc, source, cache.Key(source, chainID), call)
	if !ok || raw == nil {
		return fpmath.Amount{}, false
	}
	return fpmath.New(raw, exp), true
}

// MarginFeeBps is the vault's margin fee, or the default when unreadable.
func (e *Enricher) MarginFeeBps(ctx context.Context, rc *cache.Request, chainID int64) fpmath.Amount {
	v, ok := e.uintAmount(rc, "marginFeeBasisPoints", chainID, fpmath.BasisPointsDecimals, func() (*big.Int, error) {
		return e.reader.MarginFeeBasisPoints(ctx, chainID)
	})
	if !ok {
		return fpmath.MarginFeeBasisPoints
	}
	return v
}

func (e *Enricher) MaxLiquidationLeverage(ctx context.Context, rc *cache.Request, chainID int64) fpmath.Amount {
	v, ok := e.uintAmount(rc, "maxLiquidationLeverage", chainID, fpmath.BasisPointsDecimals, func() (*big.Int, error) {
		return e.reader.MaxLiquidationLeverage(ctx, chainID)
	})
	if !ok || !v.IsPositive() {
		return fpmath.MaxLeverage
	}
	return v
}

func (e *Enricher) LiquidationFee(ctx context.Context, rc *cache.Request, chainID int64) fpmath.Amount {
	v, ok := e.uintAmount(rc, "fixedLiquidationFeeUsd", chainID, fpmath.USDDecimals, func() (*big.Int, error) {
		return e.reader.LiquidationFeeUsd(ctx, chainID)
	})
	if !ok {
		return fpmath.LiquidationFeeUSD
	}
	return v
}

// ProtocolParams overlays the vault's live fee and leverage settings on the
// defaults. Live values that fail ValidateProtocolParams are discarded and
// the defaults are returned.
func (e *Enricher) ProtocolParams(ctx context.Context, rc *cache.Request, chainID int64) ProtocolParams {
	p := DefaultProtocolParams()
	p.MarginFeeBps = e.MarginFeeBps(ctx, rc, chainID)
	p.LiquidationFee = e.LiquidationFee(ctx, rc, chainID)
	p.MaxLiquidationLeverage = e.MaxLiquidationLeverage(ctx, rc, chainID)
	if err := ValidateProtocolParams(p); err != nil {
		e.logger.Warn().
			Err(err).
			Str("request_id", rc.ID.String()).
			Int64("chain_id", chainID).
			Msg("vault protocol params out of range, using defaults")
		return DefaultProtocolParams()
	}
	return p
}

// VaultTotals reads the USDG supply and total token weights.
func (e *Enricher) VaultTotals(ctx context.Context, rc *cache.Request, chainID int64) (VaultTotals, bool) {
	supply, ok1 := e.uintAmount(rc, "usdgSupply", chainID, fpmath.USDGDecimals, func() (*big.Int, error) {
		return e.reader.UsdgSupply(ctx, chainID)
	})
	weights, ok2 := e.uintAmount(rc, "totalTokenWeights", chainID, 0, func() (*big.Int, error) {
		return e.reader.TotalTokenWeights(ctx, chainID)
	})
	return VaultTotals{UsdgSupply: supply, TotalTokenWeights: weights}, ok1 && ok2
}

// ExecutionFees returns the minimum execution fees, in native token units,
// of the position router and the order book.
func (e *Enricher) ExecutionFees(ctx context.Context, rc *cache.Request, chainID int64) (position, order fpmath.Amount, ok bool) {
	native, err := e.registry.NativeToken(chainID)
	if err != nil {
		return fpmath.Amount{}, fpmath.Amount{}, false
	}
	position, ok1 := e.uintAmount(rc, "positionMinExecutionFee", chainID, native.Decimals, func() (*big.Int, error) {
		return e.reader.PositionMinExecutionFee(ctx, chainID)
	})
	order, ok2 := e.uintAmount(rc, "orderMinExecutionFee", chainID, native.Decimals, func() (*big.Int, error) {
		return e.reader.OrderMinExecutionFee(ctx, chainID)
	})
	return position, order, ok1 && ok2
}

// StakedBalance is the account's staked governance token amount.
func (e *Enricher) StakedBalance(ctx context.Context, rc *cache.Request, chainID int64, account common.Address) (fpmath.Amount, bool) {
	raw, ok := fetch(e, rc, "stakedBalance", cache.Key("stakedBalance", chainID, account.Hex()), func() (*big.Int, error) {
		return e.reader.StakedBalance(ctx, chainID, account)
	})
	if !ok || raw == nil {
		return fpmath.Amount{}, false
	}
	return fpmath.New(raw, 18), true
}

// FundingRateMap returns funding rates keyed by vault token address.
func (e *Enricher) FundingRateMap(ctx context.Context, rc *cache.Request, chainID int64) (map[common.Address]fpmath.FundingRates, bool) {
	return fetch(e, rc, "fundingRates", cache.Key("fundingRates", chainID), func() (map[common.Address]fpmath.FundingRates, error) {
		tokens, err := e.vaultTokens(chainID)
		if err != nil {
			return nil, err
		}
		raw, err := e.reader.FundingRates(ctx, chainID, tokens)
		if err != nil {
			return nil, err
		}
		if len(raw) != len(tokens)*chain.FundingRatePropsLength {
			return nil, fmt.Errorf("funding rates: got %d values for %d tokens", len(raw), len(tokens))
		}
		out := make(map[common.Address]fpmath.FundingRates, len(tokens))
		for i, t := range tokens {
			out[t] = fpmath.FundingRates{
				FundingRate:           fpmath.New(raw[i*2], fpmath.FundingRateDecimals),
				CumulativeFundingRate: fpmath.New(raw[i*2+1], fpmath.FundingRateDecimals),
			}
		}
		return out, nil
	})
}

// vaultTokens lists the registry tokens with the native token replaced by
// its wrapped counterpart, in registry order.
func (e *Enricher) vaultTokens(chainID int64) ([]common.Address, error) {
	tokens, err := e.registry.Tokens(chainID)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, len(tokens))
	for i, t := range tokens {
		out[i] = vaultAddress(t, tokens)
	}
	return out, nil
}

// TokenInfo builds the chain's TokenInfoMap. With a non-zero account the
// map carries that account's balances.
func (e *Enricher) TokenInfo(ctx context.Context, rc *cache.Request, chainID int64, account common.Address) (TokenInfoMap, bool) {
	start := time.Now()
	defer e.observe("token_info", start)

	m, ok := fetch(e, rc, "tokenInfo", cache.Key("tokenInfo", chainID, account.Hex()), func() (TokenInfoMap, error) {
		return e.buildTokenInfo(ctx, rc, chainID, account)
	})
	return m, ok && m != nil
}

func (e *Enricher) buildTokenInfo(ctx context.Context, rc *cache.Request, chainID int64, account common.Address) (TokenInfoMap, error) {
	tokens, err := e.registry.Tokens(chainID)
	if err != nil {
		return nil, err
	}
	vaultTokens, err := e.vaultTokens(chainID)
	if err != nil {
		return nil, err
	}
	addresses := make([]common.Address, len(tokens))
	for i, t := range tokens {
		addresses[i] = t.Address
	}

	var (
		props    []*big.Int
		balances []*big.Int
		funding  map[common.Address]fpmath.FundingRates
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var ok bool
		props, ok = fetch(e, rc, "vaultTokenInfo", cache.Key("vaultTokenInfo", chainID), func() ([]*big.Int, error) {
			return e.reader.VaultTokenInfo(gctx, chainID, vaultTokens)
		})
		if !ok {
			return errMissing
		}
		return nil
	})
	g.Go(func() error {
		var ok bool
		funding, ok = e.FundingRateMap(gctx, rc, chainID)
		if !ok {
			return errMissing
		}
		return nil
	})
	if account != (common.Address{}) {
		g.Go(func() error {
			// balances are optional; a failed read leaves them unset
			balances, _ = fetch(e, rc, "tokenBalances", cache.Key("tokenBalances", chainID, account.Hex()), func() ([]*big.Int, error) {
				return e.reader.TokenBalances(gctx, chainID, account, addresses)
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return DecodeTokenInfo(TokenInfoInput{
		ChainID:    chainID,
		Tokens:     tokens,
		VaultProps: props,
		Balances:   balances,
		Funding:    funding,
		Prices:     e.prices,
		OnDegeneratePrice: func(t chain.Token) {
			e.logger.Debug().Int64("chain_id", chainID).Str("symbol", t.Symbol).Msg("filled degenerate vault price from feed")
			if e.metrics != nil {
				e.metrics.DegeneratePriceFill.WithLabelValues(t.Symbol).Inc()
			}
		},
	})
}

// Positions returns the account's open positions, fully enriched. It is
// all-or-nothing: if the funding map, the position tuples or the token map
// is missing, it returns (nil, false).
func (e *Enricher) Positions(ctx context.Context, rc *cache.Request, chainID int64, account common.Address) ([]Position, bool) {
	start := time.Now()
	defer e.observe("positions", start)

	q, err := e.registry.BuildPositionQuery(chainID)
	if err != nil {
		e.logger.Warn().Err(err).Int64("chain_id", chainID).Msg("position query")
		return nil, false
	}

	var (
		params  ProtocolParams
		funding map[common.Address]fpmath.FundingRates
		raw     []*big.Int
		tokens  TokenInfoMap
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		params = e.ProtocolParams(gctx, rc, chainID)
		return nil
	})
	g.Go(func() error {
		var ok bool
		if funding, ok = e.FundingRateMap(gctx, rc, chainID); !ok {
			return errMissing
		}
		return nil
	})
	g.Go(func() error {
		var ok bool
		raw, ok = fetch(e, rc, "positions", cache.Key("positions", chainID, account.Hex()), func() ([]*big.Int, error) {
			return e.reader.Positions(gctx, chainID, account, q)
		})
		if !ok {
			return errMissing
		}
		return nil
	})
	g.Go(func() error {
		var ok bool
		if tokens, ok = e.TokenInfo(gctx, rc, chainID, account); !ok {
			return errMissing
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, false
	}

	decoded, err := DecodePositions(account, q, raw)
	if err != nil {
		e.logger.Warn().Err(err).Int64("chain_id", chainID).Msg("decode positions")
		return nil, false
	}

	in := EnrichInput{
		Tokens:  tokens,
		Funding: funding,
		Params:  params,
		Now:     e.now().Unix(),
	}
	out := make([]Position, 0, len(decoded))
	for _, p := range decoded {
		out = append(out, Enrich(p, in))
	}

	if e.metrics != nil {
		e.metrics.EnrichedPositions.Observe(float64(len(out)))
	}
	return out, true
}

// Position returns the enriched position for one key, if open.
func (e *Enricher) Position(ctx context.Context, rc *cache.Request, chainID int64, account common.Address, key common.Hash) (Position, bool) {
	positions, ok := e.Positions(ctx, rc, chainID, account)
	if !ok {
		return Position{}, false
	}
	for _, p := range positions {
		if p.Key == key {
			return p, true
		}
	}
	return Position{}, false
}

func (e *Enricher) observe(kind string, start time.Time) {
	if e.metrics != nil {
		e.metrics.EnrichDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}
