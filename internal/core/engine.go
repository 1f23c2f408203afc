package core

import (
	"PerpDesk/internal/cache"
	"PerpDesk/internal/chain"
	"PerpDesk/internal/event"
	"PerpDesk/internal/ingestion"
	"PerpDesk/internal/observability"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/persistence"
	"PerpDesk/internal/state"
	"PerpDesk/internal/subgraph"
	"PerpDesk/internal/validation"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrMarketData is returned when required market data could not be
	// read for a request.
	ErrMarketData = errors.New("market data unavailable")
	// ErrPositionNotFound is returned when a position key is not open.
	ErrPositionNotFound = errors.New("position not found")
	// ErrOrderNotFound is returned when an order index is not open.
	ErrOrderNotFound = errors.New("order not found")
)

// Engine answers account queries and prepares contract calls. Every call
// gets its own request cache, so concurrent callers never share upstream
// reads. Prepared calls and synced trading events are handed to the
// history and outbound channels without blocking.
type Engine struct {
	enricher   *state.Enricher
	registry   *chain.Registry
	orders     subgraph.Source
	pipeline   *validation.Pipeline
	normalizer *event.Normalizer
	seen       *SeenSet

	historyChan  chan<- persistence.Record
	outboundChan chan<- ingestion.Outbound

	referral common.Hash
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Config holds the engine's collaborators. HistoryChan, OutboundChan,
// History and Metrics may be nil.
type Config struct {
	Enricher     *state.Enricher
	Orders       subgraph.Source
	Pipeline     *validation.Pipeline
	History      HistoryIndex
	HistoryChan  chan<- persistence.Record
	OutboundChan chan<- ingestion.Outbound
	SeenCapacity int
	Referral     common.Hash
	Logger       zerolog.Logger
	Metrics      *observability.Metrics
}

func NewEngine(cfg Config) *Engine {
	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = validation.NewPipeline(cfg.Logger, cfg.Metrics)
	}
	registry := cfg.Enricher.Registry()
	return &Engine{
		enricher:     cfg.Enricher,
		registry:     registry,
		orders:       cfg.Orders,
		pipeline:     pipeline,
		normalizer:   event.NewNormalizer(registry, cfg.Logger),
		seen:         NewSeenSet(cfg.SeenCapacity, cfg.History),
		historyChan:  cfg.HistoryChan,
		outboundChan: cfg.OutboundChan,
		referral:     cfg.Referral,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
}

// SetClock overrides the time stamped on prepared calls.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) Registry() *chain.Registry { return e.registry }

// Seen exposes the trade dedup counters.
func (e *Engine) Seen() SeenStats { return e.seen.Stats() }

func (e *Engine) request() *cache.Request { return cache.New() }

func (e *Engine) done(rc *cache.Request) {
	if e.metrics != nil {
		e.metrics.ObserveCache(rc.Hits(), rc.Misses(), rc.Len())
	}
}

// TokenInfo returns the enriched token map for account on chainID.
func (e *Engine) TokenInfo(ctx context.Context, chainID int64, account common.Address) (state.TokenInfoMap, error) {
	if _, err := e.registry.Chain(chainID); err != nil {
		return nil, err
	}
	rc := e.request()
	defer e.done(rc)

	tokens, ok := e.enricher.TokenInfo(ctx, rc, chainID, account)
	if !ok {
		return nil, fmt.Errorf("token info: %w", ErrMarketData)
	}
	return tokens, nil
}

// Positions returns the account's open, enriched positions.
func (e *Engine) Positions(ctx context.Context, chainID int64, account common.Address) ([]state.Position, error) {
	if _, err := e.registry.Chain(chainID); err != nil {
		return nil, err
	}
	rc := e.request()
	defer e.done(rc)

	positions, ok := e.enricher.Positions(ctx, rc, chainID, account)
	if !ok {
		return nil, fmt.Errorf("positions: %w", ErrMarketData)
	}
	return positions, nil
}

// OpenOrders is every pending order for one account.
type OpenOrders struct {
	Increase []subgraph.IncreaseOrder `json:"increase"`
	Decrease []subgraph.DecreaseOrder `json:"decrease"`
	Swap     []subgraph.SwapOrder     `json:"swap"`
}

// Orders reads the three order books concurrently. Any failure fails the
// whole read.
func (e *Engine) Orders(ctx context.Context, chainID int64, account common.Address) (OpenOrders, error) {
	if _, err := e.registry.Chain(chainID); err != nil {
		return OpenOrders{}, err
	}
	var out OpenOrders
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Increase, err = e.orders.IncreaseOrders(gctx, chainID, account)
		return err
	})
	g.Go(func() (err error) {
		out.Decrease, err = e.orders.DecreaseOrders(gctx, chainID, account)
		return err
	})
	g.Go(func() (err error) {
		out.Swap, err = e.orders.SwapOrders(gctx, chainID, account)
		return err
	})
	if err := g.Wait(); err != nil {
		return OpenOrders{}, fmt.Errorf("open orders: %w", err)
	}
	return out, nil
}

// Validate fills the market data of p and runs the validation pipeline.
// Missing data never fails validation: each validator decides what it can.
func (e *Engine) Validate(ctx context.Context, p *validation.Params) ([]string, error) {
	if _, err := e.registry.Chain(p.ChainID); err != nil {
		return nil, err
	}
	rc := e.request()
	defer e.done(rc)
	p.Cache = rc

	if native, err := e.registry.NativeToken(p.ChainID); err == nil {
		p.NativeToken = native.Address
	}
	if wrapped, err := e.registry.WrappedToken(p.ChainID); err == nil {
		p.WrappedToken = wrapped.Address
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.Tokens, _ = e.enricher.TokenInfo(gctx, rc, p.ChainID, p.Account)
		return nil
	})
	g.Go(func() error {
		p.Protocol = e.enricher.ProtocolParams(gctx, rc, p.ChainID)
		return nil
	})
	g.Go(func() error {
		p.Totals, _ = e.enricher.VaultTotals(gctx, rc, p.ChainID)
		return nil
	})
	g.Go(func() error {
		p.StakedGovernance, _ = e.enricher.StakedBalance(gctx, rc, p.ChainID, p.Account)
		return nil
	})
	if p.Action == orders.ActionDecrease {
		g.Go(func() error {
			if p.Position == nil {
				key := chain.PositionKey(p.Account, p.CollateralToken, p.IndexToken, p.IsLong)
				if pos, ok := e.enricher.Position(gctx, rc, p.ChainID, p.Account, key); ok {
					p.Position = &pos
				}
			}
			return nil
		})
		if p.ExistingOrders == nil && e.orders != nil {
			g.Go(func() error {
				existing, err := e.orders.DecreaseOrders(gctx, p.ChainID, p.Account)
				if err != nil {
					e.logger.Warn().Err(err).Int64("chain_id", p.ChainID).Msg("decrease orders unavailable for validation")
					return nil
				}
				p.ExistingOrders = existing
				return nil
			})
		}
	}
	_ = g.Wait()

	return e.pipeline.CheckIsEligibleToCreateOrder(ctx, p), nil
}

// Env assembles the market state builders price against.
func (e *Engine) Env(ctx context.Context, rc *cache.Request, chainID int64, account common.Address) (orders.Env, error) {
	ch, err := e.registry.Chain(chainID)
	if err != nil {
		return orders.Env{}, err
	}
	native, err := e.registry.NativeToken(chainID)
	if err != nil {
		return orders.Env{}, err
	}
	wrapped, err := e.registry.WrappedToken(chainID)
	if err != nil {
		return orders.Env{}, err
	}

	env := orders.Env{
		ChainID:      chainID,
		Contracts:    ch.Contracts,
		NativeToken:  native.Address,
		WrappedToken: wrapped.Address,
		Now:          e.now(),
		Referral:     e.referral,
	}

	var tokensOK, feesOK bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		env.Tokens, tokensOK = e.enricher.TokenInfo(gctx, rc, chainID, account)
		return nil
	})
	g.Go(func() error {
		env.Params = e.enricher.ProtocolParams(gctx, rc, chainID)
		return nil
	})
	g.Go(func() error {
		env.Totals, _ = e.enricher.VaultTotals(gctx, rc, chainID)
		return nil
	})
	g.Go(func() error {
		env.PositionExecutionFee, env.OrderExecutionFee, feesOK = e.enricher.ExecutionFees(gctx, rc, chainID)
		return nil
	})
	_ = g.Wait()

	if !tokensOK || !feesOK {
		return orders.Env{}, fmt.Errorf("build env: %w", ErrMarketData)
	}
	return env, nil
}

// position resolves an open position by key.
func (e *Engine) position(ctx context.Context, rc *cache.Request, chainID int64, account common.Address, key common.Hash) (state.Position, error) {
	pos, ok := e.enricher.Position(ctx, rc, chainID, account, key)
	if !ok {
		if _, listed := e.enricher.Positions(ctx, rc, chainID, account); !listed {
			return state.Position{}, fmt.Errorf("position %s: %w", key.Hex(), ErrMarketData)
		}
		return state.Position{}, fmt.Errorf("position %s: %w", key.Hex(), ErrPositionNotFound)
	}
	return pos, nil
}

// existingDecreaseOrders degrades to none when the subgraph is unavailable.
func (e *Engine) existingDecreaseOrders(ctx context.Context, chainID int64, account common.Address) []subgraph.DecreaseOrder {
	if e.orders == nil {
		return nil
	}
	out, err := e.orders.DecreaseOrders(ctx, chainID, account)
	if err != nil {
		e.logger.Warn().Err(err).Int64("chain_id", chainID).Str("account", account.Hex()).Msg("decrease orders unavailable")
		return nil
	}
	return out
}

// build runs fn against a fresh env and emits the prepared call.
func (e *Engine) build(
	ctx context.Context,
	chainID int64,
	account common.Address,
	method string,
	fn func(rc *cache.Request, env orders.Env) (orders.Built, error),
) (orders.Prepared, error) {
	rc := e.request()
	defer e.done(rc)

	built, err := func() (orders.Built, error) {
		env, err := e.Env(ctx, rc, chainID, account)
		if err != nil {
			return orders.Built{}, err
		}
		return fn(rc, env)
	}()
	if err != nil {
		if e.metrics != nil {
			e.metrics.OrderBuildErrors.WithLabelValues(method, buildErrorReason(err)).Inc()
		}
		return orders.Prepared{}, err
	}

	prepared := orders.NewPrepared(chainID, account, built, e.now())
	if e.metrics != nil {
		e.metrics.OrdersBuilt.WithLabelValues(built.Method).Inc()
	}
	e.logger.Debug().
		Str("id", prepared.ID.String()).
		Int64("chain_id", chainID).
		Str("account", account.Hex()).
		Str("method", built.Method).
		Int("followups", len(built.Followups)).
		Msg("order prepared")

	e.emitHistory(persistence.Record{Prepared: &prepared})
	e.emitOutbound(ingestion.Outbound{Prepared: &prepared})
	return prepared, nil
}

func buildErrorReason(err error) string {
	switch {
	case errors.Is(err, orders.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, orders.ErrInvalidTriggerPrice):
		return "invalid_trigger_price"
	case errors.Is(err, ErrMarketData), errors.Is(err, orders.ErrMissingMarketData):
		return "market_data"
	case errors.Is(err, ErrPositionNotFound), errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, chain.ErrUnknownChain), errors.Is(err, chain.ErrUnknownToken):
		return "unknown_market"
	default:
		return "other"
	}
}

func (e *Engine) IncreasePosition(ctx context.Context, chainID int64, req orders.IncreasePositionRequest) (orders.Prepared, error) {
	return e.build(ctx, chainID, req.Account, orders.MethodCreateIncreasePosition, func(_ *cache.Request, env orders.Env) (orders.Built, error) {
		return orders.BuildIncreasePosition(env, req)
	})
}

// DepositCollateral adds collateral to the open position key.
func (e *Engine) DepositCollateral(ctx context.Context, chainID int64, account common.Address, key common.Hash, req orders.DepositCollateralRequest) (orders.Prepared, error) {
	return e.build(ctx, chainID, account, orders.MethodCreateIncreasePosition, func(rc *cache.Request, env orders.Env) (orders.Built, error) {
		pos, err := e.position(ctx, rc, chainID, account, key)
		if err != nil {
			return orders.Built{}, err
		}
		req.Position = pos
		return orders.BuildDepositCollateral(env, req)
	})
}

// DecreasePosition closes part or all of the open position key. Open
// trigger orders on the position are taken into account when sizing.
func (e *Engine) DecreasePosition(ctx context.Context, chainID int64, account common.Address, key common.Hash, req orders.DecreasePositionRequest) (orders.Prepared, error) {
	return e.build(ctx, chainID, account, orders.MethodCreateDecreasePosition, func(rc *cache.Request, env orders.Env) (orders.Built, error) {
		pos, err := e.position(ctx, rc, chainID, account, key)
		if err != nil {
			return orders.Built{}, err
		}
		req.Position = pos
		if req.ExistingOrders == nil {
			req.ExistingOrders = e.existingDecreaseOrders(ctx, chainID, account)
		}
		if req.Receiver == (common.Address{}) {
			req.Receiver = account
		}
		return orders.BuildDecreasePosition(env, req)
	})
}

func (e *Engine) WithdrawCollateral(ctx context.Context, chainID int64, account common.Address, key common.Hash, req orders.WithdrawCollateralRequest) (orders.Prepared, error) {
	return e.build(ctx, chainID, account, orders.MethodCreateDecreasePosition, func(rc *cache.Request, env orders.Env) (orders.Built, error) {
		pos, err := e.position(ctx, rc, chainID, account, key)
		if err != nil {
			return orders.Built{}, err
		}
		req.Position = pos
		if req.Receiver == (common.Address{}) {
			req.Receiver = account
		}
		return orders.BuildWithdrawCollateral(env, req)
	})
}

func (e *Engine) IncreaseOrder(ctx context.Context, chainID int64, account common.Address, req orders.IncreaseOrderRequest) (orders.Prepared, error) {
	return e.build(ctx, chainID, account, orders.MethodCreateIncreaseOrder, func(_ *cache.Request, env orders.Env) (orders.Built, error) {
		return orders.BuildIncreaseOrder(env, req)
	})
}

// UpdateIncreaseOrder reprices the open increase order at index.
func (e *Engine) UpdateIncreaseOrder(ctx context.Context, chainID int64, account common.Address, index int64, req orders.UpdateIncreaseOrderRequest) (orders.Prepared, error) {
	return e.build(ctx, chainID, account, orders.MethodUpdateIncreaseOrder, func(_ *cache.Request, env orders.Env) (orders.Built, error) {
		open, err := e.orders.IncreaseOrders(ctx, chainID, account)
		if err != nil {
			return orders.Built{}, fmt.Errorf("increase orders: %w", ErrMarketData)
		}
		for _, o := range open {
			if o.Index == index {
				req.Order = o
				return orders.BuildUpdateIncreaseOrder(env, req)
			}
		}
		return orders.Built{}, fmt.Errorf("increase order %d: %w", index, ErrOrderNotFound)
	})
}

func (e *Engine) DecreaseOrder(ctx context.Context, chainID int64, account common.Address, key common.Hash, req orders.DecreaseOrderRequest) (orders.Prepared, error) {
	return e.build(ctx, chainID, account, orders.MethodCreateDecreaseOrder, func(rc *cache.Request, env orders.Env) (orders.Built, error) {
		pos, err := e.position(ctx, rc, chainID, account, key)
		if err != nil {
			return orders.Built{}, err
		}
		req.Position = pos
		if req.ExistingOrders == nil {
			req.ExistingOrders = e.existingDecreaseOrders(ctx, chainID, account)
		}
		return orders.BuildDecreaseOrder(env, req)
	})
}

// UpdateDecreaseOrder reprices the open decrease order at index against
// the position it closes.
func (e *Engine) UpdateDecreaseOrder(ctx context.Context, chainID int64, account common.Address, index int64, req orders.UpdateDecreaseOrderRequest) (orders.Prepared, error) {
	return e.build(ctx, chainID, account, orders.MethodUpdateDecreaseOrder, func(rc *cache.Request, env orders.Env) (orders.Built, error) {
		open, err := e.orders.DecreaseOrders(ctx, chainID, account)
		if err != nil {
			return orders.Built{}, fmt.Errorf("decrease orders: %w", ErrMarketData)
		}
		for _, o := range open {
			if o.Index != index {
				continue
			}
			key := chain.PositionKey(account, o.CollateralToken, o.IndexToken, o.IsLong)
			pos, err := e.position(ctx, rc, chainID, account, key)
			if err != nil {
				return orders.Built{}, err
			}
			req.Order = o
			req.Position = pos
			return orders.BuildUpdateDecreaseOrder(env, req)
		}
		return orders.Built{}, fmt.Errorf("decrease order %d: %w", index, ErrOrderNotFound)
	})
}

// SyncResult summarizes one history sync.
type SyncResult struct {
	Fetched    int `json:"fetched"`
	Normalized int `json:"normalized"`
	New        int `json:"new"`
}

// SyncTrades pulls one page of the account's trade history, normalizes it
// and forwards events not seen before to history and outbound. A failed
// dedup lookup is logged and every event is forwarded.
func (e *Engine) SyncTrades(ctx context.Context, chainID int64, account common.Address, page subgraph.Page) (SyncResult, []event.TradingEvent, error) {
	if _, err := e.registry.Chain(chainID); err != nil {
		return SyncResult{}, nil, err
	}
	raw, err := e.orders.Trades(ctx, chainID, account, page)
	if err != nil {
		return SyncResult{}, nil, fmt.Errorf("trades: %w", err)
	}
	events := e.normalizer.Normalize(chainID, raw)
	res := SyncResult{Fetched: len(raw), Normalized: len(events)}

	keys := make([]string, len(events))
	for i, ev := range events {
		keys[i] = ev.IdempotencyKey()
	}
	unseen, err := e.seen.Unseen(ctx, keys)
	if err != nil {
		e.logger.Warn().Err(err).Int64("chain_id", chainID).Msg("history dedup lookup failed")
	}
	fresh := make(map[string]bool, len(unseen))
	for _, k := range unseen {
		fresh[k] = true
	}

	var out []event.TradingEvent
	for _, ev := range events {
		k := ev.IdempotencyKey()
		if !fresh[k] {
			continue
		}
		delete(fresh, k)
		out = append(out, ev)
		e.emitHistory(persistence.Record{Event: ev})
		e.emitOutbound(ingestion.Outbound{Event: ev})
		e.seen.MarkProcessed(k)
	}
	res.New = len(out)

	e.logger.Info().
		Int64("chain_id", chainID).
		Str("account", account.Hex()).
		Int("fetched", res.Fetched).
		Int("normalized", res.Normalized).
		Int("new", res.New).
		Msg("trades synced")
	return res, out, nil
}

func (e *Engine) emitHistory(rec persistence.Record) {
	if e.historyChan == nil {
		return
	}
	select {
	case e.historyChan <- rec:
	default:
		if e.metrics != nil {
			e.metrics.HistoryDrops.Inc()
		}
		e.logger.Warn().Msg("history channel full, record dropped")
	}
}

func (e *Engine) emitOutbound(msg ingestion.Outbound) {
	if e.outboundChan == nil {
		return
	}
	select {
	case e.outboundChan <- msg:
	default:
		if e.metrics != nil {
			e.metrics.PublishDrops.Inc()
		}
		e.logger.Warn().Msg("outbound channel full, message dropped")
	}
}
