package core_test

import (
	"PerpDesk/internal/chain"
	"PerpDesk/internal/core"
	"PerpDesk/internal/ingestion"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/observability"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/persistence"
	"PerpDesk/internal/state"
	"PerpDesk/internal/subgraph"
	"PerpDesk/internal/testutil"
	"PerpDesk/internal/validation"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weth = "0x82af49447d8a07e3bd95bd0d56f35241523fbab1"

type fakeOrders struct {
	increase []subgraph.IncreaseOrder
	decrease []subgraph.DecreaseOrder
	trades   []subgraph.RawTrade
	err      error
}

func (f *fakeOrders) IncreaseOrders(ctx context.Context, chainID int64, account common.Address) ([]subgraph.IncreaseOrder, error) {
	return f.increase, f.err
}

func (f *fakeOrders) DecreaseOrders(ctx context.Context, chainID int64, account common.Address) ([]subgraph.DecreaseOrder, error) {
	return f.decrease, f.err
}

func (f *fakeOrders) SwapOrders(ctx context.Context, chainID int64, account common.Address) ([]subgraph.SwapOrder, error) {
	return nil, f.err
}

func (f *fakeOrders) Trades(ctx context.Context, chainID int64, account common.Address, page subgraph.Page) ([]subgraph.RawTrade, error) {
	return f.trades, f.err
}

type fakeIndex struct {
	stored map[string]bool
	err    error
	calls  int
}

func (f *fakeIndex) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool)
	for _, id := range ids {
		if f.stored[id] {
			out[id] = true
		}
	}
	return out, nil
}

type harness struct {
	engine   *core.Engine
	reader   *testutil.FakeReader
	orders   *fakeOrders
	index    *fakeIndex
	history  chan persistence.Record
	outbound chan ingestion.Outbound
	metrics  *observability.Metrics
}

func longWETH() testutil.RawPosition {
	return testutil.RawPosition{
		Size:              testutil.USD("10000"),
		Collateral:        testutil.USD("1000"),
		AveragePrice:      testutil.USD("1800"),
		EntryFundingRate:  big.NewInt(100),
		LastIncreasedTime: 1_600_000_000,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		reader:   testutil.NewFakeReader().StandardVault(),
		orders:   &fakeOrders{},
		index:    &fakeIndex{stored: map[string]bool{}},
		history:  make(chan persistence.Record, 16),
		outbound: make(chan ingestion.Outbound, 16),
		metrics:  observability.NewMetricsWith(prometheus.NewRegistry()),
	}
	h.reader.Balances[testutil.ETH] = testutil.Units("10", 18)
	h.reader.Balances[testutil.USDC] = testutil.Units("5000", 6)
	h.reader.Open[testutil.Slot{Collateral: testutil.WETH, Index: testutil.WETH, IsLong: true}] = longWETH()

	enricher := state.NewEnricher(h.reader, testutil.Registry(t), nil, zerolog.Nop(), h.metrics)
	enricher.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	h.engine = core.NewEngine(core.Config{
		Enricher:     enricher,
		Orders:       h.orders,
		History:      h.index,
		HistoryChan:  h.history,
		OutboundChan: h.outbound,
		Logger:       zerolog.Nop(),
		Metrics:      h.metrics,
	})
	h.engine.SetClock(func() time.Time { return time.Unix(1_700_000_100, 0) })
	return h
}

func longKey() common.Hash {
	return chain.PositionKey(testutil.Account, testutil.WETH, testutil.WETH, true)
}

func TestEngineReads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tokens, err := h.engine.TokenInfo(ctx, testutil.ChainID, testutil.Account)
	require.NoError(t, err)
	assert.Len(t, tokens, 4)

	positions, err := h.engine.Positions(ctx, testutil.ChainID, testutil.Account)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, longKey(), positions[0].Key)

	_, err = h.engine.Positions(ctx, 1, testutil.Account)
	assert.ErrorIs(t, err, chain.ErrUnknownChain)

	h.reader.Fail["VaultTokenInfo"] = true
	_, err = h.engine.TokenInfo(ctx, testutil.ChainID, testutil.Account)
	assert.ErrorIs(t, err, core.ErrMarketData)

	assert.Positive(t, promtest.ToFloat64(h.metrics.CacheMisses))
}

func TestEngineRequestsDoNotShareCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.TokenInfo(ctx, testutil.ChainID, testutil.Account)
	require.NoError(t, err)
	_, err = h.engine.TokenInfo(ctx, testutil.ChainID, testutil.Account)
	require.NoError(t, err)
	assert.Equal(t, 2, h.reader.CallCount("VaultTokenInfo"))
}

func TestEngineOrders(t *testing.T) {
	h := newHarness(t)
	h.orders.increase = []subgraph.IncreaseOrder{{Index: 3}}
	h.orders.decrease = []subgraph.DecreaseOrder{{Index: 4}, {Index: 5}}

	open, err := h.engine.Orders(context.Background(), testutil.ChainID, testutil.Account)
	require.NoError(t, err)
	assert.Len(t, open.Increase, 1)
	assert.Len(t, open.Decrease, 2)
	assert.Empty(t, open.Swap)

	h.orders.err = errors.New("subgraph down")
	_, err = h.engine.Orders(context.Background(), testutil.ChainID, testutil.Account)
	assert.Error(t, err)
}

func TestEngineValidateFillsMarketData(t *testing.T) {
	h := newHarness(t)
	p := &validation.Params{
		ChainID:         testutil.ChainID,
		Account:         testutil.Account,
		Action:          orders.ActionIncrease,
		OrderType:       orders.OrderTypeMarket,
		FromToken:       testutil.USDC,
		ToToken:         testutil.WETH,
		CollateralToken: testutil.WETH,
		IndexToken:      testutil.WETH,
		IsLong:          true,
		FromAmount:      fpmath.MustParse("1000", 6),
		SizeDelta:       fpmath.MustParse("2000", fpmath.USDDecimals),
	}
	msgs, err := h.engine.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, testutil.WETH, p.WrappedToken)
	assert.NotEmpty(t, p.Tokens)

	p.FromAmount = fpmath.MustParse("6000", 6)
	msgs, err = h.engine.Validate(context.Background(), p)
	require.NoError(t, err)
	assert.Contains(t, msgs, "Insufficient USDC balance")
}

func TestEngineValidateDecreaseResolvesPosition(t *testing.T) {
	h := newHarness(t)
	h.orders.err = errors.New("subgraph down")
	p := &validation.Params{
		ChainID:         testutil.ChainID,
		Account:         testutil.Account,
		Action:          orders.ActionDecrease,
		CollateralToken: testutil.WETH,
		IndexToken:      testutil.WETH,
		IsLong:          true,
		SizeDelta:       fpmath.MustParse("1000", fpmath.USDDecimals),
	}
	_, err := h.engine.Validate(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, p.Position)
	assert.Equal(t, "10000", p.Position.Size.String())
	assert.Nil(t, p.ExistingOrders)
}

func TestEngineIncreasePositionEmits(t *testing.T) {
	h := newHarness(t)
	prepared, err := h.engine.IncreasePosition(context.Background(), testutil.ChainID, orders.IncreasePositionRequest{
		Account:    testutil.Account,
		From:       testutil.ETH,
		Amount:     fpmath.MustParse("1", 18),
		Collateral: testutil.WETH,
		Index:      testutil.WETH,
		IsLong:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.MethodCreateIncreasePositionETH, prepared.Call.Method)
	assert.True(t, time.Unix(1_700_000_100, 0).Equal(prepared.CreatedAt))

	rec := <-h.history
	require.NotNil(t, rec.Prepared)
	assert.Equal(t, prepared.ID, rec.Prepared.ID)
	out := <-h.outbound
	require.NotNil(t, out.Prepared)
	assert.Equal(t, prepared.ID, out.Prepared.ID)

	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.OrdersBuilt.WithLabelValues(orders.MethodCreateIncreasePositionETH)))
}

func TestEngineDecreasePositionResolvesKey(t *testing.T) {
	h := newHarness(t)
	prepared, err := h.engine.DecreasePosition(context.Background(), testutil.ChainID, testutil.Account, longKey(), orders.DecreasePositionRequest{
		DecreaseUsd: fpmath.MustParse("5000", fpmath.USDDecimals),
		Receive:     testutil.WETH,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.MethodCreateDecreasePosition, prepared.Call.Method)
	assert.Equal(t, testutil.Account, prepared.Call.Param("receiver"))

	_, err = h.engine.DecreasePosition(context.Background(), testutil.ChainID, testutil.Account, common.HexToHash("0xdead"), orders.DecreasePositionRequest{
		DecreaseUsd: fpmath.MustParse("5000", fpmath.USDDecimals),
	})
	assert.ErrorIs(t, err, core.ErrPositionNotFound)
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.OrderBuildErrors.WithLabelValues(orders.MethodCreateDecreasePosition, "not_found")))
}

func TestEngineBuildFailsWithoutMarketData(t *testing.T) {
	h := newHarness(t)
	h.reader.Fail["PositionMinExecutionFee"] = true

	_, err := h.engine.IncreasePosition(context.Background(), testutil.ChainID, orders.IncreasePositionRequest{
		Account:    testutil.Account,
		From:       testutil.ETH,
		Amount:     fpmath.MustParse("1", 18),
		Collateral: testutil.WETH,
		Index:      testutil.WETH,
		IsLong:     true,
	})
	assert.ErrorIs(t, err, core.ErrMarketData)
	assert.Empty(t, h.history)
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.OrderBuildErrors.WithLabelValues(orders.MethodCreateIncreasePosition, "market_data")))
}

func TestEngineUpdateOrdersLookupIndex(t *testing.T) {
	h := newHarness(t)
	h.orders.decrease = []subgraph.DecreaseOrder{{
		Index:           9,
		CollateralToken: testutil.WETH,
		IndexToken:      testutil.WETH,
		IsLong:          true,
		SizeDelta:       fpmath.MustParse("1000", fpmath.USDDecimals),
		TriggerPrice:    fpmath.MustParse("2500", fpmath.USDDecimals),
	}}

	prepared, err := h.engine.UpdateDecreaseOrder(context.Background(), testutil.ChainID, testutil.Account, 9, orders.UpdateDecreaseOrderRequest{
		DecreaseUsd:  fpmath.MustParse("2000", fpmath.USDDecimals),
		TriggerPrice: fpmath.MustParse("2600", fpmath.USDDecimals),
	})
	require.NoError(t, err)
	assert.Equal(t, orders.MethodUpdateDecreaseOrder, prepared.Call.Method)

	_, err = h.engine.UpdateIncreaseOrder(context.Background(), testutil.ChainID, testutil.Account, 1, orders.UpdateIncreaseOrderRequest{
		SizeDelta:    fpmath.MustParse("100", fpmath.USDDecimals),
		TriggerPrice: fpmath.MustParse("1900", fpmath.USDDecimals),
	})
	assert.ErrorIs(t, err, core.ErrOrderNotFound)
}

func rawTrade(id string) subgraph.RawTrade {
	return subgraph.RawTrade{
		ID:          id,
		Action:      "IncreasePosition-Long",
		Account:     testutil.Account,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 100,
		Timestamp:   time.Unix(1_700_000_000, 0).UTC(),
		Params: json.RawMessage(`{"key":"0x0a","collateralToken":"` + weth + `","indexToken":"` + weth + `",
			"collateralDelta":"1000000000000000000000000000000000","sizeDelta":"2000000000000000000000000000000000",
			"price":"2000000000000000000000000000000000","fee":"0"}`),
	}
}

func TestEngineSyncTradesDedupes(t *testing.T) {
	h := newHarness(t)
	h.orders.trades = []subgraph.RawTrade{rawTrade("a"), rawTrade("b"), rawTrade("c"), {ID: "bad", Action: "Transfer"}}
	h.index.stored["42161:b"] = true

	res, events, err := h.engine.SyncTrades(context.Background(), testutil.ChainID, testutil.Account, subgraph.Page{First: 100})
	require.NoError(t, err)
	assert.Equal(t, core.SyncResult{Fetched: 4, Normalized: 3, New: 2}, res)
	require.Len(t, events, 2)
	assert.Equal(t, "42161:a", events[0].IdempotencyKey())
	assert.Equal(t, "42161:c", events[1].IdempotencyKey())
	assert.Len(t, h.history, 2)
	assert.Len(t, h.outbound, 2)

	// second pass is served from memory
	res, _, err = h.engine.SyncTrades(context.Background(), testutil.ChainID, testutil.Account, subgraph.Page{First: 100})
	require.NoError(t, err)
	assert.Equal(t, 0, res.New)
	assert.Equal(t, 1, h.index.calls)
	assert.Equal(t, int64(3), h.engine.Seen().LRUHits)
}

func TestEngineSyncTradesForwardsWhenIndexFails(t *testing.T) {
	h := newHarness(t)
	h.orders.trades = []subgraph.RawTrade{rawTrade("a")}
	h.index.err = errors.New("connection refused")

	res, _, err := h.engine.SyncTrades(context.Background(), testutil.ChainID, testutil.Account, subgraph.Page{First: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, int64(1), h.engine.Seen().IndexErrs)
}

func TestEngineDropsWhenChannelsFull(t *testing.T) {
	h := newHarness(t)
	h.orders.trades = []subgraph.RawTrade{rawTrade("a"), rawTrade("b")}
	full := make(chan persistence.Record)
	enricher := state.NewEnricher(h.reader, testutil.Registry(t), nil, zerolog.Nop(), nil)
	e := core.NewEngine(core.Config{
		Enricher:    enricher,
		Orders:      h.orders,
		HistoryChan: full,
		Logger:      zerolog.Nop(),
		Metrics:     h.metrics,
	})

	res, _, err := e.SyncTrades(context.Background(), testutil.ChainID, testutil.Account, subgraph.Page{First: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.New)
	assert.Equal(t, 2.0, promtest.ToFloat64(h.metrics.HistoryDrops))
}
