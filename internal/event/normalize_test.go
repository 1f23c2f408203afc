package event_test

import (
	"PerpDesk/internal/event"
	"PerpDesk/internal/subgraph"
	"PerpDesk/internal/testutil"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	weth = "0x82af49447d8a07e3bd95bd0d56f35241523fbab1"
	usdc = "0xff970a61a04b1ca14834a43f5de4533ebddb5cc8"
	// not in the test registry
	stray = "0x00000000000000000000000000000000deadbeef"
)

func trade(id, action, params string) subgraph.RawTrade {
	return subgraph.RawTrade{
		ID:          id,
		Action:      action,
		Account:     testutil.Account,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 100,
		Timestamp:   time.Unix(1_700_000_000, 0).UTC(),
		Params:      json.RawMessage(params),
	}
}

func TestParseAction(t *testing.T) {
	a, err := event.ParseAction("LiquidatePosition-Short")
	require.NoError(t, err)
	assert.Equal(t, event.ActionLiquidatePositionShort, a)
	assert.False(t, a.IsLong())
	assert.Equal(t, "LiquidatePosition-Short", a.String())

	_, err = event.ParseAction("Unknown")
	assert.Error(t, err)
	_, err = event.ParseAction("Transfer")
	assert.Error(t, err)

	assert.Equal(t, subgraph.OrderKindSwap, event.ActionExecuteSwapOrder.OrderKind())
	assert.Equal(t, subgraph.OrderKindUnknown, event.ActionSwap.OrderKind())
}

func TestNormalizePositionEvents(t *testing.T) {
	trades := []subgraph.RawTrade{
		trade("a", "IncreasePosition-Long", `{"key":"0x0a","collateralToken":"`+weth+`","indexToken":"`+weth+`",
			"collateralDelta":"1000000000000000000000000000000000","sizeDelta":"2000000000000000000000000000000000",
			"price":"2000000000000000000000000000000000","fee":"2000000000000000000000000000000"}`),
		trade("b", "LiquidatePosition-Short", `{"key":"0x0b","collateralToken":"`+usdc+`","indexToken":"`+weth+`",
			"size":"5000000000000000000000000000000000","collateral":"100000000000000000000000000000000",
			"reserveAmount":"2500000000","realisedPnl":"-100000000000000000000000000000000",
			"markPrice":"2100000000000000000000000000000000"}`),
	}

	got := event.Normalize(testutil.ChainID, testutil.Registry(t), trades)
	require.Len(t, got, 2)

	inc, ok := got[0].(event.PositionEvent)
	require.True(t, ok)
	assert.Equal(t, event.ActionIncreasePositionLong, inc.Action)
	assert.True(t, inc.IsLong)
	assert.Equal(t, testutil.WETH, inc.IndexToken)
	assert.Equal(t, "2000", inc.SizeDelta.String())
	assert.Equal(t, "1000", inc.CollateralDelta.String())
	assert.Equal(t, "2", inc.Fee.String())
	assert.Equal(t, "42161:a", inc.IdempotencyKey())
	assert.Equal(t, uint64(100), inc.Header().BlockNumber)

	liq, ok := got[1].(event.LiquidationEvent)
	require.True(t, ok)
	assert.False(t, liq.IsLong)
	assert.Equal(t, "-100", liq.RealisedPnl.String())
	assert.Equal(t, "2500", liq.ReserveAmount.String(), "reserve in collateral token decimals")
	assert.Equal(t, "2100", liq.MarkPrice.String())
}

func TestNormalizeSwapsAndUsdg(t *testing.T) {
	trades := []subgraph.RawTrade{
		trade("s", "Swap", `{"tokenIn":"`+usdc+`","tokenOut":"`+weth+`","amountIn":"2000000000","amountOut":"0xde0b6b3a7640000"}`),
		trade("b", "BuyUSDG", `{"token":"`+usdc+`","tokenAmount":1000000,"usdgAmount":"1000000000000000000"}`),
		trade("x", "SellUSDG", `{"token":"`+weth+`","tokenAmount":"1000000000000000000","usdgAmount":"2000000000000000000000"}`),
	}
	got := event.Normalize(testutil.ChainID, testutil.Registry(t), trades)
	require.Len(t, got, 3)

	swap := got[0].(event.SwapEvent)
	assert.Equal(t, "2000", swap.AmountIn.String())
	assert.Equal(t, "1", swap.AmountOut.String())

	usdg := common.HexToAddress("0x45096e7aA921f27590f8F19e457794EB09678141")
	buy := got[1].(event.SwapEvent)
	assert.Equal(t, testutil.USDC, buy.TokenIn)
	assert.Equal(t, usdg, buy.TokenOut)
	assert.Equal(t, "1", buy.AmountIn.String())

	sell := got[2].(event.SwapEvent)
	assert.Equal(t, usdg, sell.TokenIn)
	assert.Equal(t, "2000", sell.AmountIn.String())
	assert.Equal(t, testutil.WETH, sell.TokenOut)
}

func TestNormalizeOrdersAndRequests(t *testing.T) {
	trades := []subgraph.RawTrade{
		trade("o1", "ExecuteDecreaseOrder", `{"order":{"orderIndex":"3","collateralToken":"`+weth+`","indexToken":"`+weth+`",
			"sizeDelta":"500000000000000000000000000000000","isLong":true,"triggerPrice":"2500000000000000000000000000000000",
			"triggerAboveThreshold":true},"executionPrice":"2510000000000000000000000000000000"}`),
		trade("o2", "CreateSwapOrder", `{"order":{"index":7,"path":["`+usdc+`","`+weth+`"],"amountIn":"100000000","minOut":"50000000000000000",
			"triggerRatio":"1000000000000000000000000000000"}}`),
		trade("r1", "CreateIncreasePosition", `{"path":["`+usdc+`"],"indexToken":"`+weth+`","amountIn":"1000000000",
			"sizeDelta":"2000000000000000000000000000000000","isLong":false,"acceptablePrice":"1994000000000000000000000000000000",
			"executionFee":"100000000000000"}`),
	}
	got := event.Normalize(testutil.ChainID, testutil.Registry(t), trades)
	require.Len(t, got, 3)

	dec := got[0].(event.OrderEvent)
	assert.Equal(t, subgraph.OrderKindDecrease, dec.Kind)
	assert.Equal(t, int64(3), dec.OrderIndex)
	assert.True(t, dec.IsLong)
	assert.True(t, dec.TriggerAboveThreshold)
	assert.Equal(t, "2510", dec.ExecutionPrice.String())
	assert.Equal(t, "500", dec.SizeDelta.String())

	swap := got[1].(event.OrderEvent)
	assert.Equal(t, subgraph.OrderKindSwap, swap.Kind)
	assert.Equal(t, int64(7), swap.OrderIndex)
	assert.Equal(t, []common.Address{testutil.USDC, testutil.WETH}, swap.Path)
	assert.Equal(t, "100", swap.AmountIn.String())
	assert.Equal(t, "0.05", swap.MinOut.String())
	assert.False(t, swap.ExecutionPrice.IsSet())

	req := got[2].(event.PositionRequestEvent)
	assert.False(t, req.IsLong)
	assert.Equal(t, "1000", req.AmountIn.String())
	assert.Equal(t, "1994", req.AcceptablePrice.String())
	assert.Equal(t, "0.0001", req.ExecutionFee.String())
}

func TestNormalizeDropsDirtyRows(t *testing.T) {
	var buf bytes.Buffer
	n := event.NewNormalizer(testutil.Registry(t), zerolog.New(&buf).Level(zerolog.DebugLevel))

	trades := []subgraph.RawTrade{
		trade("unknown-token", "IncreasePosition-Long", `{"collateralToken":"`+stray+`","indexToken":"`+weth+`","sizeDelta":"1"}`),
		trade("bad-json", "Swap", `{"tokenIn":`),
		trade("no-params", "Swap", ``),
		trade("bad-int", "Swap", `{"tokenIn":"`+usdc+`","tokenOut":"`+weth+`","amountIn":"12abc"}`),
		trade("unknown-action", "Transfer", `{}`),
		trade("path-stray", "CreateSwapOrder", `{"order":{"index":1,"path":["`+usdc+`","`+stray+`"]}}`),
		trade("ok", "Swap", `{"tokenIn":"`+usdc+`","tokenOut":"`+weth+`","amountIn":"1"}`),
	}
	got := n.Normalize(testutil.ChainID, trades)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Header().ID)
	assert.Contains(t, buf.String(), `"trade_id":"unknown-token"`)

	assert.Empty(t, n.Normalize(1, trades[6:]), "tokens are resolved per chain")
}
