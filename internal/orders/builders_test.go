package orders_test

import (
	"PerpDesk/internal/cache"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/state"
	"PerpDesk/internal/testutil"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) orders.Env {
	t.Helper()
	reg := testutil.Registry(t)
	e := state.NewEnricher(testutil.NewFakeReader().StandardVault(), reg, nil, zerolog.Nop(), nil)
	tokens, ok := e.TokenInfo(context.Background(), cache.New(), testutil.ChainID, testutil.Account)
	require.True(t, ok)
	c, err := reg.Chain(testutil.ChainID)
	require.NoError(t, err)

	return orders.Env{
		ChainID:              testutil.ChainID,
		Contracts:            c.Contracts,
		NativeToken:          testutil.ETH,
		WrappedToken:         testutil.WETH,
		PositionExecutionFee: fpmath.MustParse("0.0001", 18),
		OrderExecutionFee:    fpmath.MustParse("0.0003", 18),
		Tokens:               tokens,
		Params:               state.DefaultProtocolParams(),
		Totals: state.VaultTotals{
			UsdgSupply:        fpmath.Units(1_000_000, 18),
			TotalTokenWeights: fpmath.FromInt64(100_000, 0),
		},
		Now: time.Unix(1_700_000_000, 0),
	}
}

func TestBuildIncreasePositionFromNative(t *testing.T) {
	env := testEnv(t)
	built, err := orders.BuildIncreasePosition(env, orders.IncreasePositionRequest{
		From:       testutil.ETH,
		Amount:     fpmath.MustParse("1", 18),
		Collateral: testutil.WETH,
		Index:      testutil.WETH,
		IsLong:     true,
		TakeProfit: usd("2500"),
	})
	require.NoError(t, err)

	assert.Equal(t, orders.MethodCreateIncreasePositionETH, built.Method)
	assert.Equal(t, env.Contracts.PositionRouter, built.Contract)
	assert.Nil(t, built.Param("amountIn"), "the native amount travels as value")
	assert.Equal(t, []common.Address{testutil.WETH}, built.Param("path"))
	// swap-in amount + position fee + one trigger leg
	assert.Equal(t, "1.0004", built.Override.Value.String())
	assert.Equal(t, "400000000000000", built.Param("executionFee").(*big.Int).String())

	// 2000 USD at the default 2x
	size := fpmath.New(built.Param("sizeDelta").(*big.Int), fpmath.USDDecimals)
	assert.Equal(t, "3992.015968063872255489021956087824", size.String())
	// max price plus 30 bps
	assert.Equal(t, usd("2007.003").Raw(), built.Param("acceptablePrice"))

	require.Len(t, built.Followups, 1)
	tp := built.Followups[0]
	assert.Equal(t, orders.MethodCreateDecreaseOrder, tp.Method)
	assert.Equal(t, true, tp.Param("triggerAboveThreshold"))
	assert.Equal(t, size.Raw(), tp.Param("sizeDelta"))
}

func TestBuildIncreasePositionFromToken(t *testing.T) {
	env := testEnv(t)
	lev := 5.0
	built, err := orders.BuildIncreasePosition(env, orders.IncreasePositionRequest{
		From:       testutil.USDC,
		Amount:     fpmath.MustParse("1000", 6),
		Collateral: testutil.USDC,
		Index:      testutil.WBTC,
		Leverage:   &lev,
	})
	require.NoError(t, err)

	assert.Equal(t, orders.MethodCreateIncreasePosition, built.Method)
	assert.Equal(t, "1000000000", built.Param("amountIn").(*big.Int).String())
	assert.Equal(t, []common.Address{testutil.USDC}, built.Param("path"))
	assert.Equal(t, "0.0001", built.Override.Value.String(), "only the execution fee is attached")
	// shorts enter at the min price less slippage
	assert.Equal(t, usd("29910").Raw(), built.Param("acceptablePrice"))
	assert.Empty(t, built.Followups)
}

func TestBuildIncreasePositionStopLoss(t *testing.T) {
	env := testEnv(t)
	req := orders.IncreasePositionRequest{
		From:       testutil.ETH,
		Amount:     fpmath.MustParse("1", 18),
		Collateral: testutil.WETH,
		Index:      testutil.WETH,
		IsLong:     true,
		TakeProfit: usd("2500"),
		StopLoss:   usd("1500"),
	}
	built, err := orders.BuildIncreasePosition(env, req)
	require.NoError(t, err)
	require.Len(t, built.Followups, 2)
	assert.Equal(t, false, built.Followups[1].Param("triggerAboveThreshold"))
	assert.Equal(t, "1.0007", built.Override.Value.String())

	req.StopLoss = usd("900")
	_, err = orders.BuildIncreasePosition(env, req)
	assert.ErrorIs(t, err, orders.ErrInvalidTriggerPrice, "stop below the liquidation price")

	req.StopLoss = usd("0")
	_, err = orders.BuildIncreasePosition(env, req)
	assert.ErrorIs(t, err, orders.ErrInvalidTriggerPrice)
}

func TestBuildIncreasePositionMissingData(t *testing.T) {
	env := testEnv(t)
	env.PositionExecutionFee = fpmath.Amount{}
	_, err := orders.BuildIncreasePosition(env, orders.IncreasePositionRequest{
		From:       testutil.USDC,
		Amount:     fpmath.MustParse("100", 6),
		Collateral: testutil.USDC,
		Index:      testutil.WBTC,
	})
	assert.ErrorIs(t, err, orders.ErrMissingMarketData)

	_, err = orders.BuildIncreasePosition(testEnv(t), orders.IncreasePositionRequest{From: testutil.USDC, Amount: usd("0")})
	assert.ErrorIs(t, err, orders.ErrInvalidAmount)
}

func TestBuildDecreasePosition(t *testing.T) {
	env := testEnv(t)
	pos := longPosition()
	pos.HasProfit = true
	pos.Delta = usd("100")

	built, err := orders.BuildDecreasePosition(env, orders.DecreasePositionRequest{
		Position:    pos,
		DecreaseUsd: usd("999.5"),
		Receive:     testutil.ETH,
		Receiver:    testutil.Account,
	})
	require.NoError(t, err)

	assert.Equal(t, orders.MethodCreateDecreasePosition, built.Method)
	assert.Equal(t, usd("1000").Raw(), built.Param("sizeDelta"), "snapped to a full close")
	assert.Equal(t, "0", built.Param("collateralDelta").(*big.Int).String())
	assert.Equal(t, true, built.Param("withdrawETH"))
	assert.Equal(t, []common.Address{testutil.WETH}, built.Param("path"))
	// min price less 30 bps
	assert.Equal(t, usd("1994").Raw(), built.Param("acceptablePrice"))
	assert.Equal(t, "0.0001", built.Override.Value.String())

	// profit 100 plus collateral 100, less the 1 USD margin fee
	require.NotNil(t, built.Preview)
	assert.Equal(t, usd("1").Raw(), built.Preview.Fee.Raw())
	assert.Equal(t, usd("199").Raw(), built.Preview.ReceiveUsd.Raw())
	assert.True(t, built.Preview.Collateral.IsZero())
}

func TestBuildCollateralChanges(t *testing.T) {
	env := testEnv(t)
	pos := longPosition()

	dep, err := orders.BuildDepositCollateral(env, orders.DepositCollateralRequest{
		Position: pos,
		From:     testutil.ETH,
		Amount:   fpmath.MustParse("0.5", 18),
	})
	require.NoError(t, err)
	assert.Equal(t, orders.MethodCreateIncreasePositionETH, dep.Method)
	assert.Equal(t, "0", dep.Param("sizeDelta").(*big.Int).String())
	assert.Equal(t, "0.5001", dep.Override.Value.String())
	// 1000 USD deposited, 30 bps kept by the vault
	require.NotNil(t, dep.Preview)
	assert.Equal(t, usd("3").Raw(), dep.Preview.DepositFee.Raw())
	assert.Equal(t, usd("1097").Raw(), dep.Preview.Collateral.Raw())

	wd, err := orders.BuildWithdrawCollateral(env, orders.WithdrawCollateralRequest{
		Position:      pos,
		CollateralUsd: usd("40"),
		Receive:       testutil.USDC,
		Receiver:      testutil.Account,
	})
	require.NoError(t, err)
	assert.Equal(t, "0", wd.Param("sizeDelta").(*big.Int).String())
	assert.Equal(t, usd("40").Raw(), wd.Param("collateralDelta"))
	assert.Equal(t, []common.Address{testutil.WETH, testutil.USDC}, wd.Param("path"))
	assert.Equal(t, false, wd.Param("withdrawETH"))
	require.NotNil(t, wd.Preview)
	assert.Equal(t, usd("40").Raw(), wd.Preview.ReceiveUsd.Raw())
	assert.Equal(t, usd("60").Raw(), wd.Preview.Collateral.Raw())

	_, err = orders.BuildWithdrawCollateral(env, orders.WithdrawCollateralRequest{Position: pos, CollateralUsd: usd("100")})
	assert.ErrorIs(t, err, orders.ErrInvalidAmount)
}

func TestBuildCollateralChangesOnNativeIndex(t *testing.T) {
	env := testEnv(t)
	pos := longPosition()
	pos.IndexToken = testutil.ETH

	dep, err := orders.BuildDepositCollateral(env, orders.DepositCollateralRequest{
		Position: pos,
		From:     testutil.USDC,
		Amount:   fpmath.MustParse("50", 6),
	})
	require.NoError(t, err)
	assert.Equal(t, testutil.WETH, dep.Param("indexToken"))

	wd, err := orders.BuildWithdrawCollateral(env, orders.WithdrawCollateralRequest{
		Position:      pos,
		CollateralUsd: usd("40"),
		Receive:       testutil.WETH,
		Receiver:      testutil.Account,
	})
	require.NoError(t, err)
	assert.Equal(t, testutil.WETH, wd.Param("indexToken"))
}

func TestBuildIncreaseOrder(t *testing.T) {
	env := testEnv(t)
	built, err := orders.BuildIncreaseOrder(env, orders.IncreaseOrderRequest{
		From:         testutil.ETH,
		Amount:       fpmath.MustParse("1", 18),
		Collateral:   testutil.WETH,
		Index:        testutil.WETH,
		IsLong:       true,
		TriggerPrice: usd("1900"),
	})
	require.NoError(t, err)
	assert.Equal(t, orders.MethodCreateIncreaseOrder, built.Method)
	assert.Equal(t, env.Contracts.OrderBook, built.Contract)
	assert.Equal(t, false, built.Param("triggerAboveThreshold"))
	assert.Equal(t, true, built.Param("shouldWrap"))
	assert.Equal(t, testutil.WETH, built.Param("indexToken"))
	assert.Equal(t, "1.0003", built.Override.Value.String())

	_, err = orders.BuildIncreaseOrder(env, orders.IncreaseOrderRequest{
		From:   testutil.USDC,
		Amount: fpmath.MustParse("10", 6),
	})
	assert.ErrorIs(t, err, orders.ErrInvalidTriggerPrice)
}

func TestBuildDecreaseOrder(t *testing.T) {
	env := testEnv(t)
	pos := longPosition()

	tp, err := orders.BuildDecreaseOrder(env, orders.DecreaseOrderRequest{
		Position:     pos,
		DecreaseUsd:  usd("500"),
		TriggerPrice: usd("2200"),
	})
	require.NoError(t, err)
	assert.Equal(t, true, tp.Param("triggerAboveThreshold"))
	assert.Equal(t, "0.0003", tp.Override.Value.String())

	_, err = orders.BuildDecreaseOrder(env, orders.DecreaseOrderRequest{
		Position:     pos,
		DecreaseUsd:  usd("500"),
		TriggerPrice: usd("1800"),
	})
	assert.ErrorIs(t, err, orders.ErrInvalidTriggerPrice, "stop-loss without a liquidation price")

	pos.LiqPrice = usd("1820")
	sl, err := orders.BuildDecreaseOrder(env, orders.DecreaseOrderRequest{
		Position:     pos,
		DecreaseUsd:  usd("500"),
		TriggerPrice: usd("1850"),
	})
	require.NoError(t, err)
	assert.Equal(t, false, sl.Param("triggerAboveThreshold"))
}

func TestBuildUpdateOrders(t *testing.T) {
	env := testEnv(t)
	pos := longPosition()

	inc, err := orders.BuildUpdateIncreaseOrder(env, orders.UpdateIncreaseOrderRequest{
		SizeDelta:    usd("300"),
		TriggerPrice: usd("1900"),
	})
	require.NoError(t, err)
	assert.Equal(t, orders.MethodUpdateIncreaseOrder, inc.Method)
	assert.True(t, inc.Override.Value.IsZero())

	dec, err := orders.BuildUpdateDecreaseOrder(env, orders.UpdateDecreaseOrderRequest{
		Position:     pos,
		DecreaseUsd:  usd("999.5"),
		TriggerPrice: usd("2100"),
	})
	require.NoError(t, err)
	assert.Equal(t, usd("1000").Raw(), dec.Param("sizeDelta"))
	assert.Equal(t, true, dec.Param("triggerAboveThreshold"))

	_, err = orders.BuildUpdateIncreaseOrder(env, orders.UpdateIncreaseOrderRequest{SizeDelta: usd("1")})
	assert.ErrorIs(t, err, orders.ErrInvalidTriggerPrice)
}
