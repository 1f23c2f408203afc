package orders_test

import (
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/state"
	"PerpDesk/internal/subgraph"
	"PerpDesk/internal/testutil"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(s string) fpmath.Amount { return fpmath.MustParse(s, fpmath.USDDecimals) }

func longPosition() state.Position {
	return state.Position{
		CollateralToken: testutil.WETH,
		IndexToken:      testutil.WETH,
		IsLong:          true,
		Size:            usd("1000"),
		Collateral:      usd("100"),
		AveragePrice:    usd("2000"),
		MarkPrice:       usd("2000"),
	}
}

func decreaseOrder(size string, above bool) subgraph.DecreaseOrder {
	return subgraph.DecreaseOrder{
		CollateralToken:       testutil.WETH,
		IndexToken:            testutil.WETH,
		IsLong:                true,
		SizeDelta:             usd(size),
		TriggerAboveThreshold: above,
	}
}

func TestIsClosing(t *testing.T) {
	pos := longPosition()
	assert.True(t, orders.IsClosing(usd("1000"), pos))
	assert.True(t, orders.IsClosing(usd("999.01"), pos))
	assert.False(t, orders.IsClosing(usd("999"), pos))
	assert.False(t, orders.IsClosing(fpmath.Amount{}, pos))
}

func TestSizeDeltaSnapsToResidual(t *testing.T) {
	pos := longPosition()
	existing := []subgraph.DecreaseOrder{
		decreaseOrder("600", false),
		decreaseOrder("300", false),
		decreaseOrder("50", true), // same side as the new order
	}
	other := decreaseOrder("500", false)
	other.IsLong = false
	existing = append(existing, other)

	in := orders.SizeDeltaInput{
		Position:       pos,
		ExistingOrders: existing,
		DecreaseUsd:    usd("99.95"),
		TriggerPrice:   usd("2500"),
	}
	assert.Equal(t, "100", orders.SizeDelta(in).String())

	in.DecreaseUsd = usd("50")
	assert.Equal(t, "50", orders.SizeDelta(in).String(), "outside the dust tolerance")

	in.DecreaseUsd = usd("99.95")
	in.IsMarket = true
	assert.Equal(t, "99.95", orders.SizeDelta(in).String(), "market decreases are not snapped")
}

func TestSizeDeltaCloseIsIdempotent(t *testing.T) {
	in := orders.SizeDeltaInput{Position: longPosition(), IsMarket: true, DecreaseUsd: usd("999.5")}
	first := orders.SizeDelta(in)
	require.Equal(t, "1000", first.String())

	in.DecreaseUsd = first
	assert.True(t, orders.SizeDelta(in).Eq(first))
}

func TestCollateralDeltaBranches(t *testing.T) {
	base := orders.CollateralDeltaInput{
		Size:       usd("1000"),
		Collateral: usd("100"),
		SizeDelta:  usd("500"),
		Delta:      usd("20"),
		TotalFees:  usd("5"),
	}

	cases := []struct {
		name   string
		keep   bool
		profit bool
		delta  string
		want   string
	}{
		{"keep leverage, profit covers fees", true, true, "20", "50"},
		{"keep leverage, profit below fees", true, true, "2", "53"},
		{"keep leverage, loss", true, false, "20", "25"},
		{"keep leverage, loss above collateral", true, false, "60", "0"},
		{"profit covers fees", false, true, "20", "0"},
		{"profit below fees", false, true, "2", "3"},
		{"loss", false, false, "20", "20"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			in.KeepLeverage = tc.keep
			in.HasProfit = tc.profit
			in.Delta = usd(tc.delta)
			assert.Equal(t, tc.want, orders.CollateralDelta(in).String())
		})
	}
}

func TestCollateralDeltaZeroWhenClosing(t *testing.T) {
	for _, fees := range []string{"0", "5", "1000000"} {
		in := orders.CollateralDeltaInput{
			Size:         usd("1000"),
			Collateral:   usd("100"),
			SizeDelta:    usd("1000"),
			Delta:        usd("20"),
			TotalFees:    usd(fees),
			KeepLeverage: true,
			IsClosing:    true,
		}
		assert.True(t, orders.CollateralDelta(in).IsZero(), "fees %s", fees)
	}
	assert.True(t, orders.CollateralDelta(orders.CollateralDeltaInput{SizeDelta: usd("1")}).IsZero())
}

func TestLeverageBps(t *testing.T) {
	assert.Equal(t, int64(20000), orders.LeverageBps(nil).Int64())
	for _, tc := range []struct {
		in   float64
		want int64
	}{{2.5, 25000}, {1.23456, 12345}, {50, 500000}} {
		in := tc.in
		assert.Equal(t, tc.want, orders.LeverageBps(&in).Int64())
	}
}

func TestIncreaseSizeDelta(t *testing.T) {
	got := orders.IncreaseSizeDelta(usd("1000"), fpmath.BPS(100_000), fpmath.BPS(10), fpmath.Amount{})
	assert.Equal(t, "9900.990099009900990099009900990099", got.String())

	// the swap fee comes out of the collateral first
	got = orders.IncreaseSizeDelta(usd("1010"), fpmath.BPS(100_000), fpmath.BPS(10), usd("10"))
	assert.Equal(t, "9900.990099009900990099009900990099", got.String())

	assert.True(t, orders.IncreaseSizeDelta(usd("5"), fpmath.BPS(100_000), fpmath.BPS(10), usd("10")).IsZero())
}

func TestSwapPath(t *testing.T) {
	native, wrapped := testutil.ETH, testutil.WETH
	assert.Equal(t, []common.Address{wrapped}, orders.SwapPath(native, wrapped, native, wrapped))
	assert.Equal(t, []common.Address{testutil.USDC}, orders.SwapPath(testutil.USDC, testutil.USDC, native, wrapped))
	assert.Equal(t, []common.Address{testutil.USDC, wrapped}, orders.SwapPath(testutil.USDC, native, native, wrapped))
}

func TestPriceLimits(t *testing.T) {
	slip := fpmath.BPS(30)
	assert.Equal(t, "2006", orders.IncreasePriceLimit(usd("2000"), true, slip).String())
	assert.Equal(t, "1994", orders.IncreasePriceLimit(usd("2000"), false, slip).String())
	assert.Equal(t, "2006", orders.IncreasePriceLimit(usd("2000"), true, fpmath.Amount{}).String(), "default slippage")

	now := time.Unix(1_700_000_000, 0)
	pos := longPosition()
	pos.AveragePrice = usd("1980")
	pos.HasProfit = true
	pos.LastIncreasedTime = now.Unix() - 10

	in := orders.DecreaseLimitInput{
		RefPrice:      usd("2000"),
		IsLong:        true,
		SlippageBps:   slip,
		Position:      &pos,
		Now:           now,
		MinProfitTime: 3600,
		MinProfitBps:  fpmath.BPS(150),
	}
	assert.Equal(t, "2009.7", orders.DecreasePriceLimit(in).String(), "held at the profit price")

	in.Now = now.Add(2 * time.Hour)
	assert.Equal(t, "1994", orders.DecreasePriceLimit(in).String(), "window closed")

	short := pos
	short.IsLong = false
	short.AveragePrice = usd("2020")
	in = orders.DecreaseLimitInput{
		RefPrice:      usd("2000"),
		SlippageBps:   slip,
		Position:      &short,
		Now:           now,
		MinProfitTime: 3600,
		MinProfitBps:  fpmath.BPS(150),
	}
	assert.Equal(t, "1989.7", orders.DecreasePriceLimit(in).String())
}

func TestReduceCollateral(t *testing.T) {
	pos := longPosition()
	pos.HasProfit = true
	pos.Delta = usd("50")

	got := orders.ReduceCollateral(pos, usd("1000"), fpmath.Amount{}, fpmath.BPS(10))
	assert.Equal(t, "1", got.Fee.String())
	assert.Equal(t, "150", got.UsdOut.String())
	assert.Equal(t, "149", got.ReceiveUsd.String())
	assert.True(t, got.Collateral.IsZero())

	pos.HasProfit = false
	pos.Delta = usd("150")
	got = orders.ReduceCollateral(pos, usd("1000"), fpmath.Amount{}, fpmath.BPS(10))
	assert.True(t, got.ReceiveUsd.IsZero(), "a loss beyond collateral pays nothing")

	// partial decrease paying out collateral
	pos.Delta = usd("10")
	got = orders.ReduceCollateral(pos, usd("500"), usd("20"), fpmath.BPS(10))
	assert.Equal(t, "20", got.UsdOut.String())
	assert.Equal(t, "19.5", got.ReceiveUsd.String())
	assert.Equal(t, "75", got.Collateral.String())
}

func TestNextLeverageAndCollateral(t *testing.T) {
	lev := orders.NextLeverage(orders.NextInput{
		SizeDelta:       usd("1000"),
		CollateralDelta: usd("100"),
		Increase:        true,
		MarginFeeBps:    fpmath.BPS(10),
	})
	// 1000 / (100 * 0.999)
	assert.Equal(t, int64(100100), lev.Int64())

	pos := longPosition()
	next := orders.NextCollateral(orders.NextInput{
		Position:        &pos,
		SizeDelta:       usd("1000"),
		CollateralDelta: usd("50"),
		Increase:        true,
		MarginFeeBps:    fpmath.BPS(10),
	})
	assert.Equal(t, "149", next.String())

	pos.Delta = usd("40")
	next = orders.NextCollateral(orders.NextInput{
		Position:        &pos,
		SizeDelta:       usd("500"),
		CollateralDelta: usd("10"),
	})
	assert.Equal(t, "70", next.String(), "the decreased slice realises its loss")

	assert.False(t, orders.NextLeverage(orders.NextInput{Position: &pos, SizeDelta: usd("1000")}).IsSet(),
		"a decrease of the whole size has no leverage")
}
