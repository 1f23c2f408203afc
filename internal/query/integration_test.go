package query_test

import (
	"PerpDesk/internal/event"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/observability"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/persistence"
	"PerpDesk/internal/query"
	"PerpDesk/internal/testutil"
	"PerpDesk/migrations"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, persistence.NewMigrator(db, migrations.FS, observability.NewLogger("migrate")).Up(ctx))

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	increase, err := persistence.EventRowFrom(event.PositionEvent{
		Meta: event.Meta{
			ID: "inc", ChainID: testutil.ChainID, Action: event.ActionIncreasePositionLong,
			Account: testutil.Account, BlockNumber: 10, Timestamp: base,
		},
		CollateralToken: testutil.WETH,
		IndexToken:      testutil.WETH,
		IsLong:          true,
		SizeDelta:       fpmath.USD(5000),
	})
	require.NoError(t, err)
	swap, err := persistence.EventRowFrom(event.SwapEvent{
		Meta: event.Meta{
			ID: "swap", ChainID: testutil.ChainID, Action: event.ActionSwap,
			Account: testutil.Account, BlockNumber: 11, Timestamp: base.Add(time.Hour),
		},
		TokenIn:  testutil.USDC,
		TokenOut: testutil.WBTC,
	})
	require.NoError(t, err)

	prepared, err := persistence.PreparedRowFrom(orders.Prepared{
		ID:        uuid.New(),
		ChainID:   testutil.ChainID,
		Account:   testutil.Account,
		Call:      orders.Built{Method: orders.MethodCreateIncreasePosition, Contract: common.HexToAddress("0xb87a436B93fFE9D75c5cFA7bAcFff96430b09868")},
		CreatedAt: base,
	})
	require.NoError(t, err)

	writer := persistence.NewHistoryWriter(db)
	require.NoError(t, writer.WriteBatch(ctx, []persistence.EventRow{increase, swap}, []persistence.PreparedRow{prepared}))
	// replays are no-ops
	require.NoError(t, writer.WriteBatch(ctx, []persistence.EventRow{increase}, nil))

	existing, err := writer.Existing(ctx, []string{increase.ID, "42161:missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{increase.ID: true}, existing)

	hs := query.NewHistoryService(db)

	all, err := hs.ListTrades(ctx, query.TradeFilter{ChainID: testutil.ChainID, Account: testutil.Account})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, swap.ID, all[0].ID, "newest first")

	weth := testutil.WETH
	byToken, err := hs.ListTrades(ctx, query.TradeFilter{ChainID: testutil.ChainID, Account: testutil.Account, Token: &weth})
	require.NoError(t, err)
	require.Len(t, byToken, 1)
	require.NotNil(t, byToken[0].SizeDelta)
	assert.Equal(t, "5000", *byToken[0].SizeDelta)

	cursor := base.Add(30 * time.Minute)
	older, err := hs.ListTrades(ctx, query.TradeFilter{ChainID: testutil.ChainID, Account: testutil.Account, Before: &cursor})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, increase.ID, older[0].ID)

	counts, err := hs.ActionCounts(ctx, testutil.ChainID, testutil.Account)
	require.NoError(t, err)
	assert.Len(t, counts, 2)

	got, err := hs.GetPrepared(ctx, uuid.MustParse(prepared.ID))
	require.NoError(t, err)
	assert.Equal(t, orders.MethodCreateIncreasePosition, got.Method)

	_, err = hs.GetPrepared(ctx, uuid.New())
	assert.True(t, errors.Is(err, query.ErrNotFound))

	list, err := hs.ListPrepared(ctx, testutil.ChainID, testutil.Account, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
