package event

import (
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/subgraph"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Meta is the part every trading event shares.
type Meta struct {
	ID          string
	ChainID     int64
	Action      Action
	Account     common.Address
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   time.Time
}

func (m Meta) Header() Meta { return m }

// IdempotencyKey is stable across re-reads of the same subgraph row.
func (m Meta) IdempotencyKey() string {
	return fmt.Sprintf("%d:%s", m.ChainID, m.ID)
}

// TradingEvent is implemented by PositionEvent, LiquidationEvent,
// SwapEvent, OrderEvent and PositionRequestEvent only.
type TradingEvent interface {
	Header() Meta
	IdempotencyKey() string
	isTradingEvent()
}

// PositionEvent is an executed increase or decrease. USD values at 30
// decimals.
type PositionEvent struct {
	Meta
	Key             common.Hash
	CollateralToken common.Address
	IndexToken      common.Address
	IsLong          bool
	CollateralDelta fpmath.Amount
	SizeDelta       fpmath.Amount
	Price           fpmath.Amount
	Fee             fpmath.Amount
}

// LiquidationEvent is a position closed by a liquidator.
type LiquidationEvent struct {
	Meta
	Key             common.Hash
	CollateralToken common.Address
	IndexToken      common.Address
	IsLong          bool
	Size            fpmath.Amount
	Collateral      fpmath.Amount
	ReserveAmount   fpmath.Amount // collateral token decimals
	RealisedPnl     fpmath.Amount // signed
	MarkPrice       fpmath.Amount
}

// SwapEvent is a vault swap or a USDG mint/burn. For BuyUSDG the token out
// is USDG; for SellUSDG the token in is.
type SwapEvent struct {
	Meta
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  fpmath.Amount // TokenIn decimals
	AmountOut fpmath.Amount // TokenOut decimals
}

// OrderEvent is a change to an order book order.
type OrderEvent struct {
	Meta
	Kind                  subgraph.OrderKind
	OrderIndex            int64
	Path                  []common.Address
	IndexToken            common.Address
	CollateralToken       common.Address
	IsLong                bool
	SizeDelta             fpmath.Amount
	CollateralDelta       fpmath.Amount
	AmountIn              fpmath.Amount // path[0] decimals
	MinOut                fpmath.Amount // path[len-1] decimals
	TriggerPrice          fpmath.Amount
	TriggerRatio          fpmath.Amount
	TriggerAboveThreshold bool
	ExecutionPrice        fpmath.Amount // executions only
}

// PositionRequestEvent is a market request queued on or cancelled from the
// position router.
type PositionRequestEvent struct {
	Meta
	Path            []common.Address
	IndexToken      common.Address
	IsLong          bool
	AmountIn        fpmath.Amount // path[0] decimals
	SizeDelta       fpmath.Amount
	CollateralDelta fpmath.Amount
	AcceptablePrice fpmath.Amount
	ExecutionFee    fpmath.Amount // native decimals
}

func (PositionEvent) isTradingEvent()        {}
func (LiquidationEvent) isTradingEvent()     {}
func (SwapEvent) isTradingEvent()            {}
func (OrderEvent) isTradingEvent()           {}
func (PositionRequestEvent) isTradingEvent() {}
