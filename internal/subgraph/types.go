package subgraph

import (
	fpmath "PerpDesk/internal/math"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderKind discriminates pending order snapshots.
type OrderKind int32

const (
	OrderKindUnknown OrderKind = iota
	OrderKindIncrease
	OrderKindDecrease
	OrderKindSwap
)

func (k OrderKind) String() string {
	switch k {
	case OrderKindIncrease:
		return "Increase"
	case OrderKindDecrease:
		return "Decrease"
	case OrderKindSwap:
		return "Swap"
	default:
		return "Unknown"
	}
}

// Order is implemented by IncreaseOrder, DecreaseOrder and SwapOrder only.
type Order interface {
	Kind() OrderKind
	OrderIndex() int64
	isOrder()
}

// IncreaseOrder is a pending limit order that opens or grows a position.
type IncreaseOrder struct {
	Account               common.Address
	Index                 int64
	PurchaseToken         common.Address
	PurchaseTokenAmount   fpmath.Amount // purchase token decimals
	CollateralToken       common.Address
	IndexToken            common.Address
	SizeDelta             fpmath.Amount // USD
	IsLong                bool
	TriggerPrice          fpmath.Amount // USD
	TriggerAboveThreshold bool
	ExecutionFee          fpmath.Amount // native decimals
	CreatedAt             time.Time
}

// DecreaseOrder is a pending take-profit/stop-loss order.
type DecreaseOrder struct {
	Account               common.Address
	Index                 int64
	CollateralToken       common.Address
	CollateralDelta       fpmath.Amount // USD
	IndexToken            common.Address
	SizeDelta             fpmath.Amount // USD
	IsLong                bool
	TriggerPrice          fpmath.Amount // USD
	TriggerAboveThreshold bool
	ExecutionFee          fpmath.Amount
	CreatedAt             time.Time
}

// SwapOrder is a pending limit swap.
type SwapOrder struct {
	Account               common.Address
	Index                 int64
	Path                  []common.Address
	AmountIn              fpmath.Amount // path[0] decimals
	MinOut                fpmath.Amount // path[len-1] decimals
	TriggerRatio          fpmath.Amount // USD precision ratio
	TriggerAboveThreshold bool
	ShouldUnwrap          bool
	ExecutionFee          fpmath.Amount
	CreatedAt             time.Time
}

func (o IncreaseOrder) Kind() OrderKind   { return OrderKindIncrease }
func (o IncreaseOrder) OrderIndex() int64 { return o.Index }
func (IncreaseOrder) isOrder()            {}

func (o DecreaseOrder) Kind() OrderKind   { return OrderKindDecrease }
func (o DecreaseOrder) OrderIndex() int64 { return o.Index }
func (DecreaseOrder) isOrder()            {}

func (o SwapOrder) Kind() OrderKind   { return OrderKindSwap }
func (o SwapOrder) OrderIndex() int64 { return o.Index }
func (SwapOrder) isOrder()            {}

// RawTrade is one historical trade action as stored by the subgraph. Params
// is the action-specific JSON payload, decoded by the event normalizer.
type RawTrade struct {
	ID          string
	Action      string
	Account     common.Address
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   time.Time
	Params      json.RawMessage
}

// Page selects a window of results.
type Page struct {
	First int
	Skip  int
}
