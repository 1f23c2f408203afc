package event

import (
	"PerpDesk/internal/subgraph"
	"fmt"
)

// Action discriminates historical trading events.
type Action int32

const (
	ActionUnknown Action = iota

	ActionIncreasePositionLong
	ActionIncreasePositionShort
	ActionDecreasePositionLong
	ActionDecreasePositionShort
	ActionLiquidatePositionLong
	ActionLiquidatePositionShort

	ActionSwap
	ActionBuyUSDG
	ActionSellUSDG

	ActionCreateIncreaseOrder
	ActionUpdateIncreaseOrder
	ActionCancelIncreaseOrder
	ActionExecuteIncreaseOrder
	ActionCreateDecreaseOrder
	ActionUpdateDecreaseOrder
	ActionCancelDecreaseOrder
	ActionExecuteDecreaseOrder
	ActionCreateSwapOrder
	ActionUpdateSwapOrder
	ActionCancelSwapOrder
	ActionExecuteSwapOrder

	ActionCreateIncreasePosition
	ActionCancelIncreasePosition
	ActionCreateDecreasePosition
	ActionCancelDecreasePosition
)

// actionNames are the subgraph's action identifiers.
var actionNames = [...]string{
	ActionUnknown:                "Unknown",
	ActionIncreasePositionLong:   "IncreasePosition-Long",
	ActionIncreasePositionShort:  "IncreasePosition-Short",
	ActionDecreasePositionLong:   "DecreasePosition-Long",
	ActionDecreasePositionShort:  "DecreasePosition-Short",
	ActionLiquidatePositionLong:  "LiquidatePosition-Long",
	ActionLiquidatePositionShort: "LiquidatePosition-Short",
	ActionSwap:                   "Swap",
	ActionBuyUSDG:                "BuyUSDG",
	ActionSellUSDG:               "SellUSDG",
	ActionCreateIncreaseOrder:    "CreateIncreaseOrder",
	ActionUpdateIncreaseOrder:    "UpdateIncreaseOrder",
	ActionCancelIncreaseOrder:    "CancelIncreaseOrder",
	ActionExecuteIncreaseOrder:   "ExecuteIncreaseOrder",
	ActionCreateDecreaseOrder:    "CreateDecreaseOrder",
	ActionUpdateDecreaseOrder:    "UpdateDecreaseOrder",
	ActionCancelDecreaseOrder:    "CancelDecreaseOrder",
	ActionExecuteDecreaseOrder:   "ExecuteDecreaseOrder",
	ActionCreateSwapOrder:        "CreateSwapOrder",
	ActionUpdateSwapOrder:        "UpdateSwapOrder",
	ActionCancelSwapOrder:        "CancelSwapOrder",
	ActionExecuteSwapOrder:       "ExecuteSwapOrder",
	ActionCreateIncreasePosition: "CreateIncreasePosition",
	ActionCancelIncreasePosition: "CancelIncreasePosition",
	ActionCreateDecreasePosition: "CreateDecreasePosition",
	ActionCancelDecreasePosition: "CancelDecreasePosition",
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, len(actionNames))
	for a, name := range actionNames {
		m[name] = Action(a)
	}
	return m
}()

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "Unknown"
	}
	return actionNames[a]
}

// ParseAction maps a subgraph action name to its Action.
func ParseAction(s string) (Action, error) {
	a, ok := actionsByName[s]
	if !ok || a == ActionUnknown {
		return ActionUnknown, fmt.Errorf("unknown trade action %q", s)
	}
	return a, nil
}

// IsLong reports the direction encoded in position and liquidation actions.
func (a Action) IsLong() bool {
	switch a {
	case ActionIncreasePositionLong, ActionDecreasePositionLong, ActionLiquidatePositionLong:
		return true
	}
	return false
}

// OrderKind is the order book the action touches, or OrderKindUnknown.
func (a Action) OrderKind() subgraph.OrderKind {
	switch a {
	case ActionCreateIncreaseOrder, ActionUpdateIncreaseOrder, ActionCancelIncreaseOrder, ActionExecuteIncreaseOrder:
		return subgraph.OrderKindIncrease
	case ActionCreateDecreaseOrder, ActionUpdateDecreaseOrder, ActionCancelDecreaseOrder, ActionExecuteDecreaseOrder:
		return subgraph.OrderKindDecrease
	case ActionCreateSwapOrder, ActionUpdateSwapOrder, ActionCancelSwapOrder, ActionExecuteSwapOrder:
		return subgraph.OrderKindSwap
	}
	return subgraph.OrderKindUnknown
}
