package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTriggerPrice is returned by builders whose trigger, entry or
	// liquidation price is unknown or out of range.
	ErrInvalidTriggerPrice = errors.New("invalid trigger price")
	// ErrMissingMarketData is returned when token prices or execution fees
	// could not be read.
	ErrMissingMarketData = errors.New("market data unavailable")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// OrderType is how an intent executes.
type OrderType int32

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeTrigger
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	case OrderTypeTrigger:
		return "Trigger"
	default:
		return "Unknown"
	}
}

func (t OrderType) IsMarket() bool { return t == OrderTypeMarket }

// ParseOrderType is case-insensitive.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToLower(s) {
	case "market", "":
		return OrderTypeMarket, nil
	case "limit":
		return OrderTypeLimit, nil
	case "trigger", "stop":
		return OrderTypeTrigger, nil
	}
	return OrderTypeMarket, fmt.Errorf("unknown order type %q", s)
}

// Action is what an intent does to the account's exposure.
type Action int32

const (
	ActionIncrease Action = iota
	ActionDecrease
	ActionSwap
)

func (a Action) String() string {
	switch a {
	case ActionIncrease:
		return "Increase"
	case ActionDecrease:
		return "Decrease"
	case ActionSwap:
		return "Swap"
	default:
		return "Unknown"
	}
}

func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "increase", "long", "short":
		return ActionIncrease, nil
	case "decrease", "close":
		return ActionDecrease, nil
	case "swap":
		return ActionSwap, nil
	}
	return ActionIncrease, fmt.Errorf("unknown action %q", s)
}
