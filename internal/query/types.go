package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TradeRecord is a stored trading event.
type TradeRecord struct {
	ID          string          `json:"id"`
	ChainID     int64           `json:"chain_id"`
	Action      string          `json:"action"`
	Account     string          `json:"account"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber int64           `json:"block_number"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Tokens      []string        `json:"tokens"`
	SizeDelta   *string         `json:"size_delta,omitempty"` // USD
	Payload     json.RawMessage `json:"payload"`
}

// PreparedRecord is a stored prepared order.
type PreparedRecord struct {
	ID        uuid.UUID       `json:"id"`
	ChainID   int64           `json:"chain_id"`
	Account   string          `json:"account"`
	Method    string          `json:"method"`
	Contract  string          `json:"contract"`
	Value     string          `json:"value"`
	Call      json.RawMessage `json:"call"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActionCount is the number of stored events per action for one account.
type ActionCount struct {
	Action string    `json:"action"`
	Count  int64     `json:"count"`
	Last   time.Time `json:"last"`
}
