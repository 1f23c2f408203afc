package orders

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Prepared is a built call handed to a signer. ID deduplicates
// republishing and keys the history row.
type Prepared struct {
	ID        uuid.UUID      `json:"id"`
	ChainID   int64          `json:"chain_id"`
	Account   common.Address `json:"account"`
	Call      Built          `json:"call"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewPrepared(chainID int64, account common.Address, call Built, now time.Time) Prepared {
	return Prepared{
		ID:        uuid.New(),
		ChainID:   chainID,
		Account:   account,
		Call:      call,
		CreatedAt: now.UTC(),
	}
}
