package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AdminIngestService injects prices by hand, for example while the feed is
// down. Injected prices take the same path as feed messages.
type AdminIngestService struct {
	eventChan chan<- RawEvent
	now       func() time.Time
}

func NewAdminIngestService(eventChan chan<- RawEvent) *AdminIngestService {
	return &AdminIngestService{eventChan: eventChan, now: time.Now}
}

// InjectPrice queues a price given as a decimal USD string.
func (s *AdminIngestService) InjectPrice(ctx context.Context, chainID int64, token common.Address, price string) error {
	if chainID <= 0 {
		return fmt.Errorf("%w: chain id must be positive", ErrInvalidPrice)
	}
	now := s.now()
	data, err := json.Marshal(priceUpdateJSON{
		ChainID:     chainID,
		Token:       token.Hex(),
		Price:       price,
		TimestampUs: now.UnixMicro(),
	})
	if err != nil {
		return fmt.Errorf("marshal price: %w", err)
	}
	// Reject here so the caller sees the error instead of a dropped message.
	raw := RawEvent{Subject: fmt.Sprintf("perpdesk.prices.%d.admin", chainID), Data: data, Timestamp: now}
	if _, err := ParsePriceUpdate(raw); err != nil {
		return err
	}

	select {
	case s.eventChan <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
