package ingestion

import (
	"PerpDesk/internal/chain"
	fpmath "PerpDesk/internal/math"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPrice marks a price update that can never be applied.
var ErrInvalidPrice = errors.New("invalid price update")

// priceUpdateJSON is the feed's wire format. Price is a decimal USD string;
// chain_id may be omitted when the subject carries it
// (perpdesk.prices.<chainId>.<token>).
type priceUpdateJSON struct {
	ChainID     int64  `json:"chain_id"`
	Token       string `json:"token"`
	Price       string `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate decodes a price message. The receive time stands in for
// a missing timestamp.
func ParsePriceUpdate(raw RawEvent) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price update: %w", err)
	}

	chainID := j.ChainID
	if chainID == 0 {
		id, err := chainFromSubject(raw.Subject)
		if err != nil {
			return PriceUpdate{}, err
		}
		chainID = id
	}

	token, err := chain.ParseAddress(j.Token)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("parse token: %w", err)
	}

	price, err := fpmath.Parse(j.Price, fpmath.USDDecimals)
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return PriceUpdate{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidPrice, j.Price)
	}

	ts := raw.Timestamp
	if j.TimestampUs > 0 {
		ts = time.UnixMicro(j.TimestampUs).UTC()
	}

	return PriceUpdate{
		ChainID:   chainID,
		Token:     token,
		Price:     price,
		Timestamp: ts,
	}, nil
}

func chainFromSubject(subject string) (int64, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0] != "perpdesk" || parts[1] != "prices" {
		return 0, fmt.Errorf("no chain id in payload or subject %q", subject)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chain id in subject %q", subject)
	}
	return id, nil
}
