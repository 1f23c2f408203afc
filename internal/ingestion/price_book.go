package ingestion

import (
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/observability"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceUpdate is one off-chain USD price (30 decimals) for a token.
type PriceUpdate struct {
	ChainID   int64
	Token     common.Address
	Price     fpmath.Amount
	Timestamp time.Time
}

type priceKey struct {
	chainID int64
	token   common.Address
}

// PriceBook keeps the latest feed price per token. It fills in for vault
// prices that come back as zero.
type PriceBook struct {
	mu     sync.RWMutex
	prices map[priceKey]PriceUpdate

	maxAge  time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// NewPriceBook returns a book whose prices expire after maxAge. A zero maxAge
// keeps prices forever. metrics may be nil.
func NewPriceBook(maxAge time.Duration, metrics *observability.Metrics) *PriceBook {
	return &PriceBook{
		prices:  make(map[priceKey]PriceUpdate),
		maxAge:  maxAge,
		now:     time.Now,
		metrics: metrics,
	}
}

// SetClock overrides the clock used for expiry.
func (b *PriceBook) SetClock(now func() time.Time) { b.now = now }

// Apply stores u unless a newer price is already held. It reports whether
// the book changed.
func (b *PriceBook) Apply(u PriceUpdate) bool {
	if !u.Price.IsPositive() {
		return false
	}
	k := priceKey{u.ChainID, u.Token}

	b.mu.Lock()
	cur, ok := b.prices[k]
	if ok && cur.Timestamp.After(u.Timestamp) {
		b.mu.Unlock()
		return false
	}
	b.prices[k] = u
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.PriceUpdates.WithLabelValues(strconv.FormatInt(u.ChainID, 10)).Inc()
	}
	return true
}

// LatestPrice implements state.PriceSource.
func (b *PriceBook) LatestPrice(chainID int64, token common.Address) (fpmath.Amount, bool) {
	b.mu.RLock()
	u, ok := b.prices[priceKey{chainID, token}]
	b.mu.RUnlock()
	if !ok {
		return fpmath.Amount{}, false
	}
	if b.maxAge > 0 && b.now().Sub(u.Timestamp) > b.maxAge {
		return fpmath.Amount{}, false
	}
	return u.Price, true
}

// Len is the number of tokens with a price, expired ones included.
func (b *PriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.prices)
}
