package persistence

import (
	"PerpDesk/internal/event"
	"PerpDesk/internal/observability"
	"PerpDesk/internal/orders"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Record is one item for the history worker. Exactly one field is set.
type Record struct {
	Event    event.TradingEvent
	Prepared *orders.Prepared
}

// BatchWriter is implemented by HistoryWriter.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []EventRow, prepared []PreparedRow) error
}

// HistoryWorker drains the history channel and batch-writes to Postgres.
// A batch is flushed when it reaches batchSize or flushTimeout passes.
type HistoryWorker struct {
	writer       BatchWriter
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

func NewHistoryWorker(
	writer BatchWriter,
	inputChan <-chan Record,
	batchSize int,
	flushTimeout time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *HistoryWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &HistoryWorker{
		writer:       writer,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		logger:       logger,
		metrics:      metrics,
	}
}

type batch struct {
	events   []EventRow
	prepared []PreparedRow
}

func (b *batch) len() int { return len(b.events) + len(b.prepared) }

func (b *batch) reset() {
	b.events = b.events[:0]
	b.prepared = b.prepared[:0]
}

// Run blocks until ctx is cancelled or the input closes, flushing what is
// buffered on the way out.
func (hw *HistoryWorker) Run(ctx context.Context) error {
	b := &batch{
		events:   make([]EventRow, 0, hw.batchSize),
		prepared: make([]PreparedRow, 0, hw.batchSize),
	}

	timer := time.NewTimer(hw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if b.len() > 0 {
				if err := hw.flush(context.Background(), b); err != nil {
					hw.logger.Error().Err(err).Int("rows", b.len()).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case rec, ok := <-hw.inputChan:
			if !ok {
				if b.len() > 0 {
					if err := hw.flush(context.Background(), b); err != nil {
						hw.logger.Error().Err(err).Int("rows", b.len()).Msg("final flush failed")
					}
				}
				return nil
			}

			hw.add(b, rec)
			if b.len() >= hw.batchSize {
				if err := hw.flushWithRetry(ctx, b); err != nil {
					hw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				b.reset()
				timer.Reset(hw.flushTimeout)
			}

		case <-timer.C:
			if b.len() > 0 {
				if err := hw.flushWithRetry(ctx, b); err != nil {
					hw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				b.reset()
			}
			timer.Reset(hw.flushTimeout)
		}
	}
}

func (hw *HistoryWorker) add(b *batch, rec Record) {
	switch {
	case rec.Event != nil:
		row, err := EventRowFrom(rec.Event)
		if err != nil {
			hw.logger.Warn().Err(err).Msg("skipping unencodable event")
			return
		}
		b.events = append(b.events, row)
	case rec.Prepared != nil:
		row, err := PreparedRowFrom(*rec.Prepared)
		if err != nil {
			hw.logger.Warn().Err(err).Msg("skipping unencodable prepared order")
			return
		}
		b.prepared = append(b.prepared, row)
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made without it.
func (hw *HistoryWorker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			hw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("rows", b.len()).Msg("history write retry")
			if hw.metrics != nil {
				hw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return hw.flush(context.Background(), b)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > hw.maxBackoff {
				backoff = hw.maxBackoff
			}
		}

		err := hw.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				hw.logger.Info().Int("retries", attempt).Msg("history flush succeeded")
			}
			return nil
		}
	}
}

func (hw *HistoryWorker) flush(ctx context.Context, b *batch) error {
	start := time.Now()
	if err := hw.writer.WriteBatch(ctx, b.events, b.prepared); err != nil {
		if hw.metrics != nil {
			stage := "write"
			var we *writeError
			if errors.As(err, &we) {
				stage = we.stage
			}
			hw.metrics.PersistErrors.WithLabelValues(stage).Inc()
		}
		return err
	}

	if hw.metrics != nil {
		hw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		hw.metrics.PersistBatchSize.Observe(float64(b.len()))
		hw.metrics.HistoryRowsWritten.Add(float64(len(b.events)))
	}
	return nil
}
