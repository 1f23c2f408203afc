package ingestion

import (
	"PerpDesk/internal/event"
	"PerpDesk/internal/observability"
	"PerpDesk/internal/orders"
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamPublisher is the slice of jetstream.JetStream the publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Outbound is a message for the outbox stream. Exactly one of Prepared and
// Event is set.
type Outbound struct {
	Prepared *orders.Prepared
	Event    event.TradingEvent
}

// tradingEventJSON wraps an event with its discriminator.
type tradingEventJSON struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Action         string             `json:"action"`
	Event          event.TradingEvent `json:"event"`
}

// OutboundPublisher publishes prepared orders and normalized trading events.
// Subjects follow perpdesk.out.orders.{chainId}.{method} and
// perpdesk.out.events.{chainId}.{action}.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan Outbound
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan Outbound, logger zerolog.Logger, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{js: js, inputChan: inputChan, logger: logger, metrics: metrics}
}

// Run publishes until ctx is done or the input closes. Publish failures are
// logged and dropped; history remains the record of truth.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.Publish(ctx, msg); err != nil {
				op.logger.Warn().Err(err).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

// Publish sends one message with a JetStream message id so redeliveries
// within the duplicate window are dropped server-side.
func (op *OutboundPublisher) Publish(ctx context.Context, msg Outbound) error {
	subject, id, payload, err := encodeOutbound(msg)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if _, err := op.js.Publish(ctx, subject, data, jetstream.WithMsgID(id)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if op.metrics != nil && msg.Prepared != nil {
		op.metrics.PreparedPublished.Inc()
	}
	return nil
}

func encodeOutbound(msg Outbound) (subject, id string, payload any, err error) {
	switch {
	case msg.Prepared != nil:
		p := msg.Prepared
		return fmt.Sprintf("perpdesk.out.orders.%d.%s", p.ChainID, p.Call.Method), p.ID.String(), p, nil
	case msg.Event != nil:
		h := msg.Event.Header()
		key := msg.Event.IdempotencyKey()
		return fmt.Sprintf("perpdesk.out.events.%d.%s", h.ChainID, h.Action), key,
			tradingEventJSON{IdempotencyKey: key, Action: h.Action.String(), Event: msg.Event}, nil
	}
	return "", "", nil, fmt.Errorf("empty outbound message")
}
