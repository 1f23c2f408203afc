package ingestion

import (
	"PerpDesk/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	PricesStream  = "PERPDESK_PRICES"
	PricesSubject = "perpdesk.prices.>"
	OutboxStream  = "PERPDESK_OUTBOX"
	OutboxSubject = "perpdesk.out.>"
)

// RawEvent is an undecoded message plus its acknowledgement hooks.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed
	NakFunc   func() // redeliver
	TermFunc  func() // poison, never redeliver
}

func (r RawEvent) ack() {
	if r.AckFunc != nil {
		r.AckFunc()
	}
}

func (r RawEvent) nak() {
	if r.NakFunc != nil {
		r.NakFunc()
	}
}

func (r RawEvent) term() {
	if r.TermFunc != nil {
		r.TermFunc()
		return
	}
	r.ack()
}

// PriceSubscriber feeds price messages from JetStream into a channel.
type PriceSubscriber struct {
	js       jetstream.JetStream
	out      chan<- RawEvent
	consumer string
	logger   zerolog.Logger
	consume  jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, out chan<- RawEvent, consumer string, logger zerolog.Logger) *PriceSubscriber {
	if consumer == "" {
		consumer = "perpdesk-prices"
	}
	return &PriceSubscriber{js: js, out: out, consumer: consumer, logger: logger}
}

// Subscribe creates the durable consumer. Consumers use explicit ACK,
// max_deliver=5, ack_wait=30s and start from the newest message per subject.
func (s *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PricesStream, jetstream.ConsumerConfig{
		Durable:       s.consumer,
		FilterSubject: PricesSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", s.consumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawEvent{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { _ = msg.Ack() },
			NakFunc:   func() { _ = msg.Nak() },
			TermFunc:  func() { _ = msg.Term() },
		}
		select {
		case s.out <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.consumer, err)
	}
	s.consume = cc
	s.logger.Info().Str("subject", PricesSubject).Str("consumer", s.consumer).Msg("subscribed")
	return nil
}

func (s *PriceSubscriber) Stop() {
	if s.consume != nil {
		s.consume.Stop()
	}
	s.logger.Info().Msg("price subscriber stopped")
}

// PriceIngestor applies raw price messages to a PriceBook.
type PriceIngestor struct {
	book    *PriceBook
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPriceIngestor(book *PriceBook, logger zerolog.Logger, metrics *observability.Metrics) *PriceIngestor {
	return &PriceIngestor{book: book, logger: logger, metrics: metrics}
}

// Run drains in until ctx is done or in is closed. Malformed messages are
// terminated so JetStream does not redeliver them.
func (p *PriceIngestor) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			p.handle(raw)
		}
	}
}

func (p *PriceIngestor) handle(raw RawEvent) {
	u, err := ParsePriceUpdate(raw)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("invalid price update")
		if p.metrics != nil {
			p.metrics.PriceUpdatesInvalid.Inc()
		}
		raw.term()
		return
	}
	if p.book.Apply(u) {
		p.logger.Debug().
			Int64("chain_id", u.ChainID).
			Str("token", u.Token.Hex()).
			Str("price", u.Price.String()).
			Msg("price applied")
	}
	raw.ack()
}

// EnsureStreams creates the price and outbox streams if they don't exist.
// Prices are short-lived; the outbox keeps 72h for downstream signers.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:              PricesStream,
			Subjects:          []string{PricesSubject},
			Storage:           jetstream.MemoryStorage,
			Retention:         jetstream.LimitsPolicy,
			MaxAge:            10 * time.Minute,
			MaxMsgsPerSubject: 1,
			Replicas:          1,
		},
		{
			Name:       OutboxStream,
			Subjects:   []string{OutboxSubject},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("perpdesk"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
