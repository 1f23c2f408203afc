package ingestion_test

import (
	"PerpDesk/internal/ingestion"
	"PerpDesk/internal/observability"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRunCountsDrops(t *testing.T) {
	stream := &fakeStream{err: errors.New("nats: timeout")}
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	in := make(chan ingestion.Outbound, 2)
	pub := ingestion.NewOutboundPublisher(stream, in, zerolog.Nop(), metrics)

	prepared := orders.NewPrepared(testutil.ChainID, testutil.Account, orders.Built{Method: orders.MethodCreateIncreaseOrder}, time.Now())
	in <- ingestion.Outbound{Prepared: &prepared}
	in <- ingestion.Outbound{Prepared: &prepared}
	close(in)

	require.NoError(t, pub.Run(context.Background()))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.PublishDrops))
}

func TestOutboxIntegration(t *testing.T) {
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))

	pub := ingestion.NewOutboundPublisher(js, nil, zerolog.Nop(), nil)
	prepared := orders.NewPrepared(testutil.ChainID, testutil.Account, orders.Built{Method: orders.MethodCreateIncreaseOrder}, time.Now())
	subject := "perpdesk.out.orders.42161." + orders.MethodCreateIncreaseOrder

	// same message id twice; the stream keeps one copy
	require.NoError(t, pub.Publish(ctx, ingestion.Outbound{Prepared: &prepared}))
	require.NoError(t, pub.Publish(ctx, ingestion.Outbound{Prepared: &prepared}))

	stream, err := js.Stream(ctx, ingestion.OutboxStream)
	require.NoError(t, err)
	msg, err := stream.GetLastMsgForSubject(ctx, subject)
	require.NoError(t, err)

	var got struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, prepared.ID, got.ID)
	assert.NotEqual(t, uuid.Nil, got.ID)
}
