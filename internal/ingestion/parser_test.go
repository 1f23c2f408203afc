package ingestion_test

import (
	"PerpDesk/internal/event"
	"PerpDesk/internal/ingestion"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestParsePriceUpdate(t *testing.T) {
	raw := rawFromJSON(t, "perpdesk.prices.42161.WETH", map[string]interface{}{
		"chain_id":     42161,
		"token":        testutil.WETH.Hex(),
		"price":        "2000.125",
		"timestamp_us": int64(1_700_000_100_000_000),
	})

	u, err := ingestion.ParsePriceUpdate(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u.ChainID != 42161 {
		t.Errorf("chain: got %d, want 42161", u.ChainID)
	}
	if u.Token != testutil.WETH {
		t.Errorf("token: got %s, want %s", u.Token.Hex(), testutil.WETH.Hex())
	}
	if u.Price.String() != "2000.125" {
		t.Errorf("price: got %s, want 2000.125", u.Price)
	}
	if u.Price.Exp() != fpmath.USDDecimals {
		t.Errorf("exp: got %d, want %d", u.Price.Exp(), fpmath.USDDecimals)
	}
	if got := u.Timestamp.Unix(); got != 1_700_000_100 {
		t.Errorf("timestamp: got %d, want 1700000100", got)
	}
}

func TestParsePriceUpdateChainFromSubject(t *testing.T) {
	raw := rawFromJSON(t, "perpdesk.prices.43114.WBTC", map[string]interface{}{
		"token": testutil.WBTC.Hex(),
		"price": "30000",
	})
	u, err := ingestion.ParsePriceUpdate(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u.ChainID != 43114 {
		t.Errorf("chain: got %d, want 43114", u.ChainID)
	}
	if !u.Timestamp.Equal(raw.Timestamp) {
		t.Errorf("timestamp: got %v, want receive time %v", u.Timestamp, raw.Timestamp)
	}
}

func TestParsePriceUpdateRejects(t *testing.T) {
	cases := map[string]ingestion.RawEvent{
		"not json":       {Subject: "perpdesk.prices.1.x", Data: []byte("{")},
		"no chain":       rawFromJSON(t, "prices", map[string]interface{}{"token": testutil.WETH.Hex(), "price": "1"}),
		"bad token":      rawFromJSON(t, "perpdesk.prices.1.x", map[string]interface{}{"token": "weth", "price": "1"}),
		"bad price":      rawFromJSON(t, "perpdesk.prices.1.x", map[string]interface{}{"token": testutil.WETH.Hex(), "price": "abc"}),
		"zero price":     rawFromJSON(t, "perpdesk.prices.1.x", map[string]interface{}{"token": testutil.WETH.Hex(), "price": "0"}),
		"negative":       rawFromJSON(t, "perpdesk.prices.1.x", map[string]interface{}{"token": testutil.WETH.Hex(), "price": "-5"}),
		"bad subject id": rawFromJSON(t, "perpdesk.prices.abc.x", map[string]interface{}{"token": testutil.WETH.Hex(), "price": "1"}),
	}
	for name, raw := range cases {
		if _, err := ingestion.ParsePriceUpdate(raw); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestPriceBook(t *testing.T) {
	book := ingestion.NewPriceBook(time.Minute, nil)
	now := time.Unix(1_700_000_000, 0)
	book.SetClock(func() time.Time { return now })

	if _, ok := book.LatestPrice(testutil.ChainID, testutil.WETH); ok {
		t.Fatal("empty book returned a price")
	}

	book.Apply(ingestion.PriceUpdate{ChainID: testutil.ChainID, Token: testutil.WETH, Price: fpmath.USD(2000), Timestamp: now})
	if book.Apply(ingestion.PriceUpdate{ChainID: testutil.ChainID, Token: testutil.WETH, Price: fpmath.USD(1900), Timestamp: now.Add(-time.Second)}) {
		t.Error("older update replaced a newer one")
	}
	if book.Apply(ingestion.PriceUpdate{ChainID: testutil.ChainID, Token: testutil.WETH, Price: fpmath.USD(0), Timestamp: now.Add(time.Second)}) {
		t.Error("zero price was applied")
	}

	p, ok := book.LatestPrice(testutil.ChainID, testutil.WETH)
	if !ok || p.String() != "2000" {
		t.Errorf("price: got %s (%v), want 2000", p, ok)
	}
	if _, ok := book.LatestPrice(1, testutil.WETH); ok {
		t.Error("price leaked across chains")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := book.LatestPrice(testutil.ChainID, testutil.WETH); ok {
		t.Error("expired price still served")
	}
	if book.Len() != 1 {
		t.Errorf("len: got %d, want 1", book.Len())
	}
}

func TestPriceIngestorAcksAndTerminates(t *testing.T) {
	book := ingestion.NewPriceBook(0, nil)
	ing := ingestion.NewPriceIngestor(book, zerolog.Nop(), nil)

	var acked, termed int
	good := rawFromJSON(t, "perpdesk.prices.42161.WETH", map[string]interface{}{"token": testutil.WETH.Hex(), "price": "2001"})
	good.AckFunc = func() { acked++ }
	bad := ingestion.RawEvent{Subject: "perpdesk.prices.42161.WETH", Data: []byte("nope")}
	bad.AckFunc = func() { acked++ }
	bad.TermFunc = func() { termed++ }

	in := make(chan ingestion.RawEvent, 2)
	in <- good
	in <- bad
	close(in)

	if err := ing.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if acked != 1 || termed != 1 {
		t.Errorf("acked=%d termed=%d, want 1 and 1", acked, termed)
	}
	if p, ok := book.LatestPrice(testutil.ChainID, testutil.WETH); !ok || p.String() != "2001" {
		t.Errorf("price: got %s (%v), want 2001", p, ok)
	}
}

func TestAdminInjectPrice(t *testing.T) {
	ch := make(chan ingestion.RawEvent, 1)
	svc := ingestion.NewAdminIngestService(ch)

	if err := svc.InjectPrice(context.Background(), testutil.ChainID, testutil.WBTC, "not-a-price"); err == nil {
		t.Error("expected invalid price error")
	}
	if err := svc.InjectPrice(context.Background(), testutil.ChainID, testutil.WBTC, "30500.5"); err != nil {
		t.Fatalf("inject: %v", err)
	}
	u, err := ingestion.ParsePriceUpdate(<-ch)
	if err != nil {
		t.Fatalf("parse injected: %v", err)
	}
	if u.Token != testutil.WBTC || u.Price.String() != "30500.5" {
		t.Errorf("got %s %s, want WBTC 30500.5", u.Token.Hex(), u.Price)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	full := make(chan ingestion.RawEvent)
	if err := ingestion.NewAdminIngestService(full).InjectPrice(ctx, testutil.ChainID, testutil.WBTC, "1"); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

type fakeStream struct {
	subjects []string
	data     [][]byte
	err      error
}

func (f *fakeStream) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.data = append(f.data, data)
	return &jetstream.PubAck{Stream: ingestion.OutboxStream}, nil
}

func TestOutboundPublisherSubjects(t *testing.T) {
	js := &fakeStream{}
	in := make(chan ingestion.Outbound, 2)
	pub := ingestion.NewOutboundPublisher(js, in, zerolog.Nop(), nil)

	prepared := orders.Prepared{
		ID:      uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		ChainID: testutil.ChainID,
		Account: testutil.Account,
		Call:    orders.Built{Method: orders.MethodCreateDecreaseOrder},
	}
	in <- ingestion.Outbound{Prepared: &prepared}
	in <- ingestion.Outbound{Event: event.SwapEvent{Meta: event.Meta{ID: "t1", ChainID: testutil.ChainID, Action: event.ActionSwap}}}
	close(in)

	if err := pub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"perpdesk.out.orders.42161.createDecreaseOrder", "perpdesk.out.events.42161.Swap"}
	if strings.Join(js.subjects, ",") != strings.Join(want, ",") {
		t.Errorf("subjects: got %v, want %v", js.subjects, want)
	}
	if !strings.Contains(string(js.data[1]), `"idempotency_key":"42161:t1"`) {
		t.Errorf("event payload missing key: %s", js.data[1])
	}

	if err := pub.Publish(context.Background(), ingestion.Outbound{}); err == nil {
		t.Error("expected error for empty message")
	}
	js.err = errors.New("no responders")
	if err := pub.Publish(context.Background(), ingestion.Outbound{Prepared: &prepared}); err == nil {
		t.Error("expected publish error")
	}
}
