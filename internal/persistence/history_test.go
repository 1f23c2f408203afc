package persistence_test

import (
	"PerpDesk/internal/event"
	fpmath "PerpDesk/internal/math"
	"PerpDesk/internal/orders"
	"PerpDesk/internal/persistence"
	"PerpDesk/internal/testutil"
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func positionEvent(id string) event.PositionEvent {
	return event.PositionEvent{
		Meta: event.Meta{
			ID:          id,
			ChainID:     testutil.ChainID,
			Action:      event.ActionIncreasePositionLong,
			Account:     testutil.Account,
			BlockNumber: 7,
			Timestamp:   time.Unix(1_700_000_000, 0),
		},
		CollateralToken: testutil.WETH,
		IndexToken:      testutil.WETH,
		IsLong:          true,
		SizeDelta:       fpmath.USD(2000),
	}
}

func TestEventRowFrom(t *testing.T) {
	row, err := persistence.EventRowFrom(positionEvent("abc"))
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.ID != "42161:abc" {
		t.Errorf("id: got %s, want 42161:abc", row.ID)
	}
	if row.Action != "IncreasePosition-Long" {
		t.Errorf("action: got %s, want IncreasePosition-Long", row.Action)
	}
	if len(row.Tokens) != 1 || row.Tokens[0] != strings.ToLower(testutil.WETH.Hex()) {
		t.Errorf("tokens: got %v, want [weth]", row.Tokens)
	}
	if !row.SizeDelta.Valid || row.SizeDelta.String != "2000" {
		t.Errorf("size delta: got %+v, want 2000", row.SizeDelta)
	}
	if !strings.Contains(string(row.Payload), `"SizeDelta":"2000"`) {
		t.Errorf("payload missing size: %s", row.Payload)
	}

	swap, err := persistence.EventRowFrom(event.SwapEvent{
		Meta:    event.Meta{ID: "s", ChainID: testutil.ChainID, Action: event.ActionSwap},
		TokenIn: testutil.USDC, TokenOut: testutil.WETH,
	})
	if err != nil {
		t.Fatalf("swap row: %v", err)
	}
	if swap.SizeDelta.Valid {
		t.Error("swap rows carry no size")
	}
	if len(swap.Tokens) != 2 {
		t.Errorf("tokens: got %v, want 2", swap.Tokens)
	}
}

func TestPreparedRowFrom(t *testing.T) {
	p := orders.Prepared{
		ID:      uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		ChainID: testutil.ChainID,
		Account: testutil.Account,
		Call: orders.Built{
			Method:   orders.MethodCreateIncreasePositionETH,
			Override: orders.Override{Value: fpmath.MustParse("1.0004", 18)},
		},
	}
	row, err := persistence.PreparedRowFrom(p)
	if err != nil {
		t.Fatalf("row: %v", err)
	}
	if row.Value != "1.0004" {
		t.Errorf("value: got %s, want 1.0004", row.Value)
	}
	if row.Method != "createIncreasePositionETH" {
		t.Errorf("method: got %s", row.Method)
	}
}

type captureExec struct {
	query string
	args  []any
}

func (c *captureExec) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.query, c.args = query, args
	return nil, nil
}

func TestWriteEventBatchPlaceholders(t *testing.T) {
	a, _ := persistence.EventRowFrom(positionEvent("a"))
	b, _ := persistence.EventRowFrom(positionEvent("b"))

	var c captureExec
	if err := persistence.WriteEventBatch(context.Background(), &c, []persistence.EventRow{a, b}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(c.args) != 20 {
		t.Errorf("args: got %d, want 20", len(c.args))
	}
	if !strings.Contains(c.query, "($11, $12, $13, $14, $15, $16, $17, $18, $19, $20)") {
		t.Errorf("second row placeholders missing: %s", c.query)
	}
	if !strings.HasSuffix(c.query, "ON CONFLICT (id) DO NOTHING") {
		t.Errorf("writes must be idempotent: %s", c.query)
	}

	c = captureExec{}
	if err := persistence.WritePreparedBatch(context.Background(), &c, nil); err != nil || c.query != "" {
		t.Errorf("empty batch should not hit the database")
	}
}

func TestPendingMigrations(t *testing.T) {
	files := fstest.MapFS{
		"000002_more.up.sql":            {Data: []byte("SELECT 2")},
		"000001_trade_history.up.sql":   {Data: []byte("SELECT 1")},
		"000001_trade_history.down.sql": {Data: []byte("SELECT 0")},
		"README.md":                     {Data: []byte("x")},
	}
	got, err := persistence.Pending(files, nil)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if strings.Join(got, ",") != "000001_trade_history.up.sql,000002_more.up.sql" {
		t.Errorf("got %v", got)
	}

	got, _ = persistence.Pending(files, map[string]bool{"000001": true})
	if len(got) != 1 || got[0] != "000002_more.up.sql" {
		t.Errorf("got %v, want only 000002", got)
	}
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]string
	fail    int
}

func (f *fakeWriter) WriteBatch(ctx context.Context, events []persistence.EventRow, prepared []persistence.PreparedRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("connection refused")
	}
	var ids []string
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	for _, p := range prepared {
		ids = append(ids, p.ID)
	}
	f.batches = append(f.batches, ids)
	return nil
}

func TestHistoryWorkerBatchesBySize(t *testing.T) {
	w := &fakeWriter{fail: 1}
	in := make(chan persistence.Record, 5)
	worker := persistence.NewHistoryWorker(w, in, 2, time.Hour, zerolog.Nop(), nil)

	prepared := orders.Prepared{ID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"), Call: orders.Built{Method: "m"}}
	in <- persistence.Record{Event: positionEvent("1")}
	in <- persistence.Record{Prepared: &prepared}
	in <- persistence.Record{Event: positionEvent("2")}
	close(in)

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(w.batches) != 2 {
		t.Fatalf("batches: got %d, want 2", len(w.batches))
	}
	if strings.Join(w.batches[0], ",") != "42161:1,550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("first batch: got %v", w.batches[0])
	}
	if strings.Join(w.batches[1], ",") != "42161:2" {
		t.Errorf("final flush: got %v", w.batches[1])
	}
}

func TestHistoryWorkerFlushesOnTimeout(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan persistence.Record)
	worker := persistence.NewHistoryWorker(w, in, 100, 10*time.Millisecond, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- worker.Run(ctx) }()

	in <- persistence.Record{Event: positionEvent("t")}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		n := len(w.batches)
		w.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run: got %v, want context.Canceled", err)
	}
	if len(w.batches) != 1 {
		t.Errorf("batches: got %d, want 1", len(w.batches))
	}
}
