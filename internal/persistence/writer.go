package persistence

import (
	"PerpDesk/internal/event"
	"PerpDesk/internal/orders"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventRow is a row in history.trading_events.
type EventRow struct {
	ID          string
	ChainID     int64
	Action      string
	Account     string
	TxHash      string
	BlockNumber int64
	OccurredAt  time.Time
	Tokens      []string
	SizeDelta   sql.NullString // USD decimal
	Payload     []byte
}

// PreparedRow is a row in history.prepared_orders.
type PreparedRow struct {
	ID        string
	ChainID   int64
	Account   string
	Method    string
	Contract  string
	Value     string // native token decimal
	Payload   []byte
	CreatedAt time.Time
}

// EventRowFrom flattens ev for storage. Tokens lists every address the
// event touches so history can be filtered by market.
func EventRowFrom(ev event.TradingEvent) (EventRow, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal %s: %w", ev.IdempotencyKey(), err)
	}
	h := ev.Header()
	row := EventRow{
		ID:          ev.IdempotencyKey(),
		ChainID:     h.ChainID,
		Action:      h.Action.String(),
		Account:     strings.ToLower(h.Account.Hex()),
		TxHash:      h.TxHash.Hex(),
		BlockNumber: int64(h.BlockNumber),
		OccurredAt:  h.Timestamp.UTC(),
		Payload:     payload,
	}

	var tokens []common.Address
	switch e := ev.(type) {
	case event.PositionEvent:
		tokens = []common.Address{e.CollateralToken, e.IndexToken}
		row.SizeDelta = nullDecimal(e.SizeDelta.IsSet(), e.SizeDelta.String())
	case event.LiquidationEvent:
		tokens = []common.Address{e.CollateralToken, e.IndexToken}
		row.SizeDelta = nullDecimal(e.Size.IsSet(), e.Size.String())
	case event.SwapEvent:
		tokens = []common.Address{e.TokenIn, e.TokenOut}
	case event.OrderEvent:
		tokens = append(append(tokens, e.Path...), e.CollateralToken, e.IndexToken)
		row.SizeDelta = nullDecimal(e.SizeDelta.IsSet(), e.SizeDelta.String())
	case event.PositionRequestEvent:
		tokens = append(append(tokens, e.Path...), e.IndexToken)
		row.SizeDelta = nullDecimal(e.SizeDelta.IsSet(), e.SizeDelta.String())
	}
	row.Tokens = dedupeAddresses(tokens)
	return row, nil
}

// PreparedRowFrom flattens a prepared order for storage.
func PreparedRowFrom(p orders.Prepared) (PreparedRow, error) {
	payload, err := json.Marshal(p.Call)
	if err != nil {
		return PreparedRow{}, fmt.Errorf("marshal prepared %s: %w", p.ID, err)
	}
	value := "0"
	if p.Call.Override.Value.IsSet() {
		value = p.Call.Override.Value.String()
	}
	return PreparedRow{
		ID:        p.ID.String(),
		ChainID:   p.ChainID,
		Account:   strings.ToLower(p.Account.Hex()),
		Method:    p.Call.Method,
		Contract:  strings.ToLower(p.Call.Contract.Hex()),
		Value:     value,
		Payload:   payload,
		CreatedAt: p.CreatedAt,
	}, nil
}

func nullDecimal(ok bool, s string) sql.NullString {
	return sql.NullString{String: s, Valid: ok}
}

func dedupeAddresses(addrs []common.Address) []string {
	seen := make(map[common.Address]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, strings.ToLower(a.Hex()))
	}
	return out
}

// HistoryWriter writes trade history to Postgres using multi-row INSERTs.
// Rows are keyed, so replays are no-ops.
type HistoryWriter struct {
	db *sql.DB
}

func NewHistoryWriter(db *sql.DB) *HistoryWriter {
	return &HistoryWriter{db: db}
}

// WriteBatch writes both row kinds in one transaction.
func (w *HistoryWriter) WriteBatch(ctx context.Context, events []EventRow, prepared []PreparedRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return &writeError{stage: "tx_begin", err: err}
	}
	defer tx.Rollback()

	if err := WriteEventBatch(ctx, tx, events); err != nil {
		return &writeError{stage: "write_events", err: err}
	}
	if err := WritePreparedBatch(ctx, tx, prepared); err != nil {
		return &writeError{stage: "write_prepared", err: err}
	}
	if err := tx.Commit(); err != nil {
		return &writeError{stage: "tx_commit", err: err}
	}
	return nil
}

// Existing returns which of ids are already stored.
func (w *HistoryWriter) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	rows, err := w.db.QueryContext(ctx,
		`SELECT id FROM history.trading_events WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// WriteEventBatch inserts events, skipping ids that already exist.
func WriteEventBatch(ctx context.Context, db execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	const cols = 10
	args := make([]any, 0, len(events)*cols)
	for _, e := range events {
		args = append(args,
			e.ID, e.ChainID, e.Action, e.Account, e.TxHash, e.BlockNumber,
			e.OccurredAt, pq.Array(e.Tokens), e.SizeDelta, e.Payload,
		)
	}
	query := `INSERT INTO history.trading_events
		(id, chain_id, action, account, tx_hash, block_number, occurred_at, tokens, size_delta, payload)
		VALUES ` + placeholders(len(events), cols) + ` ON CONFLICT (id) DO NOTHING`

	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// WritePreparedBatch inserts prepared orders, skipping ids that already exist.
func WritePreparedBatch(ctx context.Context, db execer, prepared []PreparedRow) error {
	if len(prepared) == 0 {
		return nil
	}
	const cols = 8
	args := make([]any, 0, len(prepared)*cols)
	for _, p := range prepared {
		args = append(args,
			p.ID, p.ChainID, p.Account, p.Method, p.Contract, p.Value, p.Payload, p.CreatedAt,
		)
	}
	query := `INSERT INTO history.prepared_orders
		(id, chain_id, account, method, contract, value, payload, created_at)
		VALUES ` + placeholders(len(prepared), cols) + ` ON CONFLICT (id) DO NOTHING`

	_, err := db.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($1, $2), ($3, $4)" for rows x cols.
func placeholders(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

type writeError struct {
	stage string
	err   error
}

func (e *writeError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }
