package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var ErrNotFound = errors.New("not found")

// HistoryService provides read-only access to the trade history tables.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

// TradeFilter selects trading events for one account, newest first. Before
// is an exclusive cursor on occurred_at.
type TradeFilter struct {
	ChainID int64
	Account common.Address
	Token   *common.Address
	Actions []string
	Before  *time.Time
	Limit   int
}

// SQL renders the filter as a query and its arguments.
func (f TradeFilter) SQL() (string, []any) {
	query := `
		SELECT id, chain_id, action, account, tx_hash, block_number, occurred_at,
		       tokens, size_delta::TEXT, payload
		FROM history.trading_events
		WHERE chain_id = $1 AND account = $2
	`
	args := []any{f.ChainID, strings.ToLower(f.Account.Hex())}
	argIdx := 3

	if f.Token != nil {
		query += fmt.Sprintf(" AND tokens @> $%d", argIdx)
		args = append(args, pq.Array([]string{strings.ToLower(f.Token.Hex())}))
		argIdx++
	}
	if len(f.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argIdx)
		args = append(args, pq.Array(f.Actions))
		argIdx++
	}
	if f.Before != nil {
		query += fmt.Sprintf(" AND occurred_at < $%d", argIdx)
		args = append(args, f.Before.UTC())
		argIdx++
	}

	query += " ORDER BY occurred_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(f.Limit))
	return query, args
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

// ListTrades returns the account's trade history.
func (hs *HistoryService) ListTrades(ctx context.Context, f TradeFilter) ([]TradeRecord, error) {
	query, args := f.SQL()
	rows, err := hs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		var size sql.NullString
		var payload []byte
		if err := rows.Scan(
			&r.ID, &r.ChainID, &r.Action, &r.Account, &r.TxHash, &r.BlockNumber,
			&r.OccurredAt, pq.Array(&r.Tokens), &size, &payload,
		); err != nil {
			return nil, err
		}
		if size.Valid {
			r.SizeDelta = &size.String
		}
		r.Payload = payload
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPrepared returns the account's prepared orders, newest first.
func (hs *HistoryService) ListPrepared(ctx context.Context, chainID int64, account common.Address, limit int) ([]PreparedRecord, error) {
	rows, err := hs.db.QueryContext(ctx, `
		SELECT id, chain_id, account, method, contract, value::TEXT, payload, created_at
		FROM history.prepared_orders
		WHERE chain_id = $1 AND account = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, chainID, strings.ToLower(account.Hex()), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PreparedRecord
	for rows.Next() {
		r, err := scanPrepared(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetPrepared returns one prepared order or ErrNotFound.
func (hs *HistoryService) GetPrepared(ctx context.Context, id uuid.UUID) (*PreparedRecord, error) {
	row := hs.db.QueryRowContext(ctx, `
		SELECT id, chain_id, account, method, contract, value::TEXT, payload, created_at
		FROM history.prepared_orders
		WHERE id = $1
	`, id)
	r, err := scanPrepared(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prepared order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ActionCounts summarizes the account's history per action.
func (hs *HistoryService) ActionCounts(ctx context.Context, chainID int64, account common.Address) ([]ActionCount, error) {
	rows, err := hs.db.QueryContext(ctx, `
		SELECT action, COUNT(*), MAX(occurred_at)
		FROM history.trading_events
		WHERE chain_id = $1 AND account = $2
		GROUP BY action
		ORDER BY action
	`, chainID, strings.ToLower(account.Hex()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionCount
	for rows.Next() {
		var c ActionCount
		if err := rows.Scan(&c.Action, &c.Count, &c.Last); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPrepared(s scanner) (PreparedRecord, error) {
	var r PreparedRecord
	var payload []byte
	err := s.Scan(&r.ID, &r.ChainID, &r.Account, &r.Method, &r.Contract, &r.Value, &payload, &r.CreatedAt)
	r.Call = payload
	return r, err
}
