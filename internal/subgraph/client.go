package subgraph

import (
	"PerpDesk/internal/chain"
	fpmath "PerpDesk/internal/math"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var ErrNoEndpoint = errors.New("no subgraph endpoint for chain")

// pageSize is the subgraph's per-query row cap.
const pageSize = 1000

// Source is the read side used by the engine. *Client implements it.
type Source interface {
	IncreaseOrders(ctx context.Context, chainID int64, account common.Address) ([]IncreaseOrder, error)
	DecreaseOrders(ctx context.Context, chainID int64, account common.Address) ([]DecreaseOrder, error)
	SwapOrders(ctx context.Context, chainID int64, account common.Address) ([]SwapOrder, error)
	Trades(ctx context.Context, chainID int64, account common.Address, page Page) ([]RawTrade, error)
}

// Client queries the protocol subgraph over HTTP.
type Client struct {
	endpoints map[int64]string
	registry  *chain.Registry
	http      *http.Client
	logger    zerolog.Logger
}

func NewClient(endpoints map[int64]string, registry *chain.Registry, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		endpoints: endpoints,
		registry:  registry,
		http:      httpClient,
		logger:    logger,
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (c *Client) query(ctx context.Context, chainID int64, query string, vars map[string]interface{}, out interface{}) error {
	url, ok := c.endpoints[chainID]
	if !ok {
		return fmt.Errorf("%w %d", ErrNoEndpoint, chainID)
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("subgraph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subgraph status %d", resp.StatusCode)
	}

	var gr graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("subgraph errors: %s", strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

const ordersQuery = `query orders($account: String!, $type: String!, $first: Int!, $skip: Int!) {
  orders(first: $first, skip: $skip, orderBy: createdTimestamp, orderDirection: desc,
         where: {account: $account, type: $type, status: "open"}) {
    id account index createdTimestamp
    purchaseToken purchaseTokenAmount collateralToken collateralDelta indexToken
    sizeDelta isLong triggerPrice triggerAboveThreshold executionFee
    path amountIn minOut triggerRatio shouldUnwrap
  }
}`

type orderJSON struct {
	ID                    string   `json:"id"`
	Account               string   `json:"account"`
	Index                 string   `json:"index"`
	CreatedTimestamp      int64    `json:"createdTimestamp"`
	PurchaseToken         string   `json:"purchaseToken"`
	PurchaseTokenAmount   string   `json:"purchaseTokenAmount"`
	CollateralToken       string   `json:"collateralToken"`
	CollateralDelta       string   `json:"collateralDelta"`
	IndexToken            string   `json:"indexToken"`
	SizeDelta             string   `json:"sizeDelta"`
	IsLong                bool     `json:"isLong"`
	TriggerPrice          string   `json:"triggerPrice"`
	TriggerAboveThreshold bool     `json:"triggerAboveThreshold"`
	ExecutionFee          string   `json:"executionFee"`
	Path                  []string `json:"path"`
	AmountIn              string   `json:"amountIn"`
	MinOut                string   `json:"minOut"`
	TriggerRatio          string   `json:"triggerRatio"`
	ShouldUnwrap          bool     `json:"shouldUnwrap"`
}

func (c *Client) openOrders(ctx context.Context, chainID int64, account common.Address, kind string) ([]orderJSON, error) {
	var all []orderJSON
	for skip := 0; ; skip += pageSize {
		var data struct {
			Orders []orderJSON `json:"orders"`
		}
		vars := map[string]interface{}{
			"account": strings.ToLower(account.Hex()),
			"type":    kind,
			"first":   pageSize,
			"skip":    skip,
		}
		if err := c.query(ctx, chainID, ordersQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("%s orders: %w", kind, err)
		}
		all = append(all, data.Orders...)
		if len(data.Orders) < pageSize {
			return all, nil
		}
	}
}

func (c *Client) IncreaseOrders(ctx context.Context, chainID int64, account common.Address) ([]IncreaseOrder, error) {
	rows, err := c.openOrders(ctx, chainID, account, "increase")
	if err != nil {
		return nil, err
	}

	out := make([]IncreaseOrder, 0, len(rows))
	for _, r := range rows {
		o, err := c.decodeIncrease(chainID, r)
		if err != nil {
			c.logger.Debug().Err(err).Str("order_id", r.ID).Msg("skip increase order")
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *Client) DecreaseOrders(ctx context.Context, chainID int64, account common.Address) ([]DecreaseOrder, error) {
	rows, err := c.openOrders(ctx, chainID, account, "decrease")
	if err != nil {
		return nil, err
	}

	out := make([]DecreaseOrder, 0, len(rows))
	for _, r := range rows {
		o, err := decodeDecrease(r)
		if err != nil {
			c.logger.Debug().Err(err).Str("order_id", r.ID).Msg("skip decrease order")
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *Client) SwapOrders(ctx context.Context, chainID int64, account common.Address) ([]SwapOrder, error) {
	rows, err := c.openOrders(ctx, chainID, account, "swap")
	if err != nil {
		return nil, err
	}

	out := make([]SwapOrder, 0, len(rows))
	for _, r := range rows {
		o, err := c.decodeSwap(chainID, r)
		if err != nil {
			c.logger.Debug().Err(err).Str("order_id", r.ID).Msg("skip swap order")
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

const tradesQuery = `query trades($account: String!, $first: Int!, $skip: Int!) {
  tradeActions(first: $first, skip: $skip, orderBy: timestamp, orderDirection: desc,
               where: {account: $account}) {
    id action account txhash blockNumber timestamp params
  }
}`

type tradeJSON struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	Account     string `json:"account"`
	TxHash      string `json:"txhash"`
	BlockNumber int64  `json:"blockNumber"`
	Timestamp   int64  `json:"timestamp"`
	Params      string `json:"params"`
}

// Trades returns one page of the account's trade history, newest first.
func (c *Client) Trades(ctx context.Context, chainID int64, account common.Address, page Page) ([]RawTrade, error) {
	if page.First <= 0 || page.First > pageSize {
		page.First = pageSize
	}

	var data struct {
		TradeActions []tradeJSON `json:"tradeActions"`
	}
	vars := map[string]interface{}{
		"account": strings.ToLower(account.Hex()),
		"first":   page.First,
		"skip":    page.Skip,
	}
	if err := c.query(ctx, chainID, tradesQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("trades: %w", err)
	}

	out := make([]RawTrade, 0, len(data.TradeActions))
	for _, t := range data.TradeActions {
		params := json.RawMessage(t.Params)
		if !json.Valid(params) {
			params = nil
		}
		out = append(out, RawTrade{
			ID:          t.ID,
			Action:      t.Action,
			Account:     common.HexToAddress(t.Account),
			TxHash:      common.HexToHash(t.TxHash),
			BlockNumber: uint64(t.BlockNumber),
			Timestamp:   time.Unix(t.Timestamp, 0).UTC(),
			Params:      params,
		})
	}
	return out, nil
}

// --- decoding ---

func parseIndex(s string) (int64, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse index %q: %w", s, err)
	}
	return i, nil
}

func usd(s string) (fpmath.Amount, error) {
	if s == "" {
		return fpmath.Zero(fpmath.USDDecimals), nil
	}
	return fpmath.ParseRaw(s, fpmath.USDDecimals)
}

func nativeFee(s string) fpmath.Amount {
	a, err := fpmath.ParseRaw(s, 18)
	if err != nil {
		return fpmath.Zero(18)
	}
	return a
}

func (c *Client) tokenAmount(chainID int64, token, raw string) (fpmath.Amount, error) {
	t, err := c.registry.Token(chainID, common.HexToAddress(token))
	if err != nil {
		return fpmath.Amount{}, err
	}
	return fpmath.ParseRaw(raw, t.Decimals)
}

func (c *Client) decodeIncrease(chainID int64, r orderJSON) (IncreaseOrder, error) {
	idx, err := parseIndex(r.Index)
	if err != nil {
		return IncreaseOrder{}, err
	}
	amount, err := c.tokenAmount(chainID, r.PurchaseToken, r.PurchaseTokenAmount)
	if err != nil {
		return IncreaseOrder{}, fmt.Errorf("purchase amount: %w", err)
	}
	size, err := usd(r.SizeDelta)
	if err != nil {
		return IncreaseOrder{}, err
	}
	trigger, err := usd(r.TriggerPrice)
	if err != nil {
		return IncreaseOrder{}, err
	}

	return IncreaseOrder{
		Account:               common.HexToAddress(r.Account),
		Index:                 idx,
		PurchaseToken:         common.HexToAddress(r.PurchaseToken),
		PurchaseTokenAmount:   amount,
		CollateralToken:       common.HexToAddress(r.CollateralToken),
		IndexToken:            common.HexToAddress(r.IndexToken),
		SizeDelta:             size,
		IsLong:                r.IsLong,
		TriggerPrice:          trigger,
		TriggerAboveThreshold: r.TriggerAboveThreshold,
		ExecutionFee:          nativeFee(r.ExecutionFee),
		CreatedAt:             time.Unix(r.CreatedTimestamp, 0).UTC(),
	}, nil
}

func decodeDecrease(r orderJSON) (DecreaseOrder, error) {
	idx, err := parseIndex(r.Index)
	if err != nil {
		return DecreaseOrder{}, err
	}
	size, err := usd(r.SizeDelta)
	if err != nil {
		return DecreaseOrder{}, err
	}
	collateral, err := usd(r.CollateralDelta)
	if err != nil {
		return DecreaseOrder{}, err
	}
	trigger, err := usd(r.TriggerPrice)
	if err != nil {
		return DecreaseOrder{}, err
	}

	return DecreaseOrder{
		Account:               common.HexToAddress(r.Account),
		Index:                 idx,
		CollateralToken:       common.HexToAddress(r.CollateralToken),
		CollateralDelta:       collateral,
		IndexToken:            common.HexToAddress(r.IndexToken),
		SizeDelta:             size,
		IsLong:                r.IsLong,
		TriggerPrice:          trigger,
		TriggerAboveThreshold: r.TriggerAboveThreshold,
		ExecutionFee:          nativeFee(r.ExecutionFee),
		CreatedAt:             time.Unix(r.CreatedTimestamp, 0).UTC(),
	}, nil
}

func (c *Client) decodeSwap(chainID int64, r orderJSON) (SwapOrder, error) {
	if len(r.Path) == 0 {
		return SwapOrder{}, errors.New("empty swap path")
	}
	idx, err := parseIndex(r.Index)
	if err != nil {
		return SwapOrder{}, err
	}
	amountIn, err := c.tokenAmount(chainID, r.Path[0], r.AmountIn)
	if err != nil {
		return SwapOrder{}, fmt.Errorf("amount in: %w", err)
	}
	minOut, err := c.tokenAmount(chainID, r.Path[len(r.Path)-1], r.MinOut)
	if err != nil {
		return SwapOrder{}, fmt.Errorf("min out: %w", err)
	}
	ratio, err := usd(r.TriggerRatio)
	if err != nil {
		return SwapOrder{}, err
	}

	path := make([]common.Address, len(r.Path))
	for i, p := range r.Path {
		path[i] = common.HexToAddress(p)
	}

	return SwapOrder{
		Account:               common.HexToAddress(r.Account),
		Index:                 idx,
		Path:                  path,
		AmountIn:              amountIn,
		MinOut:                minOut,
		TriggerRatio:          ratio,
		TriggerAboveThreshold: r.TriggerAboveThreshold,
		ShouldUnwrap:          r.ShouldUnwrap,
		ExecutionFee:          nativeFee(r.ExecutionFee),
		CreatedAt:             time.Unix(r.CreatedTimestamp, 0).UTC(),
	}, nil
}
