package subgraph_test

import (
	"PerpDesk/internal/subgraph"
	"PerpDesk/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func newClient(t *testing.T, handler func(req gqlRequest) string) *subgraph.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(req)))
	}))
	t.Cleanup(srv.Close)

	endpoints := map[int64]string{testutil.ChainID: srv.URL}
	return subgraph.NewClient(endpoints, testutil.Registry(t), srv.Client(), zerolog.Nop())
}

func TestDecreaseOrders(t *testing.T) {
	c := newClient(t, func(req gqlRequest) string {
		if req.Variables["type"] != "decrease" {
			t.Errorf("got type %v, want decrease", req.Variables["type"])
		}
		if got := req.Variables["account"]; got != strings.ToLower(testutil.Account.Hex()) {
			t.Errorf("got account %v, want lowercase hex", got)
		}
		return `{"data":{"orders":[{
			"id":"1","account":"0x00000000000000000000000000000000000000aa","index":"7",
			"createdTimestamp":1700000000,
			"collateralToken":"0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
			"indexToken":"0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
			"sizeDelta":"500000000000000000000000000000000","collateralDelta":"0",
			"isLong":true,"triggerPrice":"2500000000000000000000000000000000",
			"triggerAboveThreshold":true,"executionFee":"300000000000000"}]}}`
	})

	got, err := c.DecreaseOrders(context.Background(), testutil.ChainID, testutil.Account)
	if err != nil {
		t.Fatalf("DecreaseOrders: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d orders, want 1", len(got))
	}
	o := got[0]
	if o.Index != 7 {
		t.Errorf("got index %d, want 7", o.Index)
	}
	if o.SizeDelta.String() != "500" {
		t.Errorf("got size %s, want 500", o.SizeDelta)
	}
	if o.TriggerPrice.String() != "2500" {
		t.Errorf("got trigger %s, want 2500", o.TriggerPrice)
	}
	if o.ExecutionFee.String() != "0.0003" {
		t.Errorf("got fee %s, want 0.0003", o.ExecutionFee)
	}
	if o.IndexToken != testutil.WETH || !o.IsLong || !o.TriggerAboveThreshold {
		t.Errorf("unexpected order %+v", o)
	}
	if o.Kind() != subgraph.OrderKindDecrease {
		t.Errorf("got kind %s, want Decrease", o.Kind())
	}
}

func TestIncreaseOrdersSkipUnknownTokens(t *testing.T) {
	c := newClient(t, func(req gqlRequest) string {
		return `{"data":{"orders":[
			{"id":"1","index":"1","purchaseToken":"0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8",
			 "purchaseTokenAmount":"1500000","sizeDelta":"0","triggerPrice":"0"},
			{"id":"2","index":"2","purchaseToken":"0x00000000000000000000000000000000000000ff",
			 "purchaseTokenAmount":"1","sizeDelta":"0","triggerPrice":"0"}]}}`
	})

	got, err := c.IncreaseOrders(context.Background(), testutil.ChainID, testutil.Account)
	if err != nil {
		t.Fatalf("IncreaseOrders: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d orders, want 1", len(got))
	}
	if got[0].PurchaseTokenAmount.String() != "1.5" {
		t.Errorf("got amount %s, want 1.5 at USDC decimals", got[0].PurchaseTokenAmount)
	}
}

func TestSwapOrders(t *testing.T) {
	c := newClient(t, func(req gqlRequest) string {
		return `{"data":{"orders":[{"id":"1","index":"3",
			"path":["0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8","0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f"],
			"amountIn":"1000000000","minOut":"3000000","triggerRatio":"0","shouldUnwrap":false}]}}`
	})

	got, err := c.SwapOrders(context.Background(), testutil.ChainID, testutil.Account)
	if err != nil {
		t.Fatalf("SwapOrders: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d orders, want 1", len(got))
	}
	if got[0].AmountIn.String() != "1000" {
		t.Errorf("got amount in %s, want 1000", got[0].AmountIn)
	}
	if got[0].MinOut.String() != "0.03" {
		t.Errorf("got min out %s, want 0.03", got[0].MinOut)
	}
}

func TestOrdersPaginate(t *testing.T) {
	calls := 0
	c := newClient(t, func(req gqlRequest) string {
		calls++
		if skip := req.Variables["skip"].(float64); skip > 0 {
			return `{"data":{"orders":[]}}`
		}
		rows := make([]string, 1000)
		for i := range rows {
			rows[i] = `{"id":"x","index":"1","sizeDelta":"0","triggerPrice":"0","collateralDelta":"0"}`
		}
		return `{"data":{"orders":[` + strings.Join(rows, ",") + `]}}`
	})

	got, err := c.DecreaseOrders(context.Background(), testutil.ChainID, testutil.Account)
	if err != nil {
		t.Fatalf("DecreaseOrders: %v", err)
	}
	if len(got) != 1000 {
		t.Errorf("got %d orders, want 1000", len(got))
	}
	if calls != 2 {
		t.Errorf("got %d requests, want 2", calls)
	}
}

func TestTrades(t *testing.T) {
	c := newClient(t, func(req gqlRequest) string {
		if req.Variables["first"].(float64) != 50 {
			t.Errorf("got first %v, want 50", req.Variables["first"])
		}
		return `{"data":{"tradeActions":[
			{"id":"a","action":"IncreasePosition-Long","account":"0x00000000000000000000000000000000000000aa",
			 "txhash":"0x01","blockNumber":12,"timestamp":1700000000,"params":"{\"sizeDelta\":\"1\"}"},
			{"id":"b","action":"Swap","account":"0x00000000000000000000000000000000000000aa",
			 "txhash":"0x02","blockNumber":13,"timestamp":1700000001,"params":"not json"}]}}`
	})

	got, err := c.Trades(context.Background(), testutil.ChainID, testutil.Account, subgraph.Page{First: 50})
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d trades, want 2", len(got))
	}
	if string(got[0].Params) != `{"sizeDelta":"1"}` {
		t.Errorf("got params %s", got[0].Params)
	}
	if got[1].Params != nil {
		t.Errorf("got params %s, want nil for invalid JSON", got[1].Params)
	}
	if got[0].BlockNumber != 12 || got[0].Timestamp.Unix() != 1_700_000_000 {
		t.Errorf("unexpected trade %+v", got[0])
	}
}

func TestQueryErrors(t *testing.T) {
	c := newClient(t, func(req gqlRequest) string {
		return `{"errors":[{"message":"indexing error"}]}`
	})
	_, err := c.SwapOrders(context.Background(), testutil.ChainID, testutil.Account)
	if err == nil || !strings.Contains(err.Error(), "indexing error") {
		t.Errorf("got %v, want subgraph error", err)
	}

	_, err = c.SwapOrders(context.Background(), 1, testutil.Account)
	if !errors.Is(err, subgraph.ErrNoEndpoint) {
		t.Errorf("got %v, want ErrNoEndpoint", err)
	}
}
