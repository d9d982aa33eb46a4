package binance

import (
	"errors"
	"net/url"
	"testing"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

func TestSnapshotURL(t *testing.T) {
	tests := []struct {
		name  string
		ex    *Exchange
		limit int
		want  string
	}{
		{"futures", NewFuturesExchange(Config{}), 500, "500"},
		{"futures capped", NewFuturesExchange(Config{}), 5000, "1000"},
		{"spot", NewSpotExchange(Config{}), 5000, "5000"},
		{"default limit", NewSpotExchange(Config{}), 0, "5000"},
		{"asterdex capped", NewAsterdexFuturesExchange(Config{}), 5000, "1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.ex.SnapshotURL("btcusdt", tt.limit))
			if err != nil {
				t.Fatal(err)
			}
			if got := u.Query().Get("symbol"); got != "BTCUSDT" {
				t.Errorf("Expected symbol BTCUSDT, got %s", got)
			}
			if got := u.Query().Get("limit"); got != tt.want {
				t.Errorf("Expected limit %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSubscribeMessage(t *testing.T) {
	ex := NewFuturesExchange(Config{WSURL: "ws://localhost/stream"})
	if ex.StreamURL("BTCUSDT") != "ws://localhost/stream" {
		t.Errorf("WSURL override ignored: %s", ex.StreamURL("BTCUSDT"))
	}

	raw, err := ex.SubscribeMessage("BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	var req SubscribeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatal(err)
	}
	if req.Method != "SUBSCRIBE" || len(req.Params) != 1 || req.Params[0] != "btcusdt@depth@100ms" {
		t.Errorf("Unexpected subscribe request: %+v", req)
	}
}

func TestParseSnapshot(t *testing.T) {
	ex := NewSpotExchange(Config{})
	body := []byte(`{"lastUpdateId":100,"bids":[["100.0","2.0"]],"asks":[["101.0","3.0"],["102.0","1.5"]]}`)

	snap, err := ex.ParseSnapshot("btcusdt", body)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastUpdateID != 100 || snap.Symbol != "BTCUSDT" || snap.Exchange != exchange.Binance {
		t.Errorf("Unexpected snapshot header: %+v", snap)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 2 {
		t.Fatalf("Expected 1 bid and 2 asks, got %d and %d", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Asks[1].Quantity.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Expected ask quantity 1.5, got %s", snap.Asks[1].Quantity)
	}
	if !snap.Timestamp.IsZero() {
		t.Errorf("REST snapshots carry no venue time, got %s", snap.Timestamp)
	}
}

func TestParseSnapshotErrors(t *testing.T) {
	ex := NewSpotExchange(Config{})
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing id", `{"bids":[],"asks":[]}`},
		{"bad price", `{"lastUpdateId":1,"bids":[["x","1"]],"asks":[]}`},
		{"short level", `{"lastUpdateId":1,"bids":[],"asks":[["1"]]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.ParseSnapshot("BTCUSDT", []byte(tt.body))
			if !errors.Is(err, exchange.ErrMalformedMessage) {
				t.Errorf("Expected ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestParseMessage(t *testing.T) {
	ex := NewFuturesExchange(Config{})

	tests := []struct {
		name    string
		raw     string
		wantNil bool
		wantErr bool
		first   int64
		final   int64
		prev    int64
	}{
		{
			name:  "depth update",
			raw:   `{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":101,"u":103,"pu":100,"b":[["100.0","0"]],"a":[["102.0","4.0"]]}}`,
			first: 101, final: 103, prev: 100,
		},
		{name: "subscription ack", raw: `{"result":null,"id":1}`, wantNil: true},
		{name: "other event", raw: `{"stream":"x","data":{"e":"aggTrade"}}`, wantNil: true},
		{name: "rejected", raw: `{"error":{"code":2,"msg":"Invalid request"},"id":1}`, wantErr: true},
		{name: "garbage", raw: `{"stream":`, wantErr: true},
		{name: "reversed range", raw: `{"data":{"e":"depthUpdate","U":10,"u":9,"b":[],"a":[]}}`, wantErr: true},
		{name: "negative qty", raw: `{"data":{"e":"depthUpdate","U":1,"u":1,"b":[["1","-1"]],"a":[]}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := ex.ParseMessage([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.wantNil {
				if update != nil {
					t.Errorf("Expected nil update, got %+v", update)
				}
				return
			}
			if update.FirstUpdateID != tt.first || update.FinalUpdateID != tt.final || update.PrevUpdateID != tt.prev {
				t.Errorf("Unexpected ids: U=%d u=%d pu=%d", update.FirstUpdateID, update.FinalUpdateID, update.PrevUpdateID)
			}
			if len(update.Bids) != 1 || !update.Bids[0].Quantity.IsZero() {
				t.Errorf("Expected one zero-quantity bid, got %+v", update.Bids)
			}
			if update.Exchange != exchange.Binancef || update.EventTime.UnixMilli() != 1700000000000 {
				t.Errorf("Unexpected header: %s %v", update.Exchange, update.EventTime)
			}
		})
	}
}

func TestAsterdexFutures(t *testing.T) {
	ex := NewAsterdexFuturesExchange(Config{})
	if ex.GetName() != exchange.Asterdexf {
		t.Errorf("Expected asterdexf, got %s", ex.GetName())
	}
	u, err := url.Parse(ex.SnapshotURL("BTCUSDT", 100))
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "fapi.asterdex.com" || u.Path != "/fapi/v1/depth" {
		t.Errorf("Unexpected snapshot endpoint %s", u)
	}

	raw := `{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":5,"u":7,"pu":4,"b":[["100","1"]],"a":[]}}`
	update, err := ex.ParseMessage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if update.Exchange != exchange.Asterdexf || update.PrevUpdateID != 4 || update.FinalUpdateID != 7 {
		t.Errorf("Unexpected update: %+v", update)
	}
}
