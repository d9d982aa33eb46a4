package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"depthbook/internal/exchange"
	"depthbook/internal/feed"
	"depthbook/internal/pressure"
	"depthbook/internal/types"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeSource struct {
	mu         sync.Mutex
	snaps      map[feed.Key]types.BookSnapshot
	subs       map[feed.Key][]feed.Subscriber
	refs       map[feed.Key]int
	reconnects []feed.Key
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snaps: make(map[feed.Key]types.BookSnapshot),
		subs:  make(map[feed.Key][]feed.Subscriber),
		refs:  make(map[feed.Key]int),
	}
}

func (f *fakeSource) Subscribe(key feed.Key, sub feed.Subscriber) (func(), error) {
	if key.Exchange != "binance" {
		return nil, errors.New("unsupported exchange")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[key] = append(f.subs[key], sub)
	f.refs[key]++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.refs[key]--
	}, nil
}

func (f *fakeSource) Refs(key feed.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[key]
}

func (f *fakeSource) Publish(key feed.Key, snap types.BookSnapshot) {
	f.mu.Lock()
	f.snaps[key] = snap
	subs := append([]feed.Subscriber(nil), f.subs[key]...)
	f.mu.Unlock()
	for _, sub := range subs {
		if sub.OnSnapshot != nil {
			sub.OnSnapshot(snap)
		}
	}
}

func (f *fakeSource) Latest(key feed.Key) (types.BookSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[key]
	return snap, ok
}

func (f *fakeSource) IsConnected(key feed.Key) bool {
	_, ok := f.Latest(key)
	return ok
}

func (f *fakeSource) State(key feed.Key) feed.State {
	if f.IsConnected(key) {
		return feed.StateStreaming
	}
	return feed.StateDisconnected
}

func (f *fakeSource) Health(key feed.Key) (exchange.HealthStatus, bool) {
	return exchange.HealthStatus{Connected: f.IsConnected(key), MessageCount: 7}, true
}

func (f *fakeSource) Reconnect(key feed.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[key] == 0 {
		return feed.ErrUnknownPipeline
	}
	f.reconnects = append(f.reconnects, key)
	return nil
}

func (f *fakeSource) Keys() []feed.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]feed.Key, 0, len(f.refs))
	for k, n := range f.refs {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

func lvl(price, qty, cum string) types.OrderLevel {
	return types.OrderLevel{
		Price:           decimal.RequireFromString(price),
		Quantity:        decimal.RequireFromString(qty),
		CumulativeTotal: decimal.RequireFromString(cum),
	}
}

func sampleSnapshot() types.BookSnapshot {
	return types.BookSnapshot{
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		SequenceID: 42,
		Timestamp:  time.UnixMilli(1700000000000),
		Bids: []types.OrderLevel{
			lvl("100.4", "1", "1"),
			lvl("100.2", "2", "3"),
			lvl("99.5", "1", "4"),
		},
		Asks: []types.OrderLevel{
			lvl("100.6", "1", "1"),
			lvl("101.5", "3", "4"),
		},
		Stats: types.Stats{
			BestBid:  decimal.RequireFromString("100.4"),
			BestAsk:  decimal.RequireFromString("100.6"),
			MidPrice: decimal.RequireFromString("100.5"),
		},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeSource, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	source := newFakeSource()
	srv := NewServer(source, pressure.NewDetector(pressure.DefaultConfig()), Options{
		DefaultTick: types.Tick1,
		Logger:      logrus.NewEntry(logger),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, source, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHandleBook(t *testing.T) {
	_, source, ts := newTestServer(t)
	source.Publish(feed.NewKey("binance", "BTCUSDT"), sampleSnapshot())

	tests := []struct {
		name   string
		path   string
		status int
		bids   []string
	}{
		{"default tick", "/api/books/binance/btcusdt", http.StatusOK, []string{"100", "99"}},
		{"fine tick", "/api/books/binance/BTCUSDT?tick=0.1", http.StatusOK, []string{"100.4", "100.2", "99.5"}},
		{"invalid tick", "/api/books/binance/BTCUSDT?tick=3", http.StatusBadRequest, nil},
		{"unknown book", "/api/books/binance/ETHUSDT", http.StatusNotFound, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg OrderbookMessage
			status := getJSON(t, ts.URL+tt.path, &msg)
			if status != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, status)
			}
			if tt.bids == nil {
				return
			}
			if len(msg.Bids) != len(tt.bids) {
				t.Fatalf("Expected %d bids, got %d", len(tt.bids), len(msg.Bids))
			}
			for i, price := range tt.bids {
				if msg.Bids[i].Price != price {
					t.Errorf("bid %d: expected %s, got %s", i, price, msg.Bids[i].Price)
				}
			}
			if msg.Bids[len(msg.Bids)-1].Cumulative != "4" {
				t.Errorf("Expected cumulative 4 on last bid, got %s", msg.Bids[len(msg.Bids)-1].Cumulative)
			}
		})
	}
}

func TestHandlePressure(t *testing.T) {
	_, source, ts := newTestServer(t)

	if status := getJSON(t, ts.URL+"/api/pressure/binance/BTCUSDT", nil); status != http.StatusNotFound {
		t.Fatalf("Expected 404 before any snapshot, got %d", status)
	}

	source.Publish(feed.NewKey("binance", "BTCUSDT"), sampleSnapshot())

	var report pressure.Report
	if status := getJSON(t, ts.URL+"/api/pressure/binance/BTCUSDT", &report); status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if report.SequenceID != 42 || report.Symbol != "BTCUSDT" {
		t.Errorf("Unexpected report header: %+v", report)
	}
	if report.Zones == nil {
		t.Error("Zones should encode as an empty list")
	}
	if report.Balance.Dominant != pressure.Neutral {
		t.Errorf("Expected neutral balance, got %s", report.Balance.Dominant)
	}
}

func TestHandlePressureDefaultDetector(t *testing.T) {
	logger, _ := test.NewNullLogger()
	source := newFakeSource()
	srv := NewServer(source, nil, Options{Logger: logrus.NewEntry(logger)})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	source.Publish(feed.NewKey("binance", "BTCUSDT"), sampleSnapshot())

	var report pressure.Report
	if status := getJSON(t, ts.URL+"/api/pressure/binance/BTCUSDT", &report); status != http.StatusOK {
		t.Fatalf("Expected 200 with the default detector, got %d", status)
	}
	if report.SequenceID != 42 {
		t.Errorf("Expected sequence 42, got %d", report.SequenceID)
	}
}

func TestHandleReconnect(t *testing.T) {
	_, source, ts := newTestServer(t)
	key := feed.NewKey("binance", "BTCUSDT")

	resp, err := http.Post(ts.URL+"/api/reconnect/binance/BTCUSDT", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown pipeline, got %d", resp.StatusCode)
	}

	unsubscribe, _ := source.Subscribe(key, feed.Subscriber{})
	defer unsubscribe()

	resp, err = http.Post(ts.URL+"/api/reconnect/binance/BTCUSDT", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", resp.StatusCode)
	}
	if len(source.reconnects) != 1 || source.reconnects[0] != key {
		t.Errorf("Expected one reconnect for %s, got %v", key, source.reconnects)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	_, source, ts := newTestServer(t)
	key := feed.NewKey("binance", "BTCUSDT")
	unsubscribe, _ := source.Subscribe(key, feed.Subscriber{})
	defer unsubscribe()
	source.Publish(key, sampleSnapshot())

	var status StatusMessage
	getJSON(t, ts.URL+"/api/status/binance/BTCUSDT", &status)
	if status.State != "streaming" || !status.Connected {
		t.Errorf("Unexpected status: %+v", status)
	}
	if status.Health == nil || status.Health.MessageCount != 7 {
		t.Errorf("Expected health with 7 messages, got %+v", status.Health)
	}

	var health struct {
		Status    string          `json:"status"`
		Clients   int             `json:"clients"`
		Pipelines []StatusMessage `json:"pipelines"`
	}
	getJSON(t, ts.URL+"/healthz", &health)
	if health.Status != "ok" || len(health.Pipelines) != 1 {
		t.Errorf("Unexpected health: %+v", health)
	}
}

func TestParseTick(t *testing.T) {
	tests := []struct {
		raw  string
		want types.TickLevel
		ok   bool
	}{
		{"0.1", types.Tick01, true},
		{"10", types.Tick10, true},
		{"100.0", types.Tick100, true},
		{"2", 0, false},
		{"abc", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseTick(tt.raw)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseTick(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

type wsReader struct {
	t    *testing.T
	conn *websocket.Conn
}

// next reads until a message of the given type arrives
func (r wsReader) next(want MessageType, out any) {
	r.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = r.conn.SetReadDeadline(deadline)
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.t.Fatalf("waiting for %s: %v", want, err)
		}
		var head struct {
			Type MessageType `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			r.t.Fatalf("bad frame %s: %v", data, err)
		}
		if head.Type == want {
			if err := json.Unmarshal(data, out); err != nil {
				r.t.Fatalf("decode %s: %v", want, err)
			}
			return
		}
	}
}

func dial(t *testing.T, ts *httptest.Server) wsReader {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return wsReader{t: t, conn: conn}
}

func send(t *testing.T, r wsReader, msg ClientMessage) {
	t.Helper()
	if err := r.conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWebSocketSubscribeFlow(t *testing.T) {
	srv, source, ts := newTestServer(t)
	key := feed.NewKey("binance", "BTCUSDT")
	r := dial(t, ts)

	send(t, r, ClientMessage{Type: ClientSubscribe, Exchange: "binance", Symbol: "btcusdt"})

	var status StatusMessage
	r.next(MessageTypeStatus, &status)
	if status.Symbol != "BTCUSDT" || status.Error != "" {
		t.Fatalf("Unexpected status: %+v", status)
	}
	if srv.ClientCount() != 1 || source.Refs(key) != 1 {
		t.Fatalf("Expected one client and one ref, got %d and %d", srv.ClientCount(), source.Refs(key))
	}

	send(t, r, ClientMessage{Type: ClientSetTick, Tick: 10})
	// set_tick has no reply; a status round trip orders it before the publish
	send(t, r, ClientMessage{Type: ClientReconnect, Exchange: "binance", Symbol: "BTCUSDT"})
	r.next(MessageTypeStatus, &status)

	source.Publish(key, sampleSnapshot())

	var book OrderbookMessage
	r.next(MessageTypeOrderbook, &book)
	if book.Tick != 10 || len(book.Bids) != 2 {
		t.Fatalf("Expected two bid buckets with tick 10, got %+v", book)
	}
	if book.Bids[0].Price != "100" || book.Bids[0].Quantity != "3" || book.Bids[1].Price != "90" {
		t.Errorf("Unexpected buckets: %+v", book.Bids)
	}

	var stats StatsMessage
	r.next(MessageTypeStats, &stats)
	if stats.MidPrice != "100.5" {
		t.Errorf("Expected mid 100.5, got %s", stats.MidPrice)
	}

	var zones PressureMessage
	r.next(MessageTypePressure, &zones)
	if zones.Balance.Dominant != pressure.Neutral {
		t.Errorf("Expected neutral balance, got %s", zones.Balance.Dominant)
	}

	send(t, r, ClientMessage{Type: ClientUnsubscribe, Exchange: "binance", Symbol: "BTCUSDT"})
	waitFor(t, func() bool { return source.Refs(key) == 0 })
}

func TestWebSocketSubscribeErrors(t *testing.T) {
	_, _, ts := newTestServer(t)
	r := dial(t, ts)

	send(t, r, ClientMessage{Type: ClientSubscribe, Exchange: "nowhere", Symbol: "BTCUSDT"})
	var status StatusMessage
	r.next(MessageTypeStatus, &status)
	if status.Error == "" {
		t.Error("Expected an error for unsupported exchange")
	}

	send(t, r, ClientMessage{Type: ClientSubscribe, Exchange: "binance"})
	r.next(MessageTypeStatus, &status)
	if status.Error != errMissingKey.Error() {
		t.Errorf("Expected %q, got %q", errMissingKey, status.Error)
	}
}

func TestWebSocketDisconnectReleases(t *testing.T) {
	srv, source, ts := newTestServer(t)
	key := feed.NewKey("binance", "BTCUSDT")
	r := dial(t, ts)

	send(t, r, ClientMessage{Type: ClientSubscribe, Exchange: "binance", Symbol: "BTCUSDT"})
	var status StatusMessage
	r.next(MessageTypeStatus, &status)

	r.conn.Close()
	waitFor(t, func() bool { return source.Refs(key) == 0 && srv.ClientCount() == 0 })
}

func TestLatestSentOnSubscribe(t *testing.T) {
	_, source, ts := newTestServer(t)
	source.Publish(feed.NewKey("binance", "BTCUSDT"), sampleSnapshot())
	r := dial(t, ts)

	send(t, r, ClientMessage{Type: ClientSubscribe, Exchange: "binance", Symbol: "BTCUSDT"})
	var book OrderbookMessage
	r.next(MessageTypeOrderbook, &book)
	if book.SequenceID != 42 {
		t.Errorf("Expected cached snapshot 42, got %d", book.SequenceID)
	}
}
