package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"depthbook/internal/exchange"
	"depthbook/internal/types"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var (
	errConnClosed = errors.New("connection closed")
	errDialFailed = errors.New("dial failed")
)

// fakeClock only moves when Advance is called
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
	delays  []time.Duration
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// waitForWaiters blocks until n timers are armed
func (c *fakeClock) waitForWaiters(t *testing.T, n int) {
	t.Helper()
	eventually(t, func() bool { return c.pending() >= n })
}

// fakeConn is fed by the test through Push
type fakeConn struct {
	in      chan []byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) Push(msg string) {
	c.in <- []byte(msg)
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

// fakeDialer hands out queued connections and fails when none are left
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Queue(conns ...*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conns...)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errDialFailed
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeFetcher returns queued bodies in order, repeating the last one
type fakeFetcher struct {
	mu     sync.Mutex
	bodies []string
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.bodies) == 0 {
		return nil, errors.New("no snapshot queued")
	}
	body := f.bodies[0]
	if len(f.bodies) > 1 {
		f.bodies = f.bodies[1:]
	}
	return []byte(body), nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testAdapter speaks a minimal JSON dialect:
// {"U":1,"u":2,"pu":0,"snapshot":false,"b":[["100","1"]],"a":[]}
type testAdapter struct {
	name      exchange.ExchangeName
	restURL   string
	heartbeat time.Duration
}

type testMessage struct {
	First    int64      `json:"U"`
	Final    int64      `json:"u"`
	Prev     int64      `json:"pu"`
	Snapshot bool       `json:"snapshot"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	Ack      bool       `json:"ack"`
}

type testSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (a *testAdapter) GetName() exchange.ExchangeName    { return a.name }
func (a *testAdapter) FormatSymbol(symbol string) string { return symbol }
func (a *testAdapter) StreamURL(symbol string) string    { return "ws://test/" + symbol }

func (a *testAdapter) SnapshotURL(symbol string, limit int) string {
	return a.restURL
}

func (a *testAdapter) SubscribeMessage(symbol string) ([]byte, error) {
	return []byte(`{"subscribe":"` + symbol + `"}`), nil
}

func (a *testAdapter) Heartbeat() ([]byte, time.Duration) {
	if a.heartbeat <= 0 {
		return nil, 0
	}
	return []byte("ping"), a.heartbeat
}

func (a *testAdapter) ParseSnapshot(symbol string, body []byte) (*exchange.Snapshot, error) {
	var raw testSnapshot
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	bids, err := exchange.ParseLevels(raw.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := exchange.ParseLevels(raw.Asks)
	if err != nil {
		return nil, err
	}
	return &exchange.Snapshot{Exchange: a.name, Symbol: symbol, LastUpdateID: raw.LastUpdateID, Bids: bids, Asks: asks}, nil
}

func (a *testAdapter) ParseMessage(raw []byte) (*exchange.DepthUpdate, error) {
	var msg testMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, exchange.ErrMalformedMessage
	}
	if msg.Ack {
		return nil, nil
	}
	bids, err := exchange.ParseLevels(msg.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := exchange.ParseLevels(msg.Asks)
	if err != nil {
		return nil, err
	}
	return &exchange.DepthUpdate{
		Exchange:      a.name,
		FirstUpdateID: msg.First,
		FinalUpdateID: msg.Final,
		PrevUpdateID:  msg.Prev,
		Bids:          bids,
		Asks:          asks,
		IsSnapshot:    msg.Snapshot,
	}, nil
}

func testLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// recorder collects callbacks from a subscription
type recorder struct {
	mu        sync.Mutex
	snapshots []int64
	last      map[int64]snapshotView
	errors    []ErrorKind
}

type snapshotView struct {
	bids []string
	asks []string
}

func newRecorder() *recorder {
	return &recorder{last: make(map[int64]snapshotView)}
}

func (r *recorder) Subscriber() Subscriber {
	return Subscriber{
		OnSnapshot: func(snap types.BookSnapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.snapshots = append(r.snapshots, snap.SequenceID)
			view := snapshotView{}
			for _, b := range snap.Bids {
				view.bids = append(view.bids, b.Price.String()+":"+b.CumulativeTotal.String())
			}
			for _, a := range snap.Asks {
				view.asks = append(view.asks, a.Price.String()+":"+a.CumulativeTotal.String())
			}
			r.last[snap.SequenceID] = view
		},
		OnError: func(ev ErrorEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, ev.Kind)
		},
	}
}

func (r *recorder) Seen(seq int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.last[seq]
	return ok
}

func (r *recorder) View(seq int64) snapshotView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[seq]
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *recorder) Errors() []ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorKind(nil), r.errors...)
}

func (r *recorder) HasError(kind ErrorKind) bool {
	for _, k := range r.Errors() {
		if k == kind {
			return true
		}
	}
	return false
}
