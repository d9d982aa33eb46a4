package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"depthbook/internal/exchange"
	"depthbook/internal/orderbook"
	"depthbook/internal/types"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrReconnectsExhausted is reported once the retry budget is spent
	ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")

	// ErrClosed is returned when using a closed supervisor or registry
	ErrClosed = errors.New("feed closed")

	errManualReconnect = errors.New("manual reconnect requested")
)

// State of a supervised pipeline
type State int32

const (
	StateDisconnected State = iota
	StateFetchingSnapshot
	StateStreamingPending
	StateStreaming
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateFetchingSnapshot:
		return "fetching_snapshot"
	case StateStreamingPending:
		return "streaming_pending"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorKind classifies errors delivered to subscribers
type ErrorKind int

const (
	ErrorTransient ErrorKind = iota
	ErrorSequenceGap
	ErrorMalformed
	ErrorExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransient:
		return "transient"
	case ErrorSequenceGap:
		return "sequence_gap"
	case ErrorMalformed:
		return "malformed"
	case ErrorExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ErrorEvent is delivered through Subscriber.OnError
type ErrorEvent struct {
	Exchange exchange.ExchangeName
	Symbol   string
	Kind     ErrorKind
	Err      error
	Attempt  int
	Time     time.Time
}

// Subscriber receives snapshots and errors from one pipeline. Either callback
// may be nil. Callbacks run on the pipeline goroutine and must not block or
// unsubscribe from inside the callback.
type Subscriber struct {
	OnSnapshot func(types.BookSnapshot)
	OnError    func(ErrorEvent)
}

type subscription struct {
	id     string
	mu     sync.Mutex
	active bool
	sub    Subscriber
}

func (s *subscription) snapshot(snap types.BookSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.sub.OnSnapshot != nil {
		s.sub.OnSnapshot(snap)
	}
}

func (s *subscription) error(ev ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.sub.OnError != nil {
		s.sub.OnError(ev)
	}
}

// deactivate waits for an in-flight callback and disables further ones
func (s *subscription) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// ReconnectPolicy controls the exponential backoff between sessions
type ReconnectPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	Jitter         float64
}

// DefaultReconnectPolicy returns 5 attempts from 1s doubling up to 30s
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     30 * time.Second,
	}
}

func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxBackoff
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// Options configures a Supervisor
type Options struct {
	Depth              int
	SnapshotLimit      int
	MaxBufferedUpdates int
	EmissionInterval   time.Duration
	Reconnect          ReconnectPolicy

	Clock   Clock
	Dialer  Dialer
	Fetcher SnapshotFetcher
	Logger  *logrus.Entry
}

// DefaultOptions returns production settings
func DefaultOptions() Options {
	return Options{
		Depth:              50,
		SnapshotLimit:      1000,
		MaxBufferedUpdates: orderbook.DefaultMaxBufferSize,
		EmissionInterval:   100 * time.Millisecond,
		Reconnect:          DefaultReconnectPolicy(),
	}
}

func (o Options) withDefaults() Options {
	if o.Depth <= 0 {
		o.Depth = 50
	}
	if o.SnapshotLimit <= 0 {
		o.SnapshotLimit = 1000
	}
	if o.Reconnect.InitialBackoff <= 0 {
		o.Reconnect.InitialBackoff = time.Second
	}
	if o.Reconnect.Multiplier < 1 {
		o.Reconnect.Multiplier = 2
	}
	if o.Reconnect.MaxBackoff < o.Reconnect.InitialBackoff {
		o.Reconnect.MaxBackoff = o.Reconnect.InitialBackoff
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.Dialer == nil {
		o.Dialer = NewWebsocketDialer()
	}
	if o.Fetcher == nil {
		o.Fetcher = NewHTTPFetcher()
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

// Supervisor owns the session lifecycle of one (exchange, symbol) pipeline:
// stream subscription, snapshot fetch, reconstruction, throttled emission
// and reconnect with backoff. The OrderBook lives on the run goroutine only.
type Supervisor struct {
	adapter exchange.Adapter
	symbol  string
	opts    Options
	logger  *logrus.Entry

	mu      sync.Mutex
	subs    map[string]*subscription
	cancel  context.CancelFunc
	started bool
	closed  bool

	done        chan struct{}
	reconnectCh chan struct{}

	state  atomic.Int32
	latest atomic.Pointer[types.BookSnapshot]
	health atomic.Value // stores exchange.HealthStatus
}

// NewSupervisor creates a supervisor. Nothing happens until Start.
func NewSupervisor(adapter exchange.Adapter, symbol string, opts Options) *Supervisor {
	opts = opts.withDefaults()
	s := &Supervisor{
		adapter:     adapter,
		symbol:      symbol,
		opts:        opts,
		subs:        make(map[string]*subscription),
		done:        make(chan struct{}),
		reconnectCh: make(chan struct{}, 1),
		logger: opts.Logger.WithFields(logrus.Fields{
			"component": "feed",
			"exchange":  adapter.GetName(),
			"symbol":    symbol,
		}),
	}
	s.health.Store(exchange.HealthStatus{})
	return s
}

// Exchange returns the venue of this pipeline
func (s *Supervisor) Exchange() exchange.ExchangeName {
	return s.adapter.GetName()
}

// Symbol returns the canonical symbol of this pipeline
func (s *Supervisor) Symbol() string {
	return s.symbol
}

// Start launches the pipeline. It is a no-op when already started.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return nil
}

// Close stops the pipeline from any state and discards the book.
// No callback fires after Close returns.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	if started {
		<-s.done
	}
	for _, sub := range subs {
		sub.deactivate()
	}

	s.latest.Store(nil)
	s.setState(StateDisconnected)
	s.logger.Info("Pipeline closed")
	return nil
}

// Reconnect abandons the current session, or leaves the failed state, and
// starts over with a fresh snapshot and a full retry budget
func (s *Supervisor) Reconnect() {
	select {
	case s.reconnectCh <- struct{}{}:
	default:
	}
}

// Subscribe registers callbacks and returns the function that removes them.
// After the returned function returns no further callbacks are invoked.
func (s *Supervisor) Subscribe(sub Subscriber) func() {
	entry := &subscription{id: uuid.NewString(), active: true, sub: sub}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.subs[entry.id] = entry
	s.mu.Unlock()

	s.logger.WithField("subscriber", entry.id).Debug("Subscriber added")

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, entry.id)
			s.mu.Unlock()
			entry.deactivate()
			s.logger.WithField("subscriber", entry.id).Debug("Subscriber removed")
		})
	}
}

// subscriberCount returns the number of active subscribers
func (s *Supervisor) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// State returns the current pipeline state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether the book is live
func (s *Supervisor) IsConnected() bool {
	switch s.State() {
	case StateStreamingPending, StateStreaming:
		return true
	default:
		return false
	}
}

// Latest returns the most recently emitted snapshot
func (s *Supervisor) Latest() (types.BookSnapshot, bool) {
	snap := s.latest.Load()
	if snap == nil {
		return types.BookSnapshot{}, false
	}
	return *snap, true
}

// Health returns connection health information
func (s *Supervisor) Health() exchange.HealthStatus {
	if status, ok := s.health.Load().(exchange.HealthStatus); ok {
		return status
	}
	return exchange.HealthStatus{}
}

func (s *Supervisor) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.WithFields(logrus.Fields{"from": prev, "to": state}).Debug("State changed")
	}
}

// run drives sessions until the context is cancelled
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	policy := s.opts.Reconnect
	bo := policy.newBackOff()
	attempts := 0
	// consecutive gap resyncs; only the first one skips the backoff
	gapResyncs := 0

	for {
		streamed, err := s.runSession(ctx)
		s.latest.Store(nil)
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, errManualReconnect):
			s.logger.Info("Manual reconnect")
			attempts = 0
			gapResyncs = 0
			bo.Reset()
			continue

		case streamed && errors.Is(err, orderbook.ErrSequenceGap):
			s.publishError(ErrorSequenceGap, err, 0)
			attempts = 0
			gapResyncs++
			if gapResyncs == 1 {
				s.logger.WithError(err).Warn("Sequence gap, rebuilding book from a fresh snapshot")
				bo.Reset()
				continue
			}

			delay := bo.NextBackOff()
			s.setState(StateReconnecting)
			s.logger.WithError(err).WithFields(logrus.Fields{
				"gaps":  gapResyncs,
				"delay": delay,
			}).Warn("Repeated sequence gap, backing off before resync")

			select {
			case <-ctx.Done():
				return
			case <-s.reconnectCh:
				gapResyncs = 0
				bo.Reset()
			case <-s.opts.Clock.After(delay):
			}
			continue

		case streamed:
			attempts = 0
			gapResyncs = 0
			bo.Reset()
		}

		attempts++
		kind := ErrorTransient
		if errors.Is(err, orderbook.ErrSequenceGap) {
			kind = ErrorSequenceGap
		}
		s.publishError(kind, err, attempts)

		if attempts > policy.MaxAttempts {
			s.setState(StateFailed)
			exhausted := fmt.Errorf("%w after %d attempts: %v", ErrReconnectsExhausted, attempts, err)
			s.logger.WithError(exhausted).Error("Giving up until reconnect is requested")
			s.publishError(ErrorExhausted, exhausted, attempts)

			select {
			case <-ctx.Done():
				return
			case <-s.reconnectCh:
				s.logger.Info("Reconnect requested after failure")
				attempts = 0
				gapResyncs = 0
				bo.Reset()
				continue
			}
		}

		delay := bo.NextBackOff()
		s.setState(StateReconnecting)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempts,
			"delay":   delay,
		}).Warn("Session ended, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-s.reconnectCh:
			attempts = 0
			gapResyncs = 0
			bo.Reset()
		case <-s.opts.Clock.After(delay):
		}
	}
}

type snapshotResult struct {
	snapshot *exchange.Snapshot
	err      error
}

// runSession runs one connection until it fails. It reports whether the
// session reached the streaming state.
func (s *Supervisor) runSession(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(StateFetchingSnapshot)

	url := s.adapter.StreamURL(s.symbol)
	conn, err := s.opts.Dialer.Dial(ctx, url)
	if err != nil {
		s.incrementErrorCount()
		return false, fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	s.updateConnectionStatus(true)
	defer s.updateConnectionStatus(false)
	s.logger.Info("Stream connected")

	subscribe, err := s.adapter.SubscribeMessage(s.symbol)
	if err != nil {
		return false, fmt.Errorf("subscribe message: %w", err)
	}
	if subscribe != nil {
		if err := conn.WriteMessage(subscribe); err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
	}

	msgs := make(chan []byte, 256)
	readErr := make(chan error, 1)
	go func() {
		for {
			raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	snapshots := make(chan snapshotResult, 1)
	if snapshotURL := s.adapter.SnapshotURL(s.symbol, s.opts.SnapshotLimit); snapshotURL != "" {
		go func() {
			body, err := s.opts.Fetcher.Fetch(ctx, snapshotURL)
			if err != nil {
				snapshots <- snapshotResult{err: err}
				return
			}
			snap, err := s.adapter.ParseSnapshot(s.symbol, body)
			snapshots <- snapshotResult{snapshot: snap, err: err}
		}()
	}

	var heartbeat <-chan time.Time
	ping, interval := s.adapter.Heartbeat()
	if interval > 0 && ping != nil {
		heartbeat = s.opts.Clock.After(interval)
	}

	book := orderbook.New(s.adapter.GetName(), s.symbol)
	book.SetMaxBufferSize(s.opts.MaxBufferedUpdates)
	throttle := newEmissionThrottle(s.opts.EmissionInterval, s.opts.Clock)
	streaming := false

	for {
		select {
		case <-ctx.Done():
			return streaming, ctx.Err()

		case <-s.reconnectCh:
			return streaming, errManualReconnect

		case err := <-readErr:
			s.incrementErrorCount()
			return streaming, fmt.Errorf("read: %w", err)

		case res := <-snapshots:
			if res.err != nil {
				s.incrementErrorCount()
				return streaming, fmt.Errorf("snapshot: %w", res.err)
			}
			if err := s.applySnapshot(ctx, book, res.snapshot, throttle, &streaming); err != nil {
				return streaming, err
			}

		case raw := <-msgs:
			s.incrementMessageCount()

			if responder, ok := s.adapter.(exchange.PingResponder); ok {
				if reply := responder.PingReply(raw); reply != nil {
					if err := conn.WriteMessage(reply); err != nil {
						return streaming, fmt.Errorf("pong: %w", err)
					}
					s.updateLastPing()
					continue
				}
			}

			update, err := s.adapter.ParseMessage(raw)
			if err != nil {
				s.incrementErrorCount()
				s.logger.WithError(err).Debug("Dropping malformed message")
				s.publishError(ErrorMalformed, err, 0)
				continue
			}
			if update == nil {
				continue
			}
			s.updateLastPing()

			if update.IsSnapshot {
				if err := s.applySnapshot(ctx, book, update.Snapshot(), throttle, &streaming); err != nil {
					return streaming, err
				}
				continue
			}

			result, err := book.ApplyUpdate(update)
			if err != nil {
				return streaming, err
			}
			if result != orderbook.Applied {
				continue
			}
			if !streaming {
				streaming = true
				s.setState(StateStreaming)
			}
			if throttle.Mark() {
				s.emit(ctx, book)
			}

		case <-heartbeat:
			if err := conn.WriteMessage(ping); err != nil {
				return streaming, fmt.Errorf("heartbeat: %w", err)
			}
			heartbeat = s.opts.Clock.After(interval)

		case <-throttle.Wake():
			if throttle.Fired() {
				s.emit(ctx, book)
			}
		}
	}
}

// applySnapshot installs a REST or stream snapshot. A full book pushed onto an
// already initialized book is a live update for venues without deltas.
func (s *Supervisor) applySnapshot(ctx context.Context, book *orderbook.OrderBook, snap *exchange.Snapshot, throttle *emissionThrottle, streaming *bool) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.opts.Clock.Now()
	}
	replacing := book.IsInitialized()

	drained, err := book.ApplySnapshot(snap)
	if err != nil {
		return fmt.Errorf("replay buffered updates: %w", err)
	}

	entry := s.logger.WithFields(logrus.Fields{
		"lastUpdateId": snap.LastUpdateID,
		"bids":         len(snap.Bids),
		"asks":         len(snap.Asks),
		"replayed":     drained,
	})
	if replacing {
		entry.Debug("Full book replaced")
	} else {
		entry.Info("Snapshot applied")
	}

	if drained > 0 || replacing {
		*streaming = true
		s.setState(StateStreaming)
	} else if !*streaming {
		s.setState(StateStreamingPending)
	}

	if throttle.Mark() {
		s.emit(ctx, book)
	}
	return nil
}

// emit publishes the current book unless the session is shutting down
func (s *Supervisor) emit(ctx context.Context, book *orderbook.OrderBook) {
	if ctx.Err() != nil {
		return
	}
	snap, err := book.Snapshot(s.opts.Depth, s.opts.Clock.Now())
	if err != nil {
		return
	}
	s.latest.Store(&snap)

	for _, sub := range s.subscribers() {
		sub.snapshot(snap)
	}
}

func (s *Supervisor) publishError(kind ErrorKind, err error, attempt int) {
	ev := ErrorEvent{
		Exchange: s.adapter.GetName(),
		Symbol:   s.symbol,
		Kind:     kind,
		Err:      err,
		Attempt:  attempt,
		Time:     s.opts.Clock.Now(),
	}
	for _, sub := range s.subscribers() {
		sub.error(ev)
	}
}

func (s *Supervisor) subscribers() []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// updateConnectionStatus updates the connection status in health
func (s *Supervisor) updateConnectionStatus(connected bool) {
	status := s.Health()
	status.Connected = connected
	if !connected {
		now := s.opts.Clock.Now()
		status.ReconnectTime = &now
	}
	s.health.Store(status)
}

// incrementMessageCount increments the message count in health
func (s *Supervisor) incrementMessageCount() {
	status := s.Health()
	status.MessageCount++
	s.health.Store(status)
}

// incrementErrorCount increments the error count in health
func (s *Supervisor) incrementErrorCount() {
	status := s.Health()
	status.ErrorCount++
	s.health.Store(status)
}

// updateLastPing updates the last message time in health
func (s *Supervisor) updateLastPing() {
	status := s.Health()
	status.LastPing = s.opts.Clock.Now()
	s.health.Store(status)
}
