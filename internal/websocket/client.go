package websocket

import (
	"sync"
	"time"

	"depthbook/internal/aggregation"
	"depthbook/internal/exchange"
	"depthbook/internal/feed"
	"depthbook/internal/types"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// client is one websocket connection with its own subscriptions and tick
type client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *logrus.Entry

	mu         sync.Mutex
	subs       map[feed.Key]func()
	aggregator types.PriceAggregator
}

func newClient(s *Server, conn *websocket.Conn) *client {
	return &client{
		server:     s,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		logger:     s.logger.WithField("remote", conn.RemoteAddr().String()),
		subs:       make(map[feed.Key]func()),
		aggregator: aggregation.New(s.defaultTick),
	}
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.unsubscribeAll()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.WithError(err).Debug("Error parsing client message")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case ClientSubscribe:
		c.subscribe(feed.NewKey(exchange.ExchangeName(msg.Exchange), msg.Symbol))
	case ClientUnsubscribe:
		c.unsubscribe(feed.NewKey(exchange.ExchangeName(msg.Exchange), msg.Symbol))
	case ClientSetTick:
		c.setTickLevel(msg.Tick)
	case ClientReconnect:
		key := feed.NewKey(exchange.ExchangeName(msg.Exchange), msg.Symbol)
		if err := c.server.source.Reconnect(key); err != nil {
			c.sendError(key, err)
			return
		}
		c.enqueue(buildStatusMessage(key, c.server.source, nil))
	default:
		c.logger.WithField("type", msg.Type).Debug("Unknown message type")
	}
}

func (c *client) subscribe(key feed.Key) {
	if key.Exchange == "" || key.Symbol == "" {
		c.sendError(key, errMissingKey)
		return
	}

	c.mu.Lock()
	_, exists := c.subs[key]
	c.mu.Unlock()
	if exists {
		return
	}

	unsubscribe, err := c.server.source.Subscribe(key, feed.Subscriber{
		OnSnapshot: c.onSnapshot,
		OnError:    func(ev feed.ErrorEvent) { c.onError(key, ev) },
	})
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Subscribe failed")
		c.sendError(key, err)
		return
	}

	c.mu.Lock()
	c.subs[key] = unsubscribe
	c.mu.Unlock()

	c.logger.WithField("key", key).Info("Client subscribed")
	c.enqueue(buildStatusMessage(key, c.server.source, nil))

	if snap, ok := c.server.source.Latest(key); ok {
		c.onSnapshot(snap)
	}
}

func (c *client) unsubscribe(key feed.Key) {
	c.mu.Lock()
	unsubscribe, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	if ok {
		unsubscribe()
		c.logger.WithField("key", key).Info("Client unsubscribed")
	}
}

func (c *client) unsubscribeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[feed.Key]func())
	c.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

func (c *client) setTickLevel(tick float64) {
	tickLevel := types.TickLevel(tick)
	if !types.IsValidTickLevel(tickLevel) {
		c.logger.Debugf("Invalid tick level: %f, keeping current", tick)
		return
	}

	c.mu.Lock()
	c.aggregator.SetTickLevel(tickLevel)
	c.mu.Unlock()

	c.logger.Debugf("Tick level changed to: %f", tick)
}

// onSnapshot runs on the pipeline goroutine and must not block
func (c *client) onSnapshot(snap types.BookSnapshot) {
	aggregated := snap
	c.mu.Lock()
	tick := c.aggregator.GetTickLevel()
	aggregated.Bids = c.aggregator.AggregateBids(snap.Bids)
	aggregated.Asks = c.aggregator.AggregateAsks(snap.Asks)
	c.mu.Unlock()

	c.enqueue(buildOrderbookMessage(aggregated, tick))
	c.enqueue(buildStatsMessage(snap))
	c.enqueue(buildPressureMessage(c.server.detector.Report(snap)))
}

func (c *client) onError(key feed.Key, ev feed.ErrorEvent) {
	c.enqueue(buildStatusMessage(key, c.server.source, &ev))
}

func (c *client) sendError(key feed.Key, err error) {
	c.enqueue(StatusMessage{
		Type:      MessageTypeStatus,
		Exchange:  string(key.Exchange),
		Symbol:    key.Symbol,
		State:     c.server.source.State(key).String(),
		Error:     err.Error(),
		Timestamp: time.Now().UnixMilli(),
	})
}

// enqueue drops the message when the client cannot keep up
func (c *client) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode message")
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Debug("Client send buffer full, dropping message")
	}
}
