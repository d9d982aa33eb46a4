package bybit

import (
	"fmt"
	"strings"
	"time"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
)

const (
	spotWSURL    = "wss://stream.bybit.com/v5/public/spot"
	linearWSURL  = "wss://stream.bybit.com/v5/public/linear"
	defaultDepth = 200
	pingInterval = 20 * time.Second
)

// Exchange implements exchange.Adapter for Bybit v5 public orderbook topics.
// Bybit delivers the initial snapshot over the stream, so there is no REST
// snapshot; "u" increments by one per delta.
type Exchange struct {
	name  exchange.ExchangeName
	wsURL string
	depth int
}

// NewSpotExchange creates a Bybit Spot adapter
func NewSpotExchange(config Config) *Exchange {
	return newExchange(exchange.Bybit, config, spotWSURL)
}

// NewFuturesExchange creates a Bybit linear perpetual adapter
func NewFuturesExchange(config Config) *Exchange {
	return newExchange(exchange.Bybitf, config, linearWSURL)
}

func newExchange(name exchange.ExchangeName, config Config, wsURL string) *Exchange {
	if config.WSURL != "" {
		wsURL = config.WSURL
	}
	depth := config.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Exchange{name: name, wsURL: wsURL, depth: depth}
}

// GetName returns the exchange name
func (e *Exchange) GetName() exchange.ExchangeName {
	return e.name
}

// FormatSymbol returns the upper-case symbol Bybit expects
func (e *Exchange) FormatSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// StreamURL returns the public stream endpoint
func (e *Exchange) StreamURL(symbol string) string {
	return e.wsURL
}

// SubscribeMessage subscribes to orderbook.<depth>.<SYMBOL>
func (e *Exchange) SubscribeMessage(symbol string) ([]byte, error) {
	return json.Marshal(SubscribeMessage{
		Op:   "subscribe",
		Args: []string{e.topic(symbol)},
	})
}

// Heartbeat returns the {"op":"ping"} keepalive
func (e *Exchange) Heartbeat() ([]byte, time.Duration) {
	return []byte(`{"op":"ping"}`), pingInterval
}

// SnapshotURL is empty: snapshots arrive on the stream
func (e *Exchange) SnapshotURL(symbol string, limit int) string {
	return ""
}

// ParseSnapshot is unsupported for Bybit
func (e *Exchange) ParseSnapshot(symbol string, body []byte) (*exchange.Snapshot, error) {
	return nil, fmt.Errorf("%s delivers snapshots over the stream", e.name)
}

// ParseMessage converts snapshot and delta messages to canonical format
func (e *Exchange) ParseMessage(raw []byte) (*exchange.DepthUpdate, error) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}

	if msg.Op != "" {
		if msg.Success != nil && !*msg.Success {
			return nil, fmt.Errorf("bybit %s rejected: %s", msg.Op, msg.RetMsg)
		}
		return nil, nil
	}
	if !strings.HasPrefix(msg.Topic, "orderbook.") || msg.Data == nil {
		return nil, nil
	}

	bids, err := exchange.ParseLevels(msg.Data.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := exchange.ParseLevels(msg.Data.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	update := &exchange.DepthUpdate{
		Exchange:      e.name,
		Symbol:        msg.Data.Symbol,
		EventTime:     time.UnixMilli(msg.TS),
		FirstUpdateID: msg.Data.UpdateID,
		FinalUpdateID: msg.Data.UpdateID,
		Bids:          bids,
		Asks:          asks,
	}

	switch msg.Type {
	case "snapshot":
		update.IsSnapshot = true
	case "delta":
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", exchange.ErrMalformedMessage, msg.Type)
	}
	return update, nil
}

func (e *Exchange) topic(symbol string) string {
	return fmt.Sprintf("orderbook.%d.%s", e.depth, e.FormatSymbol(symbol))
}
