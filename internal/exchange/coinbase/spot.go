package coinbase

import (
	"fmt"
	"strings"
	"time"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const (
	wsURL        = "wss://advanced-trade-ws.coinbase.com"
	level2       = "level2"
	level2Events = "l2_data"
)

// SpotExchange implements exchange.Adapter for the Coinbase Advanced Trade
// level2 channel. sequence_num increments by one per message across all
// channels of a connection, so messages outside level2 still advance the
// book's sequence as empty updates and a missing number is a gap.
type SpotExchange struct {
	wsURL string
}

// NewSpotExchange creates a new Coinbase Spot adapter
func NewSpotExchange(config Config) *SpotExchange {
	url := wsURL
	if config.WSURL != "" {
		url = config.WSURL
	}
	return &SpotExchange{wsURL: url}
}

// GetName returns the exchange name
func (e *SpotExchange) GetName() exchange.ExchangeName {
	return exchange.Coinbase
}

// FormatSymbol converts BTCUSDT to the BTC-USD product id
func (e *SpotExchange) FormatSymbol(symbol string) string {
	return convertToCoinbaseSymbol(symbol)
}

// StreamURL returns the public stream endpoint
func (e *SpotExchange) StreamURL(symbol string) string {
	return e.wsURL
}

// SubscribeMessage subscribes to level2 for the product
func (e *SpotExchange) SubscribeMessage(symbol string) ([]byte, error) {
	return json.Marshal(SubscribeRequest{
		Type:       "subscribe",
		ProductIDs: []string{e.FormatSymbol(symbol)},
		Channel:    level2,
	})
}

// Heartbeat is disabled: level2 traffic keeps the connection open
func (e *SpotExchange) Heartbeat() ([]byte, time.Duration) {
	return nil, 0
}

// SnapshotURL is empty: the level2 snapshot event arrives on the stream
func (e *SpotExchange) SnapshotURL(symbol string, limit int) string {
	return ""
}

// ParseSnapshot is unsupported for Coinbase
func (e *SpotExchange) ParseSnapshot(symbol string, body []byte) (*exchange.Snapshot, error) {
	return nil, fmt.Errorf("%s delivers snapshots over the stream", exchange.Coinbase)
}

// ParseMessage converts l2_data messages to canonical format. Other channels
// become empty updates carrying only their sequence number.
func (e *SpotExchange) ParseMessage(raw []byte) (*exchange.DepthUpdate, error) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}
	if msg.Type == "error" {
		return nil, fmt.Errorf("coinbase error: %s", msg.Message)
	}
	if msg.SequenceNum == nil {
		return nil, nil
	}
	seq := *msg.SequenceNum

	update := &exchange.DepthUpdate{
		Exchange:      exchange.Coinbase,
		EventTime:     parseTime(msg.Timestamp),
		FirstUpdateID: seq,
		FinalUpdateID: seq,
	}
	if msg.Channel != level2Events {
		return update, nil
	}

	for _, event := range msg.Events {
		switch event.Type {
		case "snapshot":
			update.IsSnapshot = true
		case "update":
		default:
			return nil, fmt.Errorf("%w: unknown event type %q", exchange.ErrMalformedMessage, event.Type)
		}
		update.Symbol = event.ProductID

		bids, asks, err := splitSides(event.Updates)
		if err != nil {
			return nil, err
		}
		update.Bids = append(update.Bids, bids...)
		update.Asks = append(update.Asks, asks...)
	}
	return update, nil
}

// splitSides groups level updates by side
func splitSides(updates []Update) ([]exchange.PriceLevel, []exchange.PriceLevel, error) {
	var bids, asks [][]string
	for _, u := range updates {
		switch u.Side {
		case "bid":
			bids = append(bids, []string{u.PriceLevel, u.NewQuantity})
		case "offer", "ask":
			asks = append(asks, []string{u.PriceLevel, u.NewQuantity})
		default:
			return nil, nil, fmt.Errorf("%w: unknown side %q", exchange.ErrMalformedMessage, u.Side)
		}
	}

	bidLevels, err := exchange.ParseLevels(bids)
	if err != nil {
		return nil, nil, fmt.Errorf("bids: %w", err)
	}
	askLevels, err := exchange.ParseLevels(asks)
	if err != nil {
		return nil, nil, fmt.Errorf("asks: %w", err)
	}
	return bidLevels, askLevels, nil
}

// parseTime leaves the time zero when ts is missing or malformed
func parseTime(ts string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}

// convertToCoinbaseSymbol converts various symbol formats to Coinbase format.
// USDT pairs map to the USD book.
// Examples: BTCUSDT -> BTC-USD, ETHUSDC -> ETH-USDC
func convertToCoinbaseSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "-") {
		return symbol
	}

	switch {
	case strings.HasSuffix(symbol, "USDT"):
		return strings.TrimSuffix(symbol, "USDT") + "-USD"
	case strings.HasSuffix(symbol, "USDC"):
		return strings.TrimSuffix(symbol, "USDC") + "-USDC"
	case strings.HasSuffix(symbol, "USD"):
		return strings.TrimSuffix(symbol, "USD") + "-USD"
	}

	logrus.WithField("exchange", exchange.Coinbase).Warnf("could not convert symbol %s to Coinbase format, using as-is", symbol)
	return symbol
}
