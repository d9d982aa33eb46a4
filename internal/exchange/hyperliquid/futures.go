package hyperliquid

import (
	"fmt"
	"strings"
	"time"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
)

const (
	wsURL        = "wss://api.hyperliquid.xyz/ws"
	pingInterval = 30 * time.Second
)

// FuturesExchange implements exchange.Adapter for Hyperliquid perpetuals.
// Every l2Book message carries the whole book, so each one is applied as a
// snapshot keyed by its timestamp.
type FuturesExchange struct {
	wsURL string
}

// NewFuturesExchange creates a new Hyperliquid Futures adapter
func NewFuturesExchange(config Config) *FuturesExchange {
	url := wsURL
	if config.WSURL != "" {
		url = config.WSURL
	}
	return &FuturesExchange{wsURL: url}
}

// GetName returns the exchange name
func (e *FuturesExchange) GetName() exchange.ExchangeName {
	return exchange.Hyperliquidf
}

// FormatSymbol returns the coin name (BTCUSDT -> BTC)
func (e *FuturesExchange) FormatSymbol(symbol string) string {
	coin := strings.ToUpper(strings.TrimSpace(symbol))
	coin = strings.ReplaceAll(coin, "-", "")
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if trimmed := strings.TrimSuffix(coin, quote); trimmed != coin && trimmed != "" {
			return trimmed
		}
	}
	return coin
}

// StreamURL returns the public stream endpoint
func (e *FuturesExchange) StreamURL(symbol string) string {
	return e.wsURL
}

// SubscribeMessage subscribes to the l2Book feed for the coin
func (e *FuturesExchange) SubscribeMessage(symbol string) ([]byte, error) {
	return json.Marshal(SubscriptionMessage{
		Method: "subscribe",
		Subscription: Subscription{
			Type: "l2Book",
			Coin: e.FormatSymbol(symbol),
		},
	})
}

// Heartbeat returns the {"method":"ping"} keepalive
func (e *FuturesExchange) Heartbeat() ([]byte, time.Duration) {
	return []byte(`{"method":"ping"}`), pingInterval
}

// SnapshotURL is empty: every stream message is a full book
func (e *FuturesExchange) SnapshotURL(symbol string, limit int) string {
	return ""
}

// ParseSnapshot is unsupported for Hyperliquid
func (e *FuturesExchange) ParseSnapshot(symbol string, body []byte) (*exchange.Snapshot, error) {
	return nil, fmt.Errorf("%s delivers snapshots over the stream", exchange.Hyperliquidf)
}

// ParseMessage converts l2Book messages into full-book updates
func (e *FuturesExchange) ParseMessage(raw []byte) (*exchange.DepthUpdate, error) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}

	switch msg.Channel {
	case "l2Book":
	case "error":
		return nil, fmt.Errorf("hyperliquid error: %s", msg.Data)
	default:
		// subscriptionResponse, pong and other channels
		return nil, nil
	}

	var book WsBook
	if err := json.Unmarshal(msg.Data, &book); err != nil {
		return nil, fmt.Errorf("%w: l2Book data: %v", exchange.ErrMalformedMessage, err)
	}
	if book.Time <= 0 {
		return nil, fmt.Errorf("%w: l2Book without time", exchange.ErrMalformedMessage)
	}

	bids, err := exchange.ParseLevels(toTuples(book.Levels[0]))
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := exchange.ParseLevels(toTuples(book.Levels[1]))
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	return &exchange.DepthUpdate{
		Exchange:      exchange.Hyperliquidf,
		Symbol:        book.Coin,
		EventTime:     time.UnixMilli(book.Time),
		FirstUpdateID: book.Time,
		FinalUpdateID: book.Time,
		Bids:          bids,
		Asks:          asks,
		IsSnapshot:    true,
	}, nil
}

func toTuples(levels []WsLevel) [][]string {
	out := make([][]string, len(levels))
	for i, level := range levels {
		out[i] = []string{level.Px, level.Sz}
	}
	return out
}
