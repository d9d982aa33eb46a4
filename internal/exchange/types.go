package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeName represents supported exchange identifiers
type ExchangeName string

const (
	Binancef ExchangeName = "binancef"
	Binance  ExchangeName = "binance"
	Bybitf   ExchangeName = "bybitf"
	Bybit    ExchangeName = "bybit"
	OKX      ExchangeName = "okx"

	Asterdexf    ExchangeName = "asterdexf"
	Hyperliquidf ExchangeName = "hyperliquidf"
	BingX        ExchangeName = "bingx"
	BingXf       ExchangeName = "bingxf"
	Coinbase     ExchangeName = "coinbase"
)

// ErrMalformedMessage is returned by adapters for payloads they cannot decode
var ErrMalformedMessage = errors.New("malformed message")

// Adapter translates one venue's wire format into canonical snapshots and
// depth updates. Implementations hold no per-connection state.
type Adapter interface {
	// GetName returns the exchange name (e.g., "binancef", "binance")
	GetName() ExchangeName

	// FormatSymbol converts a canonical symbol (BTCUSDT) into the venue form
	FormatSymbol(symbol string) string

	// StreamURL returns the websocket endpoint to dial
	StreamURL(symbol string) string

	// SubscribeMessage returns the message to send right after dialing,
	// or nil when the endpoint needs none
	SubscribeMessage(symbol string) ([]byte, error)

	// Heartbeat returns an application-level keepalive and its interval.
	// A zero interval disables it.
	Heartbeat() ([]byte, time.Duration)

	// SnapshotURL returns the REST snapshot endpoint, or "" when the stream
	// delivers snapshots itself
	SnapshotURL(symbol string, limit int) string

	// ParseSnapshot decodes a REST snapshot body
	ParseSnapshot(symbol string, body []byte) (*Snapshot, error)

	// ParseMessage decodes one stream message. It returns (nil, nil) for
	// heartbeats, acks and unrelated channel traffic.
	ParseMessage(raw []byte) (*DepthUpdate, error)
}

// PingResponder is implemented by adapters whose venue sends its own pings
// and drops connections that do not answer them.
type PingResponder interface {
	// PingReply returns the answer to a venue ping, or nil when raw is
	// not a ping
	PingReply(raw []byte) []byte
}

// Snapshot represents a canonical orderbook snapshot (normalized across exchanges)
type Snapshot struct {
	Exchange     ExchangeName // Exchange name
	Symbol       string       // Trading symbol
	LastUpdateID int64        // Last update ID from exchange
	Bids         []PriceLevel // Bid levels [price, quantity]
	Asks         []PriceLevel // Ask levels [price, quantity]
	Timestamp    time.Time    // Snapshot timestamp
}

// DepthUpdate represents a canonical depth update event (normalized across exchanges)
type DepthUpdate struct {
	Exchange      ExchangeName // Exchange name
	Symbol        string       // Trading symbol
	EventTime     time.Time    // Event timestamp
	FirstUpdateID int64        // First update ID in this event
	FinalUpdateID int64        // Final update ID in this event
	PrevUpdateID  int64        // Previous update ID (for continuity checking), 0 if the venue has none
	Bids          []PriceLevel // Updated bid levels
	Asks          []PriceLevel // Updated ask levels
	IsSnapshot    bool         // Full book delivered over the stream
}

// Snapshot converts a stream-delivered full book into a Snapshot
func (u *DepthUpdate) Snapshot() *Snapshot {
	return &Snapshot{
		Exchange:     u.Exchange,
		Symbol:       u.Symbol,
		LastUpdateID: u.FinalUpdateID,
		Bids:         u.Bids,
		Asks:         u.Asks,
		Timestamp:    u.EventTime,
	}
}

// PriceLevel represents a single price level [price, quantity].
// A zero quantity removes the level.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// HealthStatus represents connection health information
type HealthStatus struct {
	Connected     bool       `json:"connected"`
	LastPing      time.Time  `json:"lastPing"`
	MessageCount  int64      `json:"messageCount"`
	ErrorCount    int64      `json:"errorCount"`
	ReconnectTime *time.Time `json:"reconnectTime,omitempty"`
}

// ParseLevels converts venue [price, quantity, ...] string tuples.
// Extra tuple fields (order counts, deprecated columns) are ignored.
func ParseLevels(raw [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("%w: level has %d fields", ErrMalformedMessage, len(entry))
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid price %q: %v", ErrMalformedMessage, entry[0], err)
		}
		qty, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid quantity %q: %v", ErrMalformedMessage, entry[1], err)
		}
		if price.Sign() <= 0 || qty.Sign() < 0 {
			return nil, fmt.Errorf("%w: out of range level [%s %s]", ErrMalformedMessage, entry[0], entry[1])
		}
		levels = append(levels, PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}
