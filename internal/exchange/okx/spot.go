package okx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const (
	wsURL        = "wss://ws.okx.com:8443/ws/v5/public"
	booksChannel = "books"
	pingInterval = 25 * time.Second
)

// SpotExchange implements exchange.Adapter for the OKX books channel.
// The stream delivers the snapshot, and every update carries prevSeqId,
// which must equal the seqId of the previous message.
type SpotExchange struct {
	wsURL string
}

// NewSpotExchange creates a new OKX Spot adapter
func NewSpotExchange(config Config) *SpotExchange {
	url := wsURL
	if config.WSURL != "" {
		url = config.WSURL
	}
	return &SpotExchange{wsURL: url}
}

// GetName returns the exchange name
func (e *SpotExchange) GetName() exchange.ExchangeName {
	return exchange.OKX
}

// FormatSymbol converts BTCUSDT into the OKX instrument id BTC-USDT
func (e *SpotExchange) FormatSymbol(symbol string) string {
	return convertToOKXSymbol(strings.TrimSpace(symbol))
}

// StreamURL returns the public stream endpoint
func (e *SpotExchange) StreamURL(symbol string) string {
	return e.wsURL
}

// SubscribeMessage subscribes to the books channel for the instrument
func (e *SpotExchange) SubscribeMessage(symbol string) ([]byte, error) {
	return json.Marshal(SubscribeRequest{
		Op:   "subscribe",
		Args: []ChannelParam{{Channel: booksChannel, InstID: e.FormatSymbol(symbol)}},
	})
}

// Heartbeat returns the plain-text ping OKX expects within 30s of silence
func (e *SpotExchange) Heartbeat() ([]byte, time.Duration) {
	return []byte("ping"), pingInterval
}

// SnapshotURL is empty: snapshots arrive on the stream
func (e *SpotExchange) SnapshotURL(symbol string, limit int) string {
	return ""
}

// ParseSnapshot is unsupported for OKX
func (e *SpotExchange) ParseSnapshot(symbol string, body []byte) (*exchange.Snapshot, error) {
	return nil, fmt.Errorf("%s delivers snapshots over the stream", e.GetName())
}

// ParseMessage converts books channel pushes to canonical format
func (e *SpotExchange) ParseMessage(raw []byte) (*exchange.DepthUpdate, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("pong")) {
		return nil, nil
	}

	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}
	if msg.Event == "error" {
		return nil, fmt.Errorf("okx error %s: %s", msg.Code, msg.Msg)
	}
	if msg.Event != "" || msg.Arg.Channel != booksChannel || len(msg.Data) == 0 {
		return nil, nil
	}

	data := msg.Data[0]
	bids, err := exchange.ParseLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := exchange.ParseLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	update := &exchange.DepthUpdate{
		Exchange:      e.GetName(),
		Symbol:        msg.Arg.InstID,
		EventTime:     parseMillis(data.Ts),
		FirstUpdateID: data.SeqID,
		FinalUpdateID: data.SeqID,
		Bids:          bids,
		Asks:          asks,
	}

	switch msg.Action {
	case "snapshot":
		update.IsSnapshot = true
	case "update":
		update.PrevUpdateID = data.PrevSeqID
	default:
		return nil, fmt.Errorf("%w: unknown action %q", exchange.ErrMalformedMessage, msg.Action)
	}
	return update, nil
}

// parseMillis leaves the time zero when ts is not a millisecond count
func parseMillis(ts string) time.Time {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// convertToOKXSymbol converts various symbol formats to OKX format
// Examples: BTCUSDT -> BTC-USDT, BTC-USDT -> BTC-USDT
func convertToOKXSymbol(symbol string) string {
	if strings.Contains(symbol, "-") {
		return strings.ToUpper(symbol)
	}

	symbol = strings.ToUpper(symbol)

	if strings.HasSuffix(symbol, "USDT") {
		base := strings.TrimSuffix(symbol, "USDT")
		return fmt.Sprintf("%s-USDT", base)
	}

	if strings.HasSuffix(symbol, "USDC") {
		base := strings.TrimSuffix(symbol, "USDC")
		return fmt.Sprintf("%s-USDC", base)
	}

	if strings.HasSuffix(symbol, "USD") {
		base := strings.TrimSuffix(symbol, "USD")
		return fmt.Sprintf("%s-USD", base)
	}

	logrus.WithField("exchange", exchange.OKX).Warnf("could not convert symbol %s to OKX format, using as-is", symbol)
	return symbol
}
