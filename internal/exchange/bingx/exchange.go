package bingx

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	spotWSURL    = "wss://open-api-ws.bingx.com/market"
	futuresWSURL = "wss://open-api-swap.bingx.com/swap-market"
)

// base holds what BingX Spot and Futures share. BingX gzips most frames and
// pings the client, closing connections that do not answer.
type base struct {
	name  exchange.ExchangeName
	wsURL string
}

func newBase(name exchange.ExchangeName, config Config, wsURL string) base {
	if config.WSURL != "" {
		wsURL = config.WSURL
	}
	return base{name: name, wsURL: wsURL}
}

// GetName returns the exchange name
func (b *base) GetName() exchange.ExchangeName {
	return b.name
}

// FormatSymbol converts BTCUSDT to BTC-USDT
func (b *base) FormatSymbol(symbol string) string {
	return convertToBingXSymbol(symbol)
}

// StreamURL returns the public stream endpoint
func (b *base) StreamURL(symbol string) string {
	return b.wsURL
}

// SubscribeMessage subscribes to <SYMBOL>@incrDepth
func (b *base) SubscribeMessage(symbol string) ([]byte, error) {
	return json.Marshal(SubscriptionMessage{
		ID:       uuid.New().String(),
		ReqType:  "sub",
		DataType: b.dataType(symbol),
	})
}

// Heartbeat is disabled: BingX pings the client
func (b *base) Heartbeat() ([]byte, time.Duration) {
	return nil, 0
}

// SnapshotURL is empty: the first incrDepth message is the full book
func (b *base) SnapshotURL(symbol string, limit int) string {
	return ""
}

// ParseSnapshot is unsupported for BingX
func (b *base) ParseSnapshot(symbol string, body []byte) (*exchange.Snapshot, error) {
	return nil, fmt.Errorf("%s delivers snapshots over the stream", b.name)
}

// PingReply answers the plain "ping"/"Ping" frames and the JSON ping
func (b *base) PingReply(raw []byte) []byte {
	data, err := decode(raw)
	if err != nil {
		return nil
	}
	trimmed := bytes.TrimSpace(data)

	switch string(trimmed) {
	case "ping":
		return []byte("pong")
	case "Ping":
		return []byte("Pong")
	}

	if !bytes.Contains(trimmed, []byte(`"ping"`)) {
		return nil
	}
	var ping PingMessage
	if err := json.Unmarshal(trimmed, &ping); err != nil || ping.Ping == "" {
		return nil
	}
	reply, err := json.Marshal(PongMessage{Pong: ping.Ping, Time: ping.Time})
	if err != nil {
		return nil
	}
	return reply
}

func (b *base) dataType(symbol string) string {
	return fmt.Sprintf("%s@incrDepth", b.FormatSymbol(symbol))
}

// envelope decodes raw and reports whether it is depth traffic
func (b *base) envelope(raw []byte) ([]byte, bool, error) {
	data, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}
	if env.Code != 0 {
		return nil, false, fmt.Errorf("bingx error: code=%d, msg=%s", env.Code, env.Msg)
	}
	return data, strings.HasSuffix(env.DataType, "@incrDepth"), nil
}

// update builds the canonical update for an "all" or "update" action
func (b *base) update(action string, id, ts int64, bids, asks [][]string) (*exchange.DepthUpdate, error) {
	bidLevels, err := exchange.ParseLevels(bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	askLevels, err := exchange.ParseLevels(asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	update := &exchange.DepthUpdate{
		Exchange:      b.name,
		FirstUpdateID: id,
		FinalUpdateID: id,
		Bids:          bidLevels,
		Asks:          askLevels,
	}
	if ts > 0 {
		update.EventTime = time.UnixMilli(ts)
	}

	switch action {
	case "all":
		update.IsSnapshot = true
	case "update":
	default:
		return nil, fmt.Errorf("%w: unknown depth action %q", exchange.ErrMalformedMessage, action)
	}
	return update, nil
}

// decode gunzips binary frames and passes text frames through
func decode(raw []byte) ([]byte, error) {
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		return raw, nil
	}
	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", exchange.ErrMalformedMessage, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", exchange.ErrMalformedMessage, err)
	}
	return data, nil
}

// convertToBingXSymbol converts various symbol formats to BingX format
// Examples: BTCUSDT -> BTC-USDT, BTC-USDT -> BTC-USDT
func convertToBingXSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, "-") {
		return symbol
	}

	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if prefix := strings.TrimSuffix(symbol, quote); prefix != symbol && prefix != "" {
			return fmt.Sprintf("%s-%s", prefix, quote)
		}
	}

	logrus.WithField("exchange", "bingx").Warnf("could not convert symbol %s to BingX format, using as-is", symbol)
	return symbol
}
