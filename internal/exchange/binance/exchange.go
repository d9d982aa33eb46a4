package binance

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
)

// Exchange implements exchange.Adapter for Binance diff depth streams
type Exchange struct {
	name     exchange.ExchangeName
	restURL  string
	wsURL    string
	maxLimit int
}

func newExchange(name exchange.ExchangeName, config Config, restURL, wsURL string, maxLimit int) *Exchange {
	if config.RestURL != "" {
		restURL = config.RestURL
	}
	if config.WSURL != "" {
		wsURL = config.WSURL
	}
	return &Exchange{
		name:     name,
		restURL:  restURL,
		wsURL:    wsURL,
		maxLimit: maxLimit,
	}
}

// GetName returns the exchange name
func (e *Exchange) GetName() exchange.ExchangeName {
	return e.name
}

// FormatSymbol returns the REST form of the symbol (BTCUSDT)
func (e *Exchange) FormatSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// StreamURL returns the combined stream endpoint; the depth stream is added
// by SubscribeMessage
func (e *Exchange) StreamURL(symbol string) string {
	return e.wsURL
}

// SubscribeMessage returns the SUBSCRIBE request for the 100ms diff depth stream
func (e *Exchange) SubscribeMessage(symbol string) ([]byte, error) {
	return json.Marshal(SubscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{streamName(symbol)},
		ID:     1,
	})
}

// Heartbeat is disabled; Binance pings and gorilla answers with pongs
func (e *Exchange) Heartbeat() ([]byte, time.Duration) {
	return nil, 0
}

// SnapshotURL returns GET /depth?symbol=<SYM>&limit=<N>
func (e *Exchange) SnapshotURL(symbol string, limit int) string {
	if limit <= 0 || limit > e.maxLimit {
		limit = e.maxLimit
	}
	q := url.Values{}
	q.Set("symbol", e.FormatSymbol(symbol))
	q.Set("limit", strconv.Itoa(limit))
	return e.restURL + "?" + q.Encode()
}

// ParseSnapshot converts a REST depth response to canonical format
func (e *Exchange) ParseSnapshot(symbol string, body []byte) (*exchange.Snapshot, error) {
	var resp SnapshotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", exchange.ErrMalformedMessage, err)
	}
	if resp.LastUpdateID == 0 {
		return nil, fmt.Errorf("%w: snapshot without lastUpdateId", exchange.ErrMalformedMessage)
	}

	bids, err := exchange.ParseLevels(resp.Bids)
	if err != nil {
		return nil, fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := exchange.ParseLevels(resp.Asks)
	if err != nil {
		return nil, fmt.Errorf("snapshot asks: %w", err)
	}

	return &exchange.Snapshot{
		Exchange:     e.name,
		Symbol:       e.FormatSymbol(symbol),
		LastUpdateID: resp.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// ParseMessage converts a depthUpdate event to canonical format
func (e *Exchange) ParseMessage(raw []byte) (*exchange.DepthUpdate, error) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("binance error %d: %s", msg.Error.Code, msg.Error.Msg)
	}
	if msg.Data == nil || msg.Data.EventType != "depthUpdate" {
		return nil, nil
	}
	return e.convertDepthUpdate(msg.Data)
}

// convertDepthUpdate converts Binance depth update to canonical format
func (e *Exchange) convertDepthUpdate(update *DepthUpdate) (*exchange.DepthUpdate, error) {
	if update.FinalUpdateID < update.FirstUpdateID {
		return nil, fmt.Errorf("%w: update range U=%d u=%d", exchange.ErrMalformedMessage, update.FirstUpdateID, update.FinalUpdateID)
	}
	bids, err := exchange.ParseLevels(update.Bids)
	if err != nil {
		return nil, fmt.Errorf("update bids: %w", err)
	}
	asks, err := exchange.ParseLevels(update.Asks)
	if err != nil {
		return nil, fmt.Errorf("update asks: %w", err)
	}

	return &exchange.DepthUpdate{
		Exchange:      e.name,
		Symbol:        update.Symbol,
		EventTime:     time.UnixMilli(update.EventTime),
		FirstUpdateID: update.FirstUpdateID,
		FinalUpdateID: update.FinalUpdateID,
		PrevUpdateID:  update.PrevUpdateID,
		Bids:          bids,
		Asks:          asks,
	}, nil
}

func streamName(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol)) + "@depth@100ms"
}
