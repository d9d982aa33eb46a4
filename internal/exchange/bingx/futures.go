package bingx

import (
	"fmt"
	"strings"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
)

// FuturesExchange implements exchange.Adapter for BingX perpetual swaps.
// It follows the spot protocol with array-format levels.
type FuturesExchange struct {
	base
}

// NewFuturesExchange creates a new BingX Futures adapter
func NewFuturesExchange(config Config) *FuturesExchange {
	return &FuturesExchange{base: newBase(exchange.BingXf, config, futuresWSURL)}
}

// ParseMessage converts futures depth messages to canonical format
func (e *FuturesExchange) ParseMessage(raw []byte) (*exchange.DepthUpdate, error) {
	data, depth, err := e.envelope(raw)
	if err != nil || !depth {
		return nil, err
	}

	var msg FuturesWSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}
	if msg.Data == nil {
		return nil, nil
	}

	ts := msg.Data.Time
	if ts == 0 {
		ts = msg.Timestamp
	}
	update, err := e.update(msg.Data.Action, msg.Data.LastUpdateID, ts, msg.Data.Bids, msg.Data.Asks)
	if err != nil {
		return nil, err
	}
	update.Symbol = symbolOf(msg.DataType)
	return update, nil
}

// symbolOf extracts BTC-USDT from BTC-USDT@incrDepth
func symbolOf(dataType string) string {
	symbol, _, _ := strings.Cut(dataType, "@")
	return symbol
}
