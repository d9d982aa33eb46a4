package bingx

import (
	"fmt"

	"depthbook/internal/exchange"

	"github.com/goccy/go-json"
)

// SpotExchange implements exchange.Adapter for BingX Spot incremental depth.
// The first message is the full book (action "all"); lastUpdateId then
// increments by one per update.
type SpotExchange struct {
	base
}

// NewSpotExchange creates a new BingX Spot adapter
func NewSpotExchange(config Config) *SpotExchange {
	return &SpotExchange{base: newBase(exchange.BingX, config, spotWSURL)}
}

// ParseMessage converts spot depth messages to canonical format
func (e *SpotExchange) ParseMessage(raw []byte) (*exchange.DepthUpdate, error) {
	data, depth, err := e.envelope(raw)
	if err != nil || !depth {
		return nil, err
	}

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}
	if msg.Data == nil {
		return nil, nil
	}

	update, err := e.update(msg.Data.Action, msg.Data.LastUpdateID, msg.Timestamp, mapLevels(msg.Data.Bids), mapLevels(msg.Data.Asks))
	if err != nil {
		return nil, err
	}
	update.Symbol = symbolOf(msg.DataType)
	return update, nil
}

// mapLevels converts the spot price->quantity map to level tuples
func mapLevels(levels map[string]string) [][]string {
	out := make([][]string, 0, len(levels))
	for price, qty := range levels {
		out = append(out, []string{price, qty})
	}
	return out
}
