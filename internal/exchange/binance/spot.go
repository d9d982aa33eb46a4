package binance

import (
	"depthbook/internal/exchange"
)

const (
	spotRestURL       = "https://api.binance.com/api/v3/depth"
	spotWSURL         = "wss://stream.binance.com:9443/stream"
	spotMaxDepthLimit = 5000
)

// NewSpotExchange creates a Binance Spot adapter
func NewSpotExchange(config Config) *Exchange {
	return newExchange(exchange.Binance, config, spotRestURL, spotWSURL, spotMaxDepthLimit)
}
