package binance

import (
	"depthbook/internal/exchange"
)

const (
	futuresRestURL       = "https://fapi.binance.com/fapi/v1/depth"
	futuresWSURL         = "wss://fstream.binance.com/stream"
	futuresMaxDepthLimit = 1000
)

// NewFuturesExchange creates a Binance USD-M Futures adapter. Futures depth
// events carry "pu", which chains each event to the previous one.
func NewFuturesExchange(config Config) *Exchange {
	return newExchange(exchange.Binancef, config, futuresRestURL, futuresWSURL, futuresMaxDepthLimit)
}
