package binance

import (
	"depthbook/internal/exchange"
)

// Aster DEX perpetuals serve the Binance USD-M futures API, "pu" included
const (
	asterdexRestURL = "https://fapi.asterdex.com/fapi/v1/depth"
	asterdexWSURL   = "wss://fstream.asterdex.com/stream"
)

// NewAsterdexFuturesExchange creates an Aster DEX perpetuals adapter
func NewAsterdexFuturesExchange(config Config) *Exchange {
	return newExchange(exchange.Asterdexf, config, asterdexRestURL, asterdexWSURL, futuresMaxDepthLimit)
}
