package factory

import (
	"fmt"

	"depthbook/internal/exchange"
	"depthbook/internal/exchange/binance"
	"depthbook/internal/exchange/bingx"
	"depthbook/internal/exchange/bybit"
	"depthbook/internal/exchange/coinbase"
	"depthbook/internal/exchange/hyperliquid"
	"depthbook/internal/exchange/okx"
)

// NewAdapter creates the feed adapter for the named exchange
func NewAdapter(name exchange.ExchangeName) (exchange.Adapter, error) {
	switch name {
	case exchange.Binancef:
		return binance.NewFuturesExchange(binance.Config{}), nil

	case exchange.Binance:
		return binance.NewSpotExchange(binance.Config{}), nil

	case exchange.Bybitf:
		return bybit.NewFuturesExchange(bybit.Config{}), nil

	case exchange.Bybit:
		return bybit.NewSpotExchange(bybit.Config{}), nil

	case exchange.OKX:
		return okx.NewSpotExchange(okx.Config{}), nil

	case exchange.Asterdexf:
		return binance.NewAsterdexFuturesExchange(binance.Config{}), nil

	case exchange.Hyperliquidf:
		return hyperliquid.NewFuturesExchange(hyperliquid.Config{}), nil

	case exchange.BingX:
		return bingx.NewSpotExchange(bingx.Config{}), nil

	case exchange.BingXf:
		return bingx.NewFuturesExchange(bingx.Config{}), nil

	case exchange.Coinbase:
		return coinbase.NewSpotExchange(coinbase.Config{}), nil

	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}

// ValidateExchangeName checks if the exchange name is supported
func ValidateExchangeName(name string) bool {
	for _, supported := range GetSupportedExchanges() {
		if exchange.ExchangeName(name) == supported {
			return true
		}
	}
	return false
}

// GetSupportedExchanges returns a list of all supported exchanges
func GetSupportedExchanges() []exchange.ExchangeName {
	return []exchange.ExchangeName{
		exchange.Binancef,
		exchange.Binance,
		exchange.Bybitf,
		exchange.Bybit,
		exchange.OKX,
		exchange.Asterdexf,
		exchange.Hyperliquidf,
		exchange.BingX,
		exchange.BingXf,
		exchange.Coinbase,
	}
}
