package hyperliquid

import "github.com/goccy/go-json"

// Config holds endpoint overrides for Hyperliquid
type Config struct {
	WSURL string
}

// SubscriptionMessage represents a subscription request to Hyperliquid
type SubscriptionMessage struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

// Subscription names the l2Book feed for one coin
type Subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// WSMessage represents a WebSocket message from Hyperliquid.
// Data is decoded per channel.
type WSMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// WsBook represents the full L2 book pushed on every l2Book message
type WsBook struct {
	Coin   string       `json:"coin"`
	Time   int64        `json:"time"`
	Levels [2][]WsLevel `json:"levels"` // [bids, asks]
}

// WsLevel represents a single price level
type WsLevel struct {
	Px string `json:"px"` // price
	Sz string `json:"sz"` // size
	N  int    `json:"n"`  // number of orders
}
