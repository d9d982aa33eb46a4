package bingx

// Config holds endpoint overrides for BingX
type Config struct {
	WSURL string
}

// SubscriptionMessage represents the subscription request to BingX WebSocket
type SubscriptionMessage struct {
	ID       string `json:"id"`
	ReqType  string `json:"reqType"`
	DataType string `json:"dataType"`
}

// Envelope holds the fields shared by every BingX message.
// Subscription acks carry an id and code but no dataType.
type Envelope struct {
	ID        string `json:"id,omitempty"`
	Code      int    `json:"code,omitempty"`
	Msg       string `json:"msg,omitempty"`
	DataType  string `json:"dataType,omitempty"`
	Timestamp int64  `json:"ts,omitempty"`
}

// WSMessage represents a depth message from BingX Spot
type WSMessage struct {
	Envelope
	Data *DepthData `json:"data,omitempty"`
}

// DepthData represents the depth update data from BingX Spot (map format)
type DepthData struct {
	Action       string            `json:"action"`       // "all" for snapshot, "update" for incremental
	LastUpdateID int64             `json:"lastUpdateId"` // Update ID for tracking continuity
	Bids         map[string]string `json:"bids"`         // map[price]quantity
	Asks         map[string]string `json:"asks"`         // map[price]quantity
}

// FuturesWSMessage represents a depth message from BingX Futures
type FuturesWSMessage struct {
	Envelope
	Data *FuturesDepthData `json:"data,omitempty"`
}

// FuturesDepthData represents the depth update data from BingX Futures (array format)
type FuturesDepthData struct {
	Action       string     `json:"action"`
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"` // [["price", "quantity"]]
	Asks         [][]string `json:"asks"`
	Time         int64      `json:"time"`
}

// PingMessage is the JSON ping BingX Spot sends; it must be echoed as a pong
type PingMessage struct {
	Ping string `json:"ping"`
	Time string `json:"time"`
}

// PongMessage answers a PingMessage
type PongMessage struct {
	Pong string `json:"pong"`
	Time string `json:"time"`
}
