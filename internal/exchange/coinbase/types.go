package coinbase

// Config holds endpoint overrides for Coinbase
type Config struct {
	WSURL string
}

// SubscribeRequest represents a subscription request to Coinbase WebSocket
type SubscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

// WSMessage represents a WebSocket message from Coinbase.
// SequenceNum counts every message on the connection, whatever the channel.
type WSMessage struct {
	Channel     string  `json:"channel"`
	Timestamp   string  `json:"timestamp"`
	SequenceNum *int64  `json:"sequence_num"`
	Events      []Event `json:"events"`
	Type        string  `json:"type"`    // "error" for rejected requests
	Message     string  `json:"message"` // error text
}

// Event represents an event in the WebSocket message
type Event struct {
	Type      string   `json:"type"` // "snapshot" or "update"
	ProductID string   `json:"product_id"`
	Updates   []Update `json:"updates"`
}

// Update represents a single price level update
type Update struct {
	Side        string `json:"side"`         // "bid" or "offer"
	EventTime   string `json:"event_time"`   // timestamp
	PriceLevel  string `json:"price_level"`  // price
	NewQuantity string `json:"new_quantity"` // quantity (if "0", remove level)
}
