package binance

// Config holds endpoint overrides for Binance. Empty fields use the
// production endpoints.
type Config struct {
	RestURL string
	WSURL   string
}

// SnapshotResponse represents the REST API response for Binance order book snapshot
type SnapshotResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// WSMessage represents a combined-stream message from Binance.
// Subscription acks carry Result/ID and no Stream.
type WSMessage struct {
	Stream string       `json:"stream"`
	Data   *DepthUpdate `json:"data"`
	Result any          `json:"result"`
	ID     *int64       `json:"id"`
	Error  *WSError     `json:"error"`
}

// WSError is returned for rejected requests
type WSError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// DepthUpdate represents a depth update event from Binance WebSocket
type DepthUpdate struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	PrevUpdateID  int64      `json:"pu"` // futures only
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// SubscribeRequest is the combined-stream SUBSCRIBE request
type SubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}
