package okx

// Config holds endpoint overrides for OKX. Empty fields use the
// production endpoints.
type Config struct {
	WSURL string
}

// SubscribeRequest represents a subscription request
type SubscribeRequest struct {
	Op   string         `json:"op"`
	Args []ChannelParam `json:"args"`
}

// ChannelParam identifies a channel and instrument
type ChannelParam struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// WSMessage represents a push or event message from OKX
type WSMessage struct {
	Event  string          `json:"event"` // "subscribe", "error" for events
	Code   string          `json:"code"`
	Msg    string          `json:"msg"`
	Arg    ChannelParam    `json:"arg"`
	Action string          `json:"action"` // "snapshot" or "update"
	Data   []OrderBookData `json:"data"`
}

// OrderBookData represents one books channel payload
type OrderBookData struct {
	Asks      [][]string `json:"asks"` // [price, quantity, deprecated, order_count]
	Bids      [][]string `json:"bids"` // [price, quantity, deprecated, order_count]
	Ts        string     `json:"ts"`
	Checksum  int64      `json:"checksum"`
	PrevSeqID int64      `json:"prevSeqId"` // -1 on snapshots
	SeqID     int64      `json:"seqId"`
}
