package websocket

import (
	"time"

	"depthbook/internal/exchange"
	"depthbook/internal/feed"
	"depthbook/internal/pressure"
	"depthbook/internal/types"
)

type MessageType string

const (
	MessageTypeOrderbook MessageType = "orderbook"
	MessageTypeStats     MessageType = "stats"
	MessageTypePressure  MessageType = "pressure"
	MessageTypeStatus    MessageType = "status"
)

// Client message types
const (
	ClientSubscribe   = "subscribe"
	ClientUnsubscribe = "unsubscribe"
	ClientSetTick     = "set_tick"
	ClientReconnect   = "reconnect"
)

// ClientMessage represents messages sent from client to server
type ClientMessage struct {
	Type     string  `json:"type"`
	Exchange string  `json:"exchange,omitempty"`
	Symbol   string  `json:"symbol,omitempty"`
	Tick     float64 `json:"tick,omitempty"`
}

type OrderbookMessage struct {
	Type       MessageType  `json:"type"`
	Exchange   string       `json:"exchange"`
	Symbol     string       `json:"symbol"`
	SequenceID int64        `json:"sequenceId"`
	Tick       float64      `json:"tick"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Timestamp  int64        `json:"timestamp"`
}

type StatsMessage struct {
	Type                MessageType `json:"type"`
	Exchange            string      `json:"exchange"`
	Symbol              string      `json:"symbol"`
	BestBid             string      `json:"bestBid"`
	BestAsk             string      `json:"bestAsk"`
	MidPrice            string      `json:"midPrice"`
	Spread              string      `json:"spread"`
	BidLiquidity05Pct   string      `json:"bidLiquidity05Pct"`
	AskLiquidity05Pct   string      `json:"askLiquidity05Pct"`
	DeltaLiquidity05Pct string      `json:"deltaLiquidity05Pct"`
	BidLiquidity2Pct    string      `json:"bidLiquidity2Pct"`
	AskLiquidity2Pct    string      `json:"askLiquidity2Pct"`
	DeltaLiquidity2Pct  string      `json:"deltaLiquidity2Pct"`
	BidLiquidity10Pct   string      `json:"bidLiquidity10Pct"`
	AskLiquidity10Pct   string      `json:"askLiquidity10Pct"`
	DeltaLiquidity10Pct string      `json:"deltaLiquidity10Pct"`
	TotalBidsQty        string      `json:"totalBidsQty"`
	TotalAsksQty        string      `json:"totalAsksQty"`
	TotalDelta          string      `json:"totalDelta"`
	Timestamp           int64       `json:"timestamp"`
}

type PressureMessage struct {
	Type      MessageType      `json:"type"`
	Exchange  string           `json:"exchange"`
	Symbol    string           `json:"symbol"`
	Zones     []pressure.Zone  `json:"zones"`
	Balance   pressure.Balance `json:"balance"`
	Timestamp int64            `json:"timestamp"`
}

// StatusMessage carries connection state and pipeline errors
type StatusMessage struct {
	Type      MessageType            `json:"type"`
	Exchange  string                 `json:"exchange"`
	Symbol    string                 `json:"symbol"`
	State     string                 `json:"state"`
	Connected bool                   `json:"connected"`
	Kind      string                 `json:"kind,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Health    *exchange.HealthStatus `json:"health,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

type PriceLevel struct {
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Cumulative string `json:"cumulative"`
}

func toWireLevels(levels []types.OrderLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, PriceLevel{
			Price:      lvl.Price.String(),
			Quantity:   lvl.Quantity.String(),
			Cumulative: lvl.CumulativeTotal.String(),
		})
	}
	return out
}

func buildOrderbookMessage(snap types.BookSnapshot, tick types.TickLevel) OrderbookMessage {
	return OrderbookMessage{
		Type:       MessageTypeOrderbook,
		Exchange:   snap.Exchange,
		Symbol:     snap.Symbol,
		SequenceID: snap.SequenceID,
		Tick:       float64(tick),
		Bids:       toWireLevels(snap.Bids),
		Asks:       toWireLevels(snap.Asks),
		Timestamp:  snap.Timestamp.UnixMilli(),
	}
}

func buildStatsMessage(snap types.BookSnapshot) StatsMessage {
	stats := snap.Stats

	return StatsMessage{
		Type:                MessageTypeStats,
		Exchange:            snap.Exchange,
		Symbol:              snap.Symbol,
		BestBid:             stats.BestBid.String(),
		BestAsk:             stats.BestAsk.String(),
		MidPrice:            stats.MidPrice.String(),
		Spread:              stats.Spread.String(),
		BidLiquidity05Pct:   stats.BidLiquidity05Pct.String(),
		AskLiquidity05Pct:   stats.AskLiquidity05Pct.String(),
		DeltaLiquidity05Pct: stats.DeltaLiquidity05Pct.String(),
		BidLiquidity2Pct:    stats.BidLiquidity2Pct.String(),
		AskLiquidity2Pct:    stats.AskLiquidity2Pct.String(),
		DeltaLiquidity2Pct:  stats.DeltaLiquidity2Pct.String(),
		BidLiquidity10Pct:   stats.BidLiquidity10Pct.String(),
		AskLiquidity10Pct:   stats.AskLiquidity10Pct.String(),
		DeltaLiquidity10Pct: stats.DeltaLiquidity10Pct.String(),
		TotalBidsQty:        stats.TotalBidsQty.String(),
		TotalAsksQty:        stats.TotalAsksQty.String(),
		TotalDelta:          stats.TotalDelta.String(),
		Timestamp:           snap.Timestamp.UnixMilli(),
	}
}

func buildPressureMessage(report pressure.Report) PressureMessage {
	return PressureMessage{
		Type:      MessageTypePressure,
		Exchange:  report.Exchange,
		Symbol:    report.Symbol,
		Zones:     report.Zones,
		Balance:   report.Balance,
		Timestamp: report.Timestamp.UnixMilli(),
	}
}

func buildStatusMessage(key feed.Key, source BookSource, ev *feed.ErrorEvent) StatusMessage {
	msg := StatusMessage{
		Type:      MessageTypeStatus,
		Exchange:  string(key.Exchange),
		Symbol:    key.Symbol,
		State:     source.State(key).String(),
		Connected: source.IsConnected(key),
		Timestamp: time.Now().UnixMilli(),
	}
	if health, ok := source.Health(key); ok {
		msg.Health = &health
	}
	if ev != nil {
		msg.Kind = ev.Kind.String()
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
		}
		msg.Timestamp = ev.Time.UnixMilli()
	}
	return msg
}
