package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickLevel represents available tick size options for price aggregation
type TickLevel float64

const (
	Tick01  TickLevel = 0.1
	Tick1   TickLevel = 1.0
	Tick10  TickLevel = 10.0
	Tick50  TickLevel = 50.0
	Tick100 TickLevel = 100.0
)

// AvailableTickLevels defines the available tick levels in order of precision
var AvailableTickLevels = []TickLevel{
	Tick01,
	Tick1,
	Tick10,
	Tick50,
	Tick100,
}

// IsValidTickLevel reports whether tick is one of AvailableTickLevels
func IsValidTickLevel(tick TickLevel) bool {
	for _, available := range AvailableTickLevels {
		if available == tick {
			return true
		}
	}
	return false
}

// Side identifies one side of the book
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// OrderLevel is a single price level as published to consumers.
// CumulativeTotal is the running quantity from the best price outward.
type OrderLevel struct {
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	CumulativeTotal decimal.Decimal `json:"cumulative"`
}

// BookSnapshot is an immutable view of a reconstructed book.
// Bids are sorted by price descending, asks ascending.
type BookSnapshot struct {
	Exchange   string       `json:"exchange"`
	Symbol     string       `json:"symbol"`
	Bids       []OrderLevel `json:"bids"`
	Asks       []OrderLevel `json:"asks"`
	Timestamp  time.Time    `json:"timestamp"`
	SequenceID int64        `json:"sequenceId"`
	Stats      Stats        `json:"stats"`
}

// BestBid returns the top bid level, if any
func (s BookSnapshot) BestBid() (OrderLevel, bool) {
	if len(s.Bids) == 0 {
		return OrderLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, if any
func (s BookSnapshot) BestAsk() (OrderLevel, bool) {
	if len(s.Asks) == 0 {
		return OrderLevel{}, false
	}
	return s.Asks[0], true
}

// Stats holds statistical information about the order book
type Stats struct {
	EventsProcessed int64           `json:"eventsProcessed"`
	LastEventTime   time.Time       `json:"lastEventTime"`
	BufferedEvents  int             `json:"bufferedEvents"`
	BidLevels       int             `json:"bidLevels"`
	AskLevels       int             `json:"askLevels"`
	BestBid         decimal.Decimal `json:"bestBid"`
	BestAsk         decimal.Decimal `json:"bestAsk"`
	Spread          decimal.Decimal `json:"spread"`
	MidPrice        decimal.Decimal `json:"midPrice"`

	// Liquidity depth metrics (in base asset units)
	BidLiquidity05Pct decimal.Decimal `json:"bidLiquidity05Pct"` // Total bid size within 0.5% of mid
	AskLiquidity05Pct decimal.Decimal `json:"askLiquidity05Pct"` // Total ask size within 0.5% of mid
	BidLiquidity2Pct  decimal.Decimal `json:"bidLiquidity2Pct"`  // Total bid size within 2% of mid
	AskLiquidity2Pct  decimal.Decimal `json:"askLiquidity2Pct"`  // Total ask size within 2% of mid
	BidLiquidity10Pct decimal.Decimal `json:"bidLiquidity10Pct"` // Total bid size within 10% of mid
	AskLiquidity10Pct decimal.Decimal `json:"askLiquidity10Pct"` // Total ask size within 10% of mid

	// Liquidity imbalance (positive = more bids, negative = more asks)
	DeltaLiquidity05Pct decimal.Decimal `json:"deltaLiquidity05Pct"`
	DeltaLiquidity2Pct  decimal.Decimal `json:"deltaLiquidity2Pct"`
	DeltaLiquidity10Pct decimal.Decimal `json:"deltaLiquidity10Pct"`

	// Total quantities across all price levels
	TotalBidsQty decimal.Decimal `json:"totalBidsQty"`
	TotalAsksQty decimal.Decimal `json:"totalAsksQty"`
	TotalDelta   decimal.Decimal `json:"totalDelta"` // TotalBidsQty - TotalAsksQty (positive = more bids)
}
