package orderbook

import (
	"errors"
	"fmt"
	"time"

	"depthbook/internal/exchange"
	"depthbook/internal/types"

	"github.com/shopspring/decimal"
)

// DefaultMaxBufferSize caps updates buffered while waiting for a snapshot
const DefaultMaxBufferSize = 1000

var (
	// ErrSequenceGap means an update does not chain from the last applied id.
	// The book can no longer be trusted and must be rebuilt from a snapshot.
	ErrSequenceGap = errors.New("sequence gap")

	// ErrBufferOverflow means too many updates arrived before a snapshot
	ErrBufferOverflow = errors.New("update buffer overflow")

	// ErrNotInitialized is returned when reading a book that has no snapshot
	ErrNotInitialized = errors.New("order book not initialized")
)

// Result describes what ApplyUpdate did with an update
type Result int

const (
	Buffered Result = iota
	Stale
	Applied
)

func (r Result) String() string {
	switch r {
	case Buffered:
		return "buffered"
	case Stale:
		return "stale"
	case Applied:
		return "applied"
	default:
		return "unknown"
	}
}

var (
	pct05  = decimal.NewFromFloat(0.005)
	pct2   = decimal.NewFromFloat(0.02)
	pct10  = decimal.NewFromFloat(0.10)
	twoDec = decimal.NewFromInt(2)
)

// OrderBook reconstructs one venue/symbol book from a snapshot and ordered
// diff updates. It is not safe for concurrent use: exactly one goroutine
// owns it and everything else reads published snapshots.
type OrderBook struct {
	exchange      exchange.ExchangeName
	symbol        string
	bids          *Ledger
	asks          *Ledger
	lastUpdateID  int64
	eventBuffer   []*exchange.DepthUpdate
	initialized   bool
	maxBufferSize int

	eventsProcessed int64
	lastEventTime   time.Time
}

// New creates a new OrderBook instance
func New(name exchange.ExchangeName, symbol string) *OrderBook {
	return &OrderBook{
		exchange:      name,
		symbol:        symbol,
		bids:          NewLedger(),
		asks:          NewLedger(),
		eventBuffer:   make([]*exchange.DepthUpdate, 0),
		maxBufferSize: DefaultMaxBufferSize,
	}
}

// SetMaxBufferSize changes the pre-snapshot buffer cap. n <= 0 disables it.
func (ob *OrderBook) SetMaxBufferSize(n int) {
	ob.maxBufferSize = n
}

// ApplySnapshot replaces the book with snapshot and replays buffered updates
// that still chain from it. It returns the number of buffered updates applied.
// Calling it again is a full reset.
func (ob *OrderBook) ApplySnapshot(snapshot *exchange.Snapshot) (int, error) {
	ob.bids.Clear()
	ob.asks.Clear()

	for _, bid := range snapshot.Bids {
		ob.bids.Upsert(bid.Price, bid.Quantity)
	}
	for _, ask := range snapshot.Asks {
		ob.asks.Upsert(ask.Price, ask.Quantity)
	}

	ob.lastUpdateID = snapshot.LastUpdateID
	ob.initialized = true
	if !snapshot.Timestamp.IsZero() {
		ob.lastEventTime = snapshot.Timestamp
	}

	buffered := ob.eventBuffer
	ob.eventBuffer = make([]*exchange.DepthUpdate, 0)

	applied := 0
	for _, event := range buffered {
		result, err := ob.ApplyUpdate(event)
		if err != nil {
			return applied, err
		}
		if result == Applied {
			applied++
		}
	}
	return applied, nil
}

// ApplyUpdate applies a depth update if it chains from the last applied id.
// Before the first snapshot updates are buffered; stale or duplicate updates
// are dropped; a gap returns ErrSequenceGap without touching the ledgers.
func (ob *OrderBook) ApplyUpdate(update *exchange.DepthUpdate) (Result, error) {
	if !ob.initialized {
		if ob.maxBufferSize > 0 && len(ob.eventBuffer) >= ob.maxBufferSize {
			return Buffered, fmt.Errorf("%w: %d events pending without snapshot", ErrBufferOverflow, len(ob.eventBuffer))
		}
		ob.eventBuffer = append(ob.eventBuffer, update)
		return Buffered, nil
	}

	last := ob.lastUpdateID

	// Venues that publish the previous id chain explicitly, even when ids
	// are not contiguous.
	if update.PrevUpdateID != 0 && update.PrevUpdateID == last && update.FinalUpdateID != last {
		ob.applyUpdate(update)
		return Applied, nil
	}

	if update.FinalUpdateID <= last {
		return Stale, nil
	}

	if update.FirstUpdateID > last+1 {
		return Stale, fmt.Errorf("%w: expected first id <= %d, got U=%d u=%d pu=%d",
			ErrSequenceGap, last+1, update.FirstUpdateID, update.FinalUpdateID, update.PrevUpdateID)
	}

	ob.applyUpdate(update)
	return Applied, nil
}

// applyUpdate writes every level of update into the ledgers
func (ob *OrderBook) applyUpdate(update *exchange.DepthUpdate) {
	for _, bid := range update.Bids {
		ob.bids.Upsert(bid.Price, bid.Quantity)
	}
	for _, ask := range update.Asks {
		ob.asks.Upsert(ask.Price, ask.Quantity)
	}

	ob.lastUpdateID = update.FinalUpdateID
	ob.eventsProcessed++
	if !update.EventTime.IsZero() {
		ob.lastEventTime = update.EventTime
	}
}

// IsInitialized returns whether a snapshot has been applied
func (ob *OrderBook) IsInitialized() bool {
	return ob.initialized
}

// LastUpdateID returns the id of the last applied snapshot or update
func (ob *OrderBook) LastUpdateID() int64 {
	return ob.lastUpdateID
}

// GetBufferLength returns the current buffer length
func (ob *OrderBook) GetBufferLength() int {
	return len(ob.eventBuffer)
}

// Snapshot builds an immutable view with up to depth levels per side.
// Stats cover the full book.
func (ob *OrderBook) Snapshot(depth int, at time.Time) (types.BookSnapshot, error) {
	if !ob.initialized {
		return types.BookSnapshot{}, ErrNotInitialized
	}
	return types.BookSnapshot{
		Exchange:   string(ob.exchange),
		Symbol:     ob.symbol,
		Bids:       ob.bids.Levels(Descending, depth),
		Asks:       ob.asks.Levels(Ascending, depth),
		Timestamp:  at,
		SequenceID: ob.lastUpdateID,
		Stats:      ob.Stats(),
	}, nil
}

// Stats computes statistics over the full book
func (ob *OrderBook) Stats() types.Stats {
	stats := types.Stats{
		EventsProcessed: ob.eventsProcessed,
		LastEventTime:   ob.lastEventTime,
		BufferedEvents:  len(ob.eventBuffer),
		BidLevels:       ob.bids.Len(),
		AskLevels:       ob.asks.Len(),
	}

	bestBid, hasBid := ob.bids.Best(Descending)
	bestAsk, hasAsk := ob.asks.Best(Ascending)
	stats.BestBid = bestBid
	stats.BestAsk = bestAsk

	if hasBid && hasAsk && bestAsk.GreaterThan(bestBid) {
		stats.Spread = bestAsk.Sub(bestBid)
	}

	ob.calculateLiquidityDepth(&stats, hasBid && hasAsk)
	return stats
}

// calculateLiquidityDepth calculates liquidity at various depth percentages
func (ob *OrderBook) calculateLiquidityDepth(stats *types.Stats, twoSided bool) {
	totalBidsQty := decimal.Zero
	ob.bids.Walk(Descending, func(_, qty decimal.Decimal) bool {
		totalBidsQty = totalBidsQty.Add(qty)
		return true
	})
	totalAsksQty := decimal.Zero
	ob.asks.Walk(Ascending, func(_, qty decimal.Decimal) bool {
		totalAsksQty = totalAsksQty.Add(qty)
		return true
	})
	stats.TotalBidsQty = totalBidsQty
	stats.TotalAsksQty = totalAsksQty
	stats.TotalDelta = totalBidsQty.Sub(totalAsksQty)

	if !twoSided {
		return
	}

	midPrice := stats.BestBid.Add(stats.BestAsk).Div(twoDec)
	stats.MidPrice = midPrice

	minBid05Pct := midPrice.Sub(midPrice.Mul(pct05))
	minBid2Pct := midPrice.Sub(midPrice.Mul(pct2))
	minBid10Pct := midPrice.Sub(midPrice.Mul(pct10))

	bidLiq05, bidLiq2, bidLiq10 := decimal.Zero, decimal.Zero, decimal.Zero
	ob.bids.Walk(Descending, func(price, qty decimal.Decimal) bool {
		if price.LessThan(minBid10Pct) {
			return false
		}
		bidLiq10 = bidLiq10.Add(qty)
		if price.GreaterThanOrEqual(minBid2Pct) {
			bidLiq2 = bidLiq2.Add(qty)
		}
		if price.GreaterThanOrEqual(minBid05Pct) {
			bidLiq05 = bidLiq05.Add(qty)
		}
		return true
	})

	maxAsk05Pct := midPrice.Add(midPrice.Mul(pct05))
	maxAsk2Pct := midPrice.Add(midPrice.Mul(pct2))
	maxAsk10Pct := midPrice.Add(midPrice.Mul(pct10))

	askLiq05, askLiq2, askLiq10 := decimal.Zero, decimal.Zero, decimal.Zero
	ob.asks.Walk(Ascending, func(price, qty decimal.Decimal) bool {
		if price.GreaterThan(maxAsk10Pct) {
			return false
		}
		askLiq10 = askLiq10.Add(qty)
		if price.LessThanOrEqual(maxAsk2Pct) {
			askLiq2 = askLiq2.Add(qty)
		}
		if price.LessThanOrEqual(maxAsk05Pct) {
			askLiq05 = askLiq05.Add(qty)
		}
		return true
	})

	stats.BidLiquidity05Pct = bidLiq05
	stats.AskLiquidity05Pct = askLiq05
	stats.BidLiquidity2Pct = bidLiq2
	stats.AskLiquidity2Pct = askLiq2
	stats.BidLiquidity10Pct = bidLiq10
	stats.AskLiquidity10Pct = askLiq10

	// positive = more bid liquidity = bullish pressure
	stats.DeltaLiquidity05Pct = bidLiq05.Sub(askLiq05)
	stats.DeltaLiquidity2Pct = bidLiq2.Sub(askLiq2)
	stats.DeltaLiquidity10Pct = bidLiq10.Sub(askLiq10)
}
