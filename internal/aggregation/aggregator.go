package aggregation

import (
	"depthbook/internal/types"

	"github.com/shopspring/decimal"
)

var _ types.PriceAggregator = (*Aggregator)(nil)

// Aggregator groups price levels into tick buckets for display. Bids are
// floored and asks ceiled so the aggregated spread never crosses.
type Aggregator struct {
	currentTick types.TickLevel
}

// New creates a new Aggregator instance
func New(tick types.TickLevel) *Aggregator {
	return &Aggregator{
		currentTick: tick,
	}
}

// SetTickLevel updates the tick level for aggregation
func (a *Aggregator) SetTickLevel(tick types.TickLevel) {
	a.currentTick = tick
}

// GetTickLevel returns the current tick level
func (a *Aggregator) GetTickLevel() types.TickLevel {
	return a.currentTick
}

// AggregateBids buckets bid levels given best price first (descending)
func (a *Aggregator) AggregateBids(levels []types.OrderLevel) []types.OrderLevel {
	return a.aggregate(levels, a.roundToTickBid)
}

// AggregateAsks buckets ask levels given best price first (ascending)
func (a *Aggregator) AggregateAsks(levels []types.OrderLevel) []types.OrderLevel {
	return a.aggregate(levels, a.roundToTickAsk)
}

// Apply returns a copy of snapshot with both sides aggregated
func (a *Aggregator) Apply(snapshot types.BookSnapshot) types.BookSnapshot {
	out := snapshot
	out.Bids = a.AggregateBids(snapshot.Bids)
	out.Asks = a.AggregateAsks(snapshot.Asks)
	return out
}

// aggregate merges consecutive levels that round to the same bucket.
// Rounding is monotonic, so sorted input stays sorted and buckets are contiguous.
func (a *Aggregator) aggregate(levels []types.OrderLevel, round func(decimal.Decimal) decimal.Decimal) []types.OrderLevel {
	if len(levels) == 0 {
		return []types.OrderLevel{}
	}

	out := make([]types.OrderLevel, 0, len(levels))
	cumulative := decimal.Zero
	for _, level := range levels {
		bucket := round(level.Price)
		cumulative = cumulative.Add(level.Quantity)

		if n := len(out); n > 0 && out[n-1].Price.Equal(bucket) {
			out[n-1].Quantity = out[n-1].Quantity.Add(level.Quantity)
			out[n-1].CumulativeTotal = cumulative
			continue
		}
		out = append(out, types.OrderLevel{
			Price:           bucket,
			Quantity:        level.Quantity,
			CumulativeTotal: cumulative,
		})
	}
	return out
}

func (a *Aggregator) tickSize() decimal.Decimal {
	return decimal.NewFromFloat(float64(a.currentTick))
}

// roundToTickBid rounds a bid price DOWN to maintain proper spread
func (a *Aggregator) roundToTickBid(price decimal.Decimal) decimal.Decimal {
	tickSize := a.tickSize()
	if tickSize.Sign() <= 0 {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// roundToTickAsk rounds an ask price UP to maintain proper spread
func (a *Aggregator) roundToTickAsk(price decimal.Decimal) decimal.Decimal {
	tickSize := a.tickSize()
	if tickSize.Sign() <= 0 {
		return price
	}
	return price.Div(tickSize).Ceil().Mul(tickSize)
}
