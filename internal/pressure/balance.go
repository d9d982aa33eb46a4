package pressure

import (
	"depthbook/internal/types"

	"github.com/shopspring/decimal"
)

// Dominance names the side with more pressure
type Dominance string

const (
	DominantBid Dominance = "bid"
	DominantAsk Dominance = "ask"
	Neutral     Dominance = "neutral"
)

// dominanceThreshold is the imbalance above which one side dominates
var dominanceThreshold = decimal.NewFromFloat(0.2)

// Balance summarises zones into a bid versus ask signal
type Balance struct {
	BidPressure decimal.Decimal `json:"bidPressure"`
	AskPressure decimal.Decimal `json:"askPressure"`
	Imbalance   decimal.Decimal `json:"imbalance"`
	Dominant    Dominance       `json:"dominantSide"`
}

// Analyze weighs every zone by intensity times volume
func Analyze(zones []Zone) Balance {
	bid, ask := decimal.Zero, decimal.Zero
	for _, z := range zones {
		weight := z.Intensity.Mul(z.Volume)
		switch z.Side {
		case types.Bid:
			bid = bid.Add(weight)
		case types.Ask:
			ask = ask.Add(weight)
		}
	}

	b := Balance{
		BidPressure: bid,
		AskPressure: ask,
		Imbalance:   decimal.Zero,
		Dominant:    Neutral,
	}

	total := bid.Add(ask)
	if total.Sign() <= 0 {
		return b
	}
	b.Imbalance = bid.Sub(ask).Abs().Div(total)

	if b.Imbalance.GreaterThan(dominanceThreshold) {
		if bid.GreaterThan(ask) {
			b.Dominant = DominantBid
		} else {
			b.Dominant = DominantAsk
		}
	}
	return b
}
