package orderbook

import (
	"sort"

	"depthbook/internal/types"

	"github.com/shopspring/decimal"
)

// Direction selects the walk order over a ledger
type Direction int

const (
	Ascending Direction = iota
	Descending
)

type ledgerEntry struct {
	price    decimal.Decimal
	quantity decimal.Decimal
}

// Ledger maps price to resting quantity for one side of the book.
// Levels are kept sorted by price ascending; absence means no resting quantity.
type Ledger struct {
	levels []ledgerEntry
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{levels: make([]ledgerEntry, 0, 256)}
}

// search returns the index of price, or where it would be inserted
func (l *Ledger) search(price decimal.Decimal) (int, bool) {
	idx := sort.Search(len(l.levels), func(i int) bool {
		return l.levels[i].price.Cmp(price) >= 0
	})
	return idx, idx < len(l.levels) && l.levels[idx].price.Equal(price)
}

// Upsert sets the quantity at price. A zero quantity removes the level.
func (l *Ledger) Upsert(price, quantity decimal.Decimal) {
	idx, found := l.search(price)

	if quantity.Sign() <= 0 {
		if found {
			l.levels = append(l.levels[:idx], l.levels[idx+1:]...)
		}
		return
	}

	if found {
		l.levels[idx].quantity = quantity
		return
	}

	l.levels = append(l.levels, ledgerEntry{})
	copy(l.levels[idx+1:], l.levels[idx:])
	l.levels[idx] = ledgerEntry{price: price, quantity: quantity}
}

// quantityAt returns the resting quantity at price
func (l *Ledger) quantityAt(price decimal.Decimal) (decimal.Decimal, bool) {
	idx, found := l.search(price)
	if !found {
		return decimal.Zero, false
	}
	return l.levels[idx].quantity, true
}

// Len returns the number of price levels
func (l *Ledger) Len() int {
	return len(l.levels)
}

// Clear removes every level
func (l *Ledger) Clear() {
	l.levels = l.levels[:0]
}

// Best returns the first price in the given direction
func (l *Ledger) Best(dir Direction) (decimal.Decimal, bool) {
	if len(l.levels) == 0 {
		return decimal.Zero, false
	}
	if dir == Descending {
		return l.levels[len(l.levels)-1].price, true
	}
	return l.levels[0].price, true
}

// Walk visits levels in the given direction until fn returns false
func (l *Ledger) Walk(dir Direction, fn func(price, quantity decimal.Decimal) bool) {
	if dir == Descending {
		for i := len(l.levels) - 1; i >= 0; i-- {
			if !fn(l.levels[i].price, l.levels[i].quantity) {
				return
			}
		}
		return
	}
	for _, lvl := range l.levels {
		if !fn(lvl.price, lvl.quantity) {
			return
		}
	}
}

// Levels returns up to limit levels in the given direction with cumulative
// totals accumulated from the first level. limit <= 0 returns every level.
func (l *Ledger) Levels(dir Direction, limit int) []types.OrderLevel {
	n := len(l.levels)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]types.OrderLevel, 0, n)
	cumulative := decimal.Zero
	l.Walk(dir, func(price, quantity decimal.Decimal) bool {
		if len(out) == n {
			return false
		}
		cumulative = cumulative.Add(quantity)
		out = append(out, types.OrderLevel{
			Price:           price,
			Quantity:        quantity,
			CumulativeTotal: cumulative,
		})
		return true
	})
	return out
}
