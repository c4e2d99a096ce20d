package orderbook

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

// levelsDegree is the btree node degree used for both sides.
const levelsDegree = 32

// bookSide keeps the price levels of one side ordered best-first:
// bids by descending price, asks by ascending price.
type bookSide struct {
	side   Side
	levels *btree.BTreeG[*PriceLevel]
}

func newBookSide(side Side) *bookSide {
	less := func(a, b *PriceLevel) bool { return a.price.LessThan(b.price) }
	if side == Bid {
		less = func(a, b *PriceLevel) bool { return a.price.GreaterThan(b.price) }
	}
	return &bookSide{
		side:   side,
		levels: btree.NewG(levelsDegree, less),
	}
}

// best returns the top of this side, nil when empty.
func (s *bookSide) best() *PriceLevel {
	l, ok := s.levels.Min()
	if !ok {
		return nil
	}
	return l
}

// crossedBy reports whether an incoming order at price on the opposite side
// trades against this side's best level.
func (s *bookSide) crossedBy(price decimal.Decimal) bool {
	top := s.best()
	if top == nil {
		return false
	}
	if s.side == Ask {
		// incoming bid
		return price.GreaterThanOrEqual(top.price)
	}
	// incoming ask
	return price.LessThanOrEqual(top.price)
}

func (s *bookSide) level(price decimal.Decimal) *PriceLevel {
	l, ok := s.levels.Get(&PriceLevel{price: price})
	if !ok {
		return nil
	}
	return l
}

func (s *bookSide) getOrCreate(price decimal.Decimal) *PriceLevel {
	if l := s.level(price); l != nil {
		return l
	}
	l := newPriceLevel(price)
	s.levels.ReplaceOrInsert(l)
	return l
}

func (s *bookSide) removeLevel(l *PriceLevel) {
	s.levels.Delete(l)
}

func (s *bookSide) len() int { return s.levels.Len() }

// depth aggregates up to limit levels best-first; limit <= 0 means all.
func (s *bookSide) depth(limit int) []Level {
	n := s.levels.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Level, 0, n)
	s.levels.Ascend(func(l *PriceLevel) bool {
		if len(out) == n {
			return false
		}
		out = append(out, l.snapshot())
		return true
	})
	return out
}

// each visits levels best-first until fn returns false.
func (s *bookSide) each(fn func(*PriceLevel) bool) {
	s.levels.Ascend(fn)
}
