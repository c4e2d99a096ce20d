package orderbook

import "github.com/shopspring/decimal"

// PriceLevel is the FIFO queue of orders resting at one exact price on one side.
// Orders are linked intrusively so that any of them can be unlinked in O(1).
type PriceLevel struct {
	price  decimal.Decimal
	head   *Order
	tail   *Order
	volume uint64 // sum of remaining sizes
	count  int
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{price: price}
}

func (l *PriceLevel) Price() decimal.Decimal { return l.price }
func (l *PriceLevel) Volume() uint64         { return l.volume }
func (l *PriceLevel) Len() int               { return l.count }
func (l *PriceLevel) Empty() bool            { return l.head == nil }

// Front returns the order with the highest time priority, nil if empty.
func (l *PriceLevel) Front() *Order { return l.head }

// enqueue appends o at the back of the queue.
func (l *PriceLevel) enqueue(o *Order) {
	o.level = l
	o.next = nil
	if l.tail == nil {
		o.prev = nil
		l.head = o
		l.tail = o
	} else {
		l.tail.next = o
		o.prev = l.tail
		l.tail = o
	}
	l.volume += o.Remaining
	l.count++
}

// remove unlinks o, keeping the relative order of the others.
func (l *PriceLevel) remove(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	l.volume -= o.Remaining
	l.count--
	o.level, o.prev, o.next = nil, nil, nil
}

// fill decrements o's remaining size by qty. The caller guarantees qty <= o.Remaining.
func (l *PriceLevel) fill(o *Order, qty uint64) {
	o.Remaining -= qty
	l.volume -= qty
}

func (l *PriceLevel) snapshot() Level {
	return Level{Price: l.price, Volume: l.volume, Orders: l.count}
}

// orders returns the queue in time priority, used by tests and digests.
func (l *PriceLevel) orders() []*Order {
	out := make([]*Order, 0, l.count)
	for o := l.head; o != nil; o = o.next {
		out = append(out, o)
	}
	return out
}
