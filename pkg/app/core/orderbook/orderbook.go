package orderbook

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderBook holds the resting orders of one instrument and matches incoming
// orders by price-time priority. All methods are safe for concurrent use;
// mutations are serialised by an exclusive lock held for the whole operation.
type OrderBook struct {
	mu sync.RWMutex

	name string
	log  *zap.SugaredLogger

	bids *bookSide
	asks *bookSide

	// Order index for O(1) cancellation
	index map[OrderID]*Order

	lastOrderID OrderID
	lastSubmit  uint64
	lastTrade   uint64

	lastPrice    decimal.Decimal // most recent fill price
	hasLastPrice bool

	// halted is set on the first invariant violation and never cleared
	halted error
}

// BookOption configures an OrderBook.
type BookOption func(*OrderBook)

// WithLogger sets the logger used to report invariant violations.
func WithLogger(log *zap.SugaredLogger) BookOption {
	return func(b *OrderBook) {
		b.log = log
	}
}

// WithName labels the book in log lines, typically with the pair symbol.
func WithName(name string) BookOption {
	return func(b *OrderBook) {
		b.name = name
	}
}

func NewOrderBook(opts ...BookOption) *OrderBook {
	b := &OrderBook{
		log:   zap.NewNop().Sugar(),
		bids:  newBookSide(Bid),
		asks:  newBookSide(Ask),
		index: make(map[OrderID]*Order),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *OrderBook) sideOf(s Side) *bookSide {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

func validate(side Side, price decimal.Decimal, size uint64) error {
	if !side.Valid() {
		return fmt.Errorf("%w: unsupported side %d", ErrInvalidOrder, side)
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidOrder, price)
	}
	if size == 0 {
		return fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}
	return nil
}

// AddOrder matches an incoming limit order against the opposite side and rests
// any GTC remainder at its own price. Trades are returned in execution order
// and always print at the maker's price.
//
// Validation failures leave the book untouched. If the book is found in a
// corrupted state the trades executed so far are returned together with an
// error wrapping ErrInvariantViolation, and the book refuses further mutations.
func (b *OrderBook) AddOrder(side Side, price decimal.Decimal, size uint64, owner string, opts ...OrderOption) (Result, error) {
	if err := validate(side, price, size); err != nil {
		return Result{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halted != nil {
		return Result{}, b.haltedErr()
	}

	b.lastOrderID++
	b.lastSubmit++
	o := &Order{
		ID:        b.lastOrderID,
		Side:      side,
		Price:     price,
		Size:      size,
		Remaining: size,
		Seq:       b.lastSubmit,
		Owner:     owner,
		Status:    Open,
	}
	for _, opt := range opts {
		opt(o)
	}

	trades, err := b.match(o)
	if err != nil {
		return Result{OrderID: o.ID, Status: o.Status, Remaining: o.Remaining, Trades: trades}, err
	}

	res := Result{OrderID: o.ID, Trades: trades}
	switch {
	case o.Remaining == 0:
		o.Status = Filled
	case o.TimeInForce == IOC:
		o.Status = Cancelled
	default:
		b.sideOf(side).getOrCreate(price).enqueue(o)
		b.index[o.ID] = o
		res.Resting = true
	}
	res.Status = o.Status
	res.Remaining = o.Remaining

	if err := b.checkCrossed(); err != nil {
		return res, err
	}
	return res, nil
}

// match consumes opposite levels best price first, FIFO within a level.
func (b *OrderBook) match(o *Order) ([]Trade, error) {
	var trades []Trade
	opposite := b.sideOf(o.Side.Opposite())

	for o.Remaining > 0 && opposite.crossedBy(o.Price) {
		level := opposite.best()

		for o.Remaining > 0 && !level.Empty() {
			maker := level.Front()
			if maker.Remaining == 0 || maker.Remaining > maker.Size {
				return trades, b.violate("resting order %d has remaining %d of %d", maker.ID, maker.Remaining, maker.Size)
			}

			qty := min(o.Remaining, maker.Remaining)
			b.lastTrade++
			trades = append(trades, Trade{
				Seq:          b.lastTrade,
				MakerOrderID: maker.ID,
				TakerOrderID: o.ID,
				MakerOwner:   maker.Owner,
				TakerOwner:   o.Owner,
				TakerSide:    o.Side,
				Price:        maker.Price,
				Size:         qty,
			})

			level.fill(maker, qty)
			o.Remaining -= qty
			o.Status = PartiallyFilled
			b.lastPrice = maker.Price
			b.hasLastPrice = true

			if maker.Remaining == 0 {
				maker.Status = Filled
				level.remove(maker)
				delete(b.index, maker.ID)
			} else {
				maker.Status = PartiallyFilled
			}
		}

		if level.Empty() {
			opposite.removeLevel(level)
		}
	}
	return trades, nil
}

// CancelOrder removes a resting order. It never produces trades.
// A second cancel of the same id yields ErrOrderNotFound.
func (b *OrderBook) CancelOrder(id OrderID) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halted != nil {
		return Order{}, b.haltedErr()
	}

	o, ok := b.index[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}

	level := o.level
	level.remove(o)
	delete(b.index, id)
	if level.Empty() {
		b.sideOf(o.Side).removeLevel(level)
	}
	o.Status = Cancelled
	return o.clone(), nil
}

// checkCrossed verifies best bid < best ask.
func (b *OrderBook) checkCrossed() error {
	bid, ask := b.bids.best(), b.asks.best()
	if bid == nil || ask == nil {
		return nil
	}
	if bid.price.GreaterThanOrEqual(ask.price) {
		return b.violate("crossed book: best bid %s >= best ask %s", bid.price, ask.price)
	}
	return nil
}

// violate halts the book and logs the violation. Callers hold the write lock.
func (b *OrderBook) violate(format string, args ...any) error {
	err := fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
	b.halted = err
	b.log.Errorw("orderbook_invariant_violation", "book", b.name, "err", err)
	return err
}

func (b *OrderBook) haltedErr() error {
	return fmt.Errorf("%w: %w", ErrHalted, b.halted)
}

// Halted returns the invariant violation that halted the book, nil if healthy.
func (b *OrderBook) Halted() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.halted
}

// BestBid returns the highest bid level.
func (b *OrderBook) BestBid() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if l := b.bids.best(); l != nil {
		return l.snapshot(), true
	}
	return Level{}, false
}

// BestAsk returns the lowest ask level.
func (b *OrderBook) BestAsk() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if l := b.asks.best(); l != nil {
		return l.snapshot(), true
	}
	return Level{}, false
}

// Depth returns up to limit aggregated levels per side (limit <= 0: all levels),
// taken atomically with respect to mutations.
func (b *OrderBook) Depth(limit int) Depth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Depth{
		Bids: b.bids.depth(limit),
		Asks: b.asks.depth(limit),
	}
}

// Order returns a copy of a resting order.
func (b *OrderBook) Order(id OrderID) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// Orders returns copies of the resting orders of one side in priority order.
func (b *OrderBook) Orders(side Side) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Order
	b.sideOf(side).each(func(l *PriceLevel) bool {
		for _, o := range l.orders() {
			out = append(out, o.clone())
		}
		return true
	})
	return out
}

// Len returns the number of resting orders.
func (b *OrderBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

// LastTradePrice returns the price of the most recent fill.
func (b *OrderBook) LastTradePrice() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice, b.hasLastPrice
}

// MidPrice returns the average of best bid and best ask.
// It reports false when either side is empty.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, ask := b.bids.best(), b.asks.best()
	if bid == nil || ask == nil {
		return decimal.Zero, false
	}
	return bid.price.Add(ask.price).Div(decimal.NewFromInt(2)), true
}

// Stats is a point-in-time summary of the book.
type Stats struct {
	RestingOrders int
	BidLevels     int
	AskLevels     int
	LastOrderID   OrderID
	LastTradeSeq  uint64
}

func (b *OrderBook) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		RestingOrders: len(b.index),
		BidLevels:     b.bids.len(),
		AskLevels:     b.asks.len(),
		LastOrderID:   b.lastOrderID,
		LastTradeSeq:  b.lastTrade,
	}
}
