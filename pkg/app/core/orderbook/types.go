package orderbook

import (
	"github.com/shopspring/decimal"
)

type Side int8

const (
	Bid Side = 1
	Ask Side = -1
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

func (s Side) Valid() bool { return s == Bid || s == Ask }

// Opposite returns the side an incoming order of side s matches against.
func (s Side) Opposite() Side { return -s }

// TimeInForce decides what happens to the unmatched remainder of an order.
type TimeInForce int8

const (
	GTC TimeInForce = iota // remainder rests on the book
	IOC                    // remainder is discarded
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of an order.
// Open -> PartiallyFilled -> Filled, or Open/PartiallyFilled -> Cancelled.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == Filled || s == Cancelled }

// OrderID is assigned by the book, monotonically increasing from 1.
type OrderID uint64

type Order struct {
	ID          OrderID
	Side        Side
	Price       decimal.Decimal // limit price, exact
	Size        uint64          // original size in lots
	Remaining   uint64          // lots still open, only decreases
	Seq         uint64          // submission sequence, defines time priority
	Owner       string          // opaque owner reference
	TimeInForce TimeInForce
	Status      Status

	// intrusive FIFO links, owned by the price level holding the order
	level *PriceLevel
	prev  *Order
	next  *Order
}

// Filled returns the executed quantity.
func (o *Order) Filled() uint64 { return o.Size - o.Remaining }

// clone returns a detached copy that is safe to hand out of the book.
func (o *Order) clone() Order {
	c := *o
	c.level, c.prev, c.next = nil, nil, nil
	return c
}

// Trade is an immutable fill between a resting maker and an incoming taker.
type Trade struct {
	Seq          uint64
	MakerOrderID OrderID
	TakerOrderID OrderID
	MakerOwner   string
	TakerOwner   string
	TakerSide    Side
	Price        decimal.Decimal // always the maker's resting price
	Size         uint64
}

// OrderOption customises an order before it enters the book.
type OrderOption func(*Order)

// WithTimeInForce sets the order's time in force (GTC when omitted).
func WithTimeInForce(tif TimeInForce) OrderOption {
	return func(o *Order) {
		o.TimeInForce = tif
	}
}

// Result describes the outcome of AddOrder.
type Result struct {
	OrderID   OrderID // id assigned to the incoming order
	Status    Status
	Remaining uint64 // lots left on the incoming order after matching
	Resting   bool   // remainder was inserted into the book
	Trades    []Trade
}

// RestingOrderID returns the id of the resting remainder, if any.
func (r Result) RestingOrderID() (OrderID, bool) {
	if !r.Resting {
		return 0, false
	}
	return r.OrderID, true
}

// Level is an aggregated, read-only view of one price level.
type Level struct {
	Price  decimal.Decimal
	Volume uint64
	Orders int
}

// Depth holds aggregated levels best-first: bids high to low, asks low to high.
type Depth struct {
	Bids []Level
	Asks []Level
}
