package market

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
)

// MarketStatus defines the trading status of a market
type MarketStatus int32

const (
	Active MarketStatus = iota // Trading enabled
	Paused                     // Submissions rejected, cancels allowed (admin halt)
	Halted                     // Book invariant violated, all mutations rejected (terminal)
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Halted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// Params are the optional trading rules of a market.
type Params struct {
	// TickSize is the minimum price increment; zero disables the check.
	TickSize decimal.Decimal
	// MinOrderSize and MaxOrderSize bound a single order in lots; zero max means unbounded.
	MinOrderSize uint64
	MaxOrderSize uint64
}

// DefaultParams accepts any positive price and any positive size.
var DefaultParams = Params{
	TickSize:     decimal.Zero,
	MinOrderSize: 1,
}

// Validate checks parameter sanity
func (p Params) Validate() error {
	if p.TickSize.IsNegative() {
		return fmt.Errorf("tick size cannot be negative")
	}
	if p.MaxOrderSize > 0 && p.MinOrderSize > p.MaxOrderSize {
		return fmt.Errorf("min order size cannot exceed max order size")
	}
	return nil
}

// Option customises a market at registration time.
type Option func(*Params)

// WithTickSize restricts prices to multiples of tick.
func WithTickSize(tick decimal.Decimal) Option {
	return func(p *Params) {
		p.TickSize = tick
	}
}

// WithSizeLimits bounds the size of a single order in lots.
func WithSizeLimits(minSize, maxSize uint64) Option {
	return func(p *Params) {
		p.MinOrderSize = minSize
		p.MaxOrderSize = maxSize
	}
}

// Market binds a pair to its order book and trading rules.
type Market struct {
	Pair      Pair
	Params    Params
	CreatedAt time.Time

	status atomic.Int32
	book   *orderbook.OrderBook
}

// Book returns the market's order book for read-only accessors.
func (m *Market) Book() *orderbook.OrderBook { return m.book }

// Status reports Halted as soon as the book has observed an invariant violation.
func (m *Market) Status() MarketStatus {
	if m.book.Halted() != nil {
		return Halted
	}
	return MarketStatus(m.status.Load())
}

// ValidateOrder performs all order validations that do not need the book.
func (m *Market) ValidateOrder(side orderbook.Side, price decimal.Decimal, size uint64) error {
	if !side.Valid() {
		return fmt.Errorf("%w: unsupported side %d", ErrInvalidOrder, side)
	}
	if price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if size == 0 {
		return fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}
	if size < m.Params.MinOrderSize {
		return fmt.Errorf("%w: order size %d below minimum %d", ErrInvalidOrder, size, m.Params.MinOrderSize)
	}
	if m.Params.MaxOrderSize > 0 && size > m.Params.MaxOrderSize {
		return fmt.Errorf("%w: order size %d exceeds maximum %d", ErrInvalidOrder, size, m.Params.MaxOrderSize)
	}
	if m.Params.TickSize.IsPositive() && !price.Mod(m.Params.TickSize).IsZero() {
		return fmt.Errorf("%w: price %s is not a multiple of tick %s", ErrInvalidOrder, price, m.Params.TickSize)
	}
	return nil
}
