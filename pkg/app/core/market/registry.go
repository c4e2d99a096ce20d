package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/util"
)

// SubmitResult is what a submission returns: the trades generated and the id
// of the resting remainder, if any.
type SubmitResult = orderbook.Result

// Registry maps each pair to its order book and routes requests to it.
// It performs no matching itself. Books of different pairs share no state, so
// requests for different pairs run fully in parallel; requests for the same
// pair are serialised by that book.
type Registry struct {
	mu      sync.RWMutex
	markets map[Pair]*Market

	log   *zap.SugaredLogger
	clock util.Clock
}

// NewRegistry creates an empty market registry
func NewRegistry(log *zap.SugaredLogger, clock util.Clock) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Registry{
		markets: make(map[Pair]*Market),
		log:     log,
		clock:   clock,
	}
}

// AddMarket creates an empty order book for pair.
// Returns ErrDuplicateMarket if pair is already registered.
func (r *Registry) AddMarket(pair Pair, opts ...Option) (*Market, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	params := DefaultParams
	for _, opt := range opts {
		opt(&params)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, pair, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[pair]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMarket, pair)
	}

	m := &Market{
		Pair:      pair,
		Params:    params,
		CreatedAt: r.clock.Now(),
		book: orderbook.NewOrderBook(
			orderbook.WithName(pair.String()),
			orderbook.WithLogger(r.log.With("pair", pair.String())),
		),
	}
	m.status.Store(int32(Active))
	r.markets[pair] = m

	r.log.Infow("market_added", "pair", pair.String(), "tick_size", params.TickSize.String(),
		"min_size", params.MinOrderSize, "max_size", params.MaxOrderSize)
	return m, nil
}

// Market retrieves a market by pair
func (r *Registry) Market(pair Pair) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[pair]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, pair)
	}
	return m, nil
}

// Book returns the order book of pair for read-only accessors.
func (r *Registry) Book(pair Pair) (*orderbook.OrderBook, error) {
	m, err := r.Market(pair)
	if err != nil {
		return nil, err
	}
	return m.book, nil
}

// SubmitOrder validates the order against the market rules and forwards it to
// the pair's book. Invalid orders are rejected before any book mutation.
func (r *Registry) SubmitOrder(pair Pair, side orderbook.Side, price decimal.Decimal, size uint64, owner string, opts ...orderbook.OrderOption) (SubmitResult, error) {
	m, err := r.Market(pair)
	if err != nil {
		return SubmitResult{}, err
	}
	switch m.Status() {
	case Paused:
		return SubmitResult{}, fmt.Errorf("%w: %s is paused", ErrMarketNotActive, pair)
	case Halted:
		return SubmitResult{}, fmt.Errorf("%w: %s: %w", ErrMarketHalted, pair, m.book.Halted())
	}
	if err := m.ValidateOrder(side, price, size); err != nil {
		return SubmitResult{}, err
	}

	res, err := m.book.AddOrder(side, price, size, owner, opts...)
	if err != nil {
		return res, fmt.Errorf("%s: %w", pair, err)
	}
	return res, nil
}

// CancelOrder forwards a cancellation to the pair's book.
// Cancels are accepted while a market is paused.
func (r *Registry) CancelOrder(pair Pair, id orderbook.OrderID) (orderbook.Order, error) {
	m, err := r.Market(pair)
	if err != nil {
		return orderbook.Order{}, err
	}
	o, err := m.book.CancelOrder(id)
	if err != nil {
		return orderbook.Order{}, fmt.Errorf("%s: %w", pair, err)
	}
	return o, nil
}

// ListMarkets returns all registered markets sorted by pair
func (r *Registry) ListMarkets() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	markets := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].Pair.String() < markets[j].Pair.String()
	})
	return markets
}

// UpdateMarketStatus pauses or resumes trading on a market.
// Halted is terminal and can neither be set nor left through this call.
func (r *Registry) UpdateMarketStatus(pair Pair, status MarketStatus) error {
	m, err := r.Market(pair)
	if err != nil {
		return err
	}
	if err := validateStatusTransition(m.Status(), status); err != nil {
		return fmt.Errorf("%s: %w", pair, err)
	}
	m.status.Store(int32(status))
	r.log.Infow("market_status_updated", "pair", pair.String(), "status", status.String())
	return nil
}

// validateStatusTransition checks if status change is valid
func validateStatusTransition(from, to MarketStatus) error {
	// Active <-> Paused: allowed
	// Halted -> *: not allowed (terminal state)
	// * -> Halted: only the book itself halts
	if from == Halted {
		return fmt.Errorf("%w: cannot change status from Halted (terminal state)", ErrMarketHalted)
	}
	if to != Active && to != Paused {
		return fmt.Errorf("cannot set status %s", to)
	}
	return nil
}

// Count returns the total number of registered markets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// Exists checks if a market is registered
func (r *Registry) Exists(pair Pair) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[pair]
	return exists
}
