package storage

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
)

// OrderEventKind is a step in an order's lifecycle.
type OrderEventKind string

const (
	EventAccepted  OrderEventKind = "accepted"  // passed validation, got an id
	EventRested    OrderEventKind = "rested"    // remainder placed on the book
	EventFilled    OrderEventKind = "filled"    // fully executed (as taker or maker)
	EventCancelled OrderEventKind = "cancelled" // removed by cancel or IOC expiry
)

// TradeRecord is a persisted execution.
type TradeRecord struct {
	Pair         string
	Seq          uint64
	MakerOrderID orderbook.OrderID
	TakerOrderID orderbook.OrderID
	MakerOwner   string
	TakerOwner   string
	TakerSide    orderbook.Side
	Price        decimal.Decimal
	Size         uint64
	Time         time.Time
}

// NewTradeRecord stamps a book trade with its pair and time.
func NewTradeRecord(pair string, t orderbook.Trade, at time.Time) TradeRecord {
	return TradeRecord{
		Pair:         pair,
		Seq:          t.Seq,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		MakerOwner:   t.MakerOwner,
		TakerOwner:   t.TakerOwner,
		TakerSide:    t.TakerSide,
		Price:        t.Price,
		Size:         t.Size,
		Time:         at,
	}
}

// OrderEvent is a persisted order lifecycle step.
type OrderEvent struct {
	Pair      string
	OrderID   orderbook.OrderID
	Kind      OrderEventKind
	Side      orderbook.Side
	Price     decimal.Decimal
	Size      uint64
	Remaining uint64
	Owner     string
	Time      time.Time
}

// Journal persists trades and order events. It is written after the book has
// committed a mutation and is never consulted by matching.
type Journal interface {
	SaveTrade(TradeRecord) error
	SaveOrderEvent(OrderEvent) error
	// RecentTrades returns up to limit trades of pair, newest first.
	RecentTrades(pair string, limit int) ([]TradeRecord, error)
	// OrderEvents returns the events of one order of the current run, oldest first.
	OrderEvents(pair string, id orderbook.OrderID) ([]OrderEvent, error)
	Close() error
}

// MemoryJournal keeps everything in process memory.
type MemoryJournal struct {
	mu     sync.RWMutex
	trades map[string][]TradeRecord
	events map[string]map[orderbook.OrderID][]OrderEvent
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		trades: make(map[string][]TradeRecord),
		events: make(map[string]map[orderbook.OrderID][]OrderEvent),
	}
}

func (j *MemoryJournal) SaveTrade(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades[t.Pair] = append(j.trades[t.Pair], t)
	return nil
}

func (j *MemoryJournal) SaveOrderEvent(e OrderEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	byID, ok := j.events[e.Pair]
	if !ok {
		byID = make(map[orderbook.OrderID][]OrderEvent)
		j.events[e.Pair] = byID
	}
	byID[e.OrderID] = append(byID[e.OrderID], e)
	return nil
}

func (j *MemoryJournal) RecentTrades(pair string, limit int) ([]TradeRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	all := j.trades[pair]
	out := make([]TradeRecord, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (j *MemoryJournal) OrderEvents(pair string, id orderbook.OrderID) ([]OrderEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	evs := j.events[pair][id]
	return append([]OrderEvent(nil), evs...), nil
}

func (j *MemoryJournal) Close() error { return nil }

var _ Journal = (*MemoryJournal)(nil)
