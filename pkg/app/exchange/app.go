package exchange

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/mempool"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/transaction"
	"github.com/uhyunpark/matchcore/pkg/events"
	"github.com/uhyunpark/matchcore/pkg/metrics"
	"github.com/uhyunpark/matchcore/pkg/storage"
	"github.com/uhyunpark/matchcore/pkg/util"
)

// TradeHook observes the trades of one submission, in execution order.
type TradeHook func(pair market.Pair, trades []storage.TradeRecord)

// BookHook observes any change to the resting orders of a pair.
type BookHook func(pair market.Pair)

// App is the exchange application: it owns the market registry and carries
// every side effect of matching (journal, publisher, metrics, command log,
// subscriber hooks). The registry and books stay free of I/O.
type App struct {
	registry *market.Registry
	mempool  *mempool.Mempool

	journal   storage.Journal
	publisher events.Publisher
	metrics   *metrics.Metrics
	cmdlog    storage.CommandLog
	clock     util.Clock
	log       *zap.SugaredLogger

	// pairMu keeps side effects of one pair in book order
	pairMu    sync.Mutex
	pairLocks map[market.Pair]*sync.Mutex

	hooksMu   sync.RWMutex
	tradeHook []TradeHook
	bookHook  []BookHook
}

// Option configures an App.
type Option func(*App)

func WithLogger(log *zap.SugaredLogger) Option { return func(a *App) { a.log = log } }
func WithClock(c util.Clock) Option           { return func(a *App) { a.clock = c } }
func WithJournal(j storage.Journal) Option    { return func(a *App) { a.journal = j } }
func WithPublisher(p events.Publisher) Option { return func(a *App) { a.publisher = p } }
func WithMetrics(m *metrics.Metrics) Option   { return func(a *App) { a.metrics = m } }
func WithCommandLog(l storage.CommandLog) Option {
	return func(a *App) { a.cmdlog = l }
}

func NewApp(opts ...Option) *App {
	a := &App{
		mempool:   mempool.NewMempool(),
		journal:   storage.NewMemoryJournal(),
		publisher: events.Nop{},
		metrics:   metrics.New(),
		cmdlog:    storage.NewNopWAL(),
		clock:     util.RealClock{},
		log:       zap.NewNop().Sugar(),
		pairLocks: make(map[market.Pair]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.registry = market.NewRegistry(a.log, a.clock)
	return a
}

func (a *App) Registry() *market.Registry { return a.registry }
func (a *App) Metrics() *metrics.Metrics   { return a.metrics }
func (a *App) Journal() storage.Journal    { return a.journal }

// OnTrade registers a hook called after trades are journaled and published.
func (a *App) OnTrade(h TradeHook) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.tradeHook = append(a.tradeHook, h)
}

// OnBookChange registers a hook called after any book mutation.
func (a *App) OnBookChange(h BookHook) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.bookHook = append(a.bookHook, h)
}

func (a *App) lockPair(pair market.Pair) func() {
	a.pairMu.Lock()
	mu, ok := a.pairLocks[pair]
	if !ok {
		mu = &sync.Mutex{}
		a.pairLocks[pair] = mu
	}
	a.pairMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// AddMarket registers a new pair. The pair lock is held until the command is
// logged so no order for the pair can be logged ahead of its registration.
func (a *App) AddMarket(pair market.Pair, opts ...market.Option) (*market.Market, error) {
	unlock := a.lockPair(pair)
	defer unlock()

	m, err := a.registry.AddMarket(pair, opts...)
	if err != nil {
		return nil, err
	}
	a.metrics.SetMarkets(a.registry.Count())
	a.appendCommand(&transaction.Transaction{
		Type: transaction.TxTypeMarket,
		Market: &transaction.MarketPayload{
			Symbol:   pair.String(),
			Action:   transaction.ActionAdd,
			TickSize: tickString(m.Params),
			MinSize:  m.Params.MinOrderSize,
			MaxSize:  m.Params.MaxOrderSize,
		},
	})
	return m, nil
}

func tickString(p market.Params) string {
	if p.TickSize.IsZero() {
		return ""
	}
	return p.TickSize.String()
}

// UpdateMarketStatus pauses or resumes a market.
func (a *App) UpdateMarketStatus(pair market.Pair, status market.MarketStatus) error {
	unlock := a.lockPair(pair)
	defer unlock()

	if err := a.registry.UpdateMarketStatus(pair, status); err != nil {
		return err
	}
	action := transaction.ActionResume
	if status == market.Paused {
		action = transaction.ActionPause
	}
	a.appendCommand(&transaction.Transaction{
		Type:   transaction.TxTypeMarket,
		Market: &transaction.MarketPayload{Symbol: pair.String(), Action: action},
	})
	return nil
}

// SubmitOrder places a limit order and records its effects.
func (a *App) SubmitOrder(ctx context.Context, o transaction.Order) (market.SubmitResult, error) {
	unlock := a.lockPair(o.Pair)
	defer unlock()

	pair := o.Pair.String()
	res, err := a.registry.SubmitOrder(o.Pair, o.Side, o.Price, o.Size, o.Owner, orderbook.WithTimeInForce(o.TimeInForce))
	if err != nil && res.OrderID == 0 {
		a.metrics.OrderRejected(pair, rejectReason(err))
		a.log.Debugw("order_rejected", "pair", pair, "side", o.Side.String(), "price", o.Price.String(),
			"size", o.Size, "owner", o.Owner, "err", err)
		return res, err
	}
	if err != nil {
		// the book halted mid-match; trades already executed are still reported
		a.log.Errorw("order_halted_book", "pair", pair, "order_id", res.OrderID, "trades", len(res.Trades), "err", err)
	}

	a.appendCommand(transaction.NewOrderTx(pair, o.Side, o.Price, o.Size, o.TimeInForce, o.Owner))
	a.metrics.OrderAccepted(pair, o.Side.String())
	a.recordOrder(ctx, o, res)
	return res, err
}

// CancelOrder removes a resting order.
func (a *App) CancelOrder(ctx context.Context, pair market.Pair, id orderbook.OrderID) (orderbook.Order, error) {
	unlock := a.lockPair(pair)
	defer unlock()

	o, err := a.registry.CancelOrder(pair, id)
	a.metrics.Cancel(pair.String(), err == nil)
	if err != nil {
		a.log.Debugw("cancel_miss", "pair", pair.String(), "order_id", id, "err", err)
		return o, err
	}

	a.appendCommand(transaction.NewCancelTx(pair.String(), id))
	a.saveEvent(storage.OrderEvent{
		Pair:      pair.String(),
		OrderID:   o.ID,
		Kind:      storage.EventCancelled,
		Side:      o.Side,
		Price:     o.Price,
		Size:      o.Size,
		Remaining: o.Remaining,
		Owner:     o.Owner,
		Time:      a.clock.Now(),
	})
	a.updateResting(pair)
	a.fireBook(pair)
	return o, nil
}

// RecentTrades returns up to limit trades of pair, newest first.
func (a *App) RecentTrades(pair market.Pair, limit int) ([]storage.TradeRecord, error) {
	if !a.registry.Exists(pair) {
		return nil, fmt.Errorf("%w: %s", market.ErrMarketNotFound, pair)
	}
	return a.journal.RecentTrades(pair.String(), limit)
}

func (a *App) recordOrder(ctx context.Context, o transaction.Order, res market.SubmitResult) {
	pair := o.Pair.String()
	now := a.clock.Now()

	ev := storage.OrderEvent{
		Pair:    pair,
		OrderID: res.OrderID,
		Kind:    storage.EventAccepted,
		Side:    o.Side,
		Price:   o.Price,
		Size:    o.Size,
		Owner:   o.Owner,
		Time:    now,
	}
	ev.Remaining = o.Size
	a.saveEvent(ev)

	records := make([]storage.TradeRecord, 0, len(res.Trades))
	for _, t := range res.Trades {
		rec := storage.NewTradeRecord(pair, t, now)
		records = append(records, rec)
		if err := a.journal.SaveTrade(rec); err != nil {
			a.log.Errorw("journal_trade_failed", "pair", pair, "seq", t.Seq, "err", err)
		}
		a.metrics.Trade(pair, t.Size)
		a.log.Debugw("fill", "pair", pair, "taker", t.TakerOrderID, "maker", t.MakerOrderID,
			"px", t.Price.String(), "qty", t.Size)
	}

	ev.Remaining = res.Remaining
	switch {
	case res.Resting:
		ev.Kind = storage.EventRested
		a.saveEvent(ev)
	case res.Status == orderbook.Filled:
		ev.Kind = storage.EventFilled
		a.saveEvent(ev)
	case res.Status == orderbook.Cancelled:
		ev.Kind = storage.EventCancelled
		a.saveEvent(ev)
	}

	if len(records) > 0 {
		if err := a.publisher.PublishTrades(ctx, records); err != nil {
			a.log.Warnw("publish_trades_failed", "pair", pair, "trades", len(records), "err", err)
		}
		a.fireTrades(o.Pair, records)
	}
	a.updateResting(o.Pair)
	a.fireBook(o.Pair)
}

func (a *App) saveEvent(ev storage.OrderEvent) {
	if err := a.journal.SaveOrderEvent(ev); err != nil {
		a.log.Errorw("journal_order_event_failed", "pair", ev.Pair, "order_id", ev.OrderID,
			"kind", string(ev.Kind), "err", err)
	}
}

func (a *App) updateResting(pair market.Pair) {
	if book, err := a.registry.Book(pair); err == nil {
		a.metrics.SetResting(pair.String(), book.Len())
	}
}

func (a *App) appendCommand(tx *transaction.Transaction) {
	b, err := tx.Serialize()
	if err != nil {
		a.log.Errorw("command_log_encode_failed", "type", string(tx.Type), "err", err)
		return
	}
	if err := a.cmdlog.Append(b); err != nil {
		a.log.Errorw("command_log_append_failed", "type", string(tx.Type), "err", err)
	}
}

func (a *App) fireTrades(pair market.Pair, trades []storage.TradeRecord) {
	a.hooksMu.RLock()
	hooks := a.tradeHook
	a.hooksMu.RUnlock()
	for _, h := range hooks {
		h(pair, trades)
	}
}

func (a *App) fireBook(pair market.Pair) {
	a.hooksMu.RLock()
	hooks := a.bookHook
	a.hooksMu.RUnlock()
	for _, h := range hooks {
		h(pair)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, market.ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, market.ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, market.ErrMarketNotActive):
		return "market_paused"
	case errors.Is(err, market.ErrMarketHalted):
		return "market_halted"
	default:
		return "other"
	}
}

// StateHash computes a deterministic Keccak-256 digest of every book.
//
// Components hashed, markets in sorted pair order:
//  1. pair symbol and market status
//  2. last assigned order id and last trade sequence
//  3. bid levels (price, volume, order count), best first
//  4. ask levels, best first
func (a *App) StateHash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	putLevels := func(levels []orderbook.Level) {
		putU64(uint64(len(levels)))
		for _, l := range levels {
			h.Write([]byte(l.Price.String()))
			h.Write([]byte{0})
			putU64(l.Volume)
			putU64(uint64(l.Orders))
		}
	}

	for _, m := range a.registry.ListMarkets() {
		h.Write([]byte(m.Pair.String()))
		h.Write([]byte{0, byte(m.Status())})

		book := m.Book()
		stats := book.Stats()
		putU64(uint64(stats.LastOrderID))
		putU64(stats.LastTradeSeq)

		depth := book.Depth(0)
		putLevels(depth.Bids)
		putLevels(depth.Asks)
	}

	return common.BytesToHash(h.Sum(nil))
}

// Close releases the journal, publisher and command log.
func (a *App) Close() error {
	return errors.Join(
		a.publisher.Close(),
		a.journal.Close(),
		a.cmdlog.Close(),
	)
}
