package market_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/util"
)

var btcusdt = market.NewPair("BTC", "USDT")

func newRegistry(t *testing.T) *market.Registry {
	t.Helper()
	clock := util.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return market.NewRegistry(zaptest.NewLogger(t).Sugar(), clock)
}

func px(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestRegistry_AddMarket(t *testing.T) {
	r := newRegistry(t)

	m, err := r.AddMarket(btcusdt)
	require.NoError(t, err)
	assert.Equal(t, btcusdt, m.Pair)
	assert.Equal(t, market.Active, m.Status())
	assert.Equal(t, 0, m.Book().Len())
	assert.Equal(t, 1, r.Count())

	_, err = r.AddMarket(market.NewPair("BTC", "USDT"))
	assert.ErrorIs(t, err, market.ErrDuplicateMarket)
	assert.Equal(t, 1, r.Count())

	_, err = r.AddMarket(market.NewPair("", "USDT"))
	assert.ErrorIs(t, err, market.ErrInvalidPair)

	_, err = r.AddMarket(market.NewPair("ETH", "USDT"), market.WithSizeLimits(10, 5))
	assert.ErrorIs(t, err, market.ErrInvalidParams)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_UnknownMarket(t *testing.T) {
	r := newRegistry(t)
	eth := market.NewPair("ETH", "USDT")

	_, err := r.SubmitOrder(eth, orderbook.Bid, px(1), 1, "o")
	assert.ErrorIs(t, err, market.ErrMarketNotFound)

	_, err = r.CancelOrder(eth, 1)
	assert.ErrorIs(t, err, market.ErrMarketNotFound)

	_, err = r.Book(eth)
	assert.ErrorIs(t, err, market.ErrMarketNotFound)
}

// Scenarios 1-5 of the matching contract, routed through the registry.
func TestRegistry_Scenarios(t *testing.T) {
	t.Run("partial fill keeps maker resting", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.AddMarket(btcusdt)
		require.NoError(t, err)

		ask, err := r.SubmitOrder(btcusdt, orderbook.Ask, px(100), 10, "maker")
		require.NoError(t, err)
		res, err := r.SubmitOrder(btcusdt, orderbook.Bid, px(100), 5, "taker")
		require.NoError(t, err)

		require.Len(t, res.Trades, 1)
		assert.True(t, res.Trades[0].Price.Equal(px(100)))
		assert.Equal(t, uint64(5), res.Trades[0].Size)

		book, err := r.Book(btcusdt)
		require.NoError(t, err)
		o, ok := book.Order(ask.OrderID)
		require.True(t, ok)
		assert.Equal(t, uint64(5), o.Remaining)
	})

	t.Run("aggressor gets maker price", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.AddMarket(btcusdt)
		require.NoError(t, err)

		_, err = r.SubmitOrder(btcusdt, orderbook.Ask, px(100), 10, "maker")
		require.NoError(t, err)
		res, err := r.SubmitOrder(btcusdt, orderbook.Bid, px(101), 10, "taker")
		require.NoError(t, err)

		require.Len(t, res.Trades, 1)
		assert.True(t, res.Trades[0].Price.Equal(px(100)))
		assert.Equal(t, uint64(10), res.Trades[0].Size)
		_, resting := res.RestingOrderID()
		assert.False(t, resting)

		book, _ := r.Book(btcusdt)
		assert.Equal(t, 0, book.Len())
	})

	t.Run("fifo within level", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.AddMarket(btcusdt)
		require.NoError(t, err)

		a, err := r.SubmitOrder(btcusdt, orderbook.Ask, px(100), 3, "a")
		require.NoError(t, err)
		b, err := r.SubmitOrder(btcusdt, orderbook.Ask, px(100), 4, "b")
		require.NoError(t, err)
		res, err := r.SubmitOrder(btcusdt, orderbook.Bid, px(100), 5, "c")
		require.NoError(t, err)

		require.Len(t, res.Trades, 2)
		assert.Equal(t, a.OrderID, res.Trades[0].MakerOrderID)
		assert.Equal(t, uint64(3), res.Trades[0].Size)
		assert.Equal(t, b.OrderID, res.Trades[1].MakerOrderID)
		assert.Equal(t, uint64(2), res.Trades[1].Size)

		book, _ := r.Book(btcusdt)
		o, ok := book.Order(b.OrderID)
		require.True(t, ok)
		assert.Equal(t, uint64(2), o.Remaining)
	})

	t.Run("cancel unknown id", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.AddMarket(btcusdt)
		require.NoError(t, err)

		_, err = r.CancelOrder(btcusdt, 12345)
		assert.ErrorIs(t, err, market.ErrOrderNotFound)
	})

	t.Run("bid on empty book rests", func(t *testing.T) {
		r := newRegistry(t)
		_, err := r.AddMarket(btcusdt)
		require.NoError(t, err)

		res, err := r.SubmitOrder(btcusdt, orderbook.Bid, px(99), 1, "bidder")
		require.NoError(t, err)
		assert.Empty(t, res.Trades)

		book, _ := r.Book(btcusdt)
		best, ok := book.BestBid()
		require.True(t, ok)
		assert.True(t, best.Price.Equal(px(99)))
		assert.Equal(t, 1, book.Len())
	})
}

func TestRegistry_CancelTwice(t *testing.T) {
	r := newRegistry(t)
	_, err := r.AddMarket(btcusdt)
	require.NoError(t, err)

	res, err := r.SubmitOrder(btcusdt, orderbook.Ask, px(10), 1, "o")
	require.NoError(t, err)

	o, err := r.CancelOrder(btcusdt, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Cancelled, o.Status)

	_, err = r.CancelOrder(btcusdt, res.OrderID)
	assert.ErrorIs(t, err, market.ErrOrderNotFound)
}

func TestRegistry_MarketRules(t *testing.T) {
	r := newRegistry(t)
	_, err := r.AddMarket(btcusdt,
		market.WithTickSize(decimal.RequireFromString("0.5")),
		market.WithSizeLimits(2, 100),
	)
	require.NoError(t, err)

	tests := []struct {
		name    string
		price   string
		size    uint64
		wantErr bool
	}{
		{"on tick", "100.5", 10, false},
		{"off tick", "100.25", 10, true},
		{"below min size", "100", 1, true},
		{"above max size", "100", 101, true},
		{"zero price", "0", 10, true},
		{"zero size", "100", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.SubmitOrder(btcusdt, orderbook.Bid, decimal.RequireFromString(tt.price), tt.size, "o")
			if tt.wantErr {
				assert.ErrorIs(t, err, market.ErrInvalidOrder)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err = r.AddMarket(market.NewPair("ETH", "USDT"), market.WithSizeLimits(10, 5))
	assert.Error(t, err)
}

func TestRegistry_PauseResume(t *testing.T) {
	r := newRegistry(t)
	_, err := r.AddMarket(btcusdt)
	require.NoError(t, err)

	res, err := r.SubmitOrder(btcusdt, orderbook.Bid, px(10), 1, "o")
	require.NoError(t, err)

	require.NoError(t, r.UpdateMarketStatus(btcusdt, market.Paused))
	_, err = r.SubmitOrder(btcusdt, orderbook.Bid, px(10), 1, "o")
	assert.ErrorIs(t, err, market.ErrMarketNotActive)

	// cancels still go through while paused
	_, err = r.CancelOrder(btcusdt, res.OrderID)
	assert.NoError(t, err)

	require.NoError(t, r.UpdateMarketStatus(btcusdt, market.Active))
	_, err = r.SubmitOrder(btcusdt, orderbook.Bid, px(10), 1, "o")
	assert.NoError(t, err)

	assert.Error(t, r.UpdateMarketStatus(btcusdt, market.Halted))
}

func TestRegistry_ListMarketsSorted(t *testing.T) {
	r := newRegistry(t)
	for _, p := range []market.Pair{
		market.NewPair("SOL", "USDT"),
		market.NewPair("BTC", "USDT"),
		market.NewPair("ETH", "BTC"),
	} {
		_, err := r.AddMarket(p)
		require.NoError(t, err)
	}

	var got []string
	for _, m := range r.ListMarkets() {
		got = append(got, m.Pair.String())
	}
	assert.Equal(t, []string{"BTC-USDT", "ETH-BTC", "SOL-USDT"}, got)
}

// Books of different pairs are independent and can be driven concurrently.
func TestRegistry_ParallelPairs(t *testing.T) {
	r := newRegistry(t)
	pairs := []market.Pair{
		market.NewPair("BTC", "USDT"),
		market.NewPair("ETH", "USDT"),
		market.NewPair("SOL", "USDT"),
		market.NewPair("XRP", "USDT"),
	}
	for _, p := range pairs {
		_, err := r.AddMarket(p)
		require.NoError(t, err)
	}

	const perWorker = 500
	var wg sync.WaitGroup
	for _, p := range pairs {
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func(p market.Pair, side orderbook.Side) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					if _, err := r.SubmitOrder(p, side, px(100), 1, fmt.Sprintf("w%d", side)); err != nil {
						t.Errorf("submit %s: %v", p, err)
						return
					}
				}
			}(p, []orderbook.Side{orderbook.Bid, orderbook.Ask}[w])
		}
	}
	wg.Wait()

	// equal bid and ask flow at one price must net to an empty book
	for _, p := range pairs {
		book, err := r.Book(p)
		require.NoError(t, err)
		assert.Equal(t, 0, book.Len(), p.String())
		assert.NoError(t, book.Halted())
		stats := book.Stats()
		assert.Equal(t, orderbook.OrderID(2*perWorker), stats.LastOrderID)
		assert.Equal(t, uint64(perWorker), stats.LastTradeSeq)
	}
}

func TestParsePair(t *testing.T) {
	p, err := market.ParsePair("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, btcusdt, p)
	assert.Equal(t, "BTC-USDT", p.String())

	for _, bad := range []string{"BTCUSDT", "-USDT", "BTC-", "A-B-C", "BTC-USDT:X", "BTC-US DT", "BT/C-USDT",
		"BTC-" + strings.Repeat("X", 21)} {
		_, err := market.ParsePair(bad)
		assert.ErrorIs(t, err, market.ErrInvalidPair, bad)
	}

	p, err = market.ParsePair("1000PEPE-usdc")
	require.NoError(t, err)
	assert.Equal(t, market.NewPair("1000PEPE", "usdc"), p)

	// a symbol with a key separator would alias another market's journal prefix
	r := newRegistry(t)
	_, err = r.AddMarket(market.NewPair("BTC", "USDT:X"))
	assert.ErrorIs(t, err, market.ErrInvalidPair)
}
