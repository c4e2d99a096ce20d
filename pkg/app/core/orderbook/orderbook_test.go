package orderbook_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
)

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func add(t *testing.T, ob *orderbook.OrderBook, side orderbook.Side, price string, size uint64) orderbook.Result {
	t.Helper()
	res, err := ob.AddOrder(side, px(price), size, "owner")
	require.NoError(t, err)
	return res
}

func TestAddOrder_PartialFillLeavesMakerResting(t *testing.T) {
	ob := orderbook.NewOrderBook()

	ask := add(t, ob, orderbook.Ask, "100", 10)
	require.True(t, ask.Resting)

	res := add(t, ob, orderbook.Bid, "100", 5)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(px("100")))
	assert.Equal(t, uint64(5), res.Trades[0].Size)
	assert.Equal(t, ask.OrderID, res.Trades[0].MakerOrderID)
	assert.Equal(t, res.OrderID, res.Trades[0].TakerOrderID)
	assert.False(t, res.Resting)
	assert.Equal(t, orderbook.Filled, res.Status)

	maker, ok := ob.Order(ask.OrderID)
	require.True(t, ok)
	assert.Equal(t, uint64(5), maker.Remaining)
	assert.Equal(t, orderbook.PartiallyFilled, maker.Status)
}

func TestAddOrder_TradesAtMakerPrice(t *testing.T) {
	ob := orderbook.NewOrderBook()

	add(t, ob, orderbook.Ask, "100", 10)
	res := add(t, ob, orderbook.Bid, "101", 10)

	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(px("100")), "trade must print at the resting price")
	assert.Equal(t, uint64(10), res.Trades[0].Size)
	_, resting := res.RestingOrderID()
	assert.False(t, resting)
	assert.Equal(t, 0, ob.Len())

	_, ok := ob.BestBid()
	assert.False(t, ok)
	_, ok = ob.BestAsk()
	assert.False(t, ok)
}

func TestAddOrder_FIFOWithinLevel(t *testing.T) {
	ob := orderbook.NewOrderBook()

	a := add(t, ob, orderbook.Ask, "100", 3)
	b := add(t, ob, orderbook.Ask, "100", 4)

	res := add(t, ob, orderbook.Bid, "100", 5)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, a.OrderID, res.Trades[0].MakerOrderID)
	assert.Equal(t, uint64(3), res.Trades[0].Size)
	assert.Equal(t, b.OrderID, res.Trades[1].MakerOrderID)
	assert.Equal(t, uint64(2), res.Trades[1].Size)
	assert.Less(t, res.Trades[0].Seq, res.Trades[1].Seq)

	_, ok := ob.Order(a.OrderID)
	assert.False(t, ok)
	left, ok := ob.Order(b.OrderID)
	require.True(t, ok)
	assert.Equal(t, uint64(2), left.Remaining)
}

func TestCancelOrder_UnknownID(t *testing.T) {
	ob := orderbook.NewOrderBook()
	_, err := ob.CancelOrder(42)
	assert.ErrorIs(t, err, orderbook.ErrOrderNotFound)
}

func TestAddOrder_EmptyBookRests(t *testing.T) {
	ob := orderbook.NewOrderBook()

	res := add(t, ob, orderbook.Bid, "99", 1)
	assert.Empty(t, res.Trades)
	id, ok := res.RestingOrderID()
	require.True(t, ok)
	assert.Equal(t, res.OrderID, id)
	assert.Equal(t, orderbook.Open, res.Status)

	best, ok := ob.BestBid()
	require.True(t, ok)
	assert.True(t, best.Price.Equal(px("99")))
	assert.Equal(t, uint64(1), best.Volume)
	assert.Equal(t, 1, best.Orders)
}

func TestAddOrder_PricePriorityBeatsTime(t *testing.T) {
	ob := orderbook.NewOrderBook()

	early := add(t, ob, orderbook.Bid, "99", 5)
	late := add(t, ob, orderbook.Bid, "100", 5)

	res := add(t, ob, orderbook.Ask, "98", 7)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, late.OrderID, res.Trades[0].MakerOrderID)
	assert.True(t, res.Trades[0].Price.Equal(px("100")))
	assert.Equal(t, early.OrderID, res.Trades[1].MakerOrderID)
	assert.True(t, res.Trades[1].Price.Equal(px("99")))
	assert.Equal(t, uint64(2), res.Trades[1].Size)
}

func TestAddOrder_SweepsLevelsAndRestsRemainder(t *testing.T) {
	ob := orderbook.NewOrderBook()

	add(t, ob, orderbook.Ask, "101", 2)
	add(t, ob, orderbook.Ask, "102", 2)
	add(t, ob, orderbook.Ask, "105", 2)

	res := add(t, ob, orderbook.Bid, "102", 6)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, uint64(2), res.Remaining)
	assert.True(t, res.Resting)
	assert.Equal(t, orderbook.PartiallyFilled, res.Status)

	bid, ok := ob.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(px("102")))
	ask, ok := ob.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Price.Equal(px("105")))
}

func TestAddOrder_ImmediateOrCancelNeverRests(t *testing.T) {
	ob := orderbook.NewOrderBook()

	add(t, ob, orderbook.Ask, "100", 3)
	res, err := ob.AddOrder(orderbook.Bid, px("100"), 5, "ioc", orderbook.WithTimeInForce(orderbook.IOC))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(3), res.Trades[0].Size)
	assert.False(t, res.Resting)
	assert.Equal(t, orderbook.Cancelled, res.Status)
	assert.Equal(t, uint64(2), res.Remaining)
	assert.Equal(t, 0, ob.Len())
}

func TestAddOrder_DecimalPricesAreExact(t *testing.T) {
	ob := orderbook.NewOrderBook()

	add(t, ob, orderbook.Ask, "0.3", 1)
	// 0.1+0.2 is not 0.3 in binary floating point
	res := add(t, ob, orderbook.Bid, px("0.1").Add(px("0.2")).String(), 1)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(px("0.3")))

	// 100 and 100.00 are the same level
	add(t, ob, orderbook.Bid, "100", 1)
	add(t, ob, orderbook.Bid, "100.00", 1)
	depth := ob.Depth(0)
	require.Len(t, depth.Bids, 1)
	assert.Equal(t, 2, depth.Bids[0].Orders)
}

func TestAddOrder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		side  orderbook.Side
		price string
		size  uint64
	}{
		{"zero price", orderbook.Bid, "0", 1},
		{"negative price", orderbook.Ask, "-1", 1},
		{"zero size", orderbook.Bid, "1", 0},
		{"unknown side", orderbook.Side(3), "1", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := orderbook.NewOrderBook()
			add(t, ob, orderbook.Ask, "1", 1)

			_, err := ob.AddOrder(tt.side, px(tt.price), tt.size, "x")
			assert.ErrorIs(t, err, orderbook.ErrInvalidOrder)
			assert.Equal(t, 1, ob.Len(), "rejected order must not touch the book")
			assert.Equal(t, orderbook.OrderID(1), ob.Stats().LastOrderID, "rejected order must not consume an id")
		})
	}
}

func TestCancelOrder_Idempotence(t *testing.T) {
	ob := orderbook.NewOrderBook()

	a := add(t, ob, orderbook.Bid, "10", 1)
	b := add(t, ob, orderbook.Bid, "10", 2)
	c := add(t, ob, orderbook.Bid, "10", 3)

	cancelled, err := ob.CancelOrder(b.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orderbook.Cancelled, cancelled.Status)
	assert.Equal(t, uint64(2), cancelled.Remaining)

	_, err = ob.CancelOrder(b.OrderID)
	assert.ErrorIs(t, err, orderbook.ErrOrderNotFound)

	// remaining queue keeps its relative order
	orders := ob.Orders(orderbook.Bid)
	require.Len(t, orders, 2)
	assert.Equal(t, a.OrderID, orders[0].ID)
	assert.Equal(t, c.OrderID, orders[1].ID)

	best, ok := ob.BestBid()
	require.True(t, ok)
	assert.Equal(t, uint64(4), best.Volume)
}

func TestCancelOrder_DropsEmptyLevel(t *testing.T) {
	ob := orderbook.NewOrderBook()

	a := add(t, ob, orderbook.Ask, "10", 1)
	add(t, ob, orderbook.Ask, "11", 1)

	_, err := ob.CancelOrder(a.OrderID)
	require.NoError(t, err)

	best, ok := ob.BestAsk()
	require.True(t, ok)
	assert.True(t, best.Price.Equal(px("11")))
	assert.Equal(t, 1, ob.Stats().AskLevels)
}

func TestCancelOrder_FilledOrderIsGone(t *testing.T) {
	ob := orderbook.NewOrderBook()

	a := add(t, ob, orderbook.Ask, "10", 1)
	add(t, ob, orderbook.Bid, "10", 1)

	_, err := ob.CancelOrder(a.OrderID)
	assert.ErrorIs(t, err, orderbook.ErrOrderNotFound)
}

func TestDepth_OrderingAndLimit(t *testing.T) {
	ob := orderbook.NewOrderBook()

	for _, p := range []string{"97", "99", "98"} {
		add(t, ob, orderbook.Bid, p, 1)
	}
	for _, p := range []string{"103", "101", "102"} {
		add(t, ob, orderbook.Ask, p, 2)
	}

	depth := ob.Depth(2)
	require.Len(t, depth.Bids, 2)
	require.Len(t, depth.Asks, 2)
	assert.True(t, depth.Bids[0].Price.Equal(px("99")))
	assert.True(t, depth.Bids[1].Price.Equal(px("98")))
	assert.True(t, depth.Asks[0].Price.Equal(px("101")))
	assert.True(t, depth.Asks[1].Price.Equal(px("102")))

	mid, ok := ob.MidPrice()
	require.True(t, ok)
	assert.True(t, mid.Equal(px("100")))

	all := ob.Depth(0)
	assert.Len(t, all.Bids, 3)
	assert.Len(t, all.Asks, 3)
}

func TestLastTradePrice(t *testing.T) {
	ob := orderbook.NewOrderBook()
	_, ok := ob.LastTradePrice()
	assert.False(t, ok)

	add(t, ob, orderbook.Bid, "50", 1)
	add(t, ob, orderbook.Ask, "49", 1)

	last, ok := ob.LastTradePrice()
	require.True(t, ok)
	assert.True(t, last.Equal(px("50")))
}

// TestRandomFlow_Properties drives a random order flow and checks the book
// properties after every operation.
func TestRandomFlow_Properties(t *testing.T) {
	ob := orderbook.NewOrderBook()
	rng := rand.New(rand.NewSource(7))

	type resting struct {
		side  orderbook.Side
		price decimal.Decimal
	}
	live := map[orderbook.OrderID]resting{}
	remaining := map[orderbook.OrderID]uint64{}

	for i := 0; i < 2000; i++ {
		if rng.Intn(10) == 0 && len(live) > 0 {
			for id := range live {
				_, err := ob.CancelOrder(id)
				require.NoError(t, err)
				delete(live, id)
				delete(remaining, id)
				break
			}
		} else {
			side := orderbook.Bid
			if rng.Intn(2) == 0 {
				side = orderbook.Ask
			}
			price := decimal.New(int64(95+rng.Intn(11)), 0)
			size := uint64(1 + rng.Intn(20))

			res, err := ob.AddOrder(side, price, size, "p")
			require.NoError(t, err)

			var takerFilled uint64
			for _, tr := range res.Trades {
				require.Greater(t, tr.Size, uint64(0))
				maker, ok := live[tr.MakerOrderID]
				require.True(t, ok, "maker must have been resting")
				require.True(t, tr.Price.Equal(maker.price), "trade at maker price")
				require.NotEqual(t, side, maker.side)
				if side == orderbook.Bid {
					require.True(t, price.GreaterThanOrEqual(tr.Price))
				} else {
					require.True(t, price.LessThanOrEqual(tr.Price))
				}
				remaining[tr.MakerOrderID] -= tr.Size
				if remaining[tr.MakerOrderID] == 0 {
					delete(live, tr.MakerOrderID)
					delete(remaining, tr.MakerOrderID)
				}
				takerFilled += tr.Size
			}
			require.Equal(t, size, takerFilled+res.Remaining, "conservation")

			if res.Resting {
				live[res.OrderID] = resting{side: side, price: price}
				remaining[res.OrderID] = res.Remaining
			}
		}

		bid, hasBid := ob.BestBid()
		ask, hasAsk := ob.BestAsk()
		if hasBid && hasAsk {
			require.True(t, bid.Price.LessThan(ask.Price), "book crossed at step %d", i)
		}
		require.Equal(t, len(live), ob.Len())
		for id, rem := range remaining {
			o, ok := ob.Order(id)
			require.True(t, ok)
			require.Equal(t, rem, o.Remaining)
		}
	}
	require.NoError(t, ob.Halted())
}
