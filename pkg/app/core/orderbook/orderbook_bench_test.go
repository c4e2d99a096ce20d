package orderbook_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
)

// prefill seeds 100 levels per side around 1050.
func prefill(ob *orderbook.OrderBook) {
	for i := 0; i < 100; i++ {
		ob.AddOrder(orderbook.Bid, decimal.NewFromInt(int64(1000-i)), 100, "maker")
		ob.AddOrder(orderbook.Ask, decimal.NewFromInt(int64(1100+i)), 100, "maker")
	}
}

// BenchmarkOrderbookPlace measures resting order placement.
func BenchmarkOrderbookPlace(b *testing.B) {
	ob := orderbook.NewOrderBook()
	prefill(ob)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := orderbook.Bid
		price := decimal.NewFromInt(int64(950 + i%50))
		if i%2 == 0 {
			side = orderbook.Ask
			price = decimal.NewFromInt(int64(1101 + i%50))
		}
		ob.AddOrder(side, price, 10, "bench")
	}
}

// BenchmarkOrderbookMatch measures IOC orders crossing the top of book.
func BenchmarkOrderbookMatch(b *testing.B) {
	ob := orderbook.NewOrderBook()
	prefill(ob)
	ioc := orderbook.WithTimeInForce(orderbook.IOC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// replenish what the previous iteration consumed
		ob.AddOrder(orderbook.Ask, decimal.NewFromInt(1100), 10, "maker")
		ob.AddOrder(orderbook.Bid, decimal.NewFromInt(1100), 10, "taker", ioc)
	}
}

// BenchmarkOrderbookCancel measures O(1) cancellation deep inside a level.
func BenchmarkOrderbookCancel(b *testing.B) {
	ob := orderbook.NewOrderBook()
	prefill(ob)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, _ := ob.AddOrder(orderbook.Bid, decimal.NewFromInt(990), 1, "bench")
		ob.CancelOrder(res.OrderID)
	}
}
