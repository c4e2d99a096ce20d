package exchange

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/transaction"
)

// TxGenerator creates random trading commands for load testing
type TxGenerator struct {
	accounts []common.Address // simulated trader addresses
	symbols  []string         // tradeable markets
	mid      decimal.Decimal
	tick     decimal.Decimal
	spread   int // max distance from mid, in ticks

	// orders generated per symbol; approximates the book's id counter
	issued  map[string]uint64
	cancels int
	rng     *rand.Rand
}

// NewTxGenerator creates a new transaction generator.
// Trader addresses are derived from fresh secp256k1 keys.
func NewTxGenerator(numAccounts int, symbols []string, mid, tick decimal.Decimal, seed int64) (*TxGenerator, error) {
	if numAccounts <= 0 || len(symbols) == 0 {
		return nil, fmt.Errorf("txgen needs at least one account and one symbol")
	}
	if !tick.IsPositive() || !mid.IsPositive() {
		return nil, fmt.Errorf("txgen needs positive mid and tick")
	}

	accounts := make([]common.Address, numAccounts)
	for i := range accounts {
		key, err := ethCrypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate trader key: %w", err)
		}
		accounts[i] = ethCrypto.PubkeyToAddress(key.PublicKey)
	}

	return &TxGenerator{
		accounts: accounts,
		symbols:  symbols,
		mid:      mid,
		tick:     tick,
		spread:   50,
		issued:   make(map[string]uint64),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// GenerateOrder creates a random order command.
// Bids and asks are drawn from the same band around mid so that roughly half
// of the flow crosses.
func (g *TxGenerator) GenerateOrder() []byte {
	account := g.accounts[g.rng.Intn(len(g.accounts))]
	symbol := g.symbols[g.rng.Intn(len(g.symbols))]

	// 80% GTC, 20% IOC
	tif := orderbook.GTC
	if g.rng.Intn(100) >= 80 {
		tif = orderbook.IOC
	}

	side := orderbook.Bid
	if g.rng.Intn(2) == 1 {
		side = orderbook.Ask
	}

	offset := int64(g.rng.Intn(2*g.spread+1) - g.spread)
	price := g.mid.Add(g.tick.Mul(decimal.NewFromInt(offset)))
	if !price.IsPositive() {
		price = g.tick
	}

	// 1 to 100 lots
	qty := uint64(g.rng.Intn(100) + 1)

	g.issued[symbol]++
	b, _ := transaction.NewOrderTx(symbol, side, price, qty, tif, account.Hex()).Serialize()
	return b
}

// GenerateCancel creates a cancel for one of the last 100 orders of a symbol.
// Some target orders that already filled; those cancels miss.
func (g *TxGenerator) GenerateCancel() []byte {
	symbol := g.symbols[g.rng.Intn(len(g.symbols))]

	id := int64(g.issued[symbol]) - int64(g.rng.Intn(100))
	if id < 1 {
		id = 1
	}

	g.cancels++
	b, _ := transaction.NewCancelTx(symbol, orderbook.OrderID(id)).Serialize()
	return b
}

// GenerateMix creates a random transaction (90% orders, 10% cancels)
func (g *TxGenerator) GenerateMix() []byte {
	if g.rng.Intn(100) < 90 {
		return g.GenerateOrder()
	}
	return g.GenerateCancel()
}

// GenerateBatch creates multiple random transactions
func (g *TxGenerator) GenerateBatch(count int) [][]byte {
	batch := make([][]byte, count)
	for i := 0; i < count; i++ {
		batch[i] = g.GenerateMix()
	}
	return batch
}

// Stats for load testing analysis
type TxGenStats struct {
	TotalOrders   int
	TotalCancels  int
	OrdersPerSec  float64
	CancelsPerSec float64
}

// GetStats returns current generation statistics
func (g *TxGenerator) GetStats(elapsed time.Duration) TxGenStats {
	seconds := elapsed.Seconds()
	if seconds == 0 {
		seconds = 1
	}

	orders := 0
	for _, n := range g.issued {
		orders += int(n)
	}
	return TxGenStats{
		TotalOrders:   orders,
		TotalCancels:  g.cancels,
		OrdersPerSec:  float64(orders) / seconds,
		CancelsPerSec: float64(g.cancels) / seconds,
	}
}
