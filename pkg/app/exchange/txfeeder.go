package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/mempool"
)

// TxSink accepts raw commands; *App is one.
type TxSink interface {
	PushTx(b []byte) mempool.TxType
}

// TxFeederConfig controls transaction generation rate
type TxFeederConfig struct {
	BatchSize   int             // Number of txs to generate per batch
	Interval    time.Duration   // How often to generate batches
	NumAccounts int             // Number of simulated traders
	Symbols     []string        // Markets to trade
	MidPrice    decimal.Decimal // Center of the generated price band
	TickSize    decimal.Decimal // Price step of generated orders
	Seed        int64
}

// TxPerSecond is the nominal generation rate.
func (c TxFeederConfig) TxPerSecond() int {
	if c.Interval <= 0 {
		return 0
	}
	return c.BatchSize * int(time.Second) / int(c.Interval)
}

// DefaultFeederConfig returns reasonable defaults for testing
func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:   10,                     // 10 txs per batch
		Interval:    100 * time.Millisecond, // 100 tx/sec
		NumAccounts: 50,
		Symbols:     []string{"BTC-USDT"},
		MidPrice:    decimal.NewFromInt(50000),
		TickSize:    decimal.RequireFromString("0.5"),
		Seed:        time.Now().UnixNano(),
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() TxFeederConfig {
	cfg := DefaultFeederConfig()
	cfg.BatchSize = 100 // 1000 tx/sec
	cfg.NumAccounts = 200
	return cfg
}

// StressConfig pushes roughly 15k tx/sec.
func StressConfig() TxFeederConfig {
	cfg := DefaultFeederConfig()
	cfg.BatchSize = 150
	cfg.Interval = 10 * time.Millisecond
	cfg.NumAccounts = 500
	return cfg
}

// FeederConfigByMode maps a mode name to a preset.
func FeederConfigByMode(mode string) (TxFeederConfig, error) {
	switch mode {
	case "", "default":
		return DefaultFeederConfig(), nil
	case "high":
		return HighLoadConfig(), nil
	case "stress":
		return StressConfig(), nil
	default:
		return TxFeederConfig{}, fmt.Errorf("unknown txgen mode %q", mode)
	}
}

// StartTxFeeder starts a background goroutine that continuously feeds transactions to sink.
// Returns a cancel function to stop the feeder
func StartTxFeeder(ctx context.Context, sink TxSink, cfg TxFeederConfig, log *zap.SugaredLogger) (context.CancelFunc, error) {
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTC-USDT"}
	}

	gen, err := NewTxGenerator(cfg.NumAccounts, cfg.Symbols, cfg.MidPrice, cfg.TickSize, cfg.Seed)
	if err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		startTime := time.Now()
		lastReport := startTime
		totalTxs := 0

		log.Infow("txfeeder_started", "target_tps", cfg.TxPerSecond(), "batch", cfg.BatchSize,
			"interval", cfg.Interval, "symbols", cfg.Symbols)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(startTime)
				log.Infow("txfeeder_stopped", "txs", totalTxs, "elapsed", elapsed.Round(time.Second),
					"tps", float64(totalTxs)/elapsed.Seconds())
				return

			case <-ticker.C:
				for _, tx := range gen.GenerateBatch(cfg.BatchSize) {
					sink.PushTx(tx)
				}
				totalTxs += cfg.BatchSize

				// Log stats every 10 seconds
				if time.Since(lastReport) >= 10*time.Second {
					lastReport = time.Now()
					stats := gen.GetStats(time.Since(startTime))
					log.Infow("txfeeder_stats", "orders", stats.TotalOrders, "cancels", stats.TotalCancels,
						"orders_per_sec", stats.OrdersPerSec, "accounts", cfg.NumAccounts)
				}
			}
		}
	}()

	return cancel, nil
}
