package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/matchcore/params"
	"github.com/uhyunpark/matchcore/pkg/api"
	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/exchange"
	"github.com/uhyunpark/matchcore/pkg/crypto"
	"github.com/uhyunpark/matchcore/pkg/events"
	"github.com/uhyunpark/matchcore/pkg/metrics"
	"github.com/uhyunpark/matchcore/pkg/storage"
	"github.com/uhyunpark/matchcore/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var journal storage.Journal = storage.NewMemoryJournal()
	if cfg.Node.DataDir != "" {
		pj, err := storage.NewPebbleJournal(filepath.Join(cfg.Node.DataDir, "journal"))
		if err != nil {
			return err
		}
		sugar.Infow("journal_opened", "dir", cfg.Node.DataDir, "epoch", pj.Epoch())
		journal = pj
	}

	// ---- Trade events ----
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic, sugar)
		sugar.Infow("kafka_publisher_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.TradesTopic)
	}

	opts := []exchange.Option{
		exchange.WithLogger(sugar),
		exchange.WithJournal(journal),
		exchange.WithPublisher(publisher),
		exchange.WithMetrics(metrics.New()),
	}

	// ---- Command log ----
	var wal *storage.FileWAL
	if cfg.Node.TxLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Node.TxLogFile), 0o755); err != nil {
			return err
		}
		var walOpts []storage.FileWALOption
		if cfg.Node.TxLogFsync {
			walOpts = append(walOpts, storage.WithFsync())
		}
		var err error
		if wal, err = storage.NewFileWAL(cfg.Node.TxLogFile, walOpts...); err != nil {
			return err
		}
		opts = append(opts, exchange.WithCommandLog(wal))
	}

	app := exchange.NewApp(opts...)
	defer func() {
		if err := app.Close(); err != nil {
			sugar.Warnw("app_close_failed", "err", err)
		}
	}()

	if wal != nil {
		if err := replay(ctx, app, cfg.Node.TxLogFile); err != nil {
			return err
		}
	}

	// ---- Markets ----
	for _, symbol := range cfg.Node.Markets {
		pair, err := market.ParsePair(symbol)
		if err != nil {
			return err
		}
		if app.Registry().Exists(pair) {
			continue // restored from the command log
		}
		if _, err := app.AddMarket(pair); err != nil {
			return err
		}
	}

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high|stress
	if cfg.Engine.EnableTxGen {
		txCfg, err := exchange.FeederConfigByMode(cfg.Engine.TxGenMode)
		if err != nil {
			return err
		}
		txCfg.Symbols = cfg.Node.Markets
		cancelFeeder, err := exchange.StartTxFeeder(ctx, app, txCfg, sugar)
		if err != nil {
			return err
		}
		defer cancelFeeder()
		sugar.Infow("txgen_enabled", "mode", cfg.Engine.TxGenMode, "target_tps", txCfg.TxPerSecond())
	} else {
		sugar.Info("txgen_disabled")
	}

	eg, ctx := errgroup.WithContext(ctx)

	// ---- API Server ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.API.ChainID)
	apiServer := api.NewServer(app, api.Config{
		Addr:              cfg.API.Addr,
		CORSOrigins:       cfg.API.CORSOrigins,
		DepthLimit:        cfg.API.DepthLimit,
		RequireSignatures: cfg.API.RequireSignatures,
		Domain:            domain,
	}, sugar)
	eg.Go(func() error { return apiServer.Start(ctx) })

	// ---- Batch loop ----
	eg.Go(func() error {
		app.Run(ctx, cfg.Engine.BatchInterval, cfg.Engine.MaxBatchBytes)
		return nil
	})

	sugar.Infow("node_started", "markets", cfg.Node.Markets, "batch_interval", cfg.Engine.BatchInterval,
		"api_addr", cfg.API.Addr, "require_signatures", cfg.API.RequireSignatures)

	err := eg.Wait()
	sugar.Infow("node_stopped", "state", app.StateHash().Hex())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// replay rebuilds the books from the command log written by a previous run.
func replay(ctx context.Context, app *exchange.App, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = app.Replay(ctx, f)
	return err
}
