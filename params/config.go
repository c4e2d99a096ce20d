package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	// DataDir holds the pebble journal; empty keeps the journal in memory.
	DataDir string
	LogFile string
	// TxLogFile is the append-only command log replayed on startup; empty disables it.
	TxLogFile string
	// TxLogFsync syncs the command log after every append.
	TxLogFsync bool
	Verbose    bool
	// Markets registered at startup, in BASE-QUOTE form.
	Markets []string
}

type Engine struct {
	// BatchInterval paces the mempool drain loop.
	//
	// Recommended values:
	//   - Devnet:   100ms (easy to follow in logs)
	//   - Load test: 10ms (keeps the mempool short under txgen stress mode)
	BatchInterval time.Duration
	// MaxBatchBytes caps one drain; 0 drains everything pending.
	MaxBatchBytes int64
	EnableTxGen   bool
	TxGenMode     string // default|high|stress
}

type API struct {
	Addr        string
	CORSOrigins []string
	DepthLimit  int // levels per side in snapshots; 0 = full book
	// RequireSignatures enforces EIP-712 signed orders and cancels.
	RequireSignatures bool
	ChainID           int64 // EIP-712 domain chain id
}

type Kafka struct {
	Brokers     []string // empty disables trade publishing
	TradesTopic string
}

type Config struct {
	Node   Node
	Engine Engine
	API    API
	Kafka  Kafka
}

func Default() Config {
	return Config{
		Node: Node{
			LogFile:   "data/node.log",
			TxLogFile: "data/transactions.log",
			Markets:   []string{"BTC-USDT"},
		},
		Engine: Engine{
			BatchInterval: 100 * time.Millisecond,
			TxGenMode:     "default",
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			DepthLimit:  20,
			ChainID:     1337,
		},
		Kafka: Kafka{
			TradesTopic: "matchcore.trades",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Override with environment variables
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.TxLogFile = getEnv("TX_LOG_FILE", cfg.Node.TxLogFile)
	cfg.Node.TxLogFsync = getBool("TX_LOG_FSYNC", cfg.Node.TxLogFsync)
	cfg.Node.Verbose = getBool("VERBOSE", cfg.Node.Verbose)
	cfg.Node.Markets = getList("MARKETS", cfg.Node.Markets)

	if ms, ok := getInt("BATCH_INTERVAL_MS"); ok && ms > 0 {
		cfg.Engine.BatchInterval = time.Duration(ms) * time.Millisecond
	}
	if n, ok := getInt("MAX_BATCH_BYTES"); ok && n >= 0 {
		cfg.Engine.MaxBatchBytes = int64(n)
	}
	cfg.Engine.EnableTxGen = getBool("ENABLE_TXGEN", cfg.Engine.EnableTxGen)
	cfg.Engine.TxGenMode = getEnv("TXGEN_MODE", cfg.Engine.TxGenMode)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.CORSOrigins = getList("CORS_ORIGINS", cfg.API.CORSOrigins)
	if n, ok := getInt("DEPTH_LIMIT"); ok && n >= 0 {
		cfg.API.DepthLimit = n
	}
	cfg.API.RequireSignatures = getBool("REQUIRE_SIGNATURES", cfg.API.RequireSignatures)
	if n, ok := getInt("CHAIN_ID"); ok && n > 0 {
		cfg.API.ChainID = int64(n)
	}

	cfg.Kafka.Brokers = getList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.TradesTopic = getEnv("KAFKA_TRADES_TOPIC", cfg.Kafka.TradesTopic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

// getInt ignores unparsable values so a typo falls back to the default.
func getInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return n, true
}

// getList splits a comma-separated value, dropping empty entries.
func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
