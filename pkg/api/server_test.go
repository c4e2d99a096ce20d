package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/transaction"
	"github.com/uhyunpark/matchcore/pkg/app/exchange"
)

const (
	alice = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	bob   = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
)

var btc = market.NewPair("BTC", "USDT")

func newTestServer(t *testing.T) (*Server, *exchange.App) {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	app := exchange.NewApp(exchange.WithLogger(log))
	_, err := app.AddMarket(btc)
	require.NoError(t, err)
	return NewServer(app, Config{DepthLimit: 10}, log), app
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func TestServer_Markets(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rr := do(t, h, "GET", "/api/v1/markets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	markets := decode[[]MarketInfo](t, rr)
	require.Len(t, markets, 1)
	assert.Equal(t, "BTC-USDT", markets[0].Symbol)
	assert.Equal(t, "Active", markets[0].Status)
	assert.Nil(t, markets[0].BestBid)

	rr = do(t, h, "POST", "/api/v1/markets", CreateMarketRequest{Symbol: "ETH-USDT", TickSize: "0.01", MaxOrderSize: 500})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[MarketInfo](t, rr)
	assert.Equal(t, "0.01", created.TickSize)
	assert.Equal(t, uint64(1), created.MinOrderSize)
	assert.Equal(t, uint64(500), created.MaxOrderSize)

	tests := []struct {
		name string
		req  CreateMarketRequest
		code int
	}{
		{"duplicate", CreateMarketRequest{Symbol: "ETH-USDT"}, http.StatusConflict},
		{"no separator", CreateMarketRequest{Symbol: "ETHUSDT"}, http.StatusBadRequest},
		{"bad tick", CreateMarketRequest{Symbol: "SOL-USDT", TickSize: "abc"}, http.StatusBadRequest},
		{"min above max", CreateMarketRequest{Symbol: "SOL-USDT", MinOrderSize: 10, MaxOrderSize: 5}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, "POST", "/api/v1/markets", tt.req)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}

	rr = do(t, h, "GET", "/api/v1/markets/ETH-USDT", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ETH", decode[MarketInfo](t, rr).BaseAsset)

	rr = do(t, h, "GET", "/api/v1/markets/DOGE-USDT", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "market not found", decode[ErrorResponse](t, rr).Error)
}

func TestServer_OrderFlow(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rr := do(t, h, "POST", "/api/v1/markets/BTC-USDT/orders", SubmitOrderRequest{Side: "sell", Price: "100", Size: 5, Owner: alice})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	ask := decode[SubmitOrderResponse](t, rr)
	assert.Equal(t, uint64(1), ask.OrderID)
	assert.Equal(t, "open", ask.Status)
	require.NotNil(t, ask.RestingOrderID)
	assert.Equal(t, uint64(1), *ask.RestingOrderID)
	assert.Empty(t, ask.Trades)

	rr = do(t, h, "POST", "/api/v1/markets/BTC-USDT/orders", SubmitOrderRequest{Side: "buy", Type: "IOC", Price: "101", Size: 2, Owner: bob})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	bid := decode[SubmitOrderResponse](t, rr)
	assert.Equal(t, "filled", bid.Status)
	assert.Nil(t, bid.RestingOrderID)
	require.Len(t, bid.Trades, 1)
	assert.True(t, bid.Trades[0].Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "buy", bid.Trades[0].Side)

	rr = do(t, h, "GET", "/api/v1/markets/BTC-USDT/orderbook?depth=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[OrderbookSnapshot](t, rr)
	assert.Empty(t, snap.Bids)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, uint64(3), snap.Asks[0].Size)
	assert.Equal(t, 1, snap.Asks[0].Orders)

	rr = do(t, h, "GET", "/api/v1/markets/BTC-USDT/trades?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	trades := decode[[]TradeInfo](t, rr)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(1), trades[0].MakerOrderID)
	assert.Equal(t, uint64(2), trades[0].TakerOrderID)

	rr = do(t, h, "GET", "/api/v1/markets/BTC-USDT/orders/1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	o := decode[OrderInfo](t, rr)
	assert.Equal(t, "partially_filled", o.Status)
	assert.Equal(t, uint64(2), o.Filled)
	assert.Equal(t, common.HexToAddress(alice).Hex(), o.Owner)

	rr = do(t, h, "DELETE", "/api/v1/markets/BTC-USDT/orders/1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancelled", decode[OrderInfo](t, rr).Status)

	rr = do(t, h, "DELETE", "/api/v1/markets/BTC-USDT/orders/1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, "GET", "/api/v1/markets/BTC-USDT/orders/1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_OrderValidation(t *testing.T) {
	s, app := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name string
		req  SubmitOrderRequest
		code int
	}{
		{"bad side", SubmitOrderRequest{Side: "hold", Price: "1", Size: 1, Owner: alice}, http.StatusBadRequest},
		{"bad type", SubmitOrderRequest{Side: "buy", Type: "FOK", Price: "1", Size: 1, Owner: alice}, http.StatusBadRequest},
		{"bad price", SubmitOrderRequest{Side: "buy", Price: "one", Size: 1, Owner: alice}, http.StatusBadRequest},
		{"bad owner", SubmitOrderRequest{Side: "buy", Price: "1", Size: 1, Owner: "alice"}, http.StatusBadRequest},
		{"zero size", SubmitOrderRequest{Side: "buy", Price: "1", Size: 0, Owner: alice}, http.StatusBadRequest},
		{"negative price", SubmitOrderRequest{Side: "buy", Price: "-1", Size: 1, Owner: alice}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, "POST", "/api/v1/markets/BTC-USDT/orders", tt.req)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}

	rr := do(t, h, "POST", "/api/v1/markets/BTC-USDT/orders", []byte(`{"side":"buy","price":"1","size":1,"owner":"`+alice+`","leverage":10}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, "POST", "/api/v1/markets/ETH-USDT/orders", SubmitOrderRequest{Side: "buy", Price: "1", Size: 1, Owner: alice})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	book, err := app.Registry().Book(btc)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Len())
}

func TestServer_PausedMarket(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rr := do(t, h, "POST", "/api/v1/markets/BTC-USDT/orders", SubmitOrderRequest{Side: "buy", Price: "10", Size: 1, Owner: alice})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, "PUT", "/api/v1/markets/BTC-USDT/status", UpdateStatusRequest{Status: "Paused"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Paused", decode[MarketInfo](t, rr).Status)

	rr = do(t, h, "POST", "/api/v1/markets/BTC-USDT/orders", SubmitOrderRequest{Side: "buy", Price: "10", Size: 1, Owner: alice})
	assert.Equal(t, http.StatusConflict, rr.Code)

	// cancels still go through
	rr = do(t, h, "DELETE", "/api/v1/markets/BTC-USDT/orders/1", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, "PUT", "/api/v1/markets/BTC-USDT/status", UpdateStatusRequest{Status: "Halted"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, "PUT", "/api/v1/markets/BTC-USDT/status", UpdateStatusRequest{Status: "active"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_QueryParams(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	for _, path := range []string{
		"/api/v1/markets/BTC-USDT/orderbook?depth=-1",
		"/api/v1/markets/BTC-USDT/orderbook?depth=x",
		"/api/v1/markets/BTC-USDT/trades?limit=0",
		"/api/v1/markets/BTC-USDT/trades?limit=many",
	} {
		rr := do(t, h, "GET", path, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}

	rr := do(t, h, "GET", "/api/v1/markets/BTC-USDT/trades?limit=100000", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
}

func TestServer_SubmitTx(t *testing.T) {
	s, app := newTestServer(t)
	h := s.Handler()

	b, err := transaction.NewOrderTx("BTC-USDT", orderbook.Bid, decimal.NewFromInt(10), 1, orderbook.GTC, alice).Serialize()
	require.NoError(t, err)

	rr := do(t, h, "POST", "/api/v1/tx", b)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, TxResponse{Status: "queued", Bucket: "order"}, decode[TxResponse](t, rr))

	b, err = transaction.NewCancelTx("BTC-USDT", 1).Serialize()
	require.NoError(t, err)
	rr = do(t, h, "POST", "/api/v1/tx", b)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "cancel", decode[TxResponse](t, rr).Bucket)

	rr = do(t, h, "POST", "/api/v1/tx", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, 2, app.Pending())
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s, app := newTestServer(t)
	h := s.Handler()

	rr := do(t, h, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	health := decode[HealthResponse](t, rr)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Markets)
	assert.Equal(t, app.StateHash().Hex(), health.StateHash)

	rr = do(t, h, "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "matchcore_markets 1")
}

func TestServer_CORS(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest("OPTIONS", "/api/v1/markets", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/v1/markets", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{market.ErrDuplicateMarket, http.StatusConflict},
		{market.ErrMarketNotFound, http.StatusNotFound},
		{market.ErrOrderNotFound, http.StatusNotFound},
		{market.ErrInvalidPair, http.StatusBadRequest},
		{market.ErrInvalidParams, http.StatusBadRequest},
		{market.ErrInvalidOrder, http.StatusBadRequest},
		{exchange.ErrInvalidTx, http.StatusBadRequest},
		{market.ErrMarketNotActive, http.StatusConflict},
		{market.ErrMarketHalted, http.StatusServiceUnavailable},
		{market.ErrInvariantViolation, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: stale nonce", ErrUnauthorized), http.StatusUnauthorized},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			code, _ := statusFor(fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestValidChannel(t *testing.T) {
	assert.True(t, validChannel("orderbook:BTC-USDT"))
	assert.True(t, validChannel("trades:ETH-USDT"))
	assert.False(t, validChannel("trades:"))
	assert.False(t, validChannel("positions:BTC-USDT"))
	assert.False(t, validChannel(strings.Repeat("x", 10)))
}
