package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/transaction"
	"github.com/uhyunpark/matchcore/pkg/app/exchange"
	"github.com/uhyunpark/matchcore/pkg/crypto"
	"github.com/uhyunpark/matchcore/pkg/storage"
	"github.com/uhyunpark/matchcore/pkg/util"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 1000
	maxBodyBytes      = 1 << 20
)

// Config controls the HTTP surface.
type Config struct {
	Addr        string
	CORSOrigins []string
	DepthLimit  int // default orderbook depth; 0 = full book

	// RequireSignatures rejects order and cancel commands that are not
	// EIP-712 signed by their owner under Domain.
	RequireSignatures bool
	Domain            crypto.Domain
}

// Server handles REST API and WebSocket connections
type Server struct {
	app    *exchange.App
	router *mux.Router
	hub    *Hub        // WebSocket hub
	auth   *authorizer // nil when signatures are optional
	cfg    Config
	clock  util.Clock
	log    *zap.SugaredLogger
}

// NewServer creates a new API server and subscribes the WebSocket hub to
// the app's book and trade hooks.
func NewServer(app *exchange.App, cfg Config, log *zap.SugaredLogger) *Server {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	if cfg.Domain.ChainID == nil {
		cfg.Domain = crypto.DefaultDomain()
	}

	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		cfg:    cfg,
		clock:  util.RealClock{},
		log:    log,
	}

	if cfg.RequireSignatures {
		s.auth = newAuthorizer(cfg.Domain)
	}

	app.OnBookChange(s.broadcastOrderbook)
	app.OnTrade(s.broadcastTrades)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogger)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets", s.adminOnly(s.handleCreateMarket)).Methods("POST")
	api.HandleFunc("/markets/{pair}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{pair}/status", s.adminOnly(s.handleUpdateStatus)).Methods("PUT")
	api.HandleFunc("/markets/{pair}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{pair}/trades", s.handleGetTrades).Methods("GET")

	// Order entry
	api.HandleFunc("/markets/{pair}/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/markets/{pair}/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/markets/{pair}/orders/{id:[0-9]+}", s.handleCancelOrder).Methods("DELETE")

	// Raw commands, applied by the batch loop
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", s.app.Metrics().Handler()).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Nonce", "X-Signature"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub exposes the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Start WebSocket hub
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Infow("api_stopped")
		return nil
	}
}

// requestLogger tags every request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		s.log.Debugw("http_request", "id", id, "method", r.Method, "path", r.URL.Path,
			"status", sw.status, "took", time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack is required for the WebSocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot be hijacked")
	}
	return h.Hijack()
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.app.Registry().ListMarkets()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = newMarketInfo(m)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	pair, err := market.ParsePair(req.Symbol)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	payload := transaction.MarketPayload{
		Symbol:   req.Symbol,
		Action:   transaction.ActionAdd,
		TickSize: req.TickSize,
		MinSize:  req.MinOrderSize,
		MaxSize:  req.MaxOrderSize,
	}
	opts, err := payload.Options()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid market parameters", err.Error())
		return
	}

	m, err := s.app.AddMarket(pair, opts...)
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, newMarketInfo(m))
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newMarketInfo(m))
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	var status market.MarketStatus
	switch strings.ToLower(req.Status) {
	case "active":
		status = market.Active
	case "paused":
		status = market.Paused
	default:
		respondError(w, http.StatusBadRequest, "invalid status", "expected Active or Paused")
		return
	}

	if err := s.app.UpdateMarketStatus(m.Pair, status); err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newMarketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}

	depth, err := queryInt(r, "depth", s.cfg.DepthLimit)
	if err != nil || depth < 0 {
		respondError(w, http.StatusBadRequest, "invalid depth", "depth must be a non-negative integer")
		return
	}

	respondJSON(w, http.StatusOK, s.snapshot(m, depth))
}

func (s *Server) snapshot(m *market.Market, depth int) OrderbookSnapshot {
	d := m.Book().Depth(depth)
	return OrderbookSnapshot{
		Symbol:    m.Pair.String(),
		Bids:      toPriceLevels(d.Bids),
		Asks:      toPriceLevels(d.Asks),
		Timestamp: s.clock.Now().UnixMilli(),
	}
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit", defaultTradeLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", "limit must be a positive integer")
		return
	}
	if limit > maxTradeLimit {
		limit = maxTradeLimit
	}

	records, err := s.app.RecentTrades(m.Pair, limit)
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	response := make([]TradeInfo, len(records))
	for i, rec := range records {
		response[i] = tradeInfoFromRecord(rec)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}

	var req SubmitOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	o, err := req.toOrder(m.Pair)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	if s.auth != nil {
		if _, err := s.auth.authorize(req.orderTx(m.Pair, o)); err != nil {
			s.respondAppError(w, err)
			return
		}
	}

	res, err := s.app.SubmitOrder(r.Context(), o)
	if err != nil {
		s.respondAppError(w, err)
		return
	}

	response := SubmitOrderResponse{
		OrderID:   uint64(res.OrderID),
		Status:    res.Status.String(),
		Remaining: res.Remaining,
		Trades:    make([]TradeInfo, len(res.Trades)),
	}
	if id, ok := res.RestingOrderID(); ok {
		rid := uint64(id)
		response.RestingOrderID = &rid
	}
	for i, t := range res.Trades {
		response.Trades[i] = newTradeInfo(m.Pair.String(), t)
	}
	respondJSON(w, http.StatusOK, response)
}

func (req SubmitOrderRequest) toOrder(pair market.Pair) (transaction.Order, error) {
	o := transaction.Order{Pair: pair}

	switch strings.ToLower(req.Side) {
	case "buy", "bid":
		o.Side = orderbook.Bid
	case "sell", "ask":
		o.Side = orderbook.Ask
	default:
		return o, errors.New("side must be buy or sell")
	}

	switch strings.ToUpper(req.Type) {
	case "", "GTC":
		o.TimeInForce = orderbook.GTC
	case "IOC":
		o.TimeInForce = orderbook.IOC
	default:
		return o, errors.New("type must be GTC or IOC")
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return o, errors.New("price must be a decimal string")
	}
	o.Price = price
	o.Size = req.Size

	if !common.IsHexAddress(req.Owner) {
		return o, errors.New("owner must be a hex address")
	}
	o.Owner = common.HexToAddress(req.Owner).Hex()
	return o, nil
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, ok := m.Book().Order(orderbook.OrderID(id))
	if !ok {
		s.respondAppError(w, market.ErrOrderNotFound)
		return
	}
	respondJSON(w, http.StatusOK, newOrderInfo(m.Pair.String(), o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupMarket(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	if s.auth != nil {
		resting, ok := m.Book().Order(orderbook.OrderID(id))
		if !ok {
			s.respondAppError(w, market.ErrOrderNotFound)
			return
		}
		tx, err := cancelTx(m.Pair, resting, r.Header.Get("X-Nonce"), r.Header.Get("X-Signature"))
		if err == nil {
			_, err = s.auth.authorize(tx)
		}
		if err != nil {
			s.respondAppError(w, err)
			return
		}
	}

	o, err := s.app.CancelOrder(r.Context(), m.Pair, orderbook.OrderID(id))
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newOrderInfo(m.Pair.String(), o))
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	// Reject what the batch loop could never apply
	tx, err := transaction.ParseTransaction(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}
	if err := s.authorizeTx(tx); err != nil {
		s.respondAppError(w, err)
		return
	}

	bucket := s.app.PushTx(body)
	respondJSON(w, http.StatusAccepted, TxResponse{Status: "queued", Bucket: bucket.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Markets:   s.app.Registry().Count(),
		Pending:   s.app.Pending(),
		StateHash: s.app.StateHash().Hex(),
	})
}

// ==============================
// WebSocket broadcasting
// ==============================

func (s *Server) broadcastOrderbook(pair market.Pair) {
	channel := orderbookChannel(pair.String())
	if !s.hub.HasSubscribers(channel) {
		return
	}
	m, err := s.app.Registry().Market(pair)
	if err != nil {
		return
	}
	snap := s.snapshot(m, s.cfg.DepthLimit)
	s.hub.BroadcastToChannel(channel, OrderbookUpdate{
		Type:      channelOrderbook,
		Symbol:    snap.Symbol,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
		Timestamp: snap.Timestamp,
	})
}

func (s *Server) broadcastTrades(pair market.Pair, trades []storage.TradeRecord) {
	channel := tradesChannel(pair.String())
	if !s.hub.HasSubscribers(channel) {
		return
	}
	update := TradeUpdate{
		Type:   channelTrades,
		Symbol: pair.String(),
		Trades: make([]TradeInfo, len(trades)),
	}
	for i, t := range trades {
		update.Trades[i] = tradeInfoFromRecord(t)
	}
	s.hub.BroadcastToChannel(channel, update)
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) lookupMarket(w http.ResponseWriter, r *http.Request) (*market.Market, bool) {
	pair, err := market.ParsePair(mux.Vars(r)["pair"])
	if err != nil {
		s.respondAppError(w, err)
		return nil, false
	}
	m, err := s.app.Registry().Market(pair)
	if err != nil {
		s.respondAppError(w, err)
		return nil, false
	}
	return m, true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, market.ErrDuplicateMarket):
		return http.StatusConflict, "market already exists"
	case errors.Is(err, market.ErrMarketNotFound):
		return http.StatusNotFound, "market not found"
	case errors.Is(err, market.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, market.ErrInvalidPair):
		return http.StatusBadRequest, "invalid pair"
	case errors.Is(err, market.ErrInvalidParams):
		return http.StatusBadRequest, "invalid market parameters"
	case errors.Is(err, market.ErrInvalidOrder):
		return http.StatusBadRequest, "invalid order"
	case errors.Is(err, exchange.ErrInvalidTx):
		return http.StatusBadRequest, "invalid transaction"
	case errors.Is(err, market.ErrMarketNotActive):
		return http.StatusConflict, "market not active"
	case errors.Is(err, market.ErrMarketHalted), errors.Is(err, market.ErrInvariantViolation):
		return http.StatusServiceUnavailable, "market halted"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warnw("api_error", "status", status, "err", err)
	}
	respondError(w, status, msg, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
