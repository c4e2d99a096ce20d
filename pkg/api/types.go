package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/storage"
)

// API response types for REST endpoints and WebSocket messages
// Prices are decimal strings; sizes are integer lots.

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's configuration and top of book
type MarketInfo struct {
	Symbol        string           `json:"symbol"`     // e.g., "BTC-USDT"
	BaseAsset     string           `json:"baseAsset"`  // e.g., "BTC"
	QuoteAsset    string           `json:"quoteAsset"` // e.g., "USDT"
	Status        string           `json:"status"`     // "Active", "Paused", "Halted"
	TickSize      string           `json:"tickSize"`   // "0" when unrestricted
	MinOrderSize  uint64           `json:"minOrderSize"`
	MaxOrderSize  uint64           `json:"maxOrderSize"` // 0 = unbounded
	RestingOrders int              `json:"restingOrders"`
	BestBid       *decimal.Decimal `json:"bestBid,omitempty"`
	BestAsk       *decimal.Decimal `json:"bestAsk,omitempty"`
	MidPrice      *decimal.Decimal `json:"midPrice,omitempty"`
	LastPrice     *decimal.Decimal `json:"lastPrice,omitempty"`
	CreatedAt     int64            `json:"createdAt"` // Unix milliseconds
}

func newMarketInfo(m *market.Market) MarketInfo {
	book := m.Book()
	info := MarketInfo{
		Symbol:        m.Pair.String(),
		BaseAsset:     m.Pair.Base,
		QuoteAsset:    m.Pair.Quote,
		Status:        m.Status().String(),
		TickSize:      m.Params.TickSize.String(),
		MinOrderSize:  m.Params.MinOrderSize,
		MaxOrderSize:  m.Params.MaxOrderSize,
		RestingOrders: book.Len(),
		CreatedAt:     m.CreatedAt.UnixMilli(),
	}
	if l, ok := book.BestBid(); ok {
		info.BestBid = &l.Price
	}
	if l, ok := book.BestAsk(); ok {
		info.BestAsk = &l.Price
	}
	if p, ok := book.MidPrice(); ok {
		info.MidPrice = &p
	}
	if p, ok := book.LastTradePrice(); ok {
		info.LastPrice = &p
	}
	return info
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`      // Sorted high to low
	Asks      []PriceLevel `json:"asks"`      // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel is one aggregated level
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Size   uint64          `json:"size"`
	Orders int             `json:"orders"`
}

func toPriceLevels(levels []orderbook.Level) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{Price: l.Price, Size: l.Volume, Orders: l.Orders}
	}
	return out
}

// TradeInfo represents an execution
type TradeInfo struct {
	Seq          uint64          `json:"seq"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Size         uint64          `json:"size"`
	Side         string          `json:"side"` // taker side, "buy" or "sell"
	MakerOrderID uint64          `json:"makerOrderId"`
	TakerOrderID uint64          `json:"takerOrderId"`
	Timestamp    int64           `json:"timestamp,omitempty"` // Unix milliseconds
}

func sideName(s orderbook.Side) string {
	if s == orderbook.Bid {
		return "buy"
	}
	return "sell"
}

func newTradeInfo(symbol string, t orderbook.Trade) TradeInfo {
	return TradeInfo{
		Seq:          t.Seq,
		Symbol:       symbol,
		Price:        t.Price,
		Size:         t.Size,
		Side:         sideName(t.TakerSide),
		MakerOrderID: uint64(t.MakerOrderID),
		TakerOrderID: uint64(t.TakerOrderID),
	}
}

func tradeInfoFromRecord(r storage.TradeRecord) TradeInfo {
	return TradeInfo{
		Seq:          r.Seq,
		Symbol:       r.Pair,
		Price:        r.Price,
		Size:         r.Size,
		Side:         sideName(r.TakerSide),
		MakerOrderID: uint64(r.MakerOrderID),
		TakerOrderID: uint64(r.TakerOrderID),
		Timestamp:    r.Time.UnixMilli(),
	}
}

// OrderInfo represents a resting or just-cancelled order
type OrderInfo struct {
	ID        uint64          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"` // "buy" or "sell"
	Type      string          `json:"type"` // "GTC", "IOC"
	Price     decimal.Decimal `json:"price"`
	Size      uint64          `json:"size"`
	Filled    uint64          `json:"filled"`
	Remaining uint64          `json:"remaining"`
	Status    string          `json:"status"` // "open", "partially_filled", "filled", "cancelled"
	Owner     string          `json:"owner"`
}

func newOrderInfo(symbol string, o orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        uint64(o.ID),
		Symbol:    symbol,
		Side:      sideName(o.Side),
		Type:      o.TimeInForce.String(),
		Price:     o.Price,
		Size:      o.Size,
		Filled:    o.Filled(),
		Remaining: o.Remaining,
		Status:    o.Status.String(),
		Owner:     o.Owner,
	}
}

// SubmitOrderResponse is the synchronous outcome of an order
type SubmitOrderResponse struct {
	OrderID        uint64      `json:"orderId"`
	RestingOrderID *uint64     `json:"restingOrderId,omitempty"` // set when a remainder rests
	Status         string      `json:"status"`
	Remaining      uint64      `json:"remaining"`
	Trades         []TradeInfo `json:"trades"`
}

// TxResponse acknowledges a queued command
type TxResponse struct {
	Status string `json:"status"` // "queued"
	Bucket string `json:"bucket"` // "admin", "cancel", "order"
}

// HealthResponse reports liveness and a digest of all books
type HealthResponse struct {
	Status    string `json:"status"`
	Markets   int    `json:"markets"`
	Pending   int    `json:"pending"`
	StateHash string `json:"stateHash"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orderbook:BTC-USDT", "trades:BTC-USDT"]
}

// OrderbookUpdate is broadcast after every book mutation
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// TradeUpdate is broadcast when trades execute
type TradeUpdate struct {
	Type   string      `json:"type"` // "trades"
	Symbol string      `json:"symbol"`
	Trades []TradeInfo `json:"trades"`
}

// ==============================
// REST Request Types
// ==============================

// CreateMarketRequest is the payload for POST /api/v1/markets
type CreateMarketRequest struct {
	Symbol       string `json:"symbol"`
	TickSize     string `json:"tickSize,omitempty"`
	MinOrderSize uint64 `json:"minOrderSize,omitempty"`
	MaxOrderSize uint64 `json:"maxOrderSize,omitempty"`
}

// UpdateStatusRequest is the payload for PUT /api/v1/markets/{pair}/status
type UpdateStatusRequest struct {
	Status string `json:"status"` // "Active" or "Paused"
}

// SubmitOrderRequest is the payload for POST /api/v1/markets/{pair}/orders
type SubmitOrderRequest struct {
	Side  string `json:"side"`           // "buy" or "sell"
	Type  string `json:"type,omitempty"` // "GTC" (default) or "IOC"
	Price string `json:"price"`
	Size  uint64 `json:"size"`
	Owner string `json:"owner"` // Ethereum address

	// Required when the server enforces signatures
	Nonce     uint64 `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
