package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeOrder  TxType = "order"  // Place limit order
	TxTypeCancel TxType = "cancel" // Cancel resting order
	TxTypeMarket TxType = "market" // Market admin: add, pause, resume
)

// Wire encodings of side and time in force.
const (
	SideBuy  uint8 = 1
	SideSell uint8 = 2

	TypeGTC uint8 = 1
	TypeIOC uint8 = 2
)

// Market admin actions.
const (
	ActionAdd    = "add"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// Transaction is the JSON command envelope accepted by the mempool and the
// exchange application.
type Transaction struct {
	Type   TxType         `json:"type"`
	Order  *OrderPayload  `json:"order,omitempty"`  // if type=order
	Cancel *CancelPayload `json:"cancel,omitempty"` // if type=cancel
	Market *MarketPayload `json:"market,omitempty"` // if type=market

	// Optional EIP-712 authorisation, see Verifier
	Nonce     uint64 `json:"nonce,omitempty"`
	Signature string `json:"signature,omitempty"` // 0x-prefixed, 65 bytes
}

// OrderPayload contains limit order data
type OrderPayload struct {
	Symbol string `json:"symbol"` // "BTC-USDT"
	Side   uint8  `json:"side"`   // 1=Buy, 2=Sell
	Type   uint8  `json:"type"`   // 1=GTC, 2=IOC; 0 means GTC
	Price  string `json:"price"`  // decimal as string
	Qty    string `json:"qty"`    // lots, uint64 as string
	Owner  string `json:"owner"`  // Ethereum address (0x...)
}

// CancelPayload contains order cancellation data
type CancelPayload struct {
	Symbol  string `json:"symbol"`
	OrderID uint64 `json:"order_id"`
	Owner   string `json:"owner,omitempty"` // required when signed
}

// MarketPayload registers a market or changes its status.
type MarketPayload struct {
	Symbol   string `json:"symbol"`
	Action   string `json:"action"`
	TickSize string `json:"tick_size,omitempty"`
	MinSize  uint64 `json:"min_size,omitempty"`
	MaxSize  uint64 `json:"max_size,omitempty"`
}

// Order is a decoded, type-checked order command.
type Order struct {
	Pair        market.Pair
	Side        orderbook.Side
	Price       decimal.Decimal
	Size        uint64
	TimeInForce orderbook.TimeInForce
	Owner       string
}

// Decode converts the wire payload into book types.
func (o *OrderPayload) Decode() (Order, error) {
	pair, err := market.ParsePair(o.Symbol)
	if err != nil {
		return Order{}, err
	}

	var side orderbook.Side
	switch o.Side {
	case SideBuy:
		side = orderbook.Bid
	case SideSell:
		side = orderbook.Ask
	default:
		return Order{}, fmt.Errorf("%w: invalid side %d", market.ErrInvalidOrder, o.Side)
	}

	var tif orderbook.TimeInForce
	switch o.Type {
	case 0, TypeGTC:
		tif = orderbook.GTC
	case TypeIOC:
		tif = orderbook.IOC
	default:
		return Order{}, fmt.Errorf("%w: invalid order type %d", market.ErrInvalidOrder, o.Type)
	}

	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return Order{}, fmt.Errorf("%w: invalid price %q", market.ErrInvalidOrder, o.Price)
	}
	qty, err := strconv.ParseUint(o.Qty, 10, 64)
	if err != nil {
		return Order{}, fmt.Errorf("%w: invalid qty %q", market.ErrInvalidOrder, o.Qty)
	}

	return Order{
		Pair:        pair,
		Side:        side,
		Price:       price,
		Size:        qty,
		TimeInForce: tif,
		Owner:       o.Owner,
	}, nil
}

// Options returns the market options described by the payload.
func (m *MarketPayload) Options() ([]market.Option, error) {
	var opts []market.Option
	if m.TickSize != "" {
		tick, err := decimal.NewFromString(m.TickSize)
		if err != nil {
			return nil, fmt.Errorf("invalid tick size %q: %w", m.TickSize, err)
		}
		opts = append(opts, market.WithTickSize(tick))
	}
	if m.MinSize > 0 || m.MaxSize > 0 {
		minSize := m.MinSize
		if minSize == 0 {
			minSize = 1
		}
		opts = append(opts, market.WithSizeLimits(minSize, m.MaxSize))
	}
	return opts, nil
}

// NewOrderTx builds an order command.
func NewOrderTx(symbol string, side orderbook.Side, price decimal.Decimal, qty uint64, tif orderbook.TimeInForce, owner string) *Transaction {
	p := &OrderPayload{
		Symbol: symbol,
		Side:   SideBuy,
		Type:   TypeGTC,
		Price:  price.String(),
		Qty:    strconv.FormatUint(qty, 10),
		Owner:  owner,
	}
	if side == orderbook.Ask {
		p.Side = SideSell
	}
	if tif == orderbook.IOC {
		p.Type = TypeIOC
	}
	return &Transaction{Type: TxTypeOrder, Order: p}
}

// NewCancelTx builds a cancel command.
func NewCancelTx(symbol string, id orderbook.OrderID) *Transaction {
	return &Transaction{Type: TxTypeCancel, Cancel: &CancelPayload{Symbol: symbol, OrderID: uint64(id)}}
}

// Serialize converts Transaction to JSON bytes
func (tx *Transaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into Transaction
func Deserialize(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *Transaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}

	switch tx.Type {
	case TxTypeOrder:
		if tx.Order == nil {
			return fmt.Errorf("order type requires order payload")
		}
		if tx.Order.Symbol == "" {
			return fmt.Errorf("missing order symbol")
		}
		if tx.Order.Side == 0 {
			return fmt.Errorf("invalid order side")
		}
		if tx.Order.Owner == "" {
			return fmt.Errorf("missing order owner")
		}
		if !common.IsHexAddress(tx.Order.Owner) {
			return fmt.Errorf("order owner %q is not a hex address", tx.Order.Owner)
		}

	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("cancel type requires cancel payload")
		}
		if tx.Cancel.Symbol == "" {
			return fmt.Errorf("missing cancel symbol")
		}
		if tx.Cancel.OrderID == 0 {
			return fmt.Errorf("missing cancel order ID")
		}
		if tx.Cancel.Owner != "" && !common.IsHexAddress(tx.Cancel.Owner) {
			return fmt.Errorf("cancel owner %q is not a hex address", tx.Cancel.Owner)
		}

	case TxTypeMarket:
		if tx.Market == nil {
			return fmt.Errorf("market type requires market payload")
		}
		if tx.Market.Symbol == "" {
			return fmt.Errorf("missing market symbol")
		}
		switch tx.Market.Action {
		case ActionAdd, ActionPause, ActionResume:
		default:
			return fmt.Errorf("unknown market action: %q", tx.Market.Action)
		}

	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}

	return nil
}

// ParseTransaction decodes and validates a JSON command.
func ParseTransaction(data []byte) (*Transaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}

	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	return tx, nil
}

// Example formats for reference:
//
//   {"type":"order","order":{"symbol":"BTC-USDT","side":1,"type":1,"price":"50000.5","qty":"10",
//    "owner":"0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"}}
//   {"type":"cancel","cancel":{"symbol":"BTC-USDT","order_id":42}}
//   {"type":"market","market":{"symbol":"ETH-USDT","action":"add","tick_size":"0.01"}}
