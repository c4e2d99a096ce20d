package crypto

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain separator input.
// Orders signed for one domain do not verify in another.
type Domain struct {
	Name    string
	Version string
	ChainID *big.Int
}

// DefaultDomain is the off-chain devnet domain.
func DefaultDomain() Domain {
	return Domain{Name: "matchcore", Version: "1", ChainID: big.NewInt(1337)}
}

// OrderMessage is the typed data a trader signs to place a limit order.
type OrderMessage struct {
	Symbol string // e.g. "BTC-USDT"
	Side   uint8  // 1 = buy, 2 = sell
	Type   uint8  // 1 = GTC, 2 = IOC
	Price  string // decimal string, signed verbatim
	Qty    uint64 // lots
	Nonce  uint64
	Owner  common.Address
}

// CancelMessage is the typed data a trader signs to cancel a resting order.
type CancelMessage struct {
	Symbol  string
	OrderID uint64
	Nonce   uint64
	Owner   common.Address
}

var (
	domainType = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	}
	orderType = []apitypes.Type{
		{Name: "symbol", Type: "string"},
		{Name: "side", Type: "uint8"},
		{Name: "type", Type: "uint8"},
		{Name: "price", Type: "string"},
		{Name: "qty", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
	cancelType = []apitypes.Type{
		{Name: "symbol", Type: "string"},
		{Name: "orderId", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
)

// TypedSigner hashes, signs and recovers order commands under one domain.
type TypedSigner struct {
	domain Domain
}

func NewTypedSigner(domain Domain) *TypedSigner {
	return &TypedSigner{domain: domain}
}

func (e *TypedSigner) digest(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:    e.domain.Name,
			Version: e.domain.Version,
			ChainId: (*math.HexOrDecimal256)(e.domain.ChainID),
		},
		Message: msg,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(primary, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", primary, err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	raw := make([]byte, 0, 2+len(domainSeparator)+len(typedDataHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, typedDataHash...)
	return crypto.Keccak256(raw), nil
}

// HashOrder returns the digest a wallet signs for m.
func (e *TypedSigner) HashOrder(m OrderMessage) ([]byte, error) {
	return e.digest("Order", orderType, apitypes.TypedDataMessage{
		"symbol": m.Symbol,
		"side":   strconv.FormatUint(uint64(m.Side), 10),
		"type":   strconv.FormatUint(uint64(m.Type), 10),
		"price":  m.Price,
		"qty":    strconv.FormatUint(m.Qty, 10),
		"nonce":  strconv.FormatUint(m.Nonce, 10),
		"owner":  m.Owner.Hex(),
	})
}

// HashCancel returns the digest a wallet signs for m.
func (e *TypedSigner) HashCancel(m CancelMessage) ([]byte, error) {
	return e.digest("CancelOrder", cancelType, apitypes.TypedDataMessage{
		"symbol":  m.Symbol,
		"orderId": strconv.FormatUint(m.OrderID, 10),
		"nonce":   strconv.FormatUint(m.Nonce, 10),
		"owner":   m.Owner.Hex(),
	})
}

// SignOrder signs an order and returns the signature
func (e *TypedSigner) SignOrder(s *Signer, m OrderMessage) ([]byte, error) {
	hash, err := e.HashOrder(m)
	if err != nil {
		return nil, err
	}
	return s.Sign(hash)
}

// SignCancel signs a cancel request and returns the signature
func (e *TypedSigner) SignCancel(s *Signer, m CancelMessage) ([]byte, error) {
	hash, err := e.HashCancel(m)
	if err != nil {
		return nil, err
	}
	return s.Sign(hash)
}

// RecoverOrderSigner recovers the address that signed an order
func (e *TypedSigner) RecoverOrderSigner(m OrderMessage, signature []byte) (common.Address, error) {
	hash, err := e.HashOrder(m)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// RecoverCancelSigner recovers the address that signed a cancel request
func (e *TypedSigner) RecoverCancelSigner(m CancelMessage, signature []byte) (common.Address, error) {
	hash, err := e.HashCancel(m)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}
