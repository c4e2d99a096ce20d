package transaction

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/matchcore/pkg/crypto"
)

var (
	ErrUnsigned     = errors.New("transaction is not signed")
	ErrBadSignature = errors.New("signature does not match owner")
)

// Verifier checks EIP-712 signatures on order and cancel commands.
// Market admin commands carry no owner and cannot be signed.
type Verifier struct {
	typed *crypto.TypedSigner
}

// NewVerifier creates a verifier for the given domain
func NewVerifier(domain crypto.Domain) *Verifier {
	return &Verifier{typed: crypto.NewTypedSigner(domain)}
}

func orderMessage(tx *Transaction) (crypto.OrderMessage, error) {
	qty, err := strconv.ParseUint(tx.Order.Qty, 10, 64)
	if err != nil {
		return crypto.OrderMessage{}, fmt.Errorf("invalid qty %q", tx.Order.Qty)
	}
	return crypto.OrderMessage{
		Symbol: tx.Order.Symbol,
		Side:   tx.Order.Side,
		Type:   tx.Order.Type,
		Price:  tx.Order.Price,
		Qty:    qty,
		Nonce:  tx.Nonce,
		Owner:  common.HexToAddress(tx.Order.Owner),
	}, nil
}

func cancelMessage(tx *Transaction) crypto.CancelMessage {
	return crypto.CancelMessage{
		Symbol:  tx.Cancel.Symbol,
		OrderID: tx.Cancel.OrderID,
		Nonce:   tx.Nonce,
		Owner:   common.HexToAddress(tx.Cancel.Owner),
	}
}

// Sign stamps tx with nonce and the signer's signature. Cancel commands
// take the signer as owner; order commands must already name the signer.
func (v *Verifier) Sign(tx *Transaction, s *crypto.Signer, nonce uint64) error {
	tx.Nonce = nonce

	var (
		sig []byte
		err error
	)
	switch tx.Type {
	case TxTypeOrder:
		if common.HexToAddress(tx.Order.Owner) != s.Address() {
			return fmt.Errorf("order owner %s is not the signer %s", tx.Order.Owner, s.Address().Hex())
		}
		m, merr := orderMessage(tx)
		if merr != nil {
			return merr
		}
		sig, err = v.typed.SignOrder(s, m)
	case TxTypeCancel:
		tx.Cancel.Owner = s.Address().Hex()
		sig, err = v.typed.SignCancel(s, cancelMessage(tx))
	default:
		return fmt.Errorf("cannot sign %s transaction", tx.Type)
	}
	if err != nil {
		return err
	}

	tx.Signature = hexutil.Encode(sig)
	return nil
}

// Verify returns the owner when the signature was produced by that owner.
func (v *Verifier) Verify(tx *Transaction) (common.Address, error) {
	if tx.Signature == "" {
		return common.Address{}, ErrUnsigned
	}
	sig, err := hexutil.Decode(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: malformed signature: %v", ErrBadSignature, err)
	}

	var (
		owner     common.Address
		recovered common.Address
	)
	switch tx.Type {
	case TxTypeOrder:
		m, merr := orderMessage(tx)
		if merr != nil {
			return common.Address{}, merr
		}
		owner = m.Owner
		recovered, err = v.typed.RecoverOrderSigner(m, sig)
	case TxTypeCancel:
		if tx.Cancel.Owner == "" {
			return common.Address{}, fmt.Errorf("%w: cancel names no owner", ErrBadSignature)
		}
		m := cancelMessage(tx)
		owner = m.Owner
		recovered, err = v.typed.RecoverCancelSigner(m, sig)
	default:
		return common.Address{}, fmt.Errorf("%w: %s transactions are not signable", ErrBadSignature, tx.Type)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if recovered != owner {
		return common.Address{}, ErrBadSignature
	}
	return owner, nil
}
