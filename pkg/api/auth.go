package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/matchcore/pkg/app/core/market"
	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
	"github.com/uhyunpark/matchcore/pkg/app/core/transaction"
	"github.com/uhyunpark/matchcore/pkg/crypto"
)

// ErrUnauthorized is returned when a command's signature or nonce is rejected.
var ErrUnauthorized = errors.New("unauthorized")

// authorizer checks signed commands and tracks the last nonce per owner.
// Nonces must strictly increase; a replayed command is rejected.
type authorizer struct {
	verifier *transaction.Verifier

	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func newAuthorizer(domain crypto.Domain) *authorizer {
	return &authorizer{
		verifier: transaction.NewVerifier(domain),
		nonces:   make(map[common.Address]uint64),
	}
}

// authorize verifies tx and consumes its nonce.
func (a *authorizer) authorize(tx *transaction.Transaction) (common.Address, error) {
	signer, err := a.verifier.Verify(tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.nonces[signer]; ok && tx.Nonce <= last {
		return common.Address{}, fmt.Errorf("%w: nonce %d not above %d", ErrUnauthorized, tx.Nonce, last)
	}
	a.nonces[signer] = tx.Nonce
	return signer, nil
}

// authorizeTx applies the signature policy to a raw command. Cancels must be
// signed by the owner of the resting order.
func (s *Server) authorizeTx(tx *transaction.Transaction) error {
	if s.auth == nil {
		return nil
	}

	switch tx.Type {
	case transaction.TxTypeMarket:
		return fmt.Errorf("%w: market commands are not accepted from clients", ErrUnauthorized)
	case transaction.TxTypeCancel:
		pair, err := market.ParsePair(tx.Cancel.Symbol)
		if err != nil {
			return err
		}
		m, err := s.app.Registry().Market(pair)
		if err != nil {
			return err
		}
		o, ok := m.Book().Order(orderbook.OrderID(tx.Cancel.OrderID))
		if !ok {
			return market.ErrOrderNotFound
		}
		if tx.Cancel.Owner == "" || !sameAddress(tx.Cancel.Owner, o.Owner) {
			return fmt.Errorf("%w: order %d is not owned by the signer", ErrUnauthorized, o.ID)
		}
	}

	_, err := s.auth.authorize(tx)
	return err
}

// orderTx rebuilds the signed command for a REST order. The price is kept
// verbatim because it is part of the signed message.
func (req SubmitOrderRequest) orderTx(pair market.Pair, o transaction.Order) *transaction.Transaction {
	tx := transaction.NewOrderTx(pair.String(), o.Side, o.Price, o.Size, o.TimeInForce, o.Owner)
	tx.Order.Price = req.Price
	tx.Nonce = req.Nonce
	tx.Signature = req.Signature
	return tx
}

// cancelTx rebuilds the signed command for a REST cancel from its headers.
func cancelTx(pair market.Pair, o orderbook.Order, nonce, signature string) (*transaction.Transaction, error) {
	tx := transaction.NewCancelTx(pair.String(), o.ID)
	tx.Cancel.Owner = o.Owner
	tx.Signature = signature
	if nonce != "" {
		n, err := strconv.ParseUint(nonce, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid nonce %q", ErrUnauthorized, nonce)
		}
		tx.Nonce = n
	}
	return tx, nil
}

func sameAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}

// adminOnly guards market administration. Admin commands carry no owner to
// sign for, so while signatures are enforced markets are managed only from
// node configuration.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth != nil {
			s.respondAppError(w, fmt.Errorf("%w: market administration is disabled while signatures are required", ErrUnauthorized))
			return
		}
		next(w, r)
	}
}
