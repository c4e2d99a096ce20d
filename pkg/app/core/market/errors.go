package market

import (
	"errors"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
)

var (
	ErrDuplicateMarket = errors.New("market already registered")
	ErrMarketNotFound  = errors.New("market not found")
	ErrMarketNotActive = errors.New("market not active")
	ErrInvalidPair     = errors.New("invalid pair")
	ErrInvalidParams   = errors.New("invalid market params")

	// Book level errors, re-exported so callers only need this package.
	ErrInvalidOrder       = orderbook.ErrInvalidOrder
	ErrOrderNotFound      = orderbook.ErrOrderNotFound
	ErrMarketHalted       = orderbook.ErrHalted
	ErrInvariantViolation = orderbook.ErrInvariantViolation
)
