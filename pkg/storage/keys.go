package storage

import (
	"fmt"
)

// Journal key schema for Pebble storage:
//
//	meta:epoch                               → current process epoch (8 bytes)
//	trade:<pair>:<epoch>:<seq>               → TradeRecord
//	ord:<pair>:<epoch>:<orderID>:<eventSeq>  → OrderEvent
//
// Numbers are zero-padded so that lexicographic order is numeric order.
// Sequence numbers restart with every process, the epoch keeps runs apart.

// Key prefixes
const (
	prefixTrade = "trade:"
	prefixOrder = "ord:"
)

var keyEpoch = []byte("meta:epoch")

// tradeKey returns the key for a trade
// Format: "trade:{pair}:{epoch}:{seq}"
func tradeKey(pair string, epoch, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d:%020d", prefixTrade, pair, epoch, seq))
}

// tradePrefix returns the prefix for all trades of a pair
// Format: "trade:{pair}:"
func tradePrefix(pair string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, pair))
}

// orderEventKey returns the key for one lifecycle event of an order
// Format: "ord:{pair}:{epoch}:{orderID}:{eventSeq}"
func orderEventKey(pair string, epoch, orderID, eventSeq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d:%020d:%020d", prefixOrder, pair, epoch, orderID, eventSeq))
}

// orderEventPrefix returns the prefix for all events of one order in an epoch
// Format: "ord:{pair}:{epoch}:{orderID}:"
func orderEventPrefix(pair string, epoch, orderID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d:%020d:", prefixOrder, pair, epoch, orderID))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
