package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/matchcore/pkg/app/core/orderbook"
)

// PebbleJournal persists the journal in a Pebble database. Each Open starts a
// new epoch so that per-run sequence numbers never overwrite older runs.
type PebbleJournal struct {
	db       *pebble.DB
	epoch    uint64
	eventSeq atomic.Uint64
}

func NewPebbleJournal(path string) (*PebbleJournal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}

	epoch, err := nextEpoch(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PebbleJournal{db: db, epoch: epoch}, nil
}

func nextEpoch(db *pebble.DB) (uint64, error) {
	var epoch uint64
	val, closer, err := db.Get(keyEpoch)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("failed to read epoch: %w", err)
	default:
		if len(val) == 8 {
			epoch = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	}
	epoch++
	if err := db.Set(keyEpoch, u64Bytes(epoch), pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to save epoch: %w", err)
	}
	return epoch, nil
}

// Epoch returns the run number of this journal instance.
func (s *PebbleJournal) Epoch() uint64 { return s.epoch }

func (s *PebbleJournal) Close() error { return s.db.Close() }

// SaveTrade persists a trade to Pebble
func (s *PebbleJournal) SaveTrade(t TradeRecord) error {
	data, err := encodeGob(t)
	if err != nil {
		return fmt.Errorf("failed to encode trade: %w", err)
	}

	key := tradeKey(t.Pair, s.epoch, t.Seq)
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}

	return nil
}

// SaveOrderEvent persists one order lifecycle event
func (s *PebbleJournal) SaveOrderEvent(e OrderEvent) error {
	data, err := encodeGob(e)
	if err != nil {
		return fmt.Errorf("failed to encode order event: %w", err)
	}

	key := orderEventKey(e.Pair, s.epoch, uint64(e.OrderID), s.eventSeq.Add(1))
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save order event: %w", err)
	}

	return nil
}

// RecentTrades loads the most recent N trades for a pair
func (s *PebbleJournal) RecentTrades(pair string, limit int) ([]TradeRecord, error) {
	prefix := tradePrefix(pair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []TradeRecord
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t TradeRecord
		if err := decodeGob(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("failed to decode trade %q: %w", iter.Key(), err)
		}
		trades = append(trades, t)
	}

	return trades, iter.Error()
}

// OrderEvents loads the lifecycle of one order of the current epoch
func (s *PebbleJournal) OrderEvents(pair string, id orderbook.OrderID) ([]OrderEvent, error) {
	prefix := orderEventPrefix(pair, s.epoch, uint64(id))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var events []OrderEvent
	for iter.First(); iter.Valid(); iter.Next() {
		var e OrderEvent
		if err := decodeGob(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("failed to decode order event %q: %w", iter.Key(), err)
		}
		events = append(events, e)
	}

	return events, iter.Error()
}

var _ Journal = (*PebbleJournal)(nil)
