// Package events fans matching output out to external consumers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/matchcore/pkg/storage"
)

// MessageVersion is bumped on incompatible changes to TradeMessage.
const MessageVersion = 1

// TradeMessage is the wire form of an execution.
type TradeMessage struct {
	Version      int             `json:"version"`
	Pair         string          `json:"pair"`
	Seq          uint64          `json:"seq"`
	MakerOrderID uint64          `json:"maker_order_id"`
	TakerOrderID uint64          `json:"taker_order_id"`
	MakerOwner   string          `json:"maker_owner"`
	TakerOwner   string          `json:"taker_owner"`
	TakerSide    string          `json:"taker_side"`
	Price        decimal.Decimal `json:"price"`
	Size         uint64          `json:"size"`
	Time         time.Time       `json:"time"`
}

func NewTradeMessage(t storage.TradeRecord) TradeMessage {
	return TradeMessage{
		Version:      MessageVersion,
		Pair:         t.Pair,
		Seq:          t.Seq,
		MakerOrderID: uint64(t.MakerOrderID),
		TakerOrderID: uint64(t.TakerOrderID),
		MakerOwner:   t.MakerOwner,
		TakerOwner:   t.TakerOwner,
		TakerSide:    t.TakerSide.String(),
		Price:        t.Price,
		Size:         t.Size,
		Time:         t.Time,
	}
}

// Publisher delivers trades downstream. Delivery happens after matching and
// its failure never affects the book.
type Publisher interface {
	PublishTrades(ctx context.Context, trades []storage.TradeRecord) error
	Close() error
}

// Nop drops everything.
type Nop struct{}

func (Nop) PublishTrades(context.Context, []storage.TradeRecord) error { return nil }
func (Nop) Close() error                                               { return nil }

// KafkaPublisher writes one message per trade, keyed by pair so that a
// pair's trades stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.SugaredLogger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log,
	}
}

func (p *KafkaPublisher) PublishTrades(ctx context.Context, trades []storage.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	msgs, err := tradeMessages(trades)
	if err != nil {
		p.log.Errorw("kafka_encode_failed", "err", err)
		return err
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func tradeMessages(trades []storage.TradeRecord) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		value, err := json.Marshal(NewTradeMessage(t))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.Pair),
			Value: value,
			Time:  t.Time,
		})
	}
	return msgs, nil
}

// Recorder keeps published trades in memory.
type Recorder struct {
	mu     sync.Mutex
	trades []storage.TradeRecord
}

func (r *Recorder) PublishTrades(_ context.Context, trades []storage.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trades...)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Trades returns a copy of everything published so far.
func (r *Recorder) Trades() []storage.TradeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.TradeRecord(nil), r.trades...)
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*Recorder)(nil)
)
