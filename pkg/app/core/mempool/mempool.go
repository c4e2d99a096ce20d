package mempool

import (
	"encoding/json"
	"sync"
)

// TxType classifies commands into processing buckets.
type TxType int

const (
	TxAdmin TxType = iota
	TxCancel
	TxOrder
)

func (t TxType) String() string {
	switch t {
	case TxAdmin:
		return "admin"
	case TxCancel:
		return "cancel"
	default:
		return "order"
	}
}

// ClassifyRaw classifies a raw command by parsing its JSON envelope.
//
//	{"type": "market", ...}  -> TxAdmin
//	{"type": "cancel", ...}  -> TxCancel
//	{"type": "order", ...}   -> TxOrder
//
// Malformed commands are classified as orders; they are rejected when applied.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return TxOrder
	}

	switch envelope.Type {
	case "market":
		return TxAdmin
	case "cancel":
		return TxCancel
	default:
		return TxOrder
	}
}

// Mempool maintains three queues drained in this order:
// (1) market admin, (2) cancels, (3) orders.
// Within each bucket, FIFO by admission order.
type Mempool struct {
	mu     sync.Mutex
	admin  [][]byte
	cancel [][]byte
	orders [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a command.
func (m *Mempool) PushRaw(b []byte) TxType {
	cp := append([]byte(nil), b...)
	typ := ClassifyRaw(b)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch typ {
	case TxAdmin:
		m.admin = append(m.admin, cp)
	case TxCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
	return typ
}

// Drain removes and returns up to maxBytes worth of commands in bucket order.
// maxBytes <= 0 drains everything.
func (m *Mempool) Drain(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for len(*q) > 0 && !full {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			(*q)[0] = nil
			*q = (*q)[1:]
		}
	}

	pull(&m.admin)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

// Len returns total pending commands.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admin) + len(m.cancel) + len(m.orders)
}
