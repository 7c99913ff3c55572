package dhcp4d

import (
	"net"
	"sync"
	"time"
)

// TransactionExpiration bounds how long an OFFER's address reservation
// survives without a matching REQUEST.
const TransactionExpiration = time.Hour

// Transaction is the in-memory record of an OFFER awaiting its REQUEST.
type Transaction struct {
	IP        net.IP
	CreatedAt time.Time
}

// Transactions is the C3 transaction registry: a mutex-guarded map of
// xid -> offered address. It is advisory only — losing it on restart is
// fine, since clients retransmit DISCOVER.
type Transactions struct {
	mu  sync.Mutex
	byX map[uint32]Transaction
	now func() time.Time
}

// NewTransactions returns an empty registry.
func NewTransactions() *Transactions {
	return &Transactions{
		byX: make(map[uint32]Transaction),
		now: time.Now,
	}
}

// Insert overwrites any existing entry for xid.
func (t *Transactions) Insert(xid uint32, ip net.IP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byX[xid] = Transaction{IP: ip, CreatedAt: t.now()}
}

// Remove atomically takes and removes the entry for xid, if any.
func (t *Transactions) Remove(xid uint32) (Transaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	txn, ok := t.byX[xid]
	if ok {
		delete(t.byX, xid)
	}
	return txn, ok
}

// ActiveOfferedIPs returns the set of addresses (keyed by dotted-decimal
// string) currently offered under a non-expired transaction. Expired
// entries encountered here are purged as a side effect, but purging is
// not required for correctness.
func (t *Transactions) ActiveOfferedIPs() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make(map[string]struct{}, len(t.byX))
	for xid, txn := range t.byX {
		if now.Sub(txn.CreatedAt) > TransactionExpiration {
			delete(t.byX, xid)
			continue
		}
		out[txn.IP.String()] = struct{}{}
	}
	return out
}
