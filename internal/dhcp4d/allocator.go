package dhcp4d

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ekuinox/omoi4/internal/leasestore"
)

// LeaseStore is the full C2 contract: the allocator calls Suggest and
// Acquire, and the Context carries the same interface as its Store field,
// so it is declared once here covering every store operation.
type LeaseStore interface {
	GetByIP(ip net.IP) (leasestore.Record, error)
	GetByHardware(hw net.HardwareAddr) (leasestore.Record, error)
	All() ([]leasestore.Record, error)
	Suggest(hw net.HardwareAddr, lo, hi net.IP, reserved map[string]struct{}) (net.IP, error)
	Acquire(hw net.HardwareAddr, ip net.IP, ttl time.Time) (leasestore.Record, error)
}

// Reservation pins a hardware address to a fixed IPv4 address,
// bypassing the dynamic range entirely.
type Reservation struct {
	Name         string
	HardwareAddr net.HardwareAddr
	FixedAddress net.IP
}

// SubnetConfig is the allocator's view of the single administered subnet.
type SubnetConfig struct {
	RangeLo          net.IP
	RangeHi          net.IP
	AddressLeaseTime uint32 // seconds
}

// Allocator implements C4: it chooses an IPv4 address for a hardware
// address, consulting reservations, the transaction registry, and the
// lease store, in that order.
//
// mu serializes the whole resolve-then-acquire sequence per the §9
// allocator-race mitigation adopted in SPEC_FULL.md §4.2.1: acquire is an
// unconditional write, so the race between suggest and acquire across
// concurrent distinct hardware addresses can only be closed by
// serializing allocator calls, not by making acquire conditional.
type Allocator struct {
	Store        LeaseStore
	Transactions *Transactions
	reservations map[string]Reservation

	mu sync.Mutex
}

// NewAllocator builds an allocator over reservations keyed by hardware
// address.
func NewAllocator(store LeaseStore, transactions *Transactions, reservations []Reservation) *Allocator {
	m := make(map[string]Reservation, len(reservations))
	for _, r := range reservations {
		m[normalizeHW(r.HardwareAddr)] = r
	}
	return &Allocator{Store: store, Transactions: transactions, reservations: m}
}

func normalizeHW(hw net.HardwareAddr) string {
	return strings.ToLower(hw.String())
}

func (a *Allocator) reservationFor(hw net.HardwareAddr) (Reservation, bool) {
	r, ok := a.reservations[normalizeHW(hw)]
	return r, ok
}

// AllocateForDiscover implements the allocator's DISCOVER path (§4.4
// steps 1-3): a reservation wins outright; otherwise suggest a dynamic
// address and record it in the transaction registry under xid.
func (a *Allocator) AllocateForDiscover(subnet SubnetConfig, hw net.HardwareAddr, xid uint32) (net.IP, error) {
	if res, ok := a.reservationFor(hw); ok {
		return res.FixedAddress, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reserved := a.Transactions.ActiveOfferedIPs()
	ip, err := a.Store.Suggest(hw, subnet.RangeLo, subnet.RangeHi, reserved)
	if err != nil {
		return nil, err
	}
	a.Transactions.Insert(xid, ip)
	return ip, nil
}

// AllocateForRequest implements the allocator's REQUEST path (§4.4 step
// 4) and immediately acquires the durable lease for the resolved address,
// all under a.mu: a reservation still wins outright; otherwise resolve
// the xid's transaction if one exists, falling back to a fresh suggest
// (without inserting into the registry) if it does not. Resolving and
// acquiring under the same critical section is what closes the §9
// allocator race — releasing the lock between suggest and acquire would
// let two concurrent no-transaction REQUESTs from distinct hardware
// addresses both pick and write the same free IP.
func (a *Allocator) AllocateForRequest(subnet SubnetConfig, hw net.HardwareAddr, xid uint32, ttl time.Time) (net.IP, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ip, err := a.resolveForRequestLocked(subnet, hw, xid)
	if err != nil {
		return nil, err
	}
	if _, err := a.Store.Acquire(hw, ip, ttl); err != nil {
		return nil, err
	}
	return ip, nil
}

func (a *Allocator) resolveForRequestLocked(subnet SubnetConfig, hw net.HardwareAddr, xid uint32) (net.IP, error) {
	if res, ok := a.reservationFor(hw); ok {
		return res.FixedAddress, nil
	}

	if txn, ok := a.Transactions.Remove(xid); ok {
		return txn.IP, nil
	}

	reserved := a.Transactions.ActiveOfferedIPs()
	return a.Store.Suggest(hw, subnet.RangeLo, subnet.RangeHi, reserved)
}
