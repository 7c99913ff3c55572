// Package leasestore implements the durable DHCPv4 lease table (C2):
// IPv4 -> {hardware address, TTL}, backed by a single bbolt bucket keyed
// by the 4 IPv4 octets in network order.
package leasestore

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("LEASES4")

// ErrNotFound is returned by GetByIP/GetByHardware when no record exists.
var ErrNotFound = errors.New("leasestore: not found")

// ErrNoFreeAddress is returned by Suggest when the range is exhausted.
var ErrNoFreeAddress = errors.New("leasestore: no free address")

// Record is a single lease: the hardware address bound to an IPv4 address
// until TTL.
type Record struct {
	HardwareAddr net.HardwareAddr
	IPAddr       net.IP
	TTL          time.Time
}

// Expired reports whether the record's TTL has passed at instant now.
func (r Record) Expired(now time.Time) bool {
	return !r.TTL.IsZero() && !now.Before(r.TTL)
}

// wireRecord is the JSON-on-disk shape. Hardware addresses are hex
// encoded rather than relying on net.HardwareAddr's default (base64)
// []byte marshaling, so arbitrary chaddr lengths round-trip cleanly.
type wireRecord struct {
	HardwareAddr string    `json:"hardware_address"`
	IPAddr       string    `json:"ip_addr"`
	TTL          time.Time `json:"ttl"`
}

func (r Record) marshal() ([]byte, error) {
	return json.Marshal(wireRecord{
		HardwareAddr: hex.EncodeToString(r.HardwareAddr),
		IPAddr:       r.IPAddr.String(),
		TTL:          r.TTL,
	})
}

func unmarshalRecord(b []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return Record{}, err
	}
	hw, err := hex.DecodeString(w.HardwareAddr)
	if err != nil {
		return Record{}, fmt.Errorf("decode hardware address: %w", err)
	}
	ip := net.ParseIP(w.IPAddr)
	if ip == nil {
		return Record{}, fmt.Errorf("invalid ip_addr %q", w.IPAddr)
	}
	return Record{HardwareAddr: net.HardwareAddr(hw), IPAddr: ip.To4(), TTL: w.TTL}, nil
}

// Store is the durable lease table.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures the LEASES4 bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open lease store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create lease bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func keyFor(ip net.IP) []byte {
	ip4 := ip.To4()
	return []byte{ip4[0], ip4[1], ip4[2], ip4[3]}
}

// GetByIP returns the record stored at ip, or ErrNotFound.
func (s *Store) GetByIP(ip net.IP) (Record, error) {
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(keyFor(ip))
		if v == nil {
			return nil
		}
		r, err := unmarshalRecord(v)
		if err != nil {
			// Corrupt slot: treated as absent, not a store fault.
			return nil
		}
		rec, found = r, true
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("get by ip: %w", err)
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// GetByHardware returns the first record found with a matching hardware
// address, scanning in key order. Corrupt records are skipped.
func (s *Store) GetByHardware(hw net.HardwareAddr) (Record, error) {
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			r, err := unmarshalRecord(v)
			if err != nil {
				slog.Warn("skipping corrupt lease record", "key", k, "err", err)
				continue
			}
			if bytes.Equal(r.HardwareAddr, hw) {
				rec, found = r, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("get by hardware: %w", err)
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// All returns every decodable record. Ordering is unspecified (key
// order, in practice). Corrupt records are skipped.
func (s *Store) All() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			r, err := unmarshalRecord(v)
			if err != nil {
				slog.Warn("skipping corrupt lease record", "key", k, "err", err)
				return nil
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan leases: %w", err)
	}
	return out, nil
}

// Suggest implements the preferred-address selection algorithm:
// stickiness to a previous lease for hw first, otherwise the lowest
// address in [lo, hi] that is not in reserved and is free, expired, or
// undecodable.
func (s *Store) Suggest(hw net.HardwareAddr, lo, hi net.IP, reserved map[string]struct{}) (net.IP, error) {
	if rec, err := s.GetByHardware(hw); err == nil {
		return rec.IPAddr, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	var result net.IP
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		for ip := cloneIP(lo); !ipGreater(ip, hi); incIP(ip) {
			if _, skip := reserved[ip.String()]; skip {
				continue
			}
			v := b.Get(keyFor(ip))
			if v == nil {
				result = cloneIP(ip)
				return nil
			}
			r, err := unmarshalRecord(v)
			if err != nil || r.Expired(now) {
				result = cloneIP(ip)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	if result == nil {
		return nil, ErrNoFreeAddress
	}
	return result, nil
}

// Acquire unconditionally writes a record at key ip, overwriting any
// prior occupant.
func (s *Store) Acquire(hw net.HardwareAddr, ip net.IP, ttl time.Time) (Record, error) {
	rec := Record{
		HardwareAddr: append(net.HardwareAddr(nil), hw...),
		IPAddr:       ip.To4(),
		TTL:          ttl,
	}
	b, err := rec.marshal()
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(keyFor(ip), b)
	})
	if err != nil {
		return Record{}, fmt.Errorf("acquire: %w", err)
	}
	return rec, nil
}

func cloneIP(ip net.IP) net.IP {
	ip4 := ip.To4()
	out := make(net.IP, 4)
	copy(out, ip4)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}

func ipGreater(a, b net.IP) bool {
	return bytes.Compare(a.To4(), b.To4()) > 0
}
