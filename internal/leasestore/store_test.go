package leasestore

import (
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leases.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mac(s string) net.HardwareAddr {
	hw, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return hw
}

func TestAcquireAndGetByIP(t *testing.T) {
	s := openTestStore(t)
	hw := mac("00:11:22:33:44:55")
	ip := net.ParseIP("192.168.0.101").To4()
	ttl := time.Now().Add(time.Hour)

	_, err := s.Acquire(hw, ip, ttl)
	require.NoError(t, err)

	rec, err := s.GetByIP(ip)
	require.NoError(t, err)
	assert.Equal(t, hw, rec.HardwareAddr)
	assert.Equal(t, ip, rec.IPAddr)
	assert.WithinDuration(t, ttl, rec.TTL, time.Second)
}

func TestGetByIPNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetByIP(net.ParseIP("192.168.0.200"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByHardwareFindsMatchOrNotFound(t *testing.T) {
	s := openTestStore(t)
	hw := mac("aa:bb:cc:dd:ee:ff")
	ip := net.ParseIP("192.168.0.150").To4()
	_, err := s.Acquire(hw, ip, time.Now().Add(time.Hour))
	require.NoError(t, err)

	rec, err := s.GetByHardware(hw)
	require.NoError(t, err)
	assert.Equal(t, ip, rec.IPAddr)

	_, err = s.GetByHardware(mac("11:11:11:11:11:11"))
	assert.ErrorIs(t, err, ErrNotFound)
}

// P3: range containment + deterministic ascending scan order.
func TestSuggestReturnsLowestFreeAddressInRange(t *testing.T) {
	s := openTestStore(t)
	lo := net.ParseIP("192.168.0.101").To4()
	hi := net.ParseIP("192.168.0.103").To4()

	_, err := s.Acquire(mac("00:00:00:00:00:01"), net.ParseIP("192.168.0.101").To4(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	ip, err := s.Suggest(mac("00:00:00:00:00:02"), lo, hi, nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.102", ip.String())
}

// P2: stickiness — a previous record for hw is returned even if expired.
func TestSuggestSticksToPreviousAddress(t *testing.T) {
	s := openTestStore(t)
	hw := mac("00:00:00:00:00:09")
	ip := net.ParseIP("192.168.0.105").To4()
	_, err := s.Acquire(hw, ip, time.Now().Add(-time.Minute)) // already expired
	require.NoError(t, err)

	lo := net.ParseIP("192.168.0.101").To4()
	hi := net.ParseIP("192.168.0.250").To4()
	got, err := s.Suggest(hw, lo, hi, nil)
	require.NoError(t, err)
	assert.Equal(t, ip, got)
}

// P7: once a record expires, a *different* hardware address may reclaim it.
func TestSuggestReusesExpiredSlotForDifferentHardware(t *testing.T) {
	s := openTestStore(t)
	lo := net.ParseIP("192.168.0.101").To4()
	hi := net.ParseIP("192.168.0.101").To4()

	_, err := s.Acquire(mac("00:00:00:00:00:03"), lo, time.Now().Add(-time.Second))
	require.NoError(t, err)

	ip, err := s.Suggest(mac("00:00:00:00:00:04"), lo, hi, nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.101", ip.String())
}

func TestSuggestSkipsReservedOffers(t *testing.T) {
	s := openTestStore(t)
	lo := net.ParseIP("192.168.0.101").To4()
	hi := net.ParseIP("192.168.0.102").To4()

	reserved := map[string]struct{}{"192.168.0.101": {}}
	ip, err := s.Suggest(mac("00:00:00:00:00:05"), lo, hi, reserved)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.102", ip.String())
}

func TestSuggestExhaustedRange(t *testing.T) {
	s := openTestStore(t)
	lo := net.ParseIP("192.168.0.101").To4()
	hi := net.ParseIP("192.168.0.101").To4()

	_, err := s.Acquire(mac("00:00:00:00:00:06"), lo, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = s.Suggest(mac("00:00:00:00:00:07"), lo, hi, nil)
	assert.True(t, errors.Is(err, ErrNoFreeAddress))
}

func TestCorruptRecordTreatedAsFree(t *testing.T) {
	s := openTestStore(t)
	ip := net.ParseIP("192.168.0.130").To4()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(keyFor(ip), []byte("not json"))
	})
	require.NoError(t, err)

	_, err = s.GetByIP(ip)
	assert.ErrorIs(t, err, ErrNotFound)

	lo := net.ParseIP("192.168.0.130").To4()
	hi := net.ParseIP("192.168.0.130").To4()
	got, err := s.Suggest(mac("00:00:00:00:00:08"), lo, hi, nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.0.130", got.String())
}
