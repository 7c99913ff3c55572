package dhcp4d

import (
	"testing"
	"time"

	"github.com/krolaw/dhcp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRawRequest(xid [4]byte, chaddr [6]byte) []byte {
	buf := make([]byte, fixedHeaderSize)
	buf[0] = 1
	buf[1] = 1
	buf[2] = 6
	copy(buf[4:8], xid[:])
	copy(buf[28:34], chaddr[:])

	buf = append(buf, magicCookie...)
	buf = append(buf, byte(dhcp4.OptionDHCPMessageType), 1, byte(dhcp4.Request))
	buf = append(buf, 255)
	return buf
}

// S1/S2: DISCOVER then REQUEST with the same xid writes the lease and ACKs.
func TestHandleDiscoverThenRequestWritesLease(t *testing.T) {
	ctx := newTestContext(t, nil)
	xid := [4]byte{0x12, 0x34, 0x56, 0x78}
	chaddr := [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	discoverMsg := decodeDiscover(t, xid, chaddr)
	offer, err := ctx.HandleDiscover(discoverMsg)
	require.NoError(t, err)
	offeredIP := offer.YIAddr().String()

	reqMsg, err := Decode(buildRawRequest(xid, chaddr))
	require.NoError(t, err)

	ack, err := ctx.HandleRequest(reqMsg)
	require.NoError(t, err)

	decoded, err := Decode(ack)
	require.NoError(t, err)
	assert.Equal(t, dhcp4.ACK, decoded.Type)
	assert.Equal(t, offeredIP, ack.YIAddr().String())

	rec, err := ctx.Store.GetByIP(ack.YIAddr())
	require.NoError(t, err)
	assert.Equal(t, chaddr[:], []byte(rec.HardwareAddr))
	assert.WithinDuration(t, time.Now().Add(172800*time.Second), rec.TTL, 5*time.Second)
}

// S5: range exhaustion on REQUEST yields a NAK, not a dropped packet.
func TestHandleRequestNAKsOnExhaustedRange(t *testing.T) {
	store := newTestStore(t)
	txns := NewTransactions()
	subnet := SubnetConfig{
		RangeLo:          testSubnet().RangeLo,
		RangeHi:          testSubnet().RangeLo, // range of exactly one address
		AddressLeaseTime: 172800,
	}
	ctx := &Context{
		Subnet:       subnet,
		ServerIP:     testSubnet().RangeLo,
		Options:      serverTestOptions(),
		Store:        store,
		Allocator:    NewAllocator(store, txns, nil),
		Transactions: txns,
	}

	// Occupy the single address first.
	firstMsg, err := Decode(buildRawRequest([4]byte{1, 1, 1, 1}, [6]byte{1, 1, 1, 1, 1, 1}))
	require.NoError(t, err)
	_, err = ctx.HandleRequest(firstMsg)
	require.NoError(t, err)

	secondMsg, err := Decode(buildRawRequest([4]byte{2, 2, 2, 2}, [6]byte{2, 2, 2, 2, 2, 2}))
	require.NoError(t, err)
	nak, err := ctx.HandleRequest(secondMsg)
	require.NoError(t, err)

	decoded, err := Decode(nak)
	require.NoError(t, err)
	assert.Equal(t, dhcp4.NAK, decoded.Type)
}
