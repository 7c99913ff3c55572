package dhcp4d

import (
	"errors"
	"fmt"
	"time"

	"github.com/ekuinox/omoi4/internal/leasestore"
	"github.com/krolaw/dhcp4"
)

// HandleDiscover implements C5: run the allocator, build an OFFER. No
// lease record is written here — the transaction registry alone guards
// the offered address until the matching REQUEST lands or expires.
func (ctx *Context) HandleDiscover(msg *Message) (dhcp4.Packet, error) {
	hw := msg.Raw.CHAddr()
	xid := msg.Raw.XId()

	ip, err := ctx.Allocator.AllocateForDiscover(ctx.Subnet, hw, xidUint32(xid))
	if err != nil {
		if errors.Is(err, leasestore.ErrNoFreeAddress) {
			return nil, fmt.Errorf("allocate for discover: %w", err)
		}
		return nil, fmt.Errorf("%w: allocate for discover: %v", ErrStoreFault, err)
	}

	leaseTime := time.Duration(ctx.Subnet.AddressLeaseTime) * time.Second
	reply := BuildReply(msg.Raw, dhcp4.Offer, ctx.ServerIP, ip, leaseTime, ctx.Options, msg.Options)
	ctx.recordOffer()
	return reply, nil
}

func xidUint32(xid []byte) uint32 {
	if len(xid) != 4 {
		return 0
	}
	return uint32(xid[0])<<24 | uint32(xid[1])<<16 | uint32(xid[2])<<8 | uint32(xid[3])
}
