package dhcp4d

import (
	"errors"
	"fmt"
	"time"

	"github.com/ekuinox/omoi4/internal/leasestore"
	"github.com/krolaw/dhcp4"
)

// HandleRequest implements C6: resolve the address (transaction hint or
// fresh suggest), write the durable lease, and build an ACK. A
// NoFreeAddress failure produces a NAK instead of a dropped packet, per
// the §9 redesign flag.
func (ctx *Context) HandleRequest(msg *Message) (dhcp4.Packet, error) {
	hw := msg.Raw.CHAddr()
	xid := xidUint32(msg.Raw.XId())

	leaseTime := time.Duration(ctx.Subnet.AddressLeaseTime) * time.Second

	ip, err := ctx.Allocator.AllocateForRequest(ctx.Subnet, hw, xid, time.Now().Add(leaseTime))
	if err != nil {
		if errors.Is(err, leasestore.ErrNoFreeAddress) {
			nak := BuildNAK(msg.Raw, ctx.ServerIP)
			ctx.recordNak()
			return nak, nil
		}
		return nil, fmt.Errorf("%w: allocate for request: %v", ErrStoreFault, err)
	}

	reply := BuildReply(msg.Raw, dhcp4.ACK, ctx.ServerIP, ip, leaseTime, ctx.Options, msg.Options)
	ctx.recordAck()
	return reply, nil
}
