package dhcp4d

import (
	"net"

	"github.com/krolaw/dhcp4"
)

// Recorder observes handler outcomes for the observability surface (C8).
// A nil Recorder is valid: Context callers check before invoking it.
type Recorder interface {
	OfferSent()
	AckSent()
	NakSent()
}

// Context is the dependency bundle threaded through Serve -> handlers,
// per SPEC_FULL.md's Design Notes: config, store, registry, and socket
// are explicit fields, never process-wide globals.
type Context struct {
	Subnet    SubnetConfig
	ServerIP  net.IP
	Options   dhcp4.Options // StaticOptions(...), built once at startup

	Store        LeaseStore
	Allocator    *Allocator
	Transactions *Transactions
	Conn         net.PacketConn
	Recorder     Recorder
}

func (c *Context) recordOffer() {
	if c.Recorder != nil {
		c.Recorder.OfferSent()
	}
}

func (c *Context) recordAck() {
	if c.Recorder != nil {
		c.Recorder.AckSent()
	}
}

func (c *Context) recordNak() {
	if c.Recorder != nil {
		c.Recorder.NakSent()
	}
}
