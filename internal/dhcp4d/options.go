package dhcp4d

import (
	"net"
	"time"

	"github.com/krolaw/dhcp4"
)

// StaticOptions builds the per-subnet DHCP option set offered on every
// OFFER/ACK: subnet mask, routers, DNS servers, and broadcast address.
// AddressLeaseTime, MessageType, and ServerIdentifier are added by
// dhcp4.ReplyPacket itself from its own parameters, not from this map —
// krolaw/dhcp4 always injects MessageType and ServerIdentifier, and
// AddressLeaseTime whenever the lease duration is positive.
func StaticOptions(netmask, broadcast net.IP, routers, dns []net.IP) dhcp4.Options {
	return dhcp4.Options{
		dhcp4.OptionSubnetMask:       []byte(netmask.To4()),
		dhcp4.OptionRouter:           joinIPv4s(routers),
		dhcp4.OptionDomainNameServer: joinIPv4s(dns),
		dhcp4.OptionBroadcastAddress: []byte(broadcast.To4()),
	}
}

func joinIPv4s(ips []net.IP) []byte {
	buf := make([]byte, 0, 4*len(ips))
	for _, ip := range ips {
		buf = append(buf, ip.To4()...)
	}
	return buf
}

// BuildReply constructs an OFFER/ACK from the original request packet,
// selecting static options by the client's parameter request list (or
// all of them, if none was sent).
func BuildReply(req dhcp4.Packet, msgType dhcp4.MessageType, serverIP, yiaddr net.IP, leaseTime time.Duration, static dhcp4.Options, reqOptions dhcp4.Options) dhcp4.Packet {
	order := reqOptions[dhcp4.OptionParameterRequestList]
	return dhcp4.ReplyPacket(req, msgType, serverIP, yiaddr, leaseTime, static.SelectOrderOrAll(order))
}

// BuildNAK constructs a NAK: no address, no lease time, no options beyond
// what ReplyPacket adds automatically (message type, server identifier).
func BuildNAK(req dhcp4.Packet, serverIP net.IP) dhcp4.Packet {
	return dhcp4.ReplyPacket(req, dhcp4.NAK, serverIP, nil, 0, nil)
}

// options holds functional-option state for NewServer, mirroring the
// teacher's own Option/WithConn pattern so tests can inject a fake
// net.PacketConn instead of binding a real socket.
type options struct {
	conn net.PacketConn
}

// Option configures a Server.
type Option interface {
	set(*options)
}

type connOption struct {
	conn net.PacketConn
}

func (c *connOption) set(o *options) {
	o.conn = c.conn
}

// WithConn overrides the UDP socket the Server listens on.
func WithConn(conn net.PacketConn) Option {
	return &connOption{conn: conn}
}
