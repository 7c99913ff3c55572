package dhcp4d

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/krolaw/dhcp4"
	"golang.org/x/sync/errgroup"
)

// Server is C7: it owns the UDP socket, the accept loop, and the
// reply-destination policy. Per-datagram handling runs in its own
// goroutine so a slow store call never blocks the accept loop.
type Server struct {
	dctx *Context
}

// NewServer wires a Context together and opens the listening socket,
// unless WithConn was passed to supply one (used by tests). serverIP is
// normalized to its 4-byte form (teacher's own `serverIP = serverIP.To4()`
// defensive step) since dhcp4.ReplyPacket writes it into the
// ServerIdentifier option verbatim — an unnormalized 16-byte net.IP would
// produce a malformed option.
func NewServer(subnet SubnetConfig, serverIP net.IP, staticOptions dhcp4.Options, store LeaseStore, reservations []Reservation, recorder Recorder, opts ...Option) (*Server, error) {
	serverIP = serverIP.To4()

	var o options
	for _, opt := range opts {
		opt.set(&o)
	}

	conn := o.conn
	if conn == nil {
		var err error
		conn, err = listenUDP4Broadcast(":67")
		if err != nil {
			return nil, fmt.Errorf("listen udp: %w", err)
		}
	}

	txns := NewTransactions()
	alloc := NewAllocator(store, txns, reservations)

	dctx := &Context{
		Subnet:       subnet,
		ServerIP:     serverIP,
		Options:      staticOptions,
		Store:        store,
		Allocator:    alloc,
		Transactions: txns,
		Conn:         conn,
		Recorder:     recorder,
	}
	return &Server{dctx: dctx}, nil
}

// Context exposes the server's dependency bundle, mainly for the
// observability surface (C8) to read the lease store through the same
// interface the handlers use.
func (s *Server) Context() *Context {
	return s.dctx
}

// Serve runs the accept loop until ctx is canceled or the socket errors.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.acceptLoop(gctx)
	})
	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) error {
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = s.dctx.Conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := s.dctx.Conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("read udp: %w", err)
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		go s.handleDatagram(packet)
	}
}

// handleDatagram never panics or propagates per-packet errors: it logs
// and returns, per §7's "per-packet errors never leave the handler task"
// principle.
func (s *Server) handleDatagram(buf []byte) {
	msg, err := Decode(buf)
	if err != nil {
		slog.Error("decode dhcp packet", "err", err)
		return
	}

	var reply dhcp4.Packet
	switch msg.Type {
	case dhcp4.Discover:
		reply, err = s.dctx.HandleDiscover(msg)
	case dhcp4.Request:
		reply, err = s.dctx.HandleRequest(msg)
	default:
		err = fmt.Errorf("%w: %d", ErrUnsupportedMessageType, msg.Type)
	}
	if err != nil {
		slog.Error("handle dhcp packet", "type", msg.Type, "err", err)
		return
	}
	if reply == nil {
		return
	}

	if err := s.send(msg, reply); err != nil {
		slog.Error("send dhcp reply", "err", err)
	}
}

// send implements the reply-destination policy: a relay agent (giaddr
// set) takes priority, then a renewing client (ciaddr set), then the
// limited broadcast for everyone else.
func (s *Server) send(req *Message, reply dhcp4.Packet) error {
	giaddr := req.Raw.GIAddr()
	ciaddr := req.Raw.CIAddr()

	var dest net.UDPAddr
	switch {
	case giaddr != nil && !giaddr.Equal(net.IPv4zero):
		dest = net.UDPAddr{IP: giaddr, Port: 67}
	case ciaddr != nil && !ciaddr.Equal(net.IPv4zero):
		dest = net.UDPAddr{IP: ciaddr, Port: 68}
	default:
		dest = net.UDPAddr{IP: net.IPv4bcast, Port: 68}
	}

	if _, err := s.dctx.Conn.WriteTo(reply, &dest); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// listenUDP4Broadcast binds a UDP socket on laddr with SO_BROADCAST and
// SO_REUSEADDR set, adapted from the teacher's newUDP4BoundListener minus
// SO_BINDTODEVICE — multi-interface dispatch is out of scope (§1
// non-goals), so one subnet needs one plain socket.
func listenUDP4Broadcast(laddr string) (pc net.PacketConn, e error) {
	addr, err := net.ResolveUDPAddr("udp4", laddr)
	if err != nil {
		return nil, err
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e != nil {
			syscall.Close(fd)
		}
	}()

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return nil, err
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1); err != nil {
		return nil, err
	}

	lsa := syscall.SockaddrInet4{Port: addr.Port}
	copy(lsa.Addr[:], addr.IP.To4())
	if err := syscall.Bind(fd, &lsa); err != nil {
		return nil, err
	}

	f := os.NewFile(uintptr(fd), "")
	defer f.Close()
	return net.FilePacketConn(f)
}
