package dhcp4d

import (
	"bytes"
	"fmt"

	"github.com/krolaw/dhcp4"
)

// fixedHeaderSize is the BOOTP frame length before the magic cookie and
// option TLVs: op(1) htype(1) hlen(1) hops(1) xid(4) secs(2) flags(2)
// ciaddr(4) yiaddr(4) siaddr(4) giaddr(4) chaddr(16) sname(64) file(128).
const fixedHeaderSize = 236

var magicCookie = []byte{99, 130, 83, 99}

// Message is a decoded DHCPv4 datagram: the raw krolaw/dhcp4.Packet view
// plus its parsed options and message type, pulled out once so handlers
// don't re-parse.
type Message struct {
	Raw     dhcp4.Packet
	Options dhcp4.Options
	Type    dhcp4.MessageType
}

// Decode validates and parses buf into a Message. It fails with
// ErrMalformedMessage if the magic cookie doesn't match, hlen is zero, an
// option's length overruns the buffer, or MessageType is absent.
// Unrecognized option tags are preserved opaquely in Options, since
// dhcp4.Options is keyed by tag with the raw value bytes untouched.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < fixedHeaderSize+len(magicCookie) {
		return nil, fmt.Errorf("%w: packet too short (%d bytes)", ErrMalformedMessage, len(buf))
	}

	p := dhcp4.Packet(buf)
	if p.HLen() == 0 {
		return nil, fmt.Errorf("%w: zero hlen", ErrMalformedMessage)
	}

	cookie := buf[fixedHeaderSize : fixedHeaderSize+len(magicCookie)]
	if !bytes.Equal(cookie, magicCookie) {
		return nil, fmt.Errorf("%w: bad magic cookie", ErrMalformedMessage)
	}

	options, err := parseOptions(buf[fixedHeaderSize+len(magicCookie):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	mt, ok := options[dhcp4.OptionDHCPMessageType]
	if !ok || len(mt) != 1 {
		return nil, fmt.Errorf("%w: missing message type", ErrMalformedMessage)
	}

	return &Message{Raw: p, Options: options, Type: dhcp4.MessageType(mt[0])}, nil
}

// parseOptions walks the TLV option stream, stopping at END (0xFF) or the
// end of buf. PAD (0x00) bytes carry no length and are skipped. Trailing
// bytes after END are discarded, not an error. A length that would run
// past the end of buf is malformed.
func parseOptions(buf []byte) (dhcp4.Options, error) {
	opts := make(dhcp4.Options)
	i := 0
	for i < len(buf) {
		tag := dhcp4.OptionCode(buf[i])
		if tag == 0 { // PAD
			i++
			continue
		}
		if tag == 255 { // END
			break
		}
		if i+1 >= len(buf) {
			return nil, fmt.Errorf("option 0x%02x: missing length byte", tag)
		}
		length := int(buf[i+1])
		start := i + 2
		end := start + length
		if end > len(buf) {
			return nil, fmt.Errorf("option 0x%02x: length %d overruns buffer", tag, length)
		}
		value := make([]byte, length)
		copy(value, buf[start:end])
		opts[tag] = value
		i = end
	}
	return opts, nil
}
