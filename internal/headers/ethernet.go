package headers

import (
	"encoding/binary"
	"errors"
)

var ErrShortBuffer = errors.New("headers: buffer too short for header")

// EtherType values used by this stack (spec.md §6: Ethernet II, no
// VLAN by default).
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

const EthernetHeaderLen = 14

// Ethernet is an Ethernet II frame header: destination MAC, source MAC,
// EtherType, all in host-order fields (wire is always big-endian).
type Ethernet struct {
	Dst       [6]byte
	Src       [6]byte
	EtherType uint16
}

// ParseEthernet parses an Ethernet II header from the front of data and
// returns the header and the remaining payload.
func ParseEthernet(data []byte) (Ethernet, []byte, error) {
	if len(data) < EthernetHeaderLen {
		return Ethernet{}, nil, ErrShortBuffer
	}
	var h Ethernet
	copy(h.Dst[:], data[0:6])
	copy(h.Src[:], data[6:12])
	h.EtherType = binary.BigEndian.Uint16(data[12:14])
	return h, data[EthernetHeaderLen:], nil
}

// SerializeEthernet writes h into the front of dst, which must have at
// least EthernetHeaderLen bytes available, and returns the number of
// bytes written.
func SerializeEthernet(dst []byte, h Ethernet) (int, error) {
	if len(dst) < EthernetHeaderLen {
		return 0, ErrShortBuffer
	}
	copy(dst[0:6], h.Dst[:])
	copy(dst[6:12], h.Src[:])
	binary.BigEndian.PutUint16(dst[12:14], h.EtherType)
	return EthernetHeaderLen, nil
}

// Broadcast is the Ethernet broadcast address, used for ARP requests.
var Broadcast = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
