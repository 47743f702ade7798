package headers

import "encoding/binary"

const ICMPHeaderLen = 8

// ICMPv4 types implemented (spec.md §6: "ICMPv4 types 0/8 only" for
// echo, plus type 3 surfaced read-only from the wire to abort flows).
const (
	ICMPTypeEchoReply       uint8 = 0
	ICMPTypeEchoRequest     uint8 = 8
	ICMPTypeDestUnreachable uint8 = 3
)

// ICMP is an ICMPv4 echo request/reply or destination-unreachable
// header. For echo, Identifier/Sequence are used; for destination
// unreachable, Identifier/Sequence hold the 4 unused bytes and the
// caller re-parses the quoted IP header from the payload ParseICMP
// returns.
type ICMP struct {
	Type       uint8
	Code       uint8
	Checksum   uint16
	Identifier uint16
	Sequence   uint16
}

func ParseICMP(data []byte) (ICMP, []byte, error) {
	if len(data) < ICMPHeaderLen {
		return ICMP{}, nil, ErrShortBuffer
	}
	var h ICMP
	h.Type = data[0]
	h.Code = data[1]
	h.Checksum = binary.BigEndian.Uint16(data[2:4])
	h.Identifier = binary.BigEndian.Uint16(data[4:6])
	h.Sequence = binary.BigEndian.Uint16(data[6:8])

	if checksum(data) != 0 {
		return ICMP{}, nil, ErrChecksum
	}
	return h, data[ICMPHeaderLen:], nil
}

// SerializeICMP writes the header followed by payload into dst and
// computes the ICMP checksum over the whole message.
func SerializeICMP(dst []byte, h ICMP, payload []byte) (int, error) {
	total := ICMPHeaderLen + len(payload)
	if len(dst) < total {
		return 0, ErrShortBuffer
	}
	dst[0] = h.Type
	dst[1] = h.Code
	dst[2], dst[3] = 0, 0
	binary.BigEndian.PutUint16(dst[4:6], h.Identifier)
	binary.BigEndian.PutUint16(dst[6:8], h.Sequence)
	copy(dst[ICMPHeaderLen:total], payload)

	cs := checksum(dst[:total])
	binary.BigEndian.PutUint16(dst[2:4], cs)
	return total, nil
}
