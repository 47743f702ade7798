package headers

import (
	"encoding/binary"
	"errors"
)

const IPv4HeaderLen = 20

// IPv4 protocol numbers used by this stack.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// IPv4 flags.
const (
	FlagDF uint16 = 1 << 14
	FlagMF uint16 = 1 << 13
)

var ErrChecksum = errors.New("headers: checksum mismatch")

// IPv4 is an IPv4 header. Options are never emitted on TX and are
// skipped (not retained) on RX per spec.md §6 — IHL is read to locate
// the payload but Options data itself is dropped.
type IPv4 struct {
	TOS            uint8
	TotalLength    uint16
	Identification uint16
	FlagsFragOff   uint16 // top 3 bits flags, low 13 bits fragment offset
	TTL            uint8
	Protocol       uint8
	HeaderChecksum uint16
	SrcIP          [4]byte
	DstIP          [4]byte
}

// MoreFragments reports the MF flag.
func (h IPv4) MoreFragments() bool { return h.FlagsFragOff&FlagMF != 0 }

// FragmentOffset reports the 13-bit fragment offset in units of 8 bytes.
func (h IPv4) FragmentOffset() uint16 { return h.FlagsFragOff & 0x1fff }

// IsFragment reports whether this datagram is part of a fragmented
// message (offset != 0 or MF set) — spec.md §4.5 mandates such
// datagrams be dropped on RX, since fragment reassembly is a Non-goal.
func (h IPv4) IsFragment() bool {
	return h.FragmentOffset() != 0 || h.MoreFragments()
}

// ParseIPv4 parses an IPv4 header, verifying the header checksum
// (spec.md §4.3: "IPv4 header checksum always verified on RX") and
// skipping any options to locate the payload.
func ParseIPv4(data []byte) (IPv4, []byte, error) {
	if len(data) < IPv4HeaderLen {
		return IPv4{}, nil, ErrShortBuffer
	}
	verIHL := data[0]
	ihl := int(verIHL&0x0f) * 4
	if ihl < IPv4HeaderLen || len(data) < ihl {
		return IPv4{}, nil, ErrShortBuffer
	}

	if checksum(data[:ihl]) != 0 {
		return IPv4{}, nil, ErrChecksum
	}

	var h IPv4
	h.TOS = data[1]
	h.TotalLength = binary.BigEndian.Uint16(data[2:4])
	h.Identification = binary.BigEndian.Uint16(data[4:6])
	h.FlagsFragOff = binary.BigEndian.Uint16(data[6:8])
	h.TTL = data[8]
	h.Protocol = data[9]
	h.HeaderChecksum = binary.BigEndian.Uint16(data[10:12])
	copy(h.SrcIP[:], data[12:16])
	copy(h.DstIP[:], data[16:20])

	total := int(h.TotalLength)
	if total < ihl || total > len(data) {
		total = len(data)
	}
	return h, data[ihl:total], nil
}

// SerializeIPv4 writes h into dst (never with options, IHL is always
// 5) and computes the header checksum (spec.md §4.3: "computed on TX").
// payloadLen is the length of the L4 payload that will follow, used to
// fill TotalLength.
func SerializeIPv4(dst []byte, h IPv4, payloadLen int) (int, error) {
	if len(dst) < IPv4HeaderLen {
		return 0, ErrShortBuffer
	}
	dst[0] = 0x45 // version 4, IHL 5
	dst[1] = h.TOS
	binary.BigEndian.PutUint16(dst[2:4], uint16(IPv4HeaderLen+payloadLen))
	binary.BigEndian.PutUint16(dst[4:6], h.Identification)
	binary.BigEndian.PutUint16(dst[6:8], h.FlagsFragOff)
	dst[8] = h.TTL
	dst[9] = h.Protocol
	dst[10], dst[11] = 0, 0 // checksum computed below
	copy(dst[12:16], h.SrcIP[:])
	copy(dst[16:20], h.DstIP[:])

	cs := checksum(dst[:IPv4HeaderLen])
	binary.BigEndian.PutUint16(dst[10:12], cs)
	return IPv4HeaderLen, nil
}

// PseudoHeaderSum exposes the pseudo-header partial sum for UDP/TCP
// checksum computation.
func PseudoHeaderSum(srcIP, dstIP [4]byte, protocol uint8, l4Length uint16) uint32 {
	return pseudoHeaderSum(srcIP, dstIP, protocol, l4Length)
}

// ChecksumWithPseudo exposes the combined pseudo-header + segment
// checksum for UDP/TCP.
func ChecksumWithPseudo(pseudo uint32, segment []byte) uint16 {
	return checksumWithPseudo(pseudo, segment)
}
