package headers

import "encoding/binary"

const TCPHeaderLenMin = 20

// TCP control bits (RFC 793).
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
)

// TCP option kinds used by this stack (spec.md §6: MSS, window scale,
// timestamps; SACK is explicitly not implemented).
const (
	optKindEnd       = 0
	optKindNOP       = 1
	optKindMSS       = 2
	optKindWScale    = 3
	optKindTimestamp = 8
)

// Options holds the handshake-negotiated TCP options of spec.md §3.
type Options struct {
	MSS         uint16
	HasMSS      bool
	WindowScale uint8
	HasWScale   bool
	TSVal       uint32
	TSEcr       uint32
	HasTS       bool
}

// TCP is a TCP segment header (without payload).
type TCP struct {
	SrcPort  uint16
	DstPort  uint16
	SeqNum   uint32
	AckNum   uint32
	Flags    uint8
	Window   uint16
	Checksum uint16
	Options  Options
}

func (h TCP) Has(flag uint8) bool { return h.Flags&flag != 0 }

// ParseTCP parses the header (including options) and verifies the
// checksum against the IPv4 pseudo-header. segLen is the total length
// of the TCP segment (header + payload) as known from the IP layer,
// since TCP carries no explicit length field of its own.
func ParseTCP(data []byte, srcIP, dstIP [4]byte, segLen int) (TCP, []byte, error) {
	if len(data) < TCPHeaderLenMin || segLen > len(data) {
		return TCP{}, nil, ErrShortBuffer
	}
	dataOffsetWords := int(data[12] >> 4)
	hdrLen := dataOffsetWords * 4
	if hdrLen < TCPHeaderLenMin || hdrLen > segLen {
		return TCP{}, nil, ErrShortBuffer
	}

	segment := data[:segLen]
	pseudo := pseudoHeaderSum(srcIP, dstIP, ProtoTCP, uint16(segLen))
	tmp := make([]byte, segLen)
	copy(tmp, segment)
	tmp[16], tmp[17] = 0, 0
	wantChecksum := binary.BigEndian.Uint16(data[16:18])
	if checksumWithPseudo(pseudo, tmp) != wantChecksum {
		return TCP{}, nil, ErrChecksum
	}

	var h TCP
	h.SrcPort = binary.BigEndian.Uint16(data[0:2])
	h.DstPort = binary.BigEndian.Uint16(data[2:4])
	h.SeqNum = binary.BigEndian.Uint32(data[4:8])
	h.AckNum = binary.BigEndian.Uint32(data[8:12])
	h.Flags = data[13]
	h.Window = binary.BigEndian.Uint16(data[14:16])
	h.Checksum = wantChecksum
	h.Options = parseTCPOptions(data[TCPHeaderLenMin:hdrLen])

	return h, data[hdrLen:segLen], nil
}

func parseTCPOptions(opts []byte) Options {
	var o Options
	i := 0
	for i < len(opts) {
		kind := opts[i]
		switch kind {
		case optKindEnd:
			return o
		case optKindNOP:
			i++
		case optKindMSS:
			if i+4 > len(opts) {
				return o
			}
			o.MSS = binary.BigEndian.Uint16(opts[i+2 : i+4])
			o.HasMSS = true
			i += 4
		case optKindWScale:
			if i+3 > len(opts) {
				return o
			}
			o.WindowScale = opts[i+2]
			o.HasWScale = true
			i += 3
		case optKindTimestamp:
			if i+10 > len(opts) {
				return o
			}
			o.TSVal = binary.BigEndian.Uint32(opts[i+2 : i+6])
			o.TSEcr = binary.BigEndian.Uint32(opts[i+6 : i+10])
			o.HasTS = true
			i += 10
		default:
			if i+1 >= len(opts) {
				return o
			}
			length := int(opts[i+1])
			if length < 2 {
				return o
			}
			i += length
		}
	}
	return o
}

// encodedOptionsLen returns the options length, rounded up to a
// multiple of 4 bytes (data offset is in 32-bit words).
func encodedOptionsLen(o Options) int {
	n := 0
	if o.HasMSS {
		n += 4
	}
	if o.HasWScale {
		n += 3
	}
	if o.HasTS {
		n += 10
	}
	return (n + 3) / 4 * 4
}

func serializeTCPOptions(dst []byte, o Options) {
	i := 0
	if o.HasMSS {
		dst[i] = optKindMSS
		dst[i+1] = 4
		binary.BigEndian.PutUint16(dst[i+2:i+4], o.MSS)
		i += 4
	}
	if o.HasWScale {
		dst[i] = optKindNOP
		dst[i+1] = optKindWScale
		dst[i+2] = 3
		dst[i+3] = o.WindowScale
		i += 4
	}
	if o.HasTS {
		dst[i] = optKindNOP
		dst[i+1] = optKindNOP
		dst[i+2] = optKindTimestamp
		dst[i+3] = 10
		binary.BigEndian.PutUint32(dst[i+4:i+8], o.TSVal)
		binary.BigEndian.PutUint32(dst[i+8:i+12], o.TSEcr)
		i += 12
	}
	for i < len(dst) {
		dst[i] = optKindEnd
		i++
	}
}

// HeaderLen returns the full header length (fixed + options, padded)
// this header will serialize to.
func (h TCP) HeaderLen() int {
	return TCPHeaderLenMin + encodedOptionsLen(h.Options)
}

// SerializeTCP writes header + options + payload into dst and computes
// the checksum over the pseudo-header and segment.
func SerializeTCP(dst []byte, h TCP, payload []byte, srcIP, dstIP [4]byte) (int, error) {
	hdrLen := h.HeaderLen()
	total := hdrLen + len(payload)
	if len(dst) < total {
		return 0, ErrShortBuffer
	}

	binary.BigEndian.PutUint16(dst[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(dst[2:4], h.DstPort)
	binary.BigEndian.PutUint32(dst[4:8], h.SeqNum)
	binary.BigEndian.PutUint32(dst[8:12], h.AckNum)
	dst[12] = byte(hdrLen/4) << 4
	dst[13] = h.Flags
	binary.BigEndian.PutUint16(dst[14:16], h.Window)
	dst[16], dst[17] = 0, 0 // checksum filled below
	binary.BigEndian.PutUint16(dst[18:20], 0) // urgent pointer, unused

	optLen := hdrLen - TCPHeaderLenMin
	if optLen > 0 {
		serializeTCPOptions(dst[TCPHeaderLenMin:hdrLen], h.Options)
	}
	copy(dst[hdrLen:total], payload)

	pseudo := pseudoHeaderSum(srcIP, dstIP, ProtoTCP, uint16(total))
	cs := checksumWithPseudo(pseudo, dst[:total])
	binary.BigEndian.PutUint16(dst[16:18], cs)

	return total, nil
}
