package headers

import "encoding/binary"

const UDPHeaderLen = 8

// UDP is a UDP header per RFC 768.
type UDP struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// ParseUDP parses the header and verifies the checksum, which includes
// the IPv4 pseudo-header (spec.md §4.3).
func ParseUDP(data []byte, srcIP, dstIP [4]byte) (UDP, []byte, error) {
	if len(data) < UDPHeaderLen {
		return UDP{}, nil, ErrShortBuffer
	}
	var h UDP
	h.SrcPort = binary.BigEndian.Uint16(data[0:2])
	h.DstPort = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.Checksum = binary.BigEndian.Uint16(data[6:8])

	if h.Checksum != 0 {
		segLen := int(h.Length)
		if segLen > len(data) {
			segLen = len(data)
		}
		pseudo := pseudoHeaderSum(srcIP, dstIP, ProtoUDP, uint16(segLen))
		// Checksum field must be zero for the recomputation.
		tmp := make([]byte, segLen)
		copy(tmp, data[:segLen])
		tmp[6], tmp[7] = 0, 0
		if checksumWithPseudo(pseudo, tmp) != h.Checksum {
			return UDP{}, nil, ErrChecksum
		}
	}

	end := int(h.Length)
	if end < UDPHeaderLen || end > len(data) {
		end = len(data)
	}
	return h, data[UDPHeaderLen:end], nil
}

// SerializeUDP writes the header and payload into dst and computes the
// checksum including the IPv4 pseudo-header.
func SerializeUDP(dst []byte, h UDP, payload []byte, srcIP, dstIP [4]byte) (int, error) {
	total := UDPHeaderLen + len(payload)
	if len(dst) < total {
		return 0, ErrShortBuffer
	}
	binary.BigEndian.PutUint16(dst[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(dst[2:4], h.DstPort)
	binary.BigEndian.PutUint16(dst[4:6], uint16(total))
	dst[6], dst[7] = 0, 0
	copy(dst[UDPHeaderLen:total], payload)

	pseudo := pseudoHeaderSum(srcIP, dstIP, ProtoUDP, uint16(total))
	cs := checksumWithPseudo(pseudo, dst[:total])
	if cs == 0 {
		cs = 0xffff // RFC 768: a computed zero checksum is transmitted as all-ones
	}
	binary.BigEndian.PutUint16(dst[6:8], cs)
	return total, nil
}
