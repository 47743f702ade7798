package ipv4

import (
	"encoding/binary"

	"github.com/catnipstack/catnip/internal/headers"
)

// parseQuotedHeader extracts the protocol, addresses, and ports from
// the IPv4+L4 header an ICMP destination-unreachable message quotes
// back at the original sender. TCP and UDP share the same first-four-
// bytes layout (source port, destination port), so one path covers
// both without depending on the full header parsers.
func parseQuotedHeader(quoted []byte) (protocol uint8, srcIP, dstIP [4]byte, srcPort, dstPort uint16, ok bool) {
	if len(quoted) < headers.IPv4HeaderLen {
		return
	}
	ihl := int(quoted[0]&0x0f) * 4
	if ihl < headers.IPv4HeaderLen || len(quoted) < ihl+4 {
		return
	}
	protocol = quoted[9]
	copy(srcIP[:], quoted[12:16])
	copy(dstIP[:], quoted[16:20])
	srcPort = binary.BigEndian.Uint16(quoted[ihl : ihl+2])
	dstPort = binary.BigEndian.Uint16(quoted[ihl+2 : ihl+4])
	ok = true
	return
}
