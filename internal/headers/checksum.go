// Package headers implements the pure parse/serialize codecs of
// spec.md §4.3 (C4) for Ethernet, ARP, IPv4, ICMPv4, UDP, and TCP.
// Every codec follows the same contract: Parse(bytes) -> (header, rest,
// error) and a Serialize/SerializeInto writer, matching the teacher's
// internal/uapi marshal.go pattern of pure functions over fixed-layout
// wire structs, generalized from the ublk uAPI to network wire formats.
package headers

import "encoding/binary"

// ones-complement checksum per RFC 1071, shared by IPv4/ICMP/UDP/TCP.
func checksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// pseudoHeaderSum computes the IPv4 pseudo-header checksum contribution
// used by UDP and TCP (RFC 793/768): src IP, dst IP, zero byte,
// protocol, and the L4 segment length.
func pseudoHeaderSum(srcIP, dstIP [4]byte, protocol uint8, length uint16) uint32 {
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(srcIP[0:2]))
	sum += uint32(binary.BigEndian.Uint16(srcIP[2:4]))
	sum += uint32(binary.BigEndian.Uint16(dstIP[0:2]))
	sum += uint32(binary.BigEndian.Uint16(dstIP[2:4]))
	sum += uint32(protocol)
	sum += uint32(length)
	return sum
}

// checksumWithPseudo folds a pseudo-header partial sum together with
// the checksum of the L4 segment bytes (which must have their checksum
// field zeroed before calling).
func checksumWithPseudo(pseudo uint32, segment []byte) uint16 {
	var sum uint32 = pseudo
	n := len(segment)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(segment[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(segment[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
