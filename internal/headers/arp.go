package headers

import "encoding/binary"

const ARPHeaderLen = 28

// ARP opcodes.
const (
	ARPOpRequest uint16 = 1
	ARPOpReply   uint16 = 2
)

// hardware/protocol type constants for Ethernet/IPv4 ARP.
const (
	arpHTypeEthernet uint16 = 1
	arpPTypeIPv4     uint16 = 0x0800
	arpHLenEthernet  uint8  = 6
	arpPLenIPv4      uint8  = 4
)

// ARP is an IPv4-over-Ethernet ARP packet (spec.md §4.4).
type ARP struct {
	Opcode  uint16
	SenderMAC [6]byte
	SenderIP  [4]byte
	TargetMAC [6]byte
	TargetIP  [4]byte
}

func ParseARP(data []byte) (ARP, []byte, error) {
	if len(data) < ARPHeaderLen {
		return ARP{}, nil, ErrShortBuffer
	}
	var a ARP
	// HType(2) PType(2) HLen(1) PLen(1) are neither validated nor surfaced.
	a.Opcode = binary.BigEndian.Uint16(data[6:8])
	copy(a.SenderMAC[:], data[8:14])
	copy(a.SenderIP[:], data[14:18])
	copy(a.TargetMAC[:], data[18:24])
	copy(a.TargetIP[:], data[24:28])
	return a, data[ARPHeaderLen:], nil
}

func SerializeARP(dst []byte, a ARP) (int, error) {
	if len(dst) < ARPHeaderLen {
		return 0, ErrShortBuffer
	}
	binary.BigEndian.PutUint16(dst[0:2], arpHTypeEthernet)
	binary.BigEndian.PutUint16(dst[2:4], arpPTypeIPv4)
	dst[4] = arpHLenEthernet
	dst[5] = arpPLenIPv4
	binary.BigEndian.PutUint16(dst[6:8], a.Opcode)
	copy(dst[8:14], a.SenderMAC[:])
	copy(dst[14:18], a.SenderIP[:])
	copy(dst[18:24], a.TargetMAC[:])
	copy(dst[24:28], a.TargetIP[:])
	return ARPHeaderLen, nil
}
