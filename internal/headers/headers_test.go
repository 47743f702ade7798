package headers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEthernetRoundTrip(t *testing.T) {
	h := Ethernet{Dst: [6]byte{1, 2, 3, 4, 5, 6}, Src: [6]byte{6, 5, 4, 3, 2, 1}, EtherType: EtherTypeIPv4}
	buf := make([]byte, EthernetHeaderLen)
	n, err := SerializeEthernet(buf, h)
	require.NoError(t, err)
	got, rest, err := ParseEthernet(buf[:n])
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Empty(t, rest)
}

func TestARPRoundTrip(t *testing.T) {
	a := ARP{
		Opcode:    ARPOpRequest,
		SenderMAC: [6]byte{1, 1, 1, 1, 1, 1},
		SenderIP:  [4]byte{10, 0, 0, 1},
		TargetMAC: [6]byte{},
		TargetIP:  [4]byte{10, 0, 0, 2},
	}
	buf := make([]byte, ARPHeaderLen)
	n, err := SerializeARP(buf, a)
	require.NoError(t, err)
	got, _, err := ParseARP(buf[:n])
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestIPv4RoundTrip(t *testing.T) {
	h := IPv4{
		TOS:            0,
		Identification: 42,
		TTL:            64,
		Protocol:       ProtoUDP,
		SrcIP:          [4]byte{192, 168, 1, 1},
		DstIP:          [4]byte{192, 168, 1, 2},
	}
	payload := []byte("hello")
	buf := make([]byte, IPv4HeaderLen+len(payload))
	n, err := SerializeIPv4(buf, h, len(payload))
	require.NoError(t, err)
	copy(buf[n:], payload)

	got, rest, err := ParseIPv4(buf)
	require.NoError(t, err)
	require.Equal(t, h.Identification, got.Identification)
	require.Equal(t, h.Protocol, got.Protocol)
	require.Equal(t, h.SrcIP, got.SrcIP)
	require.Equal(t, h.DstIP, got.DstIP)
	require.Equal(t, payload, rest)
	require.False(t, got.IsFragment())
}

func TestIPv4BadChecksumRejected(t *testing.T) {
	h := IPv4{TTL: 64, Protocol: ProtoTCP, SrcIP: [4]byte{1, 2, 3, 4}, DstIP: [4]byte{5, 6, 7, 8}}
	buf := make([]byte, IPv4HeaderLen)
	_, err := SerializeIPv4(buf, h, 0)
	require.NoError(t, err)
	buf[1] ^= 0xff // corrupt TOS byte without fixing checksum

	_, _, err = ParseIPv4(buf)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestUDPRoundTrip(t *testing.T) {
	srcIP := [4]byte{10, 0, 0, 1}
	dstIP := [4]byte{10, 0, 0, 2}
	h := UDP{SrcPort: 1234, DstPort: 80}
	payload := []byte("ping")
	buf := make([]byte, UDPHeaderLen+len(payload))
	n, err := SerializeUDP(buf, h, payload, srcIP, dstIP)
	require.NoError(t, err)

	got, rest, err := ParseUDP(buf[:n], srcIP, dstIP)
	require.NoError(t, err)
	require.Equal(t, h.SrcPort, got.SrcPort)
	require.Equal(t, h.DstPort, got.DstPort)
	require.Equal(t, payload, rest)
}

func TestTCPRoundTripWithOptions(t *testing.T) {
	srcIP := [4]byte{10, 0, 0, 1}
	dstIP := [4]byte{10, 0, 0, 2}
	h := TCP{
		SrcPort: 1111,
		DstPort: 2222,
		SeqNum:  1000,
		AckNum:  0,
		Flags:   FlagSYN,
		Window:  65535,
		Options: Options{MSS: 1460, HasMSS: true, WindowScale: 7, HasWScale: true},
	}
	buf := make([]byte, h.HeaderLen())
	n, err := SerializeTCP(buf, h, nil, srcIP, dstIP)
	require.NoError(t, err)

	got, rest, err := ParseTCP(buf[:n], srcIP, dstIP, n)
	require.NoError(t, err)
	require.Equal(t, h.SeqNum, got.SeqNum)
	require.Equal(t, h.Flags, got.Flags)
	require.True(t, got.Options.HasMSS)
	require.Equal(t, uint16(1460), got.Options.MSS)
	require.True(t, got.Options.HasWScale)
	require.Equal(t, uint8(7), got.Options.WindowScale)
	require.Empty(t, rest)
}

func TestTCPWithPayloadChecksum(t *testing.T) {
	srcIP := [4]byte{192, 168, 0, 1}
	dstIP := [4]byte{192, 168, 0, 2}
	h := TCP{SrcPort: 80, DstPort: 443, SeqNum: 1, AckNum: 1, Flags: FlagACK | FlagPSH, Window: 4096}
	payload := []byte("some tcp payload bytes")
	buf := make([]byte, h.HeaderLen()+len(payload))
	n, err := SerializeTCP(buf, h, payload, srcIP, dstIP)
	require.NoError(t, err)

	got, rest, err := ParseTCP(buf[:n], srcIP, dstIP, n)
	require.NoError(t, err)
	require.Equal(t, payload, rest)
	require.True(t, got.Has(FlagACK))
	require.True(t, got.Has(FlagPSH))
	require.False(t, got.Has(FlagSYN))
}

func TestTCPBadChecksumRejected(t *testing.T) {
	srcIP := [4]byte{1, 1, 1, 1}
	dstIP := [4]byte{2, 2, 2, 2}
	h := TCP{SrcPort: 1, DstPort: 2, Flags: FlagACK, Window: 1}
	buf := make([]byte, h.HeaderLen())
	n, err := SerializeTCP(buf, h, nil, srcIP, dstIP)
	require.NoError(t, err)
	buf[4] ^= 0xff // corrupt sequence number

	_, _, err = ParseTCP(buf[:n], srcIP, dstIP, n)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestICMPEchoRoundTrip(t *testing.T) {
	h := ICMP{Type: ICMPTypeEchoRequest, Identifier: 7, Sequence: 1}
	payload := []byte("abcdefgh")
	buf := make([]byte, ICMPHeaderLen+len(payload))
	n, err := SerializeICMP(buf, h, payload)
	require.NoError(t, err)

	got, rest, err := ParseICMP(buf[:n])
	require.NoError(t, err)
	require.Equal(t, h.Identifier, got.Identifier)
	require.Equal(t, payload, rest)
}
