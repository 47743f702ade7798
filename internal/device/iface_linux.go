//go:build linux

package device

import "net"

// netInterfaceByName resolves an interface name to its kernel ifindex
// and hardware address using the stdlib net package, which already
// wraps the netlink/ioctl query correctly across kernel versions —
// there is no protocol-stack involvement in this lookup (it's metadata,
// not a packet on the data path), so reimplementing it over raw
// netlink would add risk without adding anything to the kernel-bypass
// story.
func netInterfaceByName(name string) (netInterface, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return netInterface{}, err
	}
	var mac [6]byte
	copy(mac[:], ifi.HardwareAddr)
	return netInterface{index: ifi.Index, mac: mac}, nil
}
