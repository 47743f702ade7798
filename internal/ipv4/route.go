// Package ipv4 implements the IPv4 routing, transmit/receive, and
// ICMPv4 echo/unreachable handling of spec.md §4.5 (C6). Grounded on
// the teacher's internal/ctrl dispatch-by-opcode shape, adapted here
// to dispatch-by-IP-protocol-number across ICMP/UDP/TCP handlers.
package ipv4

import (
	"errors"
	"net"
)

// ErrNoRoute is returned when no configured route covers a destination
// and no default gateway is set.
var ErrNoRoute = errors.New("ipv4: no route to destination")

// Route binds a local subnet to the gateway used to reach addresses
// outside it. A Gateway of the zero value means the subnet is on-link:
// destinations within it are resolved directly via ARP.
type Route struct {
	Subnet  *net.IPNet
	Gateway [4]byte
}

// Table is a minimal routing table: a list of subnet routes plus an
// optional default gateway for everything else (spec.md §4.5: "local
// subnet delivered directly; everything else via the configured
// gateway").
type Table struct {
	routes         []Route
	defaultGateway [4]byte
	hasDefault     bool
}

func NewTable() *Table {
	return &Table{}
}

// AddRoute registers a subnet as on-link (gateway omitted) or reached
// via the given gateway.
func (t *Table) AddRoute(subnet *net.IPNet, gateway [4]byte) {
	t.routes = append(t.routes, Route{Subnet: subnet, Gateway: gateway})
}

// SetDefaultGateway configures the catch-all next hop for destinations
// matching no explicit route.
func (t *Table) SetDefaultGateway(gw [4]byte) {
	t.defaultGateway = gw
	t.hasDefault = true
}

// NextHop returns the IP address that should be ARP-resolved to reach
// dst: dst itself when covered by an on-link route, a route's gateway
// when covered by a gated route, or the default gateway otherwise.
func (t *Table) NextHop(dst [4]byte) ([4]byte, error) {
	ip := net.IPv4(dst[0], dst[1], dst[2], dst[3])
	for _, r := range t.routes {
		if !r.Subnet.Contains(ip) {
			continue
		}
		if r.Gateway == ([4]byte{}) {
			return dst, nil
		}
		return r.Gateway, nil
	}
	if t.hasDefault {
		return t.defaultGateway, nil
	}
	return [4]byte{}, ErrNoRoute
}
