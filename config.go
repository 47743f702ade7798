package catnip

import (
	"net"
	"time"

	"github.com/catnipstack/catnip/internal/constants"
)

// StaticARPEntry pre-seeds the ARP cache with a known IP→MAC mapping,
// skipping resolution for that peer entirely (spec.md §6's arp_table).
type StaticARPEntry struct {
	IP  [4]byte
	MAC [6]byte
}

// PortRange is an inclusive [Low, High] span of port numbers.
type PortRange struct {
	Low  uint16
	High uint16
}

// Config holds every tunable spec.md §6 names for one LibOS instance,
// adapted from the teacher's DeviceParams/DefaultDeviceParams shape.
// Decoding it from YAML, flags, or anything else is the embedding
// application's job (spec.md §1 scopes config parsing out) — like the
// teacher's own params struct, this is only the typed receiver.
type Config struct {
	// Identity and addressing (spec.md §6).
	LocalIPv4   [4]byte
	LocalMAC    [6]byte
	Subnet      *net.IPNet // on-link subnet; required
	GatewayIPv4 [4]byte    // next hop for off-subnet traffic
	HasGateway  bool       // GatewayIPv4 is meaningful only if set

	// ARP resolver (spec.md §4.4, §6).
	ARPTable               []StaticARPEntry
	ARPRequestRetries      int
	ARPRequestInterval     time.Duration
	ARPCacheTTL            time.Duration
	GratuitousARPOnStart   bool // announce LocalIPv4/LocalMAC on New; off by default

	// TCP (spec.md §4.7, §6). These mirror the named tunables, but the
	// current transport layer applies them as fixed, spec-matching
	// defaults rather than per-instance overrides — see DESIGN.md for
	// why threading true per-connection overrides through the sender/
	// receiver state machine was cut from this pass.
	TCPMSS                  uint16
	TCPRTOMin               time.Duration
	TCPRTOMax               time.Duration
	TCPSynRetries           int
	TCPWindowScale          uint8
	TCPTimestamps           bool
	TCPRxReassemblyMaxBytes int

	// UDP (spec.md §6).
	UDPEphemeralRange PortRange
}

// DefaultConfig returns a Config with every tunable set to the
// spec.md §6 default, for localIP/localMAC bound to subnet with no
// default gateway.
func DefaultConfig(localIP [4]byte, localMAC [6]byte, subnet *net.IPNet) Config {
	return Config{
		LocalIPv4: localIP,
		LocalMAC:  localMAC,
		Subnet:    subnet,

		ARPRequestRetries:  constants.DefaultARPRequestRetries,
		ARPRequestInterval: constants.DefaultARPRequestInterval,
		ARPCacheTTL:        constants.DefaultARPCacheTTL,

		TCPMSS:                  constants.DefaultMSS,
		TCPRTOMin:               constants.DefaultTCPRTOMin,
		TCPRTOMax:               constants.DefaultTCPRTOMax,
		TCPSynRetries:           constants.DefaultTCPSynRetries,
		TCPWindowScale:          constants.DefaultTCPWindowScale,
		TCPTimestamps:           constants.DefaultTCPTimestamps,
		TCPRxReassemblyMaxBytes: constants.DefaultReassemblyBytes,

		UDPEphemeralRange: PortRange{
			Low:  constants.DefaultEphemeralPortLow,
			High: constants.DefaultEphemeralPortHigh,
		},
	}
}

// WithGateway sets GatewayIPv4 and HasGateway, returning cfg for
// chaining.
func (cfg Config) WithGateway(gw [4]byte) Config {
	cfg.GatewayIPv4 = gw
	cfg.HasGateway = true
	return cfg
}
