// Package firewall decides whether a peer may talk to the bridge at all.
// It runs before any byte of the request is parsed.
package firewall

import (
	"encoding/binary"
	"net"
)

type privateNet struct {
	network uint32
	mask    uint32
}

// RFC 1918 blocks
var privateNets = [...]privateNet{
	{network: 0x0A000000, mask: 0xFF000000}, // 10.0.0.0/8
	{network: 0xAC100000, mask: 0xFFF00000}, // 172.16.0.0/12
	{network: 0xC0A80000, mask: 0xFFFF0000}, // 192.168.0.0/16
}

// Filter is the admission policy for inbound connections.
type Filter struct {
	// PrivateOnly restricts peers to the RFC 1918 IPv4 ranges.
	PrivateOnly bool
}

// Allows reports whether ip may connect. Anything that is not an IPv4
// address is refused when PrivateOnly is set.
func (f Filter) Allows(ip net.IP) bool {
	if !f.PrivateOnly {
		return true
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}

	addr := binary.BigEndian.Uint32(ip4)
	for _, n := range privateNets {
		if addr&n.mask == n.network&n.mask {
			return true
		}
	}
	return false
}

// AllowsAddr resolves the IP of a connection's remote address and applies
// Allows. Unknown address types fail closed.
func (f Filter) AllowsAddr(addr net.Addr) bool {
	if !f.PrivateOnly {
		return true
	}

	switch a := addr.(type) {
	case *net.TCPAddr:
		return f.Allows(a.IP)
	case *net.UDPAddr:
		return f.Allows(a.IP)
	case *net.IPAddr:
		return f.Allows(a.IP)
	case nil:
		return false
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return false
		}
		return f.Allows(net.ParseIP(host))
	}
}
