package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Bridge is a Wi-Se console bridge found on the local network.
type Bridge struct {
	// Instance is the advertised service instance name (the bridge hostname)
	Instance string

	// Hostname is the mDNS host name (e.g., "Wi_Se.local.")
	Hostname string

	// IP is the bridge address, IPv4 when one was advertised
	IP string

	// Port is the HTTP port
	Port int

	// Version is the bridge software version from the "wise" TXT record
	Version string

	// UART is the serial port number from the "uart" TXT record
	UART int

	// Metadata holds every TXT record
	Metadata map[string]string

	// DiscoveredAt is when the bridge answered
	DiscoveredAt time.Time
}

// String returns a human-readable representation of the bridge
func (b *Bridge) String() string {
	return fmt.Sprintf("Wi-Se %s UART%d (%s) at %s", b.Instance, b.UART, b.Hostname, b.Address())
}

// Address returns host:port, bracketing IPv6 literals.
func (b *Bridge) Address() string {
	return net.JoinHostPort(b.IP, strconv.Itoa(b.Port))
}

// BaseURL returns the HTTP base URL for the bridge
func (b *Bridge) BaseURL() string {
	return "http://" + b.Address()
}

// WebSocketURL returns the terminal endpoint.
func (b *Bridge) WebSocketURL() string {
	return "ws://" + b.Address() + "/ws"
}

// GetMetadata returns a TXT record value, or "" when absent
func (b *Bridge) GetMetadata(key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[key]
}
