package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/wise/internal/logging"
)

const (
	// ServiceType is the mDNS service type bridges advertise
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for bridge discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is assumed when an entry carries no port
	DefaultPort = 80

	// TXT record keys
	txtPath    = "path"
	txtVersion = "wise"
	txtUART    = "uart"
)

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
	once   sync.Once
}

// Advertise registers the bridge as an HTTP service under instance on
// port. The registration lasts until Shutdown is called or ctx ends.
func Advertise(ctx context.Context, instance string, port int, version string, uartID int) (*Advertisement, error) {
	txt := TXTRecords(version, uartID)
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("mDNS service registered",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
		zap.Strings("txt", txt))

	a := &Advertisement{server: server}
	go func() {
		<-ctx.Done()
		a.Shutdown()
	}()
	return a, nil
}

// Shutdown withdraws the registration. It is safe to call more than once.
func (a *Advertisement) Shutdown() {
	a.once.Do(func() {
		a.server.Shutdown()
		logging.Debug("mDNS service withdrawn")
	})
}

// TXTRecords returns the TXT records a bridge advertises.
func TXTRecords(version string, uartID int) []string {
	return []string{
		txtPath + "=/",
		txtVersion + "=" + version,
		txtUART + "=" + strconv.Itoa(uartID),
	}
}

// Scanner handles mDNS bridge discovery
type Scanner struct {
	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan collects every bridge that answers before the timeout.
func (s *Scanner) Scan(ctx context.Context) ([]*Bridge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		bridges []*Bridge
		seen    = make(map[string]bool)
	)
	err := s.browse(ctx, func(b *Bridge) bool {
		mu.Lock()
		defer mu.Unlock()
		if key := b.Address(); !seen[key] {
			seen[key] = true
			bridges = append(bridges, b)
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return bridges, nil
}

// Find waits for the bridge whose instance or host name matches name.
func (s *Scanner) Find(ctx context.Context, name string) (*Bridge, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	found := make(chan *Bridge, 1)
	err := s.browse(ctx, func(b *Bridge) bool {
		if !matchesName(b, name) {
			return false
		}
		select {
		case found <- b:
		default:
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	select {
	case b := <-found:
		return b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("bridge %s not found within %s", name, s.Timeout)
	}
}

// browse feeds every Wi-Se entry to fn until ctx ends or fn returns true.
func (s *Scanner) browse(ctx context.Context, fn func(*Bridge) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			b := parseServiceEntry(entry)
			if b == nil {
				continue
			}
			logging.Debug("Bridge discovered", zap.String("bridge", b.String()))
			if fn(b) {
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return nil
}

func matchesName(b *Bridge, name string) bool {
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	host := strings.TrimSuffix(strings.ToLower(b.Hostname), ".")
	return name == strings.ToLower(b.Instance) || name == host || name+".local" == host
}

// parseServiceEntry converts a zeroconf service entry to a Bridge.
// Returns nil unless the entry carries the "wise" TXT record.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Bridge {
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	version, ok := metadata[txtVersion]
	if !ok {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	uartID, _ := strconv.Atoi(metadata[txtUART])

	return &Bridge{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Version:      version,
		UART:         uartID,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// QuickScan performs a scan with a 3-second timeout
func QuickScan(ctx context.Context) ([]*Bridge, error) {
	scanner := NewScanner()
	scanner.Timeout = 3 * time.Second
	return scanner.Scan(ctx)
}
