package discovery

import (
	"net"
	"reflect"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantUART int
	}{
		{
			name: "bridge with IPv4",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "Wi_Se"},
				HostName:      "Wi_Se.local.",
				Port:          80,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.1")},
				Text:          []string{"path=/", "wise=1.2.0", "uart=1"},
			},
			wantIP:   "192.168.4.1",
			wantPort: 80,
			wantUART: 1,
		},
		{
			name: "IPv4 preferred over IPv6",
			entry: &zeroconf.ServiceEntry{
				HostName: "bench.local.",
				Port:     8080,
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.5")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
				Text:     []string{"wise=dev"},
			},
			wantIP:   "10.0.0.5",
			wantPort: 8080,
		},
		{
			name: "IPv6 only, default port",
			entry: &zeroconf.ServiceEntry{
				HostName: "bench.local.",
				AddrIPv6: []net.IP{net.ParseIP("fd00::7")},
				Text:     []string{"wise=dev"},
			},
			wantIP:   "fd00::7",
			wantPort: DefaultPort,
		},
		{
			name: "other http service",
			entry: &zeroconf.ServiceEntry{
				HostName: "printer.local.",
				Port:     80,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.20")},
				Text:     []string{"path=/"},
			},
			wantNil: true,
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				HostName: "Wi_Se.local.",
				Text:     []string{"wise=1.0"},
			},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if b != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", b)
				}
				return
			}
			if b == nil {
				t.Fatal("parseServiceEntry() = nil")
			}
			if b.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", b.IP, tt.wantIP)
			}
			if b.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", b.Port, tt.wantPort)
			}
			if b.UART != tt.wantUART {
				t.Errorf("UART = %v, want %v", b.UART, tt.wantUART)
			}
			if b.DiscoveredAt.IsZero() {
				t.Error("DiscoveredAt not set")
			}
		})
	}
}

func TestParseServiceEntryMetadata(t *testing.T) {
	b := parseServiceEntry(&zeroconf.ServiceEntry{
		HostName: "Wi_Se.local.",
		AddrIPv4: []net.IP{net.ParseIP("192.168.4.1")},
		Text:     []string{"wise=1.2.0", "flag", "k=a=b"},
	})
	if b == nil {
		t.Fatal("parseServiceEntry() = nil")
	}
	want := map[string]string{"wise": "1.2.0", "flag": "", "k": "a=b"}
	if !reflect.DeepEqual(b.Metadata, want) {
		t.Errorf("Metadata = %v, want %v", b.Metadata, want)
	}
	if b.Version != "1.2.0" {
		t.Errorf("Version = %q", b.Version)
	}
}

func TestTXTRecords(t *testing.T) {
	got := TXTRecords("1.2.0", 2)
	want := []string{"path=/", "wise=1.2.0", "uart=2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TXTRecords() = %v, want %v", got, want)
	}

	b := parseServiceEntry(&zeroconf.ServiceEntry{
		AddrIPv4: []net.IP{net.ParseIP("10.1.1.1")},
		Text:     got,
	})
	if b == nil || b.Version != "1.2.0" || b.UART != 2 {
		t.Errorf("advertised records not recognised: %+v", b)
	}
}

func TestMatchesName(t *testing.T) {
	b := &Bridge{Instance: "Wi_Se", Hostname: "Wi_Se.local."}
	tests := []struct {
		name string
		want bool
	}{
		{"Wi_Se", true},
		{"wi_se", true},
		{"Wi_Se.local", true},
		{"Wi_Se.local.", true},
		{"other", false},
	}
	for _, tt := range tests {
		if got := matchesName(b, tt.name); got != tt.want {
			t.Errorf("matchesName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewScanner(t *testing.T) {
	if s := NewScanner(); s.Timeout != DefaultScanTimeout {
		t.Errorf("Timeout = %v, want %v", s.Timeout, DefaultScanTimeout)
	}
}
