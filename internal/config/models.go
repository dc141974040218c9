package config

import (
	"time"

	"github.com/muurk/wise/internal/uart"
)

// Config is the bridge configuration file.
type Config struct {
	Hostname        string                 `yaml:"hostname"`
	LogLevel        string                 `yaml:"log_level,omitempty"`
	WiFi            WiFiConfig             `yaml:"wifi"`
	HTTP            HTTPConfig             `yaml:"http"`
	WebSocket       WebSocketConfig        `yaml:"websocket"`
	UART            UARTConfig             `yaml:"uart"`
	TtydPreferences map[string]interface{} `yaml:"ttyd_preferences,omitempty"`
	LEDs            LEDConfig              `yaml:"leds"`
	MDNS            MDNSConfig             `yaml:"mdns"`
}

// WiFiConfig describes the wireless link.
type WiFiConfig struct {
	Mode      string         `yaml:"mode"` // sta, ap or none
	SSID      string         `yaml:"ssid,omitempty"`
	Key       string         `yaml:"key,omitempty"`
	Interface string         `yaml:"interface"`
	AuthMode  string         `yaml:"auth_mode,omitempty"` // AP only
	Channel   int            `yaml:"channel,omitempty"`   // AP only
	Hidden    bool           `yaml:"hidden,omitempty"`    // AP only
	Commands  CommandsConfig `yaml:"commands,omitempty"`
}

// CommandsConfig overrides the radio commands. Empty fields keep the
// built-in nmcli commands.
type CommandsConfig struct {
	Associate   string `yaml:"associate,omitempty"`
	Deactivate  string `yaml:"deactivate,omitempty"`
	AccessPoint string `yaml:"access_point,omitempty"`
	Connected   string `yaml:"connected,omitempty"`
}

// HTTPConfig describes the listener.
type HTTPConfig struct {
	Listen          string           `yaml:"listen,omitempty"`
	Port            int              `yaml:"port"`
	BasicAuth       *BasicAuthConfig `yaml:"basic_auth,omitempty"`
	PrivateNetsOnly bool             `yaml:"private_nets_only"`
	TLS             TLSConfig        `yaml:"tls,omitempty"`
}

// BasicAuthConfig enables HTTP Basic authentication and, with it, the
// WebSocket session token.
type BasicAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig switches the listener to TLS when both files are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// Enabled reports whether a certificate and key are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// WebSocketConfig tunes terminal sessions.
type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	ClientTimeout  time.Duration `yaml:"client_timeout,omitempty"` // 0 derives it from ping_interval
	MaxClients     int           `yaml:"max_clients"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// UARTConfig selects the serial device and its initial line settings.
type UARTConfig struct {
	Port        string        `yaml:"port"` // device path or "loopback"
	ID          int           `yaml:"id"`
	BaudRate    int           `yaml:"baudrate"`
	Bits        int           `yaml:"bits"`
	Parity      uart.Parity   `yaml:"parity"`
	Stop        int           `yaml:"stop"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Term returns the line settings as a uart.Config.
func (u UARTConfig) Term() uart.Config {
	return uart.Config{BaudRate: u.BaudRate, Bits: u.Bits, Parity: u.Parity, Stop: u.Stop}
}

// LEDConfig selects the indicator driver.
type LEDConfig struct {
	Driver        string            `yaml:"driver"` // none, log or sysfs
	SysfsRoot     string            `yaml:"sysfs_root,omitempty"`
	Names         map[string]string `yaml:"names,omitempty"` // wifi/status/tx/rx -> LED class name
	BlinkDuration time.Duration     `yaml:"blink_duration"`
}

// MDNSConfig controls service advertisement.
type MDNSConfig struct {
	Enabled bool `yaml:"enabled"`
}
