package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/muurk/wise/internal/leds"
	"github.com/muurk/wise/internal/link"
	"github.com/muurk/wise/internal/uart"
	"gopkg.in/yaml.v3"
)

const (
	appName    = "wise"
	configFile = "config.yaml"

	// SystemConfigPath is used when no user config exists.
	SystemConfigPath = "/etc/wise/config.yaml"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Mutex for file writes
var fileMutex sync.Mutex

// hostnamePattern is what DHCP and mDNS accept as a host label.
var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9_-]{0,61}[A-Za-z0-9])?$`)

// Default returns the configuration used for every key the file omits.
func Default() *Config {
	return &Config{
		Hostname: "Wi_Se",
		WiFi: WiFiConfig{
			Mode:      string(link.ModeNone),
			Interface: "wlan0",
			AuthMode:  "wpa2",
			Channel:   6,
		},
		HTTP: HTTPConfig{
			Port:            80,
			PrivateNetsOnly: true,
		},
		WebSocket: WebSocketConfig{
			PingInterval:   300 * time.Second,
			MaxClients:     32,
			MaxMessageSize: 64 * 1024,
		},
		UART: UARTConfig{
			Port:        uart.LoopbackName,
			BaudRate:    115200,
			Bits:        8,
			Parity:      uart.ParityNone,
			Stop:        1,
			ReadTimeout: uart.DefaultReadTimeout,
		},
		TtydPreferences: map[string]interface{}{"disableLeaveAlert": true},
		LEDs: LEDConfig{
			Driver:        "none",
			SysfsRoot:     leds.DefaultSysfsRoot,
			BlinkDuration: leds.DefaultBlinkDuration,
		},
	}
}

// GetConfigDir returns $XDG_CONFIG_HOME/wise or $HOME/.config/wise.
func GetConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// GetConfigPath returns the first config file that exists: the user file,
// then SystemConfigPath. When neither exists it returns the user path.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	userPath := filepath.Join(dir, configFile)
	if _, err := os.Stat(userPath); err == nil {
		return userPath, nil
	}
	if _, err := os.Stat(SystemConfigPath); err == nil {
		return SystemConfigPath, nil
	}
	return userPath, nil
}

// Load reads and validates the file at path. An empty path searches the
// default locations; a missing default file yields Default(). A missing
// explicit path is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default() and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section. It is run by Load and Parse.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !hostnamePattern.MatchString(c.Hostname) {
		add("hostname %q is not a valid host label", c.Hostname)
	}
	if c.LogLevel != "" {
		switch strings.ToLower(c.LogLevel) {
		case "debug", "info", "warn", "warning", "error":
		default:
			add("log_level %q (expected debug, info, warn or error)", c.LogLevel)
		}
	}

	mode, err := link.ParseMode(c.WiFi.Mode)
	if err != nil {
		add("wifi.mode: %v", err)
	}
	if mode == link.ModeStation || mode == link.ModeAccessPoint {
		if c.WiFi.SSID == "" {
			add("wifi.ssid is required in %s mode", mode)
		}
		if c.WiFi.Interface == "" {
			add("wifi.interface is required in %s mode", mode)
		}
	}
	if mode == link.ModeAccessPoint && (c.WiFi.Channel < 1 || c.WiFi.Channel > 14) {
		add("wifi.channel %d must be between 1 and 14", c.WiFi.Channel)
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		add("http.port %d out of range", c.HTTP.Port)
	}
	if ba := c.HTTP.BasicAuth; ba != nil && (ba.Username == "" || strings.Contains(ba.Username, ":")) {
		add("http.basic_auth.username must be non-empty and contain no colon")
	}
	if (c.HTTP.TLS.CertFile == "") != (c.HTTP.TLS.KeyFile == "") {
		add("http.tls needs both cert_file and key_file")
	}

	if c.WebSocket.PingInterval <= 0 {
		add("websocket.ping_interval must be positive")
	}
	if c.WebSocket.ClientTimeout < 0 {
		add("websocket.client_timeout must not be negative")
	}
	if c.WebSocket.MaxClients < 1 {
		add("websocket.max_clients must be at least 1")
	}
	if c.WebSocket.MaxMessageSize < 1024 {
		add("websocket.max_message_size must be at least 1024")
	}

	if c.UART.Port == "" {
		add("uart.port is required")
	}
	if err := c.UART.Term().Validate(); err != nil {
		add("uart: %v", err)
	}
	if c.UART.ReadTimeout <= 0 {
		add("uart.read_timeout must be positive")
	}

	if _, err := leds.NewDriver(c.LEDs.Driver, c.LEDs.SysfsRoot, c.LEDs.Names); err != nil {
		add("leds: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Save writes the configuration to path atomically.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Wi-Se bridge configuration
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
