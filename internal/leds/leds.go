package leds

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/muurk/wise/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LED identifies one indicator on the board.
type LED int

const (
	WiFi LED = iota
	Status
	TX
	RX
)

func (l LED) String() string {
	switch l {
	case WiFi:
		return "wifi"
	case Status:
		return "status"
	case TX:
		return "tx"
	case RX:
		return "rx"
	default:
		return fmt.Sprintf("LED(%d)", int(l))
	}
}

// ParseLED maps a config name back to an LED.
func ParseLED(name string) (LED, error) {
	for _, l := range []LED{WiFi, Status, TX, RX} {
		if strings.EqualFold(name, l.String()) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown LED %q (expected wifi, status, tx or rx)", name)
}

// Driver switches a physical (or pretend) indicator.
type Driver interface {
	Set(led LED, on bool) error
}

// DefaultBlinkDuration is how long a traffic LED stays lit per blink.
const DefaultBlinkDuration = 15 * time.Millisecond

// Panel drives the board indicators through a Driver. A nil *Panel is valid
// and does nothing, so components can hold one unconditionally.
type Panel struct {
	driver Driver
	blink  time.Duration

	mu       sync.Mutex
	limiters map[LED]*rate.Limiter
}

// NewPanel returns a panel using driver. A traffic LED blinks at most once
// per two blink durations however fast data flows.
func NewPanel(driver Driver, blink time.Duration) *Panel {
	if driver == nil {
		driver = NopDriver{}
	}
	if blink <= 0 {
		blink = DefaultBlinkDuration
	}
	return &Panel{
		driver:   driver,
		blink:    blink,
		limiters: make(map[LED]*rate.Limiter),
	}
}

// Set turns an LED on or off. Driver errors are logged, not returned.
func (p *Panel) Set(led LED, on bool) {
	if p == nil {
		return
	}
	if err := p.driver.Set(led, on); err != nil {
		logging.Debug("LED update failed",
			zap.Stringer("led", led),
			zap.Bool("on", on),
			zap.Error(err),
		)
	}
}

// Blink lights led briefly. Calls arriving while a blink is still pending
// are dropped.
func (p *Panel) Blink(led LED) {
	if p == nil || !p.limiter(led).Allow() {
		return
	}
	p.Set(led, true)
	time.AfterFunc(p.blink, func() { p.Set(led, false) })
}

func (p *Panel) limiter(led LED) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[led]
	if !ok {
		l = rate.NewLimiter(rate.Every(2*p.blink), 1)
		p.limiters[led] = l
	}
	return l
}

// NopDriver ignores every update.
type NopDriver struct{}

func (NopDriver) Set(LED, bool) error { return nil }

// LogDriver reports LED changes at debug level. Useful on hosts without
// indicators.
type LogDriver struct{}

func (LogDriver) Set(led LED, on bool) error {
	logging.Debug("LED", zap.Stringer("led", led), zap.Bool("on", on))
	return nil
}

// DefaultSysfsRoot is where Linux exposes LED class devices.
const DefaultSysfsRoot = "/sys/class/leds"

// SysfsDriver drives Linux LED class devices by writing their brightness
// file. LEDs without a mapped name are ignored.
type SysfsDriver struct {
	root  string
	names map[LED]string
}

// NewSysfsDriver maps each LED to a directory name under root.
func NewSysfsDriver(root string, names map[LED]string) *SysfsDriver {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &SysfsDriver{root: root, names: names}
}

func (d *SysfsDriver) Set(led LED, on bool) error {
	name, ok := d.names[led]
	if !ok || name == "" {
		return nil
	}
	value := []byte("0")
	if on {
		value = []byte("1")
	}
	path := filepath.Join(d.root, name, "brightness")
	if err := os.WriteFile(path, value, 0o644); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// NewDriver builds a driver from its config name (none, log or sysfs).
func NewDriver(kind, root string, names map[string]string) (Driver, error) {
	switch strings.ToLower(kind) {
	case "", "none":
		return NopDriver{}, nil
	case "log":
		return LogDriver{}, nil
	case "sysfs":
		mapped := make(map[LED]string, len(names))
		for key, name := range names {
			led, err := ParseLED(key)
			if err != nil {
				return nil, err
			}
			mapped[led] = name
		}
		return NewSysfsDriver(root, mapped), nil
	default:
		return nil, fmt.Errorf("unknown LED driver %q (expected none, log or sysfs)", kind)
	}
}
