package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/muurk/wise/internal/logging"
	"github.com/muurk/wise/internal/uart"
)

// Update is a partial terminal configuration. Nil fields keep their value.
type Update struct {
	BaudRate *int
	Bits     *int
	Parity   *uart.Parity
	Stop     *int
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return u.BaudRate == nil && u.Bits == nil && u.Parity == nil && u.Stop == nil
}

func (u Update) apply(cfg uart.Config) uart.Config {
	if u.BaudRate != nil {
		cfg.BaudRate = *u.BaudRate
	}
	if u.Bits != nil {
		cfg.Bits = *u.Bits
	}
	if u.Parity != nil {
		cfg.Parity = *u.Parity
	}
	if u.Stop != nil {
		cfg.Stop = *u.Stop
	}
	return cfg
}

// ParseUpdate decodes a /stty request body. Only baudrate, bits, parity and
// stop are accepted. Numeric fields may be JSON integers, integral floats or
// numeric strings; parity must be -1 (none), 0 (even) or 1 (odd). An empty
// body is a zero update.
func ParseUpdate(data []byte) (Update, error) {
	var u Update
	if len(bytes.TrimSpace(data)) == 0 {
		return u, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return u, fmt.Errorf("%w: request body is not a JSON object: %v", ErrInvalidOption, err)
	}

	for key, raw := range fields {
		switch key {
		case "baudrate", "bits", "stop":
			n, err := toInt(raw)
			if err != nil {
				return Update{}, fmt.Errorf("%w: %s: %v", ErrInvalidOption, key, err)
			}
			switch key {
			case "baudrate":
				u.BaudRate = &n
			case "bits":
				u.Bits = &n
			case "stop":
				u.Stop = &n
			}
		case "parity":
			p, err := toParity(raw)
			if err != nil {
				return Update{}, fmt.Errorf("%w: %v", ErrInvalidOption, err)
			}
			u.Parity = &p
		default:
			return Update{}, fmt.Errorf("%w: option %q is not supported", ErrInvalidOption, key)
		}
	}
	return u, nil
}

func toInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported value %v", v)
	}
}

func toParity(v interface{}) (uart.Parity, error) {
	if x, ok := v.(float64); ok && x == math.Trunc(x) {
		if p := uart.Parity(int(x)); p.Valid() {
			return p, nil
		}
	}
	return 0, fmt.Errorf("parity can only be -1 (none), 0 (even), 1 (odd), got %v", v)
}

// Stty applies u to the UART. The whole update is rejected if any field is
// out of range; on success the new window title is broadcast. A zero update
// returns the current configuration untouched.
func (b *Bridge) Stty(u Update) (uart.Config, error) {
	b.mu.Lock()
	if u.IsZero() {
		cfg := b.cfg
		b.mu.Unlock()
		return cfg, nil
	}

	cfg := u.apply(b.cfg)
	if err := cfg.Validate(); err != nil {
		b.mu.Unlock()
		return uart.Config{}, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}
	if err := b.port.Configure(cfg); err != nil {
		b.mu.Unlock()
		return uart.Config{}, fmt.Errorf("failed to apply terminal configuration: %w", err)
	}
	b.cfg = cfg
	title := b.titleLocked()
	b.mu.Unlock()

	logging.LogStty(cfg.BaudRate, cfg.Bits, cfg.Parity.String(), cfg.Stop)
	b.Broadcast(frameCommand(CmdSetWindowTitle, []byte(title)))
	return cfg, nil
}
