package uart

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid terminal configuration")

// Parity of a UART character. The numeric values are the ones carried in the
// /stty JSON body.
type Parity int

const (
	ParityNone Parity = -1
	ParityEven Parity = 0
	ParityOdd  Parity = 1
)

// Valid reports whether p is one of the three known parities.
func (p Parity) Valid() bool {
	return p == ParityNone || p == ParityEven || p == ParityOdd
}

// Letter returns the N/E/O letter used in window titles ("8N1").
func (p Parity) Letter() string {
	switch p {
	case ParityEven:
		return "E"
	case ParityOdd:
		return "O"
	default:
		return "N"
	}
}

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return fmt.Sprintf("Parity(%d)", int(p))
	}
}

// ParseParity accepts a name (none/even/odd, n/e/o) or a wire value (-1/0/1).
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "n", "no":
		return ParityNone, nil
	case "even", "e":
		return ParityEven, nil
	case "odd", "o":
		return ParityOdd, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !Parity(n).Valid() {
		return 0, fmt.Errorf("%w: parity %q (expected none, even, odd, -1, 0 or 1)", ErrInvalidConfig, s)
	}
	return Parity(n), nil
}

// UnmarshalYAML lets config files say "parity: none" as well as "parity: -1".
func (p *Parity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: parity must be a scalar", node.Line)
	}
	parsed, err := ParseParity(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*p = parsed
	return nil
}

// MarshalYAML writes the parity by name.
func (p Parity) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// Config is the terminal configuration of the UART. The JSON form is the
// body of a /stty response.
type Config struct {
	BaudRate int    `json:"baudrate"`
	Bits     int    `json:"bits"`
	Parity   Parity `json:"parity"`
	Stop     int    `json:"stop"`
}

// DefaultConfig is 115200 8N1.
func DefaultConfig() Config {
	return Config{BaudRate: 115200, Bits: 8, Parity: ParityNone, Stop: 1}
}

// Validate checks every field against the ranges a UART accepts.
func (c Config) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baudrate %d must be positive", ErrInvalidConfig, c.BaudRate)
	}
	if c.Bits < 5 || c.Bits > 8 {
		return fmt.Errorf("%w: bits %d must be between 5 and 8", ErrInvalidConfig, c.Bits)
	}
	if !c.Parity.Valid() {
		return fmt.Errorf("%w: parity %d must be -1, 0 or 1", ErrInvalidConfig, int(c.Parity))
	}
	if c.Stop != 1 && c.Stop != 2 {
		return fmt.Errorf("%w: stop %d must be 1 or 2", ErrInvalidConfig, c.Stop)
	}
	return nil
}

// Frame returns the short "8N1" form.
func (c Config) Frame() string {
	return fmt.Sprintf("%d%s%d", c.Bits, c.Parity.Letter(), c.Stop)
}

func (c Config) String() string {
	return fmt.Sprintf("%d %s", c.BaudRate, c.Frame())
}
