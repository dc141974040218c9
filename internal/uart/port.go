package uart

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/muurk/wise/internal/logging"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// LoopbackName selects the in-memory Loopback port instead of a device.
const LoopbackName = "loopback"

// DefaultReadTimeout bounds a single Read so the relay can notice that
// nobody is listening any more.
const DefaultReadTimeout = 100 * time.Millisecond

// ErrPortClosed is returned by operations on a closed port.
var ErrPortClosed = errors.New("uart port closed")

// Port is what the bridge needs from a UART. Read returns (0, nil) when the
// read timeout expires without data.
type Port interface {
	io.ReadWriteCloser
	Configure(cfg Config) error
}

// Open opens the named serial device, or a Loopback when name is
// LoopbackName, and applies cfg.
func Open(name string, cfg Config, readTimeout time.Duration) (Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if name == LoopbackName {
		lb := NewLoopback(readTimeout)
		_ = lb.Configure(cfg)
		return lb, nil
	}
	return OpenSerial(name, cfg, readTimeout)
}

// AvailablePorts lists the serial devices present on the host.
func AvailablePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// SerialPort is a Port backed by a real serial device.
type SerialPort struct {
	name string
	port serial.Port
}

// OpenSerial opens a serial device with the given configuration.
func OpenSerial(name string, cfg Config, readTimeout time.Duration) (*SerialPort, error) {
	port, err := serial.Open(name, toMode(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	logging.Info("Serial port opened",
		zap.String("port", name),
		zap.String("config", cfg.String()),
	)
	return &SerialPort{name: name, port: port}, nil
}

func (s *SerialPort) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *SerialPort) Write(p []byte) (int, error) { return s.port.Write(p) }

// Configure changes line settings without reopening the device.
func (s *SerialPort) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.port.SetMode(toMode(cfg)); err != nil {
		return fmt.Errorf("failed to reconfigure %s: %w", s.name, err)
	}
	return nil
}

func (s *SerialPort) Close() error {
	return s.port.Close()
}

func toMode(cfg Config) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.Bits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch cfg.Parity {
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	}
	if cfg.Stop == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode
}

// Loopback is an in-memory Port that reads back whatever was written to it.
// It stands in for a board UART when none is attached.
type Loopback struct {
	readTimeout time.Duration

	mu     sync.Mutex
	buf    []byte
	cfg    Config
	closed bool

	notify chan struct{}
	done   chan struct{}
}

// NewLoopback returns an empty loopback port.
func NewLoopback(readTimeout time.Duration) *Loopback {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Loopback{
		readTimeout: readTimeout,
		cfg:         DefaultConfig(),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (l *Loopback) Read(p []byte) (int, error) {
	timer := time.NewTimer(l.readTimeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		if len(l.buf) > 0 {
			n := copy(p, l.buf)
			l.buf = l.buf[n:]
			l.mu.Unlock()
			return n, nil
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return 0, io.EOF
		}

		select {
		case <-l.notify:
		case <-l.done:
		case <-timer.C:
			return 0, nil
		}
	}
}

func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrPortClosed
	}
	l.buf = append(l.buf, p...)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (l *Loopback) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrPortClosed
	}
	l.cfg = cfg
	return nil
}

// Config returns the last configuration applied.
func (l *Loopback) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}
