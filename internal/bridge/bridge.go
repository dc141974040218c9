package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/wise/internal/leds"
	"github.com/muurk/wise/internal/logging"
	"github.com/muurk/wise/internal/protocol"
	"github.com/muurk/wise/internal/uart"
	"go.uber.org/zap"
)

const (
	// DefaultPingInterval is how often every session is pinged.
	DefaultPingInterval = 300 * time.Second

	// DefaultMaxClients bounds concurrent sessions, pending ones included.
	DefaultMaxClients = 32

	// relayBufferSize is the largest UART read relayed as one message.
	relayBufferSize = 4096

	// relayRetryDelay is the pause after a failed UART read.
	relayRetryDelay = time.Second
)

// DefaultClientTimeout derives the liveness timeout from a ping interval.
func DefaultClientTimeout(pingInterval time.Duration) time.Duration {
	return pingInterval * 1033 / 1000
}

var (
	// ErrInvalidOption is wrapped by every rejected stty update.
	ErrInvalidOption = errors.New("invalid terminal option")

	// ErrBridgeFull is returned by Reserve when MaxClients sessions exist.
	ErrBridgeFull = errors.New("too many terminal sessions")

	// ErrBridgeClosed is returned by Reserve after Close.
	ErrBridgeClosed = errors.New("bridge closed")
)

// Transport is one WebSocket session as seen by the bridge.
// *protocol.Conn implements it.
type Transport interface {
	ReadMessage() (byte, []byte, error)
	WriteBinary(payload []byte) error
	Ping() error
	Close(code uint16) error
	IsOpen() bool
	LastSeen() time.Time
	RemoteAddr() string
}

// Options configures a Bridge.
type Options struct {
	Hostname string
	UARTID   int

	// Token gates sessions. Empty disables session authentication.
	Token string

	// Preferences is sent to each client as ttyd preferences JSON.
	Preferences map[string]interface{}

	PingInterval  time.Duration
	ClientTimeout time.Duration
	MaxClients    int

	Panel *leds.Panel
}

// Stats are running totals since the bridge started.
type Stats struct {
	Sessions int
	TxBytes  uint64 // client input written to the UART
	RxBytes  uint64 // UART output relayed to clients
}

// Bridge joins one UART to any number of terminal sessions. UART output is
// broadcast to every authenticated session and input from any of them is
// written to the UART.
type Bridge struct {
	port  uart.Port
	opts  Options
	prefs []byte

	mu         sync.Mutex
	sessions   map[*session]struct{}
	reserved   int
	cfg        uart.Config
	relayAlive bool
	pingAlive  bool
	closed     bool

	done chan struct{}
	wg   sync.WaitGroup

	txBytes atomic.Uint64
	rxBytes atomic.Uint64
}

// New builds a bridge over port, which must already be configured with cfg.
func New(port uart.Port, cfg uart.Config, opts Options) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.ClientTimeout == 0 {
		opts.ClientTimeout = DefaultClientTimeout(opts.PingInterval)
	}
	if opts.MaxClients == 0 {
		opts.MaxClients = DefaultMaxClients
	}

	prefs := opts.Preferences
	if prefs == nil {
		prefs = map[string]interface{}{}
	}
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ttyd preferences: %w", err)
	}

	return &Bridge{
		port:     port,
		opts:     opts,
		prefs:    encoded,
		sessions: make(map[*session]struct{}),
		cfg:      cfg,
		done:     make(chan struct{}),
	}, nil
}

// Token returns the session token, empty when authentication is off.
func (b *Bridge) Token() string {
	return b.opts.Token
}

// TermConfig returns the current terminal configuration.
func (b *Bridge) TermConfig() uart.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// WindowTitle is the title shown by clients, e.g. "wise UART0 115200 8N1".
func (b *Bridge) WindowTitle() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.titleLocked()
}

func (b *Bridge) titleLocked() string {
	return fmt.Sprintf("%s UART%d %d %s", b.opts.Hostname, b.opts.UARTID, b.cfg.BaudRate, b.cfg.Frame())
}

// SessionCount returns the number of registered (authenticated) sessions.
func (b *Bridge) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Stats returns session and traffic totals.
func (b *Bridge) Stats() Stats {
	return Stats{
		Sessions: b.SessionCount(),
		TxBytes:  b.txBytes.Load(),
		RxBytes:  b.rxBytes.Load(),
	}
}

// Reserve claims a session slot before the WebSocket handshake completes.
// A successful Reserve must be followed by either Serve or Release.
func (b *Bridge) Reserve() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBridgeClosed
	}
	if b.opts.MaxClients > 0 && b.reserved >= b.opts.MaxClients {
		return ErrBridgeFull
	}
	b.reserved++
	return nil
}

// Release returns a slot claimed by Reserve.
func (b *Bridge) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reserved > 0 {
		b.reserved--
	}
}

// Broadcast sends payload to every registered open session and returns how
// many received it. Sessions that fail are removed and closed.
func (b *Bridge) Broadcast(payload []byte) int {
	delivered := 0
	for _, s := range b.snapshot() {
		if !s.t.IsOpen() {
			b.unregister(s)
			continue
		}
		if err := s.t.WriteBinary(payload); err != nil {
			logging.Debug("Dropping session after failed send",
				zap.String("remote_addr", s.t.RemoteAddr()),
				zap.Error(err),
			)
			b.unregister(s)
			_ = s.t.Close(protocol.CloseGoingAway)
			continue
		}
		delivered++
	}
	return delivered
}

func (b *Bridge) snapshot() []*session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		out = append(out, s)
	}
	return out
}

// Close ends every session and waits for the relay and keepalive loops.
// The UART itself is left open.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	sessions := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		_ = s.t.Close(protocol.CloseGoingAway)
	}
	b.wg.Wait()

	stats := b.Stats()
	logging.Info("Bridge closed",
		zap.Uint64("tx_bytes", stats.TxBytes),
		zap.Uint64("rx_bytes", stats.RxBytes),
	)
}

// register adds an authenticated session and starts the relay and
// keepalive loops when they are not running.
func (b *Bridge) register(s *session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBridgeClosed
	}
	b.sessions[s] = struct{}{}
	if !b.relayAlive {
		b.relayAlive = true
		b.wg.Add(1)
		go b.relay()
	}
	if !b.pingAlive {
		b.pingAlive = true
		b.wg.Add(1)
		go b.keepalive()
	}
	return nil
}

func (b *Bridge) unregister(s *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, s)
}

// idle reports whether a loop should exit, clearing its alive flag if so.
// Checking and clearing under one lock keeps register from seeing a loop
// that is about to exit as running.
func (b *Bridge) idle(alive *bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.sessions) == 0 {
		*alive = false
		return true
	}
	return false
}

// relay copies UART output to every session until none is left.
func (b *Bridge) relay() {
	defer b.wg.Done()
	logging.Debug("UART relay started")
	defer logging.Debug("UART relay stopped")

	buf := make([]byte, relayBufferSize)
	for {
		if b.idle(&b.relayAlive) {
			return
		}

		n, err := b.port.Read(buf)
		if n > 0 {
			b.rxBytes.Add(uint64(n))
			b.opts.Panel.Blink(leds.RX)
			logging.LogRawBytes("uart_rx", buf[:n])
			b.Broadcast(frameCommand(CmdOutput, buf[:n]))
		}
		if err != nil {
			logging.Warn("UART read failed", zap.Error(err))
			select {
			case <-b.done:
			case <-time.After(relayRetryDelay):
			}
		}
	}
}

// keepalive pings every session each interval and closes sessions that have
// been silent longer than the client timeout.
func (b *Bridge) keepalive() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.PingInterval)
	defer ticker.Stop()

	for {
		if b.idle(&b.pingAlive) {
			return
		}

		now := time.Now()
		for _, s := range b.snapshot() {
			if !s.t.IsOpen() {
				b.unregister(s)
				continue
			}
			if b.opts.ClientTimeout > 0 && now.Sub(s.t.LastSeen()) > b.opts.ClientTimeout {
				logging.Info("Closing unresponsive session",
					zap.String("remote_addr", s.t.RemoteAddr()),
					zap.Duration("silent_for", now.Sub(s.t.LastSeen())),
				)
				b.unregister(s)
				_ = s.t.Close(protocol.CloseNormal)
				continue
			}
			if err := s.t.Ping(); err != nil {
				b.unregister(s)
				_ = s.t.Close(protocol.CloseGoingAway)
			}
		}

		select {
		case <-b.done:
		case <-ticker.C:
		}
	}
}
