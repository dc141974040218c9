package bridge

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/muurk/wise/internal/protocol"
	"github.com/muurk/wise/internal/uart"
)

// fakeTransport is an in-memory Transport. Messages pushed with send are
// returned by ReadMessage; everything written is recorded. A stale transport
// reports a last-seen time far in the past.
type fakeTransport struct {
	addr string
	in   chan []byte

	mu        sync.Mutex
	written   [][]byte
	pings     int
	closeCode uint16
	closed    bool
	failWrite bool
	stale     bool

	closedCh chan struct{}
}

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{
		addr:     addr,
		in:       make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeTransport) send(msg string) { f.in <- []byte(msg) }

func (f *fakeTransport) ReadMessage() (byte, []byte, error) {
	select {
	case msg := <-f.in:
		return protocol.OpcodeBinary, msg, nil
	case <-f.closedCh:
		return 0, nil, protocol.ErrClosed
	}
}

func (f *fakeTransport) WriteBinary(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return protocol.ErrClosed
	}
	if f.failWrite {
		return errors.New("broken pipe")
	}
	f.written = append(f.written, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return protocol.ErrClosed
	}
	f.pings++
	return nil
}

func (f *fakeTransport) Close(code uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
		close(f.closedCh)
	}
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) LastSeen() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale {
		return time.Now().Add(-time.Hour)
	}
	return time.Now()
}

func (f *fakeTransport) RemoteAddr() string { return f.addr }

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, m := range f.written {
		out[i] = string(m)
	}
	return out
}

func (f *fakeTransport) closeState() (bool, uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// fakePort records writes and serves reads pushed through rx.
type fakePort struct {
	rx chan []byte

	mu           sync.Mutex
	written      []byte
	configured   []uart.Config
	configureErr error

	once   sync.Once
	closed chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{rx: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case data := <-p.rx:
		return copy(buf, data), nil
	case <-p.closed:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, data...)
	return len(data), nil
}

func (p *fakePort) Configure(cfg uart.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.configureErr != nil {
		return p.configureErr
	}
	p.configured = append(p.configured, cfg)
	return nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}

func (p *fakePort) configureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.configured)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
