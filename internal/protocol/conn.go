package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/wise/internal/logging"
	"go.uber.org/zap"
)

const (
	// DefaultWriteTimeout bounds a single frame write so a stalled reader
	// cannot hold a broadcast forever.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMaxMessageSize bounds a reassembled message.
	DefaultMaxMessageSize = 64 * 1024

	// closeWriteTimeout bounds the best-effort close frame.
	closeWriteTimeout = time.Second
)

// Options tunes a server-side connection. Zero values select the defaults.
type Options struct {
	MaxMessageSize int64
	WriteTimeout   time.Duration
}

// Conn is the server side of an upgraded WebSocket connection.
//
// One goroutine may call ReadMessage while any number of goroutines write.
// Writes are serialized. Close may be called from anywhere, any number of
// times.
type Conn struct {
	conn       net.Conn
	br         *bufio.Reader
	remoteAddr string

	maxMessage   int64
	writeTimeout time.Duration

	wmu      sync.Mutex
	closed   atomic.Bool
	lastSeen atomic.Int64
}

// NewServerConn wraps a connection that has just been sent a 101 response.
// br must be the reader the HTTP request was parsed from, since it may
// already hold the first frames.
func NewServerConn(conn net.Conn, br *bufio.Reader, opts Options) *Conn {
	if br == nil {
		br = bufio.NewReader(conn)
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	c := &Conn{
		conn:         conn,
		br:           br,
		remoteAddr:   conn.RemoteAddr().String(),
		maxMessage:   opts.MaxMessageSize,
		writeTimeout: opts.WriteTimeout,
	}
	c.touch()
	return c
}

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// IsOpen reports whether neither side has closed the connection.
func (c *Conn) IsOpen() bool {
	return !c.closed.Load()
}

// LastSeen is the time the last frame of any kind arrived.
func (c *Conn) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// ReadMessage returns the next complete text or binary message. Ping, pong
// and close frames are handled internally. After a close frame from the peer
// the returned error matches ErrClosed. Protocol violations close the
// connection with the matching status code.
func (c *Conn) ReadMessage() (byte, []byte, error) {
	var (
		opcode     byte
		message    []byte
		fragmented bool
	)

	for {
		if c.closed.Load() {
			return 0, nil, ErrClosed
		}

		frame, err := ReadFrame(c.br, c.maxMessage)
		if err != nil {
			return 0, nil, c.fail(err)
		}
		c.touch()

		if !frame.Masked {
			return 0, nil, c.fail(&ProtocolError{Code: CloseProtocolError, Msg: "client frame is not masked"})
		}

		switch frame.Opcode {
		case OpcodePing:
			logging.Debug("Received ping, sending pong", zap.String("remote_addr", c.remoteAddr))
			if err := c.writeFrame(OpcodePong, frame.Payload); err != nil {
				return 0, nil, err
			}

		case OpcodePong:
			logging.Debug("Received pong", zap.String("remote_addr", c.remoteAddr))

		case OpcodeClose:
			code, reason, perr := ParseClosePayload(frame.Payload)
			if perr != nil {
				return 0, nil, c.fail(perr)
			}
			_ = c.Close(code)
			return 0, nil, &CloseError{Code: code, Reason: reason}

		case OpcodeText, OpcodeBinary:
			if fragmented {
				return 0, nil, c.fail(&ProtocolError{Code: CloseProtocolError, Msg: "new data frame inside a fragmented message"})
			}
			opcode = frame.Opcode
			message = frame.Payload
			if frame.FIN {
				return opcode, message, nil
			}
			fragmented = true

		case OpcodeContinuation:
			if !fragmented {
				return 0, nil, c.fail(&ProtocolError{Code: CloseProtocolError, Msg: "continuation frame without a message"})
			}
			if int64(len(message))+int64(len(frame.Payload)) > c.maxMessage {
				return 0, nil, c.fail(&ProtocolError{Code: CloseMessageTooBig, Msg: "fragmented message exceeds limit"})
			}
			message = append(message, frame.Payload...)
			if frame.FIN {
				return opcode, message, nil
			}
		}
	}
}

// fail closes the connection after a read error. Protocol errors get a close
// frame with their code; transport errors just drop the socket.
func (c *Conn) fail(err error) error {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		logging.Warn("WebSocket protocol violation",
			zap.String("remote_addr", c.remoteAddr),
			zap.Uint16("close_code", perr.Code),
			zap.Error(err),
		)
		_ = c.Close(perr.Code)
		return err
	}

	if c.closed.Load() {
		return ErrClosed
	}
	c.abort()
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

// WriteBinary sends one unfragmented binary message.
func (c *Conn) WriteBinary(payload []byte) error {
	return c.writeFrame(OpcodeBinary, payload)
}

// Ping sends an unsolicited ping.
func (c *Conn) Ping() error {
	return c.writeFrame(OpcodePing, nil)
}

func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	frame := EncodeFrame(opcode, payload, nil)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.abort()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.abort()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	logging.LogWebSocketMessage(c.remoteAddr, "sent", opcode, payload)
	return nil
}

// Close sends a close frame with code (best effort) and closes the socket.
// Only the first call has any effect.
func (c *Conn) Close(code uint16) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.wmu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
	_, _ = c.conn.Write(EncodeFrame(OpcodeClose, ClosePayload(code, ""), nil))
	c.wmu.Unlock()

	logging.LogConnection(c.remoteAddr, "websocket_closed")
	return c.conn.Close()
}

// abort drops the socket without a close frame.
func (c *Conn) abort() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
		logging.LogConnection(c.remoteAddr, "websocket_aborted")
	}
}
