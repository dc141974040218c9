package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"errors"

	"github.com/muurk/wise/internal/leds"
	"github.com/muurk/wise/internal/logging"
	"github.com/muurk/wise/internal/protocol"
	"go.uber.org/zap"
)

type sessionState int

const (
	stateAwaitingAuth sessionState = iota
	stateAuthenticated
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingAuth:
		return "awaiting_auth"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type session struct {
	t     Transport
	state sessionState
}

// Serve runs one terminal session until it closes. The caller must hold a
// slot from Reserve; Serve releases it.
func (b *Bridge) Serve(t Transport) {
	defer b.Release()

	s := &session{t: t, state: stateAwaitingAuth}
	addr := t.RemoteAddr()
	logging.LogConnection(addr, "terminal_session_opened")

	defer func() {
		b.unregister(s)
		s.state = stateClosed
		_ = t.Close(protocol.CloseNormal)
		logging.LogConnection(addr, "terminal_session_closed")
	}()

	if b.opts.Token == "" {
		if err := b.authenticate(s); err != nil {
			logging.Debug("Session setup failed", zap.String("remote_addr", addr), zap.Error(err))
			return
		}
	}

	for t.IsOpen() {
		_, msg, err := t.ReadMessage()
		if err != nil {
			if !errors.Is(err, protocol.ErrClosed) {
				logging.Debug("Session read failed", zap.String("remote_addr", addr), zap.Error(err))
			}
			return
		}
		if !b.handle(s, msg) {
			return
		}
	}
}

// handle processes one client message and reports whether the session
// continues.
func (b *Bridge) handle(s *session, msg []byte) bool {
	if s.state == stateAwaitingAuth {
		return b.handleAuth(s, msg)
	}

	if len(msg) == 0 {
		return true
	}

	switch msg[0] {
	case CmdInput:
		b.writeInput(s, msg[1:])
	case CmdResizeTerminal, CmdPause, CmdResume, CmdJSONData:
		logging.Debug("Ignoring terminal command",
			zap.String("remote_addr", s.t.RemoteAddr()),
			zap.String("command", commandName(msg[0])),
		)
	default:
		logging.Debug("Unknown terminal command",
			zap.String("remote_addr", s.t.RemoteAddr()),
			zap.String("command", commandName(msg[0])),
		)
	}
	return true
}

// handleAuth accepts only a JSON message carrying the session token.
func (b *Bridge) handleAuth(s *session, msg []byte) bool {
	addr := s.t.RemoteAddr()

	if len(msg) == 0 || msg[0] != CmdJSONData {
		logging.Warn("Rejecting unauthenticated session: expected auth message",
			zap.String("remote_addr", addr),
		)
		_ = s.t.Close(protocol.ClosePolicyViolation)
		return false
	}

	var auth map[string]interface{}
	if err := json.Unmarshal(msg, &auth); err != nil {
		logging.Warn("Rejecting unauthenticated session: malformed auth message",
			zap.String("remote_addr", addr),
			zap.Error(err),
		)
		_ = s.t.Close(protocol.CloseUnsupportedData)
		return false
	}

	token, _ := auth["AuthToken"].(string)
	if subtle.ConstantTimeCompare([]byte(token), []byte(b.opts.Token)) != 1 {
		logging.Warn("Rejecting unauthenticated session: bad token",
			zap.String("remote_addr", addr),
		)
		_ = s.t.Close(protocol.ClosePolicyViolation)
		return false
	}

	if err := b.authenticate(s); err != nil {
		logging.Debug("Session setup failed", zap.String("remote_addr", addr), zap.Error(err))
		return false
	}
	return true
}

// authenticate sends the window title and preferences, then registers the
// session for UART output.
func (b *Bridge) authenticate(s *session) error {
	if err := s.t.WriteBinary(frameCommand(CmdSetWindowTitle, []byte(b.WindowTitle()))); err != nil {
		return err
	}
	if err := s.t.WriteBinary(frameCommand(CmdSetPreferences, b.prefs)); err != nil {
		return err
	}
	if err := b.register(s); err != nil {
		return err
	}
	s.state = stateAuthenticated
	logging.LogConnection(s.t.RemoteAddr(), "terminal_session_authenticated")
	return nil
}

func (b *Bridge) writeInput(s *session, data []byte) {
	if len(data) == 0 {
		return
	}
	b.opts.Panel.Blink(leds.TX)
	logging.LogRawBytes("uart_tx", data)

	n, err := b.port.Write(data)
	b.txBytes.Add(uint64(n))
	if err != nil {
		logging.Warn("UART write failed",
			zap.String("remote_addr", s.t.RemoteAddr()),
			zap.Error(err),
		)
	}
}
