package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Close status codes (RFC 6455 section 7.4.1)
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	CloseNoStatus        uint16 = 1005
	CloseInvalidPayload  uint16 = 1007
	ClosePolicyViolation uint16 = 1008
	CloseMessageTooBig   uint16 = 1009
	CloseInternalError   uint16 = 1011
)

// ErrClosed is returned by every operation on a connection that has been
// closed by either side.
var ErrClosed = errors.New("websocket: connection closed")

// ProtocolError is a violation of the framing rules by the peer. Code is the
// close status that should be sent before dropping the connection.
type ProtocolError struct {
	Code uint16
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket protocol error (%d): %s", e.Code, e.Msg)
}

// CloseError is returned by ReadMessage after the peer sent a close frame.
// It matches ErrClosed with errors.Is.
type CloseError struct {
	Code   uint16
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket: closed by peer (%d)", e.Code)
	}
	return fmt.Sprintf("websocket: closed by peer (%d %s)", e.Code, e.Reason)
}

// Is makes errors.Is(err, ErrClosed) true for peer closes.
func (e *CloseError) Is(target error) bool {
	return target == ErrClosed
}

// ClosePayload encodes a close frame body.
func ClosePayload(code uint16, reason string) []byte {
	if code == 0 || code == CloseNoStatus {
		return nil
	}
	if len(reason) > maxControlPayload-2 {
		reason = reason[:maxControlPayload-2]
	}
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), code)
	return append(b, reason...)
}

// ParseClosePayload decodes a close frame body. An empty body means no
// status was given; a 1-byte body is invalid.
func ParseClosePayload(p []byte) (uint16, string, error) {
	switch len(p) {
	case 0:
		return CloseNoStatus, "", nil
	case 1:
		return 0, "", &ProtocolError{Code: CloseProtocolError, Msg: "close frame with 1-byte payload"}
	}
	return binary.BigEndian.Uint16(p[:2]), string(p[2:]), nil
}
