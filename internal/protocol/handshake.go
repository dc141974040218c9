package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/muurk/wise/internal/httpmsg"
)

// acceptGUID is the fixed GUID from RFC 6455 section 1.3.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Subprotocol is the only sub-protocol the bridge speaks (ttyd).
const Subprotocol = "tty"

// ErrBadHandshake wraps every reason an upgrade request is refused.
var ErrBadHandshake = errors.New("invalid websocket upgrade request")

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ValidateUpgradeRequest checks that req is a WebSocket upgrade asking for
// the given sub-protocol.
func ValidateUpgradeRequest(req *httpmsg.Request, subprotocol string) error {
	if req.Method != httpmsg.MethodGet {
		return fmt.Errorf("%w: method %s (expected GET)", ErrBadHandshake, req.Method)
	}

	if connection := strings.ToLower(req.Header("Connection")); !strings.Contains(connection, "upgrade") {
		return fmt.Errorf("%w: Connection header %q (expected upgrade)", ErrBadHandshake, connection)
	}

	if upgrade := req.Header("Upgrade"); !strings.EqualFold(upgrade, "websocket") {
		return fmt.Errorf("%w: Upgrade header %q (expected websocket)", ErrBadHandshake, upgrade)
	}

	if !req.HasHeader("Sec-WebSocket-Key") {
		return fmt.Errorf("%w: missing Sec-WebSocket-Key header", ErrBadHandshake)
	}

	if proto := req.Header("Sec-WebSocket-Protocol"); proto != subprotocol {
		return fmt.Errorf("%w: Sec-WebSocket-Protocol %q (expected %s)", ErrBadHandshake, proto, subprotocol)
	}

	return nil
}

// Handshake validates req and builds the 101 response that promotes the
// connection. On error the caller answers 400 and closes.
func Handshake(req *httpmsg.Request, subprotocol string) (*httpmsg.Response, error) {
	if err := ValidateUpgradeRequest(req, subprotocol); err != nil {
		return nil, err
	}

	return httpmsg.NewResponse(101,
		httpmsg.Header{Name: "Connection", Value: "Upgrade"},
		httpmsg.Header{Name: "Upgrade", Value: "websocket"},
		httpmsg.Header{Name: "Sec-WebSocket-Protocol", Value: subprotocol},
		httpmsg.Header{Name: "Sec-WebSocket-Version", Value: "13"},
		httpmsg.Header{Name: "Sec-WebSocket-Accept", Value: AcceptKey(req.Header("Sec-WebSocket-Key"))},
	), nil
}
