// Package protocol implements the server side of RFC 6455 WebSocket as used
// by the serial console bridge.
//
// # Handshake
//
// Handshake validates an upgrade request that was parsed by package httpmsg
// and builds the 101 response. Only the ttyd "tty" sub-protocol is accepted.
//
// # Framing
//
// ReadFrame decodes one frame, unmasking client payloads in place, and
// AppendFrame/EncodeFrame encode frames. Servers never mask; clients always
// do. Violations are reported as *ProtocolError carrying the close code the
// connection must be closed with.
//
// # Connections
//
// Conn wraps an upgraded net.Conn:
//
//	conn := protocol.NewServerConn(netConn, br, protocol.Options{})
//	for {
//	    opcode, msg, err := conn.ReadMessage()
//	    if err != nil {
//	        break // errors.Is(err, protocol.ErrClosed) after a close
//	    }
//	    _ = conn.WriteBinary(reply(opcode, msg))
//	}
//
// ReadMessage answers pings, records pongs and reassembles fragmented
// messages. Writes are safe from multiple goroutines.
package protocol
