package protocol

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

var testMask = [4]byte{0x11, 0x22, 0x33, 0x44}

// newPipe returns a server Conn and the raw client side of the pipe.
func newPipe(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return NewServerConn(server, nil, Options{MaxMessageSize: 1024, WriteTimeout: time.Second}), client
}

func clientSend(client net.Conn, frames ...[]byte) {
	go func() {
		for _, f := range frames {
			if _, err := client.Write(f); err != nil {
				return
			}
		}
	}()
}

func readServerFrame(t *testing.T, client net.Conn) *Frame {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ReadFrame(client, 0)
	if err != nil {
		t.Fatalf("client ReadFrame() error = %v", err)
	}
	return frame
}

func TestConnReadMessage(t *testing.T) {
	conn, client := newPipe(t)
	clientSend(client, EncodeFrame(OpcodeBinary, []byte("0ls\r"), &testMask))

	opcode, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if opcode != OpcodeBinary || string(msg) != "0ls\r" {
		t.Errorf("ReadMessage() = (%d, %q)", opcode, msg)
	}
}

func TestConnReassemblesFragments(t *testing.T) {
	conn, client := newPipe(t)
	clientSend(client,
		AppendFrame(nil, OpcodeText, false, []byte("0hel"), &testMask),
		EncodeFrame(OpcodePing, []byte("p"), &testMask),
		AppendFrame(nil, OpcodeContinuation, true, []byte("lo"), &testMask),
	)

	done := make(chan struct{})
	var msg []byte
	var err error
	go func() {
		_, msg, err = conn.ReadMessage()
		close(done)
	}()

	pong := readServerFrame(t, client)
	if pong.Opcode != OpcodePong || string(pong.Payload) != "p" {
		t.Errorf("got %s payload %q, want pong echoing ping", pong, pong.Payload)
	}

	<-done
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(msg) != "0hello" {
		t.Errorf("message = %q, want 0hello", msg)
	}
}

func TestConnPeerClose(t *testing.T) {
	conn, client := newPipe(t)
	clientSend(client, EncodeFrame(OpcodeClose, ClosePayload(CloseGoingAway, ""), &testMask))

	errc := make(chan error, 1)
	go func() {
		_, _, err := conn.ReadMessage()
		errc <- err
	}()

	echo := readServerFrame(t, client)
	if echo.Opcode != OpcodeClose {
		t.Fatalf("got %s, want close echo", echo)
	}
	if code, _, _ := ParseClosePayload(echo.Payload); code != CloseGoingAway {
		t.Errorf("echoed code = %d, want 1001", code)
	}

	err := <-errc
	if !errors.Is(err, ErrClosed) {
		t.Errorf("ReadMessage() error = %v, want ErrClosed", err)
	}
	if conn.IsOpen() {
		t.Error("connection should be closed after peer close")
	}
	if err := conn.WriteBinary([]byte("0x")); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteBinary() after close = %v, want ErrClosed", err)
	}
}

func TestConnRejectsUnmaskedClientFrame(t *testing.T) {
	conn, client := newPipe(t)
	clientSend(client, EncodeFrame(OpcodeBinary, []byte("0x"), nil))

	errc := make(chan error, 1)
	go func() {
		_, _, err := conn.ReadMessage()
		errc <- err
	}()

	closeFrame := readServerFrame(t, client)
	if code, _, _ := ParseClosePayload(closeFrame.Payload); closeFrame.Opcode != OpcodeClose || code != CloseProtocolError {
		t.Errorf("got %s code %d, want close 1002", closeFrame, code)
	}

	var perr *ProtocolError
	if err := <-errc; !errors.As(err, &perr) {
		t.Errorf("ReadMessage() error = %v, want *ProtocolError", err)
	}
}

func TestConnRejectsOversizedMessage(t *testing.T) {
	conn, client := newPipe(t)
	clientSend(client, EncodeFrame(OpcodeBinary, bytes.Repeat([]byte{'0'}, 2000), &testMask))

	errc := make(chan error, 1)
	go func() {
		_, _, err := conn.ReadMessage()
		errc <- err
	}()

	closeFrame := readServerFrame(t, client)
	if code, _, _ := ParseClosePayload(closeFrame.Payload); code != CloseMessageTooBig {
		t.Errorf("close code = %d, want 1009", code)
	}
	<-errc
}

func TestConnWritesAreUnmasked(t *testing.T) {
	conn, client := newPipe(t)

	go func() { _ = conn.WriteBinary([]byte("1wise UART0 115200 8N1")) }()
	frame := readServerFrame(t, client)
	if frame.Masked {
		t.Error("server frames must not be masked")
	}
	if frame.Opcode != OpcodeBinary || string(frame.Payload) != "1wise UART0 115200 8N1" {
		t.Errorf("got %s payload %q", frame, frame.Payload)
	}

	go func() { _ = conn.Ping() }()
	if ping := readServerFrame(t, client); ping.Opcode != OpcodePing {
		t.Errorf("got %s, want ping", ping)
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	conn, client := newPipe(t)

	go func() {
		_ = conn.Close(ClosePolicyViolation)
		_ = conn.Close(CloseNormal)
	}()

	frame := readServerFrame(t, client)
	if code, _, _ := ParseClosePayload(frame.Payload); code != ClosePolicyViolation {
		t.Errorf("close code = %d, want 1008", code)
	}
	_ = client.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, err := ReadFrame(client, 0); err == nil {
		t.Error("second Close must not send another frame")
	}
}

func TestConnTransportErrorClosesSession(t *testing.T) {
	conn, client := newPipe(t)
	_ = client.Close()

	_, _, err := conn.ReadMessage()
	if !errors.Is(err, ErrClosed) {
		t.Errorf("ReadMessage() error = %v, want ErrClosed", err)
	}
	if conn.IsOpen() {
		t.Error("transport error should mark the session closed")
	}
}

func TestConnLastSeen(t *testing.T) {
	conn, client := newPipe(t)
	before := conn.LastSeen()
	time.Sleep(5 * time.Millisecond)

	clientSend(client, EncodeFrame(OpcodePong, nil, &testMask), EncodeFrame(OpcodeBinary, []byte("0"), &testMask))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatal(err)
	}
	if !conn.LastSeen().After(before) {
		t.Error("LastSeen did not advance after receiving frames")
	}
}
