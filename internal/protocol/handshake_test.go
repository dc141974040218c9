package protocol

import (
	"bufio"
	"errors"
	"strings"
	"testing"

	"github.com/muurk/wise/internal/httpmsg"
)

const sampleUpgrade = "GET /ws?a=1&b=2#frag HTTP/1.1\r\n" +
	"Host: x\r\n" +
	"Connection: upgrade\r\n" +
	"Upgrade: websocket\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Protocol: tty\r\n" +
	"\r\n"

func parseRequest(t *testing.T, raw string) *httpmsg.Request {
	t.Helper()
	req, err := httpmsg.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	return req
}

func TestAcceptKey(t *testing.T) {
	if got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("AcceptKey() = %q, want s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got)
	}
}

func TestHandshakeSuccess(t *testing.T) {
	resp, err := Handshake(parseRequest(t, sampleUpgrade), Subprotocol)
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if resp.Status != 101 {
		t.Errorf("status = %d, want 101", resp.Status)
	}

	want := map[string]string{
		"Upgrade":                "websocket",
		"Connection":             "Upgrade",
		"Sec-WebSocket-Accept":   "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=",
		"Sec-WebSocket-Protocol": "tty",
		"Sec-WebSocket-Version":  "13",
	}
	for name, value := range want {
		if got := resp.Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
}

func TestHandshakeCaseInsensitiveHeaders(t *testing.T) {
	raw := "GET /ws HTTP/1.1\r\n" +
		"connection: keep-alive, Upgrade\r\n" +
		"UPGRADE: WebSocket\r\n" +
		"sec-websocket-key: abc\r\n" +
		"sec-websocket-protocol: tty\r\n\r\n"
	if _, err := Handshake(parseRequest(t, raw), Subprotocol); err != nil {
		t.Errorf("Handshake() error = %v", err)
	}
}

func TestHandshakeRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(string) string
	}{
		{"missing subprotocol", func(s string) string {
			return strings.Replace(s, "Sec-WebSocket-Protocol: tty\r\n", "", 1)
		}},
		{"wrong subprotocol", func(s string) string {
			return strings.Replace(s, "Sec-WebSocket-Protocol: tty", "Sec-WebSocket-Protocol: chat", 1)
		}},
		{"missing key", func(s string) string {
			return strings.Replace(s, "Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n", "", 1)
		}},
		{"wrong upgrade", func(s string) string {
			return strings.Replace(s, "Upgrade: websocket", "Upgrade: h2c", 1)
		}},
		{"no upgrade token in connection", func(s string) string {
			return strings.Replace(s, "Connection: upgrade", "Connection: keep-alive", 1)
		}},
		{"post method", func(s string) string {
			return strings.Replace(s, "GET /ws", "POST /ws", 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Handshake(parseRequest(t, tt.mutate(sampleUpgrade)), Subprotocol)
			if !errors.Is(err, ErrBadHandshake) {
				t.Errorf("Handshake() error = %v, want ErrBadHandshake", err)
			}
			if resp != nil {
				t.Error("rejected handshake must not produce a 101 response")
			}
		})
	}
}
