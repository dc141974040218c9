package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/wise/internal/bridge"
	"github.com/muurk/wise/internal/firewall"
	"github.com/muurk/wise/internal/httpmsg"
	"github.com/muurk/wise/internal/uart"
)

type testServer struct {
	srv    *Server
	bridge *bridge.Bridge
	addr   string
	stop   func()
}

func startServer(t *testing.T, cfg Config, opts bridge.Options) *testServer {
	t.Helper()

	port := uart.NewLoopback(10 * time.Millisecond)
	if opts.Hostname == "" {
		opts.Hostname = "wise"
	}
	b, err := bridge.New(port, uart.DefaultConfig(), opts)
	if err != nil {
		t.Fatalf("bridge.New() error = %v", err)
	}

	cfg.Host = "127.0.0.1"
	if cfg.Realm == "" {
		cfg.Realm = opts.Hostname
	}
	srv := New(cfg, b)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve() did not return after cancel")
		}
		_ = port.Close()
	}
	t.Cleanup(stop)

	return &testServer{srv: srv, bridge: b, addr: srv.Addr().String(), stop: stop}
}

// roundTrip writes a raw request and returns everything the server sends
// before closing.
func roundTrip(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return string(data)
}

func statusLine(resp string) string {
	line, _, _ := strings.Cut(resp, "\r\n")
	return line
}

func body(resp string) string {
	_, b, _ := strings.Cut(resp, "\r\n\r\n")
	return b
}

func post(path, payload string) string {
	return "POST " + path + " HTTP/1.1\r\nHost: wise\r\nContent-Length: " +
		strconv.Itoa(len(payload)) + "\r\n\r\n" + payload
}

func TestRoutes(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{})

	tests := []struct {
		name       string
		request    string
		wantStatus string
		wantBody   string
	}{
		{
			name:       "token without auth",
			request:    "GET /token HTTP/1.1\r\n\r\n",
			wantStatus: "HTTP/1.1 200 OK",
			wantBody:   `{"token":""}`,
		},
		{
			name:       "describe terminal",
			request:    "GET /stty HTTP/1.1\r\n\r\n",
			wantStatus: "HTTP/1.1 200 OK",
			wantBody:   `{"baudrate":115200,"bits":8,"parity":-1,"stop":1}`,
		},
		{
			name:       "stty rejects bad parity",
			request:    post("/stty", `{"parity": 7}`),
			wantStatus: "HTTP/1.1 400 Bad Request",
		},
		{
			name:       "stty rejects unknown key",
			request:    post("/stty", `{"flow": "rtscts"}`),
			wantStatus: "HTTP/1.1 400 Bad Request",
		},
		{
			name:       "unknown path",
			request:    "GET /admin HTTP/1.1\r\n\r\n",
			wantStatus: "HTTP/1.1 404 Not Found",
			wantBody:   "404 Not Found\n",
		},
		{
			name:       "token is GET only",
			request:    "POST /token HTTP/1.1\r\n\r\n",
			wantStatus: "HTTP/1.1 404 Not Found",
		},
		{
			name:       "unsupported method",
			request:    "DELETE /stty HTTP/1.1\r\n\r\n",
			wantStatus: "HTTP/1.1 400 Bad Request",
		},
		{
			name:       "index without gzip",
			request:    "GET / HTTP/1.1\r\n\r\n",
			wantStatus: "HTTP/1.1 406 Not Acceptable",
		},
		{
			name:       "index refusing gzip",
			request:    "GET /index.html HTTP/1.1\r\nAccept-Encoding: gzip;q=0, identity\r\n\r\n",
			wantStatus: "HTTP/1.1 406 Not Acceptable",
		},
		{
			name:       "handshake without subprotocol",
			request:    "GET /ws HTTP/1.1\r\nConnection: Upgrade\r\nUpgrade: websocket\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n",
			wantStatus: "HTTP/1.1 400 Bad Request",
		},
		{
			name:       "plain GET on ws",
			request:    "GET /ws HTTP/1.1\r\n\r\n",
			wantStatus: "HTTP/1.1 400 Bad Request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, ts.addr, tt.request)
			if got := statusLine(resp); got != tt.wantStatus {
				t.Errorf("status = %q, want %q", got, tt.wantStatus)
			}
			if !strings.Contains(resp, "\r\nServer: Wi-Se/") {
				t.Errorf("response lacks Server header:\n%s", resp)
			}
			if !strings.Contains(resp, "\r\nConnection: close\r\n") {
				t.Errorf("response lacks Connection: close:\n%s", resp)
			}
			if tt.wantBody != "" && body(resp) != tt.wantBody {
				t.Errorf("body = %q, want %q", body(resp), tt.wantBody)
			}
		})
	}

	if got := ts.bridge.TermConfig(); got != uart.DefaultConfig() {
		t.Errorf("rejected updates changed the terminal: %+v", got)
	}
}

func TestSttyUpdate(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{})

	resp := roundTrip(t, ts.addr, post("/stty", `{"baudrate": 9600}`))
	if got := statusLine(resp); got != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q\n%s", got, resp)
	}
	if want := `{"baudrate":9600,"bits":8,"parity":-1,"stop":1}`; body(resp) != want {
		t.Errorf("body = %q, want %q", body(resp), want)
	}
	if !strings.Contains(resp, "Content-Type: "+httpmsg.ContentTypeJSON) {
		t.Errorf("missing JSON content type:\n%s", resp)
	}
	if got := ts.bridge.TermConfig().BaudRate; got != 9600 {
		t.Errorf("BaudRate = %d, want 9600", got)
	}
}

func TestSttyBodyInLaterSegment(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{})

	conn, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := io.WriteString(conn, "POST /stty HTTP/1.1\r\nHost: wise\r\n\r\n"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := io.WriteString(conn, `{"baudrate": 9600}`); err != nil {
		t.Fatal(err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	resp := string(data)
	if got := statusLine(resp); got != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q\n%s", got, resp)
	}
	if want := `{"baudrate":9600,"bits":8,"parity":-1,"stop":1}`; body(resp) != want {
		t.Errorf("body = %q, want %q", body(resp), want)
	}
	if got := ts.bridge.TermConfig().BaudRate; got != 9600 {
		t.Errorf("BaudRate = %d, want 9600", got)
	}
}

func TestIndexServesGzip(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{})

	resp := roundTrip(t, ts.addr, "GET / HTTP/1.1\r\nAccept-Encoding: deflate, gzip\r\n\r\n")
	if got := statusLine(resp); got != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q", got)
	}
	if !strings.Contains(resp, "\r\nContent-Encoding: gzip\r\n") {
		t.Errorf("missing Content-Encoding:\n%s", resp)
	}

	zr, err := gzip.NewReader(strings.NewReader(body(resp)))
	if err != nil {
		t.Fatalf("body is not gzip: %v", err)
	}
	page, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(page, []byte("xterm")) {
		t.Error("page does not load xterm.js")
	}
}

func TestMalformedRequestGetsNoResponse(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{})

	for _, request := range []string{"GARBAGE\r\n\r\n", "GET /\r\n\r\n", "GET / HTTP/1.1 extra\r\n\r\n"} {
		if resp := roundTrip(t, ts.addr, request); resp != "" {
			t.Errorf("request %q got response %q, want none", request, resp)
		}
	}
}

func TestFilterRefusesLoopbackPeer(t *testing.T) {
	ts := startServer(t, Config{Filter: firewall.Filter{PrivateOnly: true}}, bridge.Options{})

	if resp := roundTrip(t, ts.addr, "GET /token HTTP/1.1\r\n\r\n"); resp != "" {
		t.Errorf("refused peer got %q, want nothing", resp)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := startServer(t, Config{
		BasicAuth: httpmsg.NewBasicAuth("admin", "secret", "lab"),
		Realm:     "lab",
	}, bridge.Options{Token: "s3cr3tt0ken12345"})

	resp := roundTrip(t, ts.addr, "GET /token HTTP/1.1\r\n\r\n")
	if got := statusLine(resp); got != "HTTP/1.1 401 Unauthorized" {
		t.Errorf("status = %q, want 401", got)
	}
	if !strings.Contains(resp, "\r\nWWW-Authenticate: Basic realm=\"lab\"\r\n") {
		t.Errorf("missing challenge:\n%s", resp)
	}

	wrong := base64.StdEncoding.EncodeToString([]byte("admin:guess"))
	resp = roundTrip(t, ts.addr, "GET /token HTTP/1.1\r\nAuthorization: Basic "+wrong+"\r\n\r\n")
	if got := statusLine(resp); got != "HTTP/1.1 401 Unauthorized" {
		t.Errorf("wrong password status = %q, want 401", got)
	}

	good := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	resp = roundTrip(t, ts.addr, "GET /token HTTP/1.1\r\nAuthorization: Basic "+good+"\r\n\r\n")
	if got := statusLine(resp); got != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q, want 200", got)
	}
	if want := `{"token":"s3cr3tt0ken12345"}`; body(resp) != want {
		t.Errorf("body = %q, want %q", body(resp), want)
	}
}

func dialTerminal(t *testing.T, addr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{
		Subprotocols:     []string{"tty"},
		HandshakeTimeout: 3 * time.Second,
	}
	return dialer.Dial("ws://"+addr+"/ws", header)
}

func readFrame(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	typ, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if typ != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", typ)
	}
	return string(data)
}

func TestTerminalSessionEndToEnd(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{
		Hostname:    "bench",
		UARTID:      1,
		Preferences: map[string]interface{}{"disableLeaveAlert": true},
	})

	c, resp, err := dialTerminal(t, ts.addr, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != "tty" {
		t.Errorf("Sec-WebSocket-Protocol = %q, want tty", got)
	}
	if got := readFrame(t, c); got != "1bench UART1 115200 8N1" {
		t.Errorf("first frame = %q, want title", got)
	}
	if got := readFrame(t, c); got != `2{"disableLeaveAlert":true}` {
		t.Errorf("second frame = %q, want preferences", got)
	}

	if err := c.WriteMessage(websocket.BinaryMessage, []byte("0hello")); err != nil {
		t.Fatal(err)
	}
	var echoed strings.Builder
	for echoed.Len() < len("hello") {
		frame := readFrame(t, c)
		if !strings.HasPrefix(frame, "0") {
			t.Fatalf("unexpected frame %q", frame)
		}
		echoed.WriteString(frame[1:])
	}
	if echoed.String() != "hello" {
		t.Errorf("echo = %q, want hello", echoed.String())
	}

	resp2 := roundTrip(t, ts.addr, post("/stty", `{"bits": 7, "parity": 0}`))
	if got := statusLine(resp2); got != "HTTP/1.1 200 OK" {
		t.Fatalf("stty status = %q", got)
	}
	if got := readFrame(t, c); got != "1bench UART1 115200 7E1" {
		t.Errorf("title after stty = %q", got)
	}
}

func TestTerminalSessionToken(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{Token: "AAAAAAAAAAAAAAAA"})

	c, _, err := dialTerminal(t, ts.addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"AuthToken":"AAAAAAAAAAAAAAAA"}`)); err != nil {
		t.Fatal(err)
	}
	if got := readFrame(t, c); !strings.HasPrefix(got, "1wise UART0") {
		t.Errorf("first frame = %q, want title", got)
	}

	bad, _, err := dialTerminal(t, ts.addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Close()
	if err := bad.WriteMessage(websocket.TextMessage, []byte(`{"AuthToken":"nope"}`)); err != nil {
		t.Fatal(err)
	}
	_ = bad.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = bad.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("ReadMessage() error = %v, want close 1008", err)
	}
}

func TestBridgeFullAnswers503(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{MaxClients: 1})

	first, _, err := dialTerminal(t, ts.addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	_, resp, err := dialTerminal(t, ts.addr, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("second Dial() error = %v, want bad handshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("second Dial() response = %v, want 503", resp)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	ts := startServer(t, Config{}, bridge.Options{})

	c, _, err := dialTerminal(t, ts.addr, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	readFrame(t, c)
	readFrame(t, c)

	ts.stop()

	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want close 1001", err)
	}
	if n := ts.srv.ActiveConnections(); n != 0 {
		t.Errorf("ActiveConnections() = %d after shutdown", n)
	}
	if _, err := net.DialTimeout("tcp", ts.addr, time.Second); err == nil {
		t.Error("listener still accepting after shutdown")
	}
}

func TestAcceptsGzip(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"gzip", true},
		{"deflate, gzip", true},
		{"GZIP;q=0.5", true},
		{"*", true},
		{"gzip;q=0", false},
		{"gzip; q=0.0", false},
		{"deflate, br", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := acceptsGzip(tt.header); got != tt.want {
			t.Errorf("acceptsGzip(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
