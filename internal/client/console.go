package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/wise/internal/logging"
)

// EscapeByte ends a console session when typed (Ctrl-]).
const EscapeByte = 0x1d

// ttyd commands, duplicated here so the client does not depend on the
// server packages.
const (
	cmdInput  = '0'
	cmdResize = '1'

	cmdOutput = '0'
	cmdTitle  = '1'
	cmdPrefs  = '2'
)

const consoleWriteTimeout = 10 * time.Second

// Console is an interactive terminal session with a bridge.
type Console struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	// OnTitle is called with every window title the bridge sends
	OnTitle func(title string)

	// OnPreferences is called with the client preferences object
	OnPreferences func(prefs map[string]interface{})
}

// DialConsole opens /ws with the tty sub-protocol and authenticates with
// the session token from /token.
func (c *Client) DialConsole(ctx context.Context) (*Console, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	header := http.Header{}
	if c.Username != "" {
		req := &http.Request{Header: header}
		req.SetBasicAuth(c.Username, c.Password)
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{"tty"},
		HandshakeTimeout: c.HTTPClient.Timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, authError()
			default:
				return nil, httpError(resp.StatusCode, "")
			}
		}
		return nil, networkError("websocket dial failed", err)
	}

	auth, _ := json.Marshal(map[string]string{"AuthToken": token})
	if err := conn.WriteMessage(websocket.TextMessage, auth); err != nil {
		_ = conn.Close()
		return nil, networkError("failed to send session token", err)
	}

	logging.Debug("Console connected", zap.String("url", u.String()))
	return &Console{conn: conn}, nil
}

// Resize tells the bridge the terminal size. Bridges accept it but may
// ignore it.
func (c *Console) Resize(cols, rows int) error {
	body, _ := json.Marshal(map[string]int{"columns": cols, "rows": rows})
	return c.send(cmdResize, body)
}

func (c *Console) send(cmd byte, body []byte) error {
	msg := make([]byte, 0, len(body)+1)
	msg = append(msg, cmd)
	msg = append(msg, body...)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(consoleWriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// Run copies in to the bridge and bridge output to out until the bridge
// closes the session, in yields EscapeByte or EOF, or ctx ends.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- c.readLoop(out) }()
	go func() { errc <- c.writeLoop(in) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
	}
	_ = c.Close()
	return err
}

func (c *Console) readLoop(out io.Writer) error {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return &Error{Kind: KindAuth, Message: "session token rejected", Err: err}
			}
			return networkError("console read failed", err)
		}
		if len(msg) == 0 {
			continue
		}

		switch msg[0] {
		case cmdOutput:
			if _, err := out.Write(msg[1:]); err != nil {
				return err
			}
		case cmdTitle:
			if c.OnTitle != nil {
				c.OnTitle(string(msg[1:]))
			}
		case cmdPrefs:
			if c.OnPreferences != nil {
				var prefs map[string]interface{}
				if err := json.Unmarshal(msg[1:], &prefs); err == nil {
					c.OnPreferences(prefs)
				}
			}
		}
	}
}

func (c *Console) writeLoop(in io.Reader) error {
	buf := make([]byte, 1024)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			data := buf[:n]
			esc := false
			if i := bytes.IndexByte(data, EscapeByte); i >= 0 {
				data, esc = data[:i], true
			}
			if len(data) > 0 {
				if err := c.send(cmdInput, data); err != nil {
					return networkError("console write failed", err)
				}
			}
			if esc {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Close sends a normal close frame and drops the connection.
func (c *Console) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
