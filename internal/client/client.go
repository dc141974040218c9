package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wise/internal/logging"
	"github.com/muurk/wise/internal/uart"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for failed requests
	DefaultMaxRetries = 2

	// DefaultRetryDelay is the default delay between retry attempts
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay is the maximum delay for exponential backoff
	DefaultMaxRetryDelay = 5 * time.Second

	// maxResponseSize bounds a response body read into memory
	maxResponseSize = 64 * 1024
)

// Client talks to the HTTP endpoints of a bridge.
type Client struct {
	// BaseURL is the base URL for the bridge (e.g., "http://192.168.4.1:80")
	BaseURL string

	// Username and Password are sent as HTTP Basic credentials when Username is set
	Username string
	Password string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// MaxRetries is the maximum number of retry attempts for retryable failures
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts; it doubles up to MaxRetryDelay
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// NewClient creates a client for the bridge at host:port.
func NewClient(host string, port int) *Client {
	return NewClientWithURL("http://" + net.JoinHostPort(host, strconv.Itoa(port)))
}

// NewClientWithURL creates a new client with a full base URL
func NewClientWithURL(baseURL string) *Client {
	return &Client{
		BaseURL:       baseURL,
		HTTPClient:    &http.Client{Timeout: DefaultTimeout},
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// SetAuth sets HTTP Basic credentials
func (c *Client) SetAuth(username, password string) {
	c.Username = username
	c.Password = password
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

// SttyRequest is a partial terminal update. Nil fields are left unchanged.
type SttyRequest struct {
	BaudRate *int `json:"baudrate,omitempty"`
	Bits     *int `json:"bits,omitempty"`
	Parity   *int `json:"parity,omitempty"`
	Stop     *int `json:"stop,omitempty"`
}

// IsZero reports whether the request changes nothing.
func (r SttyRequest) IsZero() bool {
	return r.BaudRate == nil && r.Bits == nil && r.Parity == nil && r.Stop == nil
}

// Token fetches the WebSocket session token; it is empty when the bridge
// does not require one.
func (c *Client) Token(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/token", nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token *string `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", parseError("failed to parse token response", err)
	}
	if resp.Token == nil {
		return "", parseError("token response has no token field", nil)
	}
	return *resp.Token, nil
}

// Stty applies req and returns the resulting terminal configuration. A zero
// request only reads the current one.
func (c *Client) Stty(ctx context.Context, req SttyRequest) (uart.Config, error) {
	method := http.MethodGet
	var payload []byte
	if !req.IsZero() {
		method = http.MethodPost
		var err error
		if payload, err = json.Marshal(req); err != nil {
			return uart.Config{}, fmt.Errorf("failed to encode stty request: %w", err)
		}
	}

	body, err := c.do(ctx, method, "/stty", payload)
	if err != nil {
		return uart.Config{}, err
	}

	var cfg uart.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return uart.Config{}, parseError("failed to parse stty response", err)
	}
	return cfg, nil
}

// Ping checks that the bridge answers /token.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Token(ctx)
	return err
}

// do runs one request with retries and returns the 200 body.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var lastErr error
	delay := c.RetryDelay

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, networkError("request cancelled", ctx.Err())
			case <-time.After(delay):
			}
			if delay *= 2; delay > c.MaxRetryDelay {
				delay = c.MaxRetryDelay
			}
			logging.Debug("Retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		body, err := c.attempt(ctx, method, path, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, networkError(method+" "+path+" failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, networkError("failed to read response body", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusUnauthorized:
		return nil, authError()
	default:
		return nil, httpError(resp.StatusCode, string(body))
	}
}
