package client

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// ErrorKind is the category of a client failure.
type ErrorKind int

const (
	// KindNetwork is a transport failure without a more specific cause
	KindNetwork ErrorKind = iota
	// KindTimeout is a request that did not finish in time
	KindTimeout
	// KindConnectionRefused is a bridge that is up but not listening
	KindConnectionRefused
	// KindDNS is a host name that did not resolve
	KindDNS
	// KindAuth is a 401 from the bridge
	KindAuth
	// KindHTTP is any other unexpected status
	KindHTTP
	// KindRejected is a 400 carrying the bridge's validation message
	KindRejected
	// KindParse is a response body that could not be decoded
	KindParse
)

// String returns a human-readable name for the kind
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "Network Error"
	case KindTimeout:
		return "Timeout"
	case KindConnectionRefused:
		return "Connection Refused"
	case KindDNS:
		return "DNS Error"
	case KindAuth:
		return "Authentication Error"
	case KindHTTP:
		return "HTTP Error"
	case KindRejected:
		return "Rejected"
	case KindParse:
		return "Parse Error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is returned by every Client and Console operation.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int   // HTTP status, when there was a response
	Err        error // underlying cause, if any
	Retryable  bool
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// networkError classifies a transport failure.
func networkError(message string, err error) *Error {
	e := &Error{Kind: KindNetwork, Message: message, Err: err, Retryable: true}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case os.IsTimeout(err):
		e.Kind = KindTimeout
	case errors.As(err, &dnsErr):
		e.Kind = KindDNS
		e.Retryable = false
	case errors.As(err, &opErr) && errors.Is(opErr.Err, syscall.ECONNREFUSED):
		e.Kind = KindConnectionRefused
	}
	return e
}

func authError() *Error {
	return &Error{Kind: KindAuth, Message: "authentication failed (check credentials)", StatusCode: 401}
}

func httpError(status int, body string) *Error {
	if status == 400 {
		return &Error{Kind: KindRejected, Message: strings.TrimSpace(body), StatusCode: status}
	}
	msg := fmt.Sprintf("unexpected status code: %d", status)
	if body = strings.TrimSpace(body); body != "" {
		msg += ": " + body
	}
	return &Error{Kind: KindHTTP, Message: msg, StatusCode: status, Retryable: status >= 500}
}

func parseError(message string, err error) *Error {
	return &Error{Kind: KindParse, Message: message, Err: err}
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// Hint returns a short troubleshooting line for err.
func Hint(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	switch e.Kind {
	case KindTimeout:
		return "The bridge did not respond in time. Check that it is powered and on this network."
	case KindConnectionRefused:
		return "Nothing is listening on that port. Check --port and that wise-server is running."
	case KindDNS:
		return "Could not resolve the bridge name. Try its IP address or run 'wise-cfg discover'."
	case KindAuth:
		return "Pass the HTTP credentials with --user and --password."
	case KindRejected:
		return "The bridge rejected the request and nothing was changed."
	case KindHTTP:
		if e.StatusCode == 503 {
			return "The bridge has no free terminal sessions."
		}
		return ""
	default:
		return ""
	}
}
