package httpmsg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// MaxLineLength bounds a request or header line.
	MaxLineLength = 4096

	// MaxHeaders bounds the number of header lines in one request.
	MaxHeaders = 64
)

// Request methods the router distinguishes. Anything else is kept verbatim.
const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

var (
	// ErrMalformedRequestLine is returned when the request line does not have
	// exactly three space separated tokens. The connection must be dropped
	// without a response.
	ErrMalformedRequestLine = errors.New("malformed request line")

	// ErrLineTooLong is returned when a line exceeds MaxLineLength.
	ErrLineTooLong = errors.New("request line or header too long")

	// ErrTooManyHeaders is returned when a request exceeds MaxHeaders.
	ErrTooManyHeaders = errors.New("too many header lines")

	// ErrBodyTooLarge is returned by ReadBody when Content-Length exceeds the limit.
	ErrBodyTooLarge = errors.New("request body too large")
)

// Request is one parsed HTTP/1.x request head. It is never modified after
// ReadRequest returns.
type Request struct {
	Method   string
	Path     string
	Version  string
	Query    map[string]string
	Fragment string
	Headers  map[string]string // keys are lower-case
}

// Header returns a header value by case-insensitive name.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// HasHeader reports whether the header was sent at all.
func (r *Request) HasHeader(name string) bool {
	_, ok := r.Headers[strings.ToLower(name)]
	return ok
}

// ReadRequest reads exactly one request head from br.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read request line: %w", err)
	}

	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRequestLine, line)
	}

	req := &Request{
		Method:  parts[0],
		Version: parts[2],
		Query:   make(map[string]string),
		Headers: make(map[string]string),
	}
	req.Path, req.Query, req.Fragment = splitTarget(parts[1])

	for count := 0; ; count++ {
		line, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		if line == "" {
			break
		}
		if count >= MaxHeaders {
			return nil, ErrTooManyHeaders
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	return req, nil
}

// splitTarget splits "/path?a=1&b=2#frag" into its parts.
func splitTarget(target string) (path string, query map[string]string, fragment string) {
	query = make(map[string]string)

	path, rawQuery, _ := strings.Cut(target, "?")
	if rawQuery == "" {
		return path, query, ""
	}

	rawQuery, fragment, _ = strings.Cut(rawQuery, "#")
	if rawQuery == "" {
		return path, query, fragment
	}

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		query[key] = value
	}
	return path, query, fragment
}

// readLine reads one CRLF or LF terminated line without its terminator.
func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return "", err
		}
		buf = append(buf, chunk...)
		if len(buf) > MaxLineLength {
			return "", ErrLineTooLong
		}
		if !isPrefix {
			return string(buf), nil
		}
	}
}

// ReadBody reads the request body. With a Content-Length header it reads
// exactly that many bytes, refusing more than limit. Without one it takes
// what is already buffered or, when nothing is, waits for a single read of
// up to limit bytes. A peer that closes without sending yields an empty body.
func ReadBody(br *bufio.Reader, req *Request, limit int) ([]byte, error) {
	if raw := req.Header("Content-Length"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid Content-Length %q", raw)
		}
		if n > limit {
			return nil, fmt.Errorf("%w: %d > %d", ErrBodyTooLarge, n, limit)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		return body, nil
	}

	n := br.Buffered()
	if n == 0 {
		body := make([]byte, limit)
		n, err := br.Read(body)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		return body[:n], nil
	}

	if n > limit {
		n = limit
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
