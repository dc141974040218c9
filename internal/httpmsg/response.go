package httpmsg

import (
	"fmt"
	"io"
	"strings"

	"github.com/muurk/wise/internal/version"
)

// BodyChunkSize is the largest single write used for a response body.
const BodyChunkSize = 256

// Content types used by the router.
const (
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json;charset=utf-8"
	ContentTypeHTML = "text/html; charset=utf-8"
)

var statusText = map[int]string{
	101: "Switching Protocols",
	200: "OK",
	400: "Bad Request",
	401: "Unauthorized",
	404: "Not Found",
	406: "Not Acceptable",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// StatusText returns the reason phrase for a status code, or "" if unknown.
func StatusText(code int) string {
	return statusText[code]
}

// Header is a single response header line.
type Header struct {
	Name  string
	Value string
}

// Response is an HTTP response written once to a connection.
// There is no automatic Content-Length and no keep-alive: the connection
// closes after every response.
type Response struct {
	Status  int
	Reason  string
	Headers []Header
	Body    []byte
}

// NewResponse creates a response with the mandatory headers. Headers passed
// in replace the defaults of the same name.
func NewResponse(status int, headers ...Header) *Response {
	r := &Response{Status: status}
	r.Set("Server", version.ServerHeader())
	r.Set("Connection", "close")
	r.Set("Content-Type", ContentTypeText)
	for _, h := range headers {
		r.Set(h.Name, h.Value)
	}
	return r
}

// Error creates an error response; its body is "<code> <reason>\n".
func Error(status int, headers ...Header) *Response {
	return NewResponse(status, headers...)
}

// Text creates a plaintext response.
func Text(status int, body string) *Response {
	r := NewResponse(status)
	r.Body = []byte(body)
	return r
}

// JSON creates a response carrying an encoded JSON document.
func JSON(status int, body []byte) *Response {
	r := NewResponse(status, Header{"Content-Type", ContentTypeJSON})
	r.Body = body
	return r
}

// Set replaces the header with the same case-insensitive name, keeping its
// position, or appends it.
func (r *Response) Set(name, value string) {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Name, name) {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// Get returns the value of a header, or "".
func (r *Response) Get(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// WriteTo serializes the response. The body is written in BodyChunkSize
// pieces so a large payload never needs a second buffer.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	reason := r.Reason
	if reason == "" {
		reason = StatusText(r.Status)
	}

	body := r.Body
	if body == nil && r.Status >= 400 {
		body = []byte(fmt.Sprintf("%d %s\n", r.Status, reason))
	}

	var head strings.Builder
	head.WriteString("HTTP/1.1 ")
	fmt.Fprintf(&head, "%d", r.Status)
	if reason != "" {
		head.WriteString(" ")
		head.WriteString(reason)
	}
	head.WriteString("\r\n")
	for _, h := range r.Headers {
		head.WriteString(h.Name)
		head.WriteString(": ")
		head.WriteString(h.Value)
		head.WriteString("\r\n")
	}
	head.WriteString("\r\n")

	var total int64
	n, err := io.WriteString(w, head.String())
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("failed to write response head: %w", err)
	}

	for off := 0; off < len(body); off += BodyChunkSize {
		end := off + BodyChunkSize
		if end > len(body) {
			end = len(body)
		}
		n, err := w.Write(body[off:end])
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("failed to write response body: %w", err)
		}
	}

	return total, nil
}
