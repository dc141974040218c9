package httpmsg

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// BasicAuth checks the Authorization header against fixed credentials.
// The zero value (or nil) accepts every request.
type BasicAuth struct {
	expected string
	realm    string
}

// NewBasicAuth precomputes the expected "Basic <base64(user:pass)>" value.
func NewBasicAuth(user, password, realm string) *BasicAuth {
	return &BasicAuth{
		expected: "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password)),
		realm:    realm,
	}
}

// Enabled reports whether requests are checked at all.
func (a *BasicAuth) Enabled() bool {
	return a != nil && a.expected != ""
}

// Check reports whether req carries the expected credentials. A missing
// header is a rejection.
func (a *BasicAuth) Check(req *Request) bool {
	if !a.Enabled() {
		return true
	}
	got, ok := req.Headers["authorization"]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.expected)) == 1
}

// Challenge builds the 401 response asking the client to authenticate.
func (a *BasicAuth) Challenge() *Response {
	return Error(401, Header{"WWW-Authenticate", fmt.Sprintf("Basic realm=%q", a.realm)})
}
