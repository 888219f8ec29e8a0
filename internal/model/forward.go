// Package model defines shared types for the proxy.
package model

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrInvalidRequest is returned when a ForwardRequest fails construction-time validation.
var ErrInvalidRequest = errors.New("invalid forward request")

// Bank identifies an upstream banking API.
type Bank string

const (
	BankInter  Bank = "inter"
	BankSicoob Bank = "sicoob"
)

// Environment selects which of a bank's hostnames a request targets.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvStaging    Environment = "staging"
)

// ParseEnvironment maps an inbound header value to an Environment.
// Absent or unrecognized values resolve to production.
func ParseEnvironment(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "staging", "sandbox", "homologacao":
		return EnvStaging
	default:
		return EnvProduction
	}
}

// ForwardRequest is a single request to be relayed to an upstream bank.
// Path already carries any encoded query string.
type ForwardRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// ForwardResponse is the fully buffered upstream response.
type ForwardResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewForwardRequest validates and builds a ForwardRequest.
// A non-empty body requires a Content-Length header equal to its byte length;
// use SetBody to set it.
func NewForwardRequest(method, path string, header http.Header, body []byte) (*ForwardRequest, error) {
	if !validMethod(method) {
		return nil, fmt.Errorf("%w: bad method %q", ErrInvalidRequest, method)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: path must start with '/'; got %q", ErrInvalidRequest, path)
	}
	if header == nil {
		header = make(http.Header)
	}
	if len(body) > 0 {
		cl := header.Get("Content-Length")
		if cl == "" {
			return nil, fmt.Errorf("%w: Content-Length required for %d-byte body", ErrInvalidRequest, len(body))
		}
		n, err := strconv.Atoi(cl)
		if err != nil || n != len(body) {
			return nil, fmt.Errorf("%w: Content-Length %q does not match body length %d", ErrInvalidRequest, cl, len(body))
		}
	}
	return &ForwardRequest{
		Method: method,
		Path:   path,
		Header: header,
		Body:   body,
	}, nil
}

// SetBody sets Content-Type and the exact byte Content-Length for body on header.
func SetBody(header http.Header, contentType string, body []byte) {
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
}

// validMethod reports whether m is a non-empty RFC 7230 token.
func validMethod(m string) bool {
	if m == "" {
		return false
	}
	for i := 0; i < len(m); i++ {
		c := m[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
