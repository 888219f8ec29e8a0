// Package service implements the core forwarding logic shared by all bank routes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"bank-mtls-proxy/internal/model"
)

// forwardableRequestHeaders are the only inbound headers relayed upstream.
// Authorization passes through untouched; the proxy never interprets tokens.
var forwardableRequestHeaders = []string{
	"Authorization",
	"Accept",
	"Accept-Language",
	"X-Conta-Corrente",
	"X-Idempotency-Key",
}

// forwardableResponseHeaders are the only upstream headers relayed to the caller.
// Framing headers (Content-Length, Transfer-Encoding) are left to the server.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Date":             true,
	"Location":         true,
	"X-Request-Id":     true,
	"X-Correlation-Id": true,
}

const userAgent = "bank-mtls-proxy/1.0"

// Executor performs a single mTLS round trip to an upstream bank.
type Executor interface {
	Execute(ctx context.Context, bank model.Bank, env model.Environment, req *model.ForwardRequest) (*model.ForwardResponse, error)
}

// ForwardService relays ForwardRequests through an Executor.
type ForwardService struct {
	exec   Executor
	logger *slog.Logger
}

// NewForwardService creates a ForwardService.
func NewForwardService(exec Executor, logger *slog.Logger) *ForwardService {
	return &ForwardService{
		exec:   exec,
		logger: logger.With("component", "forward_service"),
	}
}

// Forward sends req to bank in env. The status code and body of the result
// are the upstream's, unchanged; only response headers are filtered.
func (s *ForwardService) Forward(ctx context.Context, bank model.Bank, env model.Environment, req *model.ForwardRequest) (*model.ForwardResponse, error) {
	s.logger.Debug("forwarding request",
		"bank", bank,
		"env", env,
		"method", req.Method,
		"path", pathOnly(req.Path),
	)

	resp, err := s.exec.Execute(ctx, bank, env, req)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", bank, err)
	}
	resp.Header = FilterResponseHeaders(resp.Header)
	return resp, nil
}

// FilterRequestHeaders copies the forwardable subset of src and sets User-Agent.
func FilterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	dst.Set("User-Agent", userAgent)
	return dst
}

// FilterResponseHeaders copies the relayable subset of src.
func FilterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

// UpstreamPath appends path-escaped segments to base, so caller-supplied
// values cannot introduce extra path segments or a query string.
func UpstreamPath(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(base, "/"))
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// WithQuery appends the encoded query to path. Empty values are omitted.
func WithQuery(path string, q url.Values) string {
	clean := make(url.Values, len(q))
	for k, vals := range q {
		for _, v := range vals {
			if v != "" {
				clean.Add(k, v)
			}
		}
	}
	if len(clean) == 0 {
		return path
	}
	return path + "?" + clean.Encode()
}

// pathOnly strips the query string, which may carry account data, for logging.
func pathOnly(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
