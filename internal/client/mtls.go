// Package client provides the upstream mTLS client for the bank APIs.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"bank-mtls-proxy/internal/config"
	"bank-mtls-proxy/internal/credential"
	"bank-mtls-proxy/internal/metrics"
	"bank-mtls-proxy/internal/model"
)

const defaultPort = 443

// NetworkError reports a connection, handshake or transport failure while
// talking to an upstream bank.
type NetworkError struct {
	Bank model.Bank
	Host string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream %s (%s): %v", e.Bank, e.Host, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was the upstream deadline firing.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// MTLSClient sends requests to the bank APIs, presenting the bank's client certificate.
type MTLSClient struct {
	store   *credential.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	rootCAs *x509.CertPool
	port    int
}

// Option configures an MTLSClient.
type Option func(*MTLSClient)

// WithRootCAs replaces the system trust roots used to verify upstream servers.
// Verification itself can never be disabled.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *MTLSClient) { c.rootCAs = pool }
}

// WithPort overrides the upstream port (443).
func WithPort(port int) Option {
	return func(c *MTLSClient) { c.port = port }
}

// NewMTLSClient creates an MTLSClient. The metrics parameter is optional;
// pass nil to disable upstream metrics recording.
func NewMTLSClient(cfg *config.Config, store *credential.Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *MTLSClient {
	c := &MTLSClient{
		store:   store,
		logger:  logger.With("component", "mtls_client"),
		metrics: m,
		timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		port:    defaultPort,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute performs one mTLS round trip to bank in env and returns the fully
// buffered response. Any upstream status, including 4xx and 5xx, is a
// successful result. Credential problems yield *credential.ConfigError before
// any connection is attempted; transport failures yield *NetworkError.
//
// Cancellation of ctx is not propagated: an issued request runs until it
// completes or the configured timeout expires.
func (c *MTLSClient) Execute(ctx context.Context, bank model.Bank, env model.Environment, req *model.ForwardRequest) (*model.ForwardResponse, error) {
	host, err := c.store.Host(bank, env)
	if err != nil {
		c.recordError(bank, "config")
		return nil, err
	}
	cert, err := c.store.Certificate(bank)
	if err != nil {
		c.recordError(bank, "config")
		return nil, err
	}

	transport := c.newTransport(host, cert)
	defer transport.CloseIdleConnections()

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		// Redirects are relayed to the caller, never followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	upstreamReq, err := c.newRequest(context.WithoutCancel(ctx), host, req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upstream request",
		"bank", bank,
		"env", env,
		"host", host,
		"method", req.Method,
	)

	start := time.Now()
	method := metrics.NormalizeMethod(req.Method)
	resp, err := httpClient.Do(upstreamReq)
	if err != nil {
		c.observe(bank, method, start)
		c.recordError(bank, "network")
		return nil, &NetworkError{Bank: bank, Host: host, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	c.observe(bank, method, start)
	if err != nil {
		c.recordError(bank, "network")
		return nil, &NetworkError{Bank: bank, Host: host, Err: fmt.Errorf("read body: %w", err)}
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(string(bank), method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// newTransport builds a call-scoped transport presenting cert to host.
func (c *MTLSClient) newTransport(host string, cert tls.Certificate) *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      c.rootCAs, // nil: system roots
			ServerName:   host,
			MinVersion:   tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 1,
	}
}

func (c *MTLSClient) newRequest(ctx context.Context, host string, req *model.ForwardRequest) (*http.Request, error) {
	addr := host
	if c.port != defaultPort {
		addr = net.JoinHostPort(host, strconv.Itoa(c.port))
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	r, err := http.NewRequestWithContext(ctx, req.Method, "https://"+addr+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build upstream request: %v", model.ErrInvalidRequest, err)
	}

	r.Header = req.Header.Clone()
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	// Framing comes from the body; NewForwardRequest already checked the
	// caller's Content-Length against it.
	r.Header.Del("Content-Length")
	r.ContentLength = int64(len(req.Body))
	return r, nil
}

func (c *MTLSClient) observe(bank model.Bank, method string, start time.Time) {
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(string(bank), method).Observe(time.Since(start).Seconds())
	}
}

func (c *MTLSClient) recordError(bank model.Bank, kind string) {
	if c.metrics != nil {
		c.metrics.UpstreamErrors.WithLabelValues(string(bank), kind).Inc()
	}
}
