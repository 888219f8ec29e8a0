// Package credential holds the per-bank mTLS client identities and hostnames.
//
// A Store is immutable after construction and safe for concurrent use without
// locking. Certificates and keys are kept in their base64 transport form and
// decoded on every use, so repeated decodes always yield the same identity.
package credential

import (
	"crypto/tls"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"

	"bank-mtls-proxy/internal/config"
	"bank-mtls-proxy/internal/model"
)

// ErrNotConfigured is wrapped by ConfigError when a required value is absent.
var ErrNotConfigured = errors.New("not configured")

// ConfigError reports a missing or malformed credential or hostname for a bank.
type ConfigError struct {
	Bank  model.Bank
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("credential %s/%s: %v", e.Bank, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Identity is one bank's client certificate, key and hostnames.
type Identity struct {
	CertificateBase64 string
	KeyBase64         string
	ProductionHost    string
	StagingHost       string
}

// Presence reports whether a bank's credentials are set, without decoding them.
type Presence struct {
	HasCert bool `json:"hasCert"`
	HasKey  bool `json:"hasKey"`
}

// Store maps banks to their identities.
type Store struct {
	identities map[model.Bank]Identity
}

// NewStore creates a Store from a copy of identities.
func NewStore(identities map[model.Bank]Identity) *Store {
	m := make(map[model.Bank]Identity, len(identities))
	for b, id := range identities {
		m[b] = id
	}
	return &Store{identities: m}
}

// NewStoreFromConfig creates a Store holding every bank in cfg.Banks.
func NewStoreFromConfig(cfg *config.Config) *Store {
	return NewStore(map[model.Bank]Identity{
		model.BankInter:  identityFromConfig(cfg.Banks.Inter),
		model.BankSicoob: identityFromConfig(cfg.Banks.Sicoob),
	})
}

func identityFromConfig(b config.BankConfig) Identity {
	return Identity{
		CertificateBase64: b.CertificateBase64,
		KeyBase64:         b.KeyBase64,
		ProductionHost:    b.ProductionHost,
		StagingHost:       b.StagingHost,
	}
}

// Banks returns the configured banks in a stable order.
func (s *Store) Banks() []model.Bank {
	banks := make([]model.Bank, 0, len(s.identities))
	for b := range s.identities {
		banks = append(banks, b)
	}
	sort.Slice(banks, func(i, j int) bool { return banks[i] < banks[j] })
	return banks
}

// Presence reports whether bank has a certificate and key set.
func (s *Store) Presence(bank model.Bank) Presence {
	id := s.identities[bank]
	return Presence{
		HasCert: strings.TrimSpace(id.CertificateBase64) != "",
		HasKey:  strings.TrimSpace(id.KeyBase64) != "",
	}
}

// MultiEnvironment reports whether bank has a staging host distinct from production.
func (s *Store) MultiEnvironment(bank model.Bank) bool {
	id := s.identities[bank]
	return id.StagingHost != "" && id.StagingHost != id.ProductionHost
}

// Host resolves the hostname for bank in env. Staging falls back to the
// production host when the bank has no staging host.
func (s *Store) Host(bank model.Bank, env model.Environment) (string, error) {
	id, ok := s.identities[bank]
	if !ok {
		return "", &ConfigError{Bank: bank, Field: "bank", Err: ErrNotConfigured}
	}
	if env == model.EnvStaging && id.StagingHost != "" {
		return id.StagingHost, nil
	}
	if id.ProductionHost == "" {
		return "", &ConfigError{Bank: bank, Field: "production_host", Err: ErrNotConfigured}
	}
	return id.ProductionHost, nil
}

// KeyPair decodes the PEM certificate and key of bank.
func (s *Store) KeyPair(bank model.Bank) (certPEM, keyPEM []byte, err error) {
	id, ok := s.identities[bank]
	if !ok {
		return nil, nil, &ConfigError{Bank: bank, Field: "bank", Err: ErrNotConfigured}
	}
	certPEM, err = decodePEM(id.CertificateBase64)
	if err != nil {
		return nil, nil, &ConfigError{Bank: bank, Field: "certificate", Err: err}
	}
	keyPEM, err = decodePEM(id.KeyBase64)
	if err != nil {
		return nil, nil, &ConfigError{Bank: bank, Field: "key", Err: err}
	}
	return certPEM, keyPEM, nil
}

// Certificate returns the parsed client certificate of bank, paired with its key.
func (s *Store) Certificate(bank model.Bank) (tls.Certificate, error) {
	certPEM, keyPEM, err := s.KeyPair(bank)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, &ConfigError{Bank: bank, Field: "key_pair", Err: err}
	}
	return cert, nil
}

// decodePEM decodes a base64 value and checks it holds at least one PEM block.
// Whitespace is ignored since environment values are often line-wrapped.
func decodePEM(encoded string) ([]byte, error) {
	cleaned := strings.Join(strings.Fields(encoded), "")
	if cleaned == "" {
		return nil, ErrNotConfigured
	}
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if block, _ := pem.Decode(raw); block == nil {
		return nil, errors.New("decoded value is not PEM")
	}
	return raw, nil
}
