// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/bank-mtls-proxy/config.toml",
	"configs/config.toml",
}

// placeholderSecret is the value shipped in example configs.
const placeholderSecret = "CHANGE_ME"

// Default upstream hostnames.
const (
	DefaultInterProductionHost  = "cdpj.partners.bancointer.com.br"
	DefaultSicoobProductionHost = "api.sicoob.com.br"
	DefaultSicoobStagingHost    = "sandbox.sicoob.com.br"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Secret   string `kong:"help='Shared secret expected in X-Proxy-Secret (overrides config).',env='PROXY_SECRET'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	InterCertificate  string `kong:"name='inter-certificate',help='Base64 PEM client certificate for Banco Inter.',env='INTER_CERTIFICATE_BASE64'"`
	InterKey          string `kong:"name='inter-key',help='Base64 PEM private key for Banco Inter.',env='INTER_KEY_BASE64'"`
	SicoobCertificate string `kong:"name='sicoob-certificate',help='Base64 PEM client certificate for Sicoob.',env='SICOOB_CERTIFICATE_BASE64'"`
	SicoobKey         string `kong:"name='sicoob-key',help='Base64 PEM private key for Sicoob.',env='SICOOB_KEY_BASE64'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Banks    BanksConfig    `toml:"banks"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// ProxyConfig holds inbound authentication settings.
type ProxyConfig struct {
	Secret string `toml:"secret"`
}

// BanksConfig holds one BankConfig per supported upstream.
type BanksConfig struct {
	Inter  BankConfig `toml:"inter"`
	Sicoob BankConfig `toml:"sicoob"`
}

// BankConfig holds the client identity and hostnames of one upstream bank.
// Certificate and key are base64-encoded PEM.
type BankConfig struct {
	CertificateBase64 string `toml:"certificate_base64"`
	KeyBase64         string `toml:"key_base64"`
	ProductionHost    string `toml:"production_host"`
	StagingHost       string `toml:"staging_host"` // empty: bank has a single environment
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds int  `toml:"timeout_seconds"`
	ExposeErrors   bool `toml:"expose_errors"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/bank-mtls-proxy/config.toml then configs/config.toml. Running without
// a file is allowed; everything can come from flags and environment.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Secret != "" {
		c.Proxy.Secret = cli.Secret
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.InterCertificate != "" {
		c.Banks.Inter.CertificateBase64 = cli.InterCertificate
	}
	if cli.InterKey != "" {
		c.Banks.Inter.KeyBase64 = cli.InterKey
	}
	if cli.SicoobCertificate != "" {
		c.Banks.Sicoob.CertificateBase64 = cli.SicoobCertificate
	}
	if cli.SicoobKey != "" {
		c.Banks.Sicoob.KeyBase64 = cli.SicoobKey
	}
}

func (c *Config) validate() error {
	switch c.Proxy.Secret {
	case "":
		return errors.New("proxy.secret is required (or set PROXY_SECRET)")
	case placeholderSecret:
		return errors.New("proxy.secret contains placeholder value; set a real secret")
	}

	for name, b := range map[string]BankConfig{"inter": c.Banks.Inter, "sicoob": c.Banks.Sicoob} {
		if err := validHost(b.ProductionHost); err != nil {
			return fmt.Errorf("banks.%s.production_host: %w", name, err)
		}
		if err := validHost(b.StagingHost); err != nil {
			return fmt.Errorf("banks.%s.staging_host: %w", name, err)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range ReservedPrefixes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// ReservedPrefixes are the route prefixes owned by the proxy itself.
var ReservedPrefixes = []string{"/inter", "/sicoob", "/health", "/status"}

// validHost accepts an empty string or a bare hostname: no scheme, port or path.
func validHost(h string) error {
	if h == "" {
		return nil
	}
	if strings.ContainsAny(h, "/:?#@ ") {
		return fmt.Errorf("must be a bare hostname; got %q", h)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// Credentials are never defaulted: an absent certificate is reported by the
// health check and fails the bank's requests at call time.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 << 20 // 1 MiB
	}
	if c.Banks.Inter.ProductionHost == "" {
		c.Banks.Inter.ProductionHost = DefaultInterProductionHost
	}
	if c.Banks.Sicoob.ProductionHost == "" {
		c.Banks.Sicoob.ProductionHost = DefaultSicoobProductionHost
	}
	if c.Banks.Sicoob.StagingHost == "" {
		c.Banks.Sicoob.StagingHost = DefaultSicoobStagingHost
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may carry the shared secret and private keys.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
