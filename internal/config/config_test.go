package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[proxy]
secret = "s3cr3t"

[banks.inter]
certificate_base64 = "Y2VydA=="
key_base64 = "a2V5"
staging_host = "cdpj-sandbox.partners.uatinter.co"

[banks.sicoob]
production_host = "api.example.coop"

[upstream]
timeout_seconds = 15
expose_errors = true

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Proxy.Secret != "s3cr3t" {
		t.Errorf("Proxy.Secret = %q, want %q", cfg.Proxy.Secret, "s3cr3t")
	}
	if cfg.Banks.Inter.CertificateBase64 != "Y2VydA==" {
		t.Errorf("Banks.Inter.CertificateBase64 = %q, want %q", cfg.Banks.Inter.CertificateBase64, "Y2VydA==")
	}
	if cfg.Banks.Inter.ProductionHost != DefaultInterProductionHost {
		t.Errorf("Banks.Inter.ProductionHost = %q, want default %q", cfg.Banks.Inter.ProductionHost, DefaultInterProductionHost)
	}
	if cfg.Banks.Inter.StagingHost != "cdpj-sandbox.partners.uatinter.co" {
		t.Errorf("Banks.Inter.StagingHost = %q", cfg.Banks.Inter.StagingHost)
	}
	if cfg.Banks.Sicoob.ProductionHost != "api.example.coop" {
		t.Errorf("Banks.Sicoob.ProductionHost = %q, want %q", cfg.Banks.Sicoob.ProductionHost, "api.example.coop")
	}
	if cfg.Upstream.TimeoutSeconds != 15 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 15)
	}
	if !cfg.Upstream.ExposeErrors {
		t.Error("Upstream.ExposeErrors = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[proxy]
secret = "s3cr3t"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.BodyMaxBytes != 1<<20 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 1<<20)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Upstream.ExposeErrors {
		t.Error("default Upstream.ExposeErrors = true, want false")
	}
	if cfg.Banks.Inter.StagingHost != "" {
		t.Errorf("default Banks.Inter.StagingHost = %q, want empty", cfg.Banks.Inter.StagingHost)
	}
	if cfg.Banks.Sicoob.StagingHost != DefaultSicoobStagingHost {
		t.Errorf("default Banks.Sicoob.StagingHost = %q, want %q", cfg.Banks.Sicoob.StagingHost, DefaultSicoobStagingHost)
	}
	if cfg.Banks.Inter.CertificateBase64 != "" || cfg.Banks.Inter.KeyBase64 != "" {
		t.Error("credentials must never be defaulted")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_NoFileUsesCLI(t *testing.T) {
	cli := &CLI{
		Config:           "",
		Port:             8080,
		Secret:           "env-secret",
		InterCertificate: "Y2VydA==",
		InterKey:         "a2V5",
	}
	// Point the search at nothing so a stray file on the host cannot interfere.
	orig := configSearchPaths
	configSearchPaths = []string{filepath.Join(t.TempDir(), "missing.toml")}
	t.Cleanup(func() { configSearchPaths = orig })

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Proxy.Secret != "env-secret" {
		t.Errorf("Proxy.Secret = %q, want %q", cfg.Proxy.Secret, "env-secret")
	}
	if cfg.Banks.Inter.KeyBase64 != "a2V5" {
		t.Errorf("Banks.Inter.KeyBase64 = %q, want %q", cfg.Banks.Inter.KeyBase64, "a2V5")
	}
	if cfg.Banks.Sicoob.CertificateBase64 != "" {
		t.Errorf("Banks.Sicoob.CertificateBase64 = %q, want empty", cfg.Banks.Sicoob.CertificateBase64)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[proxy]
secret = "toml-secret"

[banks.sicoob]
certificate_base64 = "dG9tbA=="

[log]
level = "info"
`)

	cli := &CLI{
		Config:            path,
		Host:              "127.0.0.1",
		Port:              3001,
		Secret:            "cli-secret",
		LogLevel:          "debug",
		SicoobCertificate: "Y2xp",
		SicoobKey:         "a2V5",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3001)
	}
	if cfg.Proxy.Secret != "cli-secret" {
		t.Errorf("Proxy.Secret = %q, want %q (CLI override)", cfg.Proxy.Secret, "cli-secret")
	}
	if cfg.Banks.Sicoob.CertificateBase64 != "Y2xp" {
		t.Errorf("Banks.Sicoob.CertificateBase64 = %q, want %q (CLI override)", cfg.Banks.Sicoob.CertificateBase64, "Y2xp")
	}
	if cfg.Banks.Sicoob.KeyBase64 != "a2V5" {
		t.Errorf("Banks.Sicoob.KeyBase64 = %q, want %q (CLI override)", cfg.Banks.Sicoob.KeyBase64, "a2V5")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantSub string
	}{
		{
			name:    "missing secret",
			data:    "[server]\nport = 3000\n",
			wantSub: "proxy.secret is required",
		},
		{
			name:    "placeholder secret",
			data:    "[proxy]\nsecret = \"CHANGE_ME\"\n",
			wantSub: "placeholder",
		},
		{
			name:    "host with scheme",
			data:    "[proxy]\nsecret = \"s\"\n[banks.inter]\nproduction_host = \"https://cdpj.partners.bancointer.com.br\"\n",
			wantSub: "banks.inter.production_host",
		},
		{
			name:    "host with port",
			data:    "[proxy]\nsecret = \"s\"\n[banks.sicoob]\nstaging_host = \"sandbox.sicoob.com.br:8443\"\n",
			wantSub: "banks.sicoob.staging_host",
		},
		{
			name:    "negative port",
			data:    "[proxy]\nsecret = \"s\"\n[server]\nport = -1\n",
			wantSub: "server.port",
		},
		{
			name:    "negative body max",
			data:    "[proxy]\nsecret = \"s\"\n[server]\nbody_max_bytes = -1\n",
			wantSub: "server.body_max_bytes",
		},
		{
			name:    "negative timeout",
			data:    "[proxy]\nsecret = \"s\"\n[upstream]\ntimeout_seconds = -5\n",
			wantSub: "upstream.timeout_seconds",
		},
		{
			name:    "invalid log level",
			data:    "[proxy]\nsecret = \"s\"\n[log]\nlevel = \"verbose\"\n",
			wantSub: "log.level",
		},
		{
			name:    "invalid log format",
			data:    "[proxy]\nsecret = \"s\"\n[log]\nformat = \"xml\"\n",
			wantSub: "log.format",
		},
		{
			name:    "metrics path without slash",
			data:    "[proxy]\nsecret = \"s\"\n[metrics]\nenabled = true\npath = \"metrics\"\n",
			wantSub: "must start with '/'",
		},
		{
			name:    "metrics path shadows bank route",
			data:    "[proxy]\nsecret = \"s\"\n[metrics]\nenabled = true\npath = \"/inter/metrics\"\n",
			wantSub: "conflicts with reserved route",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[proxy]
secret = "s"

[metrics]
enabled = false
path = "/health"
`)

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	(&Config{}).WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[proxy]\nsecret = \"s\"\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "[proxy]\nsecret = \"a\"\n")
	path2 := writeConfig(t, "[proxy]\nsecret = \"b\"\n")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
