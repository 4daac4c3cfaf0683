package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8090" {
		t.Errorf("expected port 8090, got %s", cfg.Server.Port)
	}
	if cfg.LSP.IdleTimeout != 10*time.Minute {
		t.Errorf("expected idle timeout 10m, got %v", cfg.LSP.IdleTimeout)
	}
	if cfg.LSP.SweepInterval != time.Minute {
		t.Errorf("expected sweep interval 60s, got %v", cfg.LSP.SweepInterval)
	}
	if cfg.LSP.StderrTailBytes != 4096 {
		t.Errorf("expected stderr tail 4096, got %d", cfg.LSP.StderrTailBytes)
	}
	if len(cfg.LSP.Servers) == 0 {
		t.Error("expected built-in server definitions")
	}
	if cfg.NATS.URL != "" {
		t.Errorf("expected NATS disabled by default, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
lsp:
  request_timeout: 5s
  max_diagnostics: 20
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.LSP.RequestTimeout != 5*time.Second {
		t.Errorf("expected request timeout 5s, got %v", cfg.LSP.RequestTimeout)
	}
	if cfg.LSP.MaxDiagnostics != 20 {
		t.Errorf("expected max diagnostics 20, got %d", cfg.LSP.MaxDiagnostics)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.LSP.IdleTimeout != 10*time.Minute {
		t.Errorf("expected default idle timeout, got %v", cfg.LSP.IdleTimeout)
	}
	if len(cfg.LSP.Servers) != len(Defaults().LSP.Servers) {
		t.Errorf("servers should keep defaults when YAML omits them, got %d", len(cfg.LSP.Servers))
	}
}

func TestLoadYAMLServersReplaceDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")
	content := `
lsp:
  servers:
    - id: bsl
      command: ["bsl-language-server"]
      extensions: [".bsl", ".os"]
      priority: 5
      env:
        JAVA_OPTS: "-Xmx2g"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}
	if len(cfg.LSP.Servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(cfg.LSP.Servers))
	}
	s := cfg.LSP.Servers[0]
	if s.ID != "bsl" || s.Priority != 5 || len(s.Extensions) != 2 {
		t.Errorf("unexpected server definition: %+v", s)
	}
	if s.Env["JAVA_OPTS"] != "-Xmx2g" {
		t.Errorf("expected env override, got %v", s.Env)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("CODEINTEL_PORT", "7070")
	t.Setenv("CODEINTEL_LOG_LEVEL", "warn")
	t.Setenv("CODEINTEL_LSP_IDLE_TIMEOUT", "1m")
	t.Setenv("CODEINTEL_LSP_WATCH_DOCUMENTS", "false")
	t.Setenv("CODEINTEL_LSP_WORKSPACE_MARKERS", ".git, go.work ,")
	t.Setenv("NATS_URL", "nats://bus:4222")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.LSP.IdleTimeout != time.Minute {
		t.Errorf("expected idle timeout 1m, got %v", cfg.LSP.IdleTimeout)
	}
	if cfg.LSP.WatchDocuments {
		t.Error("expected watch_documents false")
	}
	if len(cfg.LSP.WorkspaceMarkers) != 2 || cfg.LSP.WorkspaceMarkers[1] != "go.work" {
		t.Errorf("expected [.git go.work], got %v", cfg.LSP.WorkspaceMarkers)
	}
	if cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("expected NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestEnvInvalidValueIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("CODEINTEL_LSP_REQUEST_TIMEOUT", "soon")
	loadEnv(&cfg)
	if cfg.LSP.RequestTimeout != 30*time.Second {
		t.Errorf("invalid duration should keep default, got %v", cfg.LSP.RequestTimeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "zero request timeout",
			modify: func(c *Config) { c.LSP.RequestTimeout = 0 },
			errMsg: "lsp.request_timeout must be > 0",
		},
		{
			name:   "zero sweep interval",
			modify: func(c *Config) { c.LSP.SweepInterval = 0 },
			errMsg: "lsp.sweep_interval must be > 0",
		},
		{
			name:   "zero spawn failures",
			modify: func(c *Config) { c.LSP.SpawnMaxFailures = 0 },
			errMsg: "lsp.spawn_max_failures must be >= 1",
		},
		{
			name:   "zero concurrent spawns",
			modify: func(c *Config) { c.LSP.MaxConcurrentSpawns = 0 },
			errMsg: "lsp.max_concurrent_spawns must be >= 1",
		},
		{
			name: "duplicate server id",
			modify: func(c *Config) {
				c.LSP.Servers = append(c.LSP.Servers, c.LSP.Servers[0])
			},
			errMsg: `lsp.servers: duplicate id "gopls"`,
		},
		{
			name:   "server without command",
			modify: func(c *Config) { c.LSP.Servers[0].Command = nil },
			errMsg: "lsp.servers[gopls].command is required",
		},
		{
			name:   "rate limit without burst",
			modify: func(c *Config) { c.Server.RateBurst = 0 },
			errMsg: "server.rate_burst must be >= 1 when rate limiting is enabled",
		},
		{
			name:   "relative mcp path",
			modify: func(c *Config) { c.MCP.Path = "mcp" },
			errMsg: `mcp.path "mcp" must start with /`,
		},
		{
			name:   "bad log format",
			modify: func(c *Config) { c.Logging.Format = "xml" },
			errMsg: `logging.format "xml" must be json, text or auto`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFrom_FullHierarchy(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CODEINTEL_PORT", "7070")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("env should override YAML: got port %q, want 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("YAML should override defaults: got level %q", cfg.Logging.Level)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte("lsp: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(yamlPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := ParseFlags([]string{"--port", "9090", "--log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}

	if flags.Port == nil || *flags.Port != "9090" {
		t.Errorf("expected port 9090, got %v", flags.Port)
	}
	if flags.LogLevel == nil || *flags.LogLevel != "debug" {
		t.Errorf("expected log-level debug, got %v", flags.LogLevel)
	}
	// Unset flags remain nil
	if flags.NatsURL != nil {
		t.Errorf("expected nil NatsURL, got %v", *flags.NatsURL)
	}
	if flags.ConfigPath != nil {
		t.Errorf("expected nil ConfigPath, got %v", *flags.ConfigPath)
	}
}

func TestParseFlagsShorthand(t *testing.T) {
	flags, err := ParseFlags([]string{"-p", "7070", "-c", "custom.yaml"})
	if err != nil {
		t.Fatal(err)
	}
	if flags.Port == nil || *flags.Port != "7070" {
		t.Errorf("expected port 7070, got %v", flags.Port)
	}
	if flags.ConfigPath == nil || *flags.ConfigPath != "custom.yaml" {
		t.Errorf("expected config custom.yaml, got %v", flags.ConfigPath)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	_, err := ParseFlags([]string{"--unknown-flag"})
	if err == nil {
		t.Error("expected error for unknown flag, got nil")
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("CODEINTEL_PORT", "7070")
	t.Setenv("CODEINTEL_LOG_LEVEL", "warn")

	flags, err := ParseFlags([]string{"--port", "3333", "--log-level", "error", "--config", filepath.Join(t.TempDir(), "none.yaml")})
	if err != nil {
		t.Fatal(err)
	}

	cfg, _, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(yamlPath, []byte("server:\n  port: \"5555\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	flags, err := ParseFlags([]string{"--config", yamlPath})
	if err != nil {
		t.Fatal(err)
	}
	cfg, resolvedPath, err := LoadWithCLI(flags)
	if err != nil {
		t.Fatal(err)
	}
	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}
