package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "codeintel.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	// A servers list in YAML replaces the defaults instead of merging by index.
	var probe struct {
		LSP struct {
			Servers yaml.Node `yaml:"servers"`
		} `yaml:"lsp"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if probe.LSP.Servers.Kind != 0 {
		cfg.LSP.Servers = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CODEINTEL_PORT")
	setString(&cfg.Server.CORSOrigin, "CODEINTEL_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "CODEINTEL_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Server.RateLimit, "CODEINTEL_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "CODEINTEL_RATE_BURST")

	setString(&cfg.Logging.Level, "CODEINTEL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CODEINTEL_LOG_SERVICE")
	setString(&cfg.Logging.Format, "CODEINTEL_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "CODEINTEL_LOG_ASYNC")

	// LSP
	setStrings(&cfg.LSP.WorkspaceMarkers, "CODEINTEL_LSP_WORKSPACE_MARKERS")
	setDuration(&cfg.LSP.RequestTimeout, "CODEINTEL_LSP_REQUEST_TIMEOUT")
	setDuration(&cfg.LSP.StartTimeout, "CODEINTEL_LSP_START_TIMEOUT")
	setDuration(&cfg.LSP.ShutdownTimeout, "CODEINTEL_LSP_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.LSP.PoolShutdownTimeout, "CODEINTEL_LSP_POOL_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.LSP.IdleTimeout, "CODEINTEL_LSP_IDLE_TIMEOUT")
	setDuration(&cfg.LSP.SweepInterval, "CODEINTEL_LSP_SWEEP_INTERVAL")
	setDuration(&cfg.LSP.DiagnosticSettle, "CODEINTEL_LSP_DIAGNOSTIC_SETTLE")
	setDuration(&cfg.LSP.DiagnosticBroadcastDelay, "CODEINTEL_LSP_DIAGNOSTIC_BROADCAST_DELAY")
	setInt(&cfg.LSP.MaxDiagnostics, "CODEINTEL_LSP_MAX_DIAGNOSTICS")
	setInt(&cfg.LSP.StderrTailBytes, "CODEINTEL_LSP_STDERR_TAIL_BYTES")
	setBool(&cfg.LSP.WatchDocuments, "CODEINTEL_LSP_WATCH_DOCUMENTS")
	setInt(&cfg.LSP.SpawnMaxFailures, "CODEINTEL_LSP_SPAWN_MAX_FAILURES")
	setDuration(&cfg.LSP.SpawnCooldown, "CODEINTEL_LSP_SPAWN_COOLDOWN")
	setInt(&cfg.LSP.MaxConcurrentSpawns, "CODEINTEL_LSP_MAX_CONCURRENT_SPAWNS")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "CODEINTEL_NATS_STREAM")

	// Telemetry
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "CODEINTEL_OTEL_INSECURE")
	setFloat64(&cfg.Telemetry.SampleRate, "CODEINTEL_OTEL_SAMPLE_RATE")

	// Cache
	setInt64(&cfg.Cache.RootMaxItems, "CODEINTEL_CACHE_ROOT_MAX_ITEMS")
	setDuration(&cfg.Cache.RootTTL, "CODEINTEL_CACHE_ROOT_TTL")

	setBool(&cfg.MCP.Enabled, "CODEINTEL_MCP_ENABLED")
	setString(&cfg.MCP.Path, "CODEINTEL_MCP_PATH")

	setString(&cfg.SecretsFile, "CODEINTEL_SECRETS_FILE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must be >= 0")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be >= 1 when rate limiting is enabled")
	}
	if cfg.LSP.RequestTimeout <= 0 {
		return errors.New("lsp.request_timeout must be > 0")
	}
	if cfg.LSP.StartTimeout <= 0 {
		return errors.New("lsp.start_timeout must be > 0")
	}
	if cfg.LSP.PoolShutdownTimeout <= 0 {
		return errors.New("lsp.pool_shutdown_timeout must be > 0")
	}
	if cfg.LSP.SweepInterval <= 0 {
		return errors.New("lsp.sweep_interval must be > 0")
	}
	if cfg.LSP.IdleTimeout <= 0 {
		return errors.New("lsp.idle_timeout must be > 0")
	}
	if cfg.LSP.DiagnosticSettle < 0 {
		return errors.New("lsp.diagnostic_settle must be >= 0")
	}
	if cfg.LSP.SpawnMaxFailures < 1 {
		return errors.New("lsp.spawn_max_failures must be >= 1")
	}
	if cfg.LSP.MaxConcurrentSpawns < 1 {
		return errors.New("lsp.max_concurrent_spawns must be >= 1")
	}
	if cfg.LSP.StderrTailBytes < 0 {
		return errors.New("lsp.stderr_tail_bytes must be >= 0")
	}
	seen := make(map[string]bool, len(cfg.LSP.Servers))
	for i := range cfg.LSP.Servers {
		s := &cfg.LSP.Servers[i]
		if s.ID == "" {
			return fmt.Errorf("lsp.servers[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("lsp.servers: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
		if len(s.Command) == 0 && !s.Disabled {
			return fmt.Errorf("lsp.servers[%s].command is required", s.ID)
		}
	}
	switch cfg.Logging.Format {
	case "", "json", "text", "auto":
	default:
		return fmt.Errorf("logging.format %q must be json, text or auto", cfg.Logging.Format)
	}
	if cfg.Cache.RootMaxItems < 1 {
		return errors.New("cache.root_max_items must be >= 1")
	}
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		return fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path)
	}
	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return errors.New("telemetry.sample_rate must be between 0 and 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStrings parses a comma-separated list.
func setStrings(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
