// Package config provides hierarchical configuration loading for codeintel.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"time"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// Config holds all runtime configuration for the codeintel service.
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	LSP       LSP       `yaml:"lsp"`
	NATS      NATS      `yaml:"nats"`
	Telemetry Telemetry `yaml:"telemetry"`
	Cache     Cache     `yaml:"cache"`
	MCP       MCP       `yaml:"mcp"`

	SecretsFile string `yaml:"secrets_file"` // KEY=VALUE file with credentials, overridden by env
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Whole-process shutdown budget (default: 15s)
	RateLimit       float64       `yaml:"rate_limit"`       // Query requests per second per client IP, 0 disables
	RateBurst       int           `yaml:"rate_burst"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level      string `yaml:"level"`
	Service    string `yaml:"service"`
	Format     string `yaml:"format"` // "json" | "text" | "auto"
	Async      bool   `yaml:"async"`
	BufferSize int    `yaml:"buffer_size"`
	Workers    int    `yaml:"workers"`
}

// LSP holds language server pool configuration.
type LSP struct {
	Servers          []lspDomain.ServerDefinition `yaml:"servers"`           // Replaces the built-in definitions when set
	WorkspaceMarkers []string                     `yaml:"workspace_markers"` // Files/dirs that mark a workspace root

	RequestTimeout           time.Duration `yaml:"request_timeout"`            // Per-request timeout (default: 30s)
	StartTimeout             time.Duration `yaml:"start_timeout"`              // Spawn + initialize budget (default: 30s)
	ShutdownTimeout          time.Duration `yaml:"shutdown_timeout"`           // Per-connection stop budget (default: 5s)
	PoolShutdownTimeout      time.Duration `yaml:"pool_shutdown_timeout"`      // Budget for stopping every connection (default: 10s)
	IdleTimeout              time.Duration `yaml:"idle_timeout"`               // Evict unused connections after (default: 10m)
	SweepInterval            time.Duration `yaml:"sweep_interval"`             // Idle sweep period (default: 60s)
	DiagnosticSettle         time.Duration `yaml:"diagnostic_settle"`          // Wait before reading diagnostics (default: 1s)
	DiagnosticBroadcastDelay time.Duration `yaml:"diagnostic_broadcast_delay"` // Debounce for diagnostic events (default: 500ms)
	MaxDiagnostics           int           `yaml:"max_diagnostics"`            // Per document, 0 = unlimited (default: 100)
	StderrTailBytes          int           `yaml:"stderr_tail_bytes"`          // Retained server stderr (default: 4096)
	WatchDocuments           bool          `yaml:"watch_documents"`            // Resync open files changed on disk
	SpawnMaxFailures         int           `yaml:"spawn_max_failures"`         // Breaker threshold per key (default: 3)
	SpawnCooldown            time.Duration `yaml:"spawn_cooldown"`             // Breaker open period (default: 30s)
	MaxConcurrentSpawns      int           `yaml:"max_concurrent_spawns"`      // Servers starting at once (default: 4)
}

// NATS holds NATS JetStream configuration. An empty URL disables publishing.
type NATS struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// Telemetry holds OpenTelemetry configuration.
type Telemetry struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // empty = no exporters
	Insecure     bool    `yaml:"insecure"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Cache holds L1 cache configuration.
type Cache struct {
	RootMaxItems int64         `yaml:"root_max_items"`
	RootTTL      time.Duration `yaml:"root_ttl"`
}

// MCP holds MCP server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // HTTP mount point in serve mode
	// The HTTP endpoint requires the CODEINTEL_MCP_API_KEY secret when it is set.
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8090",
			CORSOrigin:      "http://localhost:3000",
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Logging: Logging{
			Level:      "info",
			Service:    "codeintel",
			Format:     "auto",
			BufferSize: 1024,
			Workers:    2,
		},
		LSP: LSP{
			Servers:                  lspDomain.DefaultServers(),
			WorkspaceMarkers:         append([]string(nil), lspDomain.DefaultWorkspaceMarkers...),
			RequestTimeout:           30 * time.Second,
			StartTimeout:             30 * time.Second,
			ShutdownTimeout:          5 * time.Second,
			PoolShutdownTimeout:      10 * time.Second,
			IdleTimeout:              10 * time.Minute,
			SweepInterval:            60 * time.Second,
			DiagnosticSettle:         time.Second,
			DiagnosticBroadcastDelay: 500 * time.Millisecond,
			MaxDiagnostics:           100,
			StderrTailBytes:          4096,
			WatchDocuments:           true,
			SpawnMaxFailures:         3,
			SpawnCooldown:            30 * time.Second,
			MaxConcurrentSpawns:      4,
		},
		NATS: NATS{
			Stream: "CODEINTEL",
		},
		Telemetry: Telemetry{
			SampleRate: 1.0,
		},
		Cache: Cache{
			RootMaxItems: 10_000,
			RootTTL:      5 * time.Minute,
		},
		MCP: MCP{
			Enabled: true,
			Path:    "/mcp",
		},
	}
}
