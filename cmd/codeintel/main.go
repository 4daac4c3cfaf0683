// Command codeintel runs the pooled language server client behind an HTTP
// API and an MCP endpoint.
//
// Usage:
//
//	codeintel [serve] [flags]   HTTP API, WebSocket events and MCP over HTTP
//	codeintel mcp [flags]       MCP over stdio
//	codeintel servers [flags]   list configured language servers
//	codeintel version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/Strob0t/codeintel/internal/adapter/http"
	cfmcp "github.com/Strob0t/codeintel/internal/adapter/mcp"
	cfnats "github.com/Strob0t/codeintel/internal/adapter/nats"
	cfotel "github.com/Strob0t/codeintel/internal/adapter/otel"
	"github.com/Strob0t/codeintel/internal/adapter/ristretto"
	"github.com/Strob0t/codeintel/internal/adapter/ws"
	"github.com/Strob0t/codeintel/internal/config"
	"github.com/Strob0t/codeintel/internal/lifecycle"
	"github.com/Strob0t/codeintel/internal/logger"
	"github.com/Strob0t/codeintel/internal/middleware"
	"github.com/Strob0t/codeintel/internal/port/broadcast"
	"github.com/Strob0t/codeintel/internal/secrets"
	"github.com/Strob0t/codeintel/internal/service"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = run(args, false)
	case "mcp":
		err = run(args, true)
	case "servers":
		err = runServers(args, os.Stdout)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printHelp()
	default:
		printHelp()
		err = fmt.Errorf("unknown command: %s", cmd)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: codeintel <command> [options]

Commands:
  serve     Serve the HTTP API, WebSocket events and MCP over HTTP (default)
  mcp       Serve MCP over stdio
  servers   List configured language servers
  version   Print the version

Options:
  -c, --config PATH     YAML config file (default: codeintel.yaml)
  -p, --port PORT       HTTP listen port
  --log-level LEVEL     debug, info, warn or error
  --nats-url URL        publish events to NATS JetStream
  --otlp-endpoint ADDR  export traces and metrics over OTLP/gRPC
`)
}

// run starts the service. In stdio mode the MCP protocol owns stdout, so logs
// go to stderr and no HTTP listener is started.
func run(args []string, stdio bool) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var logOut io.Writer = os.Stdout
	if stdio {
		logOut = os.Stderr
	}
	log, logCloser := logger.New(cfg.Logging, logOut)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"version", version,
		"servers", len(cfg.LSP.Servers),
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lc := lifecycle.New(cfg.Server.ShutdownTimeout)
	defer func() {
		if err := lc.Shutdown(context.Background()); err != nil {
			slog.Error("shutdown incomplete", "error", err)
		}
	}()

	// --- Infrastructure ---

	otelShutdown, err := cfotel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	lc.Register("otel", lifecycle.DisposeFunc(otelShutdown))

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	vault, err := secrets.NewVault(secrets.Chain(
		secrets.FileLoader(cfg.SecretsFile),
		secrets.EnvLoader(secrets.MCPAPIKey),
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	go reloadOnHangup(ctx, vault)

	roots, err := ristretto.New(cfg.Cache.RootMaxItems)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	lc.Register("root cache", lifecycle.DisposeFunc(func(context.Context) error {
		roots.Close()
		return nil
	}))

	// --- Events ---

	var hub *ws.Hub
	events := broadcast.Fanout{}
	if !stdio {
		hub = ws.NewHub(cfg.Server.CORSOrigin)
		lc.Register("websocket hub", lifecycle.DisposeFunc(func(context.Context) error {
			hub.Close()
			return nil
		}))
		events = append(events, hub)
	}
	if cfg.NATS.URL != "" {
		queue, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		lc.Register("nats", lifecycle.DisposeFunc(func(context.Context) error { return queue.Close() }))
		events = append(events, cfnats.NewEventPublisher(queue))
	}

	// --- Services ---

	resolver := service.NewResolver(&cfg.LSP, roots, cfg.Cache.RootTTL)
	lspSvc := service.NewLSPService(&cfg.LSP, resolver, events, metrics)
	lspSvc.Start()
	lc.Register("lsp pool", lspSvc)

	mcpSrv := cfmcp.NewServer(cfmcp.ServerConfig{Name: "codeintel", Version: version}, lspSvc)

	if stdio {
		err := mcpSrv.ServeStdio(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio: %w", err)
		}
		slog.Info("mcp stdio closed")
		return nil
	}

	// --- HTTP ---

	r := chi.NewRouter()
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)

	var limit func(http.Handler) http.Handler
	if cfg.Server.RateLimit > 0 {
		rl := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		stopCleanup := rl.StartCleanup(time.Minute, 10*time.Minute)
		lc.Register("rate limiter", lifecycle.DisposeFunc(func(context.Context) error {
			stopCleanup()
			return nil
		}))
		limit = rl.Handler
	}

	r.Get("/ws", hub.HandleWS)
	cfhttp.MountRoutes(r, &cfhttp.Handlers{LSP: lspSvc, Version: version}, limit)

	if cfg.MCP.Enabled {
		r.Handle(cfg.MCP.Path, cfmcp.AuthMiddleware(vault.Getter(secrets.MCPAPIKey), mcpSrv.HTTPHandler()))
		lc.Register("mcp sessions", mcpSrv)
		slog.Info("mcp endpoint mounted",
			"path", cfg.MCP.Path,
			"api_key", vault.Redacted(secrets.MCPAPIKey))
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.LSP.RequestTimeout + cfg.LSP.StartTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Registered last so the listener stops before the pool it serves.
	lc.Register("http server", lifecycle.DisposeFunc(srv.Shutdown))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// reloadOnHangup reloads secrets whenever the process receives SIGHUP.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded", "keys", len(vault.Keys()))
		}
	}
}
