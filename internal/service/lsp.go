package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lspAdapter "github.com/Strob0t/codeintel/internal/adapter/lsp"
	cfotel "github.com/Strob0t/codeintel/internal/adapter/otel"
	"github.com/Strob0t/codeintel/internal/config"
	"github.com/Strob0t/codeintel/internal/domain/event"
	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
	"github.com/Strob0t/codeintel/internal/port/broadcast"
)

// LSPService routes code-intelligence queries for files to pooled language
// server connections and broadcasts their diagnostics and lifecycle events.
type LSPService struct {
	cfg      *config.LSP
	resolver *Resolver
	pool     *Pool[*lspAdapter.Client]
	events   broadcast.Broadcaster
	metrics  *cfotel.Metrics

	// Debounce diagnostic broadcasts per connection+URI.
	diagTimers map[string]*time.Timer
	diagMu     sync.Mutex
}

// NewLSPService creates the service and its connection pool. events and
// metrics may be nil.
func NewLSPService(cfg *config.LSP, resolver *Resolver, events broadcast.Broadcaster, metrics *cfotel.Metrics) *LSPService {
	if events == nil {
		events = broadcast.Nop{}
	}
	s := &LSPService{
		cfg:        cfg,
		resolver:   resolver,
		events:     events,
		metrics:    metrics,
		diagTimers: make(map[string]*time.Timer),
	}
	s.pool = NewPool[*lspAdapter.Client](cfg, s.newClient, metrics, PoolHooks[*lspAdapter.Client]{
		Spawned:     s.onSpawned,
		SpawnFailed: s.onSpawnFailed,
		Stopped:     s.onStopped,
	})
	return s
}

// Pool exposes the underlying connection pool.
func (s *LSPService) Pool() *Pool[*lspAdapter.Client] { return s.pool }

// Start launches the idle sweeper.
func (s *LSPService) Start() {
	s.pool.StartSweeper()
	slog.Info("lsp service started",
		"servers", len(s.resolver.Servers()),
		"idle_timeout", s.cfg.IdleTimeout,
		"sweep_interval", s.cfg.SweepInterval)
}

// Dispose shuts the pool down. Failures are logged, never returned.
func (s *LSPService) Dispose(ctx context.Context) error {
	s.pool.Shutdown(ctx)

	s.diagMu.Lock()
	for key, t := range s.diagTimers {
		t.Stop()
		delete(s.diagTimers, key)
	}
	s.diagMu.Unlock()
	return nil
}

func (s *LSPService) newClient(key lspDomain.PoolKey, def lspDomain.ServerDefinition) *lspAdapter.Client {
	c := lspAdapter.NewClient(def, key.Root, s.cfg)
	c.SetDiagnosticCallback(func(uri string, diags []lspDomain.Diagnostic) {
		s.onDiagnostic(key, uri, diags)
	})
	c.SetExitCallback(func(err error) {
		s.events.BroadcastEvent(context.Background(), event.TypeLSPStatus, event.StatusEvent{
			Root:      key.Root,
			ServerID:  key.ServerID,
			ConnID:    c.ID(),
			Status:    event.StatusCrashed,
			Error:     err.Error(),
			Timestamp: time.Now(),
		})
	})
	return c
}

// --- Queries ---

// Hover returns hover information for a position.
func (s *LSPService) Hover(ctx context.Context, file string, pos lspDomain.Position) (*lspDomain.HoverResult, error) {
	return withClient(ctx, s, "hover", file, func(ctx context.Context, c *lspAdapter.Client) (*lspDomain.HoverResult, error) {
		return c.Hover(ctx, file, pos)
	})
}

// Definition returns go-to-definition locations.
func (s *LSPService) Definition(ctx context.Context, file string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	return withClient(ctx, s, "definition", file, func(ctx context.Context, c *lspAdapter.Client) ([]lspDomain.Location, error) {
		return c.Definition(ctx, file, pos)
	})
}

// References returns find-references locations.
func (s *LSPService) References(ctx context.Context, file string, pos lspDomain.Position, includeDeclaration bool) ([]lspDomain.Location, error) {
	return withClient(ctx, s, "references", file, func(ctx context.Context, c *lspAdapter.Client) ([]lspDomain.Location, error) {
		return c.References(ctx, file, pos, includeDeclaration)
	})
}

// DocumentSymbols returns the symbol tree of a file.
func (s *LSPService) DocumentSymbols(ctx context.Context, file string) ([]lspDomain.DocumentSymbol, error) {
	return withClient(ctx, s, "document_symbols", file, func(ctx context.Context, c *lspAdapter.Client) ([]lspDomain.DocumentSymbol, error) {
		return c.DocumentSymbols(ctx, file)
	})
}

// WorkspaceSymbols searches symbols in the workspace that contains file,
// using the server that handles file.
func (s *LSPService) WorkspaceSymbols(ctx context.Context, file, query string) ([]lspDomain.SymbolInformation, error) {
	return withClient(ctx, s, "workspace_symbols", file, func(ctx context.Context, c *lspAdapter.Client) ([]lspDomain.SymbolInformation, error) {
		return c.WorkspaceSymbols(ctx, query)
	})
}

// Diagnostics opens file if needed and returns its diagnostics.
func (s *LSPService) Diagnostics(ctx context.Context, file string) ([]lspDomain.Diagnostic, error) {
	return withClient(ctx, s, "diagnostics", file, func(ctx context.Context, c *lspAdapter.Client) ([]lspDomain.Diagnostic, error) {
		return c.Diagnostics(ctx, file)
	})
}

// PrepareRename checks whether the symbol at pos can be renamed.
func (s *LSPService) PrepareRename(ctx context.Context, file string, pos lspDomain.Position) (*lspDomain.PrepareRenameResult, error) {
	return withClient(ctx, s, "prepare_rename", file, func(ctx context.Context, c *lspAdapter.Client) (*lspDomain.PrepareRenameResult, error) {
		return c.PrepareRename(ctx, file, pos)
	})
}

// Rename computes the edit that renames the symbol at pos. Nothing is
// written to disk.
func (s *LSPService) Rename(ctx context.Context, file string, pos lspDomain.Position, newName string) (*lspDomain.WorkspaceEdit, error) {
	return withClient(ctx, s, "rename", file, func(ctx context.Context, c *lspAdapter.Client) (*lspDomain.WorkspaceEdit, error) {
		return c.Rename(ctx, file, pos, newName)
	})
}

// CodeActions returns the code actions for a range of file.
func (s *LSPService) CodeActions(ctx context.Context, file string, rng lspDomain.Range, actx *lspDomain.CodeActionContext) ([]lspDomain.CodeAction, error) {
	return withClient(ctx, s, "code_actions", file, func(ctx context.Context, c *lspAdapter.Client) ([]lspDomain.CodeAction, error) {
		return c.CodeActions(ctx, file, rng, actx)
	})
}

// ResolveCodeAction fills in the edit of an action returned by CodeActions
// for file.
func (s *LSPService) ResolveCodeAction(ctx context.Context, file string, action lspDomain.CodeAction) (*lspDomain.CodeAction, error) {
	return withClient(ctx, s, "resolve_code_action", file, func(ctx context.Context, c *lspAdapter.Client) (*lspDomain.CodeAction, error) {
		return c.ResolveCodeAction(ctx, action)
	})
}

// withClient resolves the server and workspace for file, holds a pool
// reference for the duration of fn and records the call.
func withClient[T any](ctx context.Context, s *LSPService, op, file string, fn func(context.Context, *lspAdapter.Client) (T, error)) (T, error) {
	var zero T
	def, err := s.resolver.ResolvePath(file)
	if err != nil {
		return zero, err
	}
	root, err := s.resolver.FindWorkspaceRoot(file)
	if err != nil {
		return zero, err
	}

	ctx, span := cfotel.StartLSPSpan(ctx, op, def.ID, root, file)
	start := time.Now()

	res, err := func() (T, error) {
		client, err := s.pool.Get(ctx, root, def)
		if err != nil {
			return zero, err
		}
		defer s.pool.Release(root, def.ID)
		return fn(ctx, client)
	}()

	cfotel.EndSpan(span, err)
	s.metrics.RecordRequest(ctx, op, def.ID, time.Since(start), err, lspDomain.IsTimeout(err))
	if err != nil {
		slog.Debug("lsp request failed", "op", op, "server", def.ID, "file", file, "error", err)
	}
	return res, err
}

// --- Management ---

// Restart stops the connection serving file so the next query spawns a fresh
// one. It reports whether a connection existed.
func (s *LSPService) Restart(ctx context.Context, file string) (bool, error) {
	def, err := s.resolver.ResolvePath(file)
	if err != nil {
		return false, err
	}
	root, err := s.resolver.FindWorkspaceRoot(file)
	if err != nil {
		return false, err
	}
	removed := s.pool.Remove(ctx, root, def.ID)
	slog.Info("lsp connection restarted", "server", def.ID, "root", root, "existed", removed)
	return removed, nil
}

// Status reports every pooled connection, open spawn circuits and the
// configured servers.
func (s *LSPService) Status() lspDomain.Status {
	now := time.Now()
	entries := s.pool.Snapshot()
	servers := make([]lspDomain.ServerInfo, 0, len(entries))
	for _, e := range entries {
		c := e.Conn
		servers = append(servers, lspDomain.ServerInfo{
			ID:          c.ID(),
			ServerID:    e.Key.ServerID,
			Root:        e.Key.Root,
			State:       c.State(),
			Command:     e.Def.CommandLine(),
			PID:         c.PID(),
			RefCount:    e.RefCount,
			IdleSeconds: now.Sub(e.LastAccess).Seconds(),
			OpenFiles:   c.OpenFiles(),
			Diagnostics: c.DiagnosticCount(),
		})
	}

	defs := s.resolver.Servers()
	summaries := make([]lspDomain.ServerSummary, 0, len(defs))
	for i := range defs {
		d := &defs[i]
		summaries = append(summaries, lspDomain.ServerSummary{
			ID:         d.ID,
			Command:    d.CommandLine(),
			Extensions: d.Extensions,
			Priority:   d.Priority,
			Disabled:   d.Disabled,
		})
	}

	return lspDomain.Status{
		Servers:      servers,
		OpenCircuits: s.pool.OpenCircuits(),
		Definitions:  summaries,
	}
}

// --- Events ---

func (s *LSPService) onSpawned(key lspDomain.PoolKey, c *lspAdapter.Client) {
	slog.Info("lsp connection ready", "server", key.ServerID, "root", key.Root, "pid", c.PID())
	s.broadcastStatus(key, c, event.StatusReady, nil)
}

func (s *LSPService) onSpawnFailed(key lspDomain.PoolKey, err error) {
	s.broadcastStatus(key, nil, event.StatusFailed, err)
}

func (s *LSPService) onStopped(key lspDomain.PoolKey, c *lspAdapter.Client, evicted bool) {
	status := event.StatusStopped
	if evicted {
		status = event.StatusEvicted
	}
	s.broadcastStatus(key, c, status, nil)
}

func (s *LSPService) broadcastStatus(key lspDomain.PoolKey, c *lspAdapter.Client, status string, err error) {
	ev := event.StatusEvent{
		Root:      key.Root,
		ServerID:  key.ServerID,
		Status:    status,
		Timestamp: time.Now(),
	}
	if c != nil {
		ev.ConnID = c.ID()
		ev.PID = c.PID()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.events.BroadcastEvent(context.Background(), event.TypeLSPStatus, ev)
}

// onDiagnostic is the callback from individual clients when diagnostics are
// received. Bursts for the same document collapse into one broadcast.
func (s *LSPService) onDiagnostic(key lspDomain.PoolKey, uri string, diags []lspDomain.Diagnostic) {
	timerKey := key.String() + "|" + uri

	s.diagMu.Lock()
	defer s.diagMu.Unlock()

	if t, ok := s.diagTimers[timerKey]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(s.cfg.DiagnosticBroadcastDelay, func() {
		s.events.BroadcastEvent(context.Background(), event.TypeLSPDiagnostic, event.DiagnosticEvent{
			Root:        key.Root,
			ServerID:    key.ServerID,
			URI:         uri,
			Diagnostics: diags,
			Timestamp:   time.Now(),
		})

		s.diagMu.Lock()
		if s.diagTimers[timerKey] == timer {
			delete(s.diagTimers, timerKey)
		}
		s.diagMu.Unlock()
	})
	s.diagTimers[timerKey] = timer
}
