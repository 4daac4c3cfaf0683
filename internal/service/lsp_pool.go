package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	cfotel "github.com/Strob0t/codeintel/internal/adapter/otel"
	"github.com/Strob0t/codeintel/internal/config"
	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
	"github.com/Strob0t/codeintel/internal/resilience"
)

// maxGetAttempts bounds how often Get retries when a freshly spawned
// connection dies before the caller could take a reference.
const maxGetAttempts = 3

// Conn is the lifecycle a pooled connection must expose.
type Conn interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Alive() bool
}

// ConnFactory builds an unstarted connection for key.
type ConnFactory[C Conn] func(key lspDomain.PoolKey, def lspDomain.ServerDefinition) C

// PoolHooks observe pool lifecycle events. Any field may be nil.
type PoolHooks[C Conn] struct {
	Spawned     func(key lspDomain.PoolKey, conn C)
	SpawnFailed func(key lspDomain.PoolKey, err error)
	Stopped     func(key lspDomain.PoolKey, conn C, evicted bool)
}

type poolEntry[C Conn] struct {
	conn       C
	key        lspDomain.PoolKey
	def        lspDomain.ServerDefinition
	refCount   int
	lastAccess time.Time
	createdAt  time.Time
}

// PoolEntryInfo is a point-in-time view of one pooled connection.
type PoolEntryInfo[C Conn] struct {
	Key        lspDomain.PoolKey
	Def        lspDomain.ServerDefinition
	Conn       C
	RefCount   int
	LastAccess time.Time
	CreatedAt  time.Time
}

// Pool shares connections by (workspace root, server id), counts references
// and stops entries that stay unreferenced past the idle timeout.
type Pool[C Conn] struct {
	cfg      *config.LSP
	factory  ConnFactory[C]
	breakers *resilience.Set
	limiter  *resilience.Limiter
	metrics  *cfotel.Metrics
	hooks    PoolHooks[C]

	mu      sync.Mutex
	entries map[lspDomain.PoolKey]*poolEntry[C]
	closed  bool
	flight  singleflight.Group

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepDone chan struct{}

	now func() time.Time // for testing
}

// NewPool creates a pool. metrics may be nil.
func NewPool[C Conn](cfg *config.LSP, factory ConnFactory[C], metrics *cfotel.Metrics, hooks PoolHooks[C]) *Pool[C] {
	return &Pool[C]{
		cfg:      cfg,
		factory:  factory,
		breakers: resilience.NewSet(cfg.SpawnMaxFailures, cfg.SpawnCooldown),
		limiter:  resilience.NewLimiter(cfg.MaxConcurrentSpawns),
		metrics:  metrics,
		hooks:    hooks,
		entries:  make(map[lspDomain.PoolKey]*poolEntry[C]),
		now:      time.Now,
	}
}

// Get returns the live connection for (root, def.ID), spawning it on first
// use, and takes a reference that the caller must Release.
func (p *Pool[C]) Get(ctx context.Context, root string, def lspDomain.ServerDefinition) (C, error) {
	var zero C
	key := lspDomain.PoolKey{Root: root, ServerID: def.ID}

	for range maxGetAttempts {
		if conn, ok, err := p.acquire(key, nil); err != nil || ok {
			return conn, err
		}

		// Spawning is detached from ctx so one caller giving up does not
		// fail the others waiting on the same flight.
		spawnCtx := context.WithoutCancel(ctx)
		ch := p.flight.DoChan(key.String(), func() (any, error) {
			return p.spawn(spawnCtx, key, def)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		if res.Err != nil {
			return zero, res.Err
		}

		entry, _ := res.Val.(*poolEntry[C])
		if conn, ok, err := p.acquire(key, entry); err != nil || ok {
			return conn, err
		}
		// The new connection died before we could use it; go around again.
	}
	return zero, fmt.Errorf("get %s: %w", key, lspDomain.ErrConnectionStopped)
}

// acquire takes a reference on the live entry for key. When want is set, only
// that entry is accepted.
func (p *Pool[C]) acquire(key lspDomain.PoolKey, want *poolEntry[C]) (C, bool, error) {
	var zero C
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return zero, false, lspDomain.ErrPoolClosed
	}
	e, ok := p.entries[key]
	if !ok || (want != nil && e != want) || !e.conn.Alive() {
		return zero, false, nil
	}
	e.refCount++
	e.lastAccess = p.now()
	return e.conn, true, nil
}

func (p *Pool[C]) spawn(ctx context.Context, key lspDomain.PoolKey, def lspDomain.ServerDefinition) (*poolEntry[C], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, lspDomain.ErrPoolClosed
	}
	if e, ok := p.entries[key]; ok && e.conn.Alive() {
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()

	ctx, span := cfotel.StartSpawnSpan(ctx, def.ID, key.Root)
	startCtx, cancel := context.WithTimeout(ctx, p.cfg.StartTimeout)
	defer cancel()

	breaker := p.breakers.Get(key.String())
	var conn C
	err := breaker.Execute(func() error {
		return p.limiter.Run(startCtx, func() error {
			conn = p.factory(key, def)
			return conn.Start(startCtx)
		})
	})
	cfotel.EndSpan(span, err)

	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("spawn %s: %w, retry in %s", key, err, breaker.RetryAfter().Round(time.Second))
		slog.Debug("lsp spawn rejected", "key", key.String(), "error", err)
		p.notifySpawnFailed(key, err)
		return nil, err
	}
	p.metrics.RecordSpawn(ctx, def.ID, err)
	if err != nil {
		slog.Warn("lsp spawn failed", "server", def.ID, "root", key.Root, "error", err)
		p.notifySpawnFailed(key, err)
		return nil, err
	}

	now := p.now()
	entry := &poolEntry[C]{conn: conn, key: key, def: def, lastAccess: now, createdAt: now}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stopConn(context.Background(), entry, false)
		return nil, lspDomain.ErrPoolClosed
	}
	old := p.entries[key]
	if old != nil {
		// Outstanding references of the dead entry still get released later.
		entry.refCount = old.refCount
	}
	p.entries[key] = entry
	p.mu.Unlock()

	if old != nil {
		go p.stopConn(context.Background(), old, false)
	}
	if p.hooks.Spawned != nil {
		p.hooks.Spawned(key, conn)
	}
	return entry, nil
}

func (p *Pool[C]) notifySpawnFailed(key lspDomain.PoolKey, err error) {
	if p.hooks.SpawnFailed != nil {
		p.hooks.SpawnFailed(key, err)
	}
}

// Release drops one reference. It never stops the connection.
func (p *Pool[C]) Release(root, serverID string) {
	key := lspDomain.PoolKey{Root: root, ServerID: serverID}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return
	}
	if e.refCount > 0 {
		e.refCount--
	}
	e.lastAccess = p.now()
}

// Remove stops and forgets the connection for (root, serverID) regardless of
// its references and closes its spawn breaker. It reports whether an entry
// existed.
func (p *Pool[C]) Remove(ctx context.Context, root, serverID string) bool {
	key := lspDomain.PoolKey{Root: root, ServerID: serverID}
	p.breakers.Get(key.String()).Reset()

	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	p.stopConn(ctx, e, false)
	return true
}

// Sweep stops every entry that is unreferenced and idle longer than the idle
// timeout, plus unreferenced dead entries. It returns how many were removed.
func (p *Pool[C]) Sweep(ctx context.Context) int {
	now := p.now()
	var victims []*poolEntry[C]

	p.mu.Lock()
	for key, e := range p.entries {
		if e.refCount > 0 {
			continue
		}
		if now.Sub(e.lastAccess) > p.cfg.IdleTimeout || !e.conn.Alive() {
			victims = append(victims, e)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	if len(victims) == 0 {
		return 0
	}

	var g errgroup.Group
	for _, e := range victims {
		g.Go(func() error {
			slog.Info("lsp connection evicted", "server", e.key.ServerID, "root", e.key.Root,
				"idle", now.Sub(e.lastAccess).Round(time.Second))
			p.stopConn(ctx, e, true)
			return nil
		})
	}
	_ = g.Wait()
	return len(victims)
}

// StartSweeper runs Sweep every sweep interval until Shutdown. Calling it
// again while running is a no-op.
func (p *Pool[C]) StartSweeper() {
	p.sweepMu.Lock()
	defer p.sweepMu.Unlock()
	if p.sweepStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	p.sweepStop, p.sweepDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := p.Sweep(context.Background()); n > 0 {
					slog.Debug("lsp idle sweep", "evicted", n, "remaining", p.Len())
				}
			case <-stop:
				return
			}
		}
	}()
}

func (p *Pool[C]) stopSweeper() {
	p.sweepMu.Lock()
	stop, done := p.sweepStop, p.sweepDone
	p.sweepStop, p.sweepDone = nil, nil
	p.sweepMu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// Shutdown stops the sweeper and every connection regardless of references,
// bounded by the pool shutdown timeout. Individual failures and the timeout
// are logged. Later Gets fail with ErrPoolClosed.
func (p *Pool[C]) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	entries := make([]*poolEntry[C], 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[lspDomain.PoolKey]*poolEntry[C])
	p.mu.Unlock()

	p.stopSweeper()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PoolShutdownTimeout)
	defer cancel()

	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			p.stopConn(ctx, e, false)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("lsp pool shut down", "connections", len(entries))
	case <-ctx.Done():
		slog.Warn("lsp pool shutdown timed out", "connections", len(entries), "timeout", p.cfg.PoolShutdownTimeout)
	}
}

func (p *Pool[C]) stopConn(ctx context.Context, e *poolEntry[C], evicted bool) {
	if err := e.conn.Stop(ctx); err != nil {
		slog.Warn("lsp connection stop failed", "server", e.key.ServerID, "root", e.key.Root, "error", err)
	}
	p.metrics.RecordStop(ctx, e.key.ServerID, evicted)
	if p.hooks.Stopped != nil {
		p.hooks.Stopped(e.key, e.conn, evicted)
	}
}

// Len returns the number of pooled entries.
func (p *Pool[C]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Snapshot returns the current entries ordered by key.
func (p *Pool[C]) Snapshot() []PoolEntryInfo[C] {
	p.mu.Lock()
	out := make([]PoolEntryInfo[C], 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, PoolEntryInfo[C]{
			Key:        e.key,
			Def:        e.def,
			Conn:       e.conn,
			RefCount:   e.refCount,
			LastAccess: e.lastAccess,
			CreatedAt:  e.createdAt,
		})
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// OpenCircuits returns the keys whose spawn breaker is not closed.
func (p *Pool[C]) OpenCircuits() map[string]string {
	return p.breakers.States()
}
