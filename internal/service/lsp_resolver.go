package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Strob0t/codeintel/internal/config"
	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
	"github.com/Strob0t/codeintel/internal/port/cache"
)

// Resolver maps files to server definitions and workspace roots.
type Resolver struct {
	servers []lspDomain.ServerDefinition // configuration order
	markers []string
	roots   cache.Cache // optional
	rootTTL time.Duration
}

// NewResolver creates a resolver over cfg's servers and workspace markers.
// roots may be nil to disable root memoisation.
func NewResolver(cfg *config.LSP, roots cache.Cache, rootTTL time.Duration) *Resolver {
	markers := cfg.WorkspaceMarkers
	if len(markers) == 0 {
		markers = lspDomain.DefaultWorkspaceMarkers
	}
	return &Resolver{
		servers: cfg.Servers,
		markers: markers,
		roots:   roots,
		rootTTL: rootTTL,
	}
}

// Servers returns the configured definitions.
func (r *Resolver) Servers() []lspDomain.ServerDefinition {
	return r.servers
}

// ResolveServer returns the highest-priority enabled definition handling ext.
// Ties go to the definition listed first.
func (r *Resolver) ResolveServer(ext string) (lspDomain.ServerDefinition, bool) {
	best := -1
	for i := range r.servers {
		def := &r.servers[i]
		if def.Disabled || !def.Handles(ext) {
			continue
		}
		if best < 0 || def.Priority > r.servers[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return lspDomain.ServerDefinition{}, false
	}
	return r.servers[best], true
}

// ResolvePath resolves the server for a file path.
func (r *Resolver) ResolvePath(path string) (lspDomain.ServerDefinition, error) {
	ext := filepath.Ext(path)
	def, ok := r.ResolveServer(ext)
	if !ok {
		return def, &lspDomain.UnsupportedExtensionError{Extension: ext, Path: path}
	}
	return def, nil
}

// FindWorkspaceRoot walks upward from the directory of path and returns the
// nearest ancestor containing a workspace marker. Without a match it returns
// the file's own directory.
func (r *Resolver) FindWorkspaceRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	start := filepath.Dir(abs)

	if r.roots != nil {
		if root, ok := r.roots.Get(start); ok {
			return root, nil
		}
	}

	root := start
	for dir := start; ; {
		if r.hasMarker(dir) {
			root = dir
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if r.roots != nil {
		r.roots.Set(start, root, r.rootTTL)
	}
	return root, nil
}

func (r *Resolver) hasMarker(dir string) bool {
	for _, m := range r.markers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}
