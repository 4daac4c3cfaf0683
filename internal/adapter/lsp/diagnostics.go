package lsp

import (
	"sync"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// DiagnosticStore holds the latest published diagnostics per document URI.
// There is no history: each Publish replaces the previous set.
type DiagnosticStore struct {
	mu       sync.RWMutex
	byURI    map[string][]lspDomain.Diagnostic
	max      int
	onUpdate func(uri string, diags []lspDomain.Diagnostic)
}

// NewDiagnosticStore creates a store. max caps the diagnostics kept per
// document (0 = unlimited). onUpdate may be nil.
func NewDiagnosticStore(max int, onUpdate func(uri string, diags []lspDomain.Diagnostic)) *DiagnosticStore {
	return &DiagnosticStore{
		byURI:    make(map[string][]lspDomain.Diagnostic),
		max:      max,
		onUpdate: onUpdate,
	}
}

// Publish replaces the diagnostics for uri. An empty set clears the document.
func (s *DiagnosticStore) Publish(uri string, diags []lspDomain.Diagnostic) {
	if s.max > 0 && len(diags) > s.max {
		diags = diags[:s.max]
	}
	cp := make([]lspDomain.Diagnostic, len(diags))
	copy(cp, diags)

	s.mu.Lock()
	if len(cp) == 0 {
		delete(s.byURI, uri)
	} else {
		s.byURI[uri] = cp
	}
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(uri, cp)
	}
}

// Get returns a copy of the diagnostics for uri.
func (s *DiagnosticStore) Get(uri string) []lspDomain.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	diags := s.byURI[uri]
	if len(diags) == 0 {
		return []lspDomain.Diagnostic{}
	}
	cp := make([]lspDomain.Diagnostic, len(diags))
	copy(cp, diags)
	return cp
}

// All returns a copy of the full map (URI -> diagnostics).
func (s *DiagnosticStore) All() map[string][]lspDomain.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]lspDomain.Diagnostic, len(s.byURI))
	for k, v := range s.byURI {
		cp := make([]lspDomain.Diagnostic, len(v))
		copy(cp, v)
		result[k] = cp
	}
	return result
}

// Count returns the total number of stored diagnostics.
func (s *DiagnosticStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, diags := range s.byURI {
		n += len(diags)
	}
	return n
}

// Clear drops everything.
func (s *DiagnosticStore) Clear() {
	s.mu.Lock()
	s.byURI = make(map[string][]lspDomain.Diagnostic)
	s.mu.Unlock()
}
