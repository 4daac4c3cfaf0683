package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

type openDocument struct {
	uri        string
	path       string
	languageID string
	version    int

	ready chan struct{} // closed once didOpen was sent or failed
	err   error
}

// documentSet tracks the documents opened on one connection.
type documentSet struct {
	mu   sync.Mutex
	docs map[string]*openDocument
}

func newDocumentSet() *documentSet {
	return &documentSet{docs: make(map[string]*openDocument)}
}

// acquire returns the entry for uri, creating it when absent. created tells
// the caller it owns the didOpen.
func (s *documentSet) acquire(uri, path, languageID string) (doc *openDocument, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[uri]; ok {
		return d, false
	}
	d := &openDocument{uri: uri, path: path, languageID: languageID, version: 1, ready: make(chan struct{})}
	s.docs[uri] = d
	return d, true
}

// complete publishes the outcome of an open. Failed opens are forgotten so a
// later call can retry.
func (s *documentSet) complete(doc *openDocument, err error) {
	s.mu.Lock()
	doc.err = err
	if err != nil && s.docs[doc.uri] == doc {
		delete(s.docs, doc.uri)
	}
	s.mu.Unlock()
	close(doc.ready)
}

// nextVersion increments the version of an opened document. It reports false
// when uri is not open yet.
func (s *documentSet) nextVersion(uri string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[uri]
	if !ok {
		return 0, false
	}
	select {
	case <-d.ready:
	default:
		return 0, false
	}
	d.version++
	return d.version, true
}

func (s *documentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *documentSet) Clear() {
	s.mu.Lock()
	s.docs = make(map[string]*openDocument)
	s.mu.Unlock()
}

// ensureOpen sends textDocument/didOpen for path unless it is already open.
// Concurrent first opens of the same file share one notification.
func (c *Client) ensureOpen(ctx context.Context, path string) (string, error) {
	if err := c.checkReady(); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	uri := lspDomain.PathToURI(abs)

	doc, created := c.docs.acquire(uri, abs, lspDomain.LanguageID(&c.def, abs))
	if !created {
		select {
		case <-doc.ready:
			if doc.err != nil {
				return "", doc.err
			}
			return uri, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	err = c.openDocument(doc)
	c.docs.complete(doc, err)
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (c *Client) openDocument(doc *openDocument) error {
	content, err := os.ReadFile(doc.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", doc.path, err)
	}
	params := map[string]any{
		"textDocument": map[string]any{
			"uri":        doc.uri,
			"languageId": doc.languageID,
			"version":    doc.version,
			"text":       string(content),
		},
	}
	if err := c.notify("textDocument/didOpen", params); err != nil {
		return fmt.Errorf("didOpen %s: %w", doc.path, err)
	}

	c.mu.Lock()
	w := c.watcher
	c.mu.Unlock()
	if w != nil {
		if err := w.Add(doc.path); err != nil {
			slog.Debug("lsp: watch document failed", "path", doc.path, "error", err)
		}
	}
	return nil
}

// resyncDocument sends the current on-disk content of an open document as a
// full-text didChange.
func (c *Client) resyncDocument(path string) {
	if c.checkReady() != nil {
		return
	}
	uri := lspDomain.PathToURI(path)
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("lsp: resync read failed", "path", path, "error", err)
		return
	}
	version, ok := c.docs.nextVersion(uri)
	if !ok {
		return
	}
	params := map[string]any{
		"textDocument":   map[string]any{"uri": uri, "version": version},
		"contentChanges": []map[string]string{{"text": string(content)}},
	}
	if err := c.notify("textDocument/didChange", params); err != nil {
		slog.Debug("lsp: didChange failed", "server", c.def.ID, "uri", uri, "error", err)
	}
}
