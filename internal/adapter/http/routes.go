package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the API routes on r. limit, when non-nil, wraps the
// query endpoints.
func MountRoutes(r chi.Router, h *Handlers, limit func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.Get("/lsp/status", h.LSPStatus)

		r.Group(func(r chi.Router) {
			if limit != nil {
				r.Use(limit)
			}
			r.Post("/lsp/hover", h.LSPHover)
			r.Post("/lsp/definition", h.LSPDefinition)
			r.Post("/lsp/references", h.LSPReferences)
			r.Post("/lsp/symbols", h.LSPDocumentSymbols)
			r.Post("/lsp/workspace-symbols", h.LSPWorkspaceSymbols)
			r.Post("/lsp/diagnostics", h.LSPDiagnostics)
			r.Post("/lsp/prepare-rename", h.LSPPrepareRename)
			r.Post("/lsp/rename", h.LSPRename)
			r.Post("/lsp/code-actions", h.LSPCodeActions)
			r.Post("/lsp/code-action-resolve", h.LSPResolveCodeAction)
			r.Post("/lsp/restart", h.LSPRestart)
		})
	})
}
