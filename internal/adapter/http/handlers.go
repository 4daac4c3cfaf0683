package http

import (
	"net/http"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
	"github.com/Strob0t/codeintel/internal/port/codeintel"
)

// Handlers holds the dependencies of the HTTP API.
type Handlers struct {
	LSP     codeintel.Service
	Version string
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	st := h.LSP.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       h.Version,
		"connections":   len(st.Servers),
		"open_circuits": len(st.OpenCircuits),
	})
}

// LSPStatus handles GET /api/v1/lsp/status
func (h *Handlers) LSPStatus(w http.ResponseWriter, _ *http.Request) {
	st := h.LSP.Status()
	st.Servers = emptyIfNil(st.Servers)
	st.Definitions = emptyIfNil(st.Definitions)
	writeJSON(w, http.StatusOK, st)
}

// positionRequest is the shared request body for position-based queries.
type positionRequest struct {
	File               string `json:"file"`
	Line               int    `json:"line"`
	Character          int    `json:"character"`
	IncludeDeclaration bool   `json:"include_declaration"`
	NewName            string `json:"new_name"`
}

func (p positionRequest) position() lspDomain.Position {
	return lspDomain.Position{Line: p.Line, Character: p.Character}
}

// readPosition decodes and validates a positionRequest.
func readPosition(w http.ResponseWriter, r *http.Request) (positionRequest, bool) {
	req, ok := readJSON[positionRequest](w, r)
	if !ok || !requireFile(w, req.File) || !requirePosition(w, req.position()) {
		return req, false
	}
	return req, true
}

type fileRequest struct {
	File string `json:"file"`
}

// LSPHover handles POST /api/v1/lsp/hover
func (h *Handlers) LSPHover(w http.ResponseWriter, r *http.Request) {
	req, ok := readPosition(w, r)
	if !ok {
		return
	}
	hover, err := h.LSP.Hover(r.Context(), req.File, req.position())
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hover": hover})
}

// LSPDefinition handles POST /api/v1/lsp/definition
func (h *Handlers) LSPDefinition(w http.ResponseWriter, r *http.Request) {
	req, ok := readPosition(w, r)
	if !ok {
		return
	}
	locs, err := h.LSP.Definition(r.Context(), req.File, req.position())
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(locs))
}

// LSPReferences handles POST /api/v1/lsp/references
func (h *Handlers) LSPReferences(w http.ResponseWriter, r *http.Request) {
	req, ok := readPosition(w, r)
	if !ok {
		return
	}
	locs, err := h.LSP.References(r.Context(), req.File, req.position(), req.IncludeDeclaration)
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(locs))
}

// LSPDocumentSymbols handles POST /api/v1/lsp/symbols
func (h *Handlers) LSPDocumentSymbols(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[fileRequest](w, r)
	if !ok || !requireFile(w, req.File) {
		return
	}
	syms, err := h.LSP.DocumentSymbols(r.Context(), req.File)
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(syms))
}

// LSPWorkspaceSymbols handles POST /api/v1/lsp/workspace-symbols
func (h *Handlers) LSPWorkspaceSymbols(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		File  string `json:"file"`
		Query string `json:"query"`
	}](w, r)
	if !ok || !requireFile(w, req.File) {
		return
	}
	syms, err := h.LSP.WorkspaceSymbols(r.Context(), req.File, req.Query)
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(syms))
}

// LSPDiagnostics handles POST /api/v1/lsp/diagnostics
func (h *Handlers) LSPDiagnostics(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[fileRequest](w, r)
	if !ok || !requireFile(w, req.File) {
		return
	}
	diags, err := h.LSP.Diagnostics(r.Context(), req.File)
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(diags))
}

// LSPPrepareRename handles POST /api/v1/lsp/prepare-rename
func (h *Handlers) LSPPrepareRename(w http.ResponseWriter, r *http.Request) {
	req, ok := readPosition(w, r)
	if !ok {
		return
	}
	res, err := h.LSP.PrepareRename(r.Context(), req.File, req.position())
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

// LSPRename handles POST /api/v1/lsp/rename
func (h *Handlers) LSPRename(w http.ResponseWriter, r *http.Request) {
	req, ok := readPosition(w, r)
	if !ok {
		return
	}
	if req.NewName == "" {
		writeError(w, http.StatusBadRequest, "new_name is required")
		return
	}
	edit, err := h.LSP.Rename(r.Context(), req.File, req.position(), req.NewName)
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edit)
}

// LSPCodeActions handles POST /api/v1/lsp/code-actions
func (h *Handlers) LSPCodeActions(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		File    string                       `json:"file"`
		Range   lspDomain.Range              `json:"range"`
		Context *lspDomain.CodeActionContext `json:"context"`
	}](w, r)
	if !ok || !requireFile(w, req.File) ||
		!requirePosition(w, req.Range.Start) || !requirePosition(w, req.Range.End) {
		return
	}
	actions, err := h.LSP.CodeActions(r.Context(), req.File, req.Range, req.Context)
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(actions))
}

// LSPResolveCodeAction handles POST /api/v1/lsp/code-action-resolve
func (h *Handlers) LSPResolveCodeAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		File   string               `json:"file"`
		Action lspDomain.CodeAction `json:"action"`
	}](w, r)
	if !ok || !requireFile(w, req.File) {
		return
	}
	if req.Action.Title == "" {
		writeError(w, http.StatusBadRequest, "action.title is required")
		return
	}
	action, err := h.LSP.ResolveCodeAction(r.Context(), req.File, req.Action)
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// LSPRestart handles POST /api/v1/lsp/restart
func (h *Handlers) LSPRestart(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[fileRequest](w, r)
	if !ok || !requireFile(w, req.File) {
		return
	}
	existed, err := h.LSP.Restart(r.Context(), req.File)
	if err != nil {
		writeLSPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restarted": existed})
}
