package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// Hover returns hover information for a position. A nil result means the
// server had nothing to show.
func (c *Client) Hover(ctx context.Context, path string, pos lspDomain.Position) (*lspDomain.HoverResult, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}
	result, err := c.request(ctx, "textDocument/hover", textDocumentPositionParams(uri, pos))
	if err != nil {
		return nil, err
	}
	return decodeHover(result)
}

// Definition returns go-to-definition locations for a position.
func (c *Client) Definition(ctx context.Context, path string, pos lspDomain.Position) ([]lspDomain.Location, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}
	result, err := c.request(ctx, "textDocument/definition", textDocumentPositionParams(uri, pos))
	if err != nil {
		return nil, err
	}
	return decodeLocations(result)
}

// References returns all reference locations for a position.
func (c *Client) References(ctx context.Context, path string, pos lspDomain.Position, includeDeclaration bool) ([]lspDomain.Location, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}
	params := textDocumentPositionParams(uri, pos)
	params["context"] = map[string]bool{"includeDeclaration": includeDeclaration}
	result, err := c.request(ctx, "textDocument/references", params)
	if err != nil {
		return nil, err
	}
	return decodeLocations(result)
}

// DocumentSymbols returns the symbol tree of a file.
func (c *Client) DocumentSymbols(ctx context.Context, path string) ([]lspDomain.DocumentSymbol, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}
	result, err := c.request(ctx, "textDocument/documentSymbol", map[string]any{
		"textDocument": map[string]string{"uri": uri},
	})
	if err != nil {
		return nil, err
	}
	return decodeDocumentSymbols(result)
}

// WorkspaceSymbols searches symbols across the workspace.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]lspDomain.SymbolInformation, error) {
	result, err := c.request(ctx, "workspace/symbol", map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	return decodeWorkspaceSymbols(result)
}

// Diagnostics opens path, waits for the settle delay so the server can
// publish, and returns the latest diagnostics for the file.
func (c *Client) Diagnostics(ctx context.Context, path string) ([]lspDomain.Diagnostic, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}
	if d := c.lspCfg.DiagnosticSettle; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-c.exited:
			timer.Stop()
			return nil, lspDomain.ErrConnectionStopped
		}
	}
	return c.diags.Get(uri), nil
}

// CachedDiagnostics returns the stored diagnostics for path without opening it.
func (c *Client) CachedDiagnostics(path string) []lspDomain.Diagnostic {
	return c.diags.Get(lspDomain.PathToURI(path))
}

// PrepareRename checks whether the symbol at pos can be renamed. A nil
// result means it cannot.
func (c *Client) PrepareRename(ctx context.Context, path string, pos lspDomain.Position) (*lspDomain.PrepareRenameResult, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}
	result, err := c.request(ctx, "textDocument/prepareRename", textDocumentPositionParams(uri, pos))
	if err != nil {
		return nil, err
	}
	return decodePrepareRename(result)
}

// Rename computes the workspace edit renaming the symbol at pos. The edit is
// returned, not applied.
func (c *Client) Rename(ctx context.Context, path string, pos lspDomain.Position, newName string) (*lspDomain.WorkspaceEdit, error) {
	if newName == "" {
		return nil, fmt.Errorf("rename: new name is empty")
	}
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}
	params := textDocumentPositionParams(uri, pos)
	params["newName"] = newName
	result, err := c.request(ctx, "textDocument/rename", params)
	if err != nil {
		return nil, err
	}
	edit, err := decodeWorkspaceEdit(result)
	if err != nil {
		return nil, err
	}
	if edit == nil {
		edit = &lspDomain.WorkspaceEdit{}
	}
	return edit, nil
}

// CodeActions returns the actions available for rng. Without an explicit
// context the stored diagnostics intersecting rng are sent.
func (c *Client) CodeActions(ctx context.Context, path string, rng lspDomain.Range, actx *lspDomain.CodeActionContext) ([]lspDomain.CodeAction, error) {
	uri, err := c.ensureOpen(ctx, path)
	if err != nil {
		return nil, err
	}
	var sent lspDomain.CodeActionContext
	if actx == nil {
		sent.Diagnostics = intersecting(c.diags.Get(uri), rng)
	} else {
		sent = *actx
	}
	if sent.Diagnostics == nil {
		sent.Diagnostics = []lspDomain.Diagnostic{}
	}
	result, err := c.request(ctx, "textDocument/codeAction", map[string]any{
		"textDocument": map[string]string{"uri": uri},
		"range":        rng,
		"context":      sent,
	})
	if err != nil {
		return nil, err
	}
	return decodeCodeActions(result)
}

// ResolveCodeAction fills in the lazily computed parts (usually the edit) of an action.
func (c *Client) ResolveCodeAction(ctx context.Context, action lspDomain.CodeAction) (*lspDomain.CodeAction, error) {
	var params any = action
	if len(action.Raw) > 0 {
		params = json.RawMessage(action.Raw)
	}
	result, err := c.request(ctx, "codeAction/resolve", params)
	if err != nil {
		return nil, err
	}
	if isNull(result) {
		return &action, nil
	}
	return decodeCodeAction(result)
}

func intersecting(diags []lspDomain.Diagnostic, rng lspDomain.Range) []lspDomain.Diagnostic {
	out := make([]lspDomain.Diagnostic, 0, len(diags))
	for _, d := range diags {
		if d.Range.Intersects(rng) {
			out = append(out, d)
		}
	}
	return out
}

func textDocumentPositionParams(uri string, pos lspDomain.Position) map[string]any {
	return map[string]any{
		"textDocument": map[string]string{"uri": uri},
		"position":     map[string]int{"line": pos.Line, "character": pos.Character},
	}
}
