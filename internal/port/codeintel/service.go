// Package codeintel defines the port through which transports (HTTP, MCP)
// reach the pooled language server client.
package codeintel

import (
	"context"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// Service answers code-intelligence queries for files on disk. Positions are
// zero-based. Implementations pick the server from the file extension and the
// workspace from the nearest root marker.
type Service interface {
	Hover(ctx context.Context, file string, pos lspDomain.Position) (*lspDomain.HoverResult, error)
	Definition(ctx context.Context, file string, pos lspDomain.Position) ([]lspDomain.Location, error)
	References(ctx context.Context, file string, pos lspDomain.Position, includeDeclaration bool) ([]lspDomain.Location, error)
	DocumentSymbols(ctx context.Context, file string) ([]lspDomain.DocumentSymbol, error)
	WorkspaceSymbols(ctx context.Context, file, query string) ([]lspDomain.SymbolInformation, error)
	Diagnostics(ctx context.Context, file string) ([]lspDomain.Diagnostic, error)
	PrepareRename(ctx context.Context, file string, pos lspDomain.Position) (*lspDomain.PrepareRenameResult, error)
	Rename(ctx context.Context, file string, pos lspDomain.Position, newName string) (*lspDomain.WorkspaceEdit, error)
	CodeActions(ctx context.Context, file string, rng lspDomain.Range, actx *lspDomain.CodeActionContext) ([]lspDomain.CodeAction, error)
	ResolveCodeAction(ctx context.Context, file string, action lspDomain.CodeAction) (*lspDomain.CodeAction, error)
	Restart(ctx context.Context, file string) (bool, error)
	Status() lspDomain.Status
}
