package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.hoverTool(),
		s.definitionTool(),
		s.referencesTool(),
		s.documentSymbolsTool(),
		s.workspaceSymbolsTool(),
		s.diagnosticsTool(),
		s.renameTool(),
		s.codeActionsTool(),
		s.statusTool(),
	)
}

func fileArg() mcplib.ToolOption {
	return mcplib.WithString("file",
		mcplib.Required(),
		mcplib.Description("Absolute path of the source file"),
	)
}

func positionArgs() []mcplib.ToolOption {
	return []mcplib.ToolOption{
		fileArg(),
		mcplib.WithNumber("line", mcplib.Required(), mcplib.Description("Zero-based line")),
		mcplib.WithNumber("character", mcplib.Required(), mcplib.Description("Zero-based character offset in the line")),
	}
}

func readOnlyTool(name, description string, opts ...mcplib.ToolOption) mcplib.Tool {
	opts = append([]mcplib.ToolOption{
		mcplib.WithDescription(description),
		mcplib.WithReadOnlyHintAnnotation(true),
	}, opts...)
	return mcplib.NewTool(name, opts...)
}

func (s *Server) hoverTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("lsp_hover", "Show type information and documentation for the symbol at a position", positionArgs()...),
		Handler: s.handleHover,
	}
}

func (s *Server) definitionTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("lsp_definition", "Find where the symbol at a position is defined", positionArgs()...),
		Handler: s.handleDefinition,
	}
}

func (s *Server) referencesTool() mcpserver.ServerTool {
	opts := append(positionArgs(),
		mcplib.WithBoolean("include_declaration", mcplib.Description("Also return the declaration (default: true)")),
	)
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("lsp_references", "Find all references to the symbol at a position", opts...),
		Handler: s.handleReferences,
	}
}

func (s *Server) documentSymbolsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("lsp_document_symbols", "List the symbols declared in a file as a tree", fileArg()),
		Handler: s.handleDocumentSymbols,
	}
}

func (s *Server) workspaceSymbolsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: readOnlyTool("lsp_workspace_symbols",
			"Search symbols by name across the workspace containing a file",
			fileArg(),
			mcplib.WithString("query", mcplib.Required(), mcplib.Description("Symbol name or fragment")),
		),
		Handler: s.handleWorkspaceSymbols,
	}
}

func (s *Server) diagnosticsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("lsp_diagnostics", "Report compiler and linter diagnostics for a file", fileArg()),
		Handler: s.handleDiagnostics,
	}
}

func (s *Server) renameTool() mcpserver.ServerTool {
	opts := append(positionArgs(),
		mcplib.WithString("new_name", mcplib.Required(), mcplib.Description("New identifier")),
	)
	return mcpserver.ServerTool{
		Tool: readOnlyTool("lsp_rename",
			"Compute the workspace edit that renames the symbol at a position. Files are not modified.",
			opts...),
		Handler: s.handleRename,
	}
}

func (s *Server) codeActionsTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: readOnlyTool("lsp_code_actions",
			"List quick fixes and refactorings for a line range, resolving their edits",
			fileArg(),
			mcplib.WithNumber("start_line", mcplib.Required(), mcplib.Description("Zero-based first line")),
			mcplib.WithNumber("end_line", mcplib.Description("Zero-based last line (default: start_line)")),
		),
		Handler: s.handleCodeActions,
	}
}

func (s *Server) statusTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool:    readOnlyTool("lsp_status", "Show running language servers and configured server definitions"),
		Handler: s.handleStatus,
	}
}

// --- Handlers ---

// fileFrom returns the absolute file argument or an error result.
func fileFrom(req mcplib.CallToolRequest) (string, *mcplib.CallToolResult) { //nolint:gocritic // hugeParam: mcp-go request type
	file := req.GetString("file", "")
	if file == "" {
		return "", mcplib.NewToolResultError("file is required")
	}
	if !filepath.IsAbs(file) {
		return "", mcplib.NewToolResultError("file must be an absolute path")
	}
	return file, nil
}

// positionFrom returns file, line and character or an error result.
func positionFrom(req mcplib.CallToolRequest) (string, lspDomain.Position, *mcplib.CallToolResult) { //nolint:gocritic // hugeParam: mcp-go request type
	file, res := fileFrom(req)
	if res != nil {
		return "", lspDomain.Position{}, res
	}
	args := req.GetArguments()
	if _, ok := args["line"]; !ok {
		return "", lspDomain.Position{}, mcplib.NewToolResultError("line is required")
	}
	if _, ok := args["character"]; !ok {
		return "", lspDomain.Position{}, mcplib.NewToolResultError("character is required")
	}
	pos := lspDomain.Position{
		Line:      int(req.GetFloat("line", 0)),
		Character: int(req.GetFloat("character", 0)),
	}
	if pos.Line < 0 || pos.Character < 0 {
		return "", pos, mcplib.NewToolResultError("line and character must be >= 0")
	}
	return file, pos, nil
}

// toolError turns a service error into a tool error. Messages from the
// language server are passed through verbatim.
func toolError(err error) *mcplib.CallToolResult {
	var serverErr *lspDomain.ServerError
	if errors.As(err, &serverErr) {
		return mcplib.NewToolResultError(serverErr.Message)
	}
	return mcplib.NewToolResultError(err.Error())
}

func (s *Server) handleHover(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, pos, res := positionFrom(req)
	if res != nil {
		return res, nil
	}
	hover, err := s.svc.Hover(ctx, file, pos)
	if err != nil {
		return toolError(err), nil
	}
	if hover == nil || hover.Contents == "" {
		return mcplib.NewToolResultText("No hover information at this position."), nil
	}
	return mcplib.NewToolResultText(hover.Contents), nil
}

func (s *Server) handleDefinition(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, pos, res := positionFrom(req)
	if res != nil {
		return res, nil
	}
	locs, err := s.svc.Definition(ctx, file, pos)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(locationsOut(locs)), nil
}

func (s *Server) handleReferences(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, pos, res := positionFrom(req)
	if res != nil {
		return res, nil
	}
	locs, err := s.svc.References(ctx, file, pos, req.GetBool("include_declaration", true))
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(locationsOut(locs)), nil
}

func (s *Server) handleDocumentSymbols(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, res := fileFrom(req)
	if res != nil {
		return res, nil
	}
	syms, err := s.svc.DocumentSymbols(ctx, file)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(emptyIfNil(syms)), nil
}

func (s *Server) handleWorkspaceSymbols(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, res := fileFrom(req)
	if res != nil {
		return res, nil
	}
	query := req.GetString("query", "")
	if query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}
	syms, err := s.svc.WorkspaceSymbols(ctx, file, query)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(emptyIfNil(syms)), nil
}

func (s *Server) handleDiagnostics(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, res := fileFrom(req)
	if res != nil {
		return res, nil
	}
	diags, err := s.svc.Diagnostics(ctx, file)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(diagnosticsOut(diags)), nil
}

func (s *Server) handleRename(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, pos, res := positionFrom(req)
	if res != nil {
		return res, nil
	}
	newName := req.GetString("new_name", "")
	if newName == "" {
		return mcplib.NewToolResultError("new_name is required"), nil
	}
	edit, err := s.svc.Rename(ctx, file, pos, newName)
	if err != nil {
		return toolError(err), nil
	}
	return toolResultJSON(edit), nil
}

func (s *Server) handleCodeActions(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, res := fileFrom(req)
	if res != nil {
		return res, nil
	}
	if _, ok := req.GetArguments()["start_line"]; !ok {
		return mcplib.NewToolResultError("start_line is required"), nil
	}
	start := int(req.GetFloat("start_line", 0))
	end := int(req.GetFloat("end_line", float64(start)))
	if start < 0 || end < start {
		return mcplib.NewToolResultError("start_line must be >= 0 and end_line >= start_line"), nil
	}
	rng := lspDomain.Range{
		Start: lspDomain.Position{Line: start},
		End:   lspDomain.Position{Line: end + 1},
	}

	actions, err := s.svc.CodeActions(ctx, file, rng, nil)
	if err != nil {
		return toolError(err), nil
	}
	// Agents cannot call back with opaque action data, so edits are resolved here.
	for i := range actions {
		a := &actions[i]
		if a.Edit != nil || a.Command != nil {
			continue
		}
		resolved, err := s.svc.ResolveCodeAction(ctx, file, *a)
		if err != nil {
			continue
		}
		*a = *resolved
	}
	return toolResultJSON(emptyIfNil(actions)), nil
}

func (s *Server) handleStatus(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return toolResultJSON(s.svc.Status()), nil
}

// --- Result shaping ---

// locationOut is a location with a file path and one-based line, which is
// what agents quote back to users.
type locationOut struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
	EndLine   int    `json:"end_line"`
}

func locationsOut(locs []lspDomain.Location) []locationOut {
	out := make([]locationOut, 0, len(locs))
	for _, l := range locs {
		out = append(out, locationOut{
			File:      lspDomain.URIToPath(l.URI),
			Line:      l.Range.Start.Line + 1,
			Character: l.Range.Start.Character + 1,
			EndLine:   l.Range.End.Line + 1,
		})
	}
	return out
}

type diagnosticOut struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Source   string `json:"source,omitempty"`
	Message  string `json:"message"`
}

func diagnosticsOut(diags []lspDomain.Diagnostic) []diagnosticOut {
	out := make([]diagnosticOut, 0, len(diags))
	for _, d := range diags {
		out = append(out, diagnosticOut{
			Line:     d.Range.Start.Line + 1,
			Column:   d.Range.Start.Character + 1,
			Severity: strings.ToLower(lspDomain.SeverityName(d.Severity)),
			Source:   d.Source,
			Message:  d.Message,
		})
	}
	return out
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
