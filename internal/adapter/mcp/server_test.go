package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cfmcp "github.com/Strob0t/codeintel/internal/adapter/mcp"
	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// --- Mocks ---

type mockService struct {
	err      error
	lastFile string
	lastPos  lspDomain.Position
	inclDecl bool
	resolved int
}

func (m *mockService) Hover(_ context.Context, file string, pos lspDomain.Position) (*lspDomain.HoverResult, error) {
	m.lastFile, m.lastPos = file, pos
	if m.err != nil {
		return nil, m.err
	}
	return &lspDomain.HoverResult{Contents: "func main()"}, nil
}

func (m *mockService) Definition(_ context.Context, file string, _ lspDomain.Position) ([]lspDomain.Location, error) {
	m.lastFile = file
	return []lspDomain.Location{{
		URI:   "file:///ws/main.go",
		Range: lspDomain.Range{Start: lspDomain.Position{Line: 9, Character: 4}, End: lspDomain.Position{Line: 9, Character: 8}},
	}}, m.err
}

func (m *mockService) References(_ context.Context, _ string, _ lspDomain.Position, includeDeclaration bool) ([]lspDomain.Location, error) {
	m.inclDecl = includeDeclaration
	return nil, m.err
}

func (m *mockService) DocumentSymbols(context.Context, string) ([]lspDomain.DocumentSymbol, error) {
	return []lspDomain.DocumentSymbol{{Name: "main", Kind: 12}}, m.err
}

func (m *mockService) WorkspaceSymbols(_ context.Context, _ string, query string) ([]lspDomain.SymbolInformation, error) {
	return []lspDomain.SymbolInformation{{Name: query, Kind: 12}}, m.err
}

func (m *mockService) Diagnostics(context.Context, string) ([]lspDomain.Diagnostic, error) {
	return []lspDomain.Diagnostic{{
		Range:    lspDomain.Range{Start: lspDomain.Position{Line: 2, Character: 1}},
		Severity: lspDomain.SeverityError,
		Source:   "compiler",
		Message:  "undefined: x",
	}}, m.err
}

func (m *mockService) PrepareRename(context.Context, string, lspDomain.Position) (*lspDomain.PrepareRenameResult, error) {
	return &lspDomain.PrepareRenameResult{DefaultBehavior: true}, m.err
}

func (m *mockService) Rename(_ context.Context, _ string, _ lspDomain.Position, newName string) (*lspDomain.WorkspaceEdit, error) {
	return &lspDomain.WorkspaceEdit{Changes: map[string][]lspDomain.TextEdit{
		"file:///ws/main.go": {{NewText: newName}},
	}}, m.err
}

func (m *mockService) CodeActions(context.Context, string, lspDomain.Range, *lspDomain.CodeActionContext) ([]lspDomain.CodeAction, error) {
	return []lspDomain.CodeAction{
		{Title: "Organize imports", Data: json.RawMessage(`{"id":1}`)},
		{Title: "Run generate", Command: &lspDomain.Command{Title: "generate", Command: "gopls.generate"}},
	}, m.err
}

func (m *mockService) ResolveCodeAction(_ context.Context, _ string, action lspDomain.CodeAction) (*lspDomain.CodeAction, error) {
	m.resolved++
	action.Edit = &lspDomain.WorkspaceEdit{Changes: map[string][]lspDomain.TextEdit{"file:///ws/main.go": {{NewText: "import \"fmt\""}}}}
	return &action, nil
}

func (m *mockService) Restart(context.Context, string) (bool, error) { return true, m.err }

func (m *mockService) Status() lspDomain.Status {
	return lspDomain.Status{
		Servers: []lspDomain.ServerInfo{{ServerID: "gopls", Root: "/ws", State: lspDomain.StateReady}},
		Definitions: []lspDomain.ServerSummary{
			{ID: "gopls", Command: "gopls", Extensions: []string{".go"}},
		},
	}
}

// --- Helpers ---

func newServer(svc *mockService) *cfmcp.Server {
	return cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, svc)
}

func callTool(t *testing.T, s *cfmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	s := newServer(&mockService{})
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
	if err := s.Dispose(context.Background()); err != nil {
		t.Fatalf("Dispose without HTTP sessions: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	s := newServer(&mockService{})

	tools := s.MCPServer().ListTools()
	expected := map[string]bool{
		"lsp_hover":             false,
		"lsp_definition":        false,
		"lsp_references":        false,
		"lsp_document_symbols":  false,
		"lsp_workspace_symbols": false,
		"lsp_diagnostics":       false,
		"lsp_rename":            false,
		"lsp_code_actions":      false,
		"lsp_status":            false,
	}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for name := range tools {
		if _, ok := expected[name]; ok {
			expected[name] = true
		} else {
			t.Errorf("unexpected tool: %s", name)
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleHover(t *testing.T) {
	svc := &mockService{}
	s := newServer(svc)

	result := callTool(t, s, "lsp_hover", map[string]any{"file": "/ws/main.go", "line": 3.0, "character": 7.0})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	if got := resultText(t, result); got != "func main()" {
		t.Errorf("unexpected hover text %q", got)
	}
	if svc.lastFile != "/ws/main.go" || svc.lastPos != (lspDomain.Position{Line: 3, Character: 7}) {
		t.Errorf("unexpected call %s %+v", svc.lastFile, svc.lastPos)
	}
}

func TestHandleDefinitionOneBased(t *testing.T) {
	s := newServer(&mockService{})

	result := callTool(t, s, "lsp_definition", map[string]any{"file": "/ws/main.go", "line": 0.0, "character": 0.0})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	var locs []struct {
		File      string `json:"file"`
		Line      int    `json:"line"`
		Character int    `json:"character"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &locs); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(locs) != 1 || locs[0].File != "/ws/main.go" || locs[0].Line != 10 || locs[0].Character != 5 {
		t.Errorf("unexpected locations %+v", locs)
	}
}

func TestHandleReferencesDefaults(t *testing.T) {
	svc := &mockService{}
	s := newServer(svc)

	result := callTool(t, s, "lsp_references", map[string]any{"file": "/ws/main.go", "line": 1.0, "character": 1.0})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	if !svc.inclDecl {
		t.Error("include_declaration should default to true")
	}
	if got := resultText(t, result); got != "[]" {
		t.Errorf("expected an empty JSON array, got %s", got)
	}

	callTool(t, s, "lsp_references", map[string]any{
		"file": "/ws/main.go", "line": 1.0, "character": 1.0, "include_declaration": false,
	})
	if svc.inclDecl {
		t.Error("include_declaration=false was ignored")
	}
}

func TestHandleDiagnostics(t *testing.T) {
	s := newServer(&mockService{})

	result := callTool(t, s, "lsp_diagnostics", map[string]any{"file": "/ws/main.go"})
	text := resultText(t, result)
	if !strings.Contains(text, `"severity":"error"`) || !strings.Contains(text, `"line":3`) {
		t.Errorf("unexpected diagnostics %s", text)
	}
}

func TestHandleCodeActionsResolvesEdits(t *testing.T) {
	svc := &mockService{}
	s := newServer(svc)

	result := callTool(t, s, "lsp_code_actions", map[string]any{"file": "/ws/main.go", "start_line": 4.0})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	var actions []lspDomain.CodeAction
	if err := json.Unmarshal([]byte(resultText(t, result)), &actions); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Edit == nil {
		t.Error("expected the first action to be resolved")
	}
	if svc.resolved != 1 {
		t.Errorf("actions carrying a command must not be resolved, got %d resolves", svc.resolved)
	}
}

func TestHandleArgumentErrors(t *testing.T) {
	s := newServer(&mockService{})

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing file", "lsp_hover", map[string]any{"line": 1.0, "character": 1.0}},
		{"relative file", "lsp_hover", map[string]any{"file": "main.go", "line": 1.0, "character": 1.0}},
		{"missing line", "lsp_definition", map[string]any{"file": "/ws/main.go", "character": 1.0}},
		{"negative character", "lsp_definition", map[string]any{"file": "/ws/main.go", "line": 1.0, "character": -1.0}},
		{"missing query", "lsp_workspace_symbols", map[string]any{"file": "/ws/main.go"}},
		{"missing new_name", "lsp_rename", map[string]any{"file": "/ws/main.go", "line": 1.0, "character": 1.0}},
		{"inverted range", "lsp_code_actions", map[string]any{"file": "/ws/main.go", "start_line": 5.0, "end_line": 2.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := callTool(t, s, tt.tool, tt.args); !result.IsError {
				t.Fatal("expected an error result")
			}
		})
	}
}

func TestHandleServiceError(t *testing.T) {
	s := newServer(&mockService{err: &lspDomain.ServerError{Code: -32603, Message: "no package for file"}})

	result := callTool(t, s, "lsp_hover", map[string]any{"file": "/ws/main.go", "line": 1.0, "character": 1.0})
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	if got := resultText(t, result); got != "no package for file" {
		t.Errorf("expected the server message verbatim, got %q", got)
	}

	s = newServer(&mockService{err: errors.New("boom")})
	result = callTool(t, s, "lsp_document_symbols", map[string]any{"file": "/ws/main.go"})
	if !result.IsError {
		t.Fatal("expected an error result")
	}
}

func TestStatusToolAndResource(t *testing.T) {
	s := newServer(&mockService{})

	result := callTool(t, s, "lsp_status", nil)
	var st lspDomain.Status
	if err := json.Unmarshal([]byte(resultText(t, result)), &st); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(st.Servers) != 1 || st.Servers[0].ServerID != "gopls" {
		t.Errorf("unexpected status %+v", st)
	}

	msg := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"codeintel://lsp/status"}}`))
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	if !strings.Contains(string(raw), `codeintel://lsp/status`) || !strings.Contains(string(raw), `gopls`) {
		t.Errorf("unexpected resource response %s", raw)
	}
}

func TestAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"wrong", "secret", "Bearer nope", http.StatusForbidden},
		{"bearer", "secret", "Bearer secret", http.StatusOK},
		{"raw", "secret", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			cfmcp.AuthMiddleware(func() string { return tt.key }, next).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
