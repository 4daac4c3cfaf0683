// Package lsptest provides a scripted language server for tests. The test
// binary re-executes itself as the server: call RunIfStub from TestMain and
// launch it through Definition.
package lsptest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/codeintel/internal/adapter/lsp"
	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

const (
	// EnvStub switches the test binary into stub server mode.
	EnvStub = "CODEINTEL_LSP_STUB"
	// EnvMode is a comma-separated list of behaviours.
	EnvMode = "STUB_MODE"
	// EnvLog names a file receiving one line per message the stub receives.
	EnvLog = "STUB_LOG"
)

// Behaviours selectable through EnvMode.
const (
	ModeSilentReferences = "silent-references"  // never answer textDocument/references
	ModeHangShutdown     = "hang-shutdown"      // ignore shutdown and exit
	ModeReverse          = "reverse"            // answer the first three hovers in reverse order
	ModeErrorDefinition  = "error-definition"   // fail textDocument/definition
	ModeCrashOnSymbols   = "crash-on-symbols"   // exit on textDocument/documentSymbol
	ModeExitAfterSymbols = "exit-after-symbols" // answer textDocument/documentSymbol, then exit
	ModePublishDiags     = "publish-diags"      // publish diagnostics on didOpen
	ModeServerRequests   = "server-requests"    // send requests to the client after initialized
	ModeFailInit         = "fail-init"          // reject initialize
)

// DefinitionErrorMessage is returned by ModeErrorDefinition.
const DefinitionErrorMessage = "no definition found for identifier"

// CrashMessage is written to stderr before ModeCrashOnSymbols exits.
const CrashMessage = "fatal: symbol index corrupted"

// RunIfStub turns the current process into the stub server when EnvStub is set.
func RunIfStub() {
	if os.Getenv(EnvStub) != "1" {
		return
	}
	os.Exit(Serve(os.Stdin, os.Stdout))
}

// Definition returns a server definition that launches the stub with modes.
// The second result is the path of the received-message log.
func Definition(t testing.TB, id string, modes ...string) (lspDomain.ServerDefinition, string) {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}
	logPath := filepath.Join(t.TempDir(), "stub.log")
	return lspDomain.ServerDefinition{
		ID:         id,
		Command:    []string{exe},
		Extensions: []string{".go", ".stub"},
		Priority:   1,
		Env: map[string]string{
			EnvStub: "1",
			EnvMode: strings.Join(modes, ","),
			EnvLog:  logPath,
		},
	}, logPath
}

// ReadLog returns the lines logged by the stub so far.
func ReadLog(t testing.TB, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read stub log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// Count returns how many log lines equal line.
func Count(lines []string, line string) int {
	n := 0
	for _, l := range lines {
		if l == line {
			n++
		}
	}
	return n
}

type stub struct {
	out   io.Writer
	wmu   sync.Mutex
	modes map[string]bool
	log   *os.File

	hovers []*lsp.RequestMessage
}

// Serve runs the stub protocol loop until in is closed. It returns the exit code.
func Serve(in io.Reader, out io.Writer) int {
	s := &stub{out: out, modes: make(map[string]bool)}
	for _, m := range strings.Split(os.Getenv(EnvMode), ",") {
		if m = strings.TrimSpace(m); m != "" {
			s.modes[m] = true
		}
	}
	if p := os.Getenv(EnvLog); p != "" {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err == nil {
			s.log = f
			defer f.Close()
		}
	}

	framer := lsp.NewFramer(s.handle)
	if _, err := framer.ReadFrom(in); err != nil {
		return 1
	}
	if s.modes[ModeHangShutdown] {
		// Outlive stdin so the client has to kill the process.
		time.Sleep(time.Hour)
	}
	return 0
}

func (s *stub) record(line string) {
	if s.log != nil {
		_, _ = s.log.WriteString(line + "\n")
	}
}

func (s *stub) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = lsp.WriteFrame(s.out, data)
}

func (s *stub) reply(id lsp.ID, result any) {
	s.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *stub) replyError(id lsp.ID, code int, msg string) {
	s.send(map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": msg}})
}

func (s *stub) handle(msg lsp.Message) {
	switch m := msg.(type) {
	case *lsp.RequestMessage:
		s.record(m.Method)
		s.handleRequest(m)
	case *lsp.NotificationMessage:
		s.record(m.Method)
		s.handleNotification(m)
	case *lsp.ResponseMessage:
		if m.Error != nil {
			s.record(fmt.Sprintf("response %s error %d", m.ID, m.Error.Code))
		} else {
			s.record(fmt.Sprintf("response %s ok %s", m.ID, m.Result))
		}
	}
}

type positionParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	Position lspDomain.Position `json:"position"`
	NewName  string             `json:"newName"`
	Context  json.RawMessage    `json:"context"`
}

func rng(line, from, to int) lspDomain.Range {
	return lspDomain.Range{
		Start: lspDomain.Position{Line: line, Character: from},
		End:   lspDomain.Position{Line: line, Character: to},
	}
}

func (s *stub) handleRequest(m *lsp.RequestMessage) {
	var p positionParams
	_ = json.Unmarshal(m.Params, &p)

	switch m.Method {
	case "initialize":
		if s.modes[ModeFailInit] {
			s.replyError(m.ID, lsp.CodeInternalError, "stub refuses to initialize")
			return
		}
		s.reply(m.ID, map[string]any{
			"capabilities": map[string]any{
				"hoverProvider":           true,
				"definitionProvider":      true,
				"referencesProvider":      true,
				"documentSymbolProvider":  true,
				"workspaceSymbolProvider": true,
				"renameProvider":          map[string]any{"prepareProvider": true},
				"codeActionProvider":      map[string]any{"resolveProvider": true},
				"textDocumentSync":        1,
			},
			"serverInfo": map[string]string{"name": "stub"},
		})
	case "shutdown":
		if s.modes[ModeHangShutdown] {
			return
		}
		s.reply(m.ID, nil)
	case "textDocument/hover":
		if s.modes[ModeReverse] && len(s.hovers) < 3 {
			s.hovers = append(s.hovers, m)
			if len(s.hovers) == 3 {
				for i := len(s.hovers) - 1; i >= 0; i-- {
					s.answerHover(s.hovers[i])
				}
			}
			return
		}
		s.answerHover(m)
	case "textDocument/definition":
		if s.modes[ModeErrorDefinition] {
			s.replyError(m.ID, lsp.CodeRequestFailed, DefinitionErrorMessage)
			return
		}
		s.reply(m.ID, []map[string]any{{
			"targetUri":            p.TextDocument.URI,
			"targetRange":          rng(0, 0, 20),
			"targetSelectionRange": rng(0, 5, 9),
		}})
	case "textDocument/references":
		if s.modes[ModeSilentReferences] {
			return
		}
		var ctx struct {
			IncludeDeclaration bool `json:"includeDeclaration"`
		}
		_ = json.Unmarshal(p.Context, &ctx)
		locs := []lspDomain.Location{{URI: p.TextDocument.URI, Range: rng(4, 1, 5)}}
		if ctx.IncludeDeclaration {
			locs = append(locs, lspDomain.Location{URI: p.TextDocument.URI, Range: rng(0, 5, 9)})
		}
		s.reply(m.ID, locs)
	case "textDocument/documentSymbol":
		if s.modes[ModeCrashOnSymbols] {
			fmt.Fprintln(os.Stderr, CrashMessage)
			os.Exit(3)
		}
		s.reply(m.ID, []lspDomain.DocumentSymbol{{
			Name: "main", Kind: 12, Range: rng(0, 0, 20), SelectionRange: rng(0, 5, 9),
			Children: []lspDomain.DocumentSymbol{{Name: "x", Kind: 13, Range: rng(1, 1, 6), SelectionRange: rng(1, 1, 2)}},
		}})
		if s.modes[ModeExitAfterSymbols] {
			os.Exit(0)
		}
	case "workspace/symbol":
		var q struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(m.Params, &q)
		s.reply(m.ID, []map[string]any{{
			"name":     q.Query,
			"kind":     12,
			"location": map[string]string{"uri": "file:///stub/" + q.Query + ".go"},
		}})
	case "textDocument/prepareRename":
		s.reply(m.ID, map[string]any{"range": rng(p.Position.Line, p.Position.Character, p.Position.Character+4), "placeholder": "main"})
	case "textDocument/rename":
		s.reply(m.ID, map[string]any{
			"documentChanges": []map[string]any{{
				"textDocument": map[string]any{"uri": p.TextDocument.URI, "version": 1},
				"edits":        []lspDomain.TextEdit{{Range: rng(0, 5, 9), NewText: p.NewName}},
			}},
		})
	case "textDocument/codeAction":
		var params struct {
			Context lspDomain.CodeActionContext `json:"context"`
		}
		_ = json.Unmarshal(m.Params, &params)
		s.reply(m.ID, []map[string]any{
			{"title": fmt.Sprintf("fix %d diagnostics", len(params.Context.Diagnostics)), "kind": "quickfix", "data": map[string]int{"id": 1}},
			{"title": "Organize imports", "command": "source.organizeImports"},
		})
	case "codeAction/resolve":
		var action map[string]any
		_ = json.Unmarshal(m.Params, &action)
		action["edit"] = map[string]any{
			"changes": map[string][]lspDomain.TextEdit{"file:///stub/fixed.go": {{Range: rng(0, 0, 0), NewText: "// fixed\n"}}},
		}
		s.reply(m.ID, action)
	default:
		s.replyError(m.ID, lsp.CodeMethodNotFound, "unhandled "+m.Method)
	}
}

func (s *stub) answerHover(m *lsp.RequestMessage) {
	var p positionParams
	_ = json.Unmarshal(m.Params, &p)
	r := rng(p.Position.Line, p.Position.Character, p.Position.Character+1)
	s.reply(m.ID, map[string]any{
		"contents": map[string]string{
			"kind":  "markdown",
			"value": fmt.Sprintf("stub hover %d:%d", p.Position.Line, p.Position.Character),
		},
		"range": r,
	})
}

func (s *stub) handleNotification(m *lsp.NotificationMessage) {
	switch m.Method {
	case "exit":
		if !s.modes[ModeHangShutdown] {
			os.Exit(0)
		}
	case "initialized":
		if s.modes[ModeServerRequests] {
			s.send(map[string]any{"jsonrpc": "2.0", "id": "cfg-1", "method": "workspace/configuration",
				"params": map[string]any{"items": []map[string]string{{"section": "a"}, {"section": "b"}}}})
			s.send(map[string]any{"jsonrpc": "2.0", "id": 900, "method": "custom/unknown", "params": map[string]any{}})
		}
	case "textDocument/didOpen":
		if !s.modes[ModePublishDiags] {
			return
		}
		var p struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
		}
		_ = json.Unmarshal(m.Params, &p)
		s.send(map[string]any{
			"jsonrpc": "2.0",
			"method":  "textDocument/publishDiagnostics",
			"params": map[string]any{
				"uri": p.TextDocument.URI,
				"diagnostics": []lspDomain.Diagnostic{
					{Range: rng(2, 0, 5), Severity: lspDomain.SeverityError, Source: "stub", Message: "undefined: foo"},
					{Range: rng(8, 1, 2), Severity: lspDomain.SeverityWarning, Source: "stub", Message: "unused variable"},
				},
			},
		})
	}
}
