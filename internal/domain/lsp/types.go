// Package lsp defines domain types for Language Server Protocol integration.
// These types represent LSP concepts (diagnostics, locations, symbols, edits) in a
// transport-independent way for use across the service, adapter, and handler layers.
package lsp

import "encoding/json"

// Position in a text document (0-based line and character).
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Intersects reports whether r and o share at least one position.
// Touching ranges (end == start) count as intersecting, matching how
// editors attach diagnostics to zero-width ranges.
func (r Range) Intersects(o Range) bool {
	return !r.End.Before(o.Start) && !o.End.Before(r.Start)
}

// Location links a URI to a range.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// DiagnosticSeverity mirrors LSP DiagnosticSeverity.
const (
	SeverityError   = 1
	SeverityWarning = 2
	SeverityInfo    = 3
	SeverityHint    = 4
)

// SeverityName returns the upper-case label for a severity value.
func SeverityName(s int) string {
	switch s {
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityHint:
		return "HINT"
	default:
		return "INFO"
	}
}

// Diagnostic represents a compiler/linter diagnostic.
type Diagnostic struct {
	Range    Range           `json:"range"`
	Severity int             `json:"severity,omitempty"` // 1=Error, 2=Warning, 3=Info, 4=Hint
	Source   string          `json:"source,omitempty"`
	Message  string          `json:"message"`
	Code     json.RawMessage `json:"code,omitempty"` // number | string
}

// DocumentSymbol represents a symbol in a document (function, class, etc.).
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           int              `json:"kind"` // LSP SymbolKind enum
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	ContainerName  string           `json:"containerName,omitempty"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is a flat symbol with a location, as returned by workspace symbol search.
type SymbolInformation struct {
	Name          string   `json:"name"`
	Kind          int      `json:"kind"`
	Location      Location `json:"location"`
	ContainerName string   `json:"containerName,omitempty"`
}

// HoverResult contains hover information for a position.
type HoverResult struct {
	Contents string `json:"contents"` // Markdown
	Range    *Range `json:"range,omitempty"`
}

// PrepareRenameResult describes whether and where a rename can happen.
// DefaultBehavior is set when the server accepts the rename without
// naming a range itself.
type PrepareRenameResult struct {
	Range           *Range `json:"range,omitempty"`
	Placeholder     string `json:"placeholder,omitempty"`
	DefaultBehavior bool   `json:"defaultBehavior,omitempty"`
}

// TextEdit replaces a range with new text.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// DocumentChangeKind enumerates the entries of WorkspaceEdit.DocumentChanges.
type DocumentChangeKind string

const (
	ChangeEdit   DocumentChangeKind = "edit"
	ChangeCreate DocumentChangeKind = "create"
	ChangeRename DocumentChangeKind = "rename"
	ChangeDelete DocumentChangeKind = "delete"
)

// DocumentChange is one entry of a workspace edit: a set of text edits on a
// versioned document, or a resource operation (create, rename, delete).
type DocumentChange struct {
	Kind    DocumentChangeKind `json:"kind"`
	URI     string             `json:"uri,omitempty"`
	Version *int               `json:"version,omitempty"`
	Edits   []TextEdit         `json:"edits,omitempty"`
	OldURI  string             `json:"oldUri,omitempty"`
	NewURI  string             `json:"newUri,omitempty"`
}

// WorkspaceEdit is the result of a rename or a resolved code action.
type WorkspaceEdit struct {
	Changes         map[string][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []DocumentChange      `json:"documentChanges,omitempty"`
}

// Empty reports whether the edit changes nothing.
func (e *WorkspaceEdit) Empty() bool {
	return e == nil || (len(e.Changes) == 0 && len(e.DocumentChanges) == 0)
}

// Command is a server-side command reference.
type Command struct {
	Title     string            `json:"title"`
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// CodeActionContext carries the diagnostics a code action request is about.
type CodeActionContext struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	Only        []string     `json:"only,omitempty"`
}

// CodeAction is a quick fix or refactoring offered by the server.
// Raw keeps the server's original payload so it can be sent back verbatim
// for codeAction/resolve.
type CodeAction struct {
	Title       string          `json:"title"`
	Kind        string          `json:"kind,omitempty"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
	IsPreferred bool            `json:"isPreferred,omitempty"`
	Edit        *WorkspaceEdit  `json:"edit,omitempty"`
	Command     *Command        `json:"command,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// ConnState is the lifecycle state of a server connection.
type ConnState string

const (
	StateUnstarted    ConnState = "unstarted"
	StateStarting     ConnState = "starting"
	StateInitializing ConnState = "initializing"
	StateReady        ConnState = "ready"
	StateShuttingDown ConnState = "shutting_down"
	StateStopped      ConnState = "stopped"
)

// ServerInfo describes a pooled language server connection.
type ServerInfo struct {
	ID          string    `json:"id"`
	ServerID    string    `json:"server_id"`
	Root        string    `json:"root"`
	State       ConnState `json:"state"`
	Command     string    `json:"command"`
	PID         int       `json:"pid,omitempty"`
	RefCount    int       `json:"ref_count"`
	IdleSeconds float64   `json:"idle_seconds"`
	OpenFiles   int       `json:"open_files"`
	Diagnostics int       `json:"diagnostics"` // Count of cached diagnostics
}

// Status is a snapshot of the pool: live connections, spawn breakers that
// are not closed, and the configured server definitions.
type Status struct {
	Servers      []ServerInfo      `json:"servers"`
	OpenCircuits map[string]string `json:"open_circuits,omitempty"`
	Definitions  []ServerSummary   `json:"definitions"`
}

// ServerSummary is the public view of a ServerDefinition.
type ServerSummary struct {
	ID         string   `json:"id"`
	Command    string   `json:"command"`
	Extensions []string `json:"extensions"`
	Priority   int      `json:"priority,omitempty"`
	Disabled   bool     `json:"disabled,omitempty"`
}
