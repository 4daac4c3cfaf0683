// Package event defines the events codeintel broadcasts about language
// servers and their diagnostics.
package event

import (
	"time"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

// Type identifies the kind of event. It doubles as the NATS subject.
type Type = string

const (
	TypeLSPDiagnostic Type = "lsp.diagnostic"
	TypeLSPStatus     Type = "lsp.status"
)

// Status values carried by StatusEvent.
const (
	StatusSpawned = "spawned"
	StatusReady   = "ready"
	StatusStopped = "stopped"
	StatusEvicted = "evicted"
	StatusFailed  = "failed"
	StatusCrashed = "crashed"
)

// DiagnosticEvent is broadcast when a server publishes diagnostics for a document.
type DiagnosticEvent struct {
	Root        string                 `json:"root"`
	ServerID    string                 `json:"server_id"`
	URI         string                 `json:"uri"`
	Diagnostics []lspDomain.Diagnostic `json:"diagnostics"`
	Timestamp   time.Time              `json:"timestamp"`
}

// StatusEvent is broadcast when a pooled connection changes lifecycle state.
type StatusEvent struct {
	Root      string    `json:"root"`
	ServerID  string    `json:"server_id"`
	ConnID    string    `json:"conn_id,omitempty"`
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
