package lsp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotStarted is returned when a query reaches a connection that was never started.
	ErrNotStarted = errors.New("lsp connection not started")

	// ErrNotReady is returned while a connection is still starting or initializing.
	ErrNotReady = errors.New("lsp connection not ready")

	// ErrConnectionStopped rejects requests on a stopped (or crashed) connection.
	ErrConnectionStopped = errors.New("lsp connection stopped")

	// ErrPoolClosed is returned by a pool after shutdown.
	ErrPoolClosed = errors.New("lsp pool closed")
)

// StartupError reports that the server subprocess could not be spawned.
type StartupError struct {
	ServerID string
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("start language server %s: %v", e.ServerID, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// HandshakeError reports a failed or timed-out initialize exchange.
type HandshakeError struct {
	ServerID string
	Err      error
	Stderr   string
}

func (e *HandshakeError) Error() string {
	return withStderr(fmt.Sprintf("initialize language server %s: %v", e.ServerID, e.Err), e.Stderr)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// RequestTimeoutError is returned when a request receives no response in time.
// Stderr holds the most recent server error output.
type RequestTimeoutError struct {
	Method  string
	ID      int64
	Timeout time.Duration
	Stderr  string
}

func (e *RequestTimeoutError) Error() string {
	return withStderr(fmt.Sprintf("lsp request %s (id %d) timed out after %s", e.Method, e.ID, e.Timeout), e.Stderr)
}

// ProtocolError describes a malformed frame or payload. It is logged and
// recovered from by the reader; callers never see it.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lsp protocol error: %s: %v", e.Reason, e.Err)
	}
	return "lsp protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ServerError carries the error object of a response. Error returns the
// server's message verbatim.
type ServerError struct {
	Method  string
	Code    int
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// UnsupportedExtensionError is returned when no enabled server handles a file.
type UnsupportedExtensionError struct {
	Extension string
	Path      string
}

func (e *UnsupportedExtensionError) Error() string {
	if e.Extension == "" {
		return fmt.Sprintf("no language server configured for %s (no file extension)", e.Path)
	}
	return fmt.Sprintf("no language server configured for extension %s", e.Extension)
}

// IsTimeout reports whether err is (or wraps) a request timeout.
func IsTimeout(err error) bool {
	var te *RequestTimeoutError
	return errors.As(err, &te)
}

func withStderr(msg, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return msg
	}
	return msg + "; recent server stderr: " + stderr
}
