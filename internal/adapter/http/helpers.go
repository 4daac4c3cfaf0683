package http

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
	"github.com/Strob0t/codeintel/internal/resilience"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// requireFile writes a 400 error and returns false unless file is a
// non-empty absolute path.
func requireFile(w http.ResponseWriter, file string) bool {
	if file == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return false
	}
	if !filepath.IsAbs(file) {
		writeError(w, http.StatusBadRequest, "file must be an absolute path")
		return false
	}
	return true
}

// requirePosition writes a 400 error for negative coordinates.
func requirePosition(w http.ResponseWriter, pos lspDomain.Position) bool {
	if pos.Line < 0 || pos.Character < 0 {
		writeError(w, http.StatusBadRequest, "line and character must be >= 0")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeLSPError maps a service error onto an HTTP status. Server messages are
// passed through verbatim.
func writeLSPError(w http.ResponseWriter, err error) {
	var (
		unsupported *lspDomain.UnsupportedExtensionError
		serverErr   *lspDomain.ServerError
		startupErr  *lspDomain.StartupError
		handshake   *lspDomain.HandshakeError
	)
	switch {
	case errors.As(err, &unsupported):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case lspDomain.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &serverErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "file not found")
	case errors.As(err, &startupErr), errors.As(err, &handshake),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, lspDomain.ErrPoolClosed),
		errors.Is(err, lspDomain.ErrConnectionStopped),
		errors.Is(err, lspDomain.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		writeInternalError(w, err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// emptyIfNil keeps JSON arrays from encoding as null.
func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
