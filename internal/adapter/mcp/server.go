// Package mcp exposes the code-intelligence service as Model Context Protocol
// tools, over stdio or streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/codeintel/internal/port/codeintel"
)

// ServerConfig holds MCP server identity.
type ServerConfig struct {
	Name    string
	Version string
}

// Server wraps an mcp-go server with the codeintel tools and resources.
type Server struct {
	cfg       ServerConfig
	svc       codeintel.Service
	mcpServer *mcpserver.MCPServer
	http      *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, svc codeintel.Service) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
			mcpserver.WithInstructions(instructions),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

const instructions = "Code intelligence backed by language servers. Paths are absolute file paths; " +
	"lines and characters are zero-based. The server for a file is chosen by extension and " +
	"its workspace is the nearest directory holding a project marker such as go.mod or .git."

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over in/out until ctx is done or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	slog.Info("mcp server listening on stdio", "name", s.cfg.Name)
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, in, out)
}

// HTTPHandler returns a streamable HTTP handler for mounting on a router.
func (s *Server) HTTPHandler() http.Handler {
	if s.http == nil {
		s.http = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	}
	return s.http
}

// Dispose closes streamable HTTP sessions, if any.
func (s *Server) Dispose(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// toolResultJSON marshals v into a text result.
func toolResultJSON(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err)
	}
	return mcplib.NewToolResultText(string(data))
}
