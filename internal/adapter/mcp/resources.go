package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const statusURI = "codeintel://lsp/status"

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			statusURI,
			"Language server status",
			mcplib.WithResourceDescription("Pooled language server connections, open spawn circuits and configured servers"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)
}

func (s *Server) handleStatusResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(s.svc.Status())
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
