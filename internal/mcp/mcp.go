// Package mcp implements the Model Context Protocol surface for the atlas
// topic engine. It exposes ingestion and retrieval as MCP tools so
// MCP-compatible agents can contribute ideas and explore the stance graph
// without the HTTP API.
package mcp

import (
	"encoding/json"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/microknowledge/atlas/internal/service/topiclayer"
)

// Server wraps the MCP server with the topic layer service.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *topiclayer.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(svc *topiclayer.Service, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"atlas",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// jsonResult renders a tool response as pretty-printed JSON text content.
func jsonResult(v any) *mcplib.CallToolResult {
	data, _ := json.MarshalIndent(v, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

// errorResult renders a tool failure without failing the MCP call itself.
func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}
