// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tejzpr/companion-memory/internal/tools"
)

// Version is reported to MCP clients
const Version = "1.0.0"

// MCPServer wraps the mcp-go server with the companion tools
type MCPServer struct {
	mcpServer *server.MCPServer
	toolCtx   *tools.ToolContext
	logger    *log.Logger
}

// NewMCPServer creates the server and registers every tool
func NewMCPServer(toolCtx *tools.ToolContext, logger *log.Logger) *MCPServer {
	if logger == nil {
		logger = log.Default()
	}
	mcpServer := server.NewMCPServer(
		"Companion Memory",
		Version,
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		toolCtx:   toolCtx,
		logger:    logger.With("component", "mcp"),
	}
	s.registerTools()
	return s
}

func (s *MCPServer) registerTools() {
	registered := []struct {
		tool    mcp.Tool
		handler tools.Handler
	}{
		// companion_recall: semantic search or recent listing
		{tools.NewRecallTool(), tools.RecallHandler(s.toolCtx)},
		// companion_remember: add a memory by hand
		{tools.NewRememberTool(), tools.RememberHandler(s.toolCtx)},
		{tools.NewProfileTool(), tools.ProfileHandler(s.toolCtx)},
		{tools.NewEmotionsTool(), tools.EmotionsHandler(s.toolCtx)},
		// companion_forget: hard delete, row and embedding
		{tools.NewForgetTool(), tools.ForgetHandler(s.toolCtx)},
		{tools.NewIndexStatsTool(), tools.IndexStatsHandler(s.toolCtx)},
	}
	for _, r := range registered {
		s.mcpServer.AddTool(r.tool, server.ToolHandlerFunc(r.handler))
	}
	s.logger.Debug("tools registered", "count", len(registered))
}

// ServeStdio serves MCP over stdin/stdout until EOF
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
