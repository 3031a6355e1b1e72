// Package mcpserver implements an MCP (Model Context Protocol) server that
// exposes the check-in table as typed tools over stdio JSON-RPC, so an
// assistant can review and tidy a user's scheduled check-ins.
package mcpserver

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/bevel/coach/internal/config"
	"github.com/bevel/coach/internal/db"
)

// Server holds the MCP server state.
type Server struct {
	db       *db.DB
	log      *zap.Logger
	readOnly bool
}

// NewServer creates an MCP server backed by the given database. In
// read-only mode the write tools are not offered and refuse to run.
func NewServer(database *db.DB, log *zap.Logger, readOnly bool) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{db: database, log: log, readOnly: readOnly}
}

// Tools returns the tools this server offers.
func (s *Server) Tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: listCheckInsTool(), Handler: s.handleListCheckIns},
		{Tool: getCheckInTool(), Handler: s.handleGetCheckIn},
	}
	if !s.readOnly {
		tools = append(tools,
			server.ServerTool{Tool: updateCheckInTool(), Handler: s.handleUpdateCheckIn},
			server.ServerTool{Tool: setCheckInStatusTool(), Handler: s.handleSetCheckInStatus},
			server.ServerTool{Tool: deleteCheckInTool(), Handler: s.handleDeleteCheckIn},
		)
	}
	return tools
}

// Run serves MCP over stdin/stdout. It blocks until ctx is cancelled or
// stdin is closed. Logs go to stderr since stdout carries the protocol.
func (s *Server) Run(ctx context.Context) error {
	mcpServer := server.NewMCPServer(
		"coach",
		config.Version,
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTools(s.Tools()...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.log.Named("mcp")))

	s.log.Info("mcp server ready", zap.Bool("read_only", s.readOnly), zap.Int("tools", len(s.Tools())))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
