// Package mcp exposes the pipeline to MCP clients: agents can list saved
// sources, read schemas, generate SQL from questions and run validated SQL.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

// Options tune an MCPServer.
type Options struct {
	Version       string
	RecordHistory bool
	HistoryKeep   int
}

// MCPServer wraps the mcp-go server with the NL2SQL tools and resources.
type MCPServer struct {
	pipeline *pipeline.Pipeline
	store    *config.Store
	opts     Options
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer with every tool and resource
// registered. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(p *pipeline.Pipeline, store *config.Store, opts Options, logger *slog.Logger) *MCPServer {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &MCPServer{
		pipeline: p,
		store:    store,
		opts:     opts,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"NL2SQL",
		opts.Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
// Logs must go to stderr in this mode.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr until ctx is done.
func (s *MCPServer) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("MCP HTTP server starting", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.pipeline.Registry().CloseAll()
	s.logger.Info("MCP HTTP server stopped")
	return nil
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:  boolPtr(true),
		OpenWorldHint: boolPtr(false),
	}
}

// executeAnnotation marks nl2sql_execute_sql. It is read-only unless a
// source allows mutations, so clients should not assume it is safe.
func executeAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
		OpenWorldHint:   boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
