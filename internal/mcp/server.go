// Package mcp serves the browser tool table to external MCP clients over
// stdio or SSE.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/journal"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server wires the MCP runtime to a tool table and the action journal.
type Server struct {
	cfg       config.Config
	table     *tools.Table
	journal   *journal.Journal
	mcpServer *mcpserver.MCPServer
	logger    *zap.Logger
}

// NewServer registers every tool in table. The journal may be nil.
func NewServer(cfg config.Config, table *tools.Table, j *journal.Journal, logger *zap.Logger) *Server {
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, false),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	s := &Server{
		cfg:       cfg,
		table:     table,
		journal:   j,
		mcpServer: mcpSrv,
		logger:    observability.OrNop(logger).Named("mcp"),
	}
	s.registerAllTools()
	s.registerAllResources()
	return s
}

// Start serves over stdio until ctx ends. Stdout carries only protocol frames.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("SSE server listening", zap.Int("port", port))
	select {
	case <-ctx.Done():
		s.logger.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool runs a tool directly, bypassing the transport.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) envelope.Result {
	raw, err := json.Marshal(args)
	if err != nil {
		return envelope.Fail("%v: %v", tools.ErrMalformedArguments, err)
	}
	return s.table.Call(ctx, name, string(raw))
}

func (s *Server) registerAllTools() {
	for _, spec := range s.table.Specs() {
		tool := mcp.NewToolWithRawSchema(spec.Name, spec.Description, spec.Schema())
		s.mcpServer.AddTool(tool, s.wrapTool(spec.Name))
	}
}

func (s *Server) wrapTool(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		res := s.ExecuteTool(ctx, name, args)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(res.JSON())},
			IsError: !res.Success,
		}, nil
	}
}
