package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/debugctx-mcp/internal/indexer"
	"github.com/dshills/debugctx-mcp/internal/observability"
	"github.com/dshills/debugctx-mcp/internal/searcher"
	"github.com/dshills/debugctx-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "debugctx-mcp"
	// DefaultVersion is reported when no build version is set
	DefaultVersion = "dev"
)

// Transports
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Deps are the components the tools are served from
type Deps struct {
	State    storage.Storage
	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher
	Logger   *slog.Logger
	Version  string
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	state    storage.Storage
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.State == nil:
		return nil, errors.New("mcp: state storage is required")
	case deps.Indexer == nil:
		return nil, errors.New("mcp: indexer is required")
	case deps.Searcher == nil:
		return nil, errors.New("mcp: searcher is required")
	}
	if deps.Version == "" {
		deps.Version = DefaultVersion
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, deps.Version, server.WithToolCapabilities(false)),
		state:    deps.State,
		indexer:  deps.Indexer,
		searcher: deps.Searcher,
		logger:   observability.OrDefault(deps.Logger),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the server on the given transport until ctx is done or the
// client disconnects. addr is only used by the SSE transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	switch transport {
	case "", TransportStdio:
		s.logger.Info("server.start", "transport", TransportStdio)
		return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	case TransportSSE:
		return s.serveSSE(ctx, addr)
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", transport, TransportStdio, TransportSSE)
	}
}

func (s *Server) serveSSE(ctx context.Context, addr string) error {
	sse := server.NewSSEServer(s.mcp)
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.start", "transport", TransportSSE, "addr", addr)
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down SSE server: %w", err)
		}
		return nil
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(ingestTool(), s.handleIngest)
	s.mcp.AddTool(analyzeErrorTool(), s.handleAnalyzeError)
	s.mcp.AddTool(getSrcFileTool(), s.handleGetSrcFile)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(cancelIngestionTool(), s.handleCancelIngestion)
}
