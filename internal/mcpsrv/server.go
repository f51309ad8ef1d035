package mcpsrv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/tmcfar/evidence-mcp/internal/config"
	"github.com/tmcfar/evidence-mcp/internal/corrective"
	"github.com/tmcfar/evidence-mcp/internal/engine"
	"github.com/tmcfar/evidence-mcp/internal/lexical"
	"github.com/tmcfar/evidence-mcp/internal/provider"
	"github.com/tmcfar/evidence-mcp/internal/rerank"
	"github.com/tmcfar/evidence-mcp/internal/store"
	"github.com/tmcfar/evidence-mcp/internal/vecindex"
)

const (
	// ServerName is the MCP server name
	ServerName = "evidence-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	engine *engine.Engine
	store  store.Store
	logger *slog.Logger
}

// NewServer builds the full retrieval engine from config and wraps it in an
// MCP server. The vector index is loaded (not rebuilt) at startup; a missing
// embedding provider leaves the engine in keyword-only mode.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	embedder, err := provider.NewEmbedder(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	judge, err := provider.NewJudge(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize judge provider: %w", err)
	}

	index := vecindex.New(embedder, st, cfg.IndexDir(), logger)
	if embedder != nil {
		if err := index.Load(); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to load vector index: %w", err)
		}
	}

	lex := lexical.New(st, cfg.Lexical, logger)

	reranker := rerank.New(judge, rerank.Config{
		Policy:        rerank.Policy(cfg.Rerank.Policy),
		MaxCandidates: cfg.Rerank.MaxCandidates,
		MaxChars:      cfg.Rerank.MaxChars,
		Timeout:       time.Duration(cfg.Rerank.TimeoutSeconds) * time.Second,
	}, logger)

	loop := corrective.New(judge, corrective.Config{
		MaxIters:     cfg.Corrective.MaxIters,
		MinRelevance: cfg.Corrective.MinRelevance,
	}, logger)

	eng := engine.New(st, lex, index, reranker, loop, cfg, logger)

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:    mcpServer,
		engine: eng,
		store:  st,
		logger: logger,
	}

	s.registerTools()

	logger.Info("server_initialized",
		slog.String("data_dir", cfg.DataDir),
		slog.String("build_mode", store.BuildMode),
		slog.Bool("semantic_enabled", index.Status().Enabled))

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.store.Close() }()
	return server.ServeStdio(s.mcp)
}

// Engine exposes the underlying engine for non-MCP entry points.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(retrieveTool(), s.handleRetrieve)
	s.mcp.AddTool(addChunksTool(), s.handleAddChunks)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuildIndex)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(recentQueriesTool(), s.handleRecentQueries)
}
