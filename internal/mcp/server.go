package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/codemem/codemem/internal/embedder"
	"github.com/codemem/codemem/internal/indexer"
	"github.com/codemem/codemem/internal/memory"
	"github.com/codemem/codemem/internal/planner"
	"github.com/codemem/codemem/internal/reranker"
	"github.com/codemem/codemem/internal/scanner"
	"github.com/codemem/codemem/internal/store"
)

const (
	// ServerName is the MCP server name
	ServerName = "codemem"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultDBPath is the default location for the database
	DefaultDBPath = "~/.codemem"
)

// Server wraps the MCP server with application dependencies.
type Server struct {
	mcp       *server.MCPServer
	store     store.Store
	indexer   *indexer.Indexer
	planner   *planner.Planner
	memories  *memory.Manager
	compactor *memory.Compactor
	guard     *CallGuard
	log       zerolog.Logger
}

// NewServer wires the full stack: store, embedder, scanner, memory manager,
// planner, and the optional reranker.
func NewServer(dbPath string, log zerolog.Logger) (*Server, error) {
	if dbPath == "" || dbPath == DefaultDBPath {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".codemem")
	}
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dbFile := filepath.Join(dbPath, "codemem.db")

	st, err := store.New(dbFile, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	emb, err := embedder.Shared()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	memories := memory.NewManager(st, log)
	compactor := memory.NewCompactor(st, log, "", 0)
	if err := compactor.Start(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to start telemetry compaction: %w", err)
	}

	sc := scanner.New(st, log)
	ix := indexer.New(st, sc, emb, memories, log)
	pl := planner.New(st, emb, rerankerOrNil(log), log)

	mcpServer := server.NewMCPServer(ServerName, ServerVersion)

	s := &Server{
		mcp:       mcpServer,
		store:     st,
		indexer:   ix,
		planner:   pl,
		memories:  memories,
		compactor: compactor,
		guard:     NewCallGuard(),
		log:       log.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s, nil
}

// rerankerOrNil returns a typed nil interface when no reranker credential is
// configured, which the planner treats as disabled.
func rerankerOrNil(log zerolog.Logger) planner.Reranker {
	if c := reranker.New(log); c != nil {
		return c
	}
	return nil
}

// Serve starts the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		s.compactor.Stop()
		_ = s.store.Close()
	}()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools.
func (s *Server) registerTools() {
	s.mcp.AddTool(indexProjectTool(), s.handleIndexProject)
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(upsertMemoryTool(), s.handleUpsertMemory)
	s.mcp.AddTool(getMemoryTool(), s.handleGetMemory)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
