package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/newscluster/internal/config"
	"github.com/dshills/newscluster/internal/pipeline"
	"github.com/dshills/newscluster/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "newscluster"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	catalog  storage.Storage // nil when the catalog is disabled
	now      func() time.Time
}

// NewServer creates a new MCP server instance. catalog may be nil.
func NewServer(cfg *config.Config, p *pipeline.Pipeline, catalog storage.Storage) (*Server, error) {
	if cfg == nil || p == nil {
		return nil, errors.New("mcp: config and pipeline are required")
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		cfg:      cfg,
		pipeline: p,
		catalog:  catalog,
		now:      time.Now,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until ctx is done or
// stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(clusterCategoryTool(), s.handleClusterCategory)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(listPartitionsTool(), s.handleListPartitions)
	return nil
}

// baseDir resolves the data directory for an optional date argument.
func (s *Server) baseDir(date string) (string, error) {
	cfg := *s.cfg
	if date != "" {
		if _, err := time.Parse(config.DateFormat, date); err != nil {
			return "", ErrInvalidDate
		}
		cfg.Date = date
	}
	return cfg.BaseDir(s.now()), nil
}
