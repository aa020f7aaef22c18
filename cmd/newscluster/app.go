package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dshills/newscluster/internal/config"
	"github.com/dshills/newscluster/internal/embedder"
	"github.com/dshills/newscluster/internal/logging"
	"github.com/dshills/newscluster/internal/pipeline"
	"github.com/dshills/newscluster/internal/storage"
)

// app holds the collaborators shared by the subcommands.
type app struct {
	cfg      *config.Config
	embedder embedder.Embedder
	catalog  storage.Storage // nil when the catalog is disabled
	pipeline *pipeline.Pipeline
}

// loadConfig reads --config and applies --log-level, then installs the
// global logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := logging.Setup(cfg.LoggingOptions()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openCatalog(cfg *config.Config) (storage.Storage, error) {
	if !cfg.Catalog.Enabled {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.Catalog.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return store, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	catalog, err := openCatalog(cfg)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	var opts []pipeline.Option
	if catalog != nil {
		// the catalog's sequence table keeps ids unique across processes
		opts = append(opts, pipeline.WithCatalog(catalog), pipeline.WithAllocator(catalog))
	}

	p, err := pipeline.New(pipeline.Config{
		Workers:        cfg.Workers,
		EmbedBatchSize: cfg.Embedding.BatchSize,
		Splitter:       cfg.SplitterConfig(),
	}, emb, opts...)
	if err != nil {
		_ = emb.Close()
		if catalog != nil {
			_ = catalog.Close()
		}
		return nil, err
	}

	log.Debug().
		Str("provider", emb.Provider()).
		Str("model", emb.Model()).
		Bool("catalog", catalog != nil).
		Msg("initialized")

	return &app{cfg: cfg, embedder: emb, catalog: catalog, pipeline: p}, nil
}

func (a *app) Close() {
	if err := a.embedder.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close embedder")
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close catalog")
		}
	}
}
