// Package pipeline clusters the articles of each news category into
// bounded-size partition files.
//
// For a base directory B and category C the pipeline reads B/C/articles and
// writes leaves into B/C/clusters. Categories run concurrently on disjoint
// directories; each run is recorded in the catalog when one is configured.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/newscluster/internal/allocator"
	"github.com/dshills/newscluster/internal/embedder"
	"github.com/dshills/newscluster/internal/loader"
	"github.com/dshills/newscluster/internal/partitioner"
	"github.com/dshills/newscluster/internal/splitter"
	"github.com/dshills/newscluster/internal/storage"
	"github.com/dshills/newscluster/internal/writer"
	"github.com/dshills/newscluster/pkg/types"
)

// Directory names below each category.
const (
	ArticlesDirName = "articles"
	ClustersDirName = "clusters"
)

var ErrRunInProgress = errors.New("category is already being clustered")

// Config controls a Pipeline.
type Config struct {
	Workers        int // categories processed at once, default NumCPU
	EmbedBatchSize int // texts per provider request, default embedder.DefaultBatchSize
	Splitter       splitter.Config
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCatalog records runs and partitions in store.
func WithCatalog(store storage.Storage) Option {
	return func(p *Pipeline) { p.catalog = store }
}

// WithAllocator replaces the directory-scan allocator.
func WithAllocator(a allocator.Allocator) Option {
	return func(p *Pipeline) { p.alloc = a }
}

// WithPartitioner replaces the k-means partitioner.
func WithPartitioner(part partitioner.Partitioner) Option {
	return func(p *Pipeline) { p.partitioner = part }
}

// Pipeline coordinates load -> split -> write for categories.
type Pipeline struct {
	cfg         Config
	embedder    embedder.Embedder
	partitioner partitioner.Partitioner
	alloc       allocator.Allocator
	catalog     storage.Storage
	locks       lockSet
}

// New creates a Pipeline that embeds with emb.
func New(cfg Config, emb embedder.Embedder, opts ...Option) (*Pipeline, error) {
	if emb == nil {
		return nil, errors.New("pipeline: embedder is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = embedder.DefaultBatchSize
	}
	if err := cfg.Splitter.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:         cfg,
		embedder:    emb,
		partitioner: partitioner.New(),
		alloc:       allocator.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ArticlesDir is where a category's input lives.
func ArticlesDir(base, category string) string {
	return filepath.Join(base, category, ArticlesDirName)
}

// ClustersDir is where a category's partitions are written.
func ClustersDir(base, category string) string {
	return filepath.Join(base, category, ClustersDirName)
}

// CategoryResult is the outcome of clustering one category.
type CategoryResult struct {
	Category    string
	RunID       string
	ArticlesDir string
	ClustersDir string
	Loaded      int
	Malformed   int
	Report      *splitter.Report
	Duration    time.Duration
	Err         error // load failure or joined batch failures
}

// Failed reports whether anything in the category went wrong.
func (r *CategoryResult) Failed() bool {
	return r.Err != nil
}

// Result collects the per-category outcomes of Run.
type Result struct {
	Categories []*CategoryResult
}

// Failed counts categories with errors.
func (r *Result) Failed() int {
	n := 0
	for _, c := range r.Categories {
		if c.Failed() {
			n++
		}
	}
	return n
}

// Err joins the errors of all failed categories.
func (r *Result) Err() error {
	var errs []error
	for _, c := range r.Categories {
		if c.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Category, c.Err))
		}
	}
	return errors.Join(errs...)
}

// Run clusters every category under base concurrently. A failing category
// does not stop the others; only context cancellation aborts the run.
func (p *Pipeline) Run(ctx context.Context, base string, categories []string) (*Result, error) {
	categories = slices.Compact(slices.Sorted(slices.Values(categories)))
	result := &Result{Categories: make([]*CategoryResult, len(categories))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, category := range categories {
		g.Go(func() error {
			res, err := p.RunCategory(gctx, base, category)
			if err != nil && gctx.Err() != nil {
				return err
			}
			if res == nil {
				res = &CategoryResult{Category: category, Err: err}
			}
			result.Categories[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// RunCategory clusters one category. The returned error is non-nil only for
// context cancellation or a concurrent run of the same category; other
// problems are reported in CategoryResult.Err.
func (p *Pipeline) RunCategory(ctx context.Context, base, category string) (*CategoryResult, error) {
	lock := p.locks.get(filepath.Join(base, category))
	if !lock.TryAcquire() {
		return nil, fmt.Errorf("%s: %w", category, ErrRunInProgress)
	}
	defer lock.Release()

	start := time.Now()
	res := &CategoryResult{
		Category:    category,
		RunID:       uuid.NewString(),
		ArticlesDir: ArticlesDir(base, category),
		ClustersDir: ClustersDir(base, category),
	}
	logger := log.With().Str("category", category).Str("run_id", res.RunID).Logger()

	run := p.startRun(ctx, res, base, start)

	loaded, err := loader.LoadDir(ctx, res.ArticlesDir)
	if err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		if ctx.Err() != nil {
			p.finishRun(context.WithoutCancel(ctx), run, res)
			return nil, ctx.Err()
		}
		p.finishRun(ctx, run, res)
		logger.Error().Err(err).Msg("failed to load articles")
		return res, nil
	}
	res.Loaded = len(loaded.Records)
	res.Malformed = len(loaded.Malformed)

	opts := []writer.Option{}
	if run != nil {
		runID := run.ID
		opts = append(opts, writer.WithCatalog(writer.CatalogFunc(func(ctx context.Context, part types.Partition) error {
			return p.catalog.RecordPartition(ctx, runID, part)
		})))
	}

	embed := splitter.EmbedFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		return embedder.EmbedAll(ctx, p.embedder, texts, p.cfg.EmbedBatchSize)
	})

	s, err := splitter.New(p.cfg.Splitter, embed, p.partitioner, writer.New(p.alloc, opts...))
	if err != nil {
		return nil, err
	}

	report, err := s.Split(ctx, res.ClustersDir, loaded.Records)
	res.Report = report
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		p.finishRun(context.WithoutCancel(ctx), run, res)
		return nil, err
	}
	res.Err = report.Err()
	p.finishRun(ctx, run, res)

	event := logger.Info()
	if res.Err != nil {
		event = logger.Warn().Err(res.Err)
	}
	event.
		Int("records", report.RecordsIn).
		Int("dropped", report.RecordsDropped).
		Int("persisted", report.RecordsPersisted).
		Int("malformed", res.Malformed).
		Int("leaves", len(report.Leaves)).
		Int("rounds", report.Rounds).
		Int("fallbacks", report.Fallbacks).
		Int("failed_batches", len(report.Failures)).
		Dur("duration", res.Duration).
		Msg("category clustered")

	return res, nil
}

// startRun records the run in the catalog. It returns nil when there is no
// catalog or it could not be written.
func (p *Pipeline) startRun(ctx context.Context, res *CategoryResult, base string, start time.Time) *storage.Run {
	if p.catalog == nil {
		return nil
	}
	run := &storage.Run{
		ID:        res.RunID,
		Category:  res.Category,
		BaseDir:   base,
		Status:    storage.RunRunning,
		StartedAt: start.UTC(),
	}
	if err := p.catalog.CreateRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("category", res.Category).Msg("catalog unavailable for run")
		return nil
	}
	return run
}

func (p *Pipeline) finishRun(ctx context.Context, run *storage.Run, res *CategoryResult) {
	if run == nil {
		return
	}

	run.Malformed = res.Malformed
	run.FinishedAt = run.StartedAt.Add(res.Duration)
	switch {
	case res.Report == nil, errors.Is(res.Err, context.Canceled), errors.Is(res.Err, context.DeadlineExceeded):
		run.Status = storage.RunFailed
	case len(res.Report.Failures) > 0:
		run.Status = storage.RunPartial
	default:
		run.Status = storage.RunCompleted
	}
	if res.Report != nil {
		run.RecordsIn = res.Report.RecordsIn
		run.RecordsDropped = res.Report.RecordsDropped
		run.RecordsPersisted = res.Report.RecordsPersisted
		run.Leaves = len(res.Report.Leaves)
		run.Rounds = res.Report.Rounds
		run.Fallbacks = res.Report.Fallbacks
		run.FailedBatches = len(res.Report.Failures)
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}

	if err := p.catalog.FinishRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to record run outcome")
	}
}
