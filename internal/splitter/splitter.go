package splitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dshills/newscluster/internal/normalizer"
	"github.com/dshills/newscluster/internal/partitioner"
	"github.com/dshills/newscluster/pkg/types"
)

// Defaults for Config.
const (
	DefaultMaxLeafSize     = 15
	DefaultBranchingFactor = 3
	DefaultStallLimit      = 3
	DefaultMaxRounds       = 1000
)

var ErrInvalidConfig = errors.New("invalid splitter config")

// Embedder returns one vector per text, or an error for the whole batch.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedFunc adapts a function to Embedder.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f EmbedFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// Writer persists a leaf partition and returns where it went.
type Writer interface {
	Write(ctx context.Context, dir string, records []types.Record) (string, error)
}

// Config bounds the recursion.
type Config struct {
	MaxLeafSize     int // M: largest batch written as a leaf
	BranchingFactor int // B: clusters requested per round
	StallLimit      int // rounds without shrinking before chunking
	MaxRounds       int // partition rounds per run, 0 for no cap
}

// DefaultConfig returns M=15, B=3, StallLimit=3, MaxRounds=1000.
func DefaultConfig() Config {
	return Config{
		MaxLeafSize:     DefaultMaxLeafSize,
		BranchingFactor: DefaultBranchingFactor,
		StallLimit:      DefaultStallLimit,
		MaxRounds:       DefaultMaxRounds,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	switch {
	case c.MaxLeafSize < 1:
		return fmt.Errorf("%w: max leaf size must be at least 1, got %d", ErrInvalidConfig, c.MaxLeafSize)
	case c.BranchingFactor < 1:
		return fmt.Errorf("%w: branching factor must be at least 1, got %d", ErrInvalidConfig, c.BranchingFactor)
	case c.StallLimit < 0:
		return fmt.Errorf("%w: stall limit must not be negative, got %d", ErrInvalidConfig, c.StallLimit)
	case c.MaxRounds < 0:
		return fmt.Errorf("%w: max rounds must not be negative, got %d", ErrInvalidConfig, c.MaxRounds)
	}
	return nil
}

// Splitter runs the recursive bounded-size clustering.
type Splitter struct {
	cfg         Config
	embedder    Embedder
	partitioner partitioner.Partitioner
	writer      Writer
}

// New creates a Splitter.
func New(cfg Config, emb Embedder, part partitioner.Partitioner, w Writer) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emb == nil || part == nil || w == nil {
		return nil, fmt.Errorf("%w: embedder, partitioner and writer are required", ErrInvalidConfig)
	}
	return &Splitter{cfg: cfg, embedder: emb, partitioner: part, writer: w}, nil
}

type batch struct {
	records []types.Record
	stalls  int
}

// Split partitions records into leaves written under dir. The returned
// error is only non-nil when ctx is done; per-batch failures are in the
// Report.
func (s *Splitter) Split(ctx context.Context, dir string, records []types.Record) (*Report, error) {
	report := &Report{RecordsIn: len(records)}

	usable := make([]types.Record, 0, len(records))
	for _, r := range records {
		r.NormalizedText = normalizer.Normalize(r.Text)
		if !r.Usable() {
			report.RecordsDropped++
			continue
		}
		usable = append(usable, r)
	}
	if report.RecordsDropped > 0 {
		log.Debug().
			Str("dir", dir).
			Int("dropped", report.RecordsDropped).
			Msg("records with empty text dropped")
	}

	queue := []batch{{records: usable}}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		b := queue[0]
		queue = queue[1:]

		if len(b.records) == 0 {
			continue
		}
		if len(b.records) <= s.cfg.MaxLeafSize {
			if err := s.writeLeaf(ctx, dir, b.records, report); err != nil {
				return report, err
			}
			continue
		}

		if b.stalls > s.cfg.StallLimit || (s.cfg.MaxRounds > 0 && report.Rounds >= s.cfg.MaxRounds) {
			log.Debug().
				Str("dir", dir).
				Int("size", len(b.records)).
				Int("stalls", b.stalls).
				Int("rounds", report.Rounds).
				Msg("chunking batch that stopped shrinking")
			report.Fallbacks++
			if err := s.writeChunks(ctx, dir, b.records, report); err != nil {
				return report, err
			}
			continue
		}

		report.Rounds++
		groups, err := s.partition(ctx, b.records)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			stage := StagePartition
			if errors.Is(err, types.ErrEmbeddingFailed) {
				stage = StageEmbed
			}
			report.fail(stage, b.records, err)
			log.Warn().Err(err).Str("dir", dir).Int("size", len(b.records)).Msg("batch abandoned")
			continue
		}

		for _, g := range groups {
			if len(g) == 0 {
				continue
			}
			if len(g) <= s.cfg.MaxLeafSize {
				if err := s.writeLeaf(ctx, dir, g, report); err != nil {
					return report, err
				}
				continue
			}
			stalls := 0
			if len(g) == len(b.records) {
				stalls = b.stalls + 1
			}
			queue = append(queue, batch{records: g, stalls: stalls})
		}
	}

	return report, nil
}

// partition embeds a batch once and groups it by cluster label, keeping the
// relative order of records inside each group.
func (s *Splitter) partition(ctx context.Context, records []types.Record) ([][]types.Record, error) {
	texts := make([]string, len(records))
	for i := range records {
		texts[i] = records[i].NormalizedText
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(records) {
		err = fmt.Errorf("got %d vectors for %d texts", len(vectors), len(records))
	}
	if err != nil {
		return nil, &types.EmbeddingError{
			BatchSize: len(records),
			RecordIDs: types.IDs(records),
			Err:       err,
		}
	}

	k := partitioner.Reduce(vectors, s.cfg.BranchingFactor)
	labels, err := s.partitioner.Partition(ctx, vectors, k)
	for {
		var insufficient *types.InsufficientDataError
		if err == nil || !errors.As(err, &insufficient) || k <= 1 {
			break
		}
		k = partitioner.EffectiveK(k, min(insufficient.Available, k-1))
		labels, err = s.partitioner.Partition(ctx, vectors, k)
	}
	if err != nil {
		return nil, fmt.Errorf("partition %d records: %w", len(records), err)
	}
	if len(labels) != len(records) {
		return nil, fmt.Errorf("partition %d records: got %d labels", len(records), len(labels))
	}

	groups := make([][]types.Record, k)
	for i, l := range labels {
		if l < 0 || l >= k {
			return nil, fmt.Errorf("partition %d records: label %d outside [0,%d)", len(records), l, k)
		}
		groups[l] = append(groups[l], records[i])
	}
	return groups, nil
}

func (s *Splitter) writeChunks(ctx context.Context, dir string, records []types.Record, report *Report) error {
	for start := 0; start < len(records); start += s.cfg.MaxLeafSize {
		end := min(start+s.cfg.MaxLeafSize, len(records))
		if err := s.writeLeaf(ctx, dir, records[start:end], report); err != nil {
			return err
		}
	}
	return nil
}

// writeLeaf returns an error only for context cancellation.
func (s *Splitter) writeLeaf(ctx context.Context, dir string, records []types.Record, report *Report) error {
	path, err := s.writer.Write(ctx, dir, records)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		report.fail(StageWrite, records, err)
		log.Warn().Err(err).Str("dir", dir).Int("size", len(records)).Msg("leaf write failed")
		return nil
	}
	report.Leaves = append(report.Leaves, path)
	report.RecordsPersisted += len(records)
	return nil
}
