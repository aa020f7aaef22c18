package storage

import (
	"context"
	"time"

	"github.com/dshills/newscluster/pkg/types"
)

// Storage defines the catalog of clustering runs and written partitions
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Partition operations
	RecordPartition(ctx context.Context, runID string, p types.Partition) error
	ListPartitions(ctx context.Context, dir string) ([]*Partition, error)
	ListRunPartitions(ctx context.Context, runID string) ([]*Partition, error)

	// NextID allocates a partition number for dir
	NextID(ctx context.Context, dir string) (int, error)

	// Status operations
	GetStatus(ctx context.Context, category string) (*Status, error)

	Close() error
}

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	// RunPartial means the run finished but some batches failed
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Run records one category clustering pass
type Run struct {
	ID               string
	Category         string
	BaseDir          string
	Status           RunStatus
	RecordsIn        int
	RecordsDropped   int
	RecordsPersisted int
	Malformed        int
	Leaves           int
	Rounds           int
	Fallbacks        int
	FailedBatches    int
	Error            string
	StartedAt        time.Time
	FinishedAt       time.Time // zero while running
}

// Duration returns how long the run took, or zero while it is running
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFilter narrows ListRuns
type RunFilter struct {
	Category string // empty for all categories
	Limit    int    // 0 for DefaultRunLimit
}

// DefaultRunLimit caps ListRuns when no limit is given
const DefaultRunLimit = 20

// Partition is a cataloged leaf file
type Partition struct {
	ID        int64
	RunID     string // empty when written outside a run
	Dir       string
	Path      string
	Number    int
	Size      int
	RecordIDs []int64
	CreatedAt time.Time
}

// Status summarizes the catalog, optionally for one category
type Status struct {
	Category         string
	Runs             int
	Partitions       int
	RecordsPersisted int
	LastRun          *Run
}
