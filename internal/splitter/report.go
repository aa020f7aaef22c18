package splitter

import (
	"errors"
	"fmt"

	"github.com/dshills/newscluster/pkg/types"
)

// Stage names the step a batch failed in.
type Stage string

const (
	StageEmbed     Stage = "embed"
	StagePartition Stage = "partition"
	StageWrite     Stage = "write"
)

// BatchFailure is a batch that produced no leaf.
type BatchFailure struct {
	Stage     Stage
	RecordIDs []int64
	Err       error
}

func (f BatchFailure) Error() string {
	return fmt.Sprintf("%s failed for %d records: %v", f.Stage, len(f.RecordIDs), f.Err)
}

func (f BatchFailure) Unwrap() error { return f.Err }

// Report summarizes a Split run.
type Report struct {
	Leaves           []string
	RecordsIn        int
	RecordsDropped   int // empty after normalization
	RecordsPersisted int
	Rounds           int // batches embedded and partitioned
	Fallbacks        int // batches cut into chunks
	Failures         []BatchFailure
}

func (r *Report) fail(stage Stage, records []types.Record, err error) {
	r.Failures = append(r.Failures, BatchFailure{
		Stage:     stage,
		RecordIDs: types.IDs(records),
		Err:       err,
	})
}

// RecordsFailed counts records that were in failed batches.
func (r *Report) RecordsFailed() int {
	n := 0
	for _, f := range r.Failures {
		n += len(f.RecordIDs)
	}
	return n
}

// Err joins all batch failures, or returns nil when there were none.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
