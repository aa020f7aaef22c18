// Package splitter breaks a collection of articles into leaf partitions of
// bounded size.
//
// A Splitter keeps a queue of batches. Each batch larger than the leaf limit
// is embedded once, clustered into at most BranchingFactor groups and the
// groups are either written as leaves or queued again. A batch that fails to
// shrink for more than StallLimit consecutive rounds, or any batch left once
// MaxRounds partition rounds have run, is cut into contiguous chunks instead,
// so every run terminates with all usable records persisted.
//
// Failures are local to a batch: an embedding error or a failed write is
// recorded in the Report and the remaining queue is still processed.
package splitter
