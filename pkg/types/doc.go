// Package types provides shared type definitions for the newscluster pipeline.
//
// This package defines the domain types passed between the loader, the
// recursive splitter and the partition writer, plus the error taxonomy those
// components report.
//
// # Core Types
//
// Record is a single news article as collected by the scraper:
//
//	rec := types.Record{
//	    ID:    42,
//	    Title: "SBP keeps policy rate unchanged",
//	    URL:   "https://example.com/sbp-rate",
//	    Text:  articleBody,
//	}
//
// NormalizedText is derived by the normalizer and is never persisted. The
// projected form written to disk is PersistedRecord, which keeps the raw text.
//
// # Errors
//
// Batch-local failures are typed so callers can tell them apart:
//
//	var embErr *types.EmbeddingError
//	if errors.As(err, &embErr) {
//	    // embErr.RecordIDs lists the records of the failed batch
//	}
//
//	var collision *types.AllocationCollisionError
//	if errors.As(err, &collision) {
//	    // destination file already existed, nothing was overwritten
//	}
//
// MalformedInputError is a warning: the loader skips the offending file or
// element and keeps going.
package types
