// Package storage keeps a SQLite catalog of clustering runs and the leaf
// partitions they wrote.
//
// The partition files on disk stay the source of truth. The catalog answers
// questions the directory layout cannot: which run produced a file, how many
// records were dropped or failed, and when a category was last clustered.
//
// # Database Schema
//
// Tables:
//   - runs: one row per category run with its counters and outcome
//   - partitions: one row per written leaf file, with its record ids
//   - sequences: next partition number per output directory
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("newscluster.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	run := &storage.Run{ID: uuid.NewString(), Category: "business"}
//	if err := db.CreateRun(ctx, run); err != nil {
//	    return err
//	}
//	// ... cluster, calling db.RecordPartition for each file ...
//	run.Status = storage.RunCompleted
//	err = db.FinishRun(ctx, run)
//
// # Partition Numbering
//
// NextID implements the same contract as the directory allocator but keeps
// its counter in the sequences table, seeded from the files already in the
// directory. Several processes sharing one catalog therefore never hand out
// the same number.
//
// # Build Tags
//
// The default build uses modernc.org/sqlite and needs no C compiler:
//
//	CGO_ENABLED=0 go build ./...
//
// With the sqlite_cgo tag the package links github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
package storage
