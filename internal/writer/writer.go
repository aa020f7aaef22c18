// Package writer persists leaf partitions as numbered, pretty-printed JSON
// files.
package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dshills/newscluster/internal/allocator"
	"github.com/dshills/newscluster/pkg/types"
)

// Indent matches the layout of existing partition files.
const Indent = "    "

var ErrEmptyPartition = errors.New("partition has no records")

// Catalog is notified of every partition that was published.
type Catalog interface {
	RecordPartition(ctx context.Context, p types.Partition) error
}

// CatalogFunc adapts a function to Catalog.
type CatalogFunc func(ctx context.Context, p types.Partition) error

func (f CatalogFunc) RecordPartition(ctx context.Context, p types.Partition) error {
	return f(ctx, p)
}

// Option configures a Writer.
type Option func(*Writer)

// WithCatalog records written partitions in c.
func WithCatalog(c Catalog) Option {
	return func(w *Writer) { w.catalog = c }
}

// WithFileMode sets the permission of published files.
func WithFileMode(mode os.FileMode) Option {
	return func(w *Writer) { w.mode = mode }
}

// Writer writes leaf partitions into directories, never replacing an
// existing file.
type Writer struct {
	alloc   allocator.Allocator
	catalog Catalog
	mode    os.FileMode
}

// New creates a Writer that numbers files with alloc.
func New(alloc allocator.Allocator, opts ...Option) *Writer {
	w := &Writer{alloc: alloc, mode: 0o644}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write publishes records as dir/<n>.json and returns the path. The file is
// written under a temporary name and hard-linked into place, so readers never
// observe a partial file and an existing <n>.json yields
// *types.AllocationCollisionError instead of being overwritten.
func (w *Writer) Write(ctx context.Context, dir string, records []types.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", ErrEmptyPartition
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	data, err := Encode(records)
	if err != nil {
		return "", err
	}

	id, err := w.alloc.NextID(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("allocate id in %s: %w", dir, err)
	}
	path := filepath.Join(dir, allocator.FileName(id))

	if err := w.publish(dir, path, data); err != nil {
		return "", err
	}

	log.Debug().
		Str("path", path).
		Int("records", len(records)).
		Msg("partition written")

	if w.catalog != nil {
		p := types.Partition{
			Dir:       dir,
			Path:      path,
			Number:    id,
			RecordIDs: types.IDs(records),
		}
		if err := w.catalog.RecordPartition(ctx, p); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("catalog update failed")
		}
	}

	return path, nil
}

func (w *Writer) publish(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".partition-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, w.mode); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}

	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &types.AllocationCollisionError{Path: path}
		}
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// Encode renders records as the persisted JSON array.
func Encode(records []types.Record) ([]byte, error) {
	projected := make([]types.PersistedRecord, len(records))
	for i := range records {
		projected[i] = records[i].Project()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", Indent)
	if err := enc.Encode(projected); err != nil {
		return nil, fmt.Errorf("encode partition: %w", err)
	}
	return buf.Bytes(), nil
}
