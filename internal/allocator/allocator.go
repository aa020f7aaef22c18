// Package allocator hands out the next unused integer filename in a
// partition directory.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
)

var idFile = regexp.MustCompile(`^\d+\.json$`)

// Allocator returns a fresh partition number for dir.
type Allocator interface {
	NextID(ctx context.Context, dir string) (int, error)
}

// DirAllocator derives ids from the files already in a directory and
// remembers what it has handed out, so two calls in one process never return
// the same id even before the first file is written.
type DirAllocator struct {
	mu       sync.Mutex
	reserved map[string]int
}

// New creates a DirAllocator.
func New() *DirAllocator {
	return &DirAllocator{reserved: make(map[string]int)}
}

// NextID returns max(existing ids, ids reserved for dir) + 1, or 0 when the
// directory holds no partition files and nothing was reserved yet. A missing
// directory counts as empty.
func (a *DirAllocator) NextID(ctx context.Context, dir string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", dir, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	highest, found, err := Scan(dir)
	if err != nil {
		return 0, err
	}

	next := 0
	if found {
		next = highest + 1
	}
	if last, ok := a.reserved[key]; ok && last+1 > next {
		next = last + 1
	}

	a.reserved[key] = next
	return next, nil
}

// Scan returns the highest id among `<n>.json` files in dir. found is false
// when there are none or the directory does not exist.
func Scan(dir string) (highest int, found bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("scan %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := ParseID(e.Name())
		if !ok {
			continue
		}
		if !found || id > highest {
			highest = id
			found = true
		}
	}
	return highest, found, nil
}

// ParseID extracts n from a file named `<n>.json`.
func ParseID(name string) (int, bool) {
	if !idFile.MatchString(name) {
		return 0, false
	}
	id, err := strconv.Atoi(name[:len(name)-len(".json")])
	if err != nil {
		return 0, false
	}
	return id, true
}

// FileName is the partition file name for id.
func FileName(id int) string {
	return strconv.Itoa(id) + ".json"
}
