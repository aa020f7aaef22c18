package allocator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("[]"), 0o644))
	}
}

func TestNextID_EmptyDir(t *testing.T) {
	id, err := New().NextID(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

func TestNextID_MissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist")
	id, err := New().NextID(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

func TestNextID_AfterHighest(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "0.json", "3.json")

	id, err := New().NextID(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 4, id)
}

func TestNextID_IgnoresOtherNames(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "2.json", "notes.txt", "10.json.bak", "x7.json", "-1.json", "3.JSON")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "99.json"), 0o755))

	id, err := New().NextID(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestNextID_ConsecutiveCallsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "5.json")
	a := New()

	first, err := a.NextID(context.Background(), dir)
	require.NoError(t, err)
	second, err := a.NextID(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 6, first)
	assert.Equal(t, 7, second)
}

func TestNextID_ScanWinsOverStaleReservation(t *testing.T) {
	dir := t.TempDir()
	a := New()

	id, err := a.NextID(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	// another writer published a higher file meanwhile
	touch(t, dir, "8.json")
	id, err = a.NextID(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 9, id)
}

func TestNextID_PerDirectory(t *testing.T) {
	a := New()
	d1, d2 := t.TempDir(), t.TempDir()
	touch(t, d2, "4.json")

	id1, err := a.NextID(context.Background(), d1)
	require.NoError(t, err)
	id2, err := a.NextID(context.Background(), d2)
	require.NoError(t, err)

	assert.Equal(t, 0, id1)
	assert.Equal(t, 5, id2)
}

func TestNextID_Concurrent(t *testing.T) {
	dir := t.TempDir()
	a := New()

	const n = 50
	ids := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := a.NextID(context.Background(), dir)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestNextID_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().NextID(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name string
		id   int
		ok   bool
	}{
		{"0.json", 0, true},
		{"42.json", 42, true},
		{"007.json", 7, true},
		{"a.json", 0, false},
		{"1.txt", 0, false},
		{".json", 0, false},
		{"99999999999999999999999.json", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ParseID(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "12.json", FileName(12))
}
