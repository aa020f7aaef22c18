package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/newscluster/internal/embedder"
	"github.com/dshills/newscluster/internal/splitter"
	"github.com/dshills/newscluster/internal/storage"
	"github.com/dshills/newscluster/pkg/types"
)

type failingEmbedder struct {
	*embedder.LocalProvider
}

func (failingEmbedder) GenerateBatch(context.Context, embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	return nil, errors.New("quota exceeded")
}

func localEmbedder(t *testing.T) embedder.Embedder {
	t.Helper()
	emb, err := embedder.NewLocalProvider(embedder.NewCache(1000))
	require.NoError(t, err)
	return emb
}

func testConfig() Config {
	return Config{Workers: 2, Splitter: splitter.DefaultConfig()}
}

// seedArticles writes n articles for category as one array file plus one
// single-object file.
func seedArticles(t *testing.T, base, category string, n int, startID int64) {
	t.Helper()
	dir := ArticlesDir(base, category)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	words := []string{"budget", "rupee", "cricket", "flood", "exports", "election", "wheat"}
	var batch []map[string]any
	for i := 0; i < n-1; i++ {
		batch = append(batch, map[string]any{
			"id":    startID + int64(i),
			"title": fmt.Sprintf("story %d", i),
			"text":  fmt.Sprintf("%s news about %s and %s", words[i%7], words[(i/7)%7], words[(i*5)%7]),
		})
	}
	data, err := json.Marshal(batch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch.json"), data, 0o644))

	single := fmt.Sprintf(`{"id": %d, "text": "Standalone report on inflation"}`, startID+int64(n-1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "single.json"), []byte(single), 0o644))
}

func readLeaves(t *testing.T, dir string) [][]types.PersistedRecord {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var leaves [][]types.PersistedRecord
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		var leaf []types.PersistedRecord
		require.NoError(t, json.Unmarshal(data, &leaf))
		leaves = append(leaves, leaf)
	}
	return leaves
}

func TestNew_Validation(t *testing.T) {
	_, err := New(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Splitter.MaxLeafSize = 0
	_, err = New(cfg, localEmbedder(t))
	assert.ErrorIs(t, err, splitter.ErrInvalidConfig)
}

func TestDirs(t *testing.T) {
	assert.Equal(t, filepath.Join("base", "business", "articles"), ArticlesDir("base", "business"))
	assert.Equal(t, filepath.Join("base", "business", "clusters"), ClustersDir("base", "business"))
}

func TestRunCategory(t *testing.T) {
	base := t.TempDir()
	seedArticles(t, base, "business", 60, 1000)

	p, err := New(testConfig(), localEmbedder(t))
	require.NoError(t, err)

	res, err := p.RunCategory(context.Background(), base, "business")
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, 60, res.Loaded)
	assert.Equal(t, 60, res.Report.RecordsPersisted)
	assert.NotEmpty(t, res.RunID)

	leaves := readLeaves(t, ClustersDir(base, "business"))
	assert.Len(t, leaves, len(res.Report.Leaves))

	seen := map[int64]int{}
	for _, leaf := range leaves {
		assert.GreaterOrEqual(t, len(leaf), 1)
		assert.LessOrEqual(t, len(leaf), 15)
		for _, r := range leaf {
			seen[r.ID]++
		}
	}
	assert.Len(t, seen, 60)
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %d persisted %d times", id, n)
	}
}

func TestRunCategory_MissingArticles(t *testing.T) {
	p, err := New(testConfig(), localEmbedder(t))
	require.NoError(t, err)

	res, err := p.RunCategory(context.Background(), t.TempDir(), "business")
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.ErrorIs(t, res.Err, os.ErrNotExist)
	assert.Nil(t, res.Report)
}

func TestRunCategory_InProgress(t *testing.T) {
	base := t.TempDir()
	p, err := New(testConfig(), localEmbedder(t))
	require.NoError(t, err)

	lock := p.locks.get(filepath.Join(base, "business"))
	require.True(t, lock.TryAcquire())
	defer lock.Release()

	_, err = p.RunCategory(context.Background(), base, "business")
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestRunCategory_EmbeddingFailureIsPartial(t *testing.T) {
	base := t.TempDir()
	seedArticles(t, base, "business", 40, 1)

	local, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	p, err := New(testConfig(), failingEmbedder{local}, WithCatalog(store))
	require.NoError(t, err)

	res, err := p.RunCategory(context.Background(), base, "business")
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.ErrorIs(t, res.Err, types.ErrEmbeddingFailed)
	assert.Zero(t, res.Report.RecordsPersisted)

	run, err := store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunPartial, run.Status)
	assert.Equal(t, 1, run.FailedBatches)
	assert.NotEmpty(t, run.Error)
}

func TestRun_WithCatalog(t *testing.T) {
	base := t.TempDir()
	seedArticles(t, base, "business", 45, 1)
	seedArticles(t, base, "pakistan", 8, 500)

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	p, err := New(testConfig(), localEmbedder(t), WithCatalog(store), WithAllocator(store))
	require.NoError(t, err)

	result, err := p.Run(context.Background(), base, []string{"pakistan", "business", "pakistan"})
	require.NoError(t, err)
	require.Len(t, result.Categories, 2)
	assert.Zero(t, result.Failed())
	assert.NoError(t, result.Err())

	ctx := context.Background()
	for _, res := range result.Categories {
		run, err := store.GetRun(ctx, res.RunID)
		require.NoError(t, err)
		assert.Equal(t, storage.RunCompleted, run.Status)
		assert.Equal(t, res.Category, run.Category)
		assert.Equal(t, res.Report.RecordsPersisted, run.RecordsPersisted)
		assert.Equal(t, len(res.Report.Leaves), run.Leaves)
		assert.False(t, run.FinishedAt.IsZero())

		parts, err := store.ListPartitions(ctx, res.ClustersDir)
		require.NoError(t, err)
		assert.Len(t, parts, len(res.Report.Leaves))

		total := 0
		for _, part := range parts {
			assert.Equal(t, res.RunID, part.RunID)
			total += part.Size
		}
		assert.Equal(t, res.Report.RecordsPersisted, total)
	}

	pakistan := readLeaves(t, ClustersDir(base, "pakistan"))
	require.Len(t, pakistan, 1, "8 articles fit one leaf")
	assert.Len(t, pakistan[0], 8)
}

func TestRun_OneCategoryFails(t *testing.T) {
	base := t.TempDir()
	seedArticles(t, base, "business", 20, 1)

	p, err := New(testConfig(), localEmbedder(t))
	require.NoError(t, err)

	result, err := p.Run(context.Background(), base, []string{"business", "pakistan"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed())
	assert.ErrorContains(t, result.Err(), "pakistan")

	for _, res := range result.Categories {
		if res.Category == "business" {
			assert.NoError(t, res.Err)
			assert.Equal(t, 20, res.Report.RecordsPersisted)
		}
	}
}

func TestRun_SecondRunContinuesNumbering(t *testing.T) {
	base := t.TempDir()
	seedArticles(t, base, "business", 10, 1)

	p, err := New(testConfig(), localEmbedder(t))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), base, []string{"business"})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), base, []string{"business"})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(ClustersDir(base, "business"), "0.json"))
	assert.FileExists(t, filepath.Join(ClustersDir(base, "business"), "1.json"))
}

func TestRun_Cancelled(t *testing.T) {
	base := t.TempDir()
	seedArticles(t, base, "business", 30, 1)

	p, err := New(testConfig(), localEmbedder(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, base, []string{"business"})
	assert.ErrorIs(t, err, context.Canceled)
}
