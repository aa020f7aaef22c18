package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/newscluster/internal/config"
	"github.com/dshills/newscluster/internal/embedder"
	"github.com/dshills/newscluster/internal/pipeline"
	"github.com/dshills/newscluster/internal/storage"
)

const testDate = "2024-03-01"

func newTestServer(t *testing.T, withCatalog bool) (*Server, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Date = testDate

	emb, err := embedder.NewLocalProvider(embedder.NewCache(100))
	require.NoError(t, err)

	var (
		catalog storage.Storage
		opts    []pipeline.Option
	)
	if withCatalog {
		store, err := storage.NewSQLiteStorage(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		catalog = store
		opts = append(opts, pipeline.WithCatalog(store))
	}

	p, err := pipeline.New(pipeline.Config{Workers: 1, Splitter: cfg.SplitterConfig()}, emb, opts...)
	require.NoError(t, err)

	s, err := NewServer(cfg, p, catalog)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC) }
	return s, cfg
}

func seed(t *testing.T, base, category string, n int) {
	t.Helper()
	dir := pipeline.ArticlesDir(base, category)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 0; i < n; i++ {
		body := fmt.Sprintf(`{"id": %d, "title": "t%d", "text": "Wheat harvest report %d from Punjab"}`, i, i, i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("a%03d.json", i)), []byte(body), 0o644))
	}
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestNewServer(t *testing.T) {
	s, _ := newTestServer(t, false)
	assert.NotNil(t, s.mcp)
	assert.Nil(t, s.catalog)

	_, err := NewServer(nil, nil, nil)
	assert.Error(t, err)
}

func TestClusterCategory(t *testing.T) {
	s, cfg := newTestServer(t, true)
	base := filepath.Join(cfg.DataDir, testDate)
	seed(t, base, "business", 12)

	res, err := s.handleClusterCategory(context.Background(), call(map[string]interface{}{"category": "business"}))
	require.NoError(t, err)

	out := decode(t, res)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "business", out["category"])
	assert.Equal(t, float64(12), out["records_persisted"])
	assert.Equal(t, float64(1), out["leaves"])
	assert.NotEmpty(t, out["run_id"])
	assert.FileExists(t, filepath.Join(pipeline.ClustersDir(base, "business"), "0.json"))
}

func TestClusterCategory_ExplicitDate(t *testing.T) {
	s, cfg := newTestServer(t, false)
	base := filepath.Join(cfg.DataDir, "2023-12-31")
	seed(t, base, "pakistan", 3)

	res, err := s.handleClusterCategory(context.Background(), call(map[string]interface{}{
		"category": "pakistan",
		"date":     "2023-12-31",
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(3), decode(t, res)["records_persisted"])
}

func TestClusterCategory_MissingArticles(t *testing.T) {
	s, _ := newTestServer(t, false)

	res, err := s.handleClusterCategory(context.Background(), call(map[string]interface{}{"category": "business"}))
	require.NoError(t, err)

	out := decode(t, res)
	assert.Equal(t, false, out["success"])
	assert.NotEmpty(t, out["errors"])
}

func TestClusterCategory_InvalidParams(t *testing.T) {
	s, _ := newTestServer(t, false)
	ctx := context.Background()

	_, err := s.handleClusterCategory(ctx, call(map[string]interface{}{}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleClusterCategory(ctx, call(map[string]interface{}{"category": "../secrets"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleClusterCategory(ctx, call(map[string]interface{}{"category": "business", "date": "yesterday"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	var req mcp.CallToolRequest
	req.Params.Arguments = "not a map"
	_, err = s.handleClusterCategory(ctx, req)
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestGetStatus(t *testing.T) {
	s, cfg := newTestServer(t, true)
	base := filepath.Join(cfg.DataDir, testDate)
	seed(t, base, "business", 5)
	ctx := context.Background()

	_, err := s.handleClusterCategory(ctx, call(map[string]interface{}{"category": "business"}))
	require.NoError(t, err)

	res, err := s.handleGetStatus(ctx, call(map[string]interface{}{"category": "business"}))
	require.NoError(t, err)

	out := decode(t, res)
	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, float64(1), stats["runs"])
	assert.Equal(t, float64(1), stats["partitions"])
	assert.Equal(t, float64(5), stats["records_persisted"])

	runs := out["recent_runs"].([]interface{})
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].(map[string]interface{})["status"])
}

func TestGetStatus_Errors(t *testing.T) {
	ctx := context.Background()

	noCatalog, _ := newTestServer(t, false)
	_, err := noCatalog.handleGetStatus(ctx, call(map[string]interface{}{}))
	requireMCPError(t, err, ErrorCodeCatalogDisabled)

	s, _ := newTestServer(t, true)
	_, err = s.handleGetStatus(ctx, call(map[string]interface{}{"limit": float64(0)}))
	requireMCPError(t, err, ErrorCodeInvalidParams)

	_, err = s.handleGetStatus(ctx, call(map[string]interface{}{"category": "a/b"}))
	requireMCPError(t, err, ErrorCodeInvalidParams)
}

func TestListPartitions(t *testing.T) {
	s, cfg := newTestServer(t, false)
	dir := pipeline.ClustersDir(filepath.Join(cfg.DataDir, testDate), "business")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("10.json", `[{"id": 1, "text": "a"}, {"id": 2, "text": "b"}]`)
	write("2.json", `[{"id": 3, "text": "c"}]`)
	write("notes.txt", `ignored`)

	res, err := s.handleListPartitions(context.Background(), call(map[string]interface{}{"category": "business"}))
	require.NoError(t, err)

	out := decode(t, res)
	assert.Equal(t, float64(2), out["count"])
	parts := out["partitions"].([]interface{})
	first := parts[0].(map[string]interface{})
	second := parts[1].(map[string]interface{})
	assert.Equal(t, float64(2), first["number"])
	assert.Equal(t, float64(1), first["records"])
	assert.Equal(t, float64(10), second["number"])
	assert.Equal(t, float64(2), second["records"])
}

func TestListPartitions_NoDirectory(t *testing.T) {
	s, _ := newTestServer(t, false)

	res, err := s.handleListPartitions(context.Background(), call(map[string]interface{}{"category": "pakistan"}))
	require.NoError(t, err)
	assert.Equal(t, float64(0), decode(t, res)["count"])
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeInternalError, "boom", nil)
	assert.Equal(t, "MCP error -32603: boom", err.Error())
}
