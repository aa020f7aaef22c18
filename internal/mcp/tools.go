package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/newscluster/internal/allocator"
	"github.com/dshills/newscluster/internal/config"
	"github.com/dshills/newscluster/internal/pipeline"
	"github.com/dshills/newscluster/internal/storage"
	"github.com/dshills/newscluster/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams        = -32602 // Invalid method parameters
	ErrorCodeInternalError        = -32603 // Internal JSON-RPC error
	ErrorCodeClusteringInProgress = -32002 // Category is already being clustered
	ErrorCodeCatalogDisabled      = -32003 // Tool needs the catalog
)

// maxReportedErrors caps error lists in responses
const maxReportedErrors = 5

// handleClusterCategory handles the cluster_category tool invocation
func (s *Server) handleClusterCategory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	category, base, err := s.categoryArgs(args)
	if err != nil {
		return nil, err
	}

	res, err := s.pipeline.RunCategory(ctx, base, category)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return nil, newMCPError(ErrorCodeClusteringInProgress, "category is already being clustered", map[string]interface{}{
			"category": category,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "clustering failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"run_id":       res.RunID,
		"category":     res.Category,
		"articles_dir": res.ArticlesDir,
		"clusters_dir": res.ClustersDir,
		"loaded":       res.Loaded,
		"malformed":    res.Malformed,
		"duration_ms":  res.Duration.Milliseconds(),
		"success":      !res.Failed(),
	}
	if r := res.Report; r != nil {
		response["records_dropped"] = r.RecordsDropped
		response["records_persisted"] = r.RecordsPersisted
		response["leaves"] = len(r.Leaves)
		response["rounds"] = r.Rounds
		response["fallbacks"] = r.Fallbacks
		response["failed_batches"] = len(r.Failures)
		response["records_failed"] = r.RecordsFailed()

		if len(r.Failures) > 0 {
			var msgs []string
			for _, f := range r.Failures {
				if len(msgs) == maxReportedErrors {
					break
				}
				msgs = append(msgs, f.Error())
			}
			response["errors"] = msgs
		}
	} else if res.Err != nil {
		response["errors"] = []string{res.Err.Error()}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	if s.catalog == nil {
		return nil, newMCPError(ErrorCodeCatalogDisabled, "catalog is disabled; enable catalog.enabled to track runs", nil)
	}

	category := getStringDefault(args, "category", "")
	if category != "" {
		if err := config.ValidateCategory(category); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid category", map[string]interface{}{
				"param":  "category",
				"reason": err.Error(),
			})
		}
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	status, err := s.catalog.GetStatus(ctx, category)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	runs, err := s.catalog.ListRuns(ctx, storage.RunFilter{Category: category, Limit: limit})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list runs", map[string]interface{}{
			"error": err.Error(),
		})
	}

	recent := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		recent = append(recent, formatRun(run))
	}

	response := map[string]interface{}{
		"category": category,
		"statistics": map[string]interface{}{
			"runs":              status.Runs,
			"partitions":        status.Partitions,
			"records_persisted": status.RecordsPersisted,
		},
		"recent_runs": recent,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListPartitions handles the list_partitions tool invocation
func (s *Server) handleListPartitions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	category, base, err := s.categoryArgs(args)
	if err != nil {
		return nil, err
	}

	dir := pipeline.ClustersDir(base, category)
	files, err := listPartitionFiles(dir)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list partitions", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"category":     category,
		"clusters_dir": dir,
		"count":        len(files),
		"partitions":   files,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// categoryArgs validates the category and date arguments and resolves the
// base directory.
func (s *Server) categoryArgs(args map[string]interface{}) (string, string, error) {
	category, ok := args["category"].(string)
	if !ok || category == "" {
		return "", "", newMCPError(ErrorCodeInvalidParams, "category parameter is required", map[string]interface{}{
			"param":  "category",
			"reason": "missing or empty",
		})
	}
	if err := config.ValidateCategory(category); err != nil {
		return "", "", newMCPError(ErrorCodeInvalidParams, "invalid category", map[string]interface{}{
			"param":  "category",
			"reason": err.Error(),
		})
	}

	base, err := s.baseDir(getStringDefault(args, "date", ""))
	if err != nil {
		return "", "", newMCPError(ErrorCodeInvalidParams, "invalid date", map[string]interface{}{
			"param":  "date",
			"reason": err.Error(),
		})
	}
	return category, base, nil
}

type partitionFile struct {
	Number  int    `json:"number"`
	Path    string `json:"path"`
	Records int    `json:"records"`
}

// listPartitionFiles reads dir's partition files in numeric order. A
// missing directory has no partitions.
func listPartitionFiles(dir string) ([]partitionFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []partitionFile{}, nil
	}
	if err != nil {
		return nil, err
	}

	files := []partitionFile{}
	for _, e := range entries {
		n, ok := allocator.ParseID(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var records []types.PersistedRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		files = append(files, partitionFile{Number: n, Path: path, Records: len(records)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Number < files[j].Number })
	return files, nil
}

func formatRun(run *storage.Run) map[string]interface{} {
	out := map[string]interface{}{
		"run_id":            run.ID,
		"category":          run.Category,
		"base_dir":          run.BaseDir,
		"status":            string(run.Status),
		"records_in":        run.RecordsIn,
		"records_dropped":   run.RecordsDropped,
		"records_persisted": run.RecordsPersisted,
		"malformed":         run.Malformed,
		"leaves":            run.Leaves,
		"failed_batches":    run.FailedBatches,
		"started_at":        run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if !run.FinishedAt.IsZero() {
		out["duration_ms"] = run.Duration().Milliseconds()
	}
	if run.Error != "" {
		out["error"] = run.Error
	}
	return out
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

var ErrInvalidDate = errors.New("date must look like " + config.DateFormat)
