package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var dateProperty = map[string]interface{}{
	"type":        "string",
	"description": "Data date in YYYY-MM-DD form (default: today)",
	"pattern":     `^\d{4}-\d{2}-\d{2}$`,
}

// clusterCategoryTool returns the tool definition for cluster_category
func clusterCategoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cluster_category",
		Description: "Cluster a news category's articles into topic partitions of bounded size",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Category folder name, e.g. business",
				},
				"date": dateProperty,
			},
			Required: []string{"category"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Show clustering run history and totals",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one category (default: all)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Number of recent runs to include (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
		},
	}
}

// listPartitionsTool returns the tool definition for list_partitions
func listPartitionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_partitions",
		Description: "List the partition files written for a category",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Category folder name, e.g. business",
				},
				"date": dateProperty,
			},
			Required: []string{"category"},
		},
	}
}
