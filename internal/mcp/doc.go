// Package mcp implements the Model Context Protocol (MCP) server for
// newscluster.
//
// The server exposes three tools:
//   - cluster_category: cluster the articles of one category into partition files
//   - get_status: recent runs and totals from the catalog
//   - list_partitions: the partition files of a category
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr so they never interleave with protocol messages.
//
// # Tool: cluster_category
//
//	Request:
//	{
//	  "name": "cluster_category",
//	  "arguments": {"category": "business", "date": "2024-03-01"}
//	}
//
//	Response:
//	{
//	  "run_id": "6f1c...",
//	  "category": "business",
//	  "records_persisted": 212,
//	  "leaves": 19,
//	  "failed_batches": 0,
//	  ...
//	}
//
// date is optional and defaults to today when the data directory uses the
// dated layout.
//
// # Tool: get_status
//
// Returns run and partition totals, optionally for a single category, plus
// the most recent runs. Requires the catalog to be enabled.
//
// # Tool: list_partitions
//
// Lists `<n>.json` files in a category's clusters directory in numeric
// order with their record counts. Works without the catalog.
package mcp
