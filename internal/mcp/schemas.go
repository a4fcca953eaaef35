package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexProjectTool returns the tool definition for index_project
func indexProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_project",
		Description: "Scan a project into searchable chunks and generate embeddings for them",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"patterns": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Glob include patterns relative to the root; empty means everything",
				},
				"excludes": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Glob exclude patterns relative to the root",
				},
				"min_chunk_size": map[string]interface{}{
					"type":        "integer",
					"description": "Chunks smaller than this many bytes are excluded from the index",
					"default":     50,
				},
				"force_regenerate": map[string]interface{}{
					"type":        "boolean",
					"description": "Re-chunk files even when unchanged since the last index",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search indexed code chunks and memory documents with hybrid ranking",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to an indexed project",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Query mode",
					"enum":        []string{"fused", "vector", "text", "temporal"},
					"default":     "fused",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-50)",
					"default":     10,
				},
				"variant": map[string]interface{}{
					"type":        "string",
					"description": "Code-search variant",
					"enum":        []string{"implements", "uses", "pattern", "similar"},
				},
				"file_pattern": map[string]interface{}{
					"type":        "string",
					"description": "Restrict chunk results to file paths matching this glob",
				},
				"memory_class": map[string]interface{}{
					"type":        "string",
					"description": "Restrict memory results to one class",
					"enum":        []string{"core", "working", "insight", "telemetry"},
				},
			},
			Required: []string{"path", "query"},
		},
	}
}

// upsertMemoryTool returns the tool definition for upsert_memory
func upsertMemoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "upsert_memory",
		Description: "Create or replace a named project memory document",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to an indexed project",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Memory document name, e.g. architecture, conventions, decisions, glossary",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Replacement content for the document",
				},
			},
			Required: []string{"path", "name", "content"},
		},
	}
}

// getMemoryTool returns the tool definition for get_memory
func getMemoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_memory",
		Description: "Read a named project memory document",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to an indexed project",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Memory document name",
				},
			},
			Required: []string{"path", "name"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report indexing and search readiness for a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
			},
			Required: []string{"path"},
		},
	}
}
