package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/codemem/codemem/internal/indexer"
	"github.com/codemem/codemem/internal/planner"
	"github.com/codemem/codemem/internal/scanner"
	"github.com/codemem/codemem/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeNotInitialized     = -32001 // Project has never been indexed
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeTooManyCalls       = -32003 // Call-count guard tripped
	ErrorCodeNotFound           = -32004 // Requested record does not exist
)

// handleIndexProject handles the index_project tool invocation
func (s *Server) handleIndexProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	projectID := types.DeriveProjectID(path)
	if !s.guard.Allow("index_project", projectID) {
		return nil, guardError("index_project")
	}

	opts := scanner.Options{
		Include:      getStringSlice(args, "patterns"),
		Exclude:      getStringSlice(args, "excludes"),
		MinChunkSize: getIntDefault(args, "min_chunk_size", scanner.DefaultMinChunkSize),
		Force:        getBoolDefault(args, "force_regenerate", false),
	}

	stats, err := s.indexer.IndexProject(ctx, path, opts)
	if err != nil {
		if errors.Is(err, indexer.ErrIndexingInProgress) {
			return nil, newMCPError(ErrorCodeIndexingInProgress,
				"an indexing run is already in progress for this process", nil)
		}
		return nil, internalError("indexing failed", err)
	}

	response := map[string]interface{}{
		"project_id":      stats.ProjectID,
		"files_processed": stats.FilesProcessed,
		"files_skipped":   stats.FilesSkipped,
		"chunks_created":  stats.ChunksCreated,
		"docs_embedded":   stats.DocsEmbedded,
		"embed_failures":  stats.EmbedFailures,
		"duration_ms":     stats.Duration.Milliseconds(),
	}
	if len(stats.Errors) > 0 {
		response["error_count"] = len(stats.Errors)
		if len(stats.Errors) > 5 {
			response["errors"] = stats.Errors[:5]
		} else {
			response["errors"] = stats.Errors
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	projectID, mcpErr := s.resolveProject(ctx, args)
	if mcpErr != nil {
		return nil, mcpErr
	}
	if !s.guard.Allow("search", projectID) {
		return nil, guardError("search")
	}

	query, _ := args["query"].(string)
	if query == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	req := planner.Request{
		ProjectID:   projectID,
		Query:       query,
		Mode:        planner.Mode(getStringDefault(args, "mode", string(planner.ModeFused))),
		Limit:       getIntDefault(args, "limit", planner.DefaultLimit),
		Variant:     planner.Variant(getStringDefault(args, "variant", "")),
		PathGlob:    getStringDefault(args, "file_pattern", ""),
		MemoryClass: types.MemoryClass(getStringDefault(args, "memory_class", "")),
	}

	resp, err := s.planner.Search(ctx, req)
	if err != nil {
		return nil, internalError("search failed", err)
	}

	rendered := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		entry := map[string]interface{}{
			"ref":         r.Ref.String(),
			"rank":        r.Rank,
			"fused_score": r.FusedScore,
			"content":     r.Content,
			"freshness":   r.Freshness.Format(time.RFC3339),
		}
		if r.SemanticScore > 0 {
			entry["semantic_score"] = r.SemanticScore
		}
		if r.Ref.Kind == types.DocChunk {
			entry["file_path"] = r.FilePath
			entry["lines"] = fmt.Sprintf("%d-%d", r.StartLine, r.EndLine)
			entry["kind"] = string(r.ChunkKind)
			if r.Name != "" {
				entry["name"] = r.Name
			}
		} else {
			entry["memory_class"] = string(r.MemoryClass)
			if r.MemoryName != "" {
				entry["memory_name"] = r.MemoryName
			}
		}
		rendered = append(rendered, entry)
	}

	response := map[string]interface{}{
		"query_id": resp.QueryID,
		"results":  rendered,
		"degraded": resp.Degraded,
		"took_ms":  resp.Took.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleUpsertMemory handles the upsert_memory tool invocation
func (s *Server) handleUpsertMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	projectID, mcpErr := s.resolveProject(ctx, args)
	if mcpErr != nil {
		return nil, mcpErr
	}
	if !s.guard.Allow("upsert_memory", projectID) {
		return nil, guardError("upsert_memory")
	}

	name, _ := args["name"].(string)
	content, _ := args["content"].(string)
	if name == "" || content == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name and content parameters are required", nil)
	}

	version, err := s.memories.Upsert(ctx, projectID, name, content)
	if err != nil {
		return nil, internalError("memory update failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"name":    name,
		"version": version,
	})), nil
}

// handleGetMemory handles the get_memory tool invocation
func (s *Server) handleGetMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	projectID, mcpErr := s.resolveProject(ctx, args)
	if mcpErr != nil {
		return nil, mcpErr
	}
	if !s.guard.Allow("get_memory", projectID) {
		return nil, guardError("get_memory")
	}

	name, _ := args["name"].(string)
	if name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", nil)
	}

	doc, err := s.memories.Get(ctx, projectID, name)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, newMCPError(ErrorCodeNotFound,
				fmt.Sprintf("memory %q does not exist. %s", name, types.Remediation(err)), nil)
		}
		return nil, internalError("memory read failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"name":         doc.Name,
		"content":      doc.Content,
		"version":      doc.Version,
		"access_count": doc.AccessCount,
		"freshness":    doc.Freshness.Format(time.RFC3339),
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	projectID := types.DeriveProjectID(path)

	status, serr := s.store.GetStatus(ctx, projectID)
	if serr != nil {
		if errors.Is(serr, types.ErrNotFound) {
			return mcp.NewToolResultText(formatJSON(map[string]interface{}{
				"indexed": false,
				"path":    path,
				"message": types.Remediation(types.ErrConfigurationMissing),
			})), nil
		}
		return nil, internalError("status read failed", serr)
	}

	response := map[string]interface{}{
		"indexed": true,
		"project": map[string]interface{}{
			"id":           status.Project.ID,
			"path":         status.Project.RootPath,
			"display_name": status.Project.DisplayName,
		},
		"statistics": map[string]interface{}{
			"files":           status.Files,
			"chunks":          status.Chunks,
			"embedded_chunks": status.EmbeddedChunks,
			"memories":        status.Memories,
			"pending_vectors": status.PendingVectors,
		},
		"health": map[string]interface{}{
			"indexes_ready":    status.IndexesReady,
			"fusion_available": status.FusionAvailable,
		},
	}
	if !status.LastIndexedAt.IsZero() {
		response["last_indexed_at"] = status.LastIndexedAt.Format(time.RFC3339)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// resolveProject validates the path argument and requires the project to be
// initialized. The project id is re-derived from the path on every call.
func (s *Server) resolveProject(ctx context.Context, args map[string]interface{}) (string, error) {
	path, err := requirePath(args)
	if err != nil {
		return "", err
	}
	projectID := types.DeriveProjectID(path)
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return "", newMCPError(ErrorCodeNotInitialized,
				fmt.Sprintf("%v. %s", types.ErrConfigurationMissing,
					types.Remediation(types.ErrConfigurationMissing)), nil)
		}
		return "", internalError("failed to resolve project", err)
	}
	return projectID, nil
}

func requirePath(args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return path, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func internalError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	if remedy := types.Remediation(err); remedy != "" {
		data["remediation"] = remedy
	}
	return newMCPError(ErrorCodeInternalError, message, data)
}

func guardError(operation string) error {
	return newMCPError(ErrorCodeTooManyCalls,
		fmt.Sprintf("too many repeated %s calls for this project; wait a minute before retrying", operation), nil)
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

// validatePath checks if a path exists and is an accessible directory
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return errors.New("path must be absolute")
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.New("path does not exist")
	}
	if err != nil {
		return errors.New("path is not readable")
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
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

// getStringSlice extracts a string array parameter
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
