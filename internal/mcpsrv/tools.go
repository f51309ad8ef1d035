package mcpsrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tmcfar/evidence-mcp/internal/engine"
	"github.com/tmcfar/evidence-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeSemanticDisabled = -32001 // No embedding provider configured
	ErrorCodeIndexNotReady    = -32002 // Vector index artifacts are desynced
	ErrorCodeEmptyQuery       = -32003 // Query parameter is empty
)

// handleRetrieve handles the retrieve tool invocation
func (s *Server) handleRetrieve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", 10)
	if topK < 1 || topK > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	filters, err := parseFilters(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid filters", map[string]interface{}{
			"param":  "filters",
			"reason": err.Error(),
		})
	}

	req := engineRequest(query, topK, filters, getStringDefault(args, "topic", ""))

	if getBoolDefault(args, "corrective", false) {
		result, err := s.engine.RetrieveCorrective(ctx, req)
		if err != nil {
			return nil, retrievalError(err)
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	result, err := s.engine.Retrieve(ctx, req)
	if err != nil {
		return nil, retrievalError(err)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleAddChunks handles the add_chunks tool invocation
func (s *Server) handleAddChunks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	rawChunks, ok := args["chunks"].([]interface{})
	if !ok || len(rawChunks) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "chunks parameter is required and cannot be empty", map[string]interface{}{
			"param":  "chunks",
			"reason": "missing or empty",
		})
	}

	chunks, err := parseChunks(rawChunks)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid chunk", map[string]interface{}{
			"param":  "chunks",
			"reason": err.Error(),
		})
	}

	added, err := s.engine.AddChunks(ctx, chunks)
	if err != nil {
		return nil, retrievalError(err)
	}

	response := map[string]interface{}{
		"stored":  len(chunks),
		"indexed": added != nil,
	}
	if added != nil {
		response["added"] = added.Added
		response["skipped"] = added.Skipped
		response["total"] = added.Total
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRebuildIndex handles the rebuild_index tool invocation
func (s *Server) handleRebuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.engine.Rebuild(ctx)
	if err != nil {
		return nil, retrievalError(err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"rebuilt": result.Rebuilt,
		"added":   result.Added,
		"total":   result.Total,
	})), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.engine.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(status)), nil
}

// handleRecentQueries handles the recent_queries tool invocation
func (s *Server) handleRecentQueries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 20
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		limit = getIntDefault(args, "limit", 20)
	}
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	records, err := s.engine.RecentQueries(ctx, limit)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read query log", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":   len(records),
		"queries": records,
	})), nil
}

// Helper functions

func engineRequest(query string, topK int, filters *types.Filters, topic string) engine.Request {
	return engine.Request{
		Query:   query,
		TopK:    topK,
		Filters: filters,
		Topic:   topic,
	}
}

// retrievalError maps engine errors onto MCP error codes. Provider-classified
// failures keep their kind in the error data.
func retrievalError(err error) error {
	switch {
	case errors.Is(err, types.ErrNotEnabled):
		return newMCPError(ErrorCodeSemanticDisabled, "semantic retrieval is not enabled", map[string]interface{}{
			"reason": "no embedding provider configured",
		})
	case errors.Is(err, types.ErrNotReady):
		return newMCPError(ErrorCodeIndexNotReady, "vector index is not ready", map[string]interface{}{
			"reason": "index artifacts are missing or desynced; run rebuild_index",
		})
	}

	data := map[string]interface{}{"error": err.Error()}
	if kind := types.ProviderErrKind(err); kind != types.ProviderOther {
		data["provider_error_kind"] = string(kind)
	}
	return newMCPError(ErrorCodeInternalError, "retrieval failed", data)
}

// parseFilters extracts the optional filters argument.
func parseFilters(args map[string]interface{}) (*types.Filters, error) {
	raw, ok := args["filters"].(map[string]interface{})
	if !ok {
		return nil, nil
	}

	filters := &types.Filters{}

	if ids, ok := raw["document_ids"].([]interface{}); ok {
		for _, v := range ids {
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("document_ids must contain integers, got %T", v)
			}
			filters.DocumentIDs = append(filters.DocumentIDs, int64(f))
		}
	}

	if tags, ok := raw["tags"].([]interface{}); ok {
		for _, v := range tags {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("tags must contain strings, got %T", v)
			}
			filters.Tags = append(filters.Tags, s)
		}
	}

	if filters.Empty() {
		return nil, nil
	}
	return filters, nil
}

// parseChunks converts the raw chunk objects into validated types.Chunk values.
func parseChunks(raw []interface{}) ([]types.Chunk, error) {
	chunks := make([]types.Chunk, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("chunk %d: expected object, got %T", i, item)
		}

		chunk := types.Chunk{
			ChunkID:    int64(getIntDefault(obj, "chunk_id", 0)),
			DocumentID: int64(getIntDefault(obj, "document_id", 0)),
			Title:      getStringDefault(obj, "title", ""),
			ChunkIndex: getIntDefault(obj, "chunk_index", 0),
			Text:       getStringDefault(obj, "text", ""),
		}

		if tags, ok := obj["tags"].([]interface{}); ok {
			for _, v := range tags {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("chunk %d: tags must contain strings", i)
				}
				chunk.Tags = append(chunk.Tags, s)
			}
		}

		if meta, ok := obj["meta"].(map[string]interface{}); ok {
			chunk.Meta = make(map[string]string, len(meta))
			for k, v := range meta {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("chunk %d: meta values must be strings", i)
				}
				chunk.Meta[k] = s
			}
		}

		if err := chunk.Validate(); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
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

// formatJSON renders a response payload as indented JSON
func formatJSON(data interface{}) string {
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
